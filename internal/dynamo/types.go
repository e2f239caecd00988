package dynamo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Class is the population category of a particle in the input dataset.
type Class uint8

const (
	ClassFirst  Class = iota // dark matter equivalent
	ClassSecond              // stars
	ClassThird               // gas
)

func (c Class) String() string {
	switch c {
	case ClassFirst:
		return "first"
	case ClassSecond:
		return "second"
	case ClassThird:
		return "third"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Body is a particle as delivered by ingestion, before it enters a store.
type Body struct {
	ID    int64
	Mass  float64
	Pos   r3.Vec
	Vel   r3.Vec
	Eps   float64
	Class Class
}

func (b Body) IsValid() bool {
	return finite(b.Mass) && b.Mass >= 0 && finiteVec(b.Pos) && finiteVec(b.Vel) && finite(b.Eps) && b.Eps >= 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteVec(v r3.Vec) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

// FiniteVec reports whether every component of v is a finite number.
func FiniteVec(v r3.Vec) bool { return finiteVec(v) }

// Clock tracks global simulation time. Time only moves forward.
type Clock struct {
	Step int
	Time float64
	Dt   float64
}

func NewClock(dt float64) Clock {
	return Clock{Dt: dt}
}

// Advance moves the clock to t and counts one global step.
func (c *Clock) Advance(t float64) error {
	if t < c.Time {
		return fmt.Errorf("%w: time moved backwards (%g -> %g)", ErrInvalidState, c.Time, t)
	}
	c.Time = t
	c.Step++
	return nil
}

// Done reports whether the clock reached end, allowing for rounding in the
// accumulated time.
func (c Clock) Done(end float64) bool {
	return c.Time >= end-1e-9*math.Max(1, math.Abs(end))
}

// Flag marks per-particle conditions that do not remove the particle.
type Flag uint8

const (
	FlagEscaped Flag = 1 << iota
)

func (f Flag) Has(g Flag) bool { return f&g != 0 }
