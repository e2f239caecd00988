package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// Timesteps chooses per-particle steps. With Individual unset every particle
// uses Dt. Otherwise steps are Dt/2^k for k <= MaxLevel, the largest one not
// exceeding Eta*sqrt(eps/|a|).
type Timesteps struct {
	Dt         float64
	Individual bool
	Eta        float64
	MaxLevel   int
}

func (ts Timesteps) Validate() error {
	if !(ts.Dt > 0) || math.IsInf(ts.Dt, 0) {
		return fmt.Errorf("%w: dt %g must be positive", dynamo.ErrParameterBounds, ts.Dt)
	}
	if ts.Individual {
		if !(ts.Eta > 0) {
			return fmt.Errorf("%w: eta %g must be positive", dynamo.ErrParameterBounds, ts.Eta)
		}
		if ts.MaxLevel < 0 || ts.MaxLevel > 30 {
			return fmt.Errorf("%w: max level %d outside [0,30]", dynamo.ErrParameterBounds, ts.MaxLevel)
		}
	}
	return nil
}

// Level returns the block level suited to acceleration a and softening eps².
func (ts Timesteps) Level(a, eps2 float64) int {
	if !ts.Individual || a == 0 || eps2 == 0 {
		return 0
	}
	want := ts.Eta * math.Sqrt(math.Sqrt(eps2)/a)
	k := 0
	for k < ts.MaxLevel && ts.Dt/float64(uint64(1)<<k) > want {
		k++
	}
	return k
}

func (ts Timesteps) step(k int) float64 { return ts.Dt / float64(uint64(1)<<k) }

// First is the initial step at t0; every level divides t0 = 0 evenly.
func (ts Timesteps) First(a, eps2 float64) float64 {
	return ts.step(ts.Level(a, eps2))
}

// Next picks the step after a correction at t. A particle may refine freely
// but coarsens one level at a time and only where t is a multiple of the
// coarser step, so steps stay nested in the global block boundaries.
func (ts Timesteps) Next(prev, t, a, eps2 float64) float64 {
	if !ts.Individual {
		return ts.Dt
	}
	want := ts.step(ts.Level(a, eps2))
	if want <= prev {
		return want
	}
	coarser := math.Min(2*prev, ts.Dt)
	if aligned(t, coarser) {
		return coarser
	}
	return prev
}

func aligned(t, step float64) bool {
	r := t / step
	return math.Abs(r-math.Round(r)) < 1e-9
}
