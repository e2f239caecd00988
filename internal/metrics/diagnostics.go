package metrics

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/particles"
)

// Diagnostics are the global conserved and monitored quantities after one
// completed step. Kinetic energy and momentum use the velocities at Time.
// Potential energy is only exact when Synchronized: otherwise some particles
// still carry the potential of their last correction.
type Diagnostics struct {
	Step         int
	Time         float64
	Synchronized bool
	Count        int
	Mass         float64
	Kinetic      float64
	Potential    float64
	Momentum     r3.Vec
	Escaped      int
	Removed      int
	Imbalance    float64
	Interactions int64
}

func (d Diagnostics) Total() float64 { return d.Kinetic + d.Potential }

// Virial is 2K/|W|, 1 in equilibrium.
func (d Diagnostics) Virial() float64 {
	if d.Potential == 0 {
		return 0
	}
	return 2 * d.Kinetic / -d.Potential
}

// Reduce sums the local contributions of every rank at global time t.
func Reduce(ctx context.Context, c comm.Communicator, s *particles.Store, t float64) (Diagnostics, error) {
	n := s.Len()
	kin := make([]float64, n)
	pot := make([]float64, n)
	escaped := 0
	for i := 0; i < n; i++ {
		kin[i] = 0.5 * s.Mass[i] * r3.Norm2(s.PVel[i])
		pot[i] = 0.5 * s.Mass[i] * s.Pot[i]
		if s.Flags[i].Has(dynamo.FlagEscaped) {
			escaped++
		}
	}
	p := s.Momentum()
	local := []float64{
		float64(n),
		s.TotalMass(),
		floats.SumCompensated(kin),
		floats.SumCompensated(pot),
		p.X, p.Y, p.Z,
		float64(escaped),
		float64(s.Lagging(t)),
	}
	g, err := comm.AllReduceSumVec(ctx, c, local)
	if err != nil {
		return Diagnostics{}, fmt.Errorf("reduce diagnostics: %w", err)
	}
	return Diagnostics{
		Time:         t,
		Synchronized: g[8] == 0,
		Count:        int(g[0]),
		Mass:         g[1],
		Kinetic:      g[2],
		Potential:    g[3],
		Momentum:     r3.Vec{X: g[4], Y: g[5], Z: g[6]},
		Escaped:      int(g[7]),
	}, nil
}
