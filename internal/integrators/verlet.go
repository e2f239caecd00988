package integrators

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/particles"
)

// Verlet is velocity Verlet written as a predictor-corrector:
//
//	predict  PPos = Pos + Vel τ + Acc0 τ²/2    PVel = Vel + Acc0 τ
//	correct  Vel  = PVel + (Acc1 - Acc0) dt/2  Pos  = PPos  Acc0 = Acc1
//
// τ is the time since the particle's last correction, so particles on
// longer block steps are extrapolated to every intermediate force time.
type Verlet struct {
	be    compute.Backend
	steps Timesteps
}

func NewVerlet(be compute.Backend, steps Timesteps) (*Verlet, error) {
	if err := steps.Validate(); err != nil {
		return nil, err
	}
	return &Verlet{be: be, steps: steps}, nil
}

func (v *Verlet) Timesteps() Timesteps { return v.steps }

// Prediction is the token a Predict hands to the matching Correct.
type Prediction struct {
	Time   float64
	Active []int
}

// Start initialises the time state after the first force evaluation: Acc0
// takes the freshly computed Acc1 and every particle gets its first step.
func (v *Verlet) Start(s *particles.Store, t float64) {
	v.be.Launch(s.Len(), func(i, _ int) {
		s.Acc0[i] = s.Acc1[i]
		s.Time[i] = t
		s.Dt[i] = v.steps.First(r3.Norm(s.Acc0[i]), s.Eps2[i])
	})
}

// NextTime is the earliest pending particle time on this rank, +Inf when
// the rank is empty.
func (v *Verlet) NextTime(s *particles.Store) float64 {
	next := math.Inf(1)
	for i := 0; i < s.Len(); i++ {
		next = math.Min(next, s.Time[i]+s.Dt[i])
	}
	return next
}

// Predict extrapolates every particle to t and returns the particles whose
// step ends at t.
func (v *Verlet) Predict(s *particles.Store, t float64) (Prediction, error) {
	p := Prediction{Time: t}
	tol := timeTol(t)
	for i := 0; i < s.Len(); i++ {
		if s.Time[i] > t+tol {
			return p, fmt.Errorf("%w: particle %d at t=%g ahead of force time %g", dynamo.ErrInvalidState, s.ID[i], s.Time[i], t)
		}
		if err := s.MarkPredicted(i); err != nil {
			return p, err
		}
		if s.Time[i]+s.Dt[i] <= t+tol {
			p.Active = append(p.Active, i)
		}
	}
	v.be.Launch(s.Len(), func(i, _ int) {
		tau := t - s.Time[i]
		s.PPos[i] = r3.Add(s.Pos[i], r3.Add(r3.Scale(tau, s.Vel[i]), r3.Scale(0.5*tau*tau, s.Acc0[i])))
		s.PVel[i] = r3.Add(s.Vel[i], r3.Scale(tau, s.Acc0[i]))
	})
	return p, nil
}

// Refresh recomputes the active set of p after the store was reordered
// or particles migrated. Every particle must already be predicted to p.Time.
func (v *Verlet) Refresh(s *particles.Store, p *Prediction) {
	tol := timeTol(p.Time)
	p.Active = p.Active[:0]
	for i := 0; i < s.Len(); i++ {
		if s.Time[i]+s.Dt[i] <= p.Time+tol {
			p.Active = append(p.Active, i)
		}
	}
}

// Correct applies the corrector to the active particles of p, whose Acc1
// must hold the force at p.Time, and schedules their next step.
func (v *Verlet) Correct(s *particles.Store, p Prediction) error {
	for _, i := range p.Active {
		if err := s.MarkCorrected(i); err != nil {
			return err
		}
	}
	v.be.Launch(len(p.Active), func(k, _ int) {
		i := p.Active[k]
		dt := p.Time - s.Time[i]
		s.Vel[i] = r3.Add(s.PVel[i], r3.Scale(0.5*dt, r3.Sub(s.Acc1[i], s.Acc0[i])))
		s.Pos[i] = s.PPos[i]
		s.PVel[i] = s.Vel[i]
		s.Acc0[i] = s.Acc1[i]
		s.Time[i] = p.Time
		s.Dt[i] = v.steps.Next(s.Dt[i], p.Time, r3.Norm(s.Acc0[i]), s.Eps2[i])
	})
	return nil
}

func timeTol(t float64) float64 {
	return 1e-12 * math.Max(1, math.Abs(t))
}
