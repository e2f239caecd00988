package metrics

import "math"

// Metric summarises a run from its per-step diagnostics.
type Metric interface {
	Name() string
	Observe(d Diagnostics)
	Value() float64
	Reset()
}

// EnergyDrift is the largest relative change of total energy seen.
type EnergyDrift struct {
	initial  float64
	maxDrift float64
	samples  int
}

func NewEnergyDrift() *EnergyDrift { return &EnergyDrift{} }

func (e *EnergyDrift) Name() string { return "energy_drift" }

func (e *EnergyDrift) Observe(d Diagnostics) {
	energy := d.Total()
	if e.samples == 0 {
		e.initial = energy
	}
	e.samples++
	if e.initial != 0 {
		e.maxDrift = math.Max(e.maxDrift, math.Abs(energy-e.initial)/math.Abs(e.initial))
	}
}

func (e *EnergyDrift) Value() float64 { return e.maxDrift }

func (e *EnergyDrift) Reset() { *e = EnergyDrift{} }

// MomentumDrift is the largest norm of total momentum change, per unit mass.
type MomentumDrift struct {
	initial  [3]float64
	maxDrift float64
	samples  int
}

func NewMomentumDrift() *MomentumDrift { return &MomentumDrift{} }

func (m *MomentumDrift) Name() string { return "momentum_drift" }

func (m *MomentumDrift) Observe(d Diagnostics) {
	p := [3]float64{d.Momentum.X, d.Momentum.Y, d.Momentum.Z}
	if m.samples == 0 {
		m.initial = p
	}
	m.samples++
	if d.Mass == 0 {
		return
	}
	dx, dy, dz := p[0]-m.initial[0], p[1]-m.initial[1], p[2]-m.initial[2]
	m.maxDrift = math.Max(m.maxDrift, math.Sqrt(dx*dx+dy*dy+dz*dz)/d.Mass)
}

func (m *MomentumDrift) Value() float64 { return m.maxDrift }

func (m *MomentumDrift) Reset() { *m = MomentumDrift{} }

// Virial is the mean virial ratio over the run.
type Virial struct {
	sum     float64
	samples int
}

func NewVirial() *Virial { return &Virial{} }

func (v *Virial) Name() string { return "virial_ratio" }

func (v *Virial) Observe(d Diagnostics) {
	v.sum += d.Virial()
	v.samples++
}

func (v *Virial) Value() float64 {
	if v.samples == 0 {
		return 0
	}
	return v.sum / float64(v.samples)
}

func (v *Virial) Reset() { *v = Virial{} }
