package metrics

// Retention is the fraction of the initial particles still bound: neither
// killed nor flagged as escaped.
type Retention struct {
	initial int
	current int
	samples int
}

func NewRetention() *Retention { return &Retention{} }

func (r *Retention) Name() string { return "retention" }

func (r *Retention) Observe(d Diagnostics) {
	if r.samples == 0 {
		r.initial = d.Count + d.Removed
	}
	r.current = d.Count - d.Escaped
	r.samples++
}

func (r *Retention) Value() float64 {
	if r.initial == 0 {
		return 1
	}
	return float64(r.current) / float64(r.initial)
}

func (r *Retention) Reset() { *r = Retention{} }

// Summary evaluates every metric into a name -> value map.
func Summary(ms []Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}

// Standard returns the metrics recorded for every run.
func Standard() []Metric {
	return []Metric{NewEnergyDrift(), NewMomentumDrift(), NewVirial(), NewRetention()}
}
