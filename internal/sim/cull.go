package sim

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/exchange"
	"github.com/san-kum/octgrav/internal/metrics"
)

// cull removes particles beyond the kill distance and flags those beyond
// the removal distance, both measured from the global centre of mass. The
// expected global totals shrink by exactly what was removed.
func (r *rank) cull(ctx context.Context) error {
	kill, removal := r.cfg.Cull.KillDistance, r.cfg.Cull.RemovalDistance
	if kill <= 0 && removal <= 0 {
		return nil
	}
	s := r.store

	var sum r3.Vec
	for i := 0; i < s.Len(); i++ {
		sum = r3.Add(sum, r3.Scale(s.Mass[i], s.PPos[i]))
	}
	g, err := comm.AllReduceSumVec(ctx, r.c, []float64{sum.X, sum.Y, sum.Z, s.TotalMass()})
	if err != nil {
		return fmt.Errorf("reduce centre of mass: %w", err)
	}
	var com r3.Vec
	if g[3] > 0 {
		com = r3.Scale(1/g[3], r3.Vec{X: g[0], Y: g[1], Z: g[2]})
	}

	var doomed []int
	var lost exchange.Totals
	for i := 0; i < s.Len(); i++ {
		d2 := r3.Norm2(r3.Sub(s.PPos[i], com))
		switch {
		case kill > 0 && d2 > kill*kill:
			doomed = append(doomed, i)
			lost.Count++
			lost.Mass += s.Mass[i]
		case removal > 0 && d2 > removal*removal && !s.Flags[i].Has(dynamo.FlagEscaped):
			s.Flags[i] |= dynamo.FlagEscaped
			r.log.WithFields(logrus.Fields{"id": s.ID[i], "step": r.step}).Debug("particle escaped")
		}
	}
	if kill <= 0 {
		return nil
	}

	s.Remove(doomed)
	g, err = comm.AllReduceSumVec(ctx, r.c, []float64{float64(lost.Count), lost.Mass})
	if err != nil {
		return fmt.Errorf("reduce removed: %w", err)
	}
	removed := exchange.Totals{Count: int(g[0]), Mass: g[1]}
	if removed.Count == 0 {
		return nil
	}

	metrics.ParticlesKilled.WithLabelValues(r.label).Add(float64(lost.Count))
	r.expected = r.expected.Sub(removed)
	r.removed += removed.Count
	r.dirty = true
	if r.root() {
		r.log.WithFields(logrus.Fields{
			"step":      r.step,
			"removed":   removed.Count,
			"mass":      removed.Mass,
			"remaining": r.expected.Count,
		}).Info("removed particles beyond kill distance")
	}
	return exchange.Check(ctx, r.c, r.store, r.expected)
}
