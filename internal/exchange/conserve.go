package exchange

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/particles"
)

// Totals are the conserved global quantities.
type Totals struct {
	Count int
	Mass  float64
}

// Sub removes a culled amount.
func (t Totals) Sub(o Totals) Totals {
	return Totals{Count: t.Count - o.Count, Mass: t.Mass - o.Mass}
}

func GlobalTotals(ctx context.Context, c comm.Communicator, s *particles.Store) (Totals, error) {
	count, err := comm.AllReduceSumInt(ctx, c, s.Len())
	if err != nil {
		return Totals{}, fmt.Errorf("reduce count: %w", err)
	}
	mass, err := comm.AllReduceSum(ctx, c, s.TotalMass())
	if err != nil {
		return Totals{}, fmt.Errorf("reduce mass: %w", err)
	}
	return Totals{Count: count, Mass: mass}, nil
}

// Check compares the current global totals with want. Count must match
// exactly; mass to summation-order rounding.
func Check(ctx context.Context, c comm.Communicator, s *particles.Store, want Totals) error {
	got, err := GlobalTotals(ctx, c, s)
	if err != nil {
		return err
	}
	if got.Count != want.Count {
		return fmt.Errorf("%w: particle count %d, want %d", dynamo.ErrConservation, got.Count, want.Count)
	}
	if math.Abs(got.Mass-want.Mass) > 1e-12*math.Max(1, math.Abs(want.Mass)) {
		return fmt.Errorf("%w: total mass %.17g, want %.17g", dynamo.ErrConservation, got.Mass, want.Mass)
	}
	return nil
}
