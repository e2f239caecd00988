package exchange

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// RetryPolicy bounds an exchange. A pass that moves nothing globally counts
// as stalled; MaxStalled consecutive stalls or MaxAttempts passes exhaust it.
type RetryPolicy struct {
	MaxAttempts int
	MaxStalled  int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 16, MaxStalled: 3}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 || p.MaxStalled < 1 {
		return fmt.Errorf("%w: retry policy %+v", dynamo.ErrParameterBounds, p)
	}
	return nil
}

// Run repeats passes until every particle is home, then verifies that the
// global count and mass did not change. A single rank returns immediately.
func (e *Exchanger) Run(ctx context.Context) (Result, error) {
	if e.c.Size() == 1 {
		return Result{Status: Done}, nil
	}
	before, err := GlobalTotals(ctx, e.c, e.store)
	if err != nil {
		return Result{}, err
	}

	total := Result{Status: Retry}
	stalled := 0
	for total.Status == Retry {
		if total.Passes == e.policy.MaxAttempts {
			total.Status = Exhausted
			break
		}
		res, err := e.Pass(ctx)
		if err != nil {
			return total, err
		}
		total.Passes++
		total.Moved += res.Moved
		total.Pending = res.Pending
		total.Overflow = total.Overflow || res.Overflow
		total.Status = res.Status

		if res.Moved == 0 {
			stalled++
		} else {
			stalled = 0
		}
		if total.Status == Retry && stalled >= e.policy.MaxStalled {
			total.Status = Exhausted
		}
		if total.Status != Done {
			e.log.WithFields(logrus.Fields{"pass": total.Passes, "pending": res.Pending, "moved": res.Moved}).
				Warn("exchange incomplete, retrying")
		}
	}
	if total.Status == Exhausted {
		return total, fmt.Errorf("%w: %d particles unplaced after %d passes", dynamo.ErrExchangeExhausted, total.Pending, total.Passes)
	}

	if err := Check(ctx, e.c, e.store, before); err != nil {
		return total, err
	}
	return total, nil
}
