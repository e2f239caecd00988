package exchange

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/domain"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/logging"
	"github.com/san-kum/octgrav/internal/particles"
)

// slabs splits x into size regions at integer cuts 1, 2, ...
func slabs(size int) *domain.Partition {
	s := make([]domain.Sample, 0, 100*size)
	for i := 0; i < 100*size; i++ {
		s = append(s, domain.Sample{Pos: r3.Vec{X: float64(i)/100 + 0.005}, Weight: 1})
	}
	return domain.Bisect(s, size)
}

func localStore(t *testing.T, rank, n int) *particles.Store {
	rng := rand.New(rand.NewSource(int64(rank)))
	bodies := make([]dynamo.Body, n)
	for i := range bodies {
		bodies[i] = dynamo.Body{
			ID:   int64(rank)<<40 | int64(i),
			Mass: rng.Float64(),
			Pos:  r3.Vec{X: 4 * rng.Float64(), Y: rng.Float64(), Z: rng.Float64()},
		}
	}
	s, err := particles.NewStore(nil, n)
	if err != nil {
		t.Error(err)
		return nil
	}
	if err := s.Load(bodies, 0.01, false); err != nil {
		t.Error(err)
	}
	return s
}

type outcome struct {
	res Result
	err error
	ids []int64
}

func runExchange(t *testing.T, size, n, buffer int, policy RetryPolicy, acctLimit int64) []outcome {
	t.Helper()
	w, err := comm.NewWorld(size)
	if err != nil {
		t.Fatal(err)
	}
	part := slabs(size)
	out := make([]outcome, size)
	var mu sync.Mutex
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = w.Run(ctx, func(ctx context.Context, c comm.Communicator) error {
		s := localStore(t, c.Rank(), n)
		var acct *compute.Accountant
		if acctLimit > 0 {
			acct = compute.NewAccountant(acctLimit)
		}
		ex, err := New(c, s, acct, buffer, policy, logging.ForRank(logging.Discard(), c.Rank()))
		if err != nil {
			return err
		}
		ex.SetPartition(part)
		res, err := ex.Run(ctx)

		var ids []int64
		for i := 0; i < s.Len(); i++ {
			if err == nil && part.Owner(s.PPos[i]) != c.Rank() {
				t.Errorf("rank %d holds particle %d owned by %d", c.Rank(), s.ID[i], part.Owner(s.PPos[i]))
			}
			ids = append(ids, s.ID[i])
		}
		mu.Lock()
		out[c.Rank()] = outcome{res: res, err: err, ids: ids}
		mu.Unlock()
		return err
	})
	return out
}

func TestRunPlacesEveryParticle(t *testing.T) {
	out := runExchange(t, 4, 200, 1000, DefaultRetryPolicy(), 0)
	seen := make(map[int64]int)
	for r, o := range out {
		if o.err != nil {
			t.Fatalf("rank %d: %v", r, o.err)
		}
		if o.res.Status != Done {
			t.Errorf("rank %d status %v", r, o.res.Status)
		}
		for _, id := range o.ids {
			seen[id]++
		}
	}
	if len(seen) != 800 {
		t.Errorf("got %d distinct particles, want 800", len(seen))
	}
	for id, k := range seen {
		if k != 1 {
			t.Errorf("particle %d held %d times", id, k)
		}
	}
}

func TestSmallBufferNeedsSeveralPasses(t *testing.T) {
	out := runExchange(t, 3, 300, 4, RetryPolicy{MaxAttempts: 64, MaxStalled: 2}, 0)
	for r, o := range out {
		if o.err != nil {
			t.Fatalf("rank %d: %v", r, o.err)
		}
		if o.res.Passes < 2 || !o.res.Overflow {
			t.Errorf("rank %d: passes=%d overflow=%v", r, o.res.Passes, o.res.Overflow)
		}
	}
	// every rank sees the same global result
	for r := 1; r < len(out); r++ {
		if out[r].res != out[0].res {
			t.Errorf("rank %d result %+v differs from %+v", r, out[r].res, out[0].res)
		}
	}
}

func TestExhaustionIsFatal(t *testing.T) {
	// the accountant pins the receive buffer at one record
	out := runExchange(t, 2, 100, 1, RetryPolicy{MaxAttempts: 3, MaxStalled: 3}, particles.RecordBytes)
	for r, o := range out {
		if !errors.Is(o.err, dynamo.ErrExchangeExhausted) {
			t.Errorf("rank %d: expected ErrExchangeExhausted, got %v", r, o.err)
		}
	}
}

func TestSingleRankIsNoop(t *testing.T) {
	w, _ := comm.NewWorld(1)
	err := w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		s := localStore(t, 0, 50)
		before := append([]int64(nil), s.ID...)
		ex, err := New(c, s, nil, 8, DefaultRetryPolicy(), logging.ForRank(logging.Discard(), 0))
		if err != nil {
			return err
		}
		res, err := ex.Run(ctx)
		if err != nil {
			return err
		}
		if res.Status != Done || res.Passes != 0 {
			t.Errorf("single rank ran %d passes", res.Passes)
		}
		for i, id := range before {
			if s.ID[i] != id {
				t.Errorf("order changed at %d", i)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	if err := (RetryPolicy{}).Validate(); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds, got %v", err)
	}
	if err := DefaultRetryPolicy().Validate(); err != nil {
		t.Error(err)
	}
}

func TestCheckDetectsLoss(t *testing.T) {
	w, _ := comm.NewWorld(2)
	err := w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		s := localStore(t, c.Rank(), 10)
		want, err := GlobalTotals(ctx, c, s)
		if err != nil {
			return err
		}
		if c.Rank() == 1 {
			s.Remove([]int{0})
		}
		return Check(ctx, c, s, want)
	})
	if !errors.Is(err, dynamo.ErrConservation) {
		t.Errorf("expected ErrConservation, got %v", err)
	}
}
