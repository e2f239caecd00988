package exchange

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/domain"
	"github.com/san-kum/octgrav/internal/particles"
)

type Status int

const (
	Done Status = iota
	Retry
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result summarises one pass or a whole run, with global counts.
type Result struct {
	Status   Status
	Moved    int
	Pending  int
	Passes   int
	Overflow bool
}

const bufName = "exchange.recv"

// Exchanger moves particles of one rank's store. Every rank must drive its
// exchanger through the same sequence of calls.
type Exchanger struct {
	c      comm.Communicator
	store  *particles.Store
	acct   *compute.Accountant
	policy RetryPolicy
	log    *logrus.Entry

	part   *domain.Partition
	bufCap int
}

func New(c comm.Communicator, store *particles.Store, acct *compute.Accountant, buffer int, policy RetryPolicy, log *logrus.Entry) (*Exchanger, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if buffer < 1 {
		buffer = 1
	}
	e := &Exchanger{c: c, store: store, acct: acct, policy: policy, log: log, part: domain.Single()}
	if err := e.setBuffer(buffer); err != nil {
		return nil, err
	}
	return e, nil
}

// SetPartition installs the regions used to classify particles.
func (e *Exchanger) SetPartition(p *domain.Partition) { e.part = p }

func (e *Exchanger) Partition() *domain.Partition { return e.part }

// Buffer is the current receive capacity in records.
func (e *Exchanger) Buffer() int { return e.bufCap }

func (e *Exchanger) setBuffer(n int) error {
	if e.acct != nil {
		if err := e.acct.Alloc(bufName, int64(n)*particles.RecordBytes); err != nil {
			return err
		}
	}
	e.bufCap = n
	return nil
}

// Misplaced counts local particles that belong to another rank.
func (e *Exchanger) Misplaced() int {
	n := 0
	for i := 0; i < e.store.Len(); i++ {
		if e.part.Owner(e.store.PPos[i]) != e.c.Rank() {
			n++
		}
	}
	return n
}

// Pass performs one flow-controlled all-to-all.
func (e *Exchanger) Pass(ctx context.Context) (Result, error) {
	size, me := e.c.Size(), e.c.Rank()
	s := e.store

	byDest := make([][]int, size)
	for i := 0; i < s.Len(); i++ {
		if r := e.part.Owner(s.PPos[i]); r != me {
			byDest[r] = append(byDest[r], i)
		}
	}

	offers := make([][]int, size)
	for r := range offers {
		offers[r] = []int{len(byDest[r])}
	}
	offered, err := comm.AllToAllv(ctx, e.c, offers)
	if err != nil {
		return Result{}, fmt.Errorf("offer counts: %w", err)
	}

	// grant in source-rank order until the receive buffer is full
	grants := make([][]int, size)
	free, want := e.bufCap, 0
	for src := range offered {
		n := 0
		if src != me {
			n = offered[src][0]
		}
		want += n
		g := min(n, free)
		free -= g
		grants[src] = []int{g}
	}
	granted, err := comm.AllToAllv(ctx, e.c, grants)
	if err != nil {
		return Result{}, fmt.Errorf("grant counts: %w", err)
	}

	send := make([][]particles.Record, size)
	var ship []int
	pending := 0
	for r, idx := range byDest {
		if r == me {
			continue
		}
		g := granted[r][0]
		ship = append(ship, idx[:g]...)
		pending += len(idx) - g
	}
	recs := s.Extract(ship)
	// Extract returns records in index order; route them back by owner
	for _, rec := range recs {
		r := e.part.Owner(rec.PPos)
		send[r] = append(send[r], rec)
	}
	recv, err := comm.AllToAllv(ctx, e.c, send)
	if err != nil {
		return Result{}, fmt.Errorf("migrate records: %w", err)
	}
	for src, in := range recv {
		if src == me || len(in) == 0 {
			continue
		}
		if err := s.Append(in...); err != nil {
			return Result{}, err
		}
	}

	overflow, grew := want > e.bufCap, false
	if overflow {
		if e.acct != nil && !e.acct.Fits(bufName, int64(2*e.bufCap)*particles.RecordBytes) {
			e.log.WithFields(logrus.Fields{"buffer": e.bufCap, "limit": e.acct.Limit()}).
				Warn("receive buffer at the device memory limit")
		} else if err := e.setBuffer(2 * e.bufCap); err != nil {
			e.log.WithError(err).Warn("receive buffer cannot grow")
		} else {
			grew = true
			e.log.WithField("buffer", e.bufCap).Info("receive buffer overflow, doubled")
		}
	}

	flag := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	tot, err := comm.AllReduceSumVec(ctx, e.c, []float64{float64(len(ship)), float64(pending), flag(overflow), flag(grew)})
	if err != nil {
		return Result{}, fmt.Errorf("reduce pass result: %w", err)
	}
	res := Result{Moved: int(tot[0]), Pending: int(tot[1]), Passes: 1, Overflow: tot[2] > 0}
	switch {
	case res.Pending == 0:
		res.Status = Done
	case res.Moved == 0 && tot[3] == 0:
		res.Status = Exhausted
	default:
		res.Status = Retry
	}
	return res, nil
}
