package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// Communicator is one rank's view of the world. AllToAll sends send[r] to
// rank r and returns what every rank sent to this one, indexed by source.
// Ownership of sent values passes to the receiver.
type Communicator interface {
	Rank() int
	Size() int
	AllToAll(ctx context.Context, send []any) ([]any, error)
}

type envelope struct {
	from    int
	seq     uint64
	payload any
}

// World is a set of in-process ranks connected by channels.
type World struct {
	comms []*Comm
}

func NewWorld(size int) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: world size %d", dynamo.ErrInvalidInput, size)
	}
	w := &World{comms: make([]*Comm, size)}
	for r := range w.comms {
		// a peer can be at most one collective ahead, so two rounds of
		// messages always fit
		w.comms[r] = &Comm{
			world:   w,
			rank:    r,
			inbox:   make(chan envelope, 2*size),
			pending: make(map[uint64][]envelope),
		}
	}
	return w, nil
}

func (w *World) Size() int { return len(w.comms) }

func (w *World) Comm(rank int) *Comm { return w.comms[rank] }

// Run starts fn on every rank and waits for all of them. The first error
// cancels the context seen by the other ranks.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Communicator) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range w.comms {
		c := c
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Comm is the channel-backed Communicator of one rank.
type Comm struct {
	world   *World
	rank    int
	seq     uint64
	inbox   chan envelope
	pending map[uint64][]envelope
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return len(c.world.comms) }

func (c *Comm) AllToAll(ctx context.Context, send []any) ([]any, error) {
	size := c.Size()
	if len(send) != size {
		return nil, fmt.Errorf("%w: all-to-all with %d parts for %d ranks", dynamo.ErrInvalidInput, len(send), size)
	}
	c.seq++
	seq := c.seq

	recv := make([]any, size)
	got := 0
	for dst, v := range send {
		if dst == c.rank {
			recv[dst] = v
			got++
			continue
		}
		select {
		case c.world.comms[dst].inbox <- envelope{from: c.rank, seq: seq, payload: v}:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, ctx.Err())
		}
	}

	for _, e := range c.pending[seq] {
		recv[e.from] = e.payload
		got++
	}
	delete(c.pending, seq)

	for got < size {
		select {
		case e := <-c.inbox:
			if e.seq != seq {
				c.pending[e.seq] = append(c.pending[e.seq], e)
				continue
			}
			recv[e.from] = e.payload
			got++
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, ctx.Err())
		}
	}
	return recv, nil
}
