package comm

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// AllToAllv exchanges typed slices. send[r] goes to rank r.
func AllToAllv[T any](ctx context.Context, c Communicator, send [][]T) ([][]T, error) {
	parts := make([]any, len(send))
	for i, s := range send {
		parts[i] = s
	}
	recv, err := c.AllToAll(ctx, parts)
	if err != nil {
		return nil, err
	}
	out := make([][]T, len(recv))
	for i, v := range recv {
		if v == nil {
			continue
		}
		s, ok := v.([]T)
		if !ok {
			return nil, fmt.Errorf("%w: rank %d sent %T", dynamo.ErrInvalidState, i, v)
		}
		out[i] = s
	}
	return out, nil
}

// AllGather returns every rank's v, indexed by rank.
func AllGather[T any](ctx context.Context, c Communicator, v T) ([]T, error) {
	parts := make([]any, c.Size())
	for i := range parts {
		parts[i] = v
	}
	recv, err := c.AllToAll(ctx, parts)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(recv))
	for i, x := range recv {
		t, ok := x.(T)
		if !ok {
			return nil, fmt.Errorf("%w: rank %d sent %T", dynamo.ErrInvalidState, i, x)
		}
		out[i] = t
	}
	return out, nil
}

// AllReduceSum sums v over ranks in rank order, so every rank gets the
// bit-identical result.
func AllReduceSum(ctx context.Context, c Communicator, v float64) (float64, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	return floats.SumCompensated(all), nil
}

func AllReduceSumInt(ctx context.Context, c Communicator, v int) (int, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	s := 0
	for _, x := range all {
		s += x
	}
	return s, nil
}

func AllReduceMin(ctx context.Context, c Communicator, v float64) (float64, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	m := math.Inf(1)
	for _, x := range all {
		m = math.Min(m, x)
	}
	return m, nil
}

func AllReduceMax(ctx context.Context, c Communicator, v float64) (float64, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	return floats.Max(all), nil
}

// AllReduceSumVec sums a fixed-length vector element-wise.
func AllReduceSumVec(ctx context.Context, c Communicator, v []float64) ([]float64, error) {
	all, err := AllGather(ctx, c, v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	col := make([]float64, len(all))
	for k := range out {
		for r, x := range all {
			if len(x) != len(v) {
				return nil, fmt.Errorf("%w: rank %d reduced %d values, want %d", dynamo.ErrInvalidState, r, len(x), len(v))
			}
			col[r] = x[k]
		}
		out[k] = floats.SumCompensated(col)
	}
	return out, nil
}

// Bcast returns root's v on every rank.
func Bcast[T any](ctx context.Context, c Communicator, root int, v T) (T, error) {
	parts := make([]any, c.Size())
	if c.Rank() == root {
		for i := range parts {
			parts[i] = v
		}
	}
	var zero T
	recv, err := c.AllToAll(ctx, parts)
	if err != nil {
		return zero, err
	}
	t, ok := recv[root].(T)
	if !ok {
		return zero, fmt.Errorf("%w: broadcast from %d carried %T", dynamo.ErrInvalidState, root, recv[root])
	}
	return t, nil
}

// Gather collects every rank's v on root. Other ranks get nil.
func Gather[T any](ctx context.Context, c Communicator, root int, v T) ([]T, error) {
	parts := make([]any, c.Size())
	parts[root] = v
	recv, err := c.AllToAll(ctx, parts)
	if err != nil {
		return nil, err
	}
	if c.Rank() != root {
		return nil, nil
	}
	out := make([]T, len(recv))
	for i, x := range recv {
		t, ok := x.(T)
		if !ok {
			return nil, fmt.Errorf("%w: rank %d sent %T", dynamo.ErrInvalidState, i, x)
		}
		out[i] = t
	}
	return out, nil
}

// Scatter hands parts[r] from root to rank r. parts is ignored off root.
func Scatter[T any](ctx context.Context, c Communicator, root int, parts []T) (T, error) {
	var zero T
	send := make([]any, c.Size())
	if c.Rank() == root {
		if len(parts) != c.Size() {
			return zero, fmt.Errorf("%w: scatter of %d parts over %d ranks", dynamo.ErrInvalidInput, len(parts), c.Size())
		}
		for i, p := range parts {
			send[i] = p
		}
	}
	recv, err := c.AllToAll(ctx, send)
	if err != nil {
		return zero, err
	}
	t, ok := recv[root].(T)
	if !ok {
		return zero, fmt.Errorf("%w: scatter from %d carried %T", dynamo.ErrInvalidState, root, recv[root])
	}
	return t, nil
}

func Barrier(ctx context.Context, c Communicator) error {
	_, err := c.AllToAll(ctx, make([]any, c.Size()))
	return err
}
