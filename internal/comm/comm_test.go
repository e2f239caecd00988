package comm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/octgrav/internal/dynamo"
)

func run(t *testing.T, size int, fn func(ctx context.Context, c Communicator) error) {
	t.Helper()
	w, err := NewWorld(size)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx, fn))
}

func TestNewWorldRejectsEmpty(t *testing.T) {
	_, err := NewWorld(0)
	assert.True(t, errors.Is(err, dynamo.ErrInvalidInput))
}

func TestAllToAllv(t *testing.T) {
	for _, size := range []int{1, 2, 5} {
		var mu sync.Mutex
		got := make(map[int][][]int)
		run(t, size, func(ctx context.Context, c Communicator) error {
			send := make([][]int, c.Size())
			for dst := range send {
				send[dst] = []int{c.Rank(), dst}
			}
			recv, err := AllToAllv(ctx, c, send)
			if err != nil {
				return err
			}
			mu.Lock()
			got[c.Rank()] = recv
			mu.Unlock()
			return nil
		})
		for r := 0; r < size; r++ {
			for src := 0; src < size; src++ {
				assert.Equal(t, []int{src, r}, got[r][src])
			}
		}
	}
}

func TestBackToBackCollectives(t *testing.T) {
	const size, rounds = 4, 50
	run(t, size, func(ctx context.Context, c Communicator) error {
		for i := 0; i < rounds; i++ {
			s, err := AllReduceSumInt(ctx, c, c.Rank()+i)
			if err != nil {
				return err
			}
			if want := size*(size-1)/2 + size*i; s != want {
				return errors.New("wrong sum")
			}
		}
		return nil
	})
}

func TestReductions(t *testing.T) {
	run(t, 3, func(ctx context.Context, c Communicator) error {
		v := float64(c.Rank() + 1)
		sum, err := AllReduceSum(ctx, c, v)
		if err != nil {
			return err
		}
		lo, err := AllReduceMin(ctx, c, v)
		if err != nil {
			return err
		}
		hi, err := AllReduceMax(ctx, c, v)
		if err != nil {
			return err
		}
		vec, err := AllReduceSumVec(ctx, c, []float64{v, 2 * v})
		if err != nil {
			return err
		}
		assert.Equal(t, 6.0, sum)
		assert.Equal(t, 1.0, lo)
		assert.Equal(t, 3.0, hi)
		assert.Equal(t, []float64{6, 12}, vec)
		return nil
	})
}

func TestRootedCollectives(t *testing.T) {
	run(t, 4, func(ctx context.Context, c Communicator) error {
		b, err := Bcast(ctx, c, 2, c.Rank()*10)
		if err != nil {
			return err
		}
		assert.Equal(t, 20, b)

		g, err := Gather(ctx, c, 0, c.Rank())
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			assert.Equal(t, []int{0, 1, 2, 3}, g)
		} else {
			assert.Nil(t, g)
		}

		var parts []string
		if c.Rank() == 1 {
			parts = []string{"a", "b", "c", "d"}
		}
		s, err := Scatter(ctx, c, 1, parts)
		if err != nil {
			return err
		}
		assert.Equal(t, string(rune('a'+c.Rank())), s)
		return Barrier(ctx, c)
	})
}

func TestRunCancelsPeersOnError(t *testing.T) {
	w, err := NewWorld(3)
	require.NoError(t, err)
	boom := errors.New("boom")

	err = w.Run(context.Background(), func(ctx context.Context, c Communicator) error {
		if c.Rank() == 1 {
			return boom
		}
		return Barrier(ctx, c)
	})
	assert.True(t, errors.Is(err, boom))
}
