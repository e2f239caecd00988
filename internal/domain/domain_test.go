package domain

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/comm"
)

func cloud(n int, seed int64) []Sample {
	rng := rand.New(rand.NewSource(seed))
	s := make([]Sample, n)
	for i := range s {
		s[i] = Sample{
			Pos:    r3.Vec{X: rng.NormFloat64(), Y: 3 * rng.NormFloat64(), Z: rng.Float64()},
			Weight: 1,
		}
	}
	return s
}

func TestBisectCoverage(t *testing.T) {
	for _, p := range []int{2, 3, 5, 8} {
		part := Bisect(cloud(2000, 1), p)
		require.Equal(t, p, part.Size())

		probe := cloud(500, 2)
		// cut coordinates are hit exactly on the boundaries
		for _, b := range part.Boxes {
			probe = append(probe, Sample{Pos: r3.Vec{X: clampFinite(b.Low.X), Y: clampFinite(b.Low.Y), Z: clampFinite(b.Low.Z)}})
		}
		for _, s := range probe {
			owners := 0
			for _, b := range part.Boxes {
				if b.Contains(s.Pos) {
					owners++
				}
			}
			assert.Equal(t, 1, owners, "point %v", s.Pos)
			assert.True(t, part.Boxes[part.Owner(s.Pos)].Contains(s.Pos))
		}
	}
}

func clampFinite(x float64) float64 {
	if x < -1e300 || x > 1e300 {
		return 0
	}
	return x
}

func TestBisectBalances(t *testing.T) {
	samples := cloud(4000, 3)
	part := Bisect(samples, 4)
	loads := make([]float64, 4)
	for _, s := range samples {
		loads[part.Owner(s.Pos)]++
	}
	assert.Less(t, Imbalance(loads), 1.05)
}

func TestBisectSplitsWidestAxis(t *testing.T) {
	part := Bisect(cloud(1000, 4), 2)
	assert.Equal(t, 1, part.nodes[0].axis)
}

func TestBisectWeighted(t *testing.T) {
	s := make([]Sample, 100)
	for i := range s {
		s[i] = Sample{Pos: r3.Vec{X: float64(i)}, Weight: 1}
	}
	for i := 90; i < 100; i++ {
		s[i].Weight = 10
	}
	part := Bisect(s, 2)
	// 90 light + 10 heavy = 190 total; half the load sits near the heavy end
	assert.Equal(t, 0, part.Owner(r3.Vec{X: 85}))
	assert.Equal(t, 1, part.Owner(r3.Vec{X: 97}))
}

func TestBisectDeterministic(t *testing.T) {
	a := cloud(1000, 5)
	b := append([]Sample(nil), a...)
	rand.New(rand.NewSource(9)).Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
	assert.True(t, Bisect(a, 6).Equal(Bisect(b, 6)))
}

func TestBisectDegenerate(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
	}{
		{"empty", nil},
		{"single", []Sample{{Pos: r3.Vec{X: 1}, Weight: 1}}},
		{"coincident", []Sample{{Weight: 1}, {Weight: 1}, {Weight: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part := Bisect(tt.samples, 8)
			require.Equal(t, 8, part.Size())
			for _, s := range cloud(100, 6) {
				assert.True(t, part.Boxes[part.Owner(s.Pos)].Contains(s.Pos))
			}
		})
	}
}

func TestHalfOpenBoundary(t *testing.T) {
	s := []Sample{{Pos: r3.Vec{X: 0}, Weight: 1}, {Pos: r3.Vec{X: 2}, Weight: 1}}
	part := Bisect(s, 2)
	assert.Equal(t, 0, part.Owner(r3.Vec{X: 0.999}))
	assert.Equal(t, 1, part.Owner(r3.Vec{X: 1}), "points on the cut go to the upper side")
}

func TestImbalance(t *testing.T) {
	assert.Equal(t, 1.0, Imbalance(nil))
	assert.Equal(t, 1.0, Imbalance([]float64{0, 0}))
	assert.Equal(t, 1.0, Imbalance([]float64{3, 3, 3}))
	assert.InDelta(t, 1.5, Imbalance([]float64{3, 1}), 1e-12)
}

func TestDecomposeAgreesAcrossRanks(t *testing.T) {
	const size = 4
	w, err := comm.NewWorld(size)
	require.NoError(t, err)
	parts := make([]*Partition, size)
	var mu sync.Mutex
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := NewDecomposer(400)
	err = w.Run(ctx, func(ctx context.Context, c comm.Communicator) error {
		s := cloud(300, int64(c.Rank()))
		pos := positions(s)
		p, err := d.Decompose(ctx, c, pos, nil)
		if err != nil {
			return err
		}
		mu.Lock()
		parts[c.Rank()] = p
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	for r := 1; r < size; r++ {
		assert.True(t, parts[0].Equal(parts[r]), "rank %d disagrees", r)
	}
}

func TestDecomposeSingleRank(t *testing.T) {
	w, _ := comm.NewWorld(1)
	err := w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		p, err := NewDecomposer(10).Decompose(ctx, c, nil, nil)
		assert.Equal(t, Unbounded(), p.Boxes[0])
		return err
	})
	assert.NoError(t, err)
}

func TestSampleStride(t *testing.T) {
	pos := make([]r3.Vec, 100)
	s := NewDecomposer(40).Sample(pos, nil, 4)
	assert.Len(t, s, 10)
	total := 0.0
	for _, x := range s {
		total += x.Weight
	}
	assert.Equal(t, 100.0, total)
}
