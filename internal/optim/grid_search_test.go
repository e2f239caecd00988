package optim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/sim"
)

// fakeRun prices a configuration without simulating it: small theta is slow
// but accurate.
func fakeRun(ctx context.Context, name string, cfg *config.Config) (*sim.Result, error) {
	theta := cfg.Gravity.Theta
	return &sim.Result{
		Steps: 10,
		Wall:  time.Duration(float64(time.Second) / theta / float64(cfg.Tree.LeafSize)),
		Metrics: map[string]float64{
			"energy_drift": theta * theta / 10,
		},
	}, nil
}

func TestNewGridSearchRejects(t *testing.T) {
	tests := []struct {
		name   string
		keys   []string
		ranges [][]float64
	}{
		{"no keys", nil, nil},
		{"mismatch", []string{"gravity.theta"}, [][]float64{{1}, {2}}},
		{"empty range", []string{"gravity.theta"}, [][]float64{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGridSearch(tt.keys, tt.ranges)
			assert.ErrorIs(t, err, dynamo.ErrInvalidInput)
		})
	}
}

func TestSearchMinimisesObjective(t *testing.T) {
	g, err := NewGridSearch(
		[]string{"gravity.theta", "tree.leaf_size"},
		[][]float64{{0.3, 0.6, 0.9}, {4, 16}},
	)
	require.NoError(t, err)

	best, trials, err := g.Search(context.Background(), config.DefaultConfig(), fakeRun, Metric("energy_drift"))
	require.NoError(t, err)
	assert.Len(t, trials, 6)
	assert.Equal(t, 0.3, best.Params["gravity.theta"])

	fastest, _, err := g.Search(context.Background(), config.DefaultConfig(), fakeRun, WallPerStep)
	require.NoError(t, err)
	assert.Equal(t, 0.9, fastest.Params["gravity.theta"])
	assert.Equal(t, 16.0, fastest.Params["tree.leaf_size"])
}

func TestSearchBounded(t *testing.T) {
	g, err := NewGridSearch([]string{"gravity.theta"}, [][]float64{{0.3, 0.6, 0.9}})
	require.NoError(t, err)

	// 0.9 drifts 0.081, over the limit; 0.6 is the fastest acceptable.
	best, _, err := g.Search(context.Background(), config.DefaultConfig(), fakeRun,
		Bounded(WallPerStep, "energy_drift", 0.05))
	require.NoError(t, err)
	assert.Equal(t, 0.6, best.Params["gravity.theta"])
}

func TestSearchSkipsOutOfBounds(t *testing.T) {
	g, err := NewGridSearch([]string{"gravity.theta"}, [][]float64{{-1, 0, 0.5}})
	require.NoError(t, err)

	best, trials, err := g.Search(context.Background(), config.DefaultConfig(), fakeRun, Metric("energy_drift"))
	require.NoError(t, err)
	assert.Len(t, trials, 1)
	assert.Equal(t, 0.5, best.Params["gravity.theta"])
}

func TestSearchNoFiniteCost(t *testing.T) {
	g, err := NewGridSearch([]string{"gravity.theta"}, [][]float64{{0.5}})
	require.NoError(t, err)

	_, _, err = g.Search(context.Background(), config.DefaultConfig(), fakeRun, Metric("missing"))
	assert.ErrorIs(t, err, dynamo.ErrInvalidInput)
}

func TestSearchPropagatesRunErrors(t *testing.T) {
	g, err := NewGridSearch([]string{"gravity.theta"}, [][]float64{{0.5, 0.7}})
	require.NoError(t, err)

	boom := errors.New("boom")
	calls := 0
	failing := func(ctx context.Context, name string, cfg *config.Config) (*sim.Result, error) {
		calls++
		return nil, boom
	}
	_, _, err = g.Search(context.Background(), config.DefaultConfig(), failing, WallPerStep)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestSearchCancelled(t *testing.T) {
	g, err := NewGridSearch([]string{"gravity.theta"}, [][]float64{{0.5}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = g.Search(ctx, config.DefaultConfig(), fakeRun, WallPerStep)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObjectives(t *testing.T) {
	r := &sim.Result{Steps: 0, Metrics: map[string]float64{}}
	assert.True(t, math.IsInf(WallPerStep(r), 1))
	assert.True(t, math.IsInf(Metric("x")(r), 1))
}
