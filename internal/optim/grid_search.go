// Package optim searches configuration space for the settings that minimise
// a cost measured from complete runs.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/octgrav/internal/automation"
	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/sim"
)

// Objective scores a finished run; lower is better.
type Objective func(r *sim.Result) float64

// Metric scores a run by one of its recorded metrics.
func Metric(name string) Objective {
	return func(r *sim.Result) float64 {
		v, ok := r.Metrics[name]
		if !ok {
			return math.Inf(1)
		}
		return v
	}
}

// WallPerStep scores a run by its mean wall time per global step.
func WallPerStep(r *sim.Result) float64 {
	if r.Steps == 0 {
		return math.Inf(1)
	}
	return r.Wall.Seconds() / float64(r.Steps)
}

// Bounded scores by cost while metric stays within limit; runs over the
// limit score +Inf.
func Bounded(cost Objective, metric string, limit float64) Objective {
	return func(r *sim.Result) float64 {
		if v, ok := r.Metrics[metric]; !ok || v > limit {
			return math.Inf(1)
		}
		return cost(r)
	}
}

// Trial is one evaluated point of the grid.
type Trial struct {
	Params map[string]float64
	Cost   float64
}

type GridSearch struct {
	keys   []string
	ranges [][]float64
}

// NewGridSearch searches the product of ranges over the dotted config keys.
func NewGridSearch(keys []string, ranges [][]float64) (*GridSearch, error) {
	if len(keys) == 0 || len(keys) != len(ranges) {
		return nil, fmt.Errorf("%w: %d keys for %d ranges", dynamo.ErrInvalidInput, len(keys), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("%w: empty range for %s", dynamo.ErrInvalidInput, keys[i])
		}
	}
	return &GridSearch{keys: keys, ranges: ranges}, nil
}

// Search runs every grid point and returns the cheapest one along with all
// trials in grid order. Points whose configuration is out of bounds are
// skipped; any other failure ends the search.
func (g *GridSearch) Search(ctx context.Context, base *config.Config, run automation.Runner, cost Objective) (Trial, []Trial, error) {
	best := Trial{Cost: math.Inf(1)}
	var trials []Trial

	err := g.searchRecursive(ctx, 0, make(map[string]float64), func(params map[string]float64) error {
		overrides := make(map[string]any, len(params))
		for k, v := range params {
			overrides[k] = v
		}
		cfg, err := config.Override(base, overrides)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			if errors.Is(err, dynamo.ErrParameterBounds) {
				return nil
			}
			return err
		}

		result, err := run(ctx, fmt.Sprint(params), cfg)
		if err != nil {
			return err
		}
		t := Trial{Params: params, Cost: cost(result)}
		trials = append(trials, t)
		if t.Cost < best.Cost {
			best = t
		}
		return nil
	})
	if err != nil {
		return best, trials, err
	}
	if best.Params == nil {
		return best, trials, fmt.Errorf("%w: no grid point produced a finite cost", dynamo.ErrInvalidInput)
	}
	return best, trials, nil
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, eval func(map[string]float64) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.keys) {
		return eval(current)
	}

	key := g.keys[depth]
	for _, val := range g.ranges[depth] {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[key] = val

		if err := g.searchRecursive(ctx, depth+1, next, eval); err != nil {
			return err
		}
	}
	return nil
}
