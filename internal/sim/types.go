package sim

import (
	"time"

	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/metrics"
)

// Observer receives the global diagnostics of every completed step on
// rank 0. An error aborts the run.
type Observer interface {
	OnStep(d metrics.Diagnostics) error
}

type ObserverFunc func(d metrics.Diagnostics) error

func (f ObserverFunc) OnStep(d metrics.Diagnostics) error { return f(d) }

// Snapshotter persists the full particle set. Due must give the same answer
// on every rank; Snapshot is only called on rank 0 with bodies sorted by ID.
type Snapshotter interface {
	Due(step int) bool
	Snapshot(step int, t float64, bodies []dynamo.Body) error
}

type Result struct {
	Steps          int
	Time           float64
	Dataset        initcond.Dataset
	Initial        metrics.Diagnostics
	Final          metrics.Diagnostics
	Metrics        map[string]float64
	Snapshots      int
	Rebuilds       int
	Decompositions int
	Migrated       int
	Killed         int
	Wall           time.Duration
}
