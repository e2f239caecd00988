// Package sim drives the distributed N-body integration: one engine per
// rank, stepped in lockstep through decomposition, exchange, tree build,
// force evaluation and integration.
package sim

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/logging"
	"github.com/san-kum/octgrav/internal/metrics"
)

type Simulation struct {
	cfg       config.Config
	log       *logrus.Logger
	snap      Snapshotter
	observers []Observer
	metrics   []metrics.Metric
}

func New(cfg *config.Config, log *logrus.Logger) (*Simulation, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Simulation{cfg: *cfg, log: log}, nil
}

func (s *Simulation) Config() config.Config { return s.cfg }

func (s *Simulation) AddObserver(o Observer)        { s.observers = append(s.observers, o) }
func (s *Simulation) AddMetric(m metrics.Metric)    { s.metrics = append(s.metrics, m) }
func (s *Simulation) SetSnapshotter(sn Snapshotter) { s.snap = sn }

// workers is the kernel lane count of each rank.
func (s *Simulation) workers() int {
	if s.cfg.Device.Workers > 0 {
		return s.cfg.Device.Workers
	}
	return max(1, runtime.NumCPU()/s.cfg.Ranks)
}

// Run integrates ds from t=0 to the configured end time. ds is only read on
// rank 0, which scatters it to the others.
func (s *Simulation) Run(ctx context.Context, ds initcond.Dataset) (*Result, error) {
	world, err := comm.NewWorld(s.cfg.Ranks)
	if err != nil {
		return nil, err
	}
	for _, m := range s.metrics {
		m.Reset()
	}

	start := time.Now()
	result := &Result{Metrics: make(map[string]float64)}
	err = world.Run(ctx, func(ctx context.Context, c comm.Communicator) error {
		r, err := newRank(s, c)
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		defer r.release()

		var local initcond.Dataset
		if c.Rank() == 0 {
			local = ds
		}
		return r.run(ctx, local, result)
	})
	result.Wall = time.Since(start)
	if err != nil {
		return result, err
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	return result, nil
}
