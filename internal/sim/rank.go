package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/domain"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/exchange"
	"github.com/san-kum/octgrav/internal/gravity"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/integrators"
	"github.com/san-kum/octgrav/internal/logging"
	"github.com/san-kum/octgrav/internal/metrics"
	"github.com/san-kum/octgrav/internal/octree"
	"github.com/san-kum/octgrav/internal/particles"
	"github.com/san-kum/octgrav/internal/tracing"
)

// rank is the engine state owned by one rank's goroutine.
type rank struct {
	sim   *Simulation
	cfg   *config.Config
	c     comm.Communicator
	label string
	log   *logrus.Entry

	acct   *compute.Accountant
	be     compute.Backend
	store  *particles.Store
	tree   *octree.Tree
	forces *gravity.Engine
	integ  *integrators.Verlet
	decomp *domain.Decomposer
	ex     *exchange.Exchanger

	clock dynamo.Clock
	step  int
	phase Phase

	expected      exchange.Totals
	removed       int
	dirty         bool
	lastDecompose int
	imbalance     float64
	interactions  int64
}

func newRank(s *Simulation, c comm.Communicator) (*rank, error) {
	cfg := &s.cfg
	entry := logging.ForRank(s.log, c.Rank())
	r := &rank{
		sim:   s,
		cfg:   cfg,
		c:     c,
		label: strconv.Itoa(c.Rank()),
		log:   logging.Component(entry, "sim"),
		acct:  compute.NewAccountant(cfg.Device.MemoryLimit),
		clock: dynamo.NewClock(cfg.Dt),
	}

	var err error
	if r.be, err = compute.Select(cfg.Device.Name, s.workers()); err != nil {
		return nil, err
	}
	if r.store, err = particles.NewStore(r.acct, 0); err != nil {
		return nil, err
	}
	if r.tree, err = octree.New(octree.Config{LeafSize: cfg.Tree.LeafSize, MaxDepth: cfg.Tree.MaxDepth}, r.acct); err != nil {
		return nil, err
	}
	params := gravity.Params{Theta: cfg.Gravity.Theta, Quadrupole: cfg.Gravity.Quadrupole}
	if r.forces, err = gravity.NewEngine(r.be, r.acct, params); err != nil {
		return nil, err
	}
	steps := integrators.Timesteps{
		Dt:         cfg.Dt,
		Individual: cfg.Timestep.Individual,
		Eta:        cfg.Timestep.Eta,
		MaxLevel:   cfg.Timestep.MaxLevel,
	}
	if r.integ, err = integrators.NewVerlet(r.be, steps); err != nil {
		return nil, err
	}
	r.decomp = domain.NewDecomposer(cfg.Domain.SampleSize)
	if r.ex, err = exchange.New(c, r.store, r.acct, cfg.Exchange.Buffer, cfg.Exchange.Policy(), logging.Component(entry, "exchange")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rank) release() {
	r.forces.Release()
	r.tree.Release()
	r.store.Release()
	r.be.Cleanup()
}

func (r *rank) root() bool { return r.c.Rank() == 0 }

// enter runs fn as phase p: the transition is logged, traced and timed, and
// a failure is tagged with where it happened.
func (r *rank) enter(ctx context.Context, p Phase, fn func(ctx context.Context) error) error {
	if r.phase != p {
		r.log.WithFields(logrus.Fields{"step": r.step, "from": r.phase, "to": p}).Debug("phase transition")
	}
	r.phase = p
	ctx, span := tracing.StartPhase(ctx, p.String(), r.c.Rank(), r.step)
	start := time.Now()
	err := fn(ctx)
	metrics.PhaseDuration.WithLabelValues(r.label, p.String()).Observe(time.Since(start).Seconds())
	tracing.End(span, err)
	if err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *rank) fail(err error) error {
	var se *dynamo.SimulationError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", dynamo.ErrContextCanceled, err)
	}
	return &dynamo.SimulationError{
		Rank:    r.c.Rank(),
		Step:    r.step,
		Time:    r.clock.Time,
		Phase:   r.phase.String(),
		Wrapped: err,
	}
}

func (r *rank) run(ctx context.Context, ds initcond.Dataset, result *Result) error {
	if err := r.enter(ctx, PhaseInit, func(ctx context.Context) error {
		return r.init(ctx, ds, result)
	}); err != nil {
		return err
	}
	if err := r.first(ctx, result); err != nil {
		return err
	}

	for !r.clock.Done(r.cfg.EndTime) {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
		t, err := comm.AllReduceMin(ctx, r.c, r.integ.NextTime(r.store))
		if err != nil {
			return r.fail(err)
		}
		if math.IsInf(t, 1) || t > r.cfg.EndTime+1e-9*math.Max(1, r.cfg.EndTime) {
			break
		}
		if err := r.advance(ctx, t, result); err != nil {
			return err
		}
	}

	return r.enter(ctx, PhaseTerminate, func(ctx context.Context) error {
		peak, err := comm.AllReduceMax(ctx, r.c, float64(r.acct.Peak()))
		if err != nil {
			return err
		}
		if r.root() {
			result.Steps = r.clock.Step
			result.Time = r.clock.Time
			r.log.WithFields(logrus.Fields{
				"steps":     r.clock.Step,
				"time":      r.clock.Time,
				"particles": result.Final.Count,
				"peak_mem":  int64(peak),
			}).Info("simulation finished")
		}
		return nil
	})
}

func (r *rank) init(ctx context.Context, ds initcond.Dataset, result *Result) error {
	bodies, header, err := initcond.Scatter(ctx, r.c, ds)
	if err != nil {
		return err
	}
	if err := r.store.Load(bodies, r.cfg.Gravity.Eps, r.cfg.Gravity.IndividualSoftening); err != nil {
		return err
	}
	if r.expected, err = exchange.GlobalTotals(ctx, r.c, r.store); err != nil {
		return err
	}
	if r.expected.Count != header.Total {
		return fmt.Errorf("%w: scattered %d particles, dataset has %d", dynamo.ErrConservation, r.expected.Count, header.Total)
	}

	r.log.WithFields(logrus.Fields{"local": r.store.Len(), "device": r.be.Name()}).Debug("particles loaded")
	if r.root() {
		result.Dataset = header
		r.log.WithFields(logrus.Fields{
			"total":  header.Total,
			"first":  header.First,
			"second": header.Second,
			"third":  header.Third,
			"ranks":  r.c.Size(),
		}).Info("dataset distributed")
		r.log.WithField("mass", r.expected.Mass).Info("combined mass")
	}
	return nil
}

// first is step 0: full decomposition and build, forces on every particle,
// then the integrator's time state.
func (r *rank) first(ctx context.Context, result *Result) error {
	if err := r.rebuild(ctx, true, result); err != nil {
		return err
	}
	all := make([]int, r.store.Len())
	for i := range all {
		all[i] = i
	}
	if err := r.forcesOn(ctx, all); err != nil {
		return err
	}
	r.integ.Start(r.store, 0)
	return r.finish(ctx, result)
}

// advance performs one global step to time t.
func (r *rank) advance(ctx context.Context, t float64, result *Result) error {
	r.step = r.clock.Step + 1
	var pred integrators.Prediction
	if err := r.enter(ctx, PhaseIntegrate, func(context.Context) error {
		var err error
		pred, err = r.integ.Predict(r.store, t)
		return err
	}); err != nil {
		return err
	}

	if r.rebuildDue() {
		if err := r.rebuild(ctx, r.decomposeDue(), result); err != nil {
			return err
		}
		r.integ.Refresh(r.store, &pred)
	}

	if err := r.forcesOn(ctx, pred.Active); err != nil {
		return err
	}

	if err := r.enter(ctx, PhaseIntegrate, func(ctx context.Context) error {
		if err := r.integ.Correct(r.store, pred); err != nil {
			return err
		}
		if err := r.cull(ctx); err != nil {
			return err
		}
		return r.clock.Advance(t)
	}); err != nil {
		return err
	}
	return r.finish(ctx, result)
}

func (r *rank) rebuildDue() bool {
	return r.dirty || r.step%r.cfg.Tree.RebuildInterval == 0
}

func (r *rank) decomposeDue() bool {
	if r.c.Size() == 1 {
		return false
	}
	if r.step-r.lastDecompose >= r.cfg.Domain.DecomposeInterval {
		return true
	}
	if r.imbalance > r.cfg.Domain.ImbalanceThreshold {
		r.log.WithField("imbalance", r.imbalance).Info("load imbalance above threshold, rebalancing")
		return true
	}
	return false
}

// rebuild optionally re-decomposes, migrates particles home and rebuilds
// the tree over the predicted positions.
func (r *rank) rebuild(ctx context.Context, decompose bool, result *Result) error {
	if decompose && r.c.Size() > 1 {
		if err := r.enter(ctx, PhaseDecompose, func(ctx context.Context) error {
			return r.decompose(ctx, result)
		}); err != nil {
			return err
		}
	}

	if err := r.enter(ctx, PhaseExchange, func(ctx context.Context) error {
		res, err := r.ex.Run(ctx)
		if err != nil {
			return err
		}
		metrics.ExchangePasses.WithLabelValues(r.label).Add(float64(res.Passes))
		if res.Overflow {
			metrics.ExchangeOverflows.WithLabelValues(r.label).Inc()
		}
		if res.Moved > 0 {
			metrics.ParticlesMigrated.WithLabelValues(r.label).Add(float64(res.Moved))
			if r.root() {
				result.Migrated += res.Moved
				r.log.WithFields(logrus.Fields{"moved": res.Moved, "passes": res.Passes}).Debug("particles exchanged")
			}
		}
		return exchange.Check(ctx, r.c, r.store, r.expected)
	}); err != nil {
		return err
	}

	return r.enter(ctx, PhaseBuild, func(context.Context) error {
		if err := r.tree.Build(r.store); err != nil {
			return err
		}
		r.dirty = false
		metrics.TreeRebuilds.WithLabelValues(r.label).Inc()
		metrics.OversizedLeaves.WithLabelValues(r.label).Set(float64(r.tree.Oversized))
		if r.tree.Oversized > 0 {
			r.log.WithFields(logrus.Fields{"step": r.step, "leaves": r.tree.Oversized}).
				Warn("coincident particles exceed leaf size at maximum depth")
		}
		if r.root() {
			result.Rebuilds++
		}
		return nil
	})
}

func (r *rank) decompose(ctx context.Context, result *Result) error {
	s := r.store
	weights := make([]float64, s.Len())
	for i := range weights {
		weights[i] = math.Max(s.Work[i], 1)
	}
	part, err := r.decomp.Decompose(ctx, r.c, s.PPos[:s.Len()], weights)
	if err != nil {
		return err
	}
	r.lastDecompose = r.step
	if part.Equal(r.ex.Partition()) {
		return nil
	}
	r.ex.SetPartition(part)
	if r.root() {
		result.Decompositions++
		r.log.WithField("step", r.step).Info("domain decomposition updated\n" + part.Table())
	}
	return nil
}

// forcesOn refreshes the tree moments, imports the other ranks' essential
// trees and evaluates accelerations for the active particles.
func (r *rank) forcesOn(ctx context.Context, active []int) error {
	s := r.store
	if err := r.enter(ctx, PhasePropagate, func(context.Context) error {
		r.tree.Props(r.be, s.PPos, s.Mass, s.Eps2)
		return nil
	}); err != nil {
		return err
	}

	return r.enter(ctx, PhaseForce, func(ctx context.Context) error {
		remote, err := gravity.ExchangeLET(ctx, r.c, r.tree, s, r.cfg.Gravity.Theta)
		if err != nil {
			return err
		}
		n, err := r.forces.Accelerations(r.tree, s, active, remote)
		if err != nil {
			return err
		}
		metrics.Interactions.WithLabelValues(r.label).Add(float64(n))

		type load struct {
			Work         float64
			Interactions int64
		}
		var work float64
		for i := 0; i < s.Len(); i++ {
			work += s.Work[i]
		}
		loads, err := comm.AllGather(ctx, r.c, load{Work: work, Interactions: n})
		if err != nil {
			return err
		}
		per := make([]float64, len(loads))
		r.interactions = 0
		for i, l := range loads {
			per[i] = l.Work
			r.interactions += l.Interactions
		}
		r.imbalance = domain.Imbalance(per)
		return nil
	})
}

// finish publishes the diagnostics of the completed step and writes a
// snapshot when one is due.
func (r *rank) finish(ctx context.Context, result *Result) error {
	if err := r.store.Validate(); err != nil {
		return r.fail(err)
	}
	d, err := metrics.Reduce(ctx, r.c, r.store, r.clock.Time)
	if err != nil {
		return r.fail(err)
	}
	d.Step = r.clock.Step
	d.Removed = r.removed
	d.Imbalance = r.imbalance
	d.Interactions = r.interactions

	metrics.StepsTotal.WithLabelValues(r.label).Inc()
	metrics.LocalParticles.WithLabelValues(r.label).Set(float64(r.store.Len()))
	metrics.DeviceMemory.WithLabelValues(r.label).Set(float64(r.acct.Current()))

	if r.root() {
		metrics.LoadImbalance.Set(d.Imbalance)
		metrics.TotalEnergy.Set(d.Total())
		if d.Step == 0 {
			result.Initial = d
		}
		result.Final = d
		result.Killed = r.removed
		if d.Synchronized {
			for _, m := range r.sim.metrics {
				m.Observe(d)
			}
		}
		for _, o := range r.sim.observers {
			if err := o.OnStep(d); err != nil {
				return r.fail(fmt.Errorf("observer: %w", err))
			}
		}
	}

	snap := r.sim.snap
	if snap == nil || !snap.Due(r.clock.Step) {
		return nil
	}
	return r.enter(ctx, PhaseSnapshot, func(ctx context.Context) error {
		parts, err := comm.Gather(ctx, r.c, 0, r.store.Bodies())
		if err != nil {
			return err
		}
		if r.root() {
			var all []dynamo.Body
			for _, p := range parts {
				all = append(all, p...)
			}
			sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
			if err := snap.Snapshot(r.clock.Step, r.clock.Time, all); err != nil {
				return err
			}
			result.Snapshots++
		}
		// no rank moves on until the snapshot is on disk
		return comm.Barrier(ctx, r.c)
	})
}
