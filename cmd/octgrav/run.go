package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/logging"
	"github.com/san-kum/octgrav/internal/metrics"
	"github.com/san-kum/octgrav/internal/sim"
	"github.com/san-kum/octgrav/internal/storage"
	"github.com/san-kum/octgrav/internal/tracing"
	"github.com/san-kum/octgrav/internal/viz"
)

var (
	live      bool
	liveEvery int
	saveCfg   string
)

// runBindings maps configuration keys to run flags.
var runBindings = map[string]string{
	"bodies":                       "bodies",
	"seed":                         "seed",
	"ranks":                        "ranks",
	"dt":                           "dt",
	"end_time":                     "end-time",
	"gravity.theta":                "theta",
	"gravity.eps":                  "eps",
	"gravity.quadrupole":           "quadrupole",
	"gravity.individual_softening": "individual-softening",
	"timestep.individual":          "individual",
	"timestep.eta":                 "eta",
	"timestep.max_level":           "max-level",
	"tree.rebuild_interval":        "rebuild",
	"tree.leaf_size":               "leaf-size",
	"domain.decompose_interval":    "decompose-interval",
	"domain.imbalance_threshold":   "imbalance-threshold",
	"device.name":                  "device",
	"device.id":                    "device-id",
	"device.workers":               "workers",
	"device.memory_limit":          "memory-limit",
	"cull.kill_distance":           "kill",
	"cull.removal_distance":        "removal",
	"snapshot.interval":            "snapshot-interval",
	"snapshot.template":            "snapshot-template",
	"snapshot.offset":              "snapshot-offset",
	"metrics.addr":                 "metrics-addr",
	"tracing.enabled":              "tracing",
	"tracing.endpoint":             "tracing-endpoint",
	"tracing.sample_rate":          "tracing-sample-rate",
}

func newRunCmd() *cobra.Command {
	d := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	f := cmd.Flags()
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.Int("bodies", d.Bodies, "number of bodies")
	f.Int64("seed", d.Seed, "random seed")
	f.Int("ranks", d.Ranks, "number of ranks")
	f.Float64("dt", d.Dt, "base timestep")
	f.Float64("end-time", d.EndTime, "end time")
	f.Float64("theta", d.Gravity.Theta, "opening angle")
	f.Float64("eps", d.Gravity.Eps, "softening length")
	f.Bool("quadrupole", d.Gravity.Quadrupole, "use quadrupole moments")
	f.Bool("individual-softening", d.Gravity.IndividualSoftening, "use per-particle softening")
	f.Bool("individual", d.Timestep.Individual, "individual block timesteps")
	f.Float64("eta", d.Timestep.Eta, "timestep accuracy parameter")
	f.Int("max-level", d.Timestep.MaxLevel, "deepest timestep level")
	f.Int("rebuild", d.Tree.RebuildInterval, "tree rebuild interval (steps)")
	f.Int("leaf-size", d.Tree.LeafSize, "leaf bucket size")
	f.Int("decompose-interval", d.Domain.DecomposeInterval, "domain decomposition interval (steps)")
	f.Float64("imbalance-threshold", d.Domain.ImbalanceThreshold, "load imbalance forcing a rebalance")
	f.String("device", d.Device.Name, "compute device (cpu, serial)")
	f.Int("device-id", d.Device.ID, "device identifier")
	f.Int("workers", d.Device.Workers, "kernel lanes per rank (0 = auto)")
	f.Int64("memory-limit", d.Device.MemoryLimit, "device memory per rank in bytes (0 = unlimited)")
	f.Float64("kill", d.Cull.KillDistance, "kill distance from the centre of mass (negative disables)")
	f.Float64("removal", d.Cull.RemovalDistance, "removal distance from the centre of mass (negative disables)")
	f.Int("snapshot-interval", d.Snapshot.Interval, "snapshot interval in steps (negative disables)")
	f.String("snapshot-template", d.Snapshot.Template, "snapshot file prefix")
	f.Int("snapshot-offset", d.Snapshot.Offset, "snapshot number offset")
	f.String("metrics-addr", "", "serve prometheus metrics on this address")
	f.Bool("tracing", false, "export OTLP traces")
	f.String("tracing-endpoint", tracing.DefaultEndpoint, "OTLP HTTP endpoint")
	f.Float64("tracing-sample-rate", d.Tracing.SampleRate, "fraction of traces exported")
	f.BoolVar(&live, "live", false, "follow the run in a terminal view")
	f.IntVar(&liveEvery, "live-every", 4, "steps between particle frames in live view")
	f.StringVar(&saveCfg, "save-config", "", "write the resolved configuration to this file")
	return cmd
}

func runSimulation(cmd *cobra.Command, args []string) error {
	model := args[0]
	cfg, err := loadConfig(cmd, model, runBindings)
	if err != nil {
		return err
	}
	log = logging.New(cfg.Log.Level, os.Stderr)
	if saveCfg != "" {
		if err := config.Save(saveCfg, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	shutdown, err := tracing.Init(ctx, tracing.Options{
		Enabled:    cfg.Tracing.Enabled,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
		Version:    buildVersion(),
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer srv.Close()
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	var exec executor
	if live {
		exec = func(ctx context.Context, s *sim.Simulation, w *storage.SnapshotWriter, ds initcond.Dataset) (*sim.Result, error) {
			return runLive(ctx, cancel, s, w, ds)
		}
	}
	runID, result, err := record(ctx, st, cfg, exec)
	if err != nil {
		if errors.Is(err, dynamo.ErrContextCanceled) {
			log.WithField("run", runID).Warn("run interrupted")
		}
		return err
	}

	fmt.Println(summary(runID, result))
	return nil
}

// executor runs a prepared simulation; nil runs it headless.
type executor func(ctx context.Context, s *sim.Simulation, w *storage.SnapshotWriter, ds initcond.Dataset) (*sim.Result, error)

// record runs cfg into a fresh run directory of st: diagnostics CSV,
// snapshots and metadata. Metadata is written even when the run fails.
func record(ctx context.Context, st *storage.Store, cfg *config.Config, exec executor) (string, *sim.Result, error) {
	ds, err := initcond.Generate(cfg.Model, cfg.Bodies, cfg.Seed)
	if err != nil {
		return "", nil, err
	}

	simLog := log
	if exec != nil {
		simLog = logging.Discard()
	}
	s, err := sim.New(cfg, simLog)
	if err != nil {
		return "", nil, err
	}

	run, err := st.Create(cfg.Model)
	if err != nil {
		return "", nil, err
	}
	s.AddObserver(sim.ObserverFunc(run.Observe))
	for _, m := range metrics.Standard() {
		s.AddMetric(m)
	}
	writer := storage.NewSnapshotWriter(run.Dir, cfg.Snapshot.Template, cfg.Snapshot.Interval, cfg.Snapshot.Offset)

	log.WithFields(logrus.Fields{
		"run":    run.ID,
		"model":  cfg.Model,
		"bodies": ds.Total,
		"ranks":  cfg.Ranks,
		"device": cfg.Device.Name,
	}).Info("starting run")

	var result *sim.Result
	if exec != nil {
		result, err = exec(ctx, s, writer, ds)
	} else {
		s.SetSnapshotter(writer)
		result, err = s.Run(ctx, ds)
	}

	meta := storage.RunMetadata{
		ID:        run.ID,
		Model:     cfg.Model,
		Timestamp: time.Now(),
		Seed:      cfg.Seed,
		Ranks:     cfg.Ranks,
		Bodies:    ds.Total,
		First:     ds.First,
		Second:    ds.Second,
		Third:     ds.Third,
		Dt:        cfg.Dt,
		EndTime:   cfg.EndTime,
		Theta:     cfg.Gravity.Theta,
		Eps:       cfg.Gravity.Eps,
		Device:    cfg.Device.Name,
		Snapshots: writer.Written(),
		Config:    cfg,
	}
	if result != nil {
		result.Snapshots = writer.Written()
		meta.Steps = result.Steps
		meta.WallSeconds = result.Wall.Seconds()
		meta.Metrics = result.Metrics
	}
	if ferr := run.Finish(meta); ferr != nil {
		log.WithError(ferr).Warn("write run metadata")
	}
	return run.ID, result, err
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return srv
}

func summary(runID string, r *sim.Result) string {
	rows := [][2]string{
		{"run", runID},
		{"steps", fmt.Sprint(r.Steps)},
		{"time", fmt.Sprintf("%.4g", r.Time)},
		{"wall", r.Wall.Round(time.Millisecond).String()},
		{"particles", fmt.Sprintf("%d -> %d", r.Initial.Count, r.Final.Count)},
		{"energy", fmt.Sprintf("%s -> %s", viz.Sci(r.Initial.Total()), viz.Sci(r.Final.Total()))},
		{"rebuilds", fmt.Sprint(r.Rebuilds)},
		{"decompositions", fmt.Sprint(r.Decompositions)},
		{"migrated", fmt.Sprint(r.Migrated)},
		{"killed", fmt.Sprint(r.Killed)},
		{"snapshots", fmt.Sprint(r.Snapshots)},
	}
	for _, name := range sortedKeys(r.Metrics) {
		rows = append(rows, [2]string{name, viz.Sci(r.Metrics[name])})
	}
	return viz.Table("run complete", rows)
}

// liveFeed forwards diagnostics and sampled particle positions to the
// terminal view, and passes snapshots through to the file writer.
type liveFeed struct {
	ctx     context.Context
	out     chan<- tea.Msg
	every   int
	files   *storage.SnapshotWriter
	pending metrics.Diagnostics
}

func (f *liveFeed) sampled(step int) bool { return f.every > 0 && step%f.every == 0 }

func (f *liveFeed) send(msg tea.Msg) error {
	select {
	case f.out <- msg:
		return nil
	case <-f.ctx.Done():
		return f.ctx.Err()
	}
}

func (f *liveFeed) OnStep(d metrics.Diagnostics) error {
	if f.sampled(d.Step) {
		f.pending = d
		return nil
	}
	return f.send(viz.StepMsg{Diag: d})
}

func (f *liveFeed) Due(step int) bool { return f.files.Due(step) || f.sampled(step) }

func (f *liveFeed) Snapshot(step int, t float64, bodies []dynamo.Body) error {
	if f.files.Due(step) {
		if err := f.files.Snapshot(step, t, bodies); err != nil {
			return err
		}
	}
	if !f.sampled(step) {
		return nil
	}
	pts := make([]r3.Vec, len(bodies))
	for i, b := range bodies {
		pts[i] = b.Pos
	}
	return f.send(viz.StepMsg{Diag: f.pending, Positions: pts})
}

func runLive(ctx context.Context, cancel context.CancelFunc, s *sim.Simulation, files *storage.SnapshotWriter, ds initcond.Dataset) (*sim.Result, error) {
	updates := make(chan tea.Msg, 64)
	feed := &liveFeed{ctx: ctx, out: updates, every: liveEvery, files: files}
	s.AddObserver(feed)
	s.SetSnapshotter(feed)

	type outcome struct {
		result *sim.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.Run(ctx, ds)
		select {
		case updates <- viz.DoneMsg{Err: err}:
		case <-ctx.Done():
		}
		done <- outcome{result, err}
	}()

	cfg := s.Config()
	title := fmt.Sprintf("%s  n=%d  ranks=%d", cfg.Model, ds.Total, cfg.Ranks)
	p := tea.NewProgram(viz.NewProgress(title, cfg.EndTime, updates, cancel))
	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, err
	}
	out := <-done
	return out.result, out.err
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
