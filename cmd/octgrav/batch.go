package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/octgrav/internal/automation"
	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/logging"
	"github.com/san-kum/octgrav/internal/optim"
	"github.com/san-kum/octgrav/internal/sim"
	"github.com/san-kum/octgrav/internal/storage"
	"github.com/san-kum/octgrav/internal/viz"
)

var (
	batchSave   bool
	sweepKey    string
	sweepMin    float64
	sweepMax    float64
	sweepPoints int
	trials      int
	tuneGrid    []string
	tuneMetric  string
	tuneLimit   float64
)

// batchBindings are the overrides every batch command accepts.
var batchBindings = map[string]string{
	"bodies":      "bodies",
	"seed":        "seed",
	"ranks":       "ranks",
	"end_time":    "end-time",
	"device.name": "device",
}

func addBatchFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.BoolVar(&batchSave, "save", false, "record every run in the data directory")
	f.Int("bodies", d.Bodies, "number of bodies")
	f.Int64("seed", d.Seed, "random seed")
	f.Int("ranks", d.Ranks, "number of ranks")
	f.Float64("end-time", d.EndTime, "end time")
	f.String("device", d.Device.Name, "compute device (cpu, serial)")
}

// batchRunner runs quietly in memory, or through the run store with --save.
func batchRunner() (automation.Runner, error) {
	if !batchSave {
		return automation.Headless(logging.Discard()), nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return func(ctx context.Context, name string, cfg *config.Config) (*sim.Result, error) {
		runID, result, err := record(ctx, st, cfg, quiet)
		if err == nil {
			log.WithField("run", runID).Infof("%s recorded", name)
		}
		return result, err
	}, nil
}

// quiet runs without console logging from the engine.
func quiet(ctx context.Context, s *sim.Simulation, w *storage.SnapshotWriter, ds initcond.Dataset) (*sim.Result, error) {
	s.SetSnapshotter(w)
	return s.Run(ctx, ds)
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted sequence of simulations",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	cmd.Flags().BoolVar(&batchSave, "save", false, "record every run in the data directory")
	return cmd
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	run, err := batchRunner()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	out, err := automation.RunScenario(ctx, sc, run, log)
	if len(out) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODEL\tBODIES\tSTEPS\tWALL\tENERGY DRIFT\tRETENTION")
		for _, o := range out {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2fs\t%s\t%.3f\n",
				o.Name, o.Config.Model, o.Config.Bodies, o.Result.Steps, o.Result.Wall.Seconds(),
				viz.Sci(o.Result.Metrics["energy_drift"]), o.Result.Metrics["retention"])
		}
		w.Flush()
	}
	return err
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "vary one configuration key across runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	addBatchFlags(cmd)
	cmd.Flags().StringVar(&sweepKey, "key", "gravity.theta", "dotted configuration key")
	cmd.Flags().Float64Var(&sweepMin, "min", 0.3, "first value")
	cmd.Flags().Float64Var(&sweepMax, "max", 1.0, "last value")
	cmd.Flags().IntVar(&sweepPoints, "points", 5, "number of values")
	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd, args[0], batchBindings)
	if err != nil {
		return err
	}
	run, err := batchRunner()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	sweep := &automation.ParameterSweep{Key: sweepKey, Min: sweepMin, Max: sweepMax, Points: sweepPoints}
	out, err := automation.RunSweep(ctx, base, sweep, run, log)

	drift := make([]float64, len(out))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tSTEPS\tWALL\tENERGY DRIFT\tVIRIAL\n", strings.ToUpper(sweepKey))
	for i, r := range out {
		drift[i] = r.Result.Metrics["energy_drift"]
		fmt.Fprintf(w, "%.4g\t%d\t%.2fs\t%s\t%.3f\n",
			r.Value, r.Result.Steps, r.Result.Wall.Seconds(), viz.Sci(drift[i]), r.Result.Metrics["virial_ratio"])
	}
	w.Flush()
	if len(drift) > 1 {
		fmt.Printf("\nenergy drift  %s\n", viz.Sparkline(drift, len(drift)))
	}
	return err
}

func newEnsembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensemble [model]",
		Short: "repeat a run over consecutive seeds",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnsemble,
	}
	addBatchFlags(cmd)
	cmd.Flags().IntVar(&trials, "trials", 8, "number of realisations")
	return cmd
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd, args[0], batchBindings)
	if err != nil {
		return err
	}
	run, err := batchRunner()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	out, err := automation.RunEnsemble(ctx, base, trials, run, log)
	if len(out) > 0 {
		rows := [][2]string{{"trials", strconv.Itoa(len(out))}}
		for _, name := range []string{"energy_drift", "momentum_drift", "virial_ratio", "retention"} {
			st := automation.Stats(out, name)
			rows = append(rows, [2]string{name, fmt.Sprintf("%s ± %s", viz.Sci(st.Mean), viz.Sci(st.StdDev))})
		}
		st := automation.Stats(out, "retention")
		rows = append(rows, [2]string{"bound / unbound", fmt.Sprintf("%d / %d", st.Bound, st.Unbound)})
		fmt.Println(viz.Table(fmt.Sprintf("%s ensemble", base.Model), rows))
	}
	return err
}

func newTuneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune [model]",
		Short: "grid-search configuration keys for the cheapest run",
		Args:  cobra.ExactArgs(1),
		RunE:  runTune,
	}
	addBatchFlags(cmd)
	cmd.Flags().StringArrayVar(&tuneGrid, "grid", []string{"gravity.theta=0.4,0.6,0.8", "tree.leaf_size=8,16,32"}, "key=v1,v2,... (repeatable)")
	cmd.Flags().StringVar(&tuneMetric, "metric", "wall", "cost: wall (seconds per step) or a run metric name")
	cmd.Flags().Float64Var(&tuneLimit, "max-drift", -1, "reject runs whose energy drift exceeds this (negative disables)")
	return cmd
}

func parseGrid(specs []string) ([]string, [][]float64, error) {
	keys := make([]string, 0, len(specs))
	ranges := make([][]float64, 0, len(specs))
	for _, spec := range specs {
		key, list, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, nil, fmt.Errorf("grid %q: want key=v1,v2", spec)
		}
		var vals []float64
		for _, field := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("grid %q: %w", spec, err)
			}
			vals = append(vals, v)
		}
		keys = append(keys, strings.TrimSpace(key))
		ranges = append(ranges, vals)
	}
	return keys, ranges, nil
}

func runTune(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd, args[0], batchBindings)
	if err != nil {
		return err
	}
	keys, ranges, err := parseGrid(tuneGrid)
	if err != nil {
		return err
	}
	g, err := optim.NewGridSearch(keys, ranges)
	if err != nil {
		return err
	}
	run, err := batchRunner()
	if err != nil {
		return err
	}

	cost := optim.WallPerStep
	if tuneMetric != "wall" {
		cost = optim.Metric(tuneMetric)
	}
	if tuneLimit >= 0 {
		cost = optim.Bounded(cost, "energy_drift", tuneLimit)
	}

	ctx, cancel := signalContext()
	defer cancel()
	best, tried, err := g.Search(ctx, base, run, cost)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tCOST\n", strings.ToUpper(strings.Join(keys, "\t")))
	for _, t := range tried {
		fmt.Fprintf(w, "%s\t%s\n", formatParams(keys, t.Params, false), viz.Sci(t.Cost))
	}
	w.Flush()
	if err != nil {
		return err
	}
	fmt.Printf("\nbest: %s  cost %s\n", formatParams(keys, best.Params, true), viz.Sci(best.Cost))
	return nil
}

// formatParams renders params in key order; labelled output prefixes each
// value with its key.
func formatParams(keys []string, params map[string]float64, labelled bool) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.FormatFloat(params[k], 'g', 4, 64)
		if labelled {
			parts[i] = k + "=" + parts[i]
		}
	}
	if labelled {
		return strings.Join(parts, "  ")
	}
	return strings.Join(parts, "\t")
}
