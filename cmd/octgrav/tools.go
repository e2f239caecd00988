package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/domain"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/logging"
	"github.com/san-kum/octgrav/internal/metrics"
	"github.com/san-kum/octgrav/internal/sim"
	"github.com/san-kum/octgrav/internal/viz"
)

var (
	benchBodies int
	benchSteps  int
	benchRanks  []int
	decompRanks int
	decompN     int
	decompSeed  int64
)

var benchBindings = map[string]string{
	"gravity.theta": "theta",
	"gravity.eps":   "eps",
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench [model]",
		Short: "benchmark devices and rank counts",
		Args:  cobra.ExactArgs(1),
		RunE:  benchModel,
	}
	d := config.DefaultConfig()
	cmd.Flags().IntVar(&benchBodies, "bodies", 2048, "number of bodies")
	cmd.Flags().IntVar(&benchSteps, "steps", 8, "global steps per case")
	cmd.Flags().IntSliceVar(&benchRanks, "ranks", []int{1, 2, 4}, "rank counts to try")
	cmd.Flags().Float64("theta", d.Gravity.Theta, "opening angle")
	cmd.Flags().Float64("eps", d.Gravity.Eps, "softening length")
	return cmd
}

func benchModel(cmd *cobra.Command, args []string) error {
	model := args[0]
	base, err := loadConfig(cmd, model, benchBindings)
	if err != nil {
		return err
	}
	ds, err := initcond.Generate(model, benchBodies, base.Seed)
	if err != nil {
		return err
	}

	type benchCase struct {
		device  string
		ranks   int
		workers int
	}
	var cases []benchCase
	for _, r := range benchRanks {
		cases = append(cases, benchCase{"serial", r, 1})
		cases = append(cases, benchCase{"cpu", r, max(1, runtime.NumCPU()/r)})
	}

	fmt.Printf("benchmarking %s  n=%d  steps=%d\n\n", model, ds.Total, benchSteps)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tRANKS\tWORKERS\tSTEPS\tWALL\tSTEPS/SEC\tINTERACTIONS/SEC")

	for _, c := range cases {
		cfg := *base
		cfg.Bodies = ds.Total
		cfg.Ranks = c.ranks
		cfg.Device.Name = c.device
		cfg.Device.Workers = c.workers
		cfg.EndTime = float64(benchSteps) * cfg.Dt
		cfg.Timestep.Individual = false
		cfg.Snapshot.Interval = -1
		if cfg.Domain.SampleSize < cfg.Ranks {
			cfg.Domain.SampleSize = cfg.Ranks
		}

		var interactions int64
		s, err := sim.New(&cfg, logging.Discard())
		if err != nil {
			return err
		}
		s.AddObserver(sim.ObserverFunc(func(d metrics.Diagnostics) error {
			interactions += d.Interactions
			return nil
		}))

		start := time.Now()
		result, err := s.Run(context.Background(), ds)
		if err != nil {
			return fmt.Errorf("%s/%d ranks: %w", c.device, c.ranks, err)
		}
		elapsed := time.Since(start)

		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%v\t%.1f\t%s\n",
			c.device, c.ranks, c.workers, result.Steps, elapsed.Round(time.Millisecond),
			float64(result.Steps)/elapsed.Seconds(),
			viz.Sci(float64(interactions)/elapsed.Seconds()))
	}
	return w.Flush()
}

func newDecomposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompose [model]",
		Short: "show the domain decomposition of a generated particle set",
		Args:  cobra.ExactArgs(1),
		RunE:  decomposeModel,
	}
	d := config.DefaultConfig()
	cmd.Flags().IntVar(&decompRanks, "ranks", 4, "number of ranks")
	cmd.Flags().IntVar(&decompN, "bodies", d.Bodies, "number of bodies")
	cmd.Flags().Int64Var(&decompSeed, "seed", d.Seed, "random seed")
	return cmd
}

func decomposeModel(cmd *cobra.Command, args []string) error {
	ds, err := initcond.Generate(args[0], decompN, decompSeed)
	if err != nil {
		return err
	}
	world, err := comm.NewWorld(decompRanks)
	if err != nil {
		return err
	}

	d := domain.NewDecomposer(config.DefaultConfig().Domain.SampleSize)
	var (
		part  *domain.Partition
		loads []float64
	)
	err = world.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		var local initcond.Dataset
		if c.Rank() == 0 {
			local = ds
		}
		bodies, _, err := initcond.Scatter(ctx, c, local)
		if err != nil {
			return err
		}
		pos := make([]r3.Vec, len(bodies))
		for i, b := range bodies {
			pos[i] = b.Pos
		}
		p, err := d.Decompose(ctx, c, pos, nil)
		if err != nil {
			return err
		}

		owned := make([]float64, c.Size())
		for _, x := range pos {
			owned[p.Owner(x)]++
		}
		total, err := comm.AllReduceSumVec(ctx, c, owned)
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			part, loads = p, total
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Print(part.Table())
	rows := make([][2]string, 0, len(loads)+1)
	for r, l := range loads {
		rows = append(rows, [2]string{fmt.Sprintf("rank %d", r), fmt.Sprintf("%.0f", l)})
	}
	rows = append(rows, [2]string{"imbalance", fmt.Sprintf("%.3f", domain.Imbalance(loads))})
	fmt.Println(viz.Table(fmt.Sprintf("%s  n=%d", args[0], ds.Total), rows))
	return nil
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models := initcond.Models()
			if len(args) == 1 {
				models = args
			}
			for _, m := range models {
				presets := config.ListPresets(m)
				if len(presets) == 0 {
					fmt.Printf("no presets for model: %s\n", m)
					continue
				}
				sort.Strings(presets)
				fmt.Printf("presets for %s:\n", m)
				for _, p := range presets {
					c := config.GetPreset(m, p)
					fmt.Printf("  - %-10s bodies=%d ranks=%d dt=%g end=%g\n", p, c.Bodies, c.Ranks, c.Dt, c.EndTime)
				}
			}
			return nil
		},
	}
}
