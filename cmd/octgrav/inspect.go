package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/octgrav/internal/analysis"
	"github.com/san-kum/octgrav/internal/export"
	"github.com/san-kum/octgrav/internal/metrics"
	"github.com/san-kum/octgrav/internal/storage"
	"github.com/san-kum/octgrav/internal/viz"
)

var (
	plotSnapshot bool
	plotPlane    string
	plotSVG      string
	jsonOut      bool
	exportPath   string
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}
}

func newPlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	cmd.Flags().BoolVar(&plotSnapshot, "snapshot", false, "also draw the last snapshot")
	cmd.Flags().StringVar(&plotPlane, "plane", "xy", "projection plane for --snapshot (xy, xz, yz)")
	cmd.Flags().StringVar(&plotSVG, "svg", "", "also write the plots as SVG files into this directory")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "oscillation and mass-profile analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "dump the run as JSON to stdout")
	cmd.Flags().StringVar(&exportPath, "export", "", "write the run as JSON to this file")
	return cmd
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tBODIES\tRANKS\tSTEPS\tSNAPSHOTS\tWALL\tTIMESTAMP")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.2fs\t%s\n",
			r.ID, r.Model, r.Bodies, r.Ranks, r.Steps, r.Snapshots, r.WallSeconds,
			r.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func series(diags []metrics.Diagnostics, fn func(metrics.Diagnostics) float64) []float64 {
	out := make([]float64, len(diags))
	for i, d := range diags {
		out[i] = fn(d)
	}
	return out
}

// synchronized keeps the rows where every particle was corrected, the only
// ones with an exact potential energy.
func synchronized(diags []metrics.Diagnostics) []metrics.Diagnostics {
	var out []metrics.Diagnostics
	for _, d := range diags {
		if d.Synchronized {
			out = append(out, d)
		}
	}
	return out
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	diags, err := st.LoadDiagnostics(runID)
	if err != nil {
		return err
	}
	if len(diags) == 0 {
		return fmt.Errorf("run %s has no diagnostics", runID)
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s  bodies: %d  ranks: %d\n\n", meta.Model, meta.Bodies, meta.Ranks)

	synced := synchronized(diags)
	panels := []struct {
		caption string
		rows    []metrics.Diagnostics
		fn      func(metrics.Diagnostics) float64
	}{
		{"total energy", synced, func(d metrics.Diagnostics) float64 { return d.Total() }},
		{"virial ratio 2K/|W|", synced, func(d metrics.Diagnostics) float64 { return d.Virial() }},
		{"bound particles", diags, func(d metrics.Diagnostics) float64 { return float64(d.Count - d.Escaped) }},
		{"load imbalance", diags, func(d metrics.Diagnostics) float64 { return d.Imbalance }},
	}
	for _, p := range panels {
		if len(p.rows) == 0 {
			continue
		}
		values := series(p.rows, p.fn)
		if err := writeSVG(p.caption, export.SeriesSVG(values, 800, 240, "#00ff88")); err != nil {
			return err
		}
		graph := asciigraph.Plot(values,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(p.caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	if !plotSnapshot {
		return nil
	}
	u, v, err := parsePlane(plotPlane)
	if err != nil {
		return err
	}
	snaps, err := st.Snapshots(runID)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	last := snaps[len(snaps)-1]
	hdr, bodies, err := storage.ReadSnapshot(last)
	if err != nil {
		return err
	}
	proj := analysis.Project(bodies, u, v)
	if err := writeSVG("snapshot "+plotPlane, export.ProjectionSVG(proj, 800)); err != nil {
		return err
	}
	fmt.Println(viz.Panel.Render(proj.ToASCII(80, 30)))
	fmt.Printf("%s  step %d  t=%.4g  n=%d\n", filepath.Base(last), hdr.Step, hdr.Time, hdr.Count)
	return nil
}

// writeSVG stores svg under --svg named after caption; a no-op without --svg.
func writeSVG(caption, svg string) error {
	if plotSVG == "" || svg == "" {
		return nil
	}
	if err := os.MkdirAll(plotSVG, 0755); err != nil {
		return err
	}
	name := strings.NewReplacer(" ", "_", "/", "_").Replace(caption)
	f, err := os.Create(filepath.Join(plotSVG, name+".svg"))
	if err != nil {
		return err
	}
	defer f.Close()
	return export.Write(f, svg)
}

func parsePlane(s string) (analysis.Axis, analysis.Axis, error) {
	switch s {
	case "xy":
		return analysis.AxisX, analysis.AxisY, nil
	case "xz":
		return analysis.AxisX, analysis.AxisZ, nil
	case "yz":
		return analysis.AxisY, analysis.AxisZ, nil
	}
	return 0, 0, fmt.Errorf("unknown plane %q", s)
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	data, err := st.Export(runID)
	if err != nil {
		return err
	}
	if jsonOut {
		return storage.ExportJSONStdout(data)
	}
	if exportPath != "" {
		if err := storage.ExportJSON(exportPath, data); err != nil {
			return err
		}
		fmt.Printf("exported %s to %s\n", runID, exportPath)
		return nil
	}

	// block boundaries are evenly spaced in time
	diags := synchronized(data.Diagnostics)
	if len(diags) < 4 {
		return fmt.Errorf("run %s has too few steps to analyze", runID)
	}
	first, last := diags[0], diags[len(diags)-1]
	dt := (last.Time - first.Time) / float64(len(diags)-1)

	rows := [][2]string{
		{"run", data.Run.ID},
		{"model", data.Run.Model},
		{"steps", fmt.Sprint(len(data.Diagnostics))},
	}
	for _, name := range sortedKeys(data.Run.Metrics) {
		rows = append(rows, [2]string{name, viz.Sci(data.Run.Metrics[name])})
	}
	for _, s := range []struct {
		name string
		fn   func(metrics.Diagnostics) float64
	}{
		{"virial", func(d metrics.Diagnostics) float64 { return d.Virial() }},
		{"kinetic", func(d metrics.Diagnostics) float64 { return d.Kinetic }},
	} {
		period, power := analysis.DominantPeriod(series(diags, s.fn), dt)
		if period == 0 {
			rows = append(rows, [2]string{s.name + " period", "none"})
			continue
		}
		rows = append(rows, [2]string{s.name + " period", fmt.Sprintf("%.4g (power %s)", period, viz.Sci(power))})
	}
	fmt.Println(viz.Table("analysis", rows))

	ps := analysis.Spectrum(series(diags, func(d metrics.Diagnostics) float64 { return d.Virial() }))
	if len(ps) > 2 {
		fmt.Println(asciigraph.Plot(ps[1:],
			asciigraph.Height(12),
			asciigraph.Width(80),
			asciigraph.Caption("virial power spectrum"),
		))
		fmt.Println()
	}

	if len(data.Snapshots) == 0 {
		return nil
	}
	path := data.Snapshots[len(data.Snapshots)-1]
	hdr, bodies, err := storage.ReadSnapshot(path)
	if err != nil {
		return err
	}
	radii, err := analysis.LagrangianRadii(bodies, analysis.DefaultFractions)
	if err != nil {
		return err
	}
	lr := make([][2]string, len(radii))
	for i, r := range radii {
		lr[i] = [2]string{fmt.Sprintf("%g%% mass", 100*analysis.DefaultFractions[i]), fmt.Sprintf("%.4g", r)}
	}
	fmt.Println(viz.Table(fmt.Sprintf("lagrangian radii (step %d, t=%.4g)", hdr.Step, hdr.Time), lr))
	return nil
}
