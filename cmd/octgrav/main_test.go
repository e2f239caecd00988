package main

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/analysis"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/metrics"
	"github.com/san-kum/octgrav/internal/storage"
	"github.com/san-kum/octgrav/internal/viz"
)

func TestParseGrid(t *testing.T) {
	keys, ranges, err := parseGrid([]string{"gravity.theta=0.4, 0.6", "tree.leaf_size=8"})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "gravity.theta" || keys[1] != "tree.leaf_size" {
		t.Errorf("unexpected keys %v", keys)
	}
	if len(ranges[0]) != 2 || ranges[0][1] != 0.6 || ranges[1][0] != 8 {
		t.Errorf("unexpected ranges %v", ranges)
	}

	for _, bad := range []string{"gravity.theta", "gravity.theta=a,b"} {
		if _, _, err := parseGrid([]string{bad}); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestFormatParams(t *testing.T) {
	keys := []string{"b", "a"}
	params := map[string]float64{"a": 1, "b": 0.5}
	if got := formatParams(keys, params, false); got != "0.5\t1" {
		t.Errorf("plain: got %q", got)
	}
	if got := formatParams(keys, params, true); got != "b=0.5  a=1" {
		t.Errorf("labelled: got %q", got)
	}
}

func TestBuildVersion(t *testing.T) {
	if got := buildVersion(); got == "" || got == "(devel)" {
		t.Errorf("buildVersion() = %q", got)
	}
}

func TestSynchronized(t *testing.T) {
	diags := []metrics.Diagnostics{
		{Step: 0, Synchronized: true},
		{Step: 1},
		{Step: 2, Synchronized: true},
	}
	got := synchronized(diags)
	if len(got) != 2 || got[0].Step != 0 || got[1].Step != 2 {
		t.Errorf("unexpected rows %+v", got)
	}
}

func TestParsePlane(t *testing.T) {
	tests := []struct {
		in   string
		u, v analysis.Axis
	}{
		{"xy", analysis.AxisX, analysis.AxisY},
		{"xz", analysis.AxisX, analysis.AxisZ},
		{"yz", analysis.AxisY, analysis.AxisZ},
	}
	for _, tt := range tests {
		u, v, err := parsePlane(tt.in)
		if err != nil || u != tt.u || v != tt.v {
			t.Errorf("%s: got (%v, %v, %v)", tt.in, u, v, err)
		}
	}
	if _, _, err := parsePlane("zz"); err == nil {
		t.Error("expected error for unknown plane")
	}
}

func TestLiveFeed(t *testing.T) {
	out := make(chan tea.Msg, 8)
	files := storage.NewSnapshotWriter(t.TempDir(), "snap_", 3, 0)
	feed := &liveFeed{ctx: context.Background(), out: out, every: 2, files: files}

	for step, want := range map[int]bool{0: true, 1: false, 2: true, 3: true, 5: false} {
		if got := feed.Due(step); got != want {
			t.Errorf("Due(%d) = %v, want %v", step, got, want)
		}
	}

	// unsampled step goes straight out
	if err := feed.OnStep(metrics.Diagnostics{Step: 1}); err != nil {
		t.Fatal(err)
	}
	msg := (<-out).(viz.StepMsg)
	if msg.Diag.Step != 1 || msg.Positions != nil {
		t.Errorf("unexpected message %+v", msg)
	}

	// sampled step waits for its particles
	if err := feed.OnStep(metrics.Diagnostics{Step: 2}); err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatal("sampled step sent before its snapshot")
	}
	bodies := []dynamo.Body{{ID: 1, Mass: 1, Pos: r3.Vec{X: 1}}, {ID: 2, Mass: 1, Pos: r3.Vec{Y: 2}}}
	if err := feed.Snapshot(2, 0.5, bodies); err != nil {
		t.Fatal(err)
	}
	msg = (<-out).(viz.StepMsg)
	if msg.Diag.Step != 2 || len(msg.Positions) != 2 || msg.Positions[1].Y != 2 {
		t.Errorf("unexpected message %+v", msg)
	}
	if files.Written() != 0 {
		t.Errorf("step 2 is not a file snapshot, wrote %d", files.Written())
	}

	// file-only step writes without sending
	if err := feed.Snapshot(3, 0.75, bodies); err != nil {
		t.Fatal(err)
	}
	if files.Written() != 1 || len(out) != 0 {
		t.Errorf("written %d, queued %d", files.Written(), len(out))
	}
}

func TestLiveFeedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed := &liveFeed{ctx: ctx, out: make(chan tea.Msg), files: storage.NewSnapshotWriter(t.TempDir(), "", -1, 0)}
	if err := feed.OnStep(metrics.Diagnostics{Step: 1}); err == nil {
		t.Error("expected an error once the view is gone")
	}
}
