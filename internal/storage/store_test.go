package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/metrics"
)

func TestStoreRunRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	run, err := st.Create("plummer")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for step := 0; step < 3; step++ {
		d := metrics.Diagnostics{
			Step:      step,
			Time:      float64(step) * 0.0625,
			Count:     100,
			Mass:      1,
			Kinetic:   0.25,
			Potential: -0.5,
			Momentum:  r3.Vec{X: 1e-17},
		}
		d.Synchronized = step != 1
		if err := run.Observe(d); err != nil {
			t.Fatalf("observe failed: %v", err)
		}
	}

	err = run.Finish(RunMetadata{
		Model:   "plummer",
		Seed:    42,
		Ranks:   4,
		Bodies:  100,
		Steps:   3,
		Metrics: map[string]float64{"energy_drift": 1e-6},
	})
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	meta, err := st.Load(run.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Model != "plummer" || meta.Seed != 42 || meta.Ranks != 4 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Metrics["energy_drift"] != 1e-6 {
		t.Errorf("expected energy_drift 1e-6, got %g", meta.Metrics["energy_drift"])
	}

	diags, err := st.LoadDiagnostics(run.ID)
	if err != nil {
		t.Fatalf("load diagnostics failed: %v", err)
	}
	if len(diags) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(diags))
	}
	if diags[1].Synchronized || !diags[2].Synchronized {
		t.Errorf("synchronized flags not kept: %v %v", diags[1].Synchronized, diags[2].Synchronized)
	}
	if diags[2].Time != 0.125 || diags[2].Momentum.X != 1e-17 || diags[2].Total() != -0.25 {
		t.Errorf("unexpected row %+v", diags[2])
	}
}

func TestStoreList(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "missing"))
	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}

	st = New(t.TempDir())
	for _, model := range []string{"plummer", "two_body"} {
		run, err := st.Create(model)
		if err != nil {
			t.Fatal(err)
		}
		if err := run.Finish(RunMetadata{Model: model}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(st.baseDir, "junk"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestSnapshotWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewSnapshotWriter(dir, "", 10, 3)

	tests := []struct {
		step int
		due  bool
		name string
	}{
		{0, true, "snapshot_000003.bin"},
		{5, false, "snapshot_000003.bin"},
		{20, true, "snapshot_000005.bin"},
	}
	for _, tt := range tests {
		if w.Due(tt.step) != tt.due {
			t.Errorf("step %d: expected due=%v", tt.step, tt.due)
		}
		if got := filepath.Base(w.Path(tt.step)); got != tt.name {
			t.Errorf("step %d: expected %s, got %s", tt.step, tt.name, got)
		}
	}

	if NewSnapshotWriter(dir, "", -1, 0).Due(0) {
		t.Error("negative interval must disable snapshots")
	}

	bodies := []dynamo.Body{
		{ID: 7, Mass: 0.5, Eps: 0.01, Class: dynamo.ClassSecond, Pos: r3.Vec{X: 1, Y: 2, Z: 3}, Vel: r3.Vec{X: -1}},
		{ID: 1 << 40, Mass: 0.25, Pos: r3.Vec{Z: -4}},
	}
	if err := w.Snapshot(20, 1.25, bodies); err != nil {
		t.Fatal(err)
	}
	if w.Written() != 1 {
		t.Errorf("expected 1 snapshot written, got %d", w.Written())
	}

	h, got, err := ReadSnapshot(w.Path(20))
	if err != nil {
		t.Fatal(err)
	}
	if h.Step != 20 || h.Time != 1.25 || h.Count != 2 || h.Mass != 0.75 {
		t.Errorf("unexpected header %+v", h)
	}
	for i := range bodies {
		if got[i] != bodies[i] {
			t.Errorf("particle %d: expected %+v, got %+v", i, bodies[i], got[i])
		}
	}

	st := New(filepath.Dir(dir))
	paths, err := st.Snapshots(filepath.Base(dir))
	if err != nil || len(paths) != 1 {
		t.Errorf("expected one snapshot listed, got %v (%v)", paths, err)
	}
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 64))
	if _, _, err := DecodeSnapshot(&buf); !errors.Is(err, dynamo.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
