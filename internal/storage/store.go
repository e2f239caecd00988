// Package storage persists runs: one directory per run holding its
// metadata, per-step diagnostics and binary snapshots.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/metrics"
)

const (
	metadataFile    = "metadata.json"
	diagnosticsFile = "diagnostics.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Model       string             `json:"model"`
	Timestamp   time.Time          `json:"timestamp"`
	Seed        int64              `json:"seed"`
	Ranks       int                `json:"ranks"`
	Bodies      int                `json:"bodies"`
	First       int                `json:"first"`
	Second      int                `json:"second"`
	Third       int                `json:"third"`
	Dt          float64            `json:"dt"`
	EndTime     float64            `json:"end_time"`
	Theta       float64            `json:"theta"`
	Eps         float64            `json:"eps"`
	Device      string             `json:"device"`
	Steps       int                `json:"steps"`
	WallSeconds float64            `json:"wall_seconds"`
	Snapshots   int                `json:"snapshots"`
	Metrics     map[string]float64 `json:"metrics"`
	Config      any                `json:"config,omitempty"`
}

// Run is an open run directory.
type Run struct {
	ID  string
	Dir string

	file *os.File
	csv  *csv.Writer
}

// Create makes a fresh run directory named after the model and the current
// time, and opens its diagnostics file.
func (s *Store) Create(model string) (*Run, error) {
	runID := fmt.Sprintf("%s_%d", model, time.Now().UnixNano())
	dir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, diagnosticsFile))
	if err != nil {
		return nil, err
	}
	r := &Run{ID: runID, Dir: dir, file: f, csv: csv.NewWriter(f)}
	if err := r.csv.Write(diagnosticsHeader); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

var diagnosticsHeader = []string{
	"step", "time", "count", "mass", "kinetic", "potential", "total",
	"px", "py", "pz", "escaped", "removed", "imbalance", "interactions",
	"synchronized",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// Observe appends one diagnostics row.
func (r *Run) Observe(d metrics.Diagnostics) error {
	row := []string{
		strconv.Itoa(d.Step),
		formatFloat(d.Time),
		strconv.Itoa(d.Count),
		formatFloat(d.Mass),
		formatFloat(d.Kinetic),
		formatFloat(d.Potential),
		formatFloat(d.Total()),
		formatFloat(d.Momentum.X),
		formatFloat(d.Momentum.Y),
		formatFloat(d.Momentum.Z),
		strconv.Itoa(d.Escaped),
		strconv.Itoa(d.Removed),
		formatFloat(d.Imbalance),
		strconv.FormatInt(d.Interactions, 10),
		strconv.FormatBool(d.Synchronized),
	}
	if err := r.csv.Write(row); err != nil {
		return err
	}
	r.csv.Flush()
	return r.csv.Error()
}

// Finish writes metadata.json and closes the diagnostics file.
func (r *Run) Finish(meta RunMetadata) error {
	meta.ID = r.ID
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}

	r.csv.Flush()
	if err := r.file.Close(); err != nil {
		return err
	}

	metaFile, err := os.Create(filepath.Join(r.Dir, metadataFile))
	if err != nil {
		return err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadDiagnostics reads back the per-step series of a run. Malformed rows
// are skipped.
func (s *Store) LoadDiagnostics(runID string) ([]metrics.Diagnostics, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, diagnosticsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []metrics.Diagnostics{}, nil
	}

	out := make([]metrics.Diagnostics, 0, len(records)-1)
	for _, rec := range records[1:] {
		d, ok := parseDiagnostics(rec)
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func parseDiagnostics(rec []string) (metrics.Diagnostics, bool) {
	if len(rec) != len(diagnosticsHeader) {
		return metrics.Diagnostics{}, false
	}
	synced, err := strconv.ParseBool(rec[len(rec)-1])
	if err != nil {
		return metrics.Diagnostics{}, false
	}
	f := make([]float64, len(rec)-1)
	for i, field := range rec[:len(rec)-1] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return metrics.Diagnostics{}, false
		}
		f[i] = v
	}
	return metrics.Diagnostics{
		Step:         int(f[0]),
		Time:         f[1],
		Count:        int(f[2]),
		Mass:         f[3],
		Kinetic:      f[4],
		Potential:    f[5],
		Momentum:     r3.Vec{X: f[7], Y: f[8], Z: f[9]},
		Escaped:      int(f[10]),
		Removed:      int(f[11]),
		Imbalance:    f[12],
		Interactions: int64(f[13]),
		Synchronized: synced,
	}, true
}

// Snapshots lists the snapshot files of a run in name order.
func (s *Store) Snapshots(runID string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.baseDir, runID, "*"+snapshotExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
