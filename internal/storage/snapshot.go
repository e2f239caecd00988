package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/dynamo"
)

const (
	snapshotExt   = ".bin"
	snapshotMagic = uint32(0x4f435447) // "OCTG"
	// Version 1: header followed by Count fixed-size particle records.
	snapshotVersion = uint32(1)
)

// SnapshotHeader leads every snapshot file. All fields are little-endian.
type SnapshotHeader struct {
	Magic   uint32
	Version uint32
	Step    int64
	Time    float64
	Count   int64
	Mass    float64
}

type snapshotRecord struct {
	ID    int64
	Class uint8
	_     [7]byte
	Mass  float64
	Eps   float64
	Pos   [3]float64
	Vel   [3]float64
}

// SnapshotWriter emits numbered snapshot files into a run directory.
type SnapshotWriter struct {
	Dir      string
	Template string
	Interval int
	Offset   int

	written int
}

func NewSnapshotWriter(dir, template string, interval, offset int) *SnapshotWriter {
	if template == "" {
		template = "snapshot_"
	}
	return &SnapshotWriter{Dir: dir, Template: template, Interval: interval, Offset: offset}
}

// Due reports whether step is a snapshot step. A non-positive interval
// disables snapshots.
func (w *SnapshotWriter) Due(step int) bool {
	return w.Interval > 0 && step%w.Interval == 0
}

// Path is the file that the snapshot of step is written to.
func (w *SnapshotWriter) Path(step int) string {
	n := w.Offset
	if w.Interval > 0 {
		n += step / w.Interval
	}
	return filepath.Join(w.Dir, fmt.Sprintf("%s%06d%s", w.Template, n, snapshotExt))
}

func (w *SnapshotWriter) Written() int { return w.written }

// Snapshot writes the global particle set of a completed step.
func (w *SnapshotWriter) Snapshot(step int, t float64, bodies []dynamo.Body) error {
	path := w.Path(step)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := WriteSnapshot(f, step, t, bodies); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	w.written++
	return nil
}

func WriteSnapshot(out io.Writer, step int, t float64, bodies []dynamo.Body) error {
	bw := bufio.NewWriter(out)
	h := SnapshotHeader{
		Magic:   snapshotMagic,
		Version: snapshotVersion,
		Step:    int64(step),
		Time:    t,
		Count:   int64(len(bodies)),
	}
	for _, b := range bodies {
		h.Mass += b.Mass
	}
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return err
	}

	for _, b := range bodies {
		rec := snapshotRecord{
			ID:    b.ID,
			Class: uint8(b.Class),
			Mass:  b.Mass,
			Eps:   b.Eps,
			Pos:   [3]float64{b.Pos.X, b.Pos.Y, b.Pos.Z},
			Vel:   [3]float64{b.Vel.X, b.Vel.Y, b.Vel.Z},
		}
		if err := binary.Write(bw, binary.LittleEndian, &rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSnapshot loads a file written by SnapshotWriter.
func ReadSnapshot(path string) (SnapshotHeader, []dynamo.Body, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotHeader{}, nil, err
	}
	defer f.Close()
	return DecodeSnapshot(bufio.NewReader(f))
}

func DecodeSnapshot(r io.Reader) (SnapshotHeader, []dynamo.Body, error) {
	var h SnapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, nil, fmt.Errorf("read snapshot header: %w", err)
	}
	if h.Magic != snapshotMagic {
		return h, nil, fmt.Errorf("%w: bad snapshot magic %#x", dynamo.ErrInvalidInput, h.Magic)
	}
	if h.Version != snapshotVersion {
		return h, nil, fmt.Errorf("%w: unsupported snapshot version %d", dynamo.ErrInvalidInput, h.Version)
	}
	if h.Count < 0 {
		return h, nil, fmt.Errorf("%w: negative particle count %d", dynamo.ErrInvalidInput, h.Count)
	}

	bodies := make([]dynamo.Body, h.Count)
	var rec snapshotRecord
	for i := range bodies {
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return h, nil, fmt.Errorf("read particle %d: %w", i, err)
		}
		bodies[i] = dynamo.Body{
			ID:    rec.ID,
			Class: dynamo.Class(rec.Class),
			Mass:  rec.Mass,
			Eps:   rec.Eps,
			Pos:   r3.Vec{X: rec.Pos[0], Y: rec.Pos[1], Z: rec.Pos[2]},
			Vel:   r3.Vec{X: rec.Vel[0], Y: rec.Vel[1], Z: rec.Vel[2]},
		}
	}
	return h, bodies, nil
}
