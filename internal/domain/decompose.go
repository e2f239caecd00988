package domain

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/comm"
)

// Decomposer samples local particles and bisects the gathered sample.
type Decomposer struct {
	// SampleSize is the total number of samples across all ranks.
	SampleSize int
}

func NewDecomposer(sampleSize int) *Decomposer {
	if sampleSize < 1 {
		sampleSize = 1
	}
	return &Decomposer{SampleSize: sampleSize}
}

// Decompose computes a new partition. weights may be nil for unit load.
// Every rank must call it; a single rank returns the unbounded partition
// without communicating.
func (d *Decomposer) Decompose(ctx context.Context, c comm.Communicator, pos []r3.Vec, weights []float64) (*Partition, error) {
	if c.Size() == 1 {
		return Single(), nil
	}
	local := d.Sample(pos, weights, c.Size())
	all, err := comm.AllToAllv(ctx, c, replicate(local, c.Size()))
	if err != nil {
		return nil, fmt.Errorf("gather samples: %w", err)
	}
	var samples []Sample
	for _, s := range all {
		samples = append(samples, s...)
	}
	return Bisect(samples, c.Size()), nil
}

// Sample picks every stride-th particle so each rank contributes about
// SampleSize/nranks samples. A sample's weight is the summed load of the
// particles it stands for.
func (d *Decomposer) Sample(pos []r3.Vec, weights []float64, nranks int) []Sample {
	n := len(pos)
	if n == 0 {
		return nil
	}
	want := d.SampleSize / nranks
	if want < 1 {
		want = 1
	}
	stride := (n + want - 1) / want
	out := make([]Sample, 0, want)
	for i := 0; i < n; i += stride {
		w := 0.0
		for j := i; j < i+stride && j < n; j++ {
			if weights != nil && weights[j] > 0 {
				w += weights[j]
			} else {
				w++
			}
		}
		out = append(out, Sample{Pos: pos[i], Weight: w})
	}
	return out
}

func replicate(s []Sample, n int) [][]Sample {
	out := make([][]Sample, n)
	for i := range out {
		out[i] = s
	}
	return out
}
