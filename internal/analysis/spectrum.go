package analysis

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/stat"
)

// Spectrum returns the one-sided power spectrum of series after removing its
// mean and applying a Hann window. Bin k corresponds to frequency k/(n*dt).
func Spectrum(series []float64) []float64 {
	n := len(series)
	if n < 2 {
		return nil
	}
	x := make([]float64, n)
	mean := stat.Mean(series, nil)
	for i, v := range series {
		x[i] = v - mean
	}
	window.Apply(x, window.Hann)

	coeffs := fft.FFTReal(x)
	ps := make([]float64, n/2+1)
	for i := range ps {
		a := cmplx.Abs(coeffs[i])
		ps[i] = a * a / float64(n)
	}
	return ps
}

// DominantPeriod returns the period of the strongest non-zero frequency bin
// and its power. A flat or too-short series yields (0, 0).
func DominantPeriod(series []float64, dt float64) (float64, float64) {
	ps := Spectrum(series)
	if len(ps) < 2 || dt <= 0 {
		return 0, 0
	}
	best := 1
	for k := 2; k < len(ps); k++ {
		if ps[k] > ps[best] {
			best = k
		}
	}
	if ps[best] == 0 {
		return 0, 0
	}
	return float64(len(series)) * dt / float64(best), ps[best]
}
