package analysis

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// DefaultFractions are the mass fractions conventionally tracked for star
// clusters.
var DefaultFractions = []float64{0.1, 0.25, 0.5, 0.75, 0.9}

// CenterOfMass of a particle set.
func CenterOfMass(bodies []dynamo.Body) r3.Vec {
	var sum r3.Vec
	var m float64
	for _, b := range bodies {
		sum = r3.Add(sum, r3.Scale(b.Mass, b.Pos))
		m += b.Mass
	}
	if m == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/m, sum)
}

// LagrangianRadii returns, for each fraction in (0, 1], the smallest radius
// about the centre of mass that encloses that fraction of the total mass.
func LagrangianRadii(bodies []dynamo.Body, fractions []float64) ([]float64, error) {
	for _, f := range fractions {
		if f <= 0 || f > 1 {
			return nil, fmt.Errorf("%w: mass fraction %g", dynamo.ErrInvalidInput, f)
		}
	}
	out := make([]float64, len(fractions))
	if len(bodies) == 0 {
		return out, nil
	}

	com := CenterOfMass(bodies)
	type shell struct{ r, m float64 }
	shells := make([]shell, len(bodies))
	total := 0.0
	for i, b := range bodies {
		shells[i] = shell{r3.Norm(r3.Sub(b.Pos, com)), b.Mass}
		total += b.Mass
	}
	sort.Slice(shells, func(i, j int) bool { return shells[i].r < shells[j].r })

	for k, f := range fractions {
		target := f * total
		acc := 0.0
		for _, s := range shells {
			acc += s.m
			out[k] = s.r
			if acc >= target*(1-1e-12) {
				break
			}
		}
	}
	return out, nil
}
