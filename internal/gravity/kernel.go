package gravity

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/octree"
)

// Source is an imported point mass, optionally carrying the quadrupole of
// the node it summarises.
type Source struct {
	Pos     r3.Vec
	Mass    float64
	Eps2    float64
	Quad    octree.Quad
	HasQuad bool
}

// pair is the softened interaction of a particle at p with a point mass at
// q. Softening is symmetric in the two particles.
func pair(p r3.Vec, epsI float64, q r3.Vec, m, epsJ float64) (r3.Vec, float64) {
	d := r3.Sub(q, p)
	r2 := r3.Norm2(d) + 0.5*(epsI+epsJ)
	inv := 1 / math.Sqrt(r2)
	inv3 := inv * inv * inv
	return r3.Scale(m*inv3, d), -m * inv
}

// multipole is the field at p of mass m at com with quadrupole q.
func multipole(p r3.Vec, epsI float64, com r3.Vec, m, epsJ float64, q octree.Quad, useQuad bool) (r3.Vec, float64) {
	x := r3.Sub(p, com)
	r2 := r3.Norm2(x) + 0.5*(epsI+epsJ)
	inv := 1 / math.Sqrt(r2)
	inv2 := inv * inv
	inv3 := inv * inv2
	acc := r3.Scale(-m*inv3, x)
	pot := -m * inv
	if !useQuad {
		return acc, pot
	}
	inv5 := inv3 * inv2
	qx := q.Apply(x)
	xqx := r3.Dot(x, qx)
	acc = r3.Add(acc, r3.Scale(inv5, qx))
	acc = r3.Sub(acc, r3.Scale(2.5*xqx*inv5*inv2, x))
	pot -= 0.5 * xqx * inv5
	return acc, pot
}
