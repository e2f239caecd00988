// Package initcond generates initial particle sets and distributes them
// from rank 0.
package initcond

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// Dataset is an ingested particle set with its population breakdown.
type Dataset struct {
	Bodies []dynamo.Body
	Total  int
	First  int
	Second int
	Third  int
}

// Header returns the dataset without its bodies.
func (d Dataset) Header() Dataset {
	d.Bodies = nil
	return d
}

func newDataset(bodies []dynamo.Body) Dataset {
	d := Dataset{Bodies: bodies, Total: len(bodies)}
	for _, b := range bodies {
		switch b.Class {
		case dynamo.ClassFirst:
			d.First++
		case dynamo.ClassSecond:
			d.Second++
		case dynamo.ClassThird:
			d.Third++
		}
	}
	return d
}

type Generator func(n int, seed int64) Dataset

var generators = map[string]Generator{
	"plummer":       Plummer,
	"uniform":       UniformCube,
	"cold_collapse": ColdCollapse,
	"two_body":      func(int, int64) Dataset { return TwoBody(2, 0) },
}

// Models lists the generator names in order.
func Models() []string {
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Generate(model string, n int, seed int64) (Dataset, error) {
	gen, ok := generators[model]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: unknown model %q", dynamo.ErrInvalidInput, model)
	}
	if n < 1 {
		return Dataset{}, fmt.Errorf("%w: %d bodies", dynamo.ErrInvalidInput, n)
	}
	return gen(n, seed), nil
}

// sampler draws every variate of one dataset from a single seeded stream.
type sampler struct {
	unit distuv.Uniform
	sym  distuv.Uniform
	phi  distuv.Uniform
}

func newSampler(seed int64) sampler {
	src := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
	return sampler{
		unit: distuv.Uniform{Min: 0, Max: 1, Src: src},
		sym:  distuv.Uniform{Min: -1, Max: 1, Src: src},
		phi:  distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src},
	}
}

// direction is uniform on the unit sphere.
func (sm sampler) direction() r3.Vec {
	z := sm.sym.Rand()
	phi := sm.phi.Rand()
	s := math.Sqrt(1 - z*z)
	return r3.Vec{X: s * math.Cos(phi), Y: s * math.Sin(phi), Z: z}
}

// Plummer samples an equal-mass Plummer sphere in standard units
// (G = M = 1, E = -1/4), centred on the origin at rest.
func Plummer(n int, seed int64) Dataset {
	sm := newSampler(seed)
	scale := 3 * math.Pi / 16
	bodies := make([]dynamo.Body, n)
	for i := range bodies {
		var r float64
		for {
			r = 1 / math.Sqrt(math.Pow(sm.unit.Rand(), -2.0/3.0)-1)
			if r < 20 {
				break
			}
		}
		var q float64
		for {
			q = sm.unit.Rand()
			if 0.1*sm.unit.Rand() < q*q*math.Pow(1-q*q, 3.5) {
				break
			}
		}
		v := q * math.Sqrt2 * math.Pow(1+r*r, -0.25)
		bodies[i] = dynamo.Body{
			ID:    int64(i),
			Mass:  1 / float64(n),
			Pos:   r3.Scale(r*scale, sm.direction()),
			Vel:   r3.Scale(v/math.Sqrt(scale), sm.direction()),
			Class: dynamo.ClassFirst,
		}
	}
	recentre(bodies)
	return newDataset(bodies)
}

// UniformCube fills [-1,1)^3 with cold particles; every fourth particle is
// tagged as the second class.
func UniformCube(n int, seed int64) Dataset {
	sm := newSampler(seed)
	bodies := make([]dynamo.Body, n)
	for i := range bodies {
		class := dynamo.ClassFirst
		if i%4 == 3 {
			class = dynamo.ClassSecond
		}
		bodies[i] = dynamo.Body{
			ID:    int64(i),
			Mass:  1 / float64(n),
			Pos:   r3.Vec{X: sm.sym.Rand(), Y: sm.sym.Rand(), Z: sm.sym.Rand()},
			Class: class,
		}
	}
	return newDataset(bodies)
}

// ColdCollapse is a uniform sphere of unit radius at rest.
func ColdCollapse(n int, seed int64) Dataset {
	sm := newSampler(seed)
	bodies := make([]dynamo.Body, n)
	for i := range bodies {
		r := math.Cbrt(sm.unit.Rand())
		bodies[i] = dynamo.Body{
			ID:    int64(i),
			Mass:  1 / float64(n),
			Pos:   r3.Scale(r, sm.direction()),
			Class: dynamo.ClassThird,
		}
	}
	recentre(bodies)
	return newDataset(bodies)
}

// TwoBody places unit masses at x = ±sep/2 moving at ∓speed along y.
func TwoBody(sep, speed float64) Dataset {
	return newDataset([]dynamo.Body{
		{ID: 0, Mass: 1, Pos: r3.Vec{X: -sep / 2}, Vel: r3.Vec{Y: -speed}, Class: dynamo.ClassFirst},
		{ID: 1, Mass: 1, Pos: r3.Vec{X: sep / 2}, Vel: r3.Vec{Y: speed}, Class: dynamo.ClassFirst},
	})
}

// recentre moves the centre of mass to the origin at rest.
func recentre(bodies []dynamo.Body) {
	var m float64
	var p, v r3.Vec
	for _, b := range bodies {
		m += b.Mass
		p = r3.Add(p, r3.Scale(b.Mass, b.Pos))
		v = r3.Add(v, r3.Scale(b.Mass, b.Vel))
	}
	if m == 0 {
		return
	}
	p, v = r3.Scale(1/m, p), r3.Scale(1/m, v)
	for i := range bodies {
		bodies[i].Pos = r3.Sub(bodies[i].Pos, p)
		bodies[i].Vel = r3.Sub(bodies[i].Vel, v)
	}
}
