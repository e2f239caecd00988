package gravity

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/octree"
	"github.com/san-kum/octgrav/internal/particles"
)

type Params struct {
	Theta      float64
	Quadrupole bool
}

func (p Params) Validate() error {
	if !(p.Theta > 0) {
		return fmt.Errorf("%w: theta %g must be > 0", dynamo.ErrParameterBounds, p.Theta)
	}
	return nil
}

// Engine evaluates forces for one rank. Positions are staged to the device
// before each launch and results staged back after it.
type Engine struct {
	be     compute.Backend
	params Params

	pos  *compute.Mirror[r3.Vec]
	eps  *compute.Mirror[float64]
	acc  *compute.Mirror[r3.Vec]
	pot  *compute.Mirror[float64]
	work *compute.Mirror[float64]

	stacks sync.Pool
}

func NewEngine(be compute.Backend, acct *compute.Accountant, params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{be: be, params: params}
	var err error
	if e.pos, err = compute.NewMirror[r3.Vec](acct, "gravity.pos", 0); err != nil {
		return nil, err
	}
	if e.eps, err = compute.NewMirror[float64](acct, "gravity.eps2", 0); err != nil {
		return nil, err
	}
	if e.acc, err = compute.NewMirror[r3.Vec](acct, "gravity.acc", 0); err != nil {
		return nil, err
	}
	if e.pot, err = compute.NewMirror[float64](acct, "gravity.pot", 0); err != nil {
		return nil, err
	}
	if e.work, err = compute.NewMirror[float64](acct, "gravity.work", 0); err != nil {
		return nil, err
	}
	e.stacks.New = func() any {
		s := make([]int, 0, 256)
		return &s
	}
	return e, nil
}

func (e *Engine) Params() Params { return e.params }

// Accelerations writes Acc1, Pot and Work for the particles listed in active
// from the tree over s (built on s.PPos) and the imported remote sources.
// It returns the number of interactions evaluated.
func (e *Engine) Accelerations(tr *octree.Tree, s *particles.Store, active []int, remote []Source) (int64, error) {
	n := s.Len()
	for _, err := range []error{e.pos.Resize(n), e.eps.Resize(n), e.acc.Resize(n), e.pot.Resize(n), e.work.Resize(n)} {
		if err != nil {
			return 0, err
		}
	}
	copy(e.pos.Host, s.PPos)
	copy(e.eps.Host, s.Eps2)
	e.pos.H2D()
	e.eps.H2D()

	pos, eps := e.pos.Device(), e.eps.Device()
	acc, pot, work := e.acc.Device(), e.pot.Device(), e.work.Device()
	e.be.Launch(len(active), func(k, _ int) {
		i := active[k]
		a, p, w := e.walk(tr, pos, s.Mass, eps, i)
		for j := range remote {
			src := &remote[j]
			da, dp := multipole(pos[i], eps[i], src.Pos, src.Mass, src.Eps2, src.Quad, src.HasQuad && e.params.Quadrupole)
			a = r3.Add(a, da)
			p += dp
		}
		acc[i], pot[i], work[i] = a, p, float64(w+len(remote))
	})

	e.acc.D2H()
	e.pot.D2H()
	e.work.D2H()
	var total int64
	for _, i := range active {
		s.Acc1[i] = e.acc.Host[i]
		s.Pot[i] = e.pot.Host[i]
		s.Work[i] = e.work.Host[i]
		total += int64(s.Work[i])
	}
	return total, nil
}

// walk sums the local tree's field at particle i.
func (e *Engine) walk(tr *octree.Tree, pos []r3.Vec, mass, eps []float64, i int) (r3.Vec, float64, int) {
	var acc r3.Vec
	var pot float64
	work := 0
	if tr.Empty() {
		return acc, pot, work
	}
	sp := e.stacks.Get().(*[]int)
	stack := append((*sp)[:0], 0)
	p, epsI := pos[i], eps[i]
	theta := e.params.Theta
	for len(stack) > 0 {
		nd := &tr.Nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]

		d2 := r3.Norm2(r3.Sub(p, nd.COM))
		if d2 > nd.OpenRadius2(theta) && !nd.InTight(p) {
			da, dp := multipole(p, epsI, nd.COM, nd.Mass, nd.Eps2, nd.Quad, e.params.Quadrupole)
			acc = r3.Add(acc, da)
			pot += dp
			work++
			continue
		}
		if nd.Leaf() {
			for j := nd.Begin; j < nd.End; j++ {
				if j == i {
					continue
				}
				da, dp := pair(p, epsI, pos[j], mass[j], eps[j])
				acc = r3.Add(acc, da)
				pot += dp
				work++
			}
			continue
		}
		for c := nd.FirstChild; c < nd.FirstChild+nd.NChild; c++ {
			stack = append(stack, c)
		}
	}
	*sp = stack
	e.stacks.Put(sp)
	return acc, pot, work
}

// Release returns the staging buffers to the accountant.
func (e *Engine) Release() {
	e.pos.Release()
	e.eps.Release()
	e.acc.Release()
	e.pot.Release()
	e.work.Release()
}
