package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sample is one representative particle position with its load weight.
type Sample struct {
	Pos    r3.Vec
	Weight float64
}

type cut struct {
	axis        int
	at          float64
	left, right int // node indices; -1 on leaves
	rank        int // leaf only
}

// Partition maps every point in space to exactly one rank.
type Partition struct {
	Boxes []Box
	nodes []cut
}

// Single is the partition of a one-rank world.
func Single() *Partition {
	return &Partition{
		Boxes: []Box{Unbounded()},
		nodes: []cut{{left: -1, right: -1}},
	}
}

func (p *Partition) Size() int { return len(p.Boxes) }

// Owner returns the rank whose region contains pos.
func (p *Partition) Owner(pos r3.Vec) int {
	n := 0
	for p.nodes[n].left >= 0 {
		c := p.nodes[n]
		if axis(pos, c.axis) < c.at {
			n = c.left
		} else {
			n = c.right
		}
	}
	return p.nodes[n].rank
}

// Equal reports whether both partitions place every cut identically.
func (p *Partition) Equal(q *Partition) bool {
	if len(p.nodes) != len(q.nodes) {
		return false
	}
	for i := range p.nodes {
		if p.nodes[i] != q.nodes[i] {
			return false
		}
	}
	return true
}

// Table renders the per-rank regions, one line per rank.
func (p *Partition) Table() string {
	var sb strings.Builder
	for r, b := range p.Boxes {
		fmt.Fprintf(&sb, "rank %3d  [%10.4g %10.4g %10.4g] -> [%10.4g %10.4g %10.4g]\n",
			r, b.Low.X, b.Low.Y, b.Low.Z, b.High.X, b.High.Y, b.High.Z)
	}
	return sb.String()
}

// Bisect builds a partition for nranks from samples. Every rank passing the
// same samples gets the same partition.
func Bisect(samples []Sample, nranks int) *Partition {
	if nranks <= 1 {
		return Single()
	}
	s := append([]Sample(nil), samples...)
	pts := make([]r3.Vec, len(s))
	for i := range s {
		pts[i] = s[i].Pos
	}
	p := &Partition{Boxes: make([]Box, nranks)}
	p.bisect(s, Unbounded(), Bounds(pts), 0, nranks)
	return p
}

// bisect assigns ranks [lo, hi) to region. extent is the finite box used for
// geometric splits when the region holds too few samples.
func (p *Partition) bisect(s []Sample, region, extent Box, lo, hi int) int {
	id := len(p.nodes)
	p.nodes = append(p.nodes, cut{left: -1, right: -1, rank: lo})
	if hi-lo == 1 {
		p.Boxes[lo] = region
		return id
	}

	nleft := (hi - lo) / 2
	var a int
	var at float64
	if len(s) >= 2 {
		a = widest(Bounds(positions(s)))
		sortAlong(s, a)
		at = quantileCut(s, a, float64(nleft)/float64(hi-lo))
	} else {
		// too few samples: split the extent geometrically
		a = widest(extent)
		at = 0.5 * (axis(extent.Low, a) + axis(extent.High, a))
	}

	k := sort.Search(len(s), func(i int) bool { return axis(s[i].Pos, a) >= at })

	lr, rr := region, region
	setAxis(&lr.High, a, at)
	setAxis(&rr.Low, a, at)
	le, re := extent, extent
	setAxis(&le.High, a, math.Min(at, axis(extent.High, a)))
	setAxis(&re.Low, a, math.Max(at, axis(extent.Low, a)))

	left := p.bisect(s[:k], lr, le, lo, lo+nleft)
	right := p.bisect(s[k:], rr, re, lo+nleft, hi)
	p.nodes[id] = cut{axis: a, at: at, left: left, right: right}
	return id
}

func positions(s []Sample) []r3.Vec {
	out := make([]r3.Vec, len(s))
	for i := range s {
		out[i] = s[i].Pos
	}
	return out
}

func widest(b Box) int {
	d := r3.Sub(b.High, b.Low)
	a := 0
	if d.Y > d.X {
		a = 1
	}
	if d.Z > axis(d, a) {
		a = 2
	}
	return a
}

// sortAlong orders samples by coordinate a, then the other coordinates,
// then weight, so equal inputs sort identically on every rank.
func sortAlong(s []Sample, a int) {
	b, c := (a+1)%3, (a+2)%3
	sort.Slice(s, func(i, j int) bool {
		pi, pj := s[i].Pos, s[j].Pos
		if x, y := axis(pi, a), axis(pj, a); x != y {
			return x < y
		}
		if x, y := axis(pi, b), axis(pj, b); x != y {
			return x < y
		}
		if x, y := axis(pi, c), axis(pj, c); x != y {
			return x < y
		}
		return s[i].Weight < s[j].Weight
	})
}

// quantileCut returns the coordinate splitting the sorted samples at the
// weighted fraction f, halfway between the neighbouring samples.
func quantileCut(s []Sample, a int, f float64) float64 {
	total := 0.0
	for _, x := range s {
		total += x.Weight
	}
	target := f * total
	k, acc := 1, s[0].Weight
	for k < len(s)-1 && acc < target {
		acc += s[k].Weight
		k++
	}
	return 0.5 * (axis(s[k-1].Pos, a) + axis(s[k].Pos, a))
}

// Imbalance is the ratio of the largest load to the mean load.
func Imbalance(loads []float64) float64 {
	if len(loads) == 0 {
		return 1
	}
	sum, max := 0.0, 0.0
	for _, l := range loads {
		sum += l
		max = math.Max(max, l)
	}
	if sum == 0 {
		return 1
	}
	return max / (sum / float64(len(loads)))
}
