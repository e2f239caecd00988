package octree

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/compute"
)

// Props recomputes every node's multipole data from pos, deepest level
// first, so children are final before their parent reads them. Nodes of one
// level are independent and run as one kernel launch.
func (t *Tree) Props(be compute.Backend, pos []r3.Vec, mass, eps2 []float64) {
	for l := len(t.Levels) - 1; l >= 0; l-- {
		lo, hi := t.Levels[l][0], t.Levels[l][1]
		be.Launch(hi-lo, func(k, _ int) {
			nd := &t.Nodes[lo+k]
			if nd.Leaf() {
				t.leafProps(nd, pos, mass, eps2)
			} else {
				t.nodeProps(nd)
			}
			finish(nd)
		})
	}
}

func (t *Tree) leafProps(nd *Node, pos []r3.Vec, mass, eps2 []float64) {
	var m, e float64
	var mp, mean r3.Vec
	lo, hi := pos[nd.Begin], pos[nd.Begin]
	for i := nd.Begin; i < nd.End; i++ {
		p := pos[i]
		m += mass[i]
		e += mass[i] * eps2[i]
		mp = r3.Add(mp, r3.Scale(mass[i], p))
		mean = r3.Add(mean, p)
		lo, hi = minVec(lo, p), maxVec(hi, p)
	}
	n := float64(nd.Count())
	nd.Mass = m
	nd.Tight = r3.Box{Min: lo, Max: hi}
	if m > 0 {
		nd.COM = r3.Scale(1/m, mp)
		nd.Eps2 = e / m
	} else {
		nd.COM = r3.Scale(1/n, mean)
		nd.Eps2 = 0
		for i := nd.Begin; i < nd.End; i++ {
			nd.Eps2 += eps2[i] / n
		}
	}
	var q Quad
	for i := nd.Begin; i < nd.End; i++ {
		q = q.add(pointQuad(mass[i], r3.Sub(pos[i], nd.COM)))
	}
	nd.Quad = q
}

func (t *Tree) nodeProps(nd *Node) {
	children := t.Nodes[nd.FirstChild : nd.FirstChild+nd.NChild]
	var m, e float64
	var mp, mean r3.Vec
	tight := children[0].Tight
	for i := range children {
		c := &children[i]
		m += c.Mass
		e += c.Mass * c.Eps2
		mp = r3.Add(mp, r3.Scale(c.Mass, c.COM))
		mean = r3.Add(mean, c.COM)
		tight = r3.Box{Min: minVec(tight.Min, c.Tight.Min), Max: maxVec(tight.Max, c.Tight.Max)}
	}
	nd.Mass = m
	nd.Tight = tight
	if m > 0 {
		nd.COM = r3.Scale(1/m, mp)
		nd.Eps2 = e / m
	} else {
		nd.COM = r3.Scale(1/float64(len(children)), mean)
		nd.Eps2 = 0
	}
	// parallel-axis shift of each child's moment to this node's COM
	var q Quad
	for i := range children {
		c := &children[i]
		q = q.add(c.Quad).add(pointQuad(c.Mass, r3.Sub(c.COM, nd.COM)))
	}
	nd.Quad = q
}

func finish(nd *Node) {
	ext := nd.Tight.Size()
	nd.Size = math.Max(ext.X, math.Max(ext.Y, ext.Z))
	nd.Delta = r3.Norm(r3.Sub(nd.COM, nd.Tight.Center()))
}

// OpenRadius2 is the squared distance inside which the node must be opened.
func (n *Node) OpenRadius2(theta float64) float64 {
	r := n.Size/theta + n.Delta
	return r * r
}

// InTight reports whether p lies in the node's closed tight box.
func (n *Node) InTight(p r3.Vec) bool {
	return p.X >= n.Tight.Min.X && p.X <= n.Tight.Max.X &&
		p.Y >= n.Tight.Min.Y && p.Y <= n.Tight.Max.Y &&
		p.Z >= n.Tight.Min.Z && p.Z <= n.Tight.Max.Z
}

func minVec(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
}

func maxVec(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}
