package octree

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// Validate checks the structural invariants of a built tree against the
// positions it was built from: every particle sits in exactly one leaf,
// children partition their parent's range, and every cell contains its
// particles and children.
func (t *Tree) Validate(pos []r3.Vec) error {
	n := len(pos)
	if t.Empty() {
		if n != 0 {
			return fmt.Errorf("%w: empty tree over %d particles", dynamo.ErrInvalidState, n)
		}
		return nil
	}
	root := t.Root()
	if root.Begin != 0 || root.End != n {
		return fmt.Errorf("%w: root covers [%d,%d) of %d", dynamo.ErrInvalidState, root.Begin, root.End, n)
	}

	seen := make([]int, n)
	for i := range t.Nodes {
		nd := &t.Nodes[i]
		tol := 1e-9*nd.Half + 1e-12
		for p := nd.Begin; p < nd.End; p++ {
			if !inCell(pos[p], nd.Center, nd.Half+tol) {
				return fmt.Errorf("%w: particle %d outside node %d", dynamo.ErrInvalidState, p, i)
			}
		}
		if nd.Leaf() {
			for p := nd.Begin; p < nd.End; p++ {
				seen[p]++
			}
			continue
		}
		next := nd.Begin
		for c := nd.FirstChild; c < nd.FirstChild+nd.NChild; c++ {
			ch := &t.Nodes[c]
			if ch.Begin != next || ch.End <= ch.Begin {
				return fmt.Errorf("%w: child %d of node %d covers [%d,%d), want start %d",
					dynamo.ErrInvalidState, c, i, ch.Begin, ch.End, next)
			}
			if ch.Level != nd.Level+1 || !cellInside(ch, nd, tol) {
				return fmt.Errorf("%w: child %d not nested in node %d", dynamo.ErrInvalidState, c, i)
			}
			next = ch.End
		}
		if next != nd.End {
			return fmt.Errorf("%w: children of node %d stop at %d, want %d", dynamo.ErrInvalidState, i, next, nd.End)
		}
	}
	for p, k := range seen {
		if k != 1 {
			return fmt.Errorf("%w: particle %d in %d leaves", dynamo.ErrInvalidState, p, k)
		}
	}
	return nil
}

func inCell(p, c r3.Vec, half float64) bool {
	d := r3.Sub(p, c)
	return abs(d.X) <= half && abs(d.Y) <= half && abs(d.Z) <= half
}

func cellInside(child, parent *Node, tol float64) bool {
	d := r3.Sub(child.Center, parent.Center)
	lim := parent.Half - child.Half + tol
	return abs(d.X) <= lim && abs(d.Y) <= lim && abs(d.Z) <= lim
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
