package gravity

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/comm"
	"github.com/san-kum/octgrav/internal/octree"
	"github.com/san-kum/octgrav/internal/particles"
)

// Extent is the tight box around a rank's predicted positions. Count is zero
// for a rank without particles.
type Extent struct {
	Box   r3.Box
	Count int
}

func LocalExtent(pos []r3.Vec) Extent {
	if len(pos) == 0 {
		return Extent{}
	}
	b := r3.Box{Min: pos[0], Max: pos[0]}
	for _, p := range pos[1:] {
		b.Min = r3.Vec{X: min(b.Min.X, p.X), Y: min(b.Min.Y, p.Y), Z: min(b.Min.Z, p.Z)}
		b.Max = r3.Vec{X: max(b.Max.X, p.X), Y: max(b.Max.Y, p.Y), Z: max(b.Max.Z, p.Z)}
	}
	return Extent{Box: b, Count: len(pos)}
}

// Export walks the tree against a peer's extent. A node is sent as a
// multipole source when every point of the peer's box would accept it;
// otherwise it is opened, and opened leaves are sent particle by particle.
func Export(tr *octree.Tree, s *particles.Store, peer Extent, theta float64) []Source {
	if tr.Empty() || peer.Count == 0 {
		return nil
	}
	var out []Source
	stack := []int{0}
	for len(stack) > 0 {
		nd := &tr.Nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]

		if dist2(peer.Box, nd.COM) > nd.OpenRadius2(theta) && !overlap(peer.Box, nd.Tight) {
			out = append(out, Source{Pos: nd.COM, Mass: nd.Mass, Eps2: nd.Eps2, Quad: nd.Quad, HasQuad: true})
			continue
		}
		if nd.Leaf() {
			for j := nd.Begin; j < nd.End; j++ {
				out = append(out, Source{Pos: s.PPos[j], Mass: s.Mass[j], Eps2: s.Eps2[j]})
			}
			continue
		}
		for c := nd.FirstChild; c < nd.FirstChild+nd.NChild; c++ {
			stack = append(stack, c)
		}
	}
	return out
}

// ExchangeLET shares extents, exports one essential tree per peer and
// returns everything the other ranks exported to this one.
func ExchangeLET(ctx context.Context, c comm.Communicator, tr *octree.Tree, s *particles.Store, theta float64) ([]Source, error) {
	if c.Size() == 1 {
		return nil, nil
	}
	extents, err := comm.AllGather(ctx, c, LocalExtent(s.PPos))
	if err != nil {
		return nil, fmt.Errorf("gather extents: %w", err)
	}
	send := make([][]Source, c.Size())
	for r, ext := range extents {
		if r == c.Rank() {
			continue
		}
		send[r] = Export(tr, s, ext, theta)
	}
	recv, err := comm.AllToAllv(ctx, c, send)
	if err != nil {
		return nil, fmt.Errorf("exchange essential trees: %w", err)
	}
	var out []Source
	for r, part := range recv {
		if r != c.Rank() {
			out = append(out, part...)
		}
	}
	return out, nil
}

func dist2(b r3.Box, p r3.Vec) float64 {
	d := r3.Vec{X: gap(p.X, b.Min.X, b.Max.X), Y: gap(p.Y, b.Min.Y, b.Max.Y), Z: gap(p.Z, b.Min.Z, b.Max.Z)}
	return r3.Norm2(d)
}

func gap(x, lo, hi float64) float64 {
	if x < lo {
		return lo - x
	}
	if x > hi {
		return x - hi
	}
	return 0
}

func overlap(a, b r3.Box) bool {
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X &&
		a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y &&
		a.Min.Z <= b.Max.Z && b.Min.Z <= a.Max.Z
}
