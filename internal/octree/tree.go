package octree

import (
	"fmt"
	"math"
	"sort"
	"unsafe"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/particles"
)

// Quad is a symmetric traceless quadrupole tensor.
type Quad struct {
	XX, YY, ZZ, XY, XZ, YZ float64
}

// Apply returns Q·v.
func (q Quad) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: q.XX*v.X + q.XY*v.Y + q.XZ*v.Z,
		Y: q.XY*v.X + q.YY*v.Y + q.YZ*v.Z,
		Z: q.XZ*v.X + q.YZ*v.Y + q.ZZ*v.Z,
	}
}

func (q Quad) add(o Quad) Quad {
	return Quad{q.XX + o.XX, q.YY + o.YY, q.ZZ + o.ZZ, q.XY + o.XY, q.XZ + o.XZ, q.YZ + o.YZ}
}

// pointQuad is the quadrupole of mass m displaced by d.
func pointQuad(m float64, d r3.Vec) Quad {
	r2 := r3.Norm2(d)
	return Quad{
		XX: m * (3*d.X*d.X - r2),
		YY: m * (3*d.Y*d.Y - r2),
		ZZ: m * (3*d.Z*d.Z - r2),
		XY: m * 3 * d.X * d.Y,
		XZ: m * 3 * d.X * d.Z,
		YZ: m * 3 * d.Y * d.Z,
	}
}

// Node is one cell of the tree. A node with NChild == 0 is a leaf owning
// particles [Begin, End).
type Node struct {
	Level      int
	Key        uint64
	Begin, End int
	FirstChild int
	NChild     int
	Center     r3.Vec
	Half       float64

	Mass  float64
	COM   r3.Vec
	Quad  Quad
	Tight r3.Box
	Eps2  float64
	Size  float64
	Delta float64
}

func (n *Node) Leaf() bool { return n.NChild == 0 }
func (n *Node) Count() int { return n.End - n.Begin }

// Config bounds leaf size and depth.
type Config struct {
	LeafSize int
	MaxDepth int
}

func DefaultConfig() Config {
	return Config{LeafSize: 16, MaxDepth: KeyBits}
}

const nodeBytes = int64(unsafe.Sizeof(Node{}))

// Tree is the arena for one rank.
type Tree struct {
	cfg  Config
	acct *compute.Accountant

	Nodes []Node
	// Levels[l] is the index range [Levels[l][0], Levels[l][1]) of depth l.
	Levels [][2]int
	// Oversized counts leaves that hit MaxDepth with more than LeafSize
	// particles.
	Oversized int

	keys  []uint64
	order []int
}

func New(cfg Config, acct *compute.Accountant) (*Tree, error) {
	if cfg.LeafSize < 1 {
		return nil, fmt.Errorf("%w: leaf size %d", dynamo.ErrParameterBounds, cfg.LeafSize)
	}
	if cfg.MaxDepth < 1 || cfg.MaxDepth > KeyBits {
		return nil, fmt.Errorf("%w: max depth %d outside [1,%d]", dynamo.ErrParameterBounds, cfg.MaxDepth, KeyBits)
	}
	return &Tree{cfg: cfg, acct: acct}, nil
}

func (t *Tree) Config() Config { return t.cfg }

// Reset empties the tree, keeping its buffers.
func (t *Tree) Reset() {
	t.Nodes = t.Nodes[:0]
	t.Levels = t.Levels[:0]
	t.Oversized = 0
}

func (t *Tree) Empty() bool { return len(t.Nodes) == 0 }

func (t *Tree) Root() *Node { return &t.Nodes[0] }

func (t *Tree) Leaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].Leaf() {
			n++
		}
	}
	return n
}

// Build sorts the store into Morton order of the predicted positions and
// rebuilds the arena over it.
func (t *Tree) Build(s *particles.Store) error {
	t.Reset()
	n := s.Len()
	if n == 0 {
		return nil
	}

	center, half := cube(s.PPos)
	q := newQuantizer(center, half)
	t.keys = resize(t.keys, n)
	t.order = resize(t.order, n)
	for i := 0; i < n; i++ {
		t.keys[i] = q.key(s.PPos[i])
		t.order[i] = i
	}
	keys, order := t.keys, t.order
	sort.Slice(order, func(a, b int) bool {
		ka, kb := keys[order[a]], keys[order[b]]
		if ka != kb {
			return ka < kb
		}
		return order[a] < order[b]
	})
	s.Permute(order)
	sorted := make([]uint64, n)
	for i, j := range order {
		sorted[i] = keys[j]
	}
	copy(keys, sorted)

	t.Nodes = append(t.Nodes, Node{Begin: 0, End: n, FirstChild: -1, Center: center, Half: half})
	for start, end := 0, 1; start < end; start, end = end, len(t.Nodes) {
		t.Levels = append(t.Levels, [2]int{start, end})
		for i := start; i < end; i++ {
			t.split(i)
		}
	}

	if t.acct != nil {
		bytes := int64(cap(t.Nodes))*nodeBytes + int64(cap(t.keys))*8
		if err := t.acct.Alloc("tree", bytes); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) split(i int) {
	nd := t.Nodes[i]
	if nd.Count() <= t.cfg.LeafSize || nd.Level >= t.cfg.MaxDepth {
		if nd.Count() > t.cfg.LeafSize {
			t.Oversized++
		}
		return
	}
	shift := uint(3 * (KeyBits - nd.Level - 1))
	first := len(t.Nodes)
	quarter := nd.Half / 2
	for b := nd.Begin; b < nd.End; {
		oct := (t.keys[b] >> shift) & 7
		e := b + sort.Search(nd.End-b, func(k int) bool {
			return (t.keys[b+k]>>shift)&7 > oct
		})
		t.Nodes = append(t.Nodes, Node{
			Level:      nd.Level + 1,
			Key:        t.keys[b] >> shift,
			Begin:      b,
			End:        e,
			FirstChild: -1,
			Center:     r3.Add(nd.Center, r3.Scale(quarter, octantOffset(oct))),
			Half:       quarter,
		})
		b = e
	}
	t.Nodes[i].FirstChild = first
	t.Nodes[i].NChild = len(t.Nodes) - first
}

// cube returns the smallest cube around pos, padded so no particle lies on
// the upper face.
func cube(pos []r3.Vec) (r3.Vec, float64) {
	lo, hi := pos[0], pos[0]
	for _, p := range pos[1:] {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	ext := r3.Sub(hi, lo)
	half := 0.5 * math.Max(ext.X, math.Max(ext.Y, ext.Z))
	if half == 0 {
		half = 1
	}
	half *= 1 + 1e-6
	return r3.Scale(0.5, r3.Add(lo, hi)), half
}

func resize[T any](a []T, n int) []T {
	if cap(a) < n {
		return make([]T, n)
	}
	return a[:n]
}

// Release returns the arena's memory to the accountant.
func (t *Tree) Release() {
	t.Reset()
	if t.acct != nil {
		t.acct.Free("tree")
	}
}
