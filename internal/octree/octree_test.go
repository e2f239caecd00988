package octree

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/compute"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/particles"
)

func randomStore(t testing.TB, n int, seed int64) *particles.Store {
	rng := rand.New(rand.NewSource(seed))
	bodies := make([]dynamo.Body, n)
	for i := range bodies {
		bodies[i] = dynamo.Body{
			ID:   int64(i),
			Mass: 0.5 + rng.Float64(),
			Pos:  r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()},
		}
	}
	s, err := particles.NewStore(nil, n)
	require.NoError(t, err)
	require.NoError(t, s.Load(bodies, 0.05, false))
	return s
}

func build(t testing.TB, s *particles.Store, cfg Config) *Tree {
	tr, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Build(s))
	tr.Props(compute.NewSerialBackend(), s.PPos, s.Mass, s.Eps2)
	return tr
}

func TestEncodeInterleaves(t *testing.T) {
	assert.Equal(t, uint64(0b100), Encode(1, 0, 0))
	assert.Equal(t, uint64(0b010), Encode(0, 1, 0))
	assert.Equal(t, uint64(0b001), Encode(0, 0, 1))
	assert.Equal(t, uint64(0b100000), Encode(2, 0, 0))
	assert.Equal(t, uint64(1<<63-1), Encode(keyMax, keyMax, keyMax))
}

func TestNewRejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{{LeafSize: 0, MaxDepth: 4}, {LeafSize: 4, MaxDepth: 0}, {LeafSize: 4, MaxDepth: 22}} {
		_, err := New(cfg, nil)
		assert.True(t, errors.Is(err, dynamo.ErrParameterBounds), "%+v", cfg)
	}
}

func TestBuildValid(t *testing.T) {
	for _, n := range []int{1, 2, 17, 1000} {
		s := randomStore(t, n, int64(n))
		tr := build(t, s, Config{LeafSize: 8, MaxDepth: KeyBits})
		require.NoError(t, tr.Validate(s.PPos), "n=%d", n)
		for i := range tr.Nodes {
			nd := &tr.Nodes[i]
			if nd.Leaf() {
				assert.LessOrEqual(t, nd.Count(), 8)
			}
		}
	}
}

func TestBuildSortsStore(t *testing.T) {
	s := randomStore(t, 500, 3)
	ids := map[int64]bool{}
	for _, id := range s.ID {
		ids[id] = true
	}
	tr := build(t, s, DefaultConfig())
	q := newQuantizer(tr.Root().Center, tr.Root().Half)
	for i := 1; i < s.Len(); i++ {
		assert.LessOrEqual(t, q.key(s.PPos[i-1]), q.key(s.PPos[i]))
	}
	for _, id := range s.ID {
		assert.True(t, ids[id])
	}
	assert.Len(t, ids, s.Len())
}

func TestBuildEmpty(t *testing.T) {
	s, _ := particles.NewStore(nil, 0)
	tr, _ := New(DefaultConfig(), nil)
	require.NoError(t, tr.Build(s))
	assert.True(t, tr.Empty())
	assert.NoError(t, tr.Validate(nil))
}

func TestCoincidentParticlesFormOversizedLeaf(t *testing.T) {
	bodies := make([]dynamo.Body, 50)
	for i := range bodies {
		bodies[i] = dynamo.Body{ID: int64(i), Mass: 1, Pos: r3.Vec{X: 1, Y: 1, Z: 1}}
	}
	bodies = append(bodies, dynamo.Body{ID: 99, Mass: 1})
	s, _ := particles.NewStore(nil, 0)
	require.NoError(t, s.Load(bodies, 0.1, false))

	tr := build(t, s, Config{LeafSize: 4, MaxDepth: 6})
	require.NoError(t, tr.Validate(s.PPos))
	assert.Equal(t, 1, tr.Oversized)
	assert.LessOrEqual(t, len(tr.Levels), 7)
}

func TestRebuildReusesArena(t *testing.T) {
	s := randomStore(t, 2000, 4)
	tr := build(t, s, DefaultConfig())
	before := cap(tr.Nodes)
	require.NoError(t, tr.Build(s))
	assert.Equal(t, before, cap(tr.Nodes))
}

func TestBuildChargesAccountant(t *testing.T) {
	s := randomStore(t, 2000, 5)
	acct := compute.NewAccountant(64)
	tr, _ := New(DefaultConfig(), acct)
	assert.True(t, errors.Is(tr.Build(s), dynamo.ErrDeviceMemory))
}

func TestPropsMoments(t *testing.T) {
	s := randomStore(t, 800, 6)
	tr := build(t, s, Config{LeafSize: 4, MaxDepth: KeyBits})

	root := tr.Root()
	assert.InDelta(t, s.TotalMass(), root.Mass, 1e-10)

	for i := range tr.Nodes {
		nd := &tr.Nodes[i]
		assert.True(t, nd.InTight(nd.COM) || nd.Size == 0, "node %d com outside tight box", i)
		trace := nd.Quad.XX + nd.Quad.YY + nd.Quad.ZZ
		assert.InDelta(t, 0, trace, 1e-9*(1+nd.Mass))
	}

	// root quadrupole against a direct sum
	var q Quad
	for i := 0; i < s.Len(); i++ {
		q = q.add(pointQuad(s.Mass[i], r3.Sub(s.PPos[i], root.COM)))
	}
	assert.InDelta(t, q.XX, root.Quad.XX, 1e-8)
	assert.InDelta(t, q.XY, root.Quad.XY, 1e-8)
	assert.InDelta(t, q.YZ, root.Quad.YZ, 1e-8)
}

func TestPropsParallelMatchesSerial(t *testing.T) {
	s := randomStore(t, 3000, 7)
	tr := build(t, s, DefaultConfig())
	want := append([]Node(nil), tr.Nodes...)

	tr.Props(compute.NewCPUBackend(4), s.PPos, s.Mass, s.Eps2)
	for i := range want {
		assert.Equal(t, want[i].Mass, tr.Nodes[i].Mass)
		assert.Equal(t, want[i].COM, tr.Nodes[i].COM)
	}
}

func TestOpenRadius(t *testing.T) {
	nd := Node{Size: 2, Delta: 0.5}
	assert.InDelta(t, math.Pow(2/0.5+0.5, 2), nd.OpenRadius2(0.5), 1e-12)
}
