package octree

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// KeyBits is the per-axis resolution of a Morton key.
const KeyBits = 21

const keyMax = 1<<KeyBits - 1

// spread inserts two zero bits between each of the low 21 bits of v.
func spread(v uint64) uint64 {
	v &= keyMax
	v = (v | v<<32) & 0x1f00000000ffff
	v = (v | v<<16) & 0x1f0000ff0000ff
	v = (v | v<<8) & 0x100f00f00f00f00f
	v = (v | v<<4) & 0x10c30c30c30c30c3
	v = (v | v<<2) & 0x1249249249249249
	return v
}

// Encode interleaves three 21-bit cell coordinates, x in the highest bit of
// each triple.
func Encode(x, y, z uint32) uint64 {
	return spread(uint64(x))<<2 | spread(uint64(y))<<1 | spread(uint64(z))
}

// quantizer maps positions inside a cube to integer cell coordinates.
type quantizer struct {
	low   r3.Vec
	scale float64
}

func newQuantizer(center r3.Vec, half float64) quantizer {
	return quantizer{
		low:   r3.Sub(center, r3.Vec{X: half, Y: half, Z: half}),
		scale: float64(keyMax+1) / (2 * half),
	}
}

func (q quantizer) cell(x, low float64) uint32 {
	c := math.Floor((x - low) * q.scale)
	if c < 0 {
		return 0
	}
	if c > keyMax {
		return keyMax
	}
	return uint32(c)
}

func (q quantizer) key(p r3.Vec) uint64 {
	return Encode(q.cell(p.X, q.low.X), q.cell(p.Y, q.low.Y), q.cell(p.Z, q.low.Z))
}

// octantOffset is the unit direction from a parent centre to child octant o.
func octantOffset(o uint64) r3.Vec {
	v := r3.Vec{X: -1, Y: -1, Z: -1}
	if o&4 != 0 {
		v.X = 1
	}
	if o&2 != 0 {
		v.Y = 1
	}
	if o&1 != 0 {
		v.Z = 1
	}
	return v
}
