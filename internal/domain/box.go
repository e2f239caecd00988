package domain

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Box is an axis-aligned region [Low, High) on every axis.
type Box struct {
	Low  r3.Vec
	High r3.Vec
}

// Unbounded is the box covering all of space.
func Unbounded() Box {
	inf := math.Inf(1)
	return Box{Low: r3.Vec{X: -inf, Y: -inf, Z: -inf}, High: r3.Vec{X: inf, Y: inf, Z: inf}}
}

func (b Box) Contains(p r3.Vec) bool {
	return p.X >= b.Low.X && p.X < b.High.X &&
		p.Y >= b.Low.Y && p.Y < b.High.Y &&
		p.Z >= b.Low.Z && p.Z < b.High.Z
}

func (b Box) Empty() bool {
	return b.High.X <= b.Low.X || b.High.Y <= b.Low.Y || b.High.Z <= b.Low.Z
}

// Bounds returns the smallest closed box around pts.
func Bounds(pts []r3.Vec) Box {
	if len(pts) == 0 {
		return Box{}
	}
	b := Box{Low: pts[0], High: pts[0]}
	for _, p := range pts[1:] {
		b.Low = r3.Vec{X: math.Min(b.Low.X, p.X), Y: math.Min(b.Low.Y, p.Y), Z: math.Min(b.Low.Z, p.Z)}
		b.High = r3.Vec{X: math.Max(b.High.X, p.X), Y: math.Max(b.High.Y, p.Y), Z: math.Max(b.High.Z, p.Z)}
	}
	return b
}

// Dist2 is the squared distance from p to the closed box, zero inside.
func (b Box) Dist2(p r3.Vec) float64 {
	d := r3.Vec{
		X: axisGap(p.X, b.Low.X, b.High.X),
		Y: axisGap(p.Y, b.Low.Y, b.High.Y),
		Z: axisGap(p.Z, b.Low.Z, b.High.Z),
	}
	return r3.Norm2(d)
}

func axisGap(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return lo - x
	case x > hi:
		return x - hi
	}
	return 0
}

func axis(v r3.Vec, a int) float64 {
	switch a {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func setAxis(v *r3.Vec, a int, x float64) {
	switch a {
	case 0:
		v.X = x
	case 1:
		v.Y = x
	default:
		v.Z = x
	}
}
