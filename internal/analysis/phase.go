package analysis

import (
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/dynamo"
)

// Axis selects a coordinate of a position.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) of(v r3.Vec) float64 {
	switch a {
	case AxisY:
		return v.Y
	case AxisZ:
		return v.Z
	default:
		return v.X
	}
}

// Projection holds a snapshot flattened onto two axes
type Projection struct {
	U, V   Axis
	Points []struct{ X, Y float64 }
}

// Project flattens bodies onto the (u, v) plane.
func Project(bodies []dynamo.Body, u, v Axis) *Projection {
	p := &Projection{
		U:      u,
		V:      v,
		Points: make([]struct{ X, Y float64 }, len(bodies)),
	}
	for i, b := range bodies {
		p.Points[i].X = u.of(b.Pos)
		p.Points[i].Y = v.of(b.Pos)
	}
	return p
}

// ToASCII renders the projection on a width x height character grid. Cells
// are shaded by particle count.
func (p *Projection) ToASCII(width, height int) string {
	if p == nil || len(p.Points) == 0 || width <= 0 || height <= 0 {
		return ""
	}

	minX, maxX := p.Points[0].X, p.Points[0].X
	minY, maxY := p.Points[0].Y, p.Points[0].Y
	for _, q := range p.Points {
		minX = min(minX, q.X)
		maxX = max(maxX, q.X)
		minY = min(minY, q.Y)
		maxY = max(maxY, q.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}

	counts := make([][]int, height)
	for i := range counts {
		counts[i] = make([]int, width)
	}
	for _, q := range p.Points {
		col := int((q.X - minX) / rangeX * float64(width-1))
		row := height - 1 - int((q.Y-minY)/rangeY*float64(height-1))
		if row >= 0 && row < height && col >= 0 && col < width {
			counts[row][col]++
		}
	}

	shades := []rune(" .:+*#@")
	var sb strings.Builder
	for _, row := range counts {
		for _, c := range row {
			sb.WriteRune(shades[min(c, len(shades)-1)])
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
