package viz

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Camera is an orthographic view rotated about the origin. Extent is the
// world radius mapped to half the shorter screen side.
type Camera struct {
	RotX, RotY, RotZ float64
	Zoom             float64
	Extent           float64
}

func NewCamera() *Camera {
	return &Camera{Zoom: 1, Extent: 1}
}

func (c *Camera) RotateX(a float64) { c.RotX += a }
func (c *Camera) RotateY(a float64) { c.RotY += a }
func (c *Camera) RotateZ(a float64) { c.RotZ += a }
func (c *Camera) ZoomIn()           { c.Zoom = math.Min(50, c.Zoom*1.2) }
func (c *Camera) ZoomOut()          { c.Zoom = math.Max(0.02, c.Zoom/1.2) }

// Fit sets Extent so the given fraction of points, nearest the origin
// first, fills the view.
func (c *Camera) Fit(pts []r3.Vec, fraction float64) {
	if len(pts) == 0 {
		return
	}
	r := make([]float64, len(pts))
	for i, p := range pts {
		r[i] = r3.Norm(p)
	}
	k := int(fraction * float64(len(r)-1))
	sort.Float64s(r)
	c.Extent = math.Max(r[k], 1e-12)
}

func (c *Camera) Rotate(p r3.Vec) r3.Vec {
	cx, sx := math.Cos(c.RotX), math.Sin(c.RotX)
	p.Y, p.Z = p.Y*cx-p.Z*sx, p.Y*sx+p.Z*cx
	cy, sy := math.Cos(c.RotY), math.Sin(c.RotY)
	p.X, p.Z = p.X*cy+p.Z*sy, -p.X*sy+p.Z*cy
	cz, sz := math.Cos(c.RotZ), math.Sin(c.RotZ)
	p.X, p.Y = p.X*cz-p.Y*sz, p.X*sz+p.Y*cz
	return p
}

// Project maps p to dot coordinates on a sw x sh surface and reports
// whether it lands on it.
func (c *Camera) Project(p r3.Vec, sw, sh int) (int, int, bool) {
	rot := c.Rotate(p)
	scale := c.Zoom * float64(min(sw, sh)) / (2 * c.Extent)
	x := int(math.Round(rot.X*scale)) + sw/2
	y := int(math.Round(-rot.Y*scale)) + sh/2
	return x, y, x >= 0 && x < sw && y >= 0 && y < sh
}
