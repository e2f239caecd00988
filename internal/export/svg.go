// Package export renders run data as standalone SVG documents.
package export

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/san-kum/octgrav/internal/analysis"
)

type bounds struct {
	minX, maxX, minY, maxY float64
}

// fit returns padded bounds of pts; degenerate ranges widen to 1.
func fit(xs, ys []float64) bounds {
	b := bounds{math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)}
	for i := range xs {
		b.minX, b.maxX = math.Min(b.minX, xs[i]), math.Max(b.maxX, xs[i])
		b.minY, b.maxY = math.Min(b.minY, ys[i]), math.Max(b.maxY, ys[i])
	}
	rx, ry := b.maxX-b.minX, b.maxY-b.minY
	if rx == 0 {
		rx = 1
	}
	if ry == 0 {
		ry = 1
	}
	b.minX -= rx * 0.05
	b.maxX += rx * 0.05
	b.minY -= ry * 0.05
	b.maxY += ry * 0.05
	return b
}

func (b bounds) px(x, y float64, width, height int) (float64, float64) {
	sx := (x - b.minX) / (b.maxX - b.minX) * float64(width)
	sy := float64(height) - (y-b.minY)/(b.maxY-b.minY)*float64(height)
	return sx, sy
}

func header(sb *strings.Builder, width, height int) {
	fmt.Fprintf(sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)
}

// ProjectionSVG draws every projected particle as a dot. The plot keeps the
// aspect ratio of the data.
func ProjectionSVG(p *analysis.Projection, size int) string {
	if p == nil || len(p.Points) == 0 || size <= 0 {
		return ""
	}
	xs := make([]float64, len(p.Points))
	ys := make([]float64, len(p.Points))
	for i, pt := range p.Points {
		xs[i], ys[i] = pt.X, pt.Y
	}
	b := fit(xs, ys)
	// square the view around the centre
	half := math.Max(b.maxX-b.minX, b.maxY-b.minY) / 2
	cx, cy := (b.minX+b.maxX)/2, (b.minY+b.maxY)/2
	b = bounds{cx - half, cx + half, cy - half, cy + half}

	r := math.Max(0.4, float64(size)/800)
	var sb strings.Builder
	header(&sb, size, size)
	sb.WriteString(`<g fill="#00ff88" fill-opacity="0.6">` + "\n")
	for i := range xs {
		x, y := b.px(xs[i], ys[i], size, size)
		fmt.Fprintf(&sb, `<circle cx="%.1f" cy="%.1f" r="%.2f"/>`+"\n", x, y, r)
	}
	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

// SeriesSVG draws values against their index as a polyline.
func SeriesSVG(values []float64, width, height int, strokeColor string) string {
	if len(values) < 2 {
		return ""
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	b := fit(xs, values)

	var sb strings.Builder
	header(&sb, width, height)
	fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="M`, strokeColor)
	for i := range values {
		x, y := b.px(xs[i], values[i], width, height)
		if i == 0 {
			fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
		}
	}
	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}

// Write copies an SVG document to w.
func Write(w io.Writer, svg string) error {
	_, err := io.WriteString(w, svg)
	return err
}
