package export

import (
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/analysis"
	"github.com/san-kum/octgrav/internal/dynamo"
)

func TestProjectionSVG(t *testing.T) {
	bodies := []dynamo.Body{
		{ID: 1, Mass: 1, Pos: r3.Vec{X: -1, Y: 0}},
		{ID: 2, Mass: 1, Pos: r3.Vec{X: 1, Y: 2}},
		{ID: 3, Mass: 1, Pos: r3.Vec{X: 0, Y: -2}},
	}
	svg := ProjectionSVG(analysis.Project(bodies, analysis.AxisX, analysis.AxisY), 200)

	if !strings.HasPrefix(svg, "<?xml") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatalf("not a complete svg document:\n%s", svg)
	}
	if got := strings.Count(svg, "<circle"); got != len(bodies) {
		t.Errorf("expected %d dots, got %d", len(bodies), got)
	}
}

func TestProjectionSVGEmpty(t *testing.T) {
	tests := []struct {
		name string
		p    *analysis.Projection
		size int
	}{
		{"nil", nil, 100},
		{"no points", analysis.Project(nil, analysis.AxisX, analysis.AxisY), 100},
		{"zero size", analysis.Project([]dynamo.Body{{Mass: 1}}, analysis.AxisX, analysis.AxisY), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if svg := ProjectionSVG(tt.p, tt.size); svg != "" {
				t.Errorf("expected empty output, got %q", svg)
			}
		})
	}
}

func TestSeriesSVG(t *testing.T) {
	svg := SeriesSVG([]float64{1, 2, 2, 3}, 400, 100, "#ff0000")
	if !strings.Contains(svg, `stroke="#ff0000"`) {
		t.Error("stroke colour missing")
	}
	if got := strings.Count(svg, " L"); got != 3 {
		t.Errorf("expected 3 line segments, got %d", got)
	}
	if SeriesSVG([]float64{1}, 10, 10, "#fff") != "" {
		t.Error("single value should render nothing")
	}
}

func TestSeriesSVGFlat(t *testing.T) {
	svg := SeriesSVG([]float64{5, 5, 5}, 100, 50, "#fff")
	if strings.Contains(svg, "NaN") || strings.Contains(svg, "Inf") {
		t.Errorf("flat series produced non-finite coordinates:\n%s", svg)
	}
}
