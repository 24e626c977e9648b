package raster

import (
	"fmt"
	"math"
	"sort"

	"github.com/eoxio/terracube/pkg/geojson"
)

// Rasterize burns a polygon or multipolygon into a mask on the grid.
// Pixels whose centers fall inside the geometry are set. Interior rings
// are treated as holes via even-odd counting.
func Rasterize(g *geojson.Geometry, grid Grid) (*Mask8, error) {
	out := NewMask(grid)
	if geojson.IsEmpty(g) {
		return out, nil
	}

	polys, err := geojson.Polygons(g)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize geometry: %w", err)
	}

	for row := 0; row < grid.Rows; row++ {
		_, y := grid.ToCoord(0, float64(row)+0.5)
		for _, poly := range polys {
			spans := scanlineSpans(poly, y, grid)
			for _, s := range spans {
				for col := s[0]; col <= s[1]; col++ {
					out.Bits[row*grid.Cols+col] = true
				}
			}
		}
	}
	return out, nil
}

// RasterizeOutside burns the complement of the geometry: pixels whose
// centers fall outside the geometry are set. An empty geometry masks
// everything.
func RasterizeOutside(g *geojson.Geometry, grid Grid) (*Mask8, error) {
	if geojson.IsEmpty(g) {
		return NewFullMask(grid), nil
	}
	inside, err := Rasterize(g, grid)
	if err != nil {
		return nil, err
	}
	out := NewFullMask(grid)
	for i, b := range inside.Bits {
		if b {
			out.Bits[i] = false
		}
	}
	return out, nil
}

// scanlineSpans returns inclusive pixel column spans covered by the
// polygon on the horizontal line at y, using even-odd crossings over
// all rings so holes subtract.
func scanlineSpans(poly [][][]float64, y float64, grid Grid) [][2]int {
	var xs []float64
	for _, ring := range poly {
		n := len(ring)
		if n < 4 {
			continue
		}
		for i := 0; i < n-1; i++ {
			x1, y1 := ring[i][0], ring[i][1]
			x2, y2 := ring[i+1][0], ring[i+1][1]
			if y1 == y2 {
				continue
			}
			// Half-open rule keeps vertices from double counting.
			if (y1 <= y && y2 > y) || (y2 <= y && y1 > y) {
				t := (y - y1) / (y2 - y1)
				xs = append(xs, x1+t*(x2-x1))
			}
		}
	}
	if len(xs) < 2 {
		return nil
	}
	sort.Float64s(xs)

	var spans [][2]int
	for i := 0; i+1 < len(xs); i += 2 {
		c0, _ := grid.ToPixel(xs[i], y)
		c1, _ := grid.ToPixel(xs[i+1], y)
		// Pixel centers inside [c0, c1).
		lo := int(math.Ceil(c0 - 0.5))
		hi := int(math.Floor(c1 - 0.5))
		if lo < 0 {
			lo = 0
		}
		if hi >= grid.Cols {
			hi = grid.Cols - 1
		}
		if lo <= hi {
			spans = append(spans, [2]int{lo, hi})
		}
	}
	return spans
}
