package raster

import (
	"fmt"

	"github.com/eoxio/terracube/pkg/geojson"
)

// ProjectGeometry reprojects every vertex of a Polygon/MultiPolygon
// between the supported CRSs. Empty geometries stay empty.
func ProjectGeometry(g *geojson.Geometry, fromEPSG, toEPSG int) (*geojson.Geometry, error) {
	if geojson.IsEmpty(g) {
		return geojson.Empty(), nil
	}
	if fromEPSG == toEPSG {
		return g, nil
	}

	polys, err := geojson.Polygons(g)
	if err != nil {
		return nil, fmt.Errorf("failed to project geometry: %w", err)
	}

	out := make([][][][]float64, 0, len(polys))
	for _, poly := range polys {
		rings := make([][][]float64, 0, len(poly))
		for _, ring := range poly {
			pts := make([][]float64, 0, len(ring))
			for _, pos := range ring {
				x, y, err := Transform(pos[0], pos[1], fromEPSG, toEPSG)
				if err != nil {
					return nil, fmt.Errorf("failed to project geometry: %w", err)
				}
				pts = append(pts, []float64{x, y})
			}
			rings = append(rings, pts)
		}
		out = append(out, rings)
	}

	if len(out) == 1 {
		return geojson.NewPolygon(out[0])
	}
	return geojson.NewMultiPolygon(out)
}
