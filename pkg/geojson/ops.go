package geojson

import (
	"encoding/json"
	"fmt"
	"math"
)

// antimeridian frame used when splitting geometries crossing the date line
var latlonFrame = []float64{-180, -90, 180, 90}

// Empty returns an empty Polygon geometry. Empty geometries are valid inputs
// to Buffer, Area and Union and represent "no coverage".
func Empty() *Geometry {
	return &Geometry{Type: "Polygon", Coordinates: json.RawMessage("[]")}
}

// IsEmpty reports whether the geometry contains no coordinates.
func IsEmpty(g *Geometry) bool {
	if g == nil || len(g.Coordinates) == 0 {
		return true
	}
	polys, err := Polygons(g)
	if err != nil {
		return false
	}
	for _, poly := range polys {
		if len(poly) > 0 && len(poly[0]) > 0 {
			return false
		}
	}
	return true
}

// Polygons normalizes a Polygon or MultiPolygon geometry into a list of
// polygons. Empty geometries yield an empty list.
func Polygons(g *Geometry) ([][][][]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}
	switch g.Type {
	case "Polygon":
		coords, err := g.Polygon()
		if err != nil {
			return nil, err
		}
		if len(coords) == 0 {
			return nil, nil
		}
		return [][][][]float64{coords}, nil
	case "MultiPolygon":
		return g.MultiPolygon()
	default:
		return nil, fmt.Errorf("unsupported geometry type: %s", g.Type)
	}
}

// NewPolygon creates a Polygon geometry from ring coordinates.
func NewPolygon(rings [][][]float64) (*Geometry, error) {
	for _, ring := range rings {
		if err := validateRing(ring); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(rings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
	}
	return &Geometry{Type: "Polygon", Coordinates: raw}, nil
}

// NewMultiPolygon creates a MultiPolygon geometry from polygon coordinates.
func NewMultiPolygon(polys [][][][]float64) (*Geometry, error) {
	for _, poly := range polys {
		for _, ring := range poly {
			if err := validateRing(ring); err != nil {
				return nil, err
			}
		}
	}
	raw, err := json.Marshal(polys)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal multipolygon coordinates: %w", err)
	}
	return &Geometry{Type: "MultiPolygon", Coordinates: raw}, nil
}

// validateRing rejects rings which cannot form a closed polygon boundary.
func validateRing(ring [][]float64) error {
	if len(ring) < 4 {
		return fmt.Errorf("ring must have at least 4 positions, got %d", len(ring))
	}
	first, last := ring[0], ring[len(ring)-1]
	if len(first) < 2 || len(last) < 2 {
		return fmt.Errorf("ring positions must have at least 2 values")
	}
	if first[0] != last[0] || first[1] != last[1] {
		return fmt.Errorf("ring is not closed")
	}
	return nil
}

// Validate checks that a Polygon or MultiPolygon geometry is topologically
// usable: parseable coordinates and closed rings with enough positions.
func Validate(g *Geometry) error {
	polys, err := Polygons(g)
	if err != nil {
		return err
	}
	for _, poly := range polys {
		for _, ring := range poly {
			if err := validateRing(ring); err != nil {
				return err
			}
		}
	}
	return nil
}

// CrossesAntimeridian reports whether the geometry appears to span the date
// line. Catalog footprints crossing it come with longitudes from both
// hemispheres, producing a bounding box wider than half the globe.
func CrossesAntimeridian(g *Geometry) bool {
	if IsEmpty(g) {
		return false
	}
	bbox, err := g.BBox()
	if err != nil {
		return false
	}
	return bbox[2]-bbox[0] > 180
}

// SplitAntimeridian splits a geometry crossing the date line into a
// MultiPolygon of simple parts, one on each side of ±180°. Western-hemisphere
// coordinates are shifted by +360 so the footprint becomes contiguous, the
// result is cut at the lat/lon frame, and the overflow is shifted back.
// Geometries not crossing the date line are returned unchanged.
func SplitAntimeridian(g *Geometry) (*Geometry, error) {
	if !CrossesAntimeridian(g) {
		return g, nil
	}
	polys, err := Polygons(g)
	if err != nil {
		return nil, err
	}

	var parts [][][][]float64
	for _, poly := range polys {
		if len(poly) == 0 {
			continue
		}
		shifted := shiftRing(poly[0], 360, true)

		inside := clipRingToBBox(shifted, latlonFrame)
		if len(inside) >= 3 {
			parts = append(parts, [][][]float64{closeRing(inside)})
		}

		outside := clipRingToBBox(shifted, []float64{180, -90, 540, 90})
		if len(outside) >= 3 {
			parts = append(parts, [][][]float64{closeRing(shiftRing(outside, -360, false))})
		}
	}
	if len(parts) == 0 {
		return Empty(), nil
	}
	return NewMultiPolygon(parts)
}

// shiftRing shifts ring longitudes by the given amount. With onlyNegative
// set, only western-hemisphere coordinates are moved.
func shiftRing(ring [][]float64, by float64, onlyNegative bool) [][]float64 {
	out := make([][]float64, len(ring))
	for i, pt := range ring {
		x, y := pt[0], pt[1]
		if !onlyNegative || x < 0 {
			x += by
		}
		out[i] = []float64{x, y}
	}
	return out
}

func closeRing(ring [][]float64) [][]float64 {
	if len(ring) == 0 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		ring = append(ring, []float64{first[0], first[1]})
	}
	return ring
}

// clipRingToBBox clips a ring against a rectangle using the
// Sutherland-Hodgman algorithm. The returned ring is open (not closed).
func clipRingToBBox(ring [][]float64, bbox []float64) [][]float64 {
	if len(ring) == 0 {
		return nil
	}
	// drop closing point for clipping
	pts := ring
	if len(pts) > 1 {
		first, last := pts[0], pts[len(pts)-1]
		if first[0] == last[0] && first[1] == last[1] {
			pts = pts[:len(pts)-1]
		}
	}

	type halfPlane struct {
		inside    func(p []float64) bool
		intersect func(a, b []float64) []float64
	}
	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]
	planes := []halfPlane{
		{
			inside: func(p []float64) bool { return p[0] >= west },
			intersect: func(a, b []float64) []float64 {
				t := (west - a[0]) / (b[0] - a[0])
				return []float64{west, a[1] + t*(b[1]-a[1])}
			},
		},
		{
			inside: func(p []float64) bool { return p[0] <= east },
			intersect: func(a, b []float64) []float64 {
				t := (east - a[0]) / (b[0] - a[0])
				return []float64{east, a[1] + t*(b[1]-a[1])}
			},
		},
		{
			inside: func(p []float64) bool { return p[1] >= south },
			intersect: func(a, b []float64) []float64 {
				t := (south - a[1]) / (b[1] - a[1])
				return []float64{a[0] + t*(b[0]-a[0]), south}
			},
		},
		{
			inside: func(p []float64) bool { return p[1] <= north },
			intersect: func(a, b []float64) []float64 {
				t := (north - a[1]) / (b[1] - a[1])
				return []float64{a[0] + t*(b[0]-a[0]), north}
			},
		},
	}

	out := pts
	for _, plane := range planes {
		if len(out) == 0 {
			return nil
		}
		in := out
		out = nil
		for i := 0; i < len(in); i++ {
			cur := in[i]
			prev := in[(i+len(in)-1)%len(in)]
			curIn, prevIn := plane.inside(cur), plane.inside(prev)
			switch {
			case curIn && prevIn:
				out = append(out, cur)
			case curIn && !prevIn:
				out = append(out, plane.intersect(prev, cur), cur)
			case !curIn && prevIn:
				out = append(out, plane.intersect(prev, cur))
			}
		}
	}
	return out
}

// ringArea returns the signed shoelace area of a ring. Positive for
// counter-clockwise winding.
func ringArea(ring [][]float64) float64 {
	if len(ring) < 3 {
		return 0
	}
	var sum float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	return sum / 2
}

// Area returns the planar area of a Polygon or MultiPolygon in squared
// coordinate units. Interior rings are subtracted. Empty geometries have
// zero area.
func Area(g *Geometry) float64 {
	if IsEmpty(g) {
		return 0
	}
	polys, err := Polygons(g)
	if err != nil {
		return 0
	}
	var total float64
	for _, poly := range polys {
		for i, ring := range poly {
			a := math.Abs(ringArea(ring))
			if i == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return total
}

// IntersectionArea returns the area of the intersection between the geometry
// and a bounding box. Date-line crossing geometries are split first so parts
// on either hemisphere are compared without wrap artifacts.
func IntersectionArea(g *Geometry, bbox []float64) float64 {
	split, err := SplitAntimeridian(g)
	if err != nil {
		return 0
	}
	polys, err := Polygons(split)
	if err != nil {
		return 0
	}
	var total float64
	for _, poly := range polys {
		if len(poly) == 0 {
			continue
		}
		clipped := clipRingToBBox(poly[0], bbox)
		total += math.Abs(ringArea(clipped))
	}
	return total
}

// Buffer offsets polygon boundaries by the given distance in coordinate
// units. Negative distances shrink the polygon inward. Interior rings are
// dropped. A polygon which collapses under a negative buffer yields an empty
// geometry rather than an error, as does an empty input. Geometries crossing
// the date line are split into simple parts first, each part buffered on its
// own and the results re-unioned; offsetting a multi-part ring spanning ±180°
// directly would fold the offset edges across the coordinate seam.
func Buffer(g *Geometry, distance float64) (*Geometry, error) {
	if IsEmpty(g) {
		return Empty(), nil
	}
	split, err := SplitAntimeridian(g)
	if err != nil {
		return nil, err
	}
	polys, err := Polygons(split)
	if err != nil {
		return nil, err
	}

	var parts []*Geometry
	for _, poly := range polys {
		if len(poly) == 0 || len(poly[0]) < 4 {
			continue
		}
		offset := offsetRing(poly[0], distance)
		if len(offset) < 4 || math.Abs(ringArea(offset)) <= 0 {
			continue
		}
		part, err := NewPolygon([][][]float64{offset})
		if err != nil {
			continue
		}
		parts = append(parts, part)
	}
	return Union(parts), nil
}

// offsetRing offsets a closed ring by the given distance using miter joins.
// The ring is normalized to counter-clockwise winding so positive distances
// always grow the polygon.
func offsetRing(ring [][]float64, distance float64) [][]float64 {
	pts := ring
	if len(pts) > 1 {
		first, last := pts[0], pts[len(pts)-1]
		if first[0] == last[0] && first[1] == last[1] {
			pts = pts[:len(pts)-1]
		}
	}
	n := len(pts)
	if n < 3 {
		return nil
	}
	if ringArea(append(append([][]float64{}, pts...), pts[0])) < 0 {
		rev := make([][]float64, n)
		for i, p := range pts {
			rev[n-1-i] = p
		}
		pts = rev
	}

	// outward normal of each edge (to the right of travel for CCW rings
	// is outside, so negate for outward-left convention)
	normal := func(a, b []float64) (float64, float64) {
		dx, dy := b[0]-a[0], b[1]-a[1]
		l := math.Hypot(dx, dy)
		if l == 0 {
			return 0, 0
		}
		return dy / l, -dx / l
	}

	out := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		prev := pts[(i+n-1)%n]
		cur := pts[i]
		next := pts[(i+1)%n]

		nx1, ny1 := normal(prev, cur)
		nx2, ny2 := normal(cur, next)

		// miter direction: normalized sum of adjacent edge normals
		mx, my := nx1+nx2, ny1+ny2
		ml := math.Hypot(mx, my)
		if ml < 1e-12 {
			// edges fold back on themselves, fall back to one normal
			mx, my, ml = nx2, ny2, 1
		}
		mx, my = mx/ml, my/ml

		// scale so the offset edge keeps the requested distance
		cosHalf := mx*nx2 + my*ny2
		scale := distance
		if math.Abs(cosHalf) > 1e-6 {
			scale = distance / cosHalf
		}
		// cap extreme miters at sharp vertexes
		if math.Abs(scale) > 4*math.Abs(distance) {
			scale = 4 * distance
		}
		x, y := cur[0]+mx*scale, cur[1]+my*scale
		if math.IsNaN(x) || math.IsNaN(y) {
			return nil
		}
		out = append(out, []float64{x, y})
	}
	// collapsed rings flip their winding
	if ringArea(append(append([][]float64{}, out...), out[0])) <= 0 {
		return nil
	}
	return append(out, []float64{out[0][0], out[0][1]})
}

// Union collects non-empty polygonal geometries into one geometry. A single
// part stays a Polygon, several become a MultiPolygon, none is empty.
// Overlapping parts are kept as is; the union is a coverage union, not a
// boundary dissolve.
func Union(parts []*Geometry) *Geometry {
	var polys [][][][]float64
	for _, part := range parts {
		if IsEmpty(part) {
			continue
		}
		pp, err := Polygons(part)
		if err != nil {
			continue
		}
		polys = append(polys, pp...)
	}
	switch len(polys) {
	case 0:
		return Empty()
	case 1:
		g, err := NewPolygon(polys[0])
		if err != nil {
			return Empty()
		}
		return g
	default:
		g, err := NewMultiPolygon(polys)
		if err != nil {
			return Empty()
		}
		return g
	}
}
