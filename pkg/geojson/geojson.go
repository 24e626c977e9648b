// Package geojson models product footprints: GeoJSON geometries with
// polygon accessors, bounding boxes, WKT conversion, and antimeridian-safe
// splitting, buffering and area operations.
//
// Footprints are Polygon or MultiPolygon geometries in geographic
// coordinates. Coordinates stay as raw JSON until a typed accessor is
// called, so geometries can be passed through untouched.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Geometry is a GeoJSON geometry object with lazily decoded coordinates.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Point decodes the coordinates of a Point geometry as [lon, lat].
func (g *Geometry) Point() ([]float64, error) {
	if g.Type != "Point" {
		return nil, fmt.Errorf("geometry is not a Point, got %s", g.Type)
	}
	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Point coordinates: %w", err)
	}
	if len(coords) < 2 {
		return nil, fmt.Errorf("invalid Point coordinates: expected at least 2 values, got %d", len(coords))
	}
	return coords, nil
}

// Polygon decodes the coordinates of a Polygon geometry as rings of
// [lon, lat] positions.
func (g *Geometry) Polygon() ([][][]float64, error) {
	if g.Type != "Polygon" {
		return nil, fmt.Errorf("geometry is not a Polygon, got %s", g.Type)
	}
	var coords [][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Polygon coordinates: %w", err)
	}
	return coords, nil
}

// MultiPolygon decodes the coordinates of a MultiPolygon geometry.
func (g *Geometry) MultiPolygon() ([][][][]float64, error) {
	if g.Type != "MultiPolygon" {
		return nil, fmt.Errorf("geometry is not a MultiPolygon, got %s", g.Type)
	}
	var coords [][][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MultiPolygon coordinates: %w", err)
	}
	return coords, nil
}

// BBox computes the bounding box of the geometry as
// [west, south, east, north].
func (g *Geometry) BBox() ([]float64, error) {
	return ComputeBBox(g)
}

// ComputeBBox computes the bounding box of a Point, Polygon or
// MultiPolygon geometry as [west, south, east, north].
func ComputeBBox(g *Geometry) ([]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}

	if g.Type == "Point" {
		coords, err := g.Point()
		if err != nil {
			return nil, err
		}
		return []float64{coords[0], coords[1], coords[0], coords[1]}, nil
	}

	polys, err := Polygons(g)
	if err != nil {
		return nil, err
	}

	west, south := math.Inf(1), math.Inf(1)
	east, north := math.Inf(-1), math.Inf(-1)
	for _, poly := range polys {
		for _, ring := range poly {
			for _, pt := range ring {
				if len(pt) < 2 {
					continue
				}
				west = math.Min(west, pt[0])
				east = math.Max(east, pt[0])
				south = math.Min(south, pt[1])
				north = math.Max(north, pt[1])
			}
		}
	}
	if math.IsInf(west, 0) || math.IsInf(south, 0) {
		return nil, fmt.Errorf("failed to compute bounding box: no valid coordinates found")
	}
	return []float64{west, south, east, north}, nil
}

// NewPolygonFromBBox creates the rectangular polygon covering a
// [west, south, east, north] bounding box.
func NewPolygonFromBBox(bbox []float64) (*Geometry, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values [west, south, east, north], got %d", len(bbox))
	}
	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]
	return NewPolygon([][][]float64{{
		{west, south},
		{east, south},
		{east, north},
		{west, north},
		{west, south},
	}})
}

// ToWKT renders a Point, Polygon or MultiPolygon geometry as WKT.
func ToWKT(g *Geometry) (string, error) {
	if g == nil {
		return "", fmt.Errorf("geometry is nil")
	}

	switch g.Type {
	case "Point":
		coords, err := g.Point()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("POINT(%s %s)", wktFloat(coords[0]), wktFloat(coords[1])), nil

	case "Polygon":
		coords, err := g.Polygon()
		if err != nil {
			return "", err
		}
		body, err := wktRings(coords)
		if err != nil {
			return "", err
		}
		return "POLYGON" + body, nil

	case "MultiPolygon":
		coords, err := g.MultiPolygon()
		if err != nil {
			return "", err
		}
		parts := make([]string, len(coords))
		for i, poly := range coords {
			body, err := wktRings(poly)
			if err != nil {
				return "", err
			}
			parts[i] = body
		}
		return "MULTIPOLYGON(" + strings.Join(parts, ",") + ")", nil

	default:
		return "", fmt.Errorf("unsupported geometry type for WKT conversion: %s", g.Type)
	}
}

func wktRings(rings [][][]float64) (string, error) {
	parts := make([]string, len(rings))
	for i, ring := range rings {
		points := make([]string, len(ring))
		for j, pt := range ring {
			if len(pt) < 2 {
				return "", fmt.Errorf("invalid position in ring: expected at least 2 coordinates")
			}
			points[j] = wktFloat(pt[0]) + " " + wktFloat(pt[1])
		}
		parts[i] = "(" + strings.Join(points, ",") + ")"
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

func wktFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FromWKT parses a Point, Polygon or MultiPolygon WKT string.
func FromWKT(wkt string) (*Geometry, error) {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return nil, fmt.Errorf("empty WKT string")
	}

	open := strings.Index(wkt, "(")
	close := strings.LastIndex(wkt, ")")
	if open == -1 || close == -1 || open >= close {
		return nil, fmt.Errorf("malformed WKT: missing parentheses")
	}
	kind := strings.ToUpper(strings.TrimSpace(wkt[:open]))
	body := wkt[open+1 : close]

	switch kind {
	case "POINT":
		pt, err := parseWKTPosition(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse POINT: %w", err)
		}
		raw, err := json.Marshal(pt)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal point coordinates: %w", err)
		}
		return &Geometry{Type: "Point", Coordinates: raw}, nil

	case "POLYGON":
		rings, err := parseWKTRings(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse POLYGON: %w", err)
		}
		raw, err := json.Marshal(rings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
		}
		return &Geometry{Type: "Polygon", Coordinates: raw}, nil

	case "MULTIPOLYGON":
		groups, err := splitWKTGroups(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse MULTIPOLYGON: %w", err)
		}
		polys := make([][][][]float64, 0, len(groups))
		for _, group := range groups {
			rings, err := parseWKTRings(group)
			if err != nil {
				return nil, fmt.Errorf("failed to parse MULTIPOLYGON part: %w", err)
			}
			polys = append(polys, rings)
		}
		raw, err := json.Marshal(polys)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal multipolygon coordinates: %w", err)
		}
		return &Geometry{Type: "MultiPolygon", Coordinates: raw}, nil

	default:
		return nil, fmt.Errorf("unsupported WKT geometry type: %q", kind)
	}
}

// parseWKTRings parses "(x y,x y,...),(x y,...)" into rings.
func parseWKTRings(s string) ([][][]float64, error) {
	groups, err := splitWKTGroups(s)
	if err != nil {
		return nil, err
	}
	rings := make([][][]float64, 0, len(groups))
	for _, group := range groups {
		pairs := strings.Split(group, ",")
		ring := make([][]float64, 0, len(pairs))
		for _, pair := range pairs {
			pt, err := parseWKTPosition(pair)
			if err != nil {
				return nil, err
			}
			ring = append(ring, pt)
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// parseWKTPosition parses "lon lat" into [lon, lat].
func parseWKTPosition(s string) ([]float64, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 2 {
		return nil, fmt.Errorf("invalid coordinate pair: %q", s)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude: %q", fields[0])
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude: %q", fields[1])
	}
	return []float64{lon, lat}, nil
}

// splitWKTGroups splits a comma-separated list of parenthesised groups,
// returning the content of each top-level group.
func splitWKTGroups(s string) ([]string, error) {
	var groups []string
	depth, start := 0, -1
	for i, ch := range s {
		switch ch {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unmatched closing parenthesis at position %d", i)
			}
			if depth == 0 {
				groups = append(groups, s[start:i])
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unmatched parentheses")
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no coordinate groups found")
	}
	return groups, nil
}
