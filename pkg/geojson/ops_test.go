package geojson

import (
	"math"
	"testing"
)

func mustPolygon(t *testing.T, rings [][][]float64) *Geometry {
	t.Helper()
	g, err := NewPolygon(rings)
	if err != nil {
		t.Fatalf("NewPolygon() error: %v", err)
	}
	return g
}

func square(t *testing.T, x0, y0, x1, y1 float64) *Geometry {
	t.Helper()
	return mustPolygon(t, [][][]float64{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
}

// dateLineFootprint spans from 179°E to 179°W across the antimeridian.
func dateLineFootprint(t *testing.T) *Geometry {
	t.Helper()
	return mustPolygon(t, [][][]float64{{
		{179, 10}, {-179, 10}, {-179, 12}, {179, 12}, {179, 10},
	}})
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty(nil) {
		t.Error("nil geometry should be empty")
	}
	if !IsEmpty(Empty()) {
		t.Error("Empty() should be empty")
	}
	if IsEmpty(square(t, 0, 0, 1, 1)) {
		t.Error("square should not be empty")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(square(t, 0, 0, 1, 1)); err != nil {
		t.Errorf("Validate() error on valid polygon: %v", err)
	}

	if _, err := NewPolygon([][][]float64{{{0, 0}, {1, 0}, {0, 0}}}); err == nil {
		t.Error("NewPolygon() should reject rings with fewer than 4 positions")
	}
	if _, err := NewPolygon([][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}); err == nil {
		t.Error("NewPolygon() should reject unclosed rings")
	}
}

func TestCrossesAntimeridian(t *testing.T) {
	if !CrossesAntimeridian(dateLineFootprint(t)) {
		t.Error("date line footprint should cross")
	}
	if CrossesAntimeridian(square(t, 14, 47, 16, 49)) {
		t.Error("mid-europe square should not cross")
	}
	if CrossesAntimeridian(Empty()) {
		t.Error("empty geometry should not cross")
	}
}

func TestSplitAntimeridian(t *testing.T) {
	split, err := SplitAntimeridian(dateLineFootprint(t))
	if err != nil {
		t.Fatalf("SplitAntimeridian() error: %v", err)
	}
	if split.Type != "MultiPolygon" {
		t.Fatalf("split type = %s, want MultiPolygon", split.Type)
	}
	if err := Validate(split); err != nil {
		t.Errorf("split geometry invalid: %v", err)
	}

	polys, err := Polygons(split)
	if err != nil {
		t.Fatalf("Polygons() error: %v", err)
	}
	if len(polys) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(polys))
	}
	for _, poly := range polys {
		for _, pt := range poly[0] {
			if pt[0] < -180 || pt[0] > 180 {
				t.Errorf("longitude %g outside ±180 after split", pt[0])
			}
		}
	}

	// 1° on each side of the line, 2° tall.
	if got := Area(split); math.Abs(got-4) > 1e-9 {
		t.Errorf("split area = %g, want 4", got)
	}
}

func TestSplitAntimeridianPassthrough(t *testing.T) {
	g := square(t, 14, 47, 16, 49)
	split, err := SplitAntimeridian(g)
	if err != nil {
		t.Fatalf("SplitAntimeridian() error: %v", err)
	}
	if split != g {
		t.Error("non-crossing geometry should pass through unchanged")
	}
}

func TestArea(t *testing.T) {
	if got := Area(square(t, 0, 0, 10, 10)); got != 100 {
		t.Errorf("Area() = %g, want 100", got)
	}

	withHole := mustPolygon(t, [][][]float64{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}},
	})
	if got := Area(withHole); got != 96 {
		t.Errorf("Area() with hole = %g, want 96", got)
	}

	if got := Area(Empty()); got != 0 {
		t.Errorf("Area() of empty = %g, want 0", got)
	}
}

func TestIntersectionArea(t *testing.T) {
	g := square(t, 0, 0, 10, 10)
	if got := IntersectionArea(g, []float64{5, 0, 15, 10}); got != 50 {
		t.Errorf("IntersectionArea() = %g, want 50", got)
	}
	if got := IntersectionArea(g, []float64{20, 20, 30, 30}); got != 0 {
		t.Errorf("disjoint IntersectionArea() = %g, want 0", got)
	}

	// Only the western-hemisphere part of a date line footprint falls in
	// this bbox.
	if got := IntersectionArea(dateLineFootprint(t), []float64{-180, -90, -178, 90}); math.Abs(got-2) > 1e-9 {
		t.Errorf("date line IntersectionArea() = %g, want 2", got)
	}
}

func TestBufferShrink(t *testing.T) {
	buffered, err := Buffer(square(t, 0, 0, 10, 10), -2)
	if err != nil {
		t.Fatalf("Buffer() error: %v", err)
	}
	if got := Area(buffered); math.Abs(got-36) > 1e-9 {
		t.Errorf("shrunk area = %g, want 36", got)
	}
}

func TestBufferGrow(t *testing.T) {
	buffered, err := Buffer(square(t, 0, 0, 10, 10), 1)
	if err != nil {
		t.Fatalf("Buffer() error: %v", err)
	}
	if got := Area(buffered); math.Abs(got-144) > 1e-9 {
		t.Errorf("grown area = %g, want 144", got)
	}
}

func TestBufferCollapse(t *testing.T) {
	buffered, err := Buffer(square(t, 0, 0, 10, 10), -6)
	if err != nil {
		t.Fatalf("Buffer() error: %v", err)
	}
	if !IsEmpty(buffered) {
		t.Errorf("over-shrunk polygon should collapse to empty, area %g", Area(buffered))
	}
}

func TestBufferEmptyInput(t *testing.T) {
	buffered, err := Buffer(Empty(), -500)
	if err != nil {
		t.Fatalf("Buffer() error on empty input: %v", err)
	}
	if !IsEmpty(buffered) {
		t.Error("buffered empty geometry should stay empty")
	}
}

func TestBufferAcrossAntimeridian(t *testing.T) {
	buffered, err := Buffer(dateLineFootprint(t), -0.25)
	if err != nil {
		t.Fatalf("Buffer() error: %v", err)
	}
	if IsEmpty(buffered) {
		t.Fatal("buffered footprint should not be empty")
	}
	if err := Validate(buffered); err != nil {
		t.Errorf("buffered geometry invalid: %v", err)
	}

	polys, err := Polygons(buffered)
	if err != nil {
		t.Fatalf("Polygons() error: %v", err)
	}
	for _, poly := range polys {
		for _, pt := range poly[0] {
			if pt[0] < -180 || pt[0] > 180 {
				t.Errorf("longitude %g outside ±180 after buffering", pt[0])
			}
		}
	}

	// Each 1°x2° part shrinks to 0.5°x1.5°.
	if got := Area(buffered); math.Abs(got-1.5) > 1e-9 {
		t.Errorf("buffered area = %g, want 1.5", got)
	}
}

func TestUnion(t *testing.T) {
	a := square(t, 0, 0, 1, 1)
	b := square(t, 2, 0, 3, 1)

	u := Union([]*Geometry{a, Empty(), b})
	if u.Type != "MultiPolygon" {
		t.Errorf("union type = %s, want MultiPolygon", u.Type)
	}
	if got := Area(u); got != 2 {
		t.Errorf("union area = %g, want 2", got)
	}

	if got := Union([]*Geometry{a}); got.Type != "Polygon" {
		t.Errorf("single part union type = %s, want Polygon", got.Type)
	}
	if !IsEmpty(Union(nil)) {
		t.Error("union of nothing should be empty")
	}
}
