// Package raster provides in-memory raster grids, masks and resampling
// for the cube assembly engine.
package raster

import (
	"fmt"
	"math"
)

// DType identifies the storage data type of a raster band.
type DType int

const (
	Uint8 DType = iota
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

// String returns the data type name.
func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ParseDType parses a data type name.
func ParseDType(s string) (DType, error) {
	switch s {
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "int16":
		return Int16, nil
	case "uint32":
		return Uint32, nil
	case "int32":
		return Int32, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown data type: %q", s)
	}
}

// Max returns the largest value the data type can store.
func (d DType) Max() float64 {
	switch d {
	case Uint8:
		return math.MaxUint8
	case Uint16:
		return math.MaxUint16
	case Int16:
		return math.MaxInt16
	case Uint32:
		return math.MaxUint32
	case Int32:
		return math.MaxInt32
	case Float32:
		return math.MaxFloat32
	default:
		return math.MaxFloat64
	}
}

// Min returns the smallest value the data type can store.
func (d DType) Min() float64 {
	switch d {
	case Int16:
		return math.MinInt16
	case Int32:
		return math.MinInt32
	case Float32:
		return -math.MaxFloat32
	case Float64:
		return -math.MaxFloat64
	default:
		return 0
	}
}

// Clamp clips v to the representable range of the data type and rounds
// integer types to the nearest whole value.
func (d DType) Clamp(v float64) float64 {
	if v < d.Min() {
		v = d.Min()
	}
	if v > d.Max() {
		v = d.Max()
	}
	if d != Float32 && d != Float64 {
		v = math.Round(v)
	}
	return v
}

// Bounds is an axis-aligned extent in grid CRS coordinates.
type Bounds struct {
	Left, Bottom, Right, Top float64
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent.
func (b Bounds) Height() float64 { return b.Top - b.Bottom }

// Intersects reports whether two extents overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Left < o.Right && o.Left < b.Right && b.Bottom < o.Top && o.Bottom < b.Top
}

// Grid describes the georeferencing of a raster: pixel layout, extent
// and coordinate reference system (an EPSG code).
type Grid struct {
	Cols, Rows int
	Bounds     Bounds
	EPSG       int
}

// NewGrid creates a grid and validates its shape.
func NewGrid(cols, rows int, bounds Bounds, epsg int) (Grid, error) {
	if cols <= 0 || rows <= 0 {
		return Grid{}, fmt.Errorf("grid must have positive dimensions, got %dx%d", cols, rows)
	}
	if bounds.Width() <= 0 || bounds.Height() <= 0 {
		return Grid{}, fmt.Errorf("grid bounds are degenerate: %+v", bounds)
	}
	return Grid{Cols: cols, Rows: rows, Bounds: bounds, EPSG: epsg}, nil
}

// PixelWidth returns the horizontal pixel size in CRS units.
func (g Grid) PixelWidth() float64 { return g.Bounds.Width() / float64(g.Cols) }

// PixelHeight returns the vertical pixel size in CRS units.
func (g Grid) PixelHeight() float64 { return g.Bounds.Height() / float64(g.Rows) }

// Size returns the number of pixels.
func (g Grid) Size() int { return g.Cols * g.Rows }

// Equal reports whether two grids describe the same pixel layout.
func (g Grid) Equal(o Grid) bool {
	return g.Cols == o.Cols && g.Rows == o.Rows && g.EPSG == o.EPSG && g.Bounds == o.Bounds
}

// ToPixel maps a CRS coordinate to fractional pixel coordinates. Row 0
// is the top of the grid.
func (g Grid) ToPixel(x, y float64) (col, row float64) {
	col = (x - g.Bounds.Left) / g.PixelWidth()
	row = (g.Bounds.Top - y) / g.PixelHeight()
	return col, row
}

// ToCoord maps fractional pixel coordinates to the CRS coordinate of
// the pixel position.
func (g Grid) ToCoord(col, row float64) (x, y float64) {
	x = g.Bounds.Left + col*g.PixelWidth()
	y = g.Bounds.Top - row*g.PixelHeight()
	return x, y
}

// Raster is a single-band raster with an explicit nodata mask. Data is
// stored row-major with row 0 at the top.
type Raster struct {
	Grid  Grid
	DType DType
	Data  []float64
	// Mask marks nodata pixels true.
	Mask []bool
}

// NewRaster allocates a raster filled with fill, fully valid.
func NewRaster(grid Grid, dtype DType, fill float64) *Raster {
	data := make([]float64, grid.Size())
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return &Raster{
		Grid:  grid,
		DType: dtype,
		Data:  data,
		Mask:  make([]bool, grid.Size()),
	}
}

// NewMaskedRaster allocates a raster with every pixel masked nodata.
func NewMaskedRaster(grid Grid, dtype DType, fill float64) *Raster {
	r := NewRaster(grid, dtype, fill)
	for i := range r.Mask {
		r.Mask[i] = true
	}
	return r
}

// At returns the value and validity of the pixel at (col, row).
func (r *Raster) At(col, row int) (float64, bool) {
	i := row*r.Grid.Cols + col
	return r.Data[i], !r.Mask[i]
}

// Set assigns a valid value to the pixel at (col, row).
func (r *Raster) Set(col, row int, v float64) {
	i := row*r.Grid.Cols + col
	r.Data[i] = v
	r.Mask[i] = false
}

// AllMasked reports whether every pixel is nodata.
func (r *Raster) AllMasked() bool {
	for _, m := range r.Mask {
		if !m {
			return false
		}
	}
	return true
}

// ValidCount returns the number of valid pixels.
func (r *Raster) ValidCount() int {
	n := 0
	for _, m := range r.Mask {
		if !m {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the raster.
func (r *Raster) Clone() *Raster {
	out := &Raster{
		Grid:  r.Grid,
		DType: r.DType,
		Data:  make([]float64, len(r.Data)),
		Mask:  make([]bool, len(r.Mask)),
	}
	copy(out.Data, r.Data)
	copy(out.Mask, r.Mask)
	return out
}

// Mask8 is a boolean pixel mask on a grid. True marks masked-out pixels.
type Mask8 struct {
	Grid Grid
	Bits []bool
}

// NewMask allocates an all-clear mask.
func NewMask(grid Grid) *Mask8 {
	return &Mask8{Grid: grid, Bits: make([]bool, grid.Size())}
}

// NewFullMask allocates an all-set mask.
func NewFullMask(grid Grid) *Mask8 {
	m := NewMask(grid)
	for i := range m.Bits {
		m.Bits[i] = true
	}
	return m
}

// Or merges another mask into m in place.
func (m *Mask8) Or(o *Mask8) error {
	if !m.Grid.Equal(o.Grid) {
		return fmt.Errorf("mask grids differ: %dx%d vs %dx%d", m.Grid.Cols, m.Grid.Rows, o.Grid.Cols, o.Grid.Rows)
	}
	for i, b := range o.Bits {
		if b {
			m.Bits[i] = true
		}
	}
	return nil
}

// All reports whether every pixel is masked.
func (m *Mask8) All() bool {
	for _, b := range m.Bits {
		if !b {
			return false
		}
	}
	return true
}

// Any reports whether any pixel is masked.
func (m *Mask8) Any() bool {
	for _, b := range m.Bits {
		if b {
			return true
		}
	}
	return false
}

// Count returns the number of masked pixels.
func (m *Mask8) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Dilate grows masked regions by n pixels using a square structuring
// element, applied one ring at a time.
func (m *Mask8) Dilate(n int) {
	cols, rows := m.Grid.Cols, m.Grid.Rows
	for step := 0; step < n; step++ {
		next := make([]bool, len(m.Bits))
		copy(next, m.Bits)
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				if !m.Bits[row*cols+col] {
					continue
				}
				for dr := -1; dr <= 1; dr++ {
					for dc := -1; dc <= 1; dc++ {
						rr, cc := row+dr, col+dc
						if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
							continue
						}
						next[rr*cols+cc] = true
					}
				}
			}
		}
		m.Bits = next
	}
}

// Apply marks raster pixels nodata where the mask is set.
func (m *Mask8) Apply(r *Raster) error {
	if !m.Grid.Equal(r.Grid) {
		return fmt.Errorf("mask grid does not match raster grid")
	}
	for i, b := range m.Bits {
		if b {
			r.Mask[i] = true
		}
	}
	return nil
}
