package raster

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"golang.org/x/image/tiff"
)

// Reader loads a single band of a raster asset into memory.
type Reader interface {
	// Read loads band (1-based) from the asset at path.
	Read(ctx context.Context, path string, band int) (*Raster, error)
}

var registerGDAL sync.Once

// GDALReader reads rasters through GDAL and understands every format
// and VSI path GDAL does, including /vsicurl/ remote assets.
type GDALReader struct{}

// NewGDALReader creates a GDAL-backed reader, registering drivers on
// first use.
func NewGDALReader() *GDALReader {
	registerGDAL.Do(godal.RegisterAll)
	return &GDALReader{}
}

// gdalPath maps remote URLs onto GDAL's curl virtual filesystem, so
// opening a COG issues windowed range requests instead of fetching the
// whole object. VSI and local paths pass through unchanged.
func gdalPath(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return "/vsicurl/" + path
	}
	return path
}

// Read implements Reader.
func (g *GDALReader) Read(ctx context.Context, path string, band int) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := godal.Open(gdalPath(path), godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	if band < 1 || band > st.NBands {
		return nil, fmt.Errorf("dataset %s has %d bands, requested band %d", path, st.NBands, band)
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("failed to read geotransform of %s: %w", path, err)
	}
	bounds := Bounds{
		Left:   gt[0],
		Top:    gt[3],
		Right:  gt[0] + gt[1]*float64(st.SizeX),
		Bottom: gt[3] + gt[5]*float64(st.SizeY),
	}

	epsg := 0
	if sr := ds.SpatialRef(); sr != nil {
		if code, ok := sr.AttrValue("AUTHORITY", 1); ok {
			epsg, _ = strconv.Atoi(code)
		}
	}

	grid, err := NewGrid(st.SizeX, st.SizeY, bounds, epsg)
	if err != nil {
		return nil, fmt.Errorf("dataset %s has invalid grid: %w", path, err)
	}

	b := ds.Bands()[band-1]
	buf := make([]float64, grid.Size())
	if err := b.Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("failed to read band %d of %s: %w", band, path, err)
	}

	out := &Raster{
		Grid:  grid,
		DType: Float64,
		Data:  buf,
		Mask:  make([]bool, grid.Size()),
	}
	if nodata, ok := b.NoData(); ok {
		for i, v := range buf {
			if v == nodata {
				out.Mask[i] = true
			}
		}
	}
	return out, nil
}

// TIFFReader reads single-band grayscale GeoTIFF-style files with the
// pure Go TIFF decoder. TIFF carries no georeferencing for this
// decoder, so Georef supplies the grid for a decoded image; when nil
// the grid is pixel space.
type TIFFReader struct {
	Georef func(path string, cols, rows int) (Grid, error)
}

// Read implements Reader. Only band 1 is supported.
func (t *TIFFReader) Read(ctx context.Context, path string, band int) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if band != 1 {
		return nil, fmt.Errorf("tiff reader supports band 1 only, requested %d", band)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	b := img.Bounds()
	cols, rows := b.Dx(), b.Dy()

	var grid Grid
	if t.Georef != nil {
		grid, err = t.Georef(path, cols, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to georeference %s: %w", path, err)
		}
	} else {
		grid, err = NewGrid(cols, rows, Bounds{Left: 0, Bottom: float64(-rows), Right: float64(cols), Top: 0}, 0)
		if err != nil {
			return nil, err
		}
	}

	out := NewRaster(grid, tiffDType(img), 0)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			out.Data[row*cols+col] = pixelValue(img, b.Min.X+col, b.Min.Y+row)
		}
	}
	return out, nil
}

func tiffDType(img image.Image) DType {
	switch img.(type) {
	case *image.Gray16:
		return Uint16
	default:
		return Uint8
	}
}

func pixelValue(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return float64(r >> 8)
	}
}

// MapReader serves rasters from memory, keyed by "path:band". It backs
// tests and synthetic pipelines.
type MapReader struct {
	mu      sync.RWMutex
	rasters map[string]*Raster
}

// NewMapReader creates an empty in-memory reader.
func NewMapReader() *MapReader {
	return &MapReader{rasters: make(map[string]*Raster)}
}

// Put registers a raster under path and band.
func (m *MapReader) Put(path string, band int, r *Raster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rasters[mapKey(path, band)] = r
}

// Read implements Reader.
func (m *MapReader) Read(ctx context.Context, path string, band int) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rasters[mapKey(path, band)]
	if !ok {
		return nil, fmt.Errorf("no raster registered for %s band %d", path, band)
	}
	return r.Clone(), nil
}

func mapKey(path string, band int) string {
	return fmt.Sprintf("%s:%d", path, band)
}
