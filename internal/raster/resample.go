package raster

import (
	"fmt"
	"math"
)

// Resampling selects the pixel interpolation method.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
)

// ParseResampling parses a resampling method name.
func ParseResampling(s string) (Resampling, error) {
	switch s {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	default:
		return 0, fmt.Errorf("unknown resampling method: %q", s)
	}
}

// Resample warps src onto the target grid, transforming coordinates
// between CRSs when they differ. Target pixels falling outside the
// source extent are nodata.
func Resample(src *Raster, target Grid, method Resampling) (*Raster, error) {
	if src.Grid.Equal(target) {
		return src.Clone(), nil
	}

	out := NewMaskedRaster(target, src.DType, 0)
	sameCRS := src.Grid.EPSG == target.EPSG

	for row := 0; row < target.Rows; row++ {
		for col := 0; col < target.Cols; col++ {
			// Sample at the pixel center.
			x, y := target.ToCoord(float64(col)+0.5, float64(row)+0.5)
			if !sameCRS {
				var err error
				x, y, err = Transform(x, y, target.EPSG, src.Grid.EPSG)
				if err != nil {
					return nil, fmt.Errorf("failed to transform coordinate: %w", err)
				}
			}
			scol, srow := src.Grid.ToPixel(x, y)

			var v float64
			var ok bool
			switch method {
			case Bilinear:
				v, ok = sampleBilinear(src, scol, srow)
			default:
				v, ok = sampleNearest(src, scol, srow)
			}
			if ok {
				out.Set(col, row, v)
			}
		}
	}
	return out, nil
}

func sampleNearest(src *Raster, col, row float64) (float64, bool) {
	c := int(math.Floor(col))
	r := int(math.Floor(row))
	if c < 0 || c >= src.Grid.Cols || r < 0 || r >= src.Grid.Rows {
		return 0, false
	}
	return src.At(c, r)
}

func sampleBilinear(src *Raster, col, row float64) (float64, bool) {
	// Shift to pixel-center coordinates.
	fc := col - 0.5
	fr := row - 0.5
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))
	wc := fc - float64(c0)
	wr := fr - float64(r0)

	var sum, weight float64
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			c, r := c0+dc, r0+dr
			if c < 0 || c >= src.Grid.Cols || r < 0 || r >= src.Grid.Rows {
				continue
			}
			v, ok := src.At(c, r)
			if !ok {
				continue
			}
			w := (1 - math.Abs(float64(dc)-wc)) * (1 - math.Abs(float64(dr)-wr))
			sum += v * w
			weight += w
		}
	}
	if weight == 0 {
		return 0, false
	}
	return sum / weight, true
}

// FillNodata replaces masked pixels with fill, marking them valid.
func FillNodata(r *Raster, fill float64) {
	for i, m := range r.Mask {
		if m {
			r.Data[i] = fill
			r.Mask[i] = false
		}
	}
}
