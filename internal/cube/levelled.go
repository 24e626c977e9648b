package cube

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eoxio/terracube/internal/raster"
)

// LevelledCube stacks pixels by availability instead of by time: layer
// 0 holds the first usable observation of each pixel, layer 1 the
// second, and so on up to a fixed height. A pixel column shorter than
// the height leaves the deeper layers invalid.
type LevelledCube struct {
	Grid   raster.Grid
	Bands  []string
	Layers []map[string]*raster.Raster
}

// Height returns the number of layers.
func (c *LevelledCube) Height() int { return len(c.Layers) }

// ReadLevelledCube assembles a levelled cube of the given height.
// Slices are visited in the configured order and each usable pixel
// sinks to the shallowest layer that is still empty at its location.
// Observations beyond the height are dropped.
func (e *Engine) ReadLevelledCube(ctx context.Context, slices []*Slice, bands []string, grid raster.Grid, height int, opts Options) (*LevelledCube, error) {
	if height < 1 {
		return nil, fmt.Errorf("invalid cube height %d", height)
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("no bands requested")
	}

	out := &LevelledCube{
		Grid:   grid,
		Bands:  bands,
		Layers: make([]map[string]*raster.Raster, height),
	}
	for l := range out.Layers {
		out.Layers[l] = make(map[string]*raster.Raster, len(bands))
		for _, band := range bands {
			out.Layers[l][band] = raster.NewMaskedRaster(grid, opts.DType, opts.FillValue)
		}
	}

	size := grid.Size()
	depth := make([]int, size)
	noSkip := make([]bool, size) // levelled reads never skip by resolution

	for _, s := range orderSlices(slices, opts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if minDepth(depth) >= height {
			e.logger.DebugContext(ctx, "all pixel columns full, stopping early",
				slog.Int("height", height),
			)
			break
		}

		data, _, err := e.readSlice(ctx, s, bands, grid, opts, noSkip)
		if err != nil {
			return nil, err
		}
		if data == nil {
			s.Invalidate()
			continue
		}

		for i := 0; i < size; i++ {
			if depth[i] >= height {
				continue
			}
			valid := true
			for _, band := range bands {
				if data[band].Mask[i] {
					valid = false
					break
				}
			}
			if !valid {
				continue
			}
			layer := out.Layers[depth[i]]
			for _, band := range bands {
				layer[band].Data[i] = opts.DType.Clamp(data[band].Data[i])
				layer[band].Mask[i] = false
			}
			depth[i]++
		}
		s.Invalidate()
	}

	return out, nil
}

func minDepth(depth []int) int {
	if len(depth) == 0 {
		return 0
	}
	min := depth[0]
	for _, d := range depth[1:] {
		if d < min {
			min = d
		}
	}
	return min
}
