package cube

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/eoxio/terracube/internal/raster"
)

// MergeStrategy selects how slices combine into the output.
type MergeStrategy int

const (
	// MergeFirst keeps the first usable value per pixel.
	MergeFirst MergeStrategy = iota
	// MergeAverage averages all usable values per pixel.
	MergeAverage
	// MergeAll keeps the first value but marks a pixel usable only
	// when every contributing slice is usable there.
	MergeAll
)

// ParseMergeStrategy parses a merge strategy name.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch s {
	case "", "first":
		return MergeFirst, nil
	case "average":
		return MergeAverage, nil
	case "all":
		return MergeAll, nil
	default:
		return 0, fmt.Errorf("unknown merge strategy: %q", s)
	}
}

// SortOrder selects the slice processing order.
type SortOrder int

const (
	NewestFirst SortOrder = iota
	OldestFirst
)

// ParseSortOrder parses a sort order name.
func ParseSortOrder(s string) (SortOrder, error) {
	switch s {
	case "", "newest":
		return NewestFirst, nil
	case "oldest":
		return OldestFirst, nil
	default:
		return 0, fmt.Errorf("unknown sort order: %q", s)
	}
}

// Options controls cube assembly.
type Options struct {
	Merge MergeStrategy
	Sort  SortOrder

	// TargetDate, when set, overrides Sort: slices process in order of
	// temporal distance to the target.
	TargetDate time.Time

	// DType is the output data type tag.
	DType raster.DType

	// FillValue fills pixels no slice resolved.
	FillValue float64

	// Resampling warps band rasters onto the output grid.
	Resampling raster.Resampling
}

// orderSlices returns the slices in processing order without mutating
// the input.
func orderSlices(slices []*Slice, opts Options) []*Slice {
	out := make([]*Slice, len(slices))
	copy(out, slices)

	switch {
	case !opts.TargetDate.IsZero():
		sort.SliceStable(out, func(i, j int) bool {
			di := math.Abs(out[i].Time().Sub(opts.TargetDate).Seconds())
			dj := math.Abs(out[j].Time().Sub(opts.TargetDate).Seconds())
			return di < dj
		})
	case opts.Sort == OldestFirst:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Time().Before(out[j].Time())
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Time().After(out[j].Time())
		})
	}
	return out
}
