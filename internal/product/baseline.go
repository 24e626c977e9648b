package product

import (
	"fmt"
	"strconv"
	"strings"
)

// BaselineVersion is a processing baseline like "04.00". Products
// processed before baseline 04.00 ship vector GML cloud masks; later
// baselines ship raster masks and a reflectance offset.
type BaselineVersion struct {
	Major, Minor int
}

// rasterMaskBaseline is the first baseline with raster masks and the
// BOA reflectance offset.
var rasterMaskBaseline = BaselineVersion{Major: 4}

// ParseBaseline parses a "MM.mm" baseline string.
func ParseBaseline(s string) (BaselineVersion, error) {
	if s == "" {
		return BaselineVersion{}, fmt.Errorf("baseline is empty")
	}
	parts := strings.SplitN(s, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return BaselineVersion{}, fmt.Errorf("invalid baseline %q: %w", s, err)
	}
	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return BaselineVersion{}, fmt.Errorf("invalid baseline %q: %w", s, err)
		}
	}
	return BaselineVersion{Major: major, Minor: minor}, nil
}

// String formats the baseline as "MM.mm".
func (v BaselineVersion) String() string {
	return fmt.Sprintf("%02d.%02d", v.Major, v.Minor)
}

// Compare orders baselines: -1 when v < o, 0 when equal, 1 when v > o.
func (v BaselineVersion) Compare(o BaselineVersion) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor != o.Minor:
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether v precedes o.
func (v BaselineVersion) Before(o BaselineVersion) bool {
	return v.Compare(o) < 0
}

// VectorMasks reports whether products at this baseline carry vector
// GML cloud masks instead of raster masks.
func (v BaselineVersion) VectorMasks() bool {
	return v.Before(rasterMaskBaseline)
}

// HasOffset reports whether reflectance values at this baseline carry
// the additive BOA offset.
func (v BaselineVersion) HasOffset() bool {
	return !v.Before(rasterMaskBaseline)
}
