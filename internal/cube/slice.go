// Package cube assembles temporal cubes: per-date slices of merged,
// masked, optionally BRDF-corrected band rasters on a common grid.
package cube

import (
	"sort"
	"time"

	"github.com/eoxio/terracube/internal/product"
)

// Slice groups the products sharing one acquisition date, typically
// adjacent granules of the same overpass.
type Slice struct {
	Products []*product.Product
}

// NewSlice creates a slice over the given products.
func NewSlice(products ...*product.Product) *Slice {
	return &Slice{Products: products}
}

// Time returns the mean acquisition timestamp of the slice.
func (s *Slice) Time() time.Time {
	if len(s.Products) == 0 {
		return time.Time{}
	}
	var total int64
	for _, p := range s.Products {
		total += p.Time.Unix()
	}
	return time.Unix(total/int64(len(s.Products)), 0).UTC()
}

// Date returns the acquisition day of the slice.
func (s *Slice) Date() time.Time {
	if len(s.Products) == 0 {
		return time.Time{}
	}
	return s.Products[0].Date()
}

// IDs returns the product ids in the slice.
func (s *Slice) IDs() []string {
	ids := make([]string, 0, len(s.Products))
	for _, p := range s.Products {
		ids = append(ids, p.ID)
	}
	return ids
}

// Invalidate releases cached product metadata so memory can be
// reclaimed after the slice is processed.
func (s *Slice) Invalidate() {
	for _, p := range s.Products {
		p.Invalidate()
	}
}

// GroupByDate splits products into per-date slices ordered oldest
// first. Products must not be nil.
func GroupByDate(products []*product.Product) []*Slice {
	byDate := make(map[time.Time][]*product.Product)
	var dates []time.Time
	for _, p := range products {
		d := p.Date()
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
		byDate[d] = append(byDate[d], p)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	slices := make([]*Slice, 0, len(dates))
	for _, d := range dates {
		slices = append(slices, NewSlice(byDate[d]...))
	}
	return slices
}
