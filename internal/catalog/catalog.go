// Package catalog finds products: pluggable search backends, a
// filtering orchestrator and the product blacklist.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eoxio/terracube/internal/cube"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/raster"
	"github.com/eoxio/terracube/internal/stac"
	"github.com/eoxio/terracube/pkg/geojson"
)

// ErrResourceLimit marks a search whose result set exceeds the
// configured product cap. Returned before any asset is read so callers
// can narrow the query instead of drowning in I/O.
var ErrResourceLimit = errors.New("too many products")

// Query describes one catalog search. Bounds are geographic (EPSG:4326);
// a Right smaller than Left means the extent crosses the antimeridian.
type Query struct {
	Bounds raster.Bounds
	Start  time.Time
	End    time.Time

	// Footprint optionally narrows the search to an exact area of
	// interest instead of the bounding box. Backends that support
	// geometry queries send it server-side; the orchestrator still
	// filters against Bounds.
	Footprint *geojson.Geometry

	// MaxCloudPercent drops products above the given scene cloud cover.
	// 100 disables the filter.
	MaxCloudPercent float64

	// Level filters by processing level, e.g. "L2A". Empty keeps all.
	Level string

	// Platform filters by platform name. Empty keeps all.
	Platform string

	Collections []string
}

// Backend is a catalog search variant.
type Backend interface {
	// Search returns the products matching the query. Backends filter
	// server-side where the remote API allows; the orchestrator
	// re-applies every filter regardless.
	Search(ctx context.Context, q Query) ([]*product.Product, error)

	// Name identifies the backend, e.g. "stac".
	Name() string
}

// Searcher orchestrates a backend: it filters, deduplicates, caps and
// groups raw results into per-date slices. It owns the shared
// blacklist.
type Searcher struct {
	backend   Backend
	blacklist *Blacklist
	logger    *slog.Logger

	maxProducts         int
	intersectionPercent float64
	firstGranuleOnly    bool
}

// NewSearcher creates a searcher over the backend.
func NewSearcher(backend Backend, blacklist *Blacklist) *Searcher {
	return &Searcher{
		backend:   backend,
		blacklist: blacklist,
		logger:    slog.Default(),
	}
}

// WithMaxProducts caps the filtered result set. Zero means unlimited.
func (s *Searcher) WithMaxProducts(n int) *Searcher {
	s.maxProducts = n
	return s
}

// WithIntersectionPercent drops products covering less than the given
// share of the query extent.
func (s *Searcher) WithIntersectionPercent(pct float64) *Searcher {
	s.intersectionPercent = pct
	return s
}

// WithFirstGranuleOnly keeps only the earliest granule per tile per day.
func (s *Searcher) WithFirstGranuleOnly(v bool) *Searcher {
	s.firstGranuleOnly = v
	return s
}

// WithLogger sets a custom logger for the searcher.
func (s *Searcher) WithLogger(logger *slog.Logger) *Searcher {
	s.logger = logger
	return s
}

// Blacklist returns the shared blacklist.
func (s *Searcher) Blacklist() *Blacklist { return s.blacklist }

// Search runs the query and returns per-date slices, oldest first.
func (s *Searcher) Search(ctx context.Context, q Query) ([]*cube.Slice, error) {
	found, err := s.backend.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", s.backend.Name(), err)
	}

	products := s.filter(ctx, q, found)

	// Deterministic order regardless of backend completion order.
	sort.Slice(products, func(i, j int) bool {
		if !products[i].Time.Equal(products[j].Time) {
			return products[i].Time.Before(products[j].Time)
		}
		return products[i].ID < products[j].ID
	})

	if s.firstGranuleOnly {
		products = firstGranulePerDay(products)
	}

	if s.maxProducts > 0 && len(products) > s.maxProducts {
		return nil, fmt.Errorf("%w: %d products match, limit is %d",
			ErrResourceLimit, len(products), s.maxProducts)
	}

	s.logger.DebugContext(ctx, "search finished",
		slog.String("backend", s.backend.Name()),
		slog.Int("found", len(found)),
		slog.Int("kept", len(products)),
	)
	return cube.GroupByDate(products), nil
}

func (s *Searcher) filter(ctx context.Context, q Query, found []*product.Product) []*product.Product {
	aoi := queryBBoxes(q.Bounds)
	aoiArea := q.Bounds.Width() * q.Bounds.Height()
	if q.Bounds.Right < q.Bounds.Left {
		aoiArea = (q.Bounds.Right + 360 - q.Bounds.Left) * q.Bounds.Height()
	}

	seen := make(map[string]bool)
	var kept []*product.Product
	for _, p := range found {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		if s.blacklist != nil && s.blacklist.Contains(p.ID) {
			continue
		}
		if p.Time.Before(q.Start) || p.Time.After(q.End) {
			continue
		}
		if s.intersectionPercent > 0 && aoiArea > 0 {
			var common float64
			for _, bbox := range aoi {
				common += geojson.IntersectionArea(p.Footprint, bbox)
			}
			if common/aoiArea*100 < s.intersectionPercent {
				s.logger.DebugContext(ctx, "product below intersection threshold",
					slog.String("product", p.ID),
				)
				continue
			}
		}
		if q.MaxCloudPercent < 100 && p.CloudPercent > q.MaxCloudPercent {
			continue
		}
		if q.Level != "" && p.Level != q.Level {
			continue
		}
		if q.Platform != "" && p.Platform != q.Platform {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// queryBBoxes returns the query extent as one bbox, or two when it
// crosses the antimeridian.
func queryBBoxes(b raster.Bounds) [][]float64 {
	if b.Right >= b.Left {
		return [][]float64{{b.Left, b.Bottom, b.Right, b.Top}}
	}
	return [][]float64{
		{b.Left, b.Bottom, 180, b.Top},
		{-180, b.Bottom, b.Right, b.Top},
	}
}

// firstGranulePerDay keeps the earliest product per tile per day. The
// input must be sorted by time.
func firstGranulePerDay(products []*product.Product) []*product.Product {
	type key struct {
		day  time.Time
		tile string
	}
	seen := make(map[key]bool)
	var kept []*product.Product
	for _, p := range products {
		k := key{day: p.Date(), tile: p.Tile.String()}
		if seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, p)
	}
	return kept
}

// convertItems parses STAC items into products over a bounded worker
// pool. Unparseable items are blacklisted and dropped, never fatal.
// Order follows the input.
func convertItems(ctx context.Context, items []*stac.Item, concurrency int, blacklist *Blacklist, logger *slog.Logger) []*product.Product {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]*product.Product, len(items))
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item *stac.Item) {
			defer wg.Done()
			defer func() { <-sem }()

			p, err := product.FromItem(item)
			if err != nil {
				id := ""
				if item != nil {
					id = item.Id
				}
				logger.WarnContext(ctx, "dropping unparseable item",
					slog.String("item", id),
					slog.String("error", err.Error()),
				)
				if blacklist != nil && id != "" {
					if berr := blacklist.Add(id, err.Error()); berr != nil {
						logger.WarnContext(ctx, "failed to blacklist item",
							slog.String("item", id),
							slog.String("error", berr.Error()),
						)
					}
				}
				return
			}
			results[i] = p
		}(i, item)
	}
	wg.Wait()

	products := make([]*product.Product, 0, len(items))
	for _, p := range results {
		if p != nil {
			products = append(products, p)
		}
	}
	return products
}
