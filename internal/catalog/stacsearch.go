package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/stac"
	"github.com/eoxio/terracube/pkg/geojson"
)

// DefaultPageLimit is the page size requested from search endpoints.
const DefaultPageLimit = 200

// maxSearchPages bounds pagination so a broken next link cannot loop
// forever.
const maxSearchPages = 1000

// STACSearchBackend queries a generic STAC API item search endpoint.
type STACSearchBackend struct {
	endpoint    string
	collections []string
	limit       int
	concurrency int
	client      *fetch.Client
	blacklist   *Blacklist
	logger      *slog.Logger
}

// NewSTACSearchBackend creates a backend for the STAC API rooted at
// endpoint, searching the given collections.
func NewSTACSearchBackend(endpoint string, collections []string, client *fetch.Client) *STACSearchBackend {
	return &STACSearchBackend{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		collections: collections,
		limit:       DefaultPageLimit,
		concurrency: 1,
		client:      client,
		logger:      slog.Default(),
	}
}

// WithPageLimit sets the page size requested per search page.
func (b *STACSearchBackend) WithPageLimit(n int) *STACSearchBackend {
	if n > 0 {
		b.limit = n
	}
	return b
}

// WithConcurrency bounds the item parsing worker pool.
func (b *STACSearchBackend) WithConcurrency(n int) *STACSearchBackend {
	if n > 0 {
		b.concurrency = n
	}
	return b
}

// WithBlacklist records unparseable items as they are discovered.
func (b *STACSearchBackend) WithBlacklist(bl *Blacklist) *STACSearchBackend {
	b.blacklist = bl
	return b
}

// WithLogger sets a custom logger for the backend.
func (b *STACSearchBackend) WithLogger(logger *slog.Logger) *STACSearchBackend {
	b.logger = logger
	return b
}

// Name implements Backend.
func (b *STACSearchBackend) Name() string { return "stac" }

// searchRequest is the POST /search body.
type searchRequest struct {
	Collections []string          `json:"collections,omitempty"`
	Bbox        []float64         `json:"bbox,omitempty"`
	Intersects  *geojson.Geometry `json:"intersects,omitempty"`
	Datetime    string            `json:"datetime,omitempty"`
	Limit       int               `json:"limit"`
	Query       map[string]any    `json:"query,omitempty"`
}

// Search implements Backend. Results page through the "next" link
// until exhausted, with a deadline check between pages.
func (b *STACSearchBackend) Search(ctx context.Context, q Query) ([]*product.Product, error) {
	collections := q.Collections
	if len(collections) == 0 {
		collections = b.collections
	}

	var items []*stac.Item
	// An extent across the antimeridian searches as two bboxes; the
	// orchestrator deduplicates products found by both. An explicit
	// footprint replaces the bbox with an intersects geometry and
	// needs a single request.
	bboxes := queryBBoxes(q.Bounds)
	if q.Footprint != nil {
		bboxes = bboxes[:1]
	}
	for _, bbox := range bboxes {
		req := searchRequest{
			Collections: collections,
			Datetime:    datetimeInterval(q.Start, q.End),
			Limit:       b.limit,
		}
		if q.Footprint != nil {
			split, err := geojson.SplitAntimeridian(q.Footprint)
			if err != nil {
				return nil, fmt.Errorf("invalid search footprint: %w", err)
			}
			req.Intersects = split
		} else {
			req.Bbox = bbox
		}
		if q.MaxCloudPercent < 100 {
			req.Query = map[string]any{
				"eo:cloud_cover": map[string]any{"lte": q.MaxCloudPercent},
			}
		}

		pageItems, err := b.searchPages(ctx, req)
		if err != nil {
			return nil, err
		}
		items = append(items, pageItems...)
	}

	return convertItems(ctx, items, b.concurrency, b.blacklist, b.logger), nil
}

func (b *STACSearchBackend) searchPages(ctx context.Context, req searchRequest) ([]*stac.Item, error) {
	var items []*stac.Item

	var page stac.ItemCollection
	if err := b.client.PostJSON(ctx, b.endpoint+"/search", req, &page); err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}

	for n := 1; ; n++ {
		items = append(items, page.Features...)
		b.logger.DebugContext(ctx, "fetched search page",
			slog.Int("page", n),
			slog.Int("items", len(page.Features)),
		)

		next := page.NextLink()
		if next == "" || len(page.Features) == 0 {
			return items, nil
		}
		if n >= maxSearchPages {
			return nil, fmt.Errorf("search exceeded %d pages", maxSearchPages)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page = stac.ItemCollection{}
		if err := b.client.GetJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("search page %d failed: %w", n+1, err)
		}
	}
}

// datetimeInterval formats a STAC datetime interval. Open ends render
// as "..".
func datetimeInterval(start, end time.Time) string {
	s, e := "..", ".."
	if !start.IsZero() {
		s = start.UTC().Format(time.RFC3339)
	}
	if !end.IsZero() {
		e = end.UTC().Format(time.RFC3339)
	}
	if s == ".." && e == ".." {
		return ""
	}
	return s + "/" + e
}
