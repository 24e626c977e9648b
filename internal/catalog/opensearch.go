package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/stac"
	"github.com/eoxio/terracube/pkg/geojson"
)

// OpenSearchBackend queries a resto-style opensearch endpoint: GET with
// query parameters, JSON FeatureCollection responses, page/maxRecords
// paging.
type OpenSearchBackend struct {
	endpoint    string
	maxRecords  int
	concurrency int
	client      *fetch.Client
	blacklist   *Blacklist
	logger      *slog.Logger
}

// NewOpenSearchBackend creates a backend for the opensearch collection
// endpoint, e.g. ".../resto/api/collections/Sentinel2".
func NewOpenSearchBackend(endpoint string, client *fetch.Client) *OpenSearchBackend {
	return &OpenSearchBackend{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		maxRecords:  DefaultPageLimit,
		concurrency: 1,
		client:      client,
		logger:      slog.Default(),
	}
}

// WithPageLimit sets the maxRecords parameter per page.
func (b *OpenSearchBackend) WithPageLimit(n int) *OpenSearchBackend {
	if n > 0 {
		b.maxRecords = n
	}
	return b
}

// WithConcurrency bounds the item parsing worker pool.
func (b *OpenSearchBackend) WithConcurrency(n int) *OpenSearchBackend {
	if n > 0 {
		b.concurrency = n
	}
	return b
}

// WithBlacklist records unparseable items as they are discovered.
func (b *OpenSearchBackend) WithBlacklist(bl *Blacklist) *OpenSearchBackend {
	b.blacklist = bl
	return b
}

// WithLogger sets a custom logger for the backend.
func (b *OpenSearchBackend) WithLogger(logger *slog.Logger) *OpenSearchBackend {
	b.logger = logger
	return b
}

// Name implements Backend.
func (b *OpenSearchBackend) Name() string { return "opensearch" }

// openSearchResponse is the resto FeatureCollection page.
type openSearchResponse struct {
	Type     string               `json:"type"`
	Features []*openSearchFeature `json:"features"`
}

type openSearchFeature struct {
	ID         string               `json:"id"`
	Geometry   any                  `json:"geometry"`
	Properties openSearchProperties `json:"properties"`
}

type openSearchProperties struct {
	Title              string  `json:"title"`
	StartDate          string  `json:"startDate"`
	CompletionDate     string  `json:"completionDate"`
	CloudCover         float64 `json:"cloudCover"`
	ProcessingLevel    string  `json:"processingLevel"`
	ProcessingBaseline string  `json:"processingBaseline"`
	Platform           string  `json:"platform"`
	ProductIdentifier  string  `json:"productIdentifier"`
	Services           struct {
		Download struct {
			URL string `json:"url"`
		} `json:"download"`
	} `json:"services"`
	Thumbnail string `json:"thumbnail"`
}

// Search implements Backend. Pages advance until a short page arrives.
func (b *OpenSearchBackend) Search(ctx context.Context, q Query) ([]*product.Product, error) {
	var geometry string
	if q.Footprint != nil {
		// resto accepts an exact footprint as WKT; the bbox parameter
		// is skipped for that search.
		split, err := geojson.SplitAntimeridian(q.Footprint)
		if err != nil {
			return nil, fmt.Errorf("invalid search footprint: %w", err)
		}
		geometry, err = geojson.ToWKT(split)
		if err != nil {
			return nil, fmt.Errorf("invalid search footprint: %w", err)
		}
	}

	var items []*stac.Item
	bboxes := queryBBoxes(q.Bounds)
	if geometry != "" {
		bboxes = bboxes[:1]
	}
	for _, bbox := range bboxes {
		bboxItems, err := b.searchPages(ctx, q, bbox, geometry)
		if err != nil {
			return nil, err
		}
		items = append(items, bboxItems...)
	}
	return convertItems(ctx, items, b.concurrency, b.blacklist, b.logger), nil
}

func (b *OpenSearchBackend) searchPages(ctx context.Context, q Query, bbox []float64, geometry string) ([]*stac.Item, error) {
	var items []*stac.Item
	for page := 1; page <= maxSearchPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var resp openSearchResponse
		if err := b.client.GetJSON(ctx, b.pageURL(q, bbox, geometry, page), &resp); err != nil {
			return nil, fmt.Errorf("opensearch page %d failed: %w", page, err)
		}
		b.logger.DebugContext(ctx, "fetched opensearch page",
			slog.Int("page", page),
			slog.Int("features", len(resp.Features)),
		)

		for _, f := range resp.Features {
			items = append(items, openSearchItem(f))
		}
		if len(resp.Features) < b.maxRecords {
			return items, nil
		}
	}
	return nil, fmt.Errorf("opensearch exceeded %d pages", maxSearchPages)
}

func (b *OpenSearchBackend) pageURL(q Query, bbox []float64, geometry string, page int) string {
	v := url.Values{}
	if !q.Start.IsZero() {
		v.Set("startDate", q.Start.UTC().Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		v.Set("completionDate", q.End.UTC().Format(time.RFC3339))
	}
	if q.MaxCloudPercent < 100 {
		v.Set("cloudCover", fmt.Sprintf("[0,%g]", q.MaxCloudPercent))
	}
	if q.Level != "" {
		v.Set("processingLevel", q.Level)
	}
	if q.Platform != "" {
		v.Set("platform", q.Platform)
	}
	if geometry != "" {
		v.Set("geometry", geometry)
	} else {
		v.Set("box", fmt.Sprintf("%g,%g,%g,%g", bbox[0], bbox[1], bbox[2], bbox[3]))
	}
	v.Set("maxRecords", fmt.Sprintf("%d", b.maxRecords))
	v.Set("page", fmt.Sprintf("%d", page))
	return b.endpoint + "/search.json?" + v.Encode()
}

// openSearchItem maps a resto feature onto the STAC item shape the
// product model ingests.
func openSearchItem(f *openSearchFeature) *stac.Item {
	id := f.ID
	if f.Properties.Title != "" {
		id = strings.TrimSuffix(f.Properties.Title, ".SAFE")
	}

	item := &stac.Item{
		Id:         id,
		Geometry:   f.Geometry,
		Properties: make(map[string]any),
		Assets:     make(map[string]*stac.Asset),
	}
	item.Properties["datetime"] = f.Properties.StartDate
	item.Properties["eo:cloud_cover"] = f.Properties.CloudCover
	if f.Properties.Platform != "" {
		item.Properties["platform"] = strings.ToLower(f.Properties.Platform)
	}
	if f.Properties.ProcessingLevel != "" {
		item.Properties["processing:level"] = f.Properties.ProcessingLevel
	}
	if f.Properties.ProcessingBaseline != "" {
		item.Properties["s2:processing_baseline"] = f.Properties.ProcessingBaseline
	}
	if tile := tileFromName(id); tile != "" {
		item.Properties["s2:mgrs_tile"] = tile
	}
	if u := f.Properties.Services.Download.URL; u != "" {
		item.Assets["product"] = &stac.Asset{Href: u}
	}
	if f.Properties.Thumbnail != "" {
		item.Assets["thumbnail"] = &stac.Asset{Href: f.Properties.Thumbnail}
	}
	return item
}

// tileFromName extracts the MGRS code from a product name segment like
// "_T33UVP_".
func tileFromName(name string) string {
	for _, part := range strings.Split(name, "_") {
		if len(part) == 6 && part[0] == 'T' &&
			part[1] >= '0' && part[1] <= '9' && part[2] >= '0' && part[2] <= '9' {
			return part[1:]
		}
	}
	return ""
}
