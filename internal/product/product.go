// Package product models satellite products: identity, footprint,
// assets and lazily loaded sensor metadata.
package product

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/stac"
	"github.com/eoxio/terracube/pkg/geojson"
)

// ErrCorruptedProduct marks a product whose assets or metadata cannot
// be used. Corrupted products are skipped and blacklisted, never
// retried within a run.
var ErrCorruptedProduct = errors.New("corrupted product")

// ErrEmptyFootprint marks a product whose footprint is missing or
// degenerate.
var ErrEmptyFootprint = errors.New("empty product footprint")

// CorruptedProductError carries the product id and the reason it was
// rejected.
type CorruptedProductError struct {
	ID     string
	Reason string
	Err    error
}

func (e *CorruptedProductError) Error() string {
	return fmt.Sprintf("product %s is corrupted: %s", e.ID, e.Reason)
}

func (e *CorruptedProductError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCorruptedProduct
}

// Is lets errors.Is match the sentinel.
func (e *CorruptedProductError) Is(target error) bool {
	return target == ErrCorruptedProduct
}

// Corrupted wraps an error as a CorruptedProductError for the product.
func Corrupted(id, reason string, err error) *CorruptedProductError {
	return &CorruptedProductError{ID: id, Reason: reason, Err: err}
}

// Product is a single catalog entry: one acquisition over one tile.
type Product struct {
	ID           string
	Time         time.Time
	Platform     string
	Level        string
	CloudPercent float64
	Baseline     BaselineVersion
	Tile         Tile

	// Footprint is antimeridian-normalized: geometries crossing the
	// date line are stored split at ±180.
	Footprint *geojson.Geometry

	// Assets maps asset names to hrefs.
	Assets map[string]string

	// MetadataHref points at the granule sensor metadata XML.
	MetadataHref string

	mu   sync.Mutex
	meta *Metadata
}

// FromItem builds a Product from a STAC item. The footprint is
// normalized and validated; items without usable geometry are rejected.
func FromItem(item *stac.Item) (*Product, error) {
	if item == nil || item.Id == "" {
		return nil, fmt.Errorf("item has no id")
	}

	t, err := stac.ItemTime(item)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", item.Id, err)
	}

	footprint, err := stac.FootprintGeometry(item)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w: %v", item.Id, ErrEmptyFootprint, err)
	}
	if geojson.CrossesAntimeridian(footprint) {
		footprint, err = geojson.SplitAntimeridian(footprint)
		if err != nil {
			return nil, fmt.Errorf("item %s: failed to normalize footprint: %w", item.Id, err)
		}
	}
	if geojson.IsEmpty(footprint) {
		return nil, fmt.Errorf("item %s: %w", item.Id, ErrEmptyFootprint)
	}

	cloud, _ := stac.CloudCover(item)

	baseline, err := ParseBaseline(stac.StringProperty(item, "s2:processing_baseline"))
	if err != nil {
		// Items from generic catalogs may omit the baseline; treat as
		// current so raster masks are assumed.
		baseline = BaselineVersion{Major: 99}
	}

	var tile Tile
	if code := tileCode(item); code != "" {
		tile, err = ParseTile(code)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.Id, err)
		}
	}

	assets := make(map[string]string, len(item.Assets))
	for name, a := range item.Assets {
		if a != nil && a.Href != "" {
			assets[name] = a.Href
		}
	}

	return &Product{
		ID:           item.Id,
		Time:         t,
		Platform:     stac.StringProperty(item, "platform"),
		Level:        processingLevel(item),
		CloudPercent: cloud,
		Baseline:     baseline,
		Tile:         tile,
		Footprint:    footprint,
		Assets:       assets,
		MetadataHref: stac.AssetHref(item, "granule_metadata", "granule-metadata", "metadata"),
	}, nil
}

func tileCode(item *stac.Item) string {
	if code := stac.StringProperty(item, "s2:mgrs_tile"); code != "" {
		return code
	}
	// grid:code is "MGRS-33UVP".
	code := stac.StringProperty(item, "grid:code")
	if len(code) > 5 && code[:5] == "MGRS-" {
		return code[5:]
	}
	return ""
}

func processingLevel(item *stac.Item) string {
	if lvl := stac.StringProperty(item, "processing:level"); lvl != "" {
		return lvl
	}
	return stac.StringProperty(item, "s2:product_type")
}

// AssetHref returns the href of an asset, trying each name in order.
func (p *Product) AssetHref(names ...string) string {
	for _, name := range names {
		if href, ok := p.Assets[name]; ok {
			return href
		}
	}
	return ""
}

// Date returns the acquisition day in UTC.
func (p *Product) Date() time.Time {
	return p.Time.UTC().Truncate(24 * time.Hour)
}

// Metadata loads and parses the sensor metadata XML on first use. The
// parsed result is cached until Invalidate is called.
func (p *Product) Metadata(ctx context.Context, client *fetch.Client) (*Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meta != nil {
		return p.meta, nil
	}

	if p.MetadataHref == "" {
		return nil, Corrupted(p.ID, "no granule metadata asset", nil)
	}

	body, err := client.GetBytes(ctx, p.MetadataHref)
	if err != nil {
		if errors.Is(err, fetch.ErrTransient) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to fetch metadata for %s: %w", p.ID, err)
		}
		return nil, Corrupted(p.ID, "metadata fetch failed", err)
	}

	meta, err := ParseMetadata(body)
	if err != nil {
		return nil, Corrupted(p.ID, "metadata parse failed", err)
	}
	meta.applyBaseline(p.Baseline)
	p.meta = meta
	return meta, nil
}

// Invalidate drops the cached metadata so memory can be reclaimed
// between cube slices.
func (p *Product) Invalidate() {
	p.mu.Lock()
	p.meta = nil
	p.mu.Unlock()
}
