package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/stac"
)

// UTMSearchBackend enumerates a date-partitioned item store directly
// instead of querying a search API: tile ids derive from the query
// bounds via the MGRS grid, then one listing per date covers every
// matching tile. Useful where item search is missing, or where search
// APIs drop tiles touching the antimeridian.
type UTMSearchBackend struct {
	root        string
	concurrency int
	client      *fetch.Client
	blacklist   *Blacklist
	logger      *slog.Logger
}

// NewUTMSearchBackend creates a backend over the item store rooted at
// root. Listings live at <root>/YYYY/MM/DD/items.json.
func NewUTMSearchBackend(root string, client *fetch.Client) *UTMSearchBackend {
	return &UTMSearchBackend{
		root:        strings.TrimSuffix(root, "/"),
		concurrency: 1,
		client:      client,
		logger:      slog.Default(),
	}
}

// WithConcurrency bounds the item parsing worker pool.
func (b *UTMSearchBackend) WithConcurrency(n int) *UTMSearchBackend {
	if n > 0 {
		b.concurrency = n
	}
	return b
}

// WithBlacklist records unparseable items as they are discovered.
func (b *UTMSearchBackend) WithBlacklist(bl *Blacklist) *UTMSearchBackend {
	b.blacklist = bl
	return b
}

// WithLogger sets a custom logger for the backend.
func (b *UTMSearchBackend) WithLogger(logger *slog.Logger) *UTMSearchBackend {
	b.logger = logger
	return b
}

// Name implements Backend.
func (b *UTMSearchBackend) Name() string { return "utm" }

// Search implements Backend. The MGRS tile derivation handles extents
// across the antimeridian, so zone 60/01 neighbours are never dropped.
func (b *UTMSearchBackend) Search(ctx context.Context, q Query) ([]*product.Product, error) {
	if q.Start.IsZero() || q.End.IsZero() {
		return nil, fmt.Errorf("utm search requires a closed time range")
	}

	tiles, err := product.TilesFromBounds(q.Bounds.Left, q.Bounds.Bottom, q.Bounds.Right, q.Bounds.Top)
	if err != nil {
		return nil, fmt.Errorf("failed to derive tiles: %w", err)
	}
	wanted := make(map[string]bool, len(tiles))
	for _, tile := range tiles {
		wanted[tile.String()] = true
	}
	b.logger.DebugContext(ctx, "derived tile set",
		slog.Int("tiles", len(tiles)),
	)

	var items []*stac.Item
	start := q.Start.UTC().Truncate(24 * time.Hour)
	end := q.End.UTC()
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dayItems, err := b.listDay(ctx, day)
		if err != nil {
			return nil, err
		}
		items = append(items, dayItems...)
	}

	products := convertItems(ctx, items, b.concurrency, b.blacklist, b.logger)

	kept := products[:0]
	for _, p := range products {
		if p.Tile.IsZero() || wanted[p.Tile.String()] {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// listDay fetches the listing of one date. A missing listing means no
// acquisitions that day.
func (b *UTMSearchBackend) listDay(ctx context.Context, day time.Time) ([]*stac.Item, error) {
	url := fmt.Sprintf("%s/%04d/%02d/%02d/items.json", b.root, day.Year(), day.Month(), day.Day())

	var listing stac.ItemCollection
	if err := b.client.GetJSON(ctx, url, &listing); err != nil {
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s failed: %w", url, err)
	}
	return listing.Features, nil
}
