// Package cache manages a local disk cache of remote product assets
// with a hard disk-usage ceiling.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/pkg/geojson"
)

// Config controls cache admission and retention.
type Config struct {
	// Path is the cache root directory.
	Path string

	// Keep leaves entries on disk when the manager closes.
	Keep bool

	// IntersectionPercent is the minimum share of the area of interest
	// a product footprint must cover before its assets are cached.
	IntersectionPercent float64

	// MaxCloudPercent excludes cloudier products from the cache.
	MaxCloudPercent float64

	// MaxDiskUsage is the ceiling in bytes; zero means unlimited. When
	// usage exceeds it, caching disables and reads fall back to the
	// remote href.
	MaxDiskUsage int64
}

// Manager is the process-wide cache. All methods are safe for
// concurrent use.
type Manager struct {
	cfg    Config
	aoi    []float64 // [minx, miny, maxx, maxy] in footprint CRS
	client *fetch.Client
	logger *slog.Logger

	mu       sync.Mutex
	usage    int64
	disabled bool
	created  []string
}

// NewManager creates a cache manager rooted at cfg.Path. Existing
// entries count against the ceiling immediately.
func NewManager(cfg Config, aoi []float64, client *fetch.Client) (*Manager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache path is empty")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		aoi:    aoi,
		client: client,
		logger: slog.Default(),
	}
	usage, err := diskUsage(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to measure cache usage: %w", err)
	}
	m.usage = usage
	if cfg.MaxDiskUsage > 0 && usage > cfg.MaxDiskUsage {
		m.disabled = true
	}
	return m, nil
}

// WithLogger sets a custom logger for the manager.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// Disabled reports whether the ceiling shut the cache down.
func (m *Manager) Disabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

// Usage returns the current cache size in bytes.
func (m *Manager) Usage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Admits reports whether a product's assets may be cached: its
// footprint must cover enough of the area of interest and its cloud
// percentage must be low enough. Products failing admission are still
// readable, just never cached.
func (m *Manager) Admits(p *product.Product) bool {
	if m.cfg.MaxCloudPercent > 0 && p.CloudPercent > m.cfg.MaxCloudPercent {
		return false
	}
	if m.cfg.IntersectionPercent <= 0 || len(m.aoi) < 4 {
		return true
	}
	aoiArea := (m.aoi[2] - m.aoi[0]) * (m.aoi[3] - m.aoi[1])
	if aoiArea <= 0 {
		return true
	}
	covered := geojson.IntersectionArea(p.Footprint, m.aoi)
	return covered/aoiArea*100 >= m.cfg.IntersectionPercent
}

// Acquire returns a local path for a product asset, downloading it on
// first use. When the product fails admission or the ceiling has shut
// the cache down, the remote href comes back unchanged.
func (m *Manager) Acquire(ctx context.Context, p *product.Product, asset string) (string, error) {
	href := p.AssetHref(asset)
	if href == "" {
		return "", fmt.Errorf("product %s has no asset %q", p.ID, asset)
	}

	if m.Disabled() || !m.Admits(p) {
		return href, nil
	}

	path := m.entryPath(p.ID, asset, href)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		m.logger.DebugContext(ctx, "cache hit",
			slog.String("product", p.ID),
			slog.String("asset", asset),
		)
		return path, nil
	}

	n, err := m.client.Download(ctx, href, path)
	if err != nil {
		return "", fmt.Errorf("failed to cache %s asset %s: %w", p.ID, asset, err)
	}

	m.mu.Lock()
	m.usage += n
	m.created = append(m.created, path)
	over := m.cfg.MaxDiskUsage > 0 && m.usage > m.cfg.MaxDiskUsage
	if over && !m.disabled {
		m.disabled = true
	}
	usage := m.usage
	m.mu.Unlock()

	if over {
		m.logger.WarnContext(ctx, "cache ceiling exceeded, disabling cache",
			slog.Int64("usage_bytes", usage),
			slog.Int64("max_bytes", m.cfg.MaxDiskUsage),
		)
	}

	// The entry just written is still served; only later misses bypass
	// the cache.
	return path, nil
}

// Close removes entries created during this run unless Keep is set.
func (m *Manager) Close() error {
	if m.cfg.Keep {
		return nil
	}
	m.mu.Lock()
	created := m.created
	m.created = nil
	m.mu.Unlock()

	var firstErr error
	for _, path := range created {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove cache entry: %w", err)
		}
	}
	return firstErr
}

// entryPath builds the on-disk location of an asset. Product ids are
// spread over hashed prefix directories to keep any single directory
// small.
func (m *Manager) entryPath(productID, asset, href string) string {
	sum := md5.Sum([]byte(productID))
	prefix := hex.EncodeToString(sum[:])[:8]
	name := fmt.Sprintf("%s_%s%s", asset, hrefHash(href), filepath.Ext(href))
	return filepath.Join(m.cfg.Path, prefix, productID, name)
}

func hrefHash(href string) string {
	sum := md5.Sum([]byte(href))
	return hex.EncodeToString(sum[:])[:8]
}

func diskUsage(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
