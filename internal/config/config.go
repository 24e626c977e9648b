// Package config provides configuration management for the terracube engine.
//
// Precedence: environment variables under the TERRACUBE_ namespace override
// values the host framework filled in from its own configuration files,
// which in turn override the built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/eoxio/terracube/pkg/geojson"
)

// Config holds the complete engine configuration.
type Config struct {
	Search SearchConfig `envPrefix:"SEARCH_"`
	IO     IOConfig     `envPrefix:"IO_"`
	Cache  CacheConfig  `envPrefix:"CACHE_"`
	Mask   MaskConfig   `envPrefix:"MASK_"`
	BRDF   BRDFConfig   `envPrefix:"BRDF_"`
	Cube   CubeConfig   `envPrefix:"CUBE_"`
	Log    LogConfig    `envPrefix:"LOG_"`
}

// SearchConfig contains catalog search configuration.
type SearchConfig struct {
	// Backend selects the search variant: "stac", "opensearch" or "utm".
	Backend    string `env:"BACKEND" envDefault:"stac"`
	Endpoint   string `env:"ENDPOINT" envDefault:"https://earth-search.aws.element84.com/v1"`
	Collection string `env:"COLLECTION" envDefault:"sentinel-2-l2a"`

	// AOI optionally narrows searches to an exact footprint given as
	// WKT, e.g. "POLYGON((14 47,16 47,16 49,14 49,14 47))". Empty
	// searches the bounding box only.
	AOI string `env:"AOI" envDefault:""`

	MaxCloudPercent     float64 `env:"MAX_CLOUD_PERCENT" envDefault:"100"`
	IntersectionPercent float64 `env:"INTERSECTION_PERCENT" envDefault:"0"`
	FirstGranuleOnly    bool    `env:"FIRST_GRANULE_ONLY" envDefault:"false"`
	MaxProducts         int     `env:"MAX_PRODUCTS" envDefault:"500"`
	PageLimit           int     `env:"PAGE_LIMIT" envDefault:"200"`

	// Concurrency bounds the worker pool used to parse candidate metadata.
	Concurrency int `env:"CONCURRENCY" envDefault:"4"`

	BlacklistPath string `env:"BLACKLIST_PATH" envDefault:""`
}

// AOIGeometry parses the configured AOI footprint. Returns nil when
// no AOI is set.
func (c SearchConfig) AOIGeometry() (*geojson.Geometry, error) {
	if c.AOI == "" {
		return nil, nil
	}
	return geojson.FromWKT(c.AOI)
}

// IOConfig contains remote I/O retry configuration.
type IOConfig struct {
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s"`
	RetryTries   int           `env:"RETRY_TRIES" envDefault:"3"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	RetryBackoff float64       `env:"RETRY_BACKOFF" envDefault:"2"`
}

// CacheConfig contains local asset cache configuration.
type CacheConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Path    string `env:"PATH" envDefault:""`

	// Keep leaves cache entries on disk after the run finishes.
	Keep bool `env:"KEEP" envDefault:"false"`

	// IntersectionPercent is the admission filter: products covering less
	// of the area of interest are read but never cached.
	IntersectionPercent float64 `env:"INTERSECTION_PERCENT" envDefault:"100"`
	MaxCloudPercent     float64 `env:"MAX_CLOUD_PERCENT" envDefault:"100"`

	// MaxDiskUsage is the cache ceiling in bytes. Zero means unlimited.
	MaxDiskUsage int64 `env:"MAX_DISK_USAGE" envDefault:"0"`
}

// MaskConfig contains per-product mask combination configuration.
type MaskConfig struct {
	Footprint bool `env:"FOOTPRINT" envDefault:"true"`

	// FootprintBuffer shrinks the usable footprint inward, in the
	// product's projected units. Negative values buffer inward.
	FootprintBuffer float64 `env:"FOOTPRINT_BUFFER" envDefault:"-500"`

	// PixelBuffer dilates the combined mask by n pixels.
	PixelBuffer int `env:"PIXEL_BUFFER" envDefault:"0"`

	// CloudType selects the L1C vector cloud mask class:
	// "opaque", "cirrus" or "all".
	CloudType string `env:"CLOUD_TYPE" envDefault:""`

	SnowIce bool `env:"SNOW_ICE" envDefault:"false"`

	CloudProbabilityThreshold int `env:"CLOUD_PROBABILITY_THRESHOLD" envDefault:"100"`
	SnowProbabilityThreshold  int `env:"SNOW_PROBABILITY_THRESHOLD" envDefault:"100"`

	// SCLClasses lists scene-classification classes to mask out.
	SCLClasses []string `env:"SCL_CLASSES" envSeparator:","`
}

// BRDFConfig contains reflectance correction configuration.
type BRDFConfig struct {
	Model  string   `env:"MODEL" envDefault:""`
	Bands  []string `env:"BANDS" envSeparator:"," envDefault:"blue,green,red,nir"`
	Weight float64  `env:"WEIGHT" envDefault:"1"`

	// PerDetector switches from the combined product-level angle grid to
	// per-detector angle grids.
	PerDetector bool `env:"PER_DETECTOR" envDefault:"false"`

	// LogScale applies the correction in arcsinh space.
	LogScale bool `env:"LOG_SCALE" envDefault:"true"`
}

// CubeConfig contains cube assembly configuration.
type CubeConfig struct {
	// MergeStrategy is "first", "average" or "all".
	MergeStrategy string `env:"MERGE_STRATEGY" envDefault:"first"`

	// SortOrder is "newest" or "oldest".
	SortOrder string `env:"SORT_ORDER" envDefault:"newest"`

	OutDType  string  `env:"OUT_DTYPE" envDefault:""`
	FillValue float64 `env:"FILL_VALUE" envDefault:"0"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables on top of defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: "TERRACUBE_"}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Search.Backend {
	case "stac", "opensearch", "utm":
	default:
		return fmt.Errorf("search backend must be 'stac', 'opensearch' or 'utm', got %q", c.Search.Backend)
	}

	if c.Search.Endpoint == "" {
		return fmt.Errorf("search endpoint is required")
	}

	if c.Search.AOI != "" {
		g, err := geojson.FromWKT(c.Search.AOI)
		if err != nil {
			return fmt.Errorf("invalid search AOI: %w", err)
		}
		if err := geojson.Validate(g); err != nil {
			return fmt.Errorf("invalid search AOI: %w", err)
		}
	}

	if c.Search.MaxCloudPercent < 0 || c.Search.MaxCloudPercent > 100 {
		return fmt.Errorf("max cloud percent must be between 0 and 100, got %g", c.Search.MaxCloudPercent)
	}

	if c.Search.IntersectionPercent < 0 || c.Search.IntersectionPercent > 100 {
		return fmt.Errorf("intersection percent must be between 0 and 100, got %g", c.Search.IntersectionPercent)
	}

	if c.Search.MaxProducts < 1 {
		return fmt.Errorf("max products must be at least 1, got %d", c.Search.MaxProducts)
	}

	if c.Search.Concurrency < 1 {
		return fmt.Errorf("search concurrency must be at least 1, got %d", c.Search.Concurrency)
	}

	if c.IO.Timeout <= 0 {
		return fmt.Errorf("io timeout must be positive, got %s", c.IO.Timeout)
	}

	if c.IO.RetryTries < 1 {
		return fmt.Errorf("retry tries must be at least 1, got %d", c.IO.RetryTries)
	}

	if c.IO.RetryBackoff < 1 {
		return fmt.Errorf("retry backoff factor must be at least 1, got %g", c.IO.RetryBackoff)
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache path is required when caching is enabled")
	}

	if c.Cache.MaxDiskUsage < 0 {
		return fmt.Errorf("cache max disk usage must not be negative, got %d", c.Cache.MaxDiskUsage)
	}

	switch c.Mask.CloudType {
	case "", "opaque", "cirrus", "all":
	default:
		return fmt.Errorf("cloud type must be 'opaque', 'cirrus' or 'all', got %q", c.Mask.CloudType)
	}

	switch c.BRDF.Model {
	case "", "hls", "sen2agri":
	default:
		return fmt.Errorf("brdf model must be 'hls' or 'sen2agri', got %q", c.BRDF.Model)
	}

	if c.BRDF.Weight <= 0 {
		return fmt.Errorf("brdf weight must be positive, got %g", c.BRDF.Weight)
	}

	switch c.Cube.MergeStrategy {
	case "first", "average", "all":
	default:
		return fmt.Errorf("merge strategy must be 'first', 'average' or 'all', got %q", c.Cube.MergeStrategy)
	}

	switch c.Cube.SortOrder {
	case "newest", "oldest":
	default:
		return fmt.Errorf("sort order must be 'newest' or 'oldest', got %q", c.Cube.SortOrder)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Log.Format)
	}

	return nil
}
