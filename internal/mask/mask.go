// Package mask builds per-product pixel masks from footprints, scene
// classification, cloud and snow sources.
package mask

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eoxio/terracube/internal/cache"
	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/raster"
	"github.com/eoxio/terracube/pkg/geojson"
)

// Scene classification values.
const (
	SCLNoData = iota
	SCLSaturated
	SCLDarkArea
	SCLCloudShadow
	SCLVegetation
	SCLNotVegetated
	SCLWater
	SCLUnclassified
	SCLCloudMedium
	SCLCloudHigh
	SCLThinCirrus
	SCLSnowIce
)

var sclClassValues = map[string]int{
	"no_data":                  SCLNoData,
	"saturated_or_defective":   SCLSaturated,
	"dark_area_pixels":         SCLDarkArea,
	"cloud_shadows":            SCLCloudShadow,
	"vegetation":               SCLVegetation,
	"not_vegetated":            SCLNotVegetated,
	"water":                    SCLWater,
	"unclassified":             SCLUnclassified,
	"cloud_medium_probability": SCLCloudMedium,
	"cloud_high_probability":   SCLCloudHigh,
	"thin_cirrus":              SCLThinCirrus,
	"snow_ice":                 SCLSnowIce,
}

// SCLClassValue resolves a scene classification class name.
func SCLClassValue(name string) (int, error) {
	v, ok := sclClassValues[name]
	if !ok {
		return 0, fmt.Errorf("unknown scene classification class: %q", name)
	}
	return v, nil
}

// Config selects which mask sources apply and how.
type Config struct {
	// Footprint masks pixels outside the (buffered) product footprint.
	Footprint bool

	// FootprintBuffer shrinks the footprint, in projected meters.
	// Negative values buffer inward.
	FootprintBuffer float64

	// PixelBuffer dilates the combined mask by n pixels.
	PixelBuffer int

	// CloudType selects the vector cloud mask classes for pre-04.00
	// baselines: "opaque", "cirrus" or "all". Empty disables cloud
	// masking from vector sources.
	CloudType string

	// CloudProbabilityThreshold masks pixels at or above the given
	// cloud probability percentage. 100 disables the source.
	CloudProbabilityThreshold int

	// SnowIce masks snow via the snow probability layer.
	SnowIce bool

	// SnowProbabilityThreshold is the snow layer threshold.
	SnowProbabilityThreshold int

	// SCLClasses lists scene classification class names to mask.
	SCLClasses []string
}

// Masker combines the configured sources into one boolean mask per
// product. True marks pixels unusable.
type Masker struct {
	cfg    Config
	reader raster.Reader
	client *fetch.Client
	cache  *cache.Manager
	logger *slog.Logger
}

// NewMasker creates a masker. The reader loads raster mask assets; the
// client fetches vector mask documents.
func NewMasker(cfg Config, reader raster.Reader, client *fetch.Client) (*Masker, error) {
	for _, class := range cfg.SCLClasses {
		if _, err := SCLClassValue(class); err != nil {
			return nil, err
		}
	}
	switch cfg.CloudType {
	case "", "opaque", "cirrus", "all":
	default:
		return nil, fmt.Errorf("unknown cloud type: %q", cfg.CloudType)
	}
	return &Masker{
		cfg:    cfg,
		reader: reader,
		client: client,
		logger: slog.Default(),
	}, nil
}

// WithCache routes mask asset reads through the cache manager.
func (m *Masker) WithCache(c *cache.Manager) *Masker {
	m.cache = c
	return m
}

// WithLogger sets a custom logger for the masker.
func (m *Masker) WithLogger(logger *slog.Logger) *Masker {
	m.logger = logger
	return m
}

// ForProduct builds the combined mask of one product on the target
// grid. Sources merge with OR: a pixel is usable only when every
// configured source leaves it clear.
func (m *Masker) ForProduct(ctx context.Context, p *product.Product, grid raster.Grid) (*raster.Mask8, error) {
	out := raster.NewMask(grid)

	if m.cfg.Footprint {
		fp, err := m.footprintMask(p, grid)
		if err != nil {
			return nil, err
		}
		if err := out.Or(fp); err != nil {
			return nil, err
		}
		if out.All() {
			// Nothing left to unmask; skip the raster sources.
			return out, nil
		}
	}

	if len(m.cfg.SCLClasses) > 0 {
		scl, err := m.sclMask(ctx, p, grid)
		if err != nil {
			return nil, err
		}
		if err := out.Or(scl); err != nil {
			return nil, err
		}
	}

	if m.cfg.CloudType != "" {
		cloud, err := m.cloudMask(ctx, p, grid)
		if err != nil {
			return nil, err
		}
		if err := out.Or(cloud); err != nil {
			return nil, err
		}
	}

	if m.cfg.SnowIce {
		snow, err := m.probabilityMask(ctx, p, grid, snowAssetNames, m.cfg.SnowProbabilityThreshold)
		if err != nil {
			return nil, err
		}
		if err := out.Or(snow); err != nil {
			return nil, err
		}
	}

	if m.cfg.PixelBuffer > 0 {
		out.Dilate(m.cfg.PixelBuffer)
	}
	return out, nil
}

// footprintMask masks pixels outside the buffered footprint. A
// footprint that collapses under the inward buffer yields an all-set
// mask, not an error.
func (m *Masker) footprintMask(p *product.Product, grid raster.Grid) (*raster.Mask8, error) {
	if geojson.IsEmpty(p.Footprint) {
		return raster.NewFullMask(grid), nil
	}

	projected, err := raster.ProjectGeometry(p.Footprint, raster.EPSG4326, grid.EPSG)
	if err != nil {
		return nil, fmt.Errorf("failed to project footprint of %s: %w", p.ID, err)
	}

	buffered := projected
	if m.cfg.FootprintBuffer != 0 {
		buffered, err = geojson.Buffer(projected, m.cfg.FootprintBuffer)
		if err != nil {
			return nil, fmt.Errorf("failed to buffer footprint of %s: %w", p.ID, err)
		}
	}
	if geojson.IsEmpty(buffered) {
		m.logger.Debug("footprint collapsed under buffer, masking whole tile",
			slog.String("product", p.ID),
			slog.Float64("buffer", m.cfg.FootprintBuffer),
		)
		return raster.NewFullMask(grid), nil
	}
	return raster.RasterizeOutside(buffered, grid)
}

var (
	sclAssetNames   = []string{"scl", "SCL", "scene_classification"}
	cloudAssetNames = []string{"cloud", "cloud_probability", "CLD", "cldprb"}
	snowAssetNames  = []string{"snow", "snow_probability", "SNW", "snwprb"}
	gmlAssetNames   = []string{"cloudmask", "clouds_gml", "mask_clouds"}
)

// assetPath resolves an asset href, through the cache when present.
func (m *Masker) assetPath(ctx context.Context, p *product.Product, names []string) (string, error) {
	href := p.AssetHref(names...)
	if href == "" {
		return "", product.Corrupted(p.ID, fmt.Sprintf("no asset among %v", names), nil)
	}
	if m.cache == nil {
		return href, nil
	}
	for _, name := range names {
		if _, ok := p.Assets[name]; ok {
			return m.cache.Acquire(ctx, p, name)
		}
	}
	return href, nil
}

func (m *Masker) sclMask(ctx context.Context, p *product.Product, grid raster.Grid) (*raster.Mask8, error) {
	path, err := m.assetPath(ctx, p, sclAssetNames)
	if err != nil {
		return nil, err
	}
	scl, err := m.reader.Read(ctx, path, 1)
	if err != nil {
		return nil, product.Corrupted(p.ID, "scene classification read failed", err)
	}
	warped, err := raster.Resample(scl, grid, raster.Nearest)
	if err != nil {
		return nil, err
	}

	masked := make(map[int]bool, len(m.cfg.SCLClasses))
	for _, class := range m.cfg.SCLClasses {
		v, _ := SCLClassValue(class)
		masked[v] = true
	}

	out := raster.NewMask(grid)
	for i, v := range warped.Data {
		if warped.Mask[i] || masked[int(v)] {
			out.Bits[i] = true
		}
	}
	return out, nil
}

// cloudMask picks the source by baseline: vector GML masks before
// baseline 04.00, the cloud probability raster after.
func (m *Masker) cloudMask(ctx context.Context, p *product.Product, grid raster.Grid) (*raster.Mask8, error) {
	if p.Baseline.VectorMasks() {
		return m.vectorCloudMask(ctx, p, grid)
	}
	threshold := m.cfg.CloudProbabilityThreshold
	if threshold >= 100 {
		// Raster probability disabled; fall back to the SCL cloud
		// classes so "all" cloud masking still works post-04.00.
		return m.sclCloudClasses(ctx, p, grid)
	}
	return m.probabilityMask(ctx, p, grid, cloudAssetNames, threshold)
}

func (m *Masker) sclCloudClasses(ctx context.Context, p *product.Product, grid raster.Grid) (*raster.Mask8, error) {
	classes := []string{"cloud_medium_probability", "cloud_high_probability"}
	if m.cfg.CloudType == "cirrus" {
		classes = []string{"thin_cirrus"}
	} else if m.cfg.CloudType == "all" {
		classes = append(classes, "thin_cirrus")
	}
	sub := *m
	sub.cfg.SCLClasses = classes
	return sub.sclMask(ctx, p, grid)
}

func (m *Masker) probabilityMask(ctx context.Context, p *product.Product, grid raster.Grid, names []string, threshold int) (*raster.Mask8, error) {
	if threshold >= 100 {
		return raster.NewMask(grid), nil
	}
	path, err := m.assetPath(ctx, p, names)
	if err != nil {
		return nil, err
	}
	prob, err := m.reader.Read(ctx, path, 1)
	if err != nil {
		return nil, product.Corrupted(p.ID, "probability layer read failed", err)
	}
	warped, err := raster.Resample(prob, grid, raster.Nearest)
	if err != nil {
		return nil, err
	}

	out := raster.NewMask(grid)
	for i, v := range warped.Data {
		if !warped.Mask[i] && v >= float64(threshold) {
			out.Bits[i] = true
		}
	}
	return out, nil
}
