package brdf

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/raster"
)

// Model selects the normalization variant.
type Model int

const (
	// HLS normalizes to nadir view and a latitude-dependent constant
	// sun zenith.
	HLS Model = iota
	// Sen2Agri is the legacy variant normalizing to nadir view at the
	// scene's own mean sun zenith.
	Sen2Agri
)

// ParseModel parses a model name. There is no "none": callers disable
// correction by not constructing a Corrector.
func ParseModel(s string) (Model, error) {
	switch s {
	case "hls":
		return HLS, nil
	case "sen2agri":
		return Sen2Agri, nil
	default:
		return 0, fmt.Errorf("unknown BRDF model: %q", s)
	}
}

// metadata band ids, keyed by common asset name.
var bandIDs = map[string]int{
	"coastal":  0,
	"blue":     1,
	"green":    2,
	"red":      3,
	"rededge1": 4,
	"rededge2": 5,
	"rededge3": 6,
	"nir":      7,
	"nir08":    8,
	"nir09":    9,
	"cirrus":   10,
	"swir16":   11,
	"swir22":   12,
}

// Config controls the correction pipeline.
type Config struct {
	// Model is "hls" or "sen2agri".
	Model string
	// Bands lists band names to correct.
	Bands []string
	// Weight scales the correction towards (1) or away from identity.
	Weight float64
	// PerDetector uses per-detector viewing angle grids instead of the
	// combined product grid.
	PerDetector bool
	// LogScale applies the correction in arcsinh space.
	LogScale bool
}

// Corrector applies BRDF normalization to band rasters.
type Corrector struct {
	model       Model
	bands       map[string]bool
	weight      float64
	perDetector bool
	logScale    bool
	logger      *slog.Logger
}

// New creates a corrector. Every configured band must have kernel
// parameters.
func New(cfg Config) (*Corrector, error) {
	model, err := ParseModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	if len(cfg.Bands) == 0 {
		return nil, fmt.Errorf("no bands configured for BRDF correction")
	}
	bands := make(map[string]bool, len(cfg.Bands))
	for _, b := range cfg.Bands {
		if _, ok := fModisParams[b]; !ok {
			return nil, fmt.Errorf("no BRDF kernel parameters for band %q", b)
		}
		if _, ok := bandIDs[b]; !ok {
			return nil, fmt.Errorf("unknown band name %q", b)
		}
		bands[b] = true
	}
	weight := cfg.Weight
	if weight == 0 {
		weight = 1
	}
	return &Corrector{
		model:       model,
		bands:       bands,
		weight:      weight,
		perDetector: cfg.PerDetector,
		logScale:    cfg.LogScale,
		logger:      slog.Default(),
	}, nil
}

// WithLogger sets a custom logger for the corrector.
func (c *Corrector) WithLogger(logger *slog.Logger) *Corrector {
	c.logger = logger
	return c
}

// Applies reports whether a band is configured for correction.
func (c *Corrector) Applies(band string) bool {
	return c.bands[band]
}

// Correct normalizes a band raster in place. The raster grid may be in
// any supported CRS; pixel centers are projected into the product's
// tile CRS before the angle grids are sampled. Missing angle data
// rejects the product as corrupted; it is never silently returned
// uncorrected.
func (c *Corrector) Correct(ctx context.Context, p *product.Product, meta *product.Metadata, band string, r *raster.Raster) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.bands[band] {
		return nil
	}

	params := fModisParams[band]
	bandID := bandIDs[band]

	if meta.SunAngles.Empty() {
		return product.Corrupted(p.ID, "sun angle grid is empty", nil)
	}

	viewGrids, err := c.viewGrids(p, meta, bandID)
	if err != nil {
		return err
	}

	corr, err := c.correctionGrid(p, meta, params, bandID, viewGrids, r.Grid)
	if err != nil {
		return err
	}

	c.applyCorrection(r, corr, meta.OffsetApplied)

	c.logger.DebugContext(ctx, "applied BRDF correction",
		slog.String("product", p.ID),
		slog.String("band", band),
	)
	return nil
}

func (c *Corrector) viewGrids(p *product.Product, meta *product.Metadata, bandID int) ([]product.AngleGrid, error) {
	if c.perDetector {
		detectors := meta.DetectorViewGrids(bandID)
		if len(detectors) == 0 {
			return nil, product.Corrupted(p.ID, fmt.Sprintf("no viewing angle grids for band %d", bandID), nil)
		}
		grids := make([]product.AngleGrid, 0, len(detectors))
		for _, d := range detectors {
			grids = append(grids, d.AngleGrid)
		}
		return grids, nil
	}

	combined, err := meta.CombinedViewGrid(bandID)
	if err != nil {
		return nil, product.Corrupted(p.ID, "viewing angle grid unavailable", err)
	}
	return []product.AngleGrid{combined}, nil
}

// correctionGrid computes the per-pixel multiplicative correction:
// model at the normalization geometry over model at the observed
// geometry.
func (c *Corrector) correctionGrid(p *product.Product, meta *product.Metadata, params fParams, bandID int, viewGrids []product.AngleGrid, grid raster.Grid) ([]float64, error) {
	mb := meta.Bounds
	if mb.Width() <= 0 || mb.Height() <= 0 {
		return nil, product.Corrupted(p.ID, "metadata tile bounds are degenerate", nil)
	}
	meanView, hasMean := meta.MeanViewAngles[bandID]

	corr := make([]float64, grid.Size())
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			x, y := grid.ToCoord(float64(col)+0.5, float64(row)+0.5)

			// The angle grids live in the tile CRS; project the pixel
			// center there before sampling.
			mx, my, err := raster.Transform(x, y, grid.EPSG, meta.EPSG)
			if err != nil {
				return nil, fmt.Errorf("failed to project pixel into tile CRS: %w", err)
			}

			// Position within the metadata angle grids.
			u := (mx - mb.Left) / mb.Width()
			v := (mb.Top - my) / mb.Height()
			u = clamp(u, 0, 1)
			v = clamp(v, 0, 1)

			sunZ, okZ := meta.SunAngles.SampleZenith(u, v)
			sunA, okA := meta.SunAngles.SampleAzimuth(u, v)
			if !okZ || !okA {
				sunZ, sunA = meta.MeanSunZenith, meta.MeanSunAzimuth
			}

			viewZ, viewA, ok := sampleView(viewGrids, u, v)
			if !ok {
				if !hasMean {
					return nil, product.Corrupted(p.ID, "viewing angles missing for pixel and no mean fallback", nil)
				}
				viewZ, viewA = meanView.Zenith, meanView.Azimuth
			}

			outSunZ := c.normalizationZenith(x, y, grid.EPSG, sunZ)

			sensor := reflectanceModel(params, radians(sunZ), radians(viewZ), radians(sunA-viewA))
			sun := reflectanceModel(params, radians(outSunZ), 0, 0)
			if sensor == 0 || math.IsNaN(sensor) || math.IsNaN(sun) {
				corr[row*grid.Cols+col] = 1
				continue
			}

			factor := sun / sensor
			corr[row*grid.Cols+col] = 1 + (factor-1)*c.weight
		}
	}
	return corr, nil
}

// normalizationZenith returns the output sun zenith in degrees.
func (c *Corrector) normalizationZenith(x, y float64, epsg int, sceneSunZ float64) float64 {
	if c.model == Sen2Agri {
		return sceneSunZ
	}
	lat := y
	if epsg != raster.EPSG4326 {
		if _, l, err := raster.FromUTM(x, y, epsg); err == nil {
			lat = l
		}
	}
	return hlsSunZenith(lat)
}

func sampleView(grids []product.AngleGrid, u, v float64) (zenith, azimuth float64, ok bool) {
	for _, g := range grids {
		z, okZ := g.SampleZenith(u, v)
		a, okA := g.SampleAzimuth(u, v)
		if okZ && okA {
			return z, a, true
		}
	}
	return 0, 0, false
}

// applyCorrection multiplies valid pixels by the correction grid,
// optionally in arcsinh space. Offset-scaled data uses 0 as nodata, so
// corrected values clamp into [1, dtype max] there.
func (c *Corrector) applyCorrection(r *raster.Raster, corr []float64, clampLow bool) {
	maxVal := r.DType.Max()
	for i, v := range r.Data {
		if r.Mask[i] {
			continue
		}
		var out float64
		if c.logScale {
			out = math.Sinh(math.Asinh(v) * corr[i])
		} else {
			out = v * corr[i]
		}
		if clampLow && out < 1 {
			out = 1
		}
		if out > maxVal {
			out = maxVal
		}
		r.Data[i] = out
	}
}
