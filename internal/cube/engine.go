package cube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eoxio/terracube/internal/brdf"
	"github.com/eoxio/terracube/internal/cache"
	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/mask"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/raster"
)

// Blacklister records products that must not be retried within a run.
type Blacklister interface {
	Add(id, reason string) error
}

// Cube is the assembled output: one merged raster per band on a common
// grid, plus the timestamps of the slices that contributed.
type Cube struct {
	Grid  raster.Grid
	Bands []string
	Data  map[string]*raster.Raster
	Times []time.Time
}

// Engine reads products into temporal cubes.
type Engine struct {
	reader    raster.Reader
	masker    *mask.Masker
	client    *fetch.Client
	cache     *cache.Manager
	corrector *brdf.Corrector
	blacklist Blacklister
	logger    *slog.Logger
}

// NewEngine creates a cube engine. The reader loads band assets, the
// masker builds per-product masks, the client fetches metadata.
func NewEngine(reader raster.Reader, masker *mask.Masker, client *fetch.Client) *Engine {
	return &Engine{
		reader: reader,
		masker: masker,
		client: client,
		logger: slog.Default(),
	}
}

// WithCache routes band asset reads through the cache manager.
func (e *Engine) WithCache(c *cache.Manager) *Engine {
	e.cache = c
	return e
}

// WithCorrector applies BRDF normalization to configured bands.
func (e *Engine) WithCorrector(c *brdf.Corrector) *Engine {
	e.corrector = c
	return e
}

// WithBlacklist records corrupted products as they are discovered.
func (e *Engine) WithBlacklist(b Blacklister) *Engine {
	e.blacklist = b
	return e
}

// WithLogger sets a custom logger for the engine.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// ReadCube assembles the given bands over the slices onto the target
// grid. Zero usable slices produce a cube filled with the fill value
// and a fully invalid mask, not an error.
func (e *Engine) ReadCube(ctx context.Context, slices []*Slice, bands []string, grid raster.Grid, opts Options) (*Cube, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("no bands requested")
	}

	out := &Cube{
		Grid:  grid,
		Bands: bands,
		Data:  make(map[string]*raster.Raster, len(bands)),
	}
	for _, band := range bands {
		out.Data[band] = raster.NewMaskedRaster(grid, opts.DType, opts.FillValue)
	}

	size := grid.Size()
	resolved := make([]bool, size)
	allUsable := make([]bool, size)
	for i := range allUsable {
		allUsable[i] = true
	}

	var sums, counts map[string][]float64
	if opts.Merge == MergeAverage {
		sums = make(map[string][]float64, len(bands))
		counts = make(map[string][]float64, len(bands))
		for _, band := range bands {
			sums[band] = make([]float64, size)
			counts[band] = make([]float64, size)
		}
	}

	for _, s := range orderSlices(slices, opts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Merge == MergeFirst && allTrue(resolved) {
			e.logger.DebugContext(ctx, "all pixels resolved, stopping early",
				slog.Int("slices_read", len(out.Times)),
			)
			break
		}

		data, usable, err := e.readSlice(ctx, s, bands, grid, opts, resolved)
		if err != nil {
			return nil, err
		}
		if data == nil {
			// Slice skipped: corrupted or nothing left to contribute.
			s.Invalidate()
			continue
		}

		for i := 0; i < size; i++ {
			if !usable[i] {
				allUsable[i] = false
			}
		}

		switch opts.Merge {
		case MergeAverage:
			for _, band := range bands {
				r := data[band]
				sum, cnt := sums[band], counts[band]
				for i, v := range r.Data {
					if !r.Mask[i] {
						sum[i] += v
						cnt[i]++
					}
				}
			}
		default: // MergeFirst and MergeAll fill gaps, never overwrite.
			for _, band := range bands {
				dst, src := out.Data[band], data[band]
				for i, v := range src.Data {
					if src.Mask[i] || !dst.Mask[i] {
						continue
					}
					dst.Data[i] = opts.DType.Clamp(v)
					dst.Mask[i] = false
				}
			}
			updateResolved(resolved, out.Data, bands)
		}

		out.Times = append(out.Times, s.Time())
		s.Invalidate()
	}

	switch opts.Merge {
	case MergeAverage:
		for _, band := range bands {
			dst := out.Data[band]
			sum, cnt := sums[band], counts[band]
			for i := range dst.Data {
				if cnt[i] > 0 {
					dst.Data[i] = opts.DType.Clamp(sum[i] / cnt[i])
					dst.Mask[i] = false
				}
			}
		}
	case MergeAll:
		// Usable only where every contributing slice was usable.
		for _, band := range bands {
			dst := out.Data[band]
			for i := range dst.Mask {
				if !allUsable[i] {
					dst.Data[i] = opts.FillValue
					dst.Mask[i] = true
				}
			}
		}
	}

	return out, nil
}

// readSlice builds the per-band rasters of one slice. Within a slice,
// products merge first-wins. A nil data map means the slice was skipped
// without band I/O (nothing to contribute, or every product corrupt).
func (e *Engine) readSlice(ctx context.Context, s *Slice, bands []string, grid raster.Grid, opts Options, resolved []bool) (map[string]*raster.Raster, []bool, error) {
	type usableProduct struct {
		p *product.Product
		m *raster.Mask8
	}

	var products []usableProduct
	for _, p := range s.Products {
		pm, err := e.masker.ForProduct(ctx, p, grid)
		if err != nil {
			if isCorrupt(err) {
				e.discard(ctx, p, err)
				continue
			}
			return nil, nil, err
		}
		products = append(products, usableProduct{p: p, m: pm})
	}
	if len(products) == 0 {
		e.logger.WarnContext(ctx, "slice skipped, all products corrupt",
			slog.String("date", s.Date().Format("2006-01-02")),
		)
		return nil, nil, nil
	}

	// Union of per-product usable areas.
	usable := make([]bool, grid.Size())
	for _, up := range products {
		for i, masked := range up.m.Bits {
			if !masked {
				usable[i] = true
			}
		}
	}

	// With first-wins merging a slice that cannot contribute a single
	// unresolved pixel is skipped before any band read.
	if opts.Merge == MergeFirst && !contributes(usable, resolved) {
		e.logger.DebugContext(ctx, "slice contributes no unresolved pixel, skipping band reads",
			slog.String("date", s.Date().Format("2006-01-02")),
		)
		return nil, nil, nil
	}

	data := make(map[string]*raster.Raster, len(bands))
	for _, band := range bands {
		data[band] = raster.NewMaskedRaster(grid, raster.Float64, 0)
	}

	contributed := false
	for _, up := range products {
		ok, err := e.readProductBands(ctx, up.p, up.m, bands, grid, opts, data)
		if err != nil {
			return nil, nil, err
		}
		contributed = contributed || ok
	}
	if !contributed {
		return nil, nil, nil
	}
	return data, usable, nil
}

// readProductBands reads every band of one product and fills the slice
// rasters where they are still empty. Corrupted products are discarded
// whole so bands stay consistent.
func (e *Engine) readProductBands(ctx context.Context, p *product.Product, pm *raster.Mask8, bands []string, grid raster.Grid, opts Options, data map[string]*raster.Raster) (bool, error) {
	read := make(map[string]*raster.Raster, len(bands))
	for _, band := range bands {
		r, err := e.readBand(ctx, p, band, grid, opts)
		if err != nil {
			if isCorrupt(err) {
				e.discard(ctx, p, err)
				return false, nil
			}
			return false, err
		}
		read[band] = r
	}

	for _, band := range bands {
		dst, src := data[band], read[band]
		for i, v := range src.Data {
			if pm.Bits[i] || src.Mask[i] || !dst.Mask[i] {
				continue
			}
			dst.Data[i] = v
			dst.Mask[i] = false
		}
	}
	return true, nil
}

// readBand loads one band of one product warped onto the target grid,
// with offset and BRDF correction applied.
func (e *Engine) readBand(ctx context.Context, p *product.Product, band string, grid raster.Grid, opts Options) (*raster.Raster, error) {
	var path string
	if e.cache != nil {
		var err error
		path, err = e.cache.Acquire(ctx, p, band)
		if err != nil {
			if errors.Is(err, fetch.ErrTransient) {
				return nil, err
			}
			return nil, product.Corrupted(p.ID, fmt.Sprintf("failed to acquire band %s", band), err)
		}
	} else {
		path = p.AssetHref(band)
		if path == "" {
			return nil, product.Corrupted(p.ID, fmt.Sprintf("no asset for band %s", band), nil)
		}
	}

	r, err := e.reader.Read(ctx, path, 1)
	if err != nil {
		return nil, product.Corrupted(p.ID, fmt.Sprintf("failed to read band %s", band), err)
	}

	warped, err := raster.Resample(r, grid, opts.Resampling)
	if err != nil {
		return nil, err
	}

	// Baseline 04.00 digital numbers carry an additive offset; shifted
	// values floor at 1 so they never collide with nodata 0.
	if p.Baseline.HasOffset() {
		for i, v := range warped.Data {
			if warped.Mask[i] {
				continue
			}
			v += float64(product.BOAOffset)
			if v < 1 {
				v = 1
			}
			warped.Data[i] = v
		}
	}

	if e.corrector != nil && e.corrector.Applies(band) {
		meta, err := p.Metadata(ctx, e.client)
		if err != nil {
			return nil, err
		}
		if err := e.corrector.Correct(ctx, p, meta, band, warped); err != nil {
			return nil, err
		}
	}
	return warped, nil
}

// ReadMasks returns the combined usability mask of each slice on the
// grid, without any band I/O. Slices whose products are all corrupt
// yield a fully set mask.
func (e *Engine) ReadMasks(ctx context.Context, slices []*Slice, grid raster.Grid) ([]*raster.Mask8, error) {
	out := make([]*raster.Mask8, 0, len(slices))
	for _, s := range slices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		combined := raster.NewFullMask(grid)
		for _, p := range s.Products {
			pm, err := e.masker.ForProduct(ctx, p, grid)
			if err != nil {
				if isCorrupt(err) {
					e.discard(ctx, p, err)
					continue
				}
				return nil, err
			}
			for i, masked := range pm.Bits {
				if !masked {
					combined.Bits[i] = false
				}
			}
		}
		out = append(out, combined)
	}
	return out, nil
}

func (e *Engine) discard(ctx context.Context, p *product.Product, err error) {
	e.logger.WarnContext(ctx, "discarding corrupted product",
		slog.String("product", p.ID),
		slog.String("error", err.Error()),
	)
	if e.blacklist != nil {
		if berr := e.blacklist.Add(p.ID, err.Error()); berr != nil {
			e.logger.WarnContext(ctx, "failed to blacklist product",
				slog.String("product", p.ID),
				slog.String("error", berr.Error()),
			)
		}
	}
}

func isCorrupt(err error) bool {
	return errors.Is(err, product.ErrCorruptedProduct)
}

func allTrue(bits []bool) bool {
	for _, b := range bits {
		if !b {
			return false
		}
	}
	return true
}

func contributes(usable, resolved []bool) bool {
	for i, u := range usable {
		if u && !resolved[i] {
			return true
		}
	}
	return false
}

func updateResolved(resolved []bool, data map[string]*raster.Raster, bands []string) {
	for i := range resolved {
		if resolved[i] {
			continue
		}
		ok := true
		for _, band := range bands {
			if data[band].Mask[i] {
				ok = false
				break
			}
		}
		resolved[i] = ok
	}
}
