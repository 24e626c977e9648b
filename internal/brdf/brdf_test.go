package brdf

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/raster"
)

func TestParseModel(t *testing.T) {
	if m, err := ParseModel("hls"); err != nil || m != HLS {
		t.Errorf("ParseModel(hls) = (%v, %v)", m, err)
	}
	if m, err := ParseModel("sen2agri"); err != nil || m != Sen2Agri {
		t.Errorf("ParseModel(sen2agri) = (%v, %v)", m, err)
	}
	for _, bad := range []string{"", "none", "modis"} {
		if _, err := ParseModel(bad); err == nil {
			t.Errorf("ParseModel(%q) should fail", bad)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Model: "hls", Bands: []string{"red"}}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if _, err := New(Config{Model: "hls"}); err == nil {
		t.Error("expected error for empty band list")
	}
	if _, err := New(Config{Model: "hls", Bands: []string{"cirrus"}}); err == nil {
		t.Error("expected error for band without kernel parameters")
	}
}

func TestKernelsAtNadir(t *testing.T) {
	// At sun and view zenith 0 both kernels vanish.
	fv := rossThick(0, 0, 0)
	if math.Abs(fv) > 1e-12 {
		t.Errorf("rossThick(0,0,0) = %g, want 0", fv)
	}
	fr := liSparse(0, 0, 0)
	if math.Abs(fr) > 1e-12 {
		t.Errorf("liSparse(0,0,0) = %g, want 0", fr)
	}
}

func TestKernelsFinite(t *testing.T) {
	for sz := 0.0; sz < 1.3; sz += 0.2 {
		for vz := 0.0; vz < 1.3; vz += 0.2 {
			for az := 0.0; az < 2*math.Pi; az += math.Pi / 3 {
				if v := rossThick(sz, vz, az); math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("rossThick(%g, %g, %g) not finite: %g", sz, vz, az, v)
				}
				if v := liSparse(sz, vz, az); math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("liSparse(%g, %g, %g) not finite: %g", sz, vz, az, v)
				}
			}
		}
	}
}

func TestHLSSunZenith(t *testing.T) {
	// k0 dominates at the equator.
	if got := hlsSunZenith(0); got != 31 {
		t.Errorf("hlsSunZenith(0) = %g, want 31", got)
	}
	// Mid-latitude values stay in a plausible solar zenith range.
	got := hlsSunZenith(48)
	if got < 20 || got > 60 {
		t.Errorf("hlsSunZenith(48) = %g, outside plausible range", got)
	}
}

// testMetadata builds metadata with uniform angle grids over the tile.
func testMetadata(sunZ, viewZ float64) *product.Metadata {
	grid := func(v float64) [][]float64 {
		out := make([][]float64, 3)
		for r := range out {
			out[r] = []float64{v, v, v}
		}
		return out
	}
	return &product.Metadata{
		EPSG:   32633,
		Bounds: raster.Bounds{Left: 500000, Bottom: 5300000, Right: 500100, Top: 5300100},
		SunAngles: product.AngleGrid{
			Zenith:  grid(sunZ),
			Azimuth: grid(150),
		},
		MeanSunZenith:  sunZ,
		MeanSunAzimuth: 150,
		ViewAngles: []product.DetectorGrid{{
			BandID:     3,
			DetectorID: 5,
			AngleGrid: product.AngleGrid{
				Zenith:  grid(viewZ),
				Azimuth: grid(100),
			},
		}},
		MeanViewAngles: map[int]product.MeanAngle{3: {Zenith: viewZ, Azimuth: 100}},
		BOAOffset:      -1000,
		OffsetApplied:  true,
	}
}

func testBandRaster(t *testing.T, fill float64) *raster.Raster {
	t.Helper()
	grid, err := raster.NewGrid(4, 4, raster.Bounds{
		Left: 500000, Bottom: 5300000, Right: 500100, Top: 5300100,
	}, 32633)
	if err != nil {
		t.Fatalf("NewGrid() failed: %v", err)
	}
	return raster.NewRaster(grid, raster.Uint16, fill)
}

func TestCorrectAdjustsReflectance(t *testing.T) {
	c, err := New(Config{Model: "hls", Bands: []string{"red"}, LogScale: false})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	p := &product.Product{ID: "S2A_BRDF"}
	meta := testMetadata(45, 8)
	r := testBandRaster(t, 2000)

	if err := c.Correct(context.Background(), p, meta, "red", r); err != nil {
		t.Fatalf("Correct() failed: %v", err)
	}

	v, ok := r.At(0, 0)
	if !ok {
		t.Fatal("pixel should stay valid")
	}
	if v == 2000 {
		t.Error("correction at oblique sun geometry should change the value")
	}
	if v < 1 || v > math.MaxUint16 {
		t.Errorf("corrected value %g outside dtype range", v)
	}

	// All pixels see the same geometry, so the correction is uniform.
	v2, _ := r.At(3, 3)
	if math.Abs(v-v2) > 1e-6 {
		t.Errorf("expected uniform correction, got %g vs %g", v, v2)
	}
}

func TestCorrectOnGeographicGrid(t *testing.T) {
	c, err := New(Config{Model: "hls", Bands: []string{"red"}, LogScale: false})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// Sun zenith rising west to east, so the correction varies by column.
	meta := testMetadata(45, 8)
	for r := range meta.SunAngles.Zenith {
		meta.SunAngles.Zenith[r] = []float64{20, 40, 60}
	}

	p := &product.Product{ID: "S2A_GEO"}
	utm := testBandRaster(t, 1000)
	if err := c.Correct(context.Background(), p, meta, "red", utm); err != nil {
		t.Fatalf("Correct() on tile grid failed: %v", err)
	}

	// The same ground area as a geographic grid.
	west, south, err := raster.FromUTM(500000, 5300000, 32633)
	if err != nil {
		t.Fatalf("FromUTM failed: %v", err)
	}
	east, north, err := raster.FromUTM(500100, 5300100, 32633)
	if err != nil {
		t.Fatalf("FromUTM failed: %v", err)
	}
	grid, err := raster.NewGrid(4, 4, raster.Bounds{
		Left: west, Bottom: south, Right: east, Top: north,
	}, raster.EPSG4326)
	if err != nil {
		t.Fatalf("NewGrid() failed: %v", err)
	}
	geo := raster.NewRaster(grid, raster.Uint16, 1000)
	if err := c.Correct(context.Background(), p, meta, "red", geo); err != nil {
		t.Fatalf("Correct() on geographic grid failed: %v", err)
	}

	uw, _ := utm.At(0, 0)
	ue, _ := utm.At(3, 0)
	if math.Abs(uw-ue) < 1e-3 {
		t.Fatalf("expected east-west variation on the tile grid, got %g vs %g", uw, ue)
	}

	gw, _ := geo.At(0, 0)
	ge, _ := geo.At(3, 0)
	if math.Abs(gw-ge) < 1e-3 {
		t.Errorf("geographic grid lost the east-west variation: %g vs %g", gw, ge)
	}
	if math.Abs((uw-ue)-(gw-ge)) > 0.5 {
		t.Errorf("corrections disagree across grids: tile spread %g, geographic spread %g", uw-ue, gw-ge)
	}
}

func TestCorrectSkipsUnconfiguredBand(t *testing.T) {
	c, err := New(Config{Model: "hls", Bands: []string{"red"}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	r := testBandRaster(t, 2000)
	if err := c.Correct(context.Background(), &product.Product{ID: "x"}, testMetadata(45, 8), "green", r); err != nil {
		t.Fatalf("Correct() failed: %v", err)
	}
	if v, _ := r.At(0, 0); v != 2000 {
		t.Errorf("unconfigured band must stay untouched, got %g", v)
	}
}

func TestCorrectMissingAnglesIsCorrupted(t *testing.T) {
	c, err := New(Config{Model: "hls", Bands: []string{"red"}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	meta := testMetadata(45, 8)
	meta.ViewAngles = nil
	meta.MeanViewAngles = nil

	r := testBandRaster(t, 2000)
	err = c.Correct(context.Background(), &product.Product{ID: "S2A_NOANGLES"}, meta, "red", r)
	if !errors.Is(err, product.ErrCorruptedProduct) {
		t.Fatalf("expected corrupted product error, got %v", err)
	}
}

func TestCorrectLogScaleStaysInRange(t *testing.T) {
	c, err := New(Config{Model: "sen2agri", Bands: []string{"nir"}, LogScale: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	meta := testMetadata(55, 10)
	r := testBandRaster(t, 3000)

	if err := c.Correct(context.Background(), &product.Product{ID: "S2A_LOG"}, meta, "nir", r); err != nil {
		t.Fatalf("Correct() failed: %v", err)
	}
	v, ok := r.At(1, 1)
	if !ok || v < 1 || v > math.MaxUint16 {
		t.Errorf("log-scale corrected value out of range: (%g, %v)", v, ok)
	}
}

func TestCorrectionWeight(t *testing.T) {
	full, err := New(Config{Model: "hls", Bands: []string{"red"}, Weight: 1})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	half, err := New(Config{Model: "hls", Bands: []string{"red"}, Weight: 0.5})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	p := &product.Product{ID: "S2A_W"}
	rFull := testBandRaster(t, 2000)
	rHalf := testBandRaster(t, 2000)

	if err := full.Correct(context.Background(), p, testMetadata(45, 8), "red", rFull); err != nil {
		t.Fatalf("Correct() failed: %v", err)
	}
	if err := half.Correct(context.Background(), p, testMetadata(45, 8), "red", rHalf); err != nil {
		t.Fatalf("Correct() failed: %v", err)
	}

	vFull, _ := rFull.At(0, 0)
	vHalf, _ := rHalf.At(0, 0)
	if math.Abs(vFull-2000) <= math.Abs(vHalf-2000) {
		t.Errorf("half weight should move values less: full %g, half %g", vFull, vHalf)
	}
}
