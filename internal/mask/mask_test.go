package mask

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eoxio/terracube/internal/fetch"
	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/raster"
	"github.com/eoxio/terracube/pkg/geojson"
)

// utmTestFrame anchors a 10x10 pixel, 10 m resolution grid near
// (15E, 48N) in UTM zone 33N and derives matching footprints.
type utmTestFrame struct {
	grid raster.Grid
	x0   float64
	y0   float64
}

func newUTMTestFrame(t *testing.T) utmTestFrame {
	t.Helper()
	x0, y0, err := raster.ToUTM(15, 48, 32633)
	if err != nil {
		t.Fatalf("ToUTM() failed: %v", err)
	}
	grid, err := raster.NewGrid(10, 10, raster.Bounds{
		Left: x0, Bottom: y0, Right: x0 + 100, Top: y0 + 100,
	}, 32633)
	if err != nil {
		t.Fatalf("NewGrid() failed: %v", err)
	}
	return utmTestFrame{grid: grid, x0: x0, y0: y0}
}

// footprint returns a lon/lat polygon over a projected sub-rectangle.
func (f utmTestFrame) footprint(t *testing.T, left, bottom, right, top float64) *geojson.Geometry {
	t.Helper()
	corners := [][2]float64{
		{f.x0 + left, f.y0 + bottom},
		{f.x0 + right, f.y0 + bottom},
		{f.x0 + right, f.y0 + top},
		{f.x0 + left, f.y0 + top},
	}
	ring := make([][]float64, 0, 5)
	for _, c := range corners {
		lon, lat, err := raster.FromUTM(c[0], c[1], 32633)
		if err != nil {
			t.Fatalf("FromUTM() failed: %v", err)
		}
		ring = append(ring, []float64{lon, lat})
	}
	ring = append(ring, ring[0])
	g, err := geojson.NewPolygon([][][]float64{ring})
	if err != nil {
		t.Fatalf("NewPolygon() failed: %v", err)
	}
	return g
}

func (f utmTestFrame) product(t *testing.T, footprint *geojson.Geometry) *product.Product {
	t.Helper()
	baseline, err := product.ParseBaseline("05.00")
	if err != nil {
		t.Fatalf("ParseBaseline() failed: %v", err)
	}
	return &product.Product{
		ID:        "S2A_MASK_TEST",
		Baseline:  baseline,
		Footprint: footprint,
		Assets:    map[string]string{},
	}
}

func testClient() *fetch.Client {
	return fetch.NewClient(5*time.Second, fetch.DefaultRetryPolicy())
}

func TestFootprintMask(t *testing.T) {
	f := newUTMTestFrame(t)
	p := f.product(t, f.footprint(t, 0, 0, 50, 100)) // left half

	m, err := NewMasker(Config{Footprint: true}, raster.NewMapReader(), testClient())
	if err != nil {
		t.Fatalf("NewMasker() failed: %v", err)
	}

	out, err := m.ForProduct(context.Background(), p, f.grid)
	if err != nil {
		t.Fatalf("ForProduct() failed: %v", err)
	}

	// Right half masked, left half clear.
	if got := out.Count(); got != 50 {
		t.Errorf("expected 50 masked pixels, got %d", got)
	}
	if out.Bits[0*10+2] {
		t.Error("pixel inside the footprint should be clear")
	}
	if !out.Bits[0*10+8] {
		t.Error("pixel outside the footprint should be masked")
	}
}

func TestFootprintBufferShrinksUsableArea(t *testing.T) {
	f := newUTMTestFrame(t)
	p := f.product(t, f.footprint(t, 0, 0, 100, 100)) // whole grid

	m, err := NewMasker(Config{Footprint: true, FootprintBuffer: -20}, raster.NewMapReader(), testClient())
	if err != nil {
		t.Fatalf("NewMasker() failed: %v", err)
	}

	out, err := m.ForProduct(context.Background(), p, f.grid)
	if err != nil {
		t.Fatalf("ForProduct() failed: %v", err)
	}

	// A 20 m inward buffer leaves a 60x60 m usable core (6x6 pixels).
	clear := f.grid.Size() - out.Count()
	if clear < 30 || clear > 40 {
		t.Errorf("expected roughly 36 usable pixels after inward buffer, got %d", clear)
	}
	if out.Bits[5*10+5] {
		t.Error("grid center should stay usable")
	}
	if !out.Bits[0] {
		t.Error("grid corner should be masked by the inward buffer")
	}
}

func TestCollapsedFootprintMasksEverything(t *testing.T) {
	f := newUTMTestFrame(t)
	p := f.product(t, f.footprint(t, 0, 0, 100, 100))

	// Buffering a 100 m footprint inward by 500 m collapses it.
	m, err := NewMasker(Config{Footprint: true, FootprintBuffer: -500}, raster.NewMapReader(), testClient())
	if err != nil {
		t.Fatalf("NewMasker() failed: %v", err)
	}

	out, err := m.ForProduct(context.Background(), p, f.grid)
	if err != nil {
		t.Fatalf("ForProduct() should treat a collapsed footprint as all-masked, got error: %v", err)
	}
	if !out.All() {
		t.Error("collapsed footprint should mask every pixel")
	}
}

func TestSCLMask(t *testing.T) {
	f := newUTMTestFrame(t)
	p := f.product(t, f.footprint(t, 0, 0, 100, 100))
	p.Assets["scl"] = "mem://scl"

	scl := raster.NewRaster(f.grid, raster.Uint8, float64(SCLVegetation))
	scl.Set(3, 3, float64(SCLCloudHigh))
	scl.Set(7, 7, float64(SCLSnowIce))

	reader := raster.NewMapReader()
	reader.Put("mem://scl", 1, scl)

	m, err := NewMasker(Config{
		SCLClasses: []string{"cloud_high_probability", "snow_ice"},
	}, reader, testClient())
	if err != nil {
		t.Fatalf("NewMasker() failed: %v", err)
	}

	out, err := m.ForProduct(context.Background(), p, f.grid)
	if err != nil {
		t.Fatalf("ForProduct() failed: %v", err)
	}
	if out.Count() != 2 {
		t.Errorf("expected 2 masked pixels, got %d", out.Count())
	}
	if !out.Bits[3*10+3] || !out.Bits[7*10+7] {
		t.Error("configured SCL classes should be masked")
	}
}

func TestNewMaskerRejectsUnknownSCLClass(t *testing.T) {
	_, err := NewMasker(Config{SCLClasses: []string{"fog"}}, raster.NewMapReader(), testClient())
	if err == nil {
		t.Error("expected error for unknown SCL class")
	}
}

func TestCloudProbabilityThreshold(t *testing.T) {
	f := newUTMTestFrame(t)
	p := f.product(t, f.footprint(t, 0, 0, 100, 100))
	p.Assets["cloud"] = "mem://cloud"

	prob := raster.NewRaster(f.grid, raster.Uint8, 10)
	prob.Set(1, 1, 80)
	prob.Set(2, 2, 60)

	reader := raster.NewMapReader()
	reader.Put("mem://cloud", 1, prob)

	m, err := NewMasker(Config{
		CloudType:                 "all",
		CloudProbabilityThreshold: 70,
	}, reader, testClient())
	if err != nil {
		t.Fatalf("NewMasker() failed: %v", err)
	}

	out, err := m.ForProduct(context.Background(), p, f.grid)
	if err != nil {
		t.Fatalf("ForProduct() failed: %v", err)
	}
	if out.Count() != 1 {
		t.Errorf("expected 1 masked pixel, got %d", out.Count())
	}
	if !out.Bits[1*10+1] {
		t.Error("pixel above the probability threshold should be masked")
	}
}

func TestVectorCloudMaskPre0400(t *testing.T) {
	f := newUTMTestFrame(t)

	// Opaque cloud over the left half of the grid, in tile CRS.
	gml := fmt.Sprintf(`<?xml version="1.0"?>
<eop:Mask xmlns:eop="http://www.opengis.net/eop/2.0" xmlns:gml="http://www.opengis.net/gml/3.2">
  <eop:maskMembers>
    <eop:MaskFeature gml:id="OPAQUE.0">
      <eop:maskType codeSpace="urn:gs2:S2PDGS:maskType">OPAQUE</eop:maskType>
      <eop:extentOf>
        <gml:Polygon gml:id="OPAQUE.0_Polygon">
          <gml:exterior>
            <gml:LinearRing>
              <gml:posList srsDimension="2">%g %g %g %g %g %g %g %g %g %g</gml:posList>
            </gml:LinearRing>
          </gml:exterior>
        </gml:Polygon>
      </eop:extentOf>
    </eop:MaskFeature>
  </eop:maskMembers>
</eop:Mask>`,
		f.x0, f.y0, f.x0+50, f.y0, f.x0+50, f.y0+100, f.x0, f.y0+100, f.x0, f.y0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gml))
	}))
	defer srv.Close()

	p := f.product(t, f.footprint(t, 0, 0, 100, 100))
	baseline, _ := product.ParseBaseline("03.01")
	p.Baseline = baseline
	p.Assets["cloudmask"] = srv.URL

	m, err := NewMasker(Config{CloudType: "opaque"}, raster.NewMapReader(), testClient())
	if err != nil {
		t.Fatalf("NewMasker() failed: %v", err)
	}

	out, err := m.ForProduct(context.Background(), p, f.grid)
	if err != nil {
		t.Fatalf("ForProduct() failed: %v", err)
	}
	if out.Count() != 50 {
		t.Errorf("expected left half masked, got %d pixels", out.Count())
	}
	if !out.Bits[4*10+2] {
		t.Error("pixel under the opaque cloud should be masked")
	}
	if out.Bits[4*10+8] {
		t.Error("pixel outside the cloud should be clear")
	}
}

func TestPixelBufferDilatesMask(t *testing.T) {
	f := newUTMTestFrame(t)
	p := f.product(t, f.footprint(t, 0, 0, 100, 100))
	p.Assets["scl"] = "mem://scl"

	scl := raster.NewRaster(f.grid, raster.Uint8, float64(SCLVegetation))
	scl.Set(5, 5, float64(SCLCloudHigh))

	reader := raster.NewMapReader()
	reader.Put("mem://scl", 1, scl)

	m, err := NewMasker(Config{
		SCLClasses:  []string{"cloud_high_probability"},
		PixelBuffer: 1,
	}, reader, testClient())
	if err != nil {
		t.Fatalf("NewMasker() failed: %v", err)
	}

	out, err := m.ForProduct(context.Background(), p, f.grid)
	if err != nil {
		t.Fatalf("ForProduct() failed: %v", err)
	}
	if out.Count() != 9 {
		t.Errorf("expected a 3x3 masked block after dilation, got %d", out.Count())
	}
}

func TestParseGMLMaskEmptyDocument(t *testing.T) {
	features, err := parseGMLMask([]byte(`<?xml version="1.0"?>
<eop:Mask xmlns:eop="http://www.opengis.net/eop/2.0"><eop:maskMembers/></eop:Mask>`))
	if err != nil {
		t.Fatalf("parseGMLMask() failed: %v", err)
	}
	if len(features) != 0 {
		t.Errorf("expected no features, got %d", len(features))
	}
}
