package product

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eoxio/terracube/internal/fetch"
)

const granuleXML = `<?xml version="1.0" encoding="UTF-8"?>
<n1:Level-2A_Tile_ID xmlns:n1="https://psd-14.sentinel2.eo.esa.int/PSD/S2_PDI_Level-2A_Tile_Metadata.xsd">
  <n1:Geometric_Info>
    <Tile_Geocoding metadataLevel="Brief">
      <HORIZONTAL_CS_CODE>EPSG:32633</HORIZONTAL_CS_CODE>
      <Size resolution="10">
        <NROWS>10980</NROWS>
        <NCOLS>10980</NCOLS>
      </Size>
      <Geoposition resolution="10">
        <ULX>399960</ULX>
        <ULY>5400000</ULY>
        <XDIM>10</XDIM>
        <YDIM>-10</YDIM>
      </Geoposition>
    </Tile_Geocoding>
    <Tile_Angles>
      <Sun_Angles_Grid>
        <Zenith>
          <COL_STEP unit="m">5000</COL_STEP>
          <ROW_STEP unit="m">5000</ROW_STEP>
          <Values_List>
            <VALUES>30.0 31.0</VALUES>
            <VALUES>32.0 33.0</VALUES>
          </Values_List>
        </Zenith>
        <Azimuth>
          <COL_STEP unit="m">5000</COL_STEP>
          <ROW_STEP unit="m">5000</ROW_STEP>
          <Values_List>
            <VALUES>150.0 151.0</VALUES>
            <VALUES>152.0 153.0</VALUES>
          </Values_List>
        </Azimuth>
      </Sun_Angles_Grid>
      <Mean_Sun_Angle>
        <ZENITH_ANGLE unit="deg">31.5</ZENITH_ANGLE>
        <AZIMUTH_ANGLE unit="deg">151.5</AZIMUTH_ANGLE>
      </Mean_Sun_Angle>
      <Viewing_Incidence_Angles_Grids bandId="3" detectorId="5">
        <Zenith>
          <COL_STEP unit="m">5000</COL_STEP>
          <ROW_STEP unit="m">5000</ROW_STEP>
          <Values_List>
            <VALUES>5.0 NaN</VALUES>
            <VALUES>6.0 NaN</VALUES>
          </Values_List>
        </Zenith>
        <Azimuth>
          <COL_STEP unit="m">5000</COL_STEP>
          <ROW_STEP unit="m">5000</ROW_STEP>
          <Values_List>
            <VALUES>100.0 NaN</VALUES>
            <VALUES>101.0 NaN</VALUES>
          </Values_List>
        </Azimuth>
      </Viewing_Incidence_Angles_Grids>
      <Viewing_Incidence_Angles_Grids bandId="3" detectorId="6">
        <Zenith>
          <COL_STEP unit="m">5000</COL_STEP>
          <ROW_STEP unit="m">5000</ROW_STEP>
          <Values_List>
            <VALUES>NaN 7.0</VALUES>
            <VALUES>NaN 8.0</VALUES>
          </Values_List>
        </Zenith>
        <Azimuth>
          <COL_STEP unit="m">5000</COL_STEP>
          <ROW_STEP unit="m">5000</ROW_STEP>
          <Values_List>
            <VALUES>NaN 102.0</VALUES>
            <VALUES>NaN 103.0</VALUES>
          </Values_List>
        </Azimuth>
      </Viewing_Incidence_Angles_Grids>
      <Mean_Viewing_Incidence_Angle_List>
        <Mean_Viewing_Incidence_Angle bandId="3">
          <ZENITH_ANGLE unit="deg">6.5</ZENITH_ANGLE>
          <AZIMUTH_ANGLE unit="deg">101.5</AZIMUTH_ANGLE>
        </Mean_Viewing_Incidence_Angle>
      </Mean_Viewing_Incidence_Angle_List>
    </Tile_Angles>
  </n1:Geometric_Info>
</n1:Level-2A_Tile_ID>`

func TestParseMetadata(t *testing.T) {
	m, err := ParseMetadata([]byte(granuleXML))
	if err != nil {
		t.Fatalf("ParseMetadata() failed: %v", err)
	}

	if m.EPSG != 32633 {
		t.Errorf("expected EPSG 32633, got %d", m.EPSG)
	}
	if m.Bounds.Left != 399960 || m.Bounds.Top != 5400000 {
		t.Errorf("unexpected bounds origin: %+v", m.Bounds)
	}
	if m.Bounds.Right != 399960+10*10980 {
		t.Errorf("unexpected bounds right: %g", m.Bounds.Right)
	}

	if m.SunAngles.Rows() != 2 || m.SunAngles.Cols() != 2 {
		t.Fatalf("unexpected sun grid shape: %dx%d", m.SunAngles.Rows(), m.SunAngles.Cols())
	}
	if m.SunAngles.Zenith[1][0] != 32 {
		t.Errorf("unexpected sun zenith value: %g", m.SunAngles.Zenith[1][0])
	}
	if m.MeanSunZenith != 31.5 {
		t.Errorf("expected mean sun zenith 31.5, got %g", m.MeanSunZenith)
	}

	if len(m.ViewAngles) != 2 {
		t.Fatalf("expected 2 viewing grids, got %d", len(m.ViewAngles))
	}
	if m.ViewAngles[0].BandID != 3 || m.ViewAngles[0].DetectorID != 5 {
		t.Errorf("unexpected first viewing grid ids: %+v", m.ViewAngles[0])
	}
	if !math.IsNaN(m.ViewAngles[0].Zenith[0][1]) {
		t.Error("uncovered detector cells should parse as NaN")
	}

	ma, ok := m.MeanViewAngles[3]
	if !ok || ma.Zenith != 6.5 {
		t.Errorf("unexpected mean viewing angle: %+v", ma)
	}
}

func TestCombinedViewGrid(t *testing.T) {
	m, err := ParseMetadata([]byte(granuleXML))
	if err != nil {
		t.Fatalf("ParseMetadata() failed: %v", err)
	}

	combined, err := m.CombinedViewGrid(3)
	if err != nil {
		t.Fatalf("CombinedViewGrid() failed: %v", err)
	}

	// Detector 5 covers the left column, detector 6 the right.
	if combined.Zenith[0][0] != 5 {
		t.Errorf("expected zenith 5 at [0][0], got %g", combined.Zenith[0][0])
	}
	if combined.Zenith[0][1] != 7 {
		t.Errorf("expected zenith 7 at [0][1], got %g", combined.Zenith[0][1])
	}

	if _, err := m.CombinedViewGrid(12); err == nil {
		t.Error("expected error for a band without viewing grids")
	}
}

func TestAngleGridSampleSkipsNaN(t *testing.T) {
	g := AngleGrid{
		Zenith: [][]float64{
			{10, math.NaN()},
			{20, math.NaN()},
		},
	}

	v, ok := g.SampleZenith(0, 0.5)
	if !ok || math.Abs(v-15) > 1e-9 {
		t.Errorf("SampleZenith(0, 0.5) = (%g, %v), want (15, true)", v, ok)
	}

	// The right column is all NaN; interpolation near it borrows the
	// finite left neighbors.
	v, ok = g.SampleZenith(0.75, 0)
	if !ok || v != 10 {
		t.Errorf("SampleZenith(0.75, 0) = (%g, %v), want (10, true)", v, ok)
	}

	// A sample pinned exactly on an all-NaN column has nothing to use.
	if _, ok := g.SampleZenith(1, 0); ok {
		t.Error("expected no value on an all-NaN grid column")
	}
}

func TestMetadataLazyLoadAndInvalidate(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(granuleXML))
	}))
	defer srv.Close()

	p, err := FromItem(testStacItem())
	if err != nil {
		t.Fatalf("FromItem() failed: %v", err)
	}
	p.MetadataHref = srv.URL

	client := fetch.NewClient(5*time.Second, fetch.DefaultRetryPolicy())
	ctx := context.Background()

	m1, err := p.Metadata(ctx, client)
	if err != nil {
		t.Fatalf("Metadata() failed: %v", err)
	}
	m2, err := p.Metadata(ctx, client)
	if err != nil {
		t.Fatalf("Metadata() failed on cached call: %v", err)
	}
	if m1 != m2 {
		t.Error("second Metadata() call should return the cached value")
	}
	if hits != 1 {
		t.Errorf("expected 1 metadata fetch, got %d", hits)
	}

	// Baseline 05.00 carries the BOA offset.
	if !m1.OffsetApplied || m1.BOAOffset != -1000 {
		t.Errorf("expected offset -1000 applied, got (%g, %v)", m1.BOAOffset, m1.OffsetApplied)
	}

	p.Invalidate()
	if _, err := p.Metadata(ctx, client); err != nil {
		t.Fatalf("Metadata() after Invalidate() failed: %v", err)
	}
	if hits != 2 {
		t.Errorf("expected refetch after Invalidate(), got %d fetches", hits)
	}
}

func TestMetadataParseFailureIsCorrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not xml at all <"))
	}))
	defer srv.Close()

	p, err := FromItem(testStacItem())
	if err != nil {
		t.Fatalf("FromItem() failed: %v", err)
	}
	p.MetadataHref = srv.URL

	client := fetch.NewClient(5*time.Second, fetch.DefaultRetryPolicy())
	_, err = p.Metadata(context.Background(), client)
	if !errors.Is(err, ErrCorruptedProduct) {
		t.Fatalf("expected corrupted product error, got %v", err)
	}
}
