package product

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/eoxio/terracube/internal/raster"
)

// BOAOffset is the additive reflectance offset introduced with
// processing baseline 04.00. Digital numbers carry +1000 which must be
// subtracted before use.
const BOAOffset = -1000

// Metadata holds the parsed granule sensor metadata: tile geocoding,
// sun and viewing angle grids and reflectance offset semantics.
type Metadata struct {
	EPSG   int
	Bounds raster.Bounds

	SunAngles      AngleGrid
	MeanSunZenith  float64
	MeanSunAzimuth float64

	// ViewAngles holds one grid per band and detector.
	ViewAngles []DetectorGrid

	// MeanViewAngles is keyed by band id.
	MeanViewAngles map[int]MeanAngle

	// BOAOffset is the additive offset to apply to digital numbers,
	// zero for baselines without one.
	BOAOffset     float64
	OffsetApplied bool
}

// MeanAngle is a product-level mean viewing angle for one band.
type MeanAngle struct {
	Zenith, Azimuth float64
}

// AngleGrid is a coarse angle grid over the tile, typically 23x23 at a
// 5 km step. Cells may be NaN where no detector covers the tile.
type AngleGrid struct {
	ColStep, RowStep float64
	Zenith, Azimuth  [][]float64
}

// DetectorGrid is the viewing angle grid of one band/detector pair.
type DetectorGrid struct {
	BandID, DetectorID int
	AngleGrid
}

// Rows returns the number of grid rows.
func (g AngleGrid) Rows() int { return len(g.Zenith) }

// Cols returns the number of grid columns.
func (g AngleGrid) Cols() int {
	if len(g.Zenith) == 0 {
		return 0
	}
	return len(g.Zenith[0])
}

// Empty reports whether the grid holds no finite values.
func (g AngleGrid) Empty() bool {
	for _, row := range g.Zenith {
		for _, v := range row {
			if !math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}

// Sample bilinearly interpolates the grid at fractional position
// (u, v) in [0, 1], skipping NaN cells. The second return is false when
// no finite neighbor exists.
func (g AngleGrid) Sample(values [][]float64, u, v float64) (float64, bool) {
	rows, cols := g.Rows(), g.Cols()
	if rows == 0 || cols == 0 {
		return 0, false
	}

	fr := v * float64(rows-1)
	fc := u * float64(cols-1)
	r0 := int(math.Floor(fr))
	c0 := int(math.Floor(fc))
	wr := fr - float64(r0)
	wc := fc - float64(c0)

	var sum, weight float64
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			r, c := r0+dr, c0+dc
			if r < 0 || r >= rows || c < 0 || c >= cols {
				continue
			}
			val := values[r][c]
			if math.IsNaN(val) {
				continue
			}
			w := (1 - math.Abs(float64(dr)-wr)) * (1 - math.Abs(float64(dc)-wc))
			sum += val * w
			weight += w
		}
	}
	if weight == 0 {
		return 0, false
	}
	return sum / weight, true
}

// SampleZenith interpolates the zenith grid at (u, v).
func (g AngleGrid) SampleZenith(u, v float64) (float64, bool) {
	return g.Sample(g.Zenith, u, v)
}

// SampleAzimuth interpolates the azimuth grid at (u, v).
func (g AngleGrid) SampleAzimuth(u, v float64) (float64, bool) {
	return g.Sample(g.Azimuth, u, v)
}

// CombinedViewGrid merges the per-detector grids of one band into a
// single grid by averaging finite cells. Detector grids cover disjoint
// swaths, so most cells take the single finite contribution.
func (m *Metadata) CombinedViewGrid(bandID int) (AngleGrid, error) {
	var grids []DetectorGrid
	for _, g := range m.ViewAngles {
		if g.BandID == bandID {
			grids = append(grids, g)
		}
	}
	if len(grids) == 0 {
		return AngleGrid{}, fmt.Errorf("no viewing angle grids for band %d", bandID)
	}

	rows, cols := grids[0].Rows(), grids[0].Cols()
	out := AngleGrid{
		ColStep: grids[0].ColStep,
		RowStep: grids[0].RowStep,
		Zenith:  nanGrid(rows, cols),
		Azimuth: nanGrid(rows, cols),
	}
	mergeMean(out.Zenith, grids, func(g DetectorGrid) [][]float64 { return g.Zenith })
	mergeMean(out.Azimuth, grids, func(g DetectorGrid) [][]float64 { return g.Azimuth })

	if out.Empty() {
		return AngleGrid{}, fmt.Errorf("viewing angle grids for band %d are empty", bandID)
	}
	return out, nil
}

// DetectorViewGrids returns the per-detector grids of one band.
func (m *Metadata) DetectorViewGrids(bandID int) []DetectorGrid {
	var grids []DetectorGrid
	for _, g := range m.ViewAngles {
		if g.BandID == bandID {
			grids = append(grids, g)
		}
	}
	return grids
}

func nanGrid(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
		for c := range out[r] {
			out[r][c] = math.NaN()
		}
	}
	return out
}

func mergeMean(dst [][]float64, grids []DetectorGrid, pick func(DetectorGrid) [][]float64) {
	for r := range dst {
		for c := range dst[r] {
			var sum float64
			n := 0
			for _, g := range grids {
				src := pick(g)
				if r >= len(src) || c >= len(src[r]) {
					continue
				}
				v := src[r][c]
				if math.IsNaN(v) {
					continue
				}
				sum += v
				n++
			}
			if n > 0 {
				dst[r][c] = sum / float64(n)
			}
		}
	}
}

func (m *Metadata) applyBaseline(b BaselineVersion) {
	if b.HasOffset() {
		m.BOAOffset = BOAOffset
		m.OffsetApplied = true
	}
}

// granule metadata XML layout (MTD_TL.xml). Namespace prefixes vary by
// product type, so matching is by local name.
type granuleMetadataXML struct {
	GeometricInfo struct {
		TileGeocoding struct {
			CSCode       string `xml:"HORIZONTAL_CS_CODE"`
			Geopositions []struct {
				Resolution int     `xml:"resolution,attr"`
				ULX        float64 `xml:"ULX"`
				ULY        float64 `xml:"ULY"`
				XDim       float64 `xml:"XDIM"`
				YDim       float64 `xml:"YDIM"`
			} `xml:"Geoposition"`
			Sizes []struct {
				Resolution int `xml:"resolution,attr"`
				NRows      int `xml:"NROWS"`
				NCols      int `xml:"NCOLS"`
			} `xml:"Size"`
		} `xml:"Tile_Geocoding"`
		TileAngles struct {
			SunGrid struct {
				Zenith  valuesGridXML `xml:"Zenith"`
				Azimuth valuesGridXML `xml:"Azimuth"`
			} `xml:"Sun_Angles_Grid"`
			MeanSun struct {
				Zenith  float64 `xml:"ZENITH_ANGLE"`
				Azimuth float64 `xml:"AZIMUTH_ANGLE"`
			} `xml:"Mean_Sun_Angle"`
			Viewing []struct {
				BandID     int           `xml:"bandId,attr"`
				DetectorID int           `xml:"detectorId,attr"`
				Zenith     valuesGridXML `xml:"Zenith"`
				Azimuth    valuesGridXML `xml:"Azimuth"`
			} `xml:"Viewing_Incidence_Angles_Grids"`
			MeanViewList struct {
				Angles []struct {
					BandID  int     `xml:"bandId,attr"`
					Zenith  float64 `xml:"ZENITH_ANGLE"`
					Azimuth float64 `xml:"AZIMUTH_ANGLE"`
				} `xml:"Mean_Viewing_Incidence_Angle"`
			} `xml:"Mean_Viewing_Incidence_Angle_List"`
		} `xml:"Tile_Angles"`
	} `xml:"Geometric_Info"`
}

type valuesGridXML struct {
	ColStep float64  `xml:"COL_STEP"`
	RowStep float64  `xml:"ROW_STEP"`
	Values  []string `xml:"Values_List>VALUES"`
}

// ParseMetadata parses a granule sensor metadata XML document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var doc granuleMetadataXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse granule metadata: %w", err)
	}

	m := &Metadata{
		MeanViewAngles: make(map[int]MeanAngle),
	}

	geo := doc.GeometricInfo.TileGeocoding
	if code, ok := strings.CutPrefix(geo.CSCode, "EPSG:"); ok {
		m.EPSG, _ = strconv.Atoi(code)
	}
	for i, gp := range geo.Geopositions {
		if i < len(geo.Sizes) {
			size := geo.Sizes[i]
			m.Bounds = raster.Bounds{
				Left:   gp.ULX,
				Top:    gp.ULY,
				Right:  gp.ULX + gp.XDim*float64(size.NCols),
				Bottom: gp.ULY + gp.YDim*float64(size.NRows),
			}
			break
		}
	}

	angles := doc.GeometricInfo.TileAngles
	sun, err := parseAngleGrid(angles.SunGrid.Zenith, angles.SunGrid.Azimuth)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sun angle grid: %w", err)
	}
	m.SunAngles = sun
	m.MeanSunZenith = angles.MeanSun.Zenith
	m.MeanSunAzimuth = angles.MeanSun.Azimuth

	for _, v := range angles.Viewing {
		grid, err := parseAngleGrid(v.Zenith, v.Azimuth)
		if err != nil {
			return nil, fmt.Errorf("failed to parse viewing grid band %d detector %d: %w", v.BandID, v.DetectorID, err)
		}
		m.ViewAngles = append(m.ViewAngles, DetectorGrid{
			BandID:     v.BandID,
			DetectorID: v.DetectorID,
			AngleGrid:  grid,
		})
	}

	for _, a := range angles.MeanViewList.Angles {
		m.MeanViewAngles[a.BandID] = MeanAngle{Zenith: a.Zenith, Azimuth: a.Azimuth}
	}
	return m, nil
}

func parseAngleGrid(zenith, azimuth valuesGridXML) (AngleGrid, error) {
	z, err := parseValues(zenith.Values)
	if err != nil {
		return AngleGrid{}, err
	}
	a, err := parseValues(azimuth.Values)
	if err != nil {
		return AngleGrid{}, err
	}
	return AngleGrid{
		ColStep: zenith.ColStep,
		RowStep: zenith.RowStep,
		Zenith:  z,
		Azimuth: a,
	}, nil
}

func parseValues(rows []string) ([][]float64, error) {
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		fields := strings.Fields(row)
		vals := make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid angle value %q: %w", f, err)
			}
			vals = append(vals, v)
		}
		out = append(out, vals)
	}
	return out, nil
}
