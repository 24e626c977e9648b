package product

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/eoxio/terracube/internal/raster"
	"github.com/eoxio/terracube/pkg/geojson"
)

// MGRS letter tables. I and O are never used.
const (
	latBands   = "CDEFGHJKLMNPQRSTUVWX"
	rowLetters = "ABCDEFGHJKLMNPQRSTUV"
)

var colLetterSets = [3]string{"ABCDEFGH", "JKLMNPQR", "STUVWXYZ"}

const squareSize = 100000.0

// Tile identifies one 100 km tile of the military grid: UTM zone,
// latitude band letter and grid square letters, e.g. "33UVP".
type Tile struct {
	Zone   int
	Band   byte
	Square string
}

// ParseTile parses an MGRS tile id like "33UVP" or "01WCV".
func ParseTile(s string) (Tile, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 5 {
		return Tile{}, fmt.Errorf("invalid tile id %q", s)
	}
	zone, err := strconv.Atoi(s[:2])
	if err != nil || zone < 1 || zone > 60 {
		return Tile{}, fmt.Errorf("invalid tile zone in %q", s)
	}
	band := s[2]
	if !strings.ContainsRune(latBands, rune(band)) {
		return Tile{}, fmt.Errorf("invalid latitude band in %q", s)
	}
	square := s[3:]
	if !strings.ContainsRune(colLetterSets[(zone-1)%3], rune(square[0])) {
		return Tile{}, fmt.Errorf("invalid grid square column in %q", s)
	}
	if !strings.ContainsRune(rowLetters, rune(square[1])) {
		return Tile{}, fmt.Errorf("invalid grid square row in %q", s)
	}
	return Tile{Zone: zone, Band: band, Square: square}, nil
}

// String formats the tile id, e.g. "01WCV".
func (t Tile) String() string {
	return fmt.Sprintf("%02d%c%s", t.Zone, t.Band, t.Square)
}

// IsZero reports whether the tile is unset.
func (t Tile) IsZero() bool {
	return t.Zone == 0
}

// North reports whether the tile lies in the northern hemisphere.
func (t Tile) North() bool {
	return t.Band >= 'N'
}

// EPSG returns the UTM EPSG code of the tile.
func (t Tile) EPSG() int {
	return raster.UTMEPSG(t.Zone, t.North())
}

// bandLatitude returns the latitude range of the band letter. Band X is
// 12 degrees tall, all others 8.
func bandLatitude(band byte) (south, north float64) {
	idx := strings.IndexByte(latBands, band)
	south = float64(idx)*8 - 80
	north = south + 8
	if band == 'X' {
		north = 84
	}
	return south, north
}

// ProjectedBounds returns the tile extent in its UTM CRS. The row
// letter repeats every 2000 km, so the latitude band resolves which
// repetition the tile sits in.
func (t Tile) ProjectedBounds() (raster.Bounds, error) {
	colSet := colLetterSets[(t.Zone-1)%3]
	colIdx := strings.IndexByte(colSet, t.Square[0])
	if colIdx < 0 {
		return raster.Bounds{}, fmt.Errorf("invalid grid square column in %s", t)
	}
	left := float64(colIdx+1) * squareSize

	rowIdx := strings.IndexByte(rowLetters, t.Square[1])
	if rowIdx < 0 {
		return raster.Bounds{}, fmt.Errorf("invalid grid square row in %s", t)
	}
	// Even zones shift the row lettering by five squares.
	if t.Zone%2 == 0 {
		rowIdx = (rowIdx - 5 + 20) % 20
	}

	// Approximate northing at the band's south edge, then find the
	// matching row repetition at or above it.
	south, _ := bandLatitude(t.Band)
	_, approxN, err := raster.ToUTM(centralLon(t.Zone), south, t.EPSG())
	if err != nil {
		return raster.Bounds{}, err
	}
	base := math.Floor(approxN/squareSize) * squareSize
	bottom := base + math.Mod(float64(rowIdx)*squareSize-base, 20*squareSize)
	for bottom < base {
		bottom += 20 * squareSize
	}
	// The first candidate can land just below the band edge.
	if bottom+squareSize < approxN {
		bottom += 20 * squareSize
	}

	return raster.Bounds{
		Left:   left,
		Bottom: bottom,
		Right:  left + squareSize,
		Top:    bottom + squareSize,
	}, nil
}

// Geometry returns the tile outline in geographic coordinates, split at
// the antimeridian when the tile straddles it.
func (t Tile) Geometry() (*geojson.Geometry, error) {
	b, err := t.ProjectedBounds()
	if err != nil {
		return nil, err
	}
	epsg := t.EPSG()

	corners := [][2]float64{
		{b.Left, b.Bottom}, {b.Right, b.Bottom},
		{b.Right, b.Top}, {b.Left, b.Top},
	}
	ring := make([][]float64, 0, 5)
	for _, c := range corners {
		lon, lat, err := raster.FromUTM(c[0], c[1], epsg)
		if err != nil {
			return nil, err
		}
		ring = append(ring, []float64{lon, lat})
	}
	ring = append(ring, ring[0])

	g, err := geojson.NewPolygon([][][]float64{ring})
	if err != nil {
		return nil, err
	}
	if geojson.CrossesAntimeridian(g) {
		return geojson.SplitAntimeridian(g)
	}
	return g, nil
}

func centralLon(zone int) float64 {
	return float64(zone)*6 - 183
}

// TileForLonLat returns the tile containing a geographic coordinate.
func TileForLonLat(lon, lat float64) (Tile, error) {
	if lat < -80 || lat > 84 {
		return Tile{}, fmt.Errorf("latitude %g is outside the grid", lat)
	}
	lon = math.Mod(lon+540, 360) - 180

	zone := int(math.Floor((lon+180)/6)) + 1
	if zone > 60 {
		zone = 60
	}

	bandIdx := int(math.Floor((lat + 80) / 8))
	if bandIdx > 19 {
		bandIdx = 19
	}
	band := latBands[bandIdx]

	north := lat >= 0
	x, y, err := raster.ToUTM(lon, lat, raster.UTMEPSG(zone, north))
	if err != nil {
		return Tile{}, err
	}

	colSet := colLetterSets[(zone-1)%3]
	colIdx := int(math.Floor(x/squareSize)) - 1
	if colIdx < 0 || colIdx >= len(colSet) {
		return Tile{}, fmt.Errorf("coordinate (%g, %g) is outside zone %d", lon, lat, zone)
	}

	rowIdx := int(math.Floor(y/squareSize)) % 20
	if zone%2 == 0 {
		rowIdx = (rowIdx + 5) % 20
	}

	return Tile{
		Zone:   zone,
		Band:   band,
		Square: string([]byte{colSet[colIdx], rowLetters[rowIdx]}),
	}, nil
}

// TilesFromBounds returns the tiles intersecting a geographic extent.
// Extents whose right edge is east of 180 wrap across the antimeridian,
// so a query like [179, -41, 181, -40] covers zones 60 and 1.
func TilesFromBounds(left, bottom, right, top float64) ([]Tile, error) {
	if right < left {
		right += 360
	}
	if bottom > top {
		return nil, fmt.Errorf("invalid bounds: bottom %g above top %g", bottom, top)
	}

	// Sample at sub-square density; squares are at most ~1 degree wide.
	const step = 0.4

	seen := make(map[Tile]bool)
	var tiles []Tile
	for lat := bottom; ; lat += step {
		if lat > top {
			lat = top
		}
		for lon := left; ; lon += step {
			if lon > right {
				lon = right
			}
			t, err := TileForLonLat(lon, lat)
			if err == nil && !seen[t] {
				seen[t] = true
				tiles = append(tiles, t)
			}
			if lon >= right {
				break
			}
		}
		if lat >= top {
			break
		}
	}
	return tiles, nil
}
