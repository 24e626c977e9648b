package mask

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/eoxio/terracube/internal/product"
	"github.com/eoxio/terracube/internal/raster"
	"github.com/eoxio/terracube/pkg/geojson"
)

// GML vector mask layout used by pre-04.00 products. Feature
// coordinates are in the tile's projected CRS.
type gmlMaskXML struct {
	Members []struct {
		Features []struct {
			MaskType string `xml:"maskType"`
			ExtentOf struct {
				Polygon struct {
					Exterior struct {
						PosList gmlPosList `xml:"LinearRing>posList"`
					} `xml:"exterior"`
					Interiors []struct {
						PosList gmlPosList `xml:"LinearRing>posList"`
					} `xml:"interior"`
				} `xml:"Polygon"`
			} `xml:"extentOf"`
		} `xml:"MaskFeature"`
	} `xml:"maskMembers"`
}

type gmlPosList struct {
	Dimension int    `xml:"srsDimension,attr"`
	Text      string `xml:",chardata"`
}

// maskFeature is one parsed vector mask polygon.
type maskFeature struct {
	Type     string
	Geometry *geojson.Geometry
}

// parseGMLMask decodes mask features from a GML document. Documents
// without features (a cloud-free granule) yield an empty list.
func parseGMLMask(data []byte) ([]maskFeature, error) {
	var doc gmlMaskXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse GML mask: %w", err)
	}

	var features []maskFeature
	for _, member := range doc.Members {
		for _, f := range member.Features {
			rings := make([][][]float64, 0, 1+len(f.ExtentOf.Polygon.Interiors))
			exterior, err := parsePosList(f.ExtentOf.Polygon.Exterior.PosList)
			if err != nil {
				return nil, err
			}
			if len(exterior) == 0 {
				continue
			}
			rings = append(rings, exterior)
			for _, interior := range f.ExtentOf.Polygon.Interiors {
				ring, err := parsePosList(interior.PosList)
				if err != nil {
					return nil, err
				}
				if len(ring) > 0 {
					rings = append(rings, ring)
				}
			}

			g, err := geojson.NewPolygon(rings)
			if err != nil {
				return nil, fmt.Errorf("invalid mask feature geometry: %w", err)
			}
			// Feature types come as e.g. "OPAQUE" or "CIRRUS".
			features = append(features, maskFeature{
				Type:     strings.ToUpper(strings.TrimSpace(f.MaskType)),
				Geometry: g,
			})
		}
	}
	return features, nil
}

func parsePosList(pl gmlPosList) ([][]float64, error) {
	fields := strings.Fields(pl.Text)
	if len(fields) == 0 {
		return nil, nil
	}
	dim := pl.Dimension
	if dim < 2 {
		dim = 2
	}
	if len(fields)%dim != 0 {
		return nil, fmt.Errorf("posList length %d is not a multiple of dimension %d", len(fields), dim)
	}

	ring := make([][]float64, 0, len(fields)/dim)
	for i := 0; i < len(fields); i += dim {
		x, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid posList coordinate %q: %w", fields[i], err)
		}
		y, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid posList coordinate %q: %w", fields[i+1], err)
		}
		ring = append(ring, []float64{x, y})
	}
	// GML rings repeat the first position; tolerate ones that do not.
	if len(ring) > 0 {
		first, last := ring[0], ring[len(ring)-1]
		if first[0] != last[0] || first[1] != last[1] {
			ring = append(ring, []float64{first[0], first[1]})
		}
	}
	return ring, nil
}

// wantedMaskTypes maps the configured cloud type to GML feature types.
func wantedMaskTypes(cloudType string) map[string]bool {
	switch cloudType {
	case "opaque":
		return map[string]bool{"OPAQUE": true}
	case "cirrus":
		return map[string]bool{"CIRRUS": true}
	default: // "all"
		return map[string]bool{"OPAQUE": true, "CIRRUS": true}
	}
}

// vectorCloudMask fetches and rasterizes the GML cloud mask of a
// pre-04.00 product.
func (m *Masker) vectorCloudMask(ctx context.Context, p *product.Product, grid raster.Grid) (*raster.Mask8, error) {
	href := p.AssetHref(gmlAssetNames...)
	if href == "" {
		return nil, product.Corrupted(p.ID, "no vector cloud mask asset", nil)
	}

	body, err := m.client.GetBytes(ctx, href)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cloud mask of %s: %w", p.ID, err)
	}

	features, err := parseGMLMask(body)
	if err != nil {
		return nil, product.Corrupted(p.ID, "cloud mask parse failed", err)
	}

	wanted := wantedMaskTypes(m.cfg.CloudType)
	out := raster.NewMask(grid)
	for _, f := range features {
		if !wanted[f.Type] {
			continue
		}
		burned, err := raster.Rasterize(f.Geometry, grid)
		if err != nil {
			return nil, product.Corrupted(p.ID, "cloud mask rasterization failed", err)
		}
		if err := out.Or(burned); err != nil {
			return nil, err
		}
	}
	return out, nil
}
