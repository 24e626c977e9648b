// Package stac provides STAC item types and helpers, wrapping
// planetlabs/go-stac for core types.
package stac

import (
	"encoding/json"
	"fmt"
	"time"

	gostac "github.com/planetlabs/go-stac"

	"github.com/eoxio/terracube/pkg/geojson"
)

// Re-export core types from planetlabs/go-stac for convenience
type (
	Item  = gostac.Item
	Asset = gostac.Asset
	Link  = gostac.Link
)

// ItemCollection represents a STAC ItemCollection (GeoJSON FeatureCollection)
// with the pagination fields search endpoints return.
type ItemCollection struct {
	Type           string         `json:"type"`
	Features       []*gostac.Item `json:"features"`
	Links          []*gostac.Link `json:"links"`
	NumberMatched  *int           `json:"numberMatched,omitempty"`
	NumberReturned int            `json:"numberReturned"`
}

// NextLink returns the href of the "next" pagination link, or "" when
// the collection is the last page.
func (ic *ItemCollection) NextLink() string {
	for _, link := range ic.Links {
		if link != nil && link.Rel == "next" {
			return link.Href
		}
	}
	return ""
}

// Property returns a raw item property.
func Property(item *gostac.Item, key string) (any, bool) {
	if item == nil || item.Properties == nil {
		return nil, false
	}
	v, ok := item.Properties[key]
	return v, ok
}

// StringProperty returns a string item property, "" when absent.
func StringProperty(item *gostac.Item, key string) string {
	v, ok := Property(item, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// FloatProperty returns a numeric item property. JSON numbers decode as
// float64 but ints are accepted too.
func FloatProperty(item *gostac.Item, key string) (float64, bool) {
	v, ok := Property(item, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ItemTime returns the item acquisition time from the datetime property,
// falling back to start_datetime for range items.
func ItemTime(item *gostac.Item) (time.Time, error) {
	for _, key := range []string{"datetime", "start_datetime"} {
		s := StringProperty(item, key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse item %s %q: %w", key, s, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("item %s has no datetime property", item.Id)
}

// CloudCover returns the eo:cloud_cover percentage. Items without the
// property report 0 and false.
func CloudCover(item *gostac.Item) (float64, bool) {
	return FloatProperty(item, "eo:cloud_cover")
}

// FootprintGeometry decodes the item geometry into a concrete
// Polygon/MultiPolygon.
func FootprintGeometry(item *gostac.Item) (*geojson.Geometry, error) {
	if item == nil || item.Geometry == nil {
		return nil, fmt.Errorf("item has no geometry")
	}
	if g, ok := item.Geometry.(*geojson.Geometry); ok {
		return g, nil
	}
	raw, err := json.Marshal(item.Geometry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item geometry: %w", err)
	}
	var g geojson.Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("failed to decode item geometry: %w", err)
	}
	if err := geojson.Validate(&g); err != nil {
		return nil, fmt.Errorf("item %s has invalid geometry: %w", item.Id, err)
	}
	return &g, nil
}

// AssetHref returns the href of the named asset, trying each alternate
// key in order. Missing assets return "".
func AssetHref(item *gostac.Item, keys ...string) string {
	if item == nil || item.Assets == nil {
		return ""
	}
	for _, key := range keys {
		if a, ok := item.Assets[key]; ok && a != nil && a.Href != "" {
			return a.Href
		}
	}
	return ""
}
