package geo

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Geometry is the tagged variant of the geometries the store accepts.
// Point and Polygon are its only implementations.
type Geometry interface {
	GeoJSONType() string
	orbGeometry() orb.Geometry
}

func (Point) GeoJSONType() string   { return "Point" }
func (Polygon) GeoJSONType() string { return "Polygon" }

func (p Point) orbGeometry() orb.Geometry {
	return orb.Point{p.Lon, p.Lat}
}

func (p Polygon) orbGeometry() orb.Geometry {
	ring := make(orb.Ring, len(p.Ring))
	for i, v := range p.Ring {
		ring[i] = orb.Point{v.Lon, v.Lat}
	}
	return orb.Polygon{ring}
}

// ParseGeoJSON decodes a GeoJSON geometry object into a Point or a Polygon.
// Polygons must carry exactly one ring; holes are not supported.
func ParseGeoJSON(data []byte) (Geometry, error) {
	if err := checkPositions(data); err != nil {
		return nil, err
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	switch c := g.Coordinates.(type) {
	case orb.Point:
		return Point{Lon: c.Lon(), Lat: c.Lat()}, nil
	case orb.Polygon:
		if len(c) != 1 {
			return nil, fmt.Errorf("%w: polygon must have exactly one ring, got %d", ErrInvalidGeometry, len(c))
		}
		ring := make(Ring, len(c[0]))
		for i, v := range c[0] {
			ring[i] = Point{Lon: v.Lon(), Lat: v.Lat()}
		}
		return Polygon{Ring: ring}, nil
	case nil:
		return nil, fmt.Errorf("%w: missing coordinates", ErrInvalidGeometry)
	default:
		return nil, fmt.Errorf("%w: unsupported geometry type %q", ErrInvalidGeometry, g.Type)
	}
}

// checkPositions rejects Point and Polygon positions with fewer than two
// numbers. orb decodes positions into fixed-size arrays and zero-fills them.
// A third altitude value is allowed and dropped later.
func checkPositions(data []byte) error {
	var raw struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	if len(raw.Coordinates) == 0 || string(raw.Coordinates) == "null" {
		return nil
	}

	switch raw.Type {
	case "Point":
		var pos []float64
		if err := json.Unmarshal(raw.Coordinates, &pos); err != nil {
			return fmt.Errorf("%w: point coordinates: %v", ErrInvalidGeometry, err)
		}
		if len(pos) < 2 {
			return fmt.Errorf("%w: point position has %d numbers, want at least 2", ErrInvalidGeometry, len(pos))
		}
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(raw.Coordinates, &rings); err != nil {
			return fmt.Errorf("%w: polygon coordinates: %v", ErrInvalidGeometry, err)
		}
		for i, ring := range rings {
			for j, pos := range ring {
				if len(pos) < 2 {
					return fmt.Errorf("%w: ring %d position %d has %d numbers, want at least 2", ErrInvalidGeometry, i, j, len(pos))
				}
			}
		}
	}
	return nil
}

// MarshalGeoJSON encodes g as a GeoJSON geometry object.
func MarshalGeoJSON(g Geometry) ([]byte, error) {
	return geojson.NewGeometry(g.orbGeometry()).MarshalJSON()
}

func (p Polygon) MarshalJSON() ([]byte, error) {
	return MarshalGeoJSON(p)
}

func (p *Polygon) UnmarshalJSON(data []byte) error {
	g, err := ParseGeoJSON(data)
	if err != nil {
		return err
	}
	poly, ok := g.(Polygon)
	if !ok {
		return fmt.Errorf("%w: expected Polygon, got %s", ErrInvalidGeometry, g.GeoJSONType())
	}
	*p = poly
	return nil
}

// Value stores the polygon as GeoJSON text.
func (p Polygon) Value() (driver.Value, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan reads a polygon stored as GeoJSON text.
func (p *Polygon) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return p.UnmarshalJSON([]byte(v))
	case []byte:
		return p.UnmarshalJSON(v)
	case nil:
		return fmt.Errorf("%w: null geometry", ErrInvalidGeometry)
	default:
		return fmt.Errorf("%w: cannot scan %T into Polygon", ErrInvalidGeometry, src)
	}
}
