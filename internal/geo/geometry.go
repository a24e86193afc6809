// Package geo implements the spherical geometry used by the region store:
// ring validation, point-in-polygon, polygon intersection and great-circle
// distance. Coordinates are longitude/latitude degrees on the WGS84 sphere;
// every predicate works on unit-sphere vectors, never on a flat plane.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used by every distance calculation.
const EarthRadiusKm = 6371.0

// minRingPositions is the smallest closed ring: a triangle plus its closing position.
const minRingPositions = 4

var ErrInvalidGeometry = errors.New("invalid geometry")

// Point is a longitude/latitude pair in degrees.
type Point struct {
	Lon float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

// Valid reports whether both coordinates are finite and inside the
// geographic range.
func (p Point) Valid() bool {
	return p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

func (p Point) s2Point() s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
}

// Ring is a closed sequence of positions: the first and last are identical.
type Ring []Point

// Polygon is a simple polygon made of a single outer ring.
type Polygon struct {
	Ring Ring
}

// Clone returns a deep copy so callers cannot mutate shared coordinates.
func (p Polygon) Clone() Polygon {
	if p.Ring == nil {
		return Polygon{}
	}
	ring := make(Ring, len(p.Ring))
	copy(ring, p.Ring)
	return Polygon{Ring: ring}
}

// Validate checks the polygon's ring, see ValidateRing.
func (p Polygon) Validate() error {
	return ValidateRing(p.Ring)
}

// ValidateRing fails with ErrInvalidGeometry when the ring has fewer than
// four positions, is not closed, or holds a coordinate out of range.
func ValidateRing(ring Ring) error {
	if len(ring) < minRingPositions {
		return fmt.Errorf("%w: ring has %d positions, at least %d required", ErrInvalidGeometry, len(ring), minRingPositions)
	}
	for i, p := range ring {
		if !p.Valid() {
			return fmt.Errorf("%w: position %d (%v, %v) is out of range", ErrInvalidGeometry, i, p.Lon, p.Lat)
		}
	}
	if ring[0] != ring[len(ring)-1] {
		return fmt.Errorf("%w: ring is not closed", ErrInvalidGeometry)
	}
	return nil
}

// PointInPolygon reports whether pt lies inside poly or on its boundary.
func PointInPolygon(pt Point, poly Polygon) bool {
	return Prepare(poly).ContainsPoint(pt)
}

// PolygonsIntersect reports whether a and b share any boundary or interior point.
func PolygonsIntersect(a, b Polygon) bool {
	return Prepare(a).Intersects(Prepare(b))
}

// HaversineDistance returns the great-circle distance between p1 and p2 in kilometres.
func HaversineDistance(p1, p2 Point) float64 {
	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	dLat := (p2.Lat - p1.Lat) * math.Pi / 180
	dLon := (p2.Lon - p1.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// PointWithinRadius reports whether pt is at most radiusKm from center.
func PointWithinRadius(pt, center Point, radiusKm float64) bool {
	return HaversineDistance(pt, center) <= radiusKm
}

// PolygonWithinRadius reports whether any vertex of poly lies within
// radiusKm of center. A polygon that overlaps the disk without having a
// vertex inside it does not match: the test is vertex based, not an exact
// polygon/cap intersection.
func PolygonWithinRadius(poly Polygon, center Point, radiusKm float64) bool {
	for _, v := range poly.Ring {
		if PointWithinRadius(v, center, radiusKm) {
			return true
		}
	}
	return false
}

// Bound returns the longitude/latitude rectangle enclosing poly, including
// the poleward bulge of its great-circle edges.
func Bound(poly Polygon) s2.Rect {
	return Prepare(poly).Bound()
}

// PointBound returns the degenerate rectangle holding only pt.
func PointBound(pt Point) s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(pt.Lat, pt.Lon))
}

// RadiusBound returns the rectangle enclosing the spherical cap of
// radiusKm around center. Caps reaching a pole span every longitude.
func RadiusBound(center Point, radiusKm float64) s2.Rect {
	angle := s1.Angle(radiusKm / EarthRadiusKm)
	return s2.CapFromCenterAngle(center.s2Point(), angle).RectBound()
}
