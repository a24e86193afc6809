package geo

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// boundaryTolerance is the angular distance (about 6 micrometres on the
// ground) under which a point counts as lying on an edge.
const boundaryTolerance = s1.Angle(1e-12)

// Shape is a polygon prepared for repeated predicate evaluation. The
// repository keeps one per stored region so queries never rebuild loops.
type Shape struct {
	polygon  Polygon
	vertices []s2.Point
	loop     *s2.Loop
	bound    s2.Rect
}

// Prepare converts poly to unit-sphere form. The ring may be wound either
// way: the interior is always the smaller of the two areas the ring
// separates. Rings with fewer than three distinct vertices contain only
// their boundary.
func Prepare(poly Polygon) *Shape {
	s := &Shape{polygon: poly}

	ring := poly.Ring
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		ring = ring[:n-1]
	}
	for _, p := range ring {
		v := p.s2Point()
		if k := len(s.vertices); k > 0 && s.vertices[k-1] == v {
			continue
		}
		s.vertices = append(s.vertices, v)
	}
	if k := len(s.vertices); k > 1 && s.vertices[k-1] == s.vertices[0] {
		s.vertices = s.vertices[:k-1]
	}

	if len(s.vertices) >= 3 {
		// LoopFromPoints keeps the slice and Normalize may reverse it.
		pts := make([]s2.Point, len(s.vertices))
		copy(pts, s.vertices)
		s.loop = s2.LoopFromPoints(pts)
		s.loop.Normalize()
		s.bound = s.loop.RectBound()
		return s
	}

	bounder := s2.NewRectBounder()
	for _, v := range s.vertices {
		bounder.AddPoint(v)
	}
	s.bound = bounder.RectBound()
	return s
}

// Polygon returns the polygon the shape was prepared from.
func (s *Shape) Polygon() Polygon {
	return s.polygon
}

// Bound returns the lon/lat rectangle enclosing the shape.
func (s *Shape) Bound() s2.Rect {
	return s.bound
}

// ContainsPoint reports whether pt is inside the shape or on its boundary.
func (s *Shape) ContainsPoint(pt Point) bool {
	return s.contains(pt.s2Point())
}

func (s *Shape) contains(p s2.Point) bool {
	if s.onBoundary(p) {
		return true
	}
	return s.loop != nil && s.loop.ContainsPoint(p)
}

func (s *Shape) onBoundary(p s2.Point) bool {
	n := len(s.vertices)
	switch n {
	case 0:
		return false
	case 1:
		return s.vertices[0].Distance(p) <= boundaryTolerance
	}
	for i := 0; i < n; i++ {
		a, b := s.vertices[i], s.vertices[(i+1)%n]
		if s2.DistanceFromSegment(p, a, b) <= boundaryTolerance {
			return true
		}
	}
	return false
}

// Intersects reports whether the two shapes share any boundary or interior
// point: a vertex of either lies in the other, or two edges cross.
func (s *Shape) Intersects(o *Shape) bool {
	if !s.bound.Intersects(o.bound) {
		return false
	}
	for _, v := range s.vertices {
		if o.contains(v) {
			return true
		}
	}
	for _, v := range o.vertices {
		if s.contains(v) {
			return true
		}
	}

	n, m := len(s.vertices), len(o.vertices)
	if n < 2 || m < 2 {
		return false
	}
	for i := 0; i < n; i++ {
		a0, a1 := s.vertices[i], s.vertices[(i+1)%n]
		for j := 0; j < m; j++ {
			b0, b1 := o.vertices[j], o.vertices[(j+1)%m]
			if s2.CrossingSign(a0, a1, b0, b1) == s2.Cross {
				return true
			}
		}
	}
	return false
}

// WithinRadius applies PolygonWithinRadius to the shape's polygon.
func (s *Shape) WithinRadius(center Point, radiusKm float64) bool {
	return PolygonWithinRadius(s.polygon, center, radiusKm)
}
