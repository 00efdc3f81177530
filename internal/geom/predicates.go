// Package geom provides the spatial predicates used to derive concern layers.
//
// All functions are pure and operate on paulmach/orb coordinate types.
// Results never depend on ring winding order: upstream open-data feeds mix
// clockwise and counter-clockwise rings freely.
package geom

import (
	"github.com/paulmach/orb"
)

// PointInRing reports whether p lies inside ring using even-odd ray casting.
// Rings do not need to be closed; the last-to-first edge is implied.
// Degenerate rings (fewer than 3 points) contain nothing.
func PointInRing(p orb.Point, ring orb.Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}

	x, y := p[0], p[1]
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) {
			cross := (xj-xi)*(y-yi)/(yj-yi) + xi
			if x < cross {
				inside = !inside
			}
		}
	}
	return inside
}

// PointInPolygon reports whether p is inside the outer ring of poly and
// outside all of its holes.
func PointInPolygon(p orb.Point, poly orb.Polygon) bool {
	if len(poly) == 0 || !PointInRing(p, poly[0]) {
		return false
	}
	for _, hole := range poly[1:] {
		if PointInRing(p, hole) {
			return false
		}
	}
	return true
}

// LineIntersectsPolygon reports whether any segment of line crosses an edge
// of the polygon's outer ring, or any vertex of line lies inside the polygon.
// The second check catches lines that sit entirely within the polygon.
func LineIntersectsPolygon(line orb.LineString, poly orb.Polygon) bool {
	if len(line) == 0 || len(poly) == 0 {
		return false
	}
	outer := poly[0]
	if len(outer) < 3 {
		return false
	}

	if len(line) >= 2 {
		n := len(outer)
		for i := 0; i+1 < len(line); i++ {
			a, b := line[i], line[i+1]
			for k := 0; k < n; k++ {
				c, d := outer[k], outer[(k+1)%n]
				if SegmentsIntersect(a, b, c, d) {
					return true
				}
			}
		}
	}

	for _, p := range line {
		if PointInPolygon(p, poly) {
			return true
		}
	}
	return false
}

// SegmentsIntersect reports whether segment ab touches or crosses segment cd.
func SegmentsIntersect(a, b, c, d orb.Point) bool {
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)

	if o1 != o2 && o3 != o4 {
		return true
	}

	// collinear cases
	if o1 == 0 && onSegment(a, c, b) {
		return true
	}
	if o2 == 0 && onSegment(a, d, b) {
		return true
	}
	if o3 == 0 && onSegment(c, a, d) {
		return true
	}
	if o4 == 0 && onSegment(c, b, d) {
		return true
	}
	return false
}

// orientation returns 0 for collinear, 1 for clockwise, 2 for counter-clockwise.
func orientation(p, q, r orb.Point) int {
	v := (q[1]-p[1])*(r[0]-q[0]) - (q[0]-p[0])*(r[1]-q[1])
	switch {
	case v == 0:
		return 0
	case v > 0:
		return 1
	default:
		return 2
	}
}

// onSegment reports whether q lies on segment pr, given p, q, r are collinear.
func onSegment(p, q, r orb.Point) bool {
	return q[0] <= max(p[0], r[0]) && q[0] >= min(p[0], r[0]) &&
		q[1] <= max(p[1], r[1]) && q[1] >= min(p[1], r[1])
}
