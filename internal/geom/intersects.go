package geom

import (
	"github.com/paulmach/orb"
)

// Intersects reports whether feature geometry a touches hazard geometry b.
//
// Only the combinations that occur in municipal layers are evaluated
// exactly: points, lines and polygons against polygons. Any other pairing
// (for example line against line) is reported as not intersecting.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}

	polys := polygons(b)
	if len(polys) == 0 {
		// hazard is not areal; try the symmetric case
		if p := polygons(a); len(p) > 0 {
			return Intersects(b, a)
		}
		return false
	}

	for _, poly := range polys {
		if intersectsPolygon(a, poly) {
			return true
		}
	}
	return false
}

func intersectsPolygon(g orb.Geometry, poly orb.Polygon) bool {
	switch v := g.(type) {
	case orb.Point:
		return PointInPolygon(v, poly)
	case orb.MultiPoint:
		for _, p := range v {
			if PointInPolygon(p, poly) {
				return true
			}
		}
	case orb.LineString:
		return LineIntersectsPolygon(v, poly)
	case orb.MultiLineString:
		for _, ls := range v {
			if LineIntersectsPolygon(ls, poly) {
				return true
			}
		}
	case orb.Ring:
		return LineIntersectsPolygon(orb.LineString(v), poly) || ringContainsAny(v, poly)
	case orb.Polygon:
		return polygonsIntersect(v, poly)
	case orb.MultiPolygon:
		for _, p := range v {
			if polygonsIntersect(p, poly) {
				return true
			}
		}
	case orb.Bound:
		return polygonsIntersect(v.ToPolygon(), poly)
	}
	return false
}

// polygonsIntersect treats a's outer ring as a closed line against b, then
// checks whether b sits fully inside a.
func polygonsIntersect(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	outer := closed(a[0])
	if LineIntersectsPolygon(orb.LineString(outer), b) {
		return true
	}
	return ringContainsAny(a[0], b)
}

func ringContainsAny(ring orb.Ring, poly orb.Polygon) bool {
	if len(poly) == 0 {
		return false
	}
	for _, p := range poly[0] {
		if PointInRing(p, ring) {
			return true
		}
	}
	return false
}

func closed(r orb.Ring) orb.Ring {
	if len(r) == 0 || r[0] == r[len(r)-1] {
		return r
	}
	out := make(orb.Ring, len(r), len(r)+1)
	copy(out, r)
	return append(out, r[0])
}

func polygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	case orb.Ring:
		return []orb.Polygon{{v}}
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}
	case orb.Collection:
		var out []orb.Polygon
		for _, c := range v {
			out = append(out, polygons(c)...)
		}
		return out
	}
	return nil
}
