package geo

import "github.com/paulmach/orb"

// ToMulti promotes single-part geometries to their multi-part equivalent.
// Multi-part geometries, collections and nil are returned unchanged.
func ToMulti(g orb.Geometry) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return orb.MultiPoint{v}
	case orb.LineString:
		return orb.MultiLineString{v}
	case orb.Polygon:
		return orb.MultiPolygon{v}
	case orb.Ring:
		return orb.MultiPolygon{orb.Polygon{v}}
	default:
		return g
	}
}

// PromoteToMulti applies ToMulti to every geometry of t in place.
func PromoteToMulti(t *Table) {
	for i, g := range t.Geoms {
		t.Geoms[i] = ToMulti(g)
	}
}
