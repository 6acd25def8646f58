package boundary

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Layer is an indexed set of boundary features for one TIGER product.
type Layer struct {
	Name     string
	Columns  []string // attribute schema, in product order
	features []Feature
	index    *gridIndex
}

// NewLayer builds an indexed layer from features.
func NewLayer(name string, columns []string, features []Feature) *Layer {
	return &Layer{
		Name:     name,
		Columns:  columns,
		features: features,
		index:    newGridIndex(features),
	}
}

// Len returns the number of features in the layer.
func (l *Layer) Len() int {
	return len(l.features)
}

// Lookup returns the feature containing the point, or nil when no polygon in
// the layer contains it. Boundary layers are disjoint, so the first match wins.
func (l *Layer) Lookup(lng, lat float64) *Feature {
	for _, i := range l.index.candidates(lng, lat) {
		if multiPolygonContains(l.features[i].Geom, lng, lat) {
			return &l.features[i]
		}
	}
	return nil
}

// multiPolygonContains tests exact containment: inside an exterior ring and
// outside every hole of the same polygon.
func multiPolygonContains(mp *geom.MultiPolygon, lng, lat float64) bool {
	pt := geom.Coord{lng, lat}
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(poly.Layout(), pt, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for j := 1; j < poly.NumLinearRings(); j++ {
			if xy.IsPointInRing(poly.Layout(), pt, poly.LinearRing(j).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}
