// Package boundary holds geographic boundary features and answers
// point-in-polygon lookups against them.
package boundary

import (
	"github.com/twpayne/go-geom"
)

// Feature is a single boundary polygon with its TIGER attributes.
type Feature struct {
	Attrs map[string]string
	Geom  *geom.MultiPolygon
}

// Attr returns the named attribute, or "" when absent.
func (f *Feature) Attr(name string) string {
	return f.Attrs[name]
}

// bbox is an axis-aligned bounding box in lng/lat degrees.
type bbox struct {
	minX, minY, maxX, maxY float64
}

func featureBBox(f *Feature) bbox {
	b := f.Geom.Bounds()
	return bbox{
		minX: b.Min(0),
		minY: b.Min(1),
		maxX: b.Max(0),
		maxY: b.Max(1),
	}
}

func (b bbox) contains(x, y float64) bool {
	return x >= b.minX && x <= b.maxX && y >= b.minY && y <= b.maxY
}
