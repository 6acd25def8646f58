package boundary

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// square builds a single-ring multipolygon covering [x0,x1] x [y0,y1].
func square(x0, y0, x1, y1 float64) *geom.MultiPolygon {
	return geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{
			{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
		}},
	})
}

func TestLayerLookup_Contains(t *testing.T) {
	layer := NewLayer("state", []string{"STUSPS"}, []Feature{
		{Attrs: map[string]string{"STUSPS": "CO"}, Geom: square(-109, 37, -102, 41)},
		{Attrs: map[string]string{"STUSPS": "WY"}, Geom: square(-111, 41, -104, 45)},
	})

	f := layer.Lookup(-105, 39)
	require.NotNil(t, f)
	assert.Equal(t, "CO", f.Attr("STUSPS"))

	f = layer.Lookup(-108, 43)
	require.NotNil(t, f)
	assert.Equal(t, "WY", f.Attr("STUSPS"))
}

func TestLayerLookup_NoMatch(t *testing.T) {
	layer := NewLayer("state", []string{"STUSPS"}, []Feature{
		{Attrs: map[string]string{"STUSPS": "CO"}, Geom: square(-109, 37, -102, 41)},
	})

	// Inside the layer extent but outside the polygon bbox.
	assert.Nil(t, layer.Lookup(-102.5, 36.5))
	// Outside the layer extent entirely.
	assert.Nil(t, layer.Lookup(0, 0))
}

func TestLayerLookup_Hole(t *testing.T) {
	// Outer square with a hole in the middle.
	donut := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
			{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
		},
	})
	layer := NewLayer("zcta", []string{"ZCTA5CE10"}, []Feature{
		{Attrs: map[string]string{"ZCTA5CE10": "80301"}, Geom: donut},
	})

	require.NotNil(t, layer.Lookup(1, 1))
	assert.Nil(t, layer.Lookup(5, 5), "point inside the hole must not match")
}

func TestLayerLookup_MultiPart(t *testing.T) {
	// Two disjoint islands in one feature, like Hawaii.
	islands := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}},
		{{{10, 10}, {12, 10}, {12, 12}, {10, 12}, {10, 10}}},
	})
	layer := NewLayer("state", []string{"STUSPS"}, []Feature{
		{Attrs: map[string]string{"STUSPS": "HI"}, Geom: islands},
	})

	require.NotNil(t, layer.Lookup(1, 1))
	require.NotNil(t, layer.Lookup(11, 11))
	assert.Nil(t, layer.Lookup(5, 5), "water between islands must not match")
}

func TestLayer_Empty(t *testing.T) {
	layer := NewLayer("state", nil, nil)
	assert.Equal(t, 0, layer.Len())
	assert.Nil(t, layer.Lookup(-105, 39))
}

func TestGridIndex_ManyFeatures(t *testing.T) {
	// A 20x20 checkerboard of unit squares; every probe should resolve to
	// exactly the square it falls in.
	var features []Feature
	for r := 0; r < 20; r++ {
		for c := 0; c < 20; c++ {
			features = append(features, Feature{
				Attrs: map[string]string{"GEOID": fmt.Sprintf("%d-%d", c, r)},
				Geom:  square(float64(c), float64(r), float64(c+1), float64(r+1)),
			})
		}
	}
	layer := NewLayer("grid", []string{"GEOID"}, features)
	require.Equal(t, 400, layer.Len())

	f := layer.Lookup(3.5, 17.5)
	require.NotNil(t, f)
	assert.Equal(t, "3-17", f.Attr("GEOID"))

	f = layer.Lookup(19.5, 0.5)
	require.NotNil(t, f)
	assert.Equal(t, "19-0", f.Attr("GEOID"))

	assert.Nil(t, layer.Lookup(25, 25))
}
