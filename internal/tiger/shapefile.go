package tiger

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/openfido/census/internal/boundary"
)

// ParseShapefile reads a TIGER/Line shapefile and returns boundary features.
// Attributes are keyed by the product's column names; records without a
// usable polygon geometry are skipped.
func ParseShapefile(shpPath string, product Product) ([]boundary.Feature, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(name)] = i
	}

	var features []boundary.Feature
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(product.Columns))
		for _, col := range product.Columns {
			idx, ok := fieldIdx[strings.ToUpper(col)]
			if !ok {
				continue
			}
			val := strings.TrimRight(reader.Attribute(idx), "\x00")
			attrs[col] = strings.TrimSpace(val)
		}

		features = append(features, boundary.Feature{Attrs: attrs, Geom: mp})
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("product", product.Name),
			zap.Int("skipped", skipped),
		)
	}

	return features, nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Per the shapefile spec, clockwise rings are exteriors and counter-clockwise
// rings are holes belonging to the preceding exterior.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	// Rings accumulate into locally-owned polygons; mp.Polygon returns a
	// copy, so a polygon is only pushed into the MultiPolygon once all of
	// its holes are attached.
	var polys []*geom.Polygon
	var current *geom.Polygon

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if len(flat) < 8 { // a closed ring needs at least 4 points
			continue
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) <= 0 || current == nil {
			// Exterior ring (shapefiles wind exteriors clockwise, which is
			// a negative signed area in the usual convention).
			poly := geom.NewPolygon(geom.XY)
			if err := poly.Push(ring); err != nil {
				zap.L().Debug("tiger: skipping malformed exterior ring", zap.Int32("part", i), zap.Error(err))
				continue
			}
			polys = append(polys, poly)
			current = poly
			continue
		}

		// Hole in the most recent exterior.
		if err := current.Push(ring); err != nil {
			zap.L().Debug("tiger: skipping malformed hole ring", zap.Int32("part", i), zap.Error(err))
		}
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i, poly := range polys {
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea computes twice the signed area of a flat XY ring. Positive means
// counter-clockwise winding.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		x1, y1 := flat[2*i], flat[2*i+1]
		x2, y2 := flat[2*((i+1)%n)], flat[2*((i+1)%n)+1]
		sum += x1*y2 - x2*y1
	}
	return sum
}
