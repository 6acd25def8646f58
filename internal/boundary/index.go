package boundary

import "math"

// gridIndex buckets feature bounding boxes into a uniform lng/lat grid so a
// point lookup only tests candidates whose bbox shares the point's cell.
type gridIndex struct {
	extent bbox
	cols   int
	rows   int
	cellW  float64
	cellH  float64
	cells  [][]int // cell -> feature indices
	boxes  []bbox
}

// newGridIndex builds an index over the given features. The grid resolution
// scales with the feature count so dense national layers (ZCTA has ~33k
// polygons) stay cheap to probe.
func newGridIndex(features []Feature) *gridIndex {
	idx := &gridIndex{}
	if len(features) == 0 {
		return idx
	}

	idx.boxes = make([]bbox, len(features))
	ext := featureBBox(&features[0])
	for i := range features {
		b := featureBBox(&features[i])
		idx.boxes[i] = b
		ext.minX = math.Min(ext.minX, b.minX)
		ext.minY = math.Min(ext.minY, b.minY)
		ext.maxX = math.Max(ext.maxX, b.maxX)
		ext.maxY = math.Max(ext.maxY, b.maxY)
	}
	idx.extent = ext

	side := int(math.Ceil(math.Sqrt(float64(len(features)))))
	if side < 1 {
		side = 1
	}
	if side > 512 {
		side = 512
	}
	idx.cols = side
	idx.rows = side
	idx.cellW = (ext.maxX - ext.minX) / float64(side)
	idx.cellH = (ext.maxY - ext.minY) / float64(side)
	if idx.cellW <= 0 {
		idx.cellW = 1
	}
	if idx.cellH <= 0 {
		idx.cellH = 1
	}

	idx.cells = make([][]int, idx.cols*idx.rows)
	for i, b := range idx.boxes {
		c0, r0 := idx.cellOf(b.minX, b.minY)
		c1, r1 := idx.cellOf(b.maxX, b.maxY)
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				cell := r*idx.cols + c
				idx.cells[cell] = append(idx.cells[cell], i)
			}
		}
	}

	return idx
}

// cellOf clamps a coordinate into grid cell indices.
func (g *gridIndex) cellOf(x, y float64) (col, row int) {
	col = int((x - g.extent.minX) / g.cellW)
	row = int((y - g.extent.minY) / g.cellH)
	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// candidates returns indices of features whose bbox may contain the point.
func (g *gridIndex) candidates(x, y float64) []int {
	if len(g.cells) == 0 {
		return nil
	}
	if !g.extent.contains(x, y) {
		return nil
	}
	col, row := g.cellOf(x, y)
	var out []int
	for _, i := range g.cells[row*g.cols+col] {
		if g.boxes[i].contains(x, y) {
			out = append(out, i)
		}
	}
	return out
}
