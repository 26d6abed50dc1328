package spatial

import (
	"math"

	"github.com/udisondev/botcore/internal/model"
)

// Grid defaults.
const (
	DefaultCellsPerSide = 16
	DefaultCellSize     = 50.0
)

// Grid maps zone coordinates to cells. The grid is anchored at the zone's
// minimum corner and always covers the whole zone rectangle: the effective
// cell edge is max(minCellSize, longest side / cellsPerSide).
// Value type, immutable after construction.
type Grid struct {
	OriginX      float32
	OriginY      float32
	CellSize     float32
	CellsPerSide int
	Bounds       model.Rect
}

// NewGrid creates grid geometry for a zone.
func NewGrid(bounds model.Rect, cellsPerSide int, minCellSize float32) Grid {
	if cellsPerSide <= 0 {
		cellsPerSide = DefaultCellsPerSide
	}
	if minCellSize <= 0 {
		minCellSize = DefaultCellSize
	}

	side := max(bounds.Width(), bounds.Height())
	cellSize := max(minCellSize, side/float32(cellsPerSide))

	return Grid{
		OriginX:      bounds.MinX,
		OriginY:      bounds.MinY,
		CellSize:     cellSize,
		CellsPerSide: cellsPerSide,
		Bounds:       bounds,
	}
}

// CellCount returns the number of cells (CellsPerSide²).
func (g Grid) CellCount() int {
	return g.CellsPerSide * g.CellsPerSide
}

// Extent returns the world distance covered by one grid side.
func (g Grid) Extent() float32 {
	return g.CellSize * float32(g.CellsPerSide)
}

// CellIndex returns the cell containing (x, y).
// Positions outside the zone rectangle have no cell.
func (g Grid) CellIndex(x, y float32) (int, bool) {
	if !g.Bounds.Contains(x, y) {
		return 0, false
	}
	cx := g.column(x, g.OriginX)
	cy := g.column(y, g.OriginY)
	return cy*g.CellsPerSide + cx, true
}

// CellXY splits a cell index into column and row.
func (g Grid) CellXY(index int) (cx, cy int) {
	return index % g.CellsPerSide, index / g.CellsPerSide
}

// CellRect returns the world rectangle covered by a cell.
func (g Grid) CellRect(index int) model.Rect {
	cx, cy := g.CellXY(index)
	minX := g.OriginX + float32(cx)*g.CellSize
	minY := g.OriginY + float32(cy)*g.CellSize
	return model.Rect{MinX: minX, MinY: minY, MaxX: minX + g.CellSize, MaxY: minY + g.CellSize}
}

// CellsInCircle appends to dst the indices of cells overlapping the circle
// (x, y, r) and returns the extended slice. Cells are visited row by row.
func (g Grid) CellsInCircle(x, y, r float32, dst []int) []int {
	if r <= 0 {
		return dst
	}
	extent := g.Extent()
	if x+r < g.OriginX || y+r < g.OriginY || x-r >= g.OriginX+extent || y-r >= g.OriginY+extent {
		return dst
	}

	minCX := g.column(x-r, g.OriginX)
	maxCX := g.column(x+r, g.OriginX)
	minCY := g.column(y-r, g.OriginY)
	maxCY := g.column(y+r, g.OriginY)
	r2 := r * r

	for cy := minCY; cy <= maxCY; cy++ {
		cellMinY := g.OriginY + float32(cy)*g.CellSize
		dy := axisDistance(y, cellMinY, cellMinY+g.CellSize)
		for cx := minCX; cx <= maxCX; cx++ {
			cellMinX := g.OriginX + float32(cx)*g.CellSize
			dx := axisDistance(x, cellMinX, cellMinX+g.CellSize)
			if dx*dx+dy*dy <= r2 {
				dst = append(dst, cy*g.CellsPerSide+cx)
			}
		}
	}
	return dst
}

// column clamps a coordinate to a cell column/row index.
func (g Grid) column(v, origin float32) int {
	c := int(math.Floor(float64((v - origin) / g.CellSize)))
	if c < 0 {
		return 0
	}
	if c >= g.CellsPerSide {
		return g.CellsPerSide - 1
	}
	return c
}

// axisDistance returns the distance from v to the interval [lo, hi] (0 inside).
func axisDistance(v, lo, hi float32) float32 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}
