package coordinator

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/udisondev/botcore/internal/model"
	"github.com/udisondev/botcore/internal/spatial"
)

// DefaultCellSize is the edge of a coordinator grid cell in world units.
const DefaultCellSize = 50

// gridView is one immutable publication of every participant snapshot.
type gridView struct {
	cells   [][]model.PlayerSnapshot
	all     []model.PlayerSnapshot
	index   map[model.GUID]int // into all
	version uint64
	at      int64 // unix ms
}

var emptyView = &gridView{}

// SnapshotGrid publishes participant snapshots over a context's map.
// The writer (main goroutine) builds a complete new view and swaps it in with
// one atomic store; readers load the view once per query and never lock.
type SnapshotGrid struct {
	grid spatial.Grid
	view atomic.Pointer[gridView]
}

// NewSnapshotGrid creates a grid over bounds with cells of about cellSize units.
func NewSnapshotGrid(bounds model.Rect, cellSize float32) *SnapshotGrid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	side := max(bounds.Width(), bounds.Height())
	n := max(1, int(math.Ceil(float64(side/cellSize))))

	g := &SnapshotGrid{grid: spatial.NewGrid(bounds, n, cellSize)}
	g.view.Store(emptyView)
	return g
}

// Grid returns the cell geometry.
func (g *SnapshotGrid) Grid() spatial.Grid {
	return g.grid
}

// Publish replaces the published snapshots. Snapshots outside the bounds are
// still indexed by GUID but belong to no cell. snaps must not be modified afterwards.
func (g *SnapshotGrid) Publish(snaps []model.PlayerSnapshot, nowMs int64) {
	v := &gridView{
		cells:   make([][]model.PlayerSnapshot, g.grid.CellCount()),
		all:     snaps,
		index:   make(map[model.GUID]int, len(snaps)),
		version: g.view.Load().version + 1,
		at:      nowMs,
	}
	for i := range snaps {
		s := &snaps[i]
		v.index[s.GUID] = i
		if cell, ok := g.grid.CellIndex(s.X, s.Y); ok {
			v.cells[cell] = append(v.cells[cell], *s)
		}
	}
	g.view.Store(v)
}

// Version returns the number of publications.
func (g *SnapshotGrid) Version() uint64 {
	return g.view.Load().version
}

// PublishedAt returns the unix ms time of the last publication.
func (g *SnapshotGrid) PublishedAt() int64 {
	return g.view.Load().at
}

// Len returns the number of published snapshots.
func (g *SnapshotGrid) Len() int {
	return len(g.view.Load().all)
}

// Snapshot returns the published snapshot of a participant.
func (g *SnapshotGrid) Snapshot(guid model.GUID) (model.PlayerSnapshot, bool) {
	v := g.view.Load()
	i, ok := v.index[guid]
	if !ok {
		return model.PlayerSnapshot{}, false
	}
	return v.all[i], true
}

// All returns every published snapshot. The slice is shared and read-only.
func (g *SnapshotGrid) All() []model.PlayerSnapshot {
	return g.view.Load().all
}

// Nearby returns alive snapshots within radius of pos accepted by keep, nearest first.
func (g *SnapshotGrid) Nearby(pos model.Position, radius float32, keep func(*model.PlayerSnapshot) bool) []model.PlayerSnapshot {
	if radius <= 0 {
		return nil
	}
	v := g.view.Load()
	r2 := radius * radius

	var out []model.PlayerSnapshot
	var cellBuf [64]int
	for _, cell := range g.grid.CellsInCircle(pos.X, pos.Y, radius, cellBuf[:0]) {
		for i := range v.cells[cell] {
			s := &v.cells[cell][i]
			if !s.IsAlive() || s.DistanceSquaredTo(pos.X, pos.Y, pos.Z) > r2 {
				continue
			}
			if keep == nil || keep(s) {
				out = append(out, *s)
			}
		}
	}
	slices.SortFunc(out, func(a, b model.PlayerSnapshot) int {
		da := a.DistanceSquaredTo(pos.X, pos.Y, pos.Z)
		db := b.DistanceSquaredTo(pos.X, pos.Y, pos.Z)
		switch {
		case da < db, da == db && a.GUID.Less(b.GUID):
			return -1
		case da > db, b.GUID.Less(a.GUID):
			return 1
		}
		return 0
	})
	return out
}

// Nearest returns the closest alive snapshot within radius accepted by keep.
// Cells are scanned in rings around pos; the scan stops as soon as no
// farther ring can hold anything closer.
func (g *SnapshotGrid) Nearest(pos model.Position, radius float32, keep func(*model.PlayerSnapshot) bool) (model.PlayerSnapshot, bool) {
	if radius <= 0 {
		return model.PlayerSnapshot{}, false
	}
	v := g.view.Load()
	center, ok := g.grid.CellIndex(pos.X, pos.Y)
	if !ok {
		return nearestLinear(v.all, pos, radius, keep)
	}

	var (
		best     model.PlayerSnapshot
		bestD2   = radius * radius
		found    bool
		cx, cy   = g.grid.CellXY(center)
		n        = g.grid.CellsPerSide
		cellSize = g.grid.CellSize
	)
	visit := func(x, y int) {
		if x < 0 || y < 0 || x >= n || y >= n {
			return
		}
		cell := v.cells[y*n+x]
		for i := range cell {
			s := &cell[i]
			if !s.IsAlive() || (keep != nil && !keep(s)) {
				continue
			}
			if d2 := s.DistanceSquaredTo(pos.X, pos.Y, pos.Z); d2 <= bestD2 {
				if !found || d2 < bestD2 || s.GUID.Less(best.GUID) {
					best, bestD2, found = *s, d2, true
				}
			}
		}
	}

	for ring := 0; ring < n; ring++ {
		// Everything in this ring is at least (ring-1)*cellSize away.
		if minDist := float32(ring-1) * cellSize; ring > 0 && minDist*minDist > bestD2 {
			break
		}
		if ring == 0 {
			visit(cx, cy)
			continue
		}
		for x := cx - ring; x <= cx+ring; x++ {
			visit(x, cy-ring)
			visit(x, cy+ring)
		}
		for y := cy - ring + 1; y <= cy+ring-1; y++ {
			visit(cx-ring, y)
			visit(cx+ring, y)
		}
	}
	return best, found
}

func nearestLinear(all []model.PlayerSnapshot, pos model.Position, radius float32, keep func(*model.PlayerSnapshot) bool) (model.PlayerSnapshot, bool) {
	var best model.PlayerSnapshot
	bestD2 := radius * radius
	found := false
	for i := range all {
		s := &all[i]
		if !s.IsAlive() || (keep != nil && !keep(s)) {
			continue
		}
		if d2 := s.DistanceSquaredTo(pos.X, pos.Y, pos.Z); d2 < bestD2 || (!found && d2 <= bestD2) {
			best, bestD2, found = *s, d2, true
		}
	}
	return best, found
}

// Filter returns every published snapshot accepted by keep.
func (g *SnapshotGrid) Filter(keep func(*model.PlayerSnapshot) bool) []model.PlayerSnapshot {
	v := g.view.Load()
	var out []model.PlayerSnapshot
	for i := range v.all {
		if keep(&v.all[i]) {
			out = append(out, v.all[i])
		}
	}
	return out
}
