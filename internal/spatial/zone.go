package spatial

import (
	"sync/atomic"

	"github.com/udisondev/botcore/internal/model"
)

// ZoneCache is the per-zone cell grid.
type ZoneCache struct {
	id    uint32
	grid  Grid
	cells []CellCache

	total          atomic.Int32
	lastFullUpdate atomic.Int64 // unix nanos, 0 = never rebuilt
	lastQuery      atomic.Int64 // unix nanos
	created        int64

	// dirty is set by staged events; urgent by high-priority ones.
	dirty     atomic.Bool
	urgent    atomic.Bool
	scheduled atomic.Bool

	// staging is owned by the worker goroutine: last staged event per hostile
	// since the previous rebuild.
	staging map[model.GUID]model.HostileEvent
}

func newZoneCache(id uint32, grid Grid, nowNanos int64) *ZoneCache {
	z := &ZoneCache{
		id:      id,
		grid:    grid,
		cells:   make([]CellCache, grid.CellCount()),
		created: nowNanos,
		staging: make(map[model.GUID]model.HostileEvent),
	}
	for i := range z.cells {
		z.cells[i].init()
	}
	return z
}

// ID returns the zone id.
func (z *ZoneCache) ID() uint32 {
	return z.id
}

// Grid returns the zone's cell geometry.
func (z *ZoneCache) Grid() Grid {
	return z.grid
}

// Cell returns the cell cache at index.
func (z *ZoneCache) Cell(index int) *CellCache {
	return &z.cells[index]
}

// Total returns the number of hostiles published by the last rebuild.
func (z *ZoneCache) Total() int {
	return int(z.total.Load())
}

// LastFullUpdate returns the unix nano time of the last rebuild (0 = never).
func (z *ZoneCache) LastFullUpdate() int64 {
	return z.lastFullUpdate.Load()
}

// LastQuery returns the unix nano time of the last query (0 = never).
func (z *ZoneCache) LastQuery() int64 {
	return z.lastQuery.Load()
}

// stage records an event for the next rebuild. Worker goroutine only.
func (z *ZoneCache) stage(ev model.HostileEvent) {
	z.staging[ev.Hostile] = ev
	z.dirty.Store(true)
	if ev.IsHighPriority() {
		z.urgent.Store(true)
	}
}

// stagedCount returns the number of hostiles with staged events. Worker goroutine only.
func (z *ZoneCache) stagedCount() int {
	return len(z.staging)
}

// isStale reports now − lastFullUpdate > interval.
func (z *ZoneCache) isStale(nowNanos, intervalNanos int64) bool {
	last := z.lastFullUpdate.Load()
	return last == 0 || nowNanos-last > intervalNanos
}

// hasTraffic reports a query or a staged event within window.
func (z *ZoneCache) hasTraffic(nowNanos, windowNanos int64) bool {
	if z.dirty.Load() {
		return true
	}
	last := z.lastQuery.Load()
	return last != 0 && nowNanos-last <= windowNanos
}
