package spatial

import (
	"sync/atomic"

	"github.com/udisondev/botcore/internal/model"
)

// CellSnapshot is an immutable set of hostile entries for one cell.
// IMPORTANT: Entries is never modified after publication. DO NOT modify.
type CellSnapshot struct {
	Entries     []model.HostileEntry
	Version     uint64
	PublishedAt int64 // unix nanos
}

var emptySnapshot = &CellSnapshot{}

// CellCache holds the current snapshot of one cell.
//
// Readers do a single atomic load and must not retain the pointer beyond one
// query. The cell has exactly one writer (the cache worker). A superseded
// snapshot is released to the garbage collector, which frees it only after
// the last in-flight reader dropped its reference.
type CellCache struct {
	snap       atomic.Pointer[CellSnapshot]
	lastUpdate atomic.Int64
	version    atomic.Uint64
}

func (c *CellCache) init() {
	c.snap.Store(emptySnapshot)
}

// Load returns the current snapshot (never nil).
func (c *CellCache) Load() *CellSnapshot {
	return c.snap.Load()
}

// Version returns the number of publications so far.
func (c *CellCache) Version() uint64 {
	return c.version.Load()
}

// LastUpdate returns the unix nano time of the last publication.
func (c *CellCache) LastUpdate() int64 {
	return c.lastUpdate.Load()
}

// publish replaces the snapshot. Takes ownership of entries.
// Returns true if a non-empty snapshot was retired.
func (c *CellCache) publish(entries []model.HostileEntry, nowNanos int64) bool {
	next := &CellSnapshot{
		Entries:     entries,
		Version:     c.version.Add(1),
		PublishedAt: nowNanos,
	}
	prev := c.snap.Swap(next)
	c.lastUpdate.Store(nowNanos)
	return prev != emptySnapshot
}
