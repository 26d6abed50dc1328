package model

// HostileEntry flag bits.
const (
	HostileFlagInCombat uint8 = 1 << iota
	HostileFlagElite
	HostileFlagCaster
	HostileFlagFleeing
	HostileFlagTapped
)

// HostileEntryCellNone marks an entry not yet assigned to a cell.
const HostileEntryCellNone uint16 = 0xFFFF

// HostileEntry is one hostile creature as seen by the spatial cache.
// Exactly one cache line (64 bytes). Immutable once published into a cell snapshot.
type HostileEntry struct {
	GUID       GUID    // 0..16
	X          float32 // 16..20
	Y          float32 // 20..24
	Z          float32 // 24..28
	TemplateID uint32  // 28..32
	LastUpdate int64   // 32..40 unix ms
	Level      uint8   // 40
	Rank       uint8   // 41
	Threat     uint8   // 42
	Flags      uint8   // 43
	CellIndex  uint16  // 44..46
	_          [2]byte // 46..48
	ZoneID     uint32  // 48..52
	_          [12]byte
}

// Valid reports guid≠0 ∧ lastUpdate>0.
func (e *HostileEntry) Valid() bool {
	return !e.GUID.IsZero() && e.LastUpdate > 0
}

// InCombat reports whether the in-combat flag is set.
func (e *HostileEntry) InCombat() bool {
	return e.Flags&HostileFlagInCombat != 0
}

// DistanceSquaredTo returns squared 3D distance from the entry to (x, y, z).
func (e *HostileEntry) DistanceSquaredTo(x, y, z float32) float32 {
	dx := e.X - x
	dy := e.Y - y
	dz := e.Z - z
	return dx*dx + dy*dy + dz*dz
}

// CreatureInfo is the authoritative host view of a creature, read by the cache
// worker during rebuilds.
type CreatureInfo struct {
	GUID       GUID
	Position   Position
	TemplateID uint32
	Level      uint8
	Rank       uint8
	Threat     uint8
	InCombat   bool
	Elite      bool
	Alive      bool
}

// ToHostileEntry converts authoritative creature state into a cache entry.
func (c CreatureInfo) ToHostileEntry(nowMs int64, cellIndex uint16) HostileEntry {
	var flags uint8
	if c.InCombat {
		flags |= HostileFlagInCombat
	}
	if c.Elite {
		flags |= HostileFlagElite
	}
	return HostileEntry{
		GUID:       c.GUID,
		X:          c.Position.X,
		Y:          c.Position.Y,
		Z:          c.Position.Z,
		TemplateID: c.TemplateID,
		LastUpdate: nowMs,
		Level:      c.Level,
		Rank:       c.Rank,
		Threat:     c.Threat,
		Flags:      flags,
		CellIndex:  cellIndex,
		ZoneID:     c.Position.ZoneID,
	}
}
