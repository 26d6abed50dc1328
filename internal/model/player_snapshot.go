package model

// Team identifies a side inside a shared context (battleground faction, LFG group).
type Team uint8

const (
	TeamNone Team = iota
	TeamAlliance
	TeamHorde
)

// String returns human-readable team name.
func (t Team) String() string {
	switch t {
	case TeamAlliance:
		return "ALLIANCE"
	case TeamHorde:
		return "HORDE"
	default:
		return "NONE"
	}
}

// Role is a bot's combat role.
type Role uint8

const (
	RoleDPS Role = iota
	RoleHealer
	RoleTank
)

// String returns human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleTank:
		return "TANK"
	case RoleHealer:
		return "HEALER"
	default:
		return "DPS"
	}
}

// PlayerSnapshot state flags.
const (
	SnapshotAlive uint8 = 1 << iota
	SnapshotInCombat
	SnapshotMoving
	SnapshotMounted
	SnapshotStealthed
)

// Flag carrier bits.
const (
	CarriesAllianceFlag uint8 = 1 << iota
	CarriesHordeFlag
	CarriesNeutralFlag
)

// PlayerSnapshot is an immutable POD view of one participant, published by
// coordinator grids once per tick. Padded to 128 bytes.
type PlayerSnapshot struct {
	GUID          GUID    // 0..16
	Target        GUID    // 16..32
	X             float32 // 32..36
	Y             float32
	Z             float32
	Orientation   float32 // ..48
	Health        uint32
	MaxHealth     uint32
	Power         uint32
	MaxPower      uint32 // ..64
	UpdatedAt     int64  // 64..72 unix ms
	MapID         uint32 // 72..76
	AttackerCount uint16 // 76..78
	Team          Team
	Role          Role // ..80
	Class         uint8
	Flags         uint8
	FlagCarrier   uint8
	_             [45]byte
}

// IsAlive reports the alive flag.
func (s *PlayerSnapshot) IsAlive() bool { return s.Flags&SnapshotAlive != 0 }

// InCombat reports the in-combat flag.
func (s *PlayerSnapshot) InCombat() bool { return s.Flags&SnapshotInCombat != 0 }

// IsMoving reports the moving flag.
func (s *PlayerSnapshot) IsMoving() bool { return s.Flags&SnapshotMoving != 0 }

// IsMounted reports the mounted flag.
func (s *PlayerSnapshot) IsMounted() bool { return s.Flags&SnapshotMounted != 0 }

// IsStealthed reports the stealth flag.
func (s *PlayerSnapshot) IsStealthed() bool { return s.Flags&SnapshotStealthed != 0 }

// IsFlagCarrier reports whether any flag carrier bit is set.
func (s *PlayerSnapshot) IsFlagCarrier() bool { return s.FlagCarrier != 0 }

// HealthPct returns health percentage in [0,100].
func (s *PlayerSnapshot) HealthPct() float32 {
	if s.MaxHealth == 0 {
		return 0
	}
	return float32(s.Health) * 100 / float32(s.MaxHealth)
}

// DistanceSquaredTo returns squared 3D distance to (x, y, z).
func (s *PlayerSnapshot) DistanceSquaredTo(x, y, z float32) float32 {
	dx := s.X - x
	dy := s.Y - y
	dz := s.Z - z
	return dx*dx + dy*dy + dz*dz
}
