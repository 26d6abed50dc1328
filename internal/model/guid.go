package model

import "fmt"

// GUID is an opaque 16-byte entity identity issued by the host server.
// Value type; the zero GUID never identifies a live entity.
type GUID struct {
	Hi uint64
	Lo uint64
}

// NewGUID builds a GUID from its two halves.
func NewGUID(hi, lo uint64) GUID {
	return GUID{Hi: hi, Lo: lo}
}

// IsZero reports whether g is the empty GUID.
func (g GUID) IsZero() bool {
	return g.Hi == 0 && g.Lo == 0
}

// Less orders GUIDs (Hi first, then Lo). Used for stable result ordering.
func (g GUID) Less(other GUID) bool {
	if g.Hi != other.Hi {
		return g.Hi < other.Hi
	}
	return g.Lo < other.Lo
}

// String returns hex form "hi:lo".
func (g GUID) String() string {
	return fmt.Sprintf("%016x:%016x", g.Hi, g.Lo)
}
