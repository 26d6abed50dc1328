package model

import "math"

// Position is a point in the world together with map and zone identity.
// Value type, passed by value (immutable).
type Position struct {
	MapID       uint32
	ZoneID      uint32
	X           float32
	Y           float32
	Z           float32
	Orientation float32
}

// NewPosition creates Position with zero orientation.
func NewPosition(mapID, zoneID uint32, x, y, z float32) Position {
	return Position{MapID: mapID, ZoneID: zoneID, X: x, Y: y, Z: z}
}

// DistanceSquared returns squared 3D distance (no sqrt for performance).
func (p Position) DistanceSquared(other Position) float32 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Distance returns 3D distance to other.
func (p Position) Distance(other Position) float32 {
	return float32(math.Sqrt(float64(p.DistanceSquared(other))))
}

// Distance2DSquared returns squared planar distance, ignoring Z.
func (p Position) Distance2DSquared(x, y float32) float32 {
	dx := p.X - x
	dy := p.Y - y
	return dx*dx + dy*dy
}

// WithCoordinates returns a copy with new coordinates (immutable pattern).
func (p Position) WithCoordinates(x, y, z float32) Position {
	p.X = x
	p.Y = y
	p.Z = z
	return p
}

// Rect is an axis-aligned bounding rectangle in world units.
type Rect struct {
	MinX float32
	MinY float32
	MaxX float32
	MaxY float32
}

// Width returns X extent.
func (r Rect) Width() float32 {
	return r.MaxX - r.MinX
}

// Height returns Y extent.
func (r Rect) Height() float32 {
	return r.MaxY - r.MinY
}

// Contains reports whether (x, y) lies inside r (max edges exclusive).
func (r Rect) Contains(x, y float32) bool {
	return x >= r.MinX && x < r.MaxX && y >= r.MinY && y < r.MaxY
}

// Diameter returns the length of r's diagonal.
func (r Rect) Diameter() float32 {
	w, h := float64(r.Width()), float64(r.Height())
	return float32(math.Sqrt(w*w + h*h))
}

// WorldLocation is a teleport destination (graveyard, corpse, spirit healer).
type WorldLocation struct {
	MapID uint32
	X     float32
	Y     float32
	Z     float32
}
