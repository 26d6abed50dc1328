package world

import (
	"sync/atomic"

	"github.com/udisondev/botcore/internal/model"
)

// GUID high-half conventions for the in-memory host:
//
//	0: reserved (zero GUID is invalid)
//	1: players and bots
//	2: creatures
//	3: corpses
//	4: spirit healers
const (
	GUIDKindPlayer   uint64 = 1
	GUIDKindCreature uint64 = 2
	GUIDKindCorpse   uint64 = 3
	GUIDKindHealer   uint64 = 4
)

// GUIDGenerator issues unique GUIDs per entity kind.
type GUIDGenerator struct {
	nextPlayer   atomic.Uint64
	nextCreature atomic.Uint64
	nextCorpse   atomic.Uint64
	nextHealer   atomic.Uint64
}

// NewGUIDGenerator creates a generator starting at 1 for every kind.
func NewGUIDGenerator() *GUIDGenerator {
	return &GUIDGenerator{}
}

// NextPlayer returns a fresh player GUID.
func (g *GUIDGenerator) NextPlayer() model.GUID {
	return model.NewGUID(GUIDKindPlayer, g.nextPlayer.Add(1))
}

// NextCreature returns a fresh creature GUID.
func (g *GUIDGenerator) NextCreature() model.GUID {
	return model.NewGUID(GUIDKindCreature, g.nextCreature.Add(1))
}

// NextCorpse returns a fresh corpse GUID.
func (g *GUIDGenerator) NextCorpse() model.GUID {
	return model.NewGUID(GUIDKindCorpse, g.nextCorpse.Add(1))
}

// NextHealer returns a fresh spirit healer GUID.
func (g *GUIDGenerator) NextHealer() model.GUID {
	return model.NewGUID(GUIDKindHealer, g.nextHealer.Add(1))
}
