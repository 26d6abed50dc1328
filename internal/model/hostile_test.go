package model

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestHostileEntry_Layout(t *testing.T) {
	assert.Equal(t, uintptr(64), unsafe.Sizeof(HostileEntry{}), "entry must be one cache line")
	assert.Equal(t, uintptr(128), unsafe.Sizeof(PlayerSnapshot{}))
	assert.Equal(t, uintptr(48), unsafe.Sizeof(HostileEvent{}))
}

func TestHostileEntry_Valid(t *testing.T) {
	tests := []struct {
		name  string
		entry HostileEntry
		want  bool
	}{
		{name: "zero", entry: HostileEntry{}, want: false},
		{name: "guid only", entry: HostileEntry{GUID: NewGUID(0, 1)}, want: false},
		{name: "timestamp only", entry: HostileEntry{LastUpdate: 10}, want: false},
		{name: "valid", entry: HostileEntry{GUID: NewGUID(0, 1), LastUpdate: 10}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Valid())
		})
	}
}

func TestCreatureInfo_ToHostileEntry(t *testing.T) {
	c := CreatureInfo{
		GUID:       NewGUID(1, 2),
		Position:   NewPosition(0, 12, 10, 20, 30),
		TemplateID: 99,
		Level:      60,
		InCombat:   true,
		Alive:      true,
	}

	e := c.ToHostileEntry(1000, 7)

	assert.True(t, e.Valid())
	assert.True(t, e.InCombat())
	assert.Equal(t, uint16(7), e.CellIndex)
	assert.Equal(t, uint32(12), e.ZoneID)
	assert.Equal(t, float32(0), e.DistanceSquaredTo(10, 20, 30))
}

func TestHostileEventKind_DefaultPriority(t *testing.T) {
	high := []HostileEventKind{EventSpawn, EventDespawn, EventAggroGained, EventAggroLost, EventCombatStart, EventCombatEnd}
	for _, k := range high {
		ev := HostileEvent{Kind: k, Priority: k.DefaultPriority()}
		assert.True(t, ev.IsHighPriority(), "kind %s", k)
	}

	low := []HostileEventKind{EventPositionUpdate, EventThreatChange}
	for _, k := range low {
		ev := HostileEvent{Kind: k, Priority: k.DefaultPriority()}
		assert.False(t, ev.IsHighPriority(), "kind %s", k)
	}
}

func TestGUID_Less(t *testing.T) {
	assert.True(t, NewGUID(0, 1).Less(NewGUID(0, 2)))
	assert.True(t, NewGUID(0, 9).Less(NewGUID(1, 0)))
	assert.False(t, NewGUID(1, 0).Less(NewGUID(1, 0)))
	assert.True(t, GUID{}.IsZero())
}
