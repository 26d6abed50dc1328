package world

import (
	"testing"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/model"
)

func benchWorld(b *testing.B, creatures int) (*World, []model.GUID) {
	b.Helper()
	w := New()
	w.AddZone(testZone, testMap, model.Rect{MaxX: 800, MaxY: 800}, host.ZoneOpenWorld)
	guids := make([]model.GUID, creatures)
	for i := range guids {
		guids[i] = w.IDs().NextCreature()
		if err := w.SpawnCreature(model.CreatureInfo{
			GUID:     guids[i],
			Position: model.NewPosition(testMap, testZone, float32(i%800), float32(i/800%800), 0),
			Level:    10,
		}); err != nil {
			b.Fatal(err)
		}
	}
	return w, guids
}

// BenchmarkWorld_ResolveCreature measures the sync.Map lookup used by the cache worker.
func BenchmarkWorld_ResolveCreature(b *testing.B) {
	w, guids := benchWorld(b, 1000)

	b.ResetTimer()
	b.ReportAllocs()
	for i := range b.N {
		_, _ = w.ResolveCreature(guids[i%len(guids)])
	}
}

func BenchmarkWorld_ResolveCreature_Miss(b *testing.B) {
	w, _ := benchWorld(b, 1000)
	missing := model.NewGUID(0xdead, 0xbeef)

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_, _ = w.ResolveCreature(missing)
	}
}

func BenchmarkWorld_ResolveCreature_Parallel(b *testing.B) {
	w, guids := benchWorld(b, 1000)

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = w.ResolveCreature(guids[i%len(guids)])
			i++
		}
	})
}

// BenchmarkWorld_PlayerState measures the coordinator snapshot read path.
func BenchmarkWorld_PlayerState(b *testing.B) {
	w := New()
	w.AddZone(testZone, testMap, model.Rect{MaxX: 800, MaxY: 800}, host.ZoneOpenWorld)
	p := NewPlayer(w, w.IDs().NextPlayer(), model.NewPosition(testMap, testZone, 10, 10, 0), PlayerOptions{Level: 10})
	w.AddPlayer(p)
	guid := p.GUID()

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_, _ = w.PlayerState(guid)
	}
}
