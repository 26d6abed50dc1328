package engine

import (
	"github.com/udisondev/botcore/internal/db"
	"github.com/udisondev/botcore/internal/lockorder"
)

// Snapshot collects the counters of every component into one record.
func (e *Engine) Snapshot() db.StatsSnapshot {
	cache := e.Cache.Stats()
	bus := e.Bus.Stats()
	opt := e.Optimizer.Stats()
	corpses := e.Corpses.Stats()
	recovery := e.Recovery.Stats()

	return db.StatsSnapshot{
		TakenAt:            e.now(),
		Bots:               e.Scheduler.Count(),
		Coordinators:       e.Coordinators.Stats().Active,
		Zones:              cache.Zones,
		Hostiles:           cache.TotalHostiles,
		EventsPublished:    bus.Published,
		EventsDropped:      bus.Dropped,
		QueriesExecuted:    opt.Executed,
		QueriesThrottled:   opt.Throttle.Throttled,
		LocalCacheHits:     opt.LocalHits,
		CorpsesPrevented:   corpses.PreventedCorpses,
		CorpsesTracked:     corpses.TrackedCorpses,
		Deaths:             recovery.Deaths,
		Resurrections:      recovery.Resurrections(),
		PotentialDeadlocks: lockorder.PotentialDeadlocks(),
	}
}
