package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsSnapshot is one persisted sample of the core's counters.
type StatsSnapshot struct {
	ID                 int64
	TakenAt            time.Time
	Bots               int
	Coordinators       int
	Zones              int
	Hostiles           int
	EventsPublished    uint64
	EventsDropped      uint64
	QueriesExecuted    uint64
	QueriesThrottled   uint64
	LocalCacheHits     uint64
	CorpsesPrevented   uint64
	CorpsesTracked     uint64
	Deaths             uint64
	Resurrections      uint64
	PotentialDeadlocks int64
}

// StatsRepository stores statistics snapshots in PostgreSQL.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new statistics repository.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// Save inserts s and returns its row id. A zero TakenAt is stamped with the current time.
func (r *StatsRepository) Save(ctx context.Context, s StatsSnapshot) (int64, error) {
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO stats_snapshots (
			taken_at, bots, coordinators, zones, hostiles,
			events_published, events_dropped, queries_executed, queries_throttled, local_cache_hits,
			corpses_prevented, corpses_tracked, deaths, resurrections, potential_deadlocks)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		s.TakenAt, s.Bots, s.Coordinators, s.Zones, s.Hostiles,
		int64(s.EventsPublished), int64(s.EventsDropped), int64(s.QueriesExecuted), int64(s.QueriesThrottled), int64(s.LocalCacheHits),
		int64(s.CorpsesPrevented), int64(s.CorpsesTracked), int64(s.Deaths), int64(s.Resurrections), s.PotentialDeadlocks,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving stats snapshot: %w", err)
	}
	return id, nil
}

// Recent returns up to limit snapshots, newest first.
func (r *StatsRepository) Recent(ctx context.Context, limit int) ([]StatsSnapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, taken_at, bots, coordinators, zones, hostiles,
		        events_published, events_dropped, queries_executed, queries_throttled, local_cache_hits,
		        corpses_prevented, corpses_tracked, deaths, resurrections, potential_deadlocks
		 FROM stats_snapshots
		 ORDER BY taken_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent stats snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]StatsSnapshot, 0, limit)
	for rows.Next() {
		var (
			s                                                  StatsSnapshot
			published, dropped, executed, throttled, localHits int64
			prevented, tracked, deaths, resurrections          int64
		)
		if err := rows.Scan(&s.ID, &s.TakenAt, &s.Bots, &s.Coordinators, &s.Zones, &s.Hostiles,
			&published, &dropped, &executed, &throttled, &localHits,
			&prevented, &tracked, &deaths, &resurrections, &s.PotentialDeadlocks); err != nil {
			return nil, fmt.Errorf("scanning stats snapshot row: %w", err)
		}
		s.EventsPublished = uint64(published)
		s.EventsDropped = uint64(dropped)
		s.QueriesExecuted = uint64(executed)
		s.QueriesThrottled = uint64(throttled)
		s.LocalCacheHits = uint64(localHits)
		s.CorpsesPrevented = uint64(prevented)
		s.CorpsesTracked = uint64(tracked)
		s.Deaths = uint64(deaths)
		s.Resurrections = uint64(resurrections)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats snapshot rows: %w", err)
	}
	return out, nil
}
