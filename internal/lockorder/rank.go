package lockorder

import "fmt"

// Rank fixes a mutex's position in the process-wide acquisition order.
// A goroutine may only acquire a lock whose rank is strictly greater than
// every rank it already holds.
type Rank int32

// Layer bases. Gaps between layers leave room for in-layer refinement.
const (
	LayerInfrastructure Rank = 1000
	LayerCoreData       Rank = 2000
	LayerSession        Rank = 3000
	LayerBotLifecycle   Rank = 4000
	LayerAI             Rank = 5000
	LayerCombat         Rank = 6000
	LayerGroup          Rank = 7000
	LayerMovement       Rank = 8000
	LayerGameSystems    Rank = 9000
	LayerDatabase       Rank = 10000
	LayerExternalHost   Rank = 11000
)

// Every mutex in the process. Values must not collide (checked at init).
const (
	RankEventBusSubscriptions Rank = LayerInfrastructure + 100

	RankSpatialZoneMap    Rank = LayerCoreData
	RankSpatialLocalCache Rank = LayerCoreData + 100
	RankQueryMetrics      Rank = LayerCoreData + 200
	RankQueryBatch        Rank = LayerCoreData + 300

	RankBotRegistry           Rank = LayerBotLifecycle
	RankDeathRecoveryRegistry Rank = LayerBotLifecycle + 50
	RankDeathRecoveryState    Rank = LayerBotLifecycle + 100
	RankResurrection          Rank = LayerBotLifecycle + 150

	RankBotController Rank = LayerAI

	RankCoordinatorManager  Rank = LayerGroup
	RankCoordinatorPending  Rank = LayerGroup + 50
	RankCoordinatorInstance Rank = LayerGroup + 100
	RankCoordinatorInbox    Rank = LayerGroup + 200

	RankCorpseLocations Rank = LayerGameSystems
	RankCorpseTrackers  Rank = LayerGameSystems + 100

	RankStatsFlush Rank = LayerDatabase

	RankHostMainQueue Rank = LayerExternalHost
	RankHostWorld     Rank = LayerExternalHost + 100
	RankHostPlayer    Rank = LayerExternalHost + 200
)

var rankNames = map[Rank]string{}

func init() {
	named := []struct {
		rank Rank
		name string
	}{
		{RankEventBusSubscriptions, "EventBusSubscriptions"},
		{RankSpatialZoneMap, "SpatialZoneMap"},
		{RankSpatialLocalCache, "SpatialLocalCache"},
		{RankQueryMetrics, "QueryMetrics"},
		{RankQueryBatch, "QueryBatch"},
		{RankBotRegistry, "BotRegistry"},
		{RankDeathRecoveryRegistry, "DeathRecoveryRegistry"},
		{RankDeathRecoveryState, "DeathRecoveryState"},
		{RankResurrection, "Resurrection"},
		{RankBotController, "BotController"},
		{RankCoordinatorManager, "CoordinatorManager"},
		{RankCoordinatorPending, "CoordinatorPending"},
		{RankCoordinatorInstance, "CoordinatorInstance"},
		{RankCoordinatorInbox, "CoordinatorInbox"},
		{RankCorpseLocations, "CorpseLocations"},
		{RankCorpseTrackers, "CorpseTrackers"},
		{RankStatsFlush, "StatsFlush"},
		{RankHostMainQueue, "HostMainQueue"},
		{RankHostWorld, "HostWorld"},
		{RankHostPlayer, "HostPlayer"},
	}
	for _, n := range named {
		if prev, dup := rankNames[n.rank]; dup {
			panic(fmt.Sprintf("lockorder: rank %d assigned to both %s and %s", n.rank, prev, n.name))
		}
		rankNames[n.rank] = n.name
	}
}

// Layer returns the layer base the rank belongs to.
func (r Rank) Layer() Rank {
	return r / 1000 * 1000
}

// String returns the registered name, or the numeric rank for ad-hoc ranks.
func (r Rank) String() string {
	if name, ok := rankNames[r]; ok {
		return fmt.Sprintf("%s(%d)", name, int32(r))
	}
	return fmt.Sprintf("Rank(%d)", int32(r))
}
