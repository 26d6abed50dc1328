package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/model"
	"github.com/udisondev/botcore/internal/world"
)

const (
	bgMap  uint32 = 489
	bgZone uint32 = 3277
)

var bgBounds = model.Rect{MaxX: 1000, MaxY: 1000}

type fixture struct {
	world *world.World
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := world.New()
	w.AddZone(bgZone, bgMap, bgBounds, host.ZoneBattleground)
	return &fixture{world: w, now: time.Unix(1_700_000_000, 0)}
}

func (f *fixture) clock() time.Time {
	return f.now
}

func (f *fixture) player(t *testing.T, x, y float32, team model.Team, role model.Role) *world.Player {
	t.Helper()
	p := world.NewPlayer(f.world, f.world.IDs().NextPlayer(), model.NewPosition(bgMap, bgZone, x, y, 0),
		world.PlayerOptions{Level: 20, Team: team, Role: role})
	f.world.AddPlayer(p)
	return p
}

func (f *fixture) coordinator(t *testing.T, kind Kind, handlers Handlers, players ...*world.Player) *Coordinator {
	t.Helper()
	c := New(Context{ID: 1, Kind: kind, MapID: bgMap, Bounds: bgBounds}, handlers, f.world)
	c.SetClock(f.clock)
	for _, p := range players {
		require.NoError(t, c.AddBot(p.GUID()))
	}
	return c
}

func lows(snaps []model.PlayerSnapshot) []uint64 {
	return guids(snaps)
}

func TestCoordinator_UpdatePublishesSnapshots(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleTank)
	a.SetCombat(true)
	a.SetMounted(true)
	h := f.player(t, 120, 100, model.TeamHorde, model.RoleHealer)

	c := f.coordinator(t, KindBattleground, Handlers{}, a, h)
	require.NoError(t, c.AddBot(model.NewGUID(9, 9)), "unknown bots are accepted")

	c.Update(100 * time.Millisecond)

	assert.Equal(t, 2, c.Grid().Len())
	s, ok := c.Grid().Snapshot(a.GUID())
	require.True(t, ok)
	assert.True(t, s.IsAlive())
	assert.True(t, s.InCombat())
	assert.True(t, s.IsMounted())
	assert.False(t, s.IsStealthed())
	assert.Equal(t, model.TeamAlliance, s.Team)
	assert.Equal(t, model.RoleTank, s.Role)
	assert.Equal(t, bgMap, s.MapID)
	assert.Equal(t, f.now.UnixMilli(), s.UpdatedAt)
	assert.Equal(t, float32(100), s.HealthPct())

	st := c.Stats()
	assert.Equal(t, 3, st.Members)
	assert.Equal(t, uint64(1), st.Updates)
	assert.Equal(t, uint64(1), st.MissingPlayers)
	assert.Equal(t, uint64(1), st.GridVersion)
}

func TestCoordinator_Queries(t *testing.T) {
	f := newFixture(t)
	me := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	ally := f.player(t, 110, 100, model.TeamAlliance, model.RoleHealer)
	farAlly := f.player(t, 400, 100, model.TeamAlliance, model.RoleHealer)
	enemy := f.player(t, 130, 100, model.TeamHorde, model.RoleDPS)
	farEnemy := f.player(t, 200, 100, model.TeamHorde, model.RoleHealer)
	deadEnemy := f.player(t, 105, 100, model.TeamHorde, model.RoleDPS)
	require.NoError(t, deadEnemy.Kill())

	enemy.SetTarget(me.GUID())
	farEnemy.SetTarget(me.GUID())
	ally.SetTarget(enemy.GUID())
	farAlly.SetFlagCarrier(model.CarriesHordeFlag)

	c := f.coordinator(t, KindBattleground, Handlers{}, me, ally, farAlly, enemy, farEnemy, deadEnemy)
	c.Update(0)

	t.Run("nearest enemy skips the dead", func(t *testing.T) {
		got, ok := c.NearestEnemy(me.GUID(), 150)
		require.True(t, ok)
		assert.Equal(t, enemy.GUID(), got.GUID)
	})
	t.Run("nearest enemy out of range", func(t *testing.T) {
		_, ok := c.NearestEnemy(me.GUID(), 20)
		assert.False(t, ok)
	})
	t.Run("nearest enemy of unknown bot", func(t *testing.T) {
		_, ok := c.NearestEnemy(model.NewGUID(9, 9), 1000)
		assert.False(t, ok)
	})
	t.Run("nearby enemies", func(t *testing.T) {
		got := c.NearbyEnemies(me.GUID(), 150)
		assert.Equal(t, []uint64{enemy.GUID().Lo, farEnemy.GUID().Lo}, lows(got))
	})
	t.Run("nearby allies exclude self", func(t *testing.T) {
		got := c.NearbyAllies(me.GUID(), 100)
		assert.Equal(t, []uint64{ally.GUID().Lo}, lows(got))
	})
	t.Run("count by team", func(t *testing.T) {
		assert.Equal(t, map[model.Team]int{model.TeamAlliance: 3, model.TeamHorde: 2}, c.CountByTeam())
	})
	t.Run("healers", func(t *testing.T) {
		assert.ElementsMatch(t, []uint64{ally.GUID().Lo, farAlly.GUID().Lo}, lows(c.Healers(model.TeamAlliance)))
		assert.Equal(t, []uint64{farEnemy.GUID().Lo}, lows(c.Healers(model.TeamHorde)))
		assert.Len(t, c.Healers(model.TeamNone), 3)
	})
	t.Run("players attacking", func(t *testing.T) {
		assert.ElementsMatch(t, []uint64{enemy.GUID().Lo, farEnemy.GUID().Lo}, lows(c.PlayersAttacking(me.GUID())))
		assert.Empty(t, c.PlayersAttacking(model.GUID{}))
	})
	t.Run("flag carriers", func(t *testing.T) {
		assert.Equal(t, []uint64{farAlly.GUID().Lo}, lows(c.FlagCarriers()))
	})
}

func TestCoordinator_QueriesSeeOnlyPublishedState(t *testing.T) {
	f := newFixture(t)
	me := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	enemy := f.player(t, 130, 100, model.TeamHorde, model.RoleDPS)

	c := f.coordinator(t, KindBattleground, Handlers{}, me, enemy)
	c.Update(0)

	enemy.SetPosition(model.NewPosition(bgMap, bgZone, 900, 900, 0))
	_, ok := c.NearestEnemy(me.GUID(), 50)
	assert.True(t, ok, "host changes are invisible until the next update")

	c.Update(0)
	_, ok = c.NearestEnemy(me.GUID(), 50)
	assert.False(t, ok)
}

func TestCoordinator_Membership(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	b := f.player(t, 110, 100, model.TeamAlliance, model.RoleDPS)
	c := f.coordinator(t, KindLFG, Handlers{}, a, b)

	require.NoError(t, c.AddBot(a.GUID()), "re-adding is a no-op")
	assert.Len(t, c.Members(), 2)
	assert.Error(t, c.AddBot(model.GUID{}))

	assert.True(t, c.RemoveBot(a.GUID()))
	assert.False(t, c.RemoveBot(a.GUID()))
	assert.False(t, c.Has(a.GUID()))
	assert.Equal(t, []model.GUID{b.GUID()}, c.Members())

	c.End()
	assert.True(t, c.Ended())
	assert.ErrorIs(t, c.AddBot(a.GUID()), ErrEnded)

	c.Update(0)
	assert.Equal(t, uint64(0), c.Stats().Updates, "ended coordinators do not update")
}

func TestCoordinator_Messaging(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	b := f.player(t, 110, 100, model.TeamAlliance, model.RoleDPS)
	d := f.player(t, 120, 100, model.TeamAlliance, model.RoleDPS)
	c := f.coordinator(t, KindLFG, Handlers{}, a, b, d)

	c.Broadcast(Message{Kind: MsgCustom, From: a.GUID(), Value: 7})
	assert.Empty(t, c.Inbox(a.GUID()), "sender does not receive its broadcast")
	for _, p := range []*world.Player{b, d} {
		msgs := c.Inbox(p.GUID())
		require.Len(t, msgs, 1)
		assert.Equal(t, uint32(7), msgs[0].Value)
		assert.Equal(t, f.now, msgs[0].SentAt)
		assert.True(t, msgs[0].To.IsZero())
	}
	assert.Empty(t, c.Inbox(b.GUID()), "inbox drains")

	require.NoError(t, c.Send(Message{From: a.GUID(), To: b.GUID(), Value: 1}))
	require.NoError(t, c.Send(Message{To: b.GUID(), Value: 2}))
	assert.ErrorIs(t, c.Send(Message{From: a.GUID(), To: model.NewGUID(9, 9)}), ErrNotMember)
	assert.ErrorIs(t, c.Send(Message{From: model.NewGUID(9, 9), To: b.GUID()}), ErrNotMember)

	msgs := c.Inbox(b.GUID())
	require.Len(t, msgs, 2)
	assert.Equal(t, uint32(1), msgs[0].Value)
	assert.Equal(t, uint32(2), msgs[1].Value)
}

func TestCoordinator_InboxCapacity(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	c := f.coordinator(t, KindLFG, Handlers{}, a)

	for i := range InboxCapacity + 5 {
		require.NoError(t, c.Send(Message{To: a.GUID(), Value: uint32(i)}))
	}
	msgs := c.Inbox(a.GUID())
	require.Len(t, msgs, InboxCapacity)
	assert.Equal(t, uint32(0), msgs[0].Value, "oldest messages are kept")
	assert.Equal(t, uint64(5), c.Stats().DroppedInbox)
}

func TestCoordinator_HandlerOrder(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	b := f.player(t, 110, 100, model.TeamAlliance, model.RoleDPS)

	var calls []string
	c := f.coordinator(t, KindLFG, Handlers{
		OnStart: func(c *Coordinator) {
			calls = append(calls, "start")
			assert.Len(t, c.Members(), 2, "handlers may re-enter the coordinator")
		},
		OnUpdate: func(c *Coordinator, diff time.Duration) {
			calls = append(calls, "update:"+diff.String())
		},
		OnMessage: func(c *Coordinator, msg Message) {
			calls = append(calls, "message")
		},
		OnEnd: func(*Coordinator) { calls = append(calls, "end") },
	}, a, b)

	c.Start()
	c.Start()
	c.Broadcast(Message{Kind: MsgCustom}) // from the coordinator itself: not observed
	c.Broadcast(Message{Kind: MsgCustom, From: a.GUID()})
	c.Update(time.Second)
	c.End()
	c.End()

	assert.Equal(t, []string{"start", "message", "update:1s", "end"}, calls)
}

func TestBattlegroundHandlers_FlagCarrierChanges(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	h := f.player(t, 300, 100, model.TeamHorde, model.RoleDPS)
	c := f.coordinator(t, KindBattleground, HandlersFor(KindBattleground), a, h)
	c.Start()

	c.Update(0)
	assert.Empty(t, c.Inbox(a.GUID()))

	h.SetFlagCarrier(model.CarriesAllianceFlag)
	c.Update(0)
	msgs := c.Inbox(a.GUID())
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgFlagCarrier, msgs[0].Kind)
	assert.Equal(t, h.GUID(), msgs[0].Target)
	assert.Equal(t, uint32(model.CarriesAllianceFlag), msgs[0].Value)

	c.Update(0)
	assert.Empty(t, c.Inbox(a.GUID()), "no change, no message")

	require.NoError(t, h.Kill())
	c.Update(0)
	msgs = c.Inbox(a.GUID())
	require.Len(t, msgs, 1, "a dead carrier drops the flag")
	assert.Equal(t, uint32(0), msgs[0].Value)
}

func TestLFGHandlers_FocusTankTarget(t *testing.T) {
	f := newFixture(t)
	tank := f.player(t, 100, 100, model.TeamAlliance, model.RoleTank)
	dps := f.player(t, 110, 100, model.TeamAlliance, model.RoleDPS)
	c := f.coordinator(t, KindLFG, HandlersFor(KindLFG), tank, dps)
	c.Start()

	c.Update(0)
	assert.Empty(t, c.Inbox(dps.GUID()), "no target yet")

	boss := model.NewGUID(2, 1)
	tank.SetTarget(boss)
	c.Update(0)
	msgs := c.Inbox(dps.GUID())
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgFocusTarget, msgs[0].Kind)
	assert.Equal(t, boss, msgs[0].Target)

	c.Update(0)
	assert.Empty(t, c.Inbox(dps.GUID()))
}

func TestGuildEventHandlers_Regroup(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	b := f.player(t, 110, 100, model.TeamAlliance, model.RoleDPS)
	c := f.coordinator(t, KindGuildEvent, HandlersFor(KindGuildEvent), a, b)

	c.Start()
	msgs := c.Inbox(a.GUID())
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgRegroup, msgs[0].Kind)
	assert.Equal(t, float32(500), msgs[0].Position.X)
	assert.Equal(t, float32(500), msgs[0].Position.Y)
	c.Inbox(b.GUID())

	spot := model.NewPosition(bgMap, bgZone, 10, 20, 0)
	c.Broadcast(Message{Kind: MsgRegroup, From: a.GUID(), Position: spot})
	require.Len(t, c.Inbox(b.GUID()), 1)

	c.Update(0)
	msgs = c.Inbox(a.GUID())
	require.Len(t, msgs, 1, "the coordinator relays a participant regroup to everybody")
	assert.Equal(t, spot, msgs[0].Position)
	assert.True(t, msgs[0].From.IsZero())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "BATTLEGROUND", KindBattleground.String())
	assert.Equal(t, "LFG", KindLFG.String())
	assert.Equal(t, "GUILD_EVENT", KindGuildEvent.String())
	assert.Equal(t, "UNKNOWN", Kind(99).String())
}
