package coordinator

import (
	"time"

	"github.com/udisondev/botcore/internal/model"
)

// Kind is the bounded context a coordinator serves.
type Kind uint8

const (
	KindBattleground Kind = iota
	KindLFG
	KindGuildEvent
)

// String returns human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindBattleground:
		return "BATTLEGROUND"
	case KindLFG:
		return "LFG"
	case KindGuildEvent:
		return "GUILD_EVENT"
	default:
		return "UNKNOWN"
	}
}

// Handlers is the per-kind behavior table. Nil entries are skipped.
// Handlers run on the main goroutine with the coordinator lock held and may
// call back into the coordinator.
type Handlers struct {
	OnStart   func(c *Coordinator)
	OnUpdate  func(c *Coordinator, diff time.Duration)
	OnEnd     func(c *Coordinator)
	OnMessage func(c *Coordinator, msg Message)
}

// HandlersFor returns the stock handler table of a kind.
func HandlersFor(kind Kind) Handlers {
	switch kind {
	case KindBattleground:
		return battlegroundHandlers()
	case KindLFG:
		return lfgHandlers()
	case KindGuildEvent:
		return guildEventHandlers()
	default:
		return Handlers{}
	}
}

// battlegroundHandlers announce flag pickups and drops to every participant.
func battlegroundHandlers() Handlers {
	carriers := make(map[model.GUID]uint8)
	return Handlers{
		OnUpdate: func(c *Coordinator, _ time.Duration) {
			current := make(map[model.GUID]uint8)
			for _, s := range c.FlagCarriers() {
				current[s.GUID] = s.FlagCarrier
			}
			for guid, bits := range current {
				if carriers[guid] != bits {
					c.Broadcast(Message{Kind: MsgFlagCarrier, Target: guid, Value: uint32(bits)})
				}
			}
			for guid := range carriers {
				if _, ok := current[guid]; !ok {
					c.Broadcast(Message{Kind: MsgFlagCarrier, Target: guid, Value: 0})
				}
			}
			carriers = current
		},
		OnEnd: func(*Coordinator) {
			clear(carriers)
		},
	}
}

// lfgHandlers make the group focus the tank's target.
func lfgHandlers() Handlers {
	var focus model.GUID
	return Handlers{
		OnUpdate: func(c *Coordinator, _ time.Duration) {
			var target model.GUID
			for _, s := range c.Grid().All() {
				if s.Role == model.RoleTank && s.IsAlive() && !s.Target.IsZero() {
					target = s.Target
					break
				}
			}
			if target != focus {
				focus = target
				c.Broadcast(Message{Kind: MsgFocusTarget, Target: target})
			}
		},
	}
}

// guildEventHandlers gather everybody at the center of the event area.
func guildEventHandlers() Handlers {
	return Handlers{
		OnStart: func(c *Coordinator) {
			b := c.Context().Bounds
			c.Broadcast(Message{
				Kind:     MsgRegroup,
				Position: model.NewPosition(c.Context().MapID, 0, (b.MinX+b.MaxX)/2, (b.MinY+b.MaxY)/2, 0),
			})
		},
		OnMessage: func(c *Coordinator, msg Message) {
			if msg.Kind == MsgRegroup && !msg.From.IsZero() {
				c.Broadcast(Message{Kind: MsgRegroup, Position: msg.Position})
			}
		},
	}
}

// MessageKind tags coordinator messages.
type MessageKind uint8

const (
	MsgCustom MessageKind = iota
	MsgFocusTarget
	MsgFlagCarrier
	MsgRegroup
)

// Message is delivered to participant inboxes. A zero To means broadcast;
// a zero From means the coordinator itself.
type Message struct {
	Kind     MessageKind
	From     model.GUID
	To       model.GUID
	Target   model.GUID
	Position model.Position
	Value    uint32
	SentAt   time.Time
}
