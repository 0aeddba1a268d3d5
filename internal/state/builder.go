package state

import (
	"time"

	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/groups"
	"tacbridge.ai/internal/ids"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
)

const (
	DefaultMapName = "Unknown"
	DefaultWeather = "CLEAR"
	FullHealth     = 100.0
)

type GroupSource interface {
	SerializeAll() []protocol.GroupObs
}

type MissionSource interface {
	SerializeActive() []protocol.MissionObs
}

type EventSource interface {
	DrainAll() []events.Event
}

// Builder composes one STATE document per call. It must run on the loop
// that owns the registries.
type Builder struct {
	Session  *Session
	World    sim.World
	Groups   GroupSource
	Missions MissionSource
	Events   EventSource

	// MapName overrides World.MapName when set.
	MapName  string
	GameMode string
	// Clock returns seconds since process start.
	Clock func() float64
}

func NewBuilder(s *Session, w sim.World, g GroupSource, m MissionSource, e EventSource) *Builder {
	start := time.Now()
	return &Builder{
		Session:  s,
		World:    w,
		Groups:   g,
		Missions: m,
		Events:   e,
		GameMode: protocol.GameModeGameMaster,
		Clock:    func() float64 { return time.Since(start).Seconds() },
	}
}

// Build advances the session tick and then snapshots the world. Events are
// drained exactly once.
func (b *Builder) Build() protocol.StateMsg {
	b.Session.Tick++

	msg := protocol.StateMsg{
		Timestamp:      b.Clock(),
		SessionID:      b.Session.ID,
		Map:            b.mapName(),
		GameMode:       b.GameMode,
		Tick:           b.Session.Tick,
		Players:        b.players(),
		AIGroups:       []protocol.GroupObs{},
		ActiveMissions: []protocol.MissionObs{},
		Events:         []protocol.EventObs{},
		WorldState:     b.worldState(),
	}
	if msg.GameMode == "" {
		msg.GameMode = protocol.GameModeGameMaster
	}
	if b.Groups != nil {
		msg.AIGroups = append(msg.AIGroups, b.Groups.SerializeAll()...)
	}
	if b.Missions != nil {
		msg.ActiveMissions = append(msg.ActiveMissions, b.Missions.SerializeActive()...)
	}
	if b.Events != nil {
		for _, ev := range b.Events.DrainAll() {
			msg.Events = append(msg.Events, ev.Obs())
		}
	}
	return msg
}

func (b *Builder) mapName() string {
	if b.MapName != "" {
		return b.MapName
	}
	if b.World != nil {
		if n := b.World.MapName(); n != "" {
			return n
		}
	}
	return DefaultMapName
}

func (b *Builder) players() []protocol.PlayerObs {
	out := []protocol.PlayerObs{}
	if b.World == nil {
		return out
	}
	for _, p := range b.World.Players() {
		ent := p.Controlled
		if ent == nil {
			continue
		}
		pos, ok := ent.Position()
		if !ok {
			continue
		}
		obs := protocol.PlayerObs{
			ID:        ids.PlayerID(p.ID),
			Name:      p.Name,
			Faction:   groups.UnknownFaction,
			Position:  protocol.PosOf(pos),
			Health:    FullHealth,
			Alive:     ent.Alive(),
			InVehicle: ent.InVehicle(),
		}
		if f, ok := ent.Faction(); ok && f != "" {
			obs.Faction = f
		}
		if h, ok := ent.Health(); ok {
			obs.Health = h
		}
		out = append(out, obs)
	}
	return out
}

func (b *Builder) worldState() protocol.WorldStateObs {
	ws := protocol.WorldStateObs{Weather: DefaultWeather}
	if b.World == nil {
		return ws
	}
	ws.TimeOfDay = b.World.TimeOfDay()
	if w := b.World.Weather(); w != "" {
		ws.Weather = w
	}
	return ws
}
