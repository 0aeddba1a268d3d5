package director

import (
	"sync"

	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/protocol"
)

type Pressure string

const (
	PressureUnknown  Pressure = "UNKNOWN"
	PressureLow      Pressure = "LOW"
	PressureMedium   Pressure = "MEDIUM"
	PressureHigh     Pressure = "HIGH"
	PressureCritical Pressure = "CRITICAL"
)

var threatTypes = map[string]bool{
	string(events.ContactSpotted):    true,
	string(events.PlayerDowned):      true,
	string(events.ObjectiveCaptured): true,
}

type Meta struct {
	PlayersAlive     int      `json:"player_count_alive"`
	PlayersTotal     int      `json:"player_count_total"`
	AIGroupCount     int      `json:"ai_group_count"`
	RecentEventCount int      `json:"recent_event_count"`
	ThreatEvents     []string `json:"threat_events"`
	Pressure         Pressure `json:"pressure_level"`
}

type TickSummary struct {
	Tick        uint64   `json:"tick"`
	PlayerAlive int      `json:"player_alive"`
	AIGroups    int      `json:"ai_groups"`
	Events      []string `json:"events"`
}

// Enriched is the STATE plus derived context, the document a planner sees.
type Enriched struct {
	protocol.StateMsg
	Meta     Meta         `json:"_meta"`
	Previous *TickSummary `json:"_previous_tick_summary,omitempty"`
}

// PressureOf grades how hard the players are being pushed by the share of
// them still alive.
func PressureOf(alive, total int) Pressure {
	if total == 0 {
		return PressureUnknown
	}
	ratio := float64(alive) / float64(total)
	switch {
	case ratio < 0.3:
		return PressureCritical
	case ratio < 0.6:
		return PressureHigh
	case ratio < 0.9:
		return PressureMedium
	default:
		return PressureLow
	}
}

func ComputeMeta(s protocol.StateMsg) Meta {
	m := Meta{
		PlayersTotal:     len(s.Players),
		AIGroupCount:     len(s.AIGroups),
		RecentEventCount: len(s.Events),
		ThreatEvents:     []string{},
	}
	for _, p := range s.Players {
		if p.Alive {
			m.PlayersAlive++
		}
	}
	for _, e := range s.Events {
		if threatTypes[e.Type] {
			m.ThreatEvents = append(m.ThreatEvents, e.Type)
		}
	}
	m.Pressure = PressureOf(m.PlayersAlive, m.PlayersTotal)
	return m
}

func Summarize(s protocol.StateMsg) TickSummary {
	out := TickSummary{Tick: s.Tick, AIGroups: len(s.AIGroups), Events: make([]string, 0, len(s.Events))}
	for _, p := range s.Players {
		if p.Alive {
			out.PlayerAlive++
		}
	}
	for _, e := range s.Events {
		out.Events = append(out.Events, e.Type)
	}
	return out
}

// Processor remembers the previous STATE so each one can be enriched with a
// summary of the tick before it.
type Processor struct {
	mu   sync.Mutex
	prev *protocol.StateMsg
}

func (p *Processor) Process(s protocol.StateMsg) Enriched {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Enriched{StateMsg: s, Meta: ComputeMeta(s)}
	if p.prev != nil {
		sum := Summarize(*p.prev)
		out.Previous = &sum
	}
	cp := s
	p.prev = &cp
	return out
}
