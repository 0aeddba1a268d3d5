package protocol

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"tacbridge.ai/internal/sim"
)

// Pos is the wire form of a 3-D coordinate.
type Pos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func PosOf(v sim.Vec3) Pos { return Pos{X: v.X, Y: v.Y, Z: v.Z} }

func (p Pos) Vec3() sim.Vec3 { return sim.Vec3{X: p.X, Y: p.Y, Z: p.Z} }

// STATE (bridge -> service), one per tick.
type StateMsg struct {
	Timestamp      float64       `json:"timestamp"`
	SessionID      string        `json:"session_id"`
	Map            string        `json:"map"`
	GameMode       string        `json:"game_mode"`
	Tick           uint64        `json:"tick"`
	Players        []PlayerObs   `json:"players"`
	AIGroups       []GroupObs    `json:"ai_groups"`
	ActiveMissions []MissionObs  `json:"active_missions"`
	Events         []EventObs    `json:"events"`
	WorldState     WorldStateObs `json:"world_state"`

	RequestID string `json:"request_id,omitempty"`
}

type PlayerObs struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Faction   string  `json:"faction"`
	Position  Pos     `json:"position"`
	Health    float64 `json:"health"`
	Alive     bool    `json:"alive"`
	InVehicle bool    `json:"in_vehicle"`
}

type GroupObs struct {
	GroupID   string  `json:"group_id"`
	Faction   string  `json:"faction"`
	UnitCount int     `json:"unit_count"`
	Position  *Pos    `json:"position,omitempty"`
	HealthAvg float64 `json:"health_avg"`
}

type MissionObs struct {
	MissionID         string  `json:"mission_id"`
	Type              string  `json:"type"`
	Status            string  `json:"status"`
	ObjectivePosition Pos     `json:"objective_position"`
	Completion        float64 `json:"completion"`
}

type EventObs struct {
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	Timestamp   float64        `json:"timestamp"`
	SourceGroup *string        `json:"source_group"`
	Data        map[string]any `json:"data,omitempty"`
}

type WorldStateObs struct {
	TimeOfDay float64 `json:"time_of_day"`
	Weather   string  `json:"weather"`
}

// REPLY (service -> bridge).
type ReplyMsg struct {
	CommandID string       `json:"command_id"`
	Reasoning string       `json:"reasoning"`
	Commands  []CommandMsg `json:"commands"`

	// Optional correlation echo of the state that produced this reply.
	RequestID string `json:"request_id,omitempty"`
	Tick      uint64 `json:"tick,omitempty"`
}

type CommandMsg struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Params Params `json:"params"`
}

// Params is the flat, type-specific payload of a command. Accessors are
// lenient: a missing key or a value of the wrong JSON type reads as absent.
type Params map[string]json.RawMessage

func (p Params) Has(key string) bool {
	raw, ok := p[key]
	return ok && len(raw) > 0 && string(raw) != "null"
}

func (p Params) String(key string) (string, bool) {
	if !p.Has(key) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p[key], &s); err != nil {
		return "", false
	}
	return s, true
}

// StringOr returns the trimmed string value or def when absent/empty.
func (p Params) StringOr(key, def string) string {
	s, ok := p.String(key)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return def
	}
	return s
}

func (p Params) Float(key string) (float64, bool) {
	if !p.Has(key) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(p[key], &f); err != nil {
		// Accept numeric strings; language models emit them often enough.
		var s string
		if json.Unmarshal(p[key], &s) != nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (p Params) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok {
		return 0, false
	}
	if f > math.MaxInt32 {
		f = math.MaxInt32
	} else if f < math.MinInt32 {
		f = math.MinInt32
	}
	return int(f), true
}

// Pos reads a {x,y,z} object. Missing axes read as 0.
func (p Params) Pos(key string) (sim.Vec3, bool) {
	if !p.Has(key) {
		return sim.Vec3{}, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(p[key], &raw); err != nil {
		return sim.Vec3{}, false
	}
	axes := Params(raw)
	x, _ := axes.Float("x")
	y, _ := axes.Float("y")
	z, _ := axes.Float("z")
	return sim.Vec3{X: x, Y: y, Z: z}, true
}
