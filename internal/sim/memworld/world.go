// Package memworld is an in-memory World used by the demo binary and tests.
// It models just enough of a battlefield for the bridge to observe and steer:
// players, squads of units, orders, and broadcasts. It is not a game engine.
package memworld

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"tacbridge.ai/internal/sim"
)

var ErrDeleted = errors.New("entity deleted")

type Options struct {
	MapName   string
	Weather   string
	TimeOfDay float64
	SquadSize int
	// TimeScale is game seconds per real second for the day clock.
	TimeScale float64
	// PrefabFactions maps a prefab path segment (e.g. "OPFOR", "FIA") to the
	// faction key given to spawned units.
	PrefabFactions map[string]string
}

func (o *Options) normalize() {
	if o.MapName == "" {
		o.MapName = "Everon"
	}
	if o.Weather == "" {
		o.Weather = "CLEAR"
	}
	if o.SquadSize <= 0 {
		o.SquadSize = 4
	}
	if o.TimeScale <= 0 {
		o.TimeScale = 1
	}
	if o.PrefabFactions == nil {
		o.PrefabFactions = map[string]string{
			"OPFOR":  "OPFOR",
			"BLUFOR": "BLUFOR",
			"US":     "BLUFOR",
			"FIA":    "BLUFOR",
			"USSR":   "OPFOR",
		}
	}
}

type BroadcastRecord struct {
	Message  string
	Title    string
	Duration float64
}

type VehicleOrderRecord struct {
	Order   string
	Members int
}

type World struct {
	mu sync.Mutex

	opts      Options
	timeOfDay float64

	nextUnit   int
	nextPlayer int
	units      map[int]*Unit
	players    []*playerRec
	groups     []*Group

	broadcasts    []BroadcastRecord
	vehicleOrders []VehicleOrderRecord

	// SpawnErr, when set, is returned by SpawnGroup.
	SpawnErr error
}

type playerRec struct {
	id   int
	name string
	unit *Unit
}

func New(opts Options) *World {
	opts.normalize()
	return &World{
		opts:      opts,
		timeOfDay: opts.TimeOfDay,
		units:     map[int]*Unit{},
	}
}

var _ sim.World = (*World)(nil)
var _ sim.VehicleCommander = (*World)(nil)

func (w *World) newUnitLocked(faction string, pos sim.Vec3) *Unit {
	w.nextUnit++
	u := &Unit{w: w, id: w.nextUnit, faction: faction, health: 100, pos: pos}
	w.units[u.id] = u
	return u
}

// AddPlayer creates a player-controlled unit and returns the player id.
func (w *World) AddPlayer(name, faction string, pos sim.Vec3) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextPlayer++
	p := &playerRec{id: w.nextPlayer, name: name, unit: w.newUnitLocked(faction, pos)}
	w.players = append(w.players, p)
	return p.id
}

// AddSpectator registers a player that controls nothing.
func (w *World) AddSpectator(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextPlayer++
	w.players = append(w.players, &playerRec{id: w.nextPlayer, name: name})
	return w.nextPlayer
}

// PlayerUnit returns the unit controlled by player id, or nil.
func (w *World) PlayerUnit(id int) *Unit {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.players {
		if p.id == id {
			return p.unit
		}
	}
	return nil
}

func (w *World) Players() []sim.Player {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]sim.Player, 0, len(w.players))
	for _, p := range w.players {
		sp := sim.Player{ID: p.id, Name: p.name}
		if p.unit != nil && !p.unit.deleted {
			sp.Controlled = p.unit
		}
		out = append(out, sp)
	}
	return out
}

func (w *World) factionForPrefab(prefab string) string {
	for _, seg := range strings.Split(prefab, "/") {
		if f, ok := w.opts.PrefabFactions[seg]; ok {
			return f
		}
	}
	return ""
}

func (w *World) SpawnGroup(prefab string, pos sim.Vec3) (sim.Group, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.SpawnErr != nil {
		return nil, w.SpawnErr
	}
	if strings.TrimSpace(prefab) == "" {
		return nil, fmt.Errorf("memworld: empty prefab")
	}
	return w.spawnLocked(prefab, w.factionForPrefab(prefab), pos, w.opts.SquadSize), nil
}

// AddGroup creates a group outside of the prefab path, for scenarios that
// register pre-placed groups.
func (w *World) AddGroup(faction string, pos sim.Vec3, size int) *Group {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawnLocked("", faction, pos, size)
}

func (w *World) spawnLocked(prefab, faction string, pos sim.Vec3, size int) *Group {
	g := &Group{w: w, prefab: prefab, formation: sim.FormationColumn, behavior: sim.BehaviorAware}
	for i := 0; i < size; i++ {
		off := sim.Vec3{X: float64(i) * 2}
		g.members = append(g.members, w.newUnitLocked(faction, pos.Add(off)))
	}
	w.groups = append(w.groups, g)
	return g
}

func (w *World) DeleteEntity(e sim.Entity) error {
	u, ok := e.(*Unit)
	if !ok || u == nil {
		return fmt.Errorf("memworld: foreign entity %T", e)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if u.deleted {
		return ErrDeleted
	}
	u.deleted = true
	delete(w.units, u.id)
	return nil
}

func (w *World) Broadcast(message, title string, duration float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broadcasts = append(w.broadcasts, BroadcastRecord{Message: message, Title: title, Duration: duration})
}

func (w *World) VehicleOrder(g sim.Group, order string) error {
	mg, ok := g.(*Group)
	if !ok || mg == nil {
		return fmt.Errorf("memworld: foreign group %T", g)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vehicleOrders = append(w.vehicleOrders, VehicleOrderRecord{Order: order, Members: mg.liveLocked()})
	return nil
}

func (w *World) MapName() string { return w.opts.MapName }

func (w *World) TimeOfDay() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeOfDay
}

func (w *World) Weather() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts.Weather
}

func (w *World) SetWeather(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opts.Weather = s
}

func (w *World) Broadcasts() []BroadcastRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]BroadcastRecord(nil), w.broadcasts...)
}

func (w *World) VehicleOrders() []VehicleOrderRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]VehicleOrderRecord(nil), w.vehicleOrders...)
}

// LiveUnits counts units that have not been deleted, players included.
func (w *World) LiveUnits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.units)
}
