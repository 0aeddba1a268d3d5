// Package sim declares what the bridge needs from the host simulation.
// The engine owns every object behind these interfaces; the bridge only holds
// non-owning handles and must tolerate them going stale between ticks.
package sim

import "math"

type Vec3 struct {
	X float64
	Y float64
	Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// DistXZ is the horizontal distance, ignoring height.
func (v Vec3) DistXZ(o Vec3) float64 {
	dx, dz := v.X-o.X, v.Z-o.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// Native engine enumerations.
type Formation string

const (
	FormationLine            Formation = "LINE"
	FormationColumn          Formation = "COLUMN"
	FormationWedge           Formation = "WEDGE"
	FormationStaggeredColumn Formation = "STAGGERED_COLUMN"
	FormationVee             Formation = "VEE"
	FormationEchelonLeft     Formation = "ECHELON_LEFT"
	FormationEchelonRight    Formation = "ECHELON_RIGHT"
)

type Behavior string

const (
	BehaviorSafe    Behavior = "SAFE"
	BehaviorAware   Behavior = "AWARE"
	BehaviorCombat  Behavior = "COMBAT"
	BehaviorStealth Behavior = "STEALTH"
)

type WaypointKind string

const (
	WaypointMove   WaypointKind = "MOVE"
	WaypointAttack WaypointKind = "ATTACK"
	WaypointDefend WaypointKind = "DEFEND"
)

// Entity is a live character or vehicle. Accessors report ok=false once the
// engine object can no longer be resolved.
type Entity interface {
	Faction() (string, bool)
	// Health is on a 0..100 scale.
	Health() (float64, bool)
	Position() (Vec3, bool)
	Alive() bool
	InVehicle() bool
}

// Group is a live AI group. Members may contain nil for handles the engine
// already destroyed.
type Group interface {
	Members() []Entity
	Leader() Entity
	SetFormation(f Formation) error
	SetBehavior(b Behavior) error
	AddWaypoint(pos Vec3, kind WaypointKind) error
}

type Player struct {
	ID   int
	Name string
	// Controlled is nil when the player has no resolvable entity.
	Controlled Entity
}

type World interface {
	Players() []Player
	SpawnGroup(prefab string, pos Vec3) (Group, error)
	DeleteEntity(e Entity) error
	Broadcast(message, title string, duration float64)
	MapName() string
	// TimeOfDay is hours in [0,24).
	TimeOfDay() float64
	Weather() string
}

// VehicleCommander is implemented by worlds that can route vehicle orders
// to a group's crew.
type VehicleCommander interface {
	VehicleOrder(g Group, order string) error
}
