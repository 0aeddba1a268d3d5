package groups

import (
	"fmt"
	"sort"
	"strings"

	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
)

// Fallbacks used when an external key is not in the table.
const (
	DefaultFormation = sim.FormationColumn
	DefaultBehavior  = sim.BehaviorAware
	DefaultWaypoint  = sim.WaypointMove
)

var formations = map[string]sim.Formation{
	"LINE":          sim.FormationLine,
	"COLUMN":        sim.FormationColumn,
	"WEDGE":         sim.FormationWedge,
	"SKIRMISHER":    sim.FormationStaggeredColumn,
	"VEE":           sim.FormationVee,
	"ECHELON_LEFT":  sim.FormationEchelonLeft,
	"ECHELON_RIGHT": sim.FormationEchelonRight,
}

var behaviors = map[string]sim.Behavior{
	"SAFE":    sim.BehaviorSafe,
	"AWARE":   sim.BehaviorAware,
	"COMBAT":  sim.BehaviorCombat,
	"STEALTH": sim.BehaviorStealth,
}

// WaypointOrder is the native waypoint plus an optional behavior change
// ("" means leave behavior alone).
type WaypointOrder struct {
	Kind     sim.WaypointKind
	Behavior sim.Behavior
}

var waypointOrders = map[string]WaypointOrder{
	"PATROL":  {Kind: sim.WaypointMove},
	"ASSAULT": {Kind: sim.WaypointAttack},
	"DEFEND":  {Kind: sim.WaypointDefend},
	"RETREAT": {Kind: sim.WaypointMove, Behavior: sim.BehaviorSafe},
	"FLANK":   {Kind: sim.WaypointMove, Behavior: sim.BehaviorCombat},
}

func normKey(k string) string { return strings.ToUpper(strings.TrimSpace(k)) }

func unknownKey(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, protocol.ErrUnknownEnumKey)
}

// LookupFormation always returns a usable value; err wraps
// protocol.ErrUnknownEnumKey when the fallback was taken.
func LookupFormation(key string) (sim.Formation, error) {
	if f, ok := formations[normKey(key)]; ok {
		return f, nil
	}
	return DefaultFormation, unknownKey("formation", key)
}

func LookupBehavior(key string) (sim.Behavior, error) {
	if b, ok := behaviors[normKey(key)]; ok {
		return b, nil
	}
	return DefaultBehavior, unknownKey("behavior", key)
}

func LookupWaypoint(key string) (WaypointOrder, error) {
	if w, ok := waypointOrders[normKey(key)]; ok {
		return w, nil
	}
	return WaypointOrder{Kind: DefaultWaypoint}, unknownKey("waypoint", key)
}

// FormationKeys returns the accepted external keys, for catalogs and docs.
func FormationKeys() []string { return keys(formations) }
func BehaviorKeys() []string  { return keys(behaviors) }
func WaypointKeys() []string  { return keys(waypointOrders) }

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
