package memworld

import (
	"fmt"

	"tacbridge.ai/internal/sim"
)

type Waypoint struct {
	Pos  sim.Vec3
	Kind sim.WaypointKind
}

type Group struct {
	w         *World
	prefab    string
	members   []*Unit
	formation sim.Formation
	behavior  sim.Behavior
	waypoints []Waypoint
}

var _ sim.Group = (*Group)(nil)

func (g *Group) Prefab() string { return g.prefab }

func (g *Group) Members() []sim.Entity {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	out := make([]sim.Entity, len(g.members))
	for i, u := range g.members {
		if !u.deleted {
			out[i] = u
		}
	}
	return out
}

// Leader is the first member still present.
func (g *Group) Leader() sim.Entity {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	if u := g.leaderLocked(); u != nil {
		return u
	}
	return nil
}

func (g *Group) leaderLocked() *Unit {
	for _, u := range g.members {
		if !u.deleted && u.health > 0 {
			return u
		}
	}
	return nil
}

func (g *Group) liveLocked() int {
	n := 0
	for _, u := range g.members {
		if !u.deleted {
			n++
		}
	}
	return n
}

func (g *Group) SetFormation(f sim.Formation) error {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	if g.liveLocked() == 0 {
		return fmt.Errorf("memworld: group has no members")
	}
	g.formation = f
	return nil
}

func (g *Group) SetBehavior(b sim.Behavior) error {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	if g.liveLocked() == 0 {
		return fmt.Errorf("memworld: group has no members")
	}
	g.behavior = b
	return nil
}

func (g *Group) AddWaypoint(pos sim.Vec3, kind sim.WaypointKind) error {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	if g.liveLocked() == 0 {
		return fmt.Errorf("memworld: group has no members")
	}
	g.waypoints = append(g.waypoints, Waypoint{Pos: pos, Kind: kind})
	return nil
}

func (g *Group) Formation() sim.Formation {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	return g.formation
}

func (g *Group) Behavior() sim.Behavior {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	return g.behavior
}

func (g *Group) Waypoints() []Waypoint {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	return append([]Waypoint(nil), g.waypoints...)
}

// Unit returns member i as a concrete unit for scenario scripting.
func (g *Group) Unit(i int) *Unit {
	g.w.mu.Lock()
	defer g.w.mu.Unlock()
	if i < 0 || i >= len(g.members) {
		return nil
	}
	return g.members[i]
}
