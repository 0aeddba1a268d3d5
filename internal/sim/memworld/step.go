package memworld

import "tacbridge.ai/internal/sim"

// Movement speed in metres per second by behavior.
var behaviorSpeed = map[sim.Behavior]float64{
	sim.BehaviorSafe:    1.5,
	sim.BehaviorAware:   2.5,
	sim.BehaviorCombat:  3.5,
	sim.BehaviorStealth: 1.0,
}

const arriveRadius = 2.0

// Step advances the world clock and moves every group toward its current
// waypoint. MOVE waypoints are consumed on arrival; ATTACK and DEFEND hold.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.timeOfDay += dt * w.opts.TimeScale / 3600
	for w.timeOfDay >= 24 {
		w.timeOfDay -= 24
	}

	alive := w.groups[:0]
	for _, g := range w.groups {
		if g.liveLocked() == 0 {
			continue
		}
		alive = append(alive, g)
		w.stepGroupLocked(g, dt)
	}
	w.groups = alive
}

func (w *World) stepGroupLocked(g *Group, dt float64) {
	if len(g.waypoints) == 0 {
		return
	}
	leader := g.leaderLocked()
	if leader == nil {
		return
	}
	wp := g.waypoints[0]
	d := leader.pos.DistXZ(wp.Pos)
	if d <= arriveRadius {
		if wp.Kind == sim.WaypointMove {
			g.waypoints = g.waypoints[1:]
		}
		return
	}
	speed := behaviorSpeed[g.behavior]
	if speed == 0 {
		speed = behaviorSpeed[sim.BehaviorAware]
	}
	frac := speed * dt / d
	if frac > 1 {
		frac = 1
	}
	delta := wp.Pos.Sub(leader.pos)
	delta.X *= frac
	delta.Y = 0
	delta.Z *= frac
	for _, u := range g.members {
		if !u.deleted && u.health > 0 {
			u.pos = u.pos.Add(delta)
		}
	}
}
