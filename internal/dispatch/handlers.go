package dispatch

import (
	"fmt"
	"strconv"

	"tacbridge.ai/internal/missions"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
)

type handlerFunc func(d *Dispatcher, c protocol.CommandMsg, res *Result) error

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		protocol.CmdSetFormation:       (*Dispatcher).setFormation,
		protocol.CmdSetWaypoint:        (*Dispatcher).setWaypoint,
		protocol.CmdSetBehavior:        (*Dispatcher).setBehavior,
		protocol.CmdSpawnGroup:         (*Dispatcher).spawnGroup,
		protocol.CmdDespawnGroup:       (*Dispatcher).despawnGroup,
		protocol.CmdUpdateMission:      (*Dispatcher).updateMission,
		protocol.CmdCreateMission:      (*Dispatcher).createMission,
		protocol.CmdEndMission:         (*Dispatcher).endMission,
		protocol.CmdCallReinforcements: (*Dispatcher).callReinforcements,
		protocol.CmdSetAmbush:          (*Dispatcher).setAmbush,
		protocol.CmdBroadcastMessage:   (*Dispatcher).broadcastMessage,
		protocol.CmdTriggerEvent:       (*Dispatcher).triggerEvent,
		protocol.CmdVehicleOrder:       (*Dispatcher).vehicleOrder,
	}
}

// position reads params.position; absent means the origin.
func position(p protocol.Params, key string) sim.Vec3 {
	v, _ := p.Pos(key)
	return v
}

func (d *Dispatcher) setFormation(c protocol.CommandMsg, _ *Result) error {
	f := c.Params.StringOr("formation", "")
	if err := d.groups.SetFormation(c.Target, f); err != nil {
		return err
	}
	d.logger.Printf("formation %s -> %s", f, c.Target)
	return nil
}

func (d *Dispatcher) setWaypoint(c protocol.CommandMsg, _ *Result) error {
	return d.groups.SetWaypoint(c.Target, position(c.Params, "position"), c.Params.StringOr("behavior", ""))
}

func (d *Dispatcher) setBehavior(c protocol.CommandMsg, _ *Result) error {
	return d.groups.SetBehavior(c.Target, c.Params.StringOr("behavior", ""))
}

func (d *Dispatcher) spawnGroup(c protocol.CommandMsg, res *Result) error {
	faction := c.Params.StringOr("faction", "")
	template := c.Params.StringOr("template", "")
	id, err := d.groups.Spawn(faction, template, position(c.Params, "position"))
	if err != nil {
		return err
	}
	res.Created = append(res.Created, id)
	if mission := c.Params.StringOr("assign_mission", ""); mission != "" {
		// Best effort; the attempt is recorded either way.
		_ = d.missions.AssignGroup(id, mission)
	}
	return nil
}

func (d *Dispatcher) despawnGroup(c protocol.CommandMsg, _ *Result) error {
	return d.groups.Despawn(c.Target)
}

func priorityParam(p protocol.Params) *string {
	if s, ok := p.String("priority"); ok {
		return &s
	}
	if f, ok := p.Float("priority"); ok {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		return &s
	}
	return nil
}

func (d *Dispatcher) updateMission(c protocol.CommandMsg, _ *Result) error {
	var patch missions.Patch
	if v, ok := c.Params.Pos("new_objective"); ok {
		patch.Objective = &v
	}
	patch.Priority = priorityParam(c.Params)
	if f, ok := c.Params.Float("completion"); ok {
		patch.Completion = &f
	}
	return d.missions.Update(c.Target, patch)
}

func (d *Dispatcher) createMission(c protocol.CommandMsg, res *Result) error {
	var objective *sim.Vec3
	if v, ok := c.Params.Pos("objective_position"); ok {
		objective = &v
	}
	var limit *float64
	if f, ok := c.Params.Float("time_limit"); ok {
		limit = &f
	}
	id := d.missions.Create(c.Params.StringOr("type", ""), objective, limit)
	res.Created = append(res.Created, id)
	return nil
}

func (d *Dispatcher) endMission(c protocol.CommandMsg, _ *Result) error {
	return d.missions.End(c.Target)
}

func (d *Dispatcher) callReinforcements(c protocol.CommandMsg, res *Result) error {
	base := position(c.Params, "position")
	faction := c.Params.StringOr("faction", "")
	template := c.Params.StringOr("template", d.opts.ReinforcementTemplate)
	n, _ := c.Params.Int("group_count")
	if n < 1 {
		n = 1
	}
	if n > d.opts.MaxReinforcements {
		d.logger.Printf("reinforcements: group_count %d clamped to %d", n, d.opts.MaxReinforcements)
		n = d.opts.MaxReinforcements
	}
	var firstErr error
	for i := 0; i < n; i++ {
		off := sim.Vec3{
			X: (d.opts.Rand.Float64()*2 - 1) * d.opts.Spread,
			Z: (d.opts.Rand.Float64()*2 - 1) * d.opts.Spread,
		}
		id, err := d.groups.Spawn(faction, template, base.Add(off))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Created = append(res.Created, id)
		if d.events != nil {
			d.events.ReinforcementArrived(id)
		}
	}
	return firstErr
}

func (d *Dispatcher) setAmbush(c protocol.CommandMsg, _ *Result) error {
	return d.groups.SetAmbush(c.Target, position(c.Params, "position"))
}

func (d *Dispatcher) broadcastMessage(c protocol.CommandMsg, _ *Result) error {
	msg, ok := c.Params.String("message")
	if !ok {
		return fmt.Errorf("message missing: %w", errBadParams)
	}
	duration, _ := c.Params.Float("duration")
	if duration <= 0 {
		duration = DefaultBroadcastDuration
	}
	d.world.Broadcast(msg, d.opts.BroadcastTitle, duration)
	return nil
}

func (d *Dispatcher) triggerEvent(c protocol.CommandMsg, _ *Result) error {
	name := c.Params.StringOr("event_name", "")
	if name == "" {
		return fmt.Errorf("event_name missing: %w", errBadParams)
	}
	params := c.Params
	d.sched.Defer(func() { d.fire(name, params) })
	return nil
}

func (d *Dispatcher) fire(name string, params protocol.Params) {
	d.logger.Printf("event triggered: %s", name)
	if fn, ok := d.triggers[name]; ok {
		fn(name, params)
	}
}

func (d *Dispatcher) vehicleOrder(c protocol.CommandMsg, _ *Result) error {
	order := c.Params.StringOr("order", "")
	d.logger.Printf("vehicle order %s -> %s", order, c.Target)
	vc, ok := d.world.(sim.VehicleCommander)
	if !ok {
		return nil
	}
	rec, ok := d.groups.Get(c.Target)
	if !ok || rec.Handle == nil {
		return fmt.Errorf("vehicle group %q: %w", c.Target, protocol.ErrUnknownReference)
	}
	return vc.VehicleOrder(rec.Handle, order)
}
