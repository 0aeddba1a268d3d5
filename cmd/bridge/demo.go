package main

import (
	"context"
	"log"
	"math/rand"
	"strconv"
	"time"

	"tacbridge.ai/internal/bridge"
	"tacbridge.ai/internal/ids"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
	"tacbridge.ai/internal/sim/memworld"
)

const (
	contactRange    = 150.0
	contactCooldown = 20 * time.Second
)

// demo drives a small scripted skirmish on the in-memory world so the bridge
// has something to report without a game attached.
type demo struct {
	world  *memworld.World
	b      *bridge.Bridge
	logger *log.Logger
	rng    *rand.Rand
	now    func() time.Time
	// fireOdds gives a 1-in-N chance of trading fire on contact; 0 disables.
	fireOdds int

	players  []int
	lastSeen map[string]time.Time
	downed   map[int]bool
}

func newDemo(w *memworld.World, b *bridge.Bridge, logger *log.Logger) *demo {
	return &demo{
		world:    w,
		b:        b,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		fireOdds: 3,
		lastSeen: map[string]time.Time{},
		downed:   map[int]bool{},
	}
}

// setup must run after the bridge loop has started: group registration goes
// through the loop.
func (d *demo) setup(ctx context.Context) error {
	d.players = append(d.players,
		d.world.AddPlayer("Miller", "BLUFOR", sim.Vec3{X: 1000, Z: 1000}),
		d.world.AddPlayer("Hayes", "BLUFOR", sim.Vec3{X: 1010, Z: 995}),
	)
	garrison := []sim.Vec3{
		{X: 1100, Z: 1080},
		{X: 1300, Z: 1200},
		{X: 900, Z: 1350},
		{X: 1150, Z: 700},
	}
	for _, pos := range garrison {
		g := d.world.AddGroup("OPFOR", pos, 4)
		id, err := d.b.RegisterGroup(ctx, g, "")
		if err != nil {
			return err
		}
		d.logger.Printf("demo: garrison %s at (%.0f, %.0f)", id, pos.X, pos.Z)
	}
	return d.b.Do(ctx, func(s bridge.Scope) {
		s.Dispatcher.OnTrigger("alarm", func(name string, params protocol.Params) {
			d.world.Broadcast("Alarm raised across the sector", "[Demo]", 5)
		})
	})
}

func (d *demo) run(ctx context.Context, step time.Duration) {
	if err := d.setup(ctx); err != nil {
		d.logger.Printf("demo: setup: %v", err)
		return
	}
	t := time.NewTicker(step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.world.Step(step.Seconds())
			d.patrolPlayers()
			if err := d.b.Do(ctx, d.observe); err != nil {
				return
			}
		}
	}
}

func (d *demo) patrolPlayers() {
	for _, id := range d.players {
		u := d.world.PlayerUnit(id)
		if u == nil || !u.Alive() {
			continue
		}
		pos, ok := u.Position()
		if !ok {
			continue
		}
		u.MoveTo(pos.Add(sim.Vec3{X: d.rng.Float64()*4 - 1, Z: d.rng.Float64()*4 - 1}))
	}
}

// observe runs on the bridge loop and turns world state into events.
func (d *demo) observe(s bridge.Scope) {
	now := d.now()
	players := d.world.Players()
	for _, gid := range s.Groups.IDs() {
		rec, ok := s.Groups.Get(gid)
		if !ok {
			continue
		}
		leader := rec.Handle.Leader()
		if leader == nil || !leader.Alive() {
			continue
		}
		if f, _ := leader.Faction(); f != "OPFOR" {
			continue
		}
		gpos, ok := leader.Position()
		if !ok {
			continue
		}
		for _, p := range players {
			if p.Controlled == nil || !p.Controlled.Alive() {
				continue
			}
			ppos, ok := p.Controlled.Position()
			if !ok {
				continue
			}
			dist := gpos.DistXZ(ppos)
			if dist > contactRange || now.Sub(d.lastSeen[gid]) < contactCooldown {
				continue
			}
			d.lastSeen[gid] = now
			s.Events.ContactSpotted(gid, ppos, 1, dist)
			if d.fireOdds > 0 && d.rng.Intn(d.fireOdds) == 0 {
				d.exchangeFire(s, gid, rec.Handle, p.ID)
			}
			break
		}
	}
}

func (d *demo) exchangeFire(s bridge.Scope, gid string, g sim.Group, playerID int) {
	if u := d.world.PlayerUnit(playerID); u != nil && !d.downed[playerID] {
		if u.Damage(20 + d.rng.Float64()*40) {
			d.downed[playerID] = true
			s.Events.PlayerDowned(ids.PlayerID(playerID))
		}
	}
	if mg, ok := g.(*memworld.Group); ok {
		for i := 0; ; i++ {
			u := mg.Unit(i)
			if u == nil {
				break
			}
			if u.Alive() {
				if u.Damage(60) {
					s.Events.UnitKilled(gid, "unit_"+strconv.Itoa(u.ID()))
				}
				break
			}
		}
	}
}
