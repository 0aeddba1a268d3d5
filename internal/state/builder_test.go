package state

import (
	"encoding/json"
	"strings"
	"testing"

	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/groups"
	"tacbridge.ai/internal/missions"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
	"tacbridge.ai/internal/sim/memworld"
)

type fixture struct {
	world    *memworld.World
	groups   *groups.Registry
	missions *missions.Registry
	queue    *events.Queue
	rec      *events.Recorder
	b        *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{world: memworld.New(memworld.Options{MapName: "Arland", Weather: "RAIN", TimeOfDay: 6.5})}
	f.queue = events.NewQueue(events.DefaultCapacity)
	f.rec = events.NewRecorder(f.queue, func() float64 { return 3 })
	f.groups = groups.New(f.world, nil, nil, nil)
	f.missions = missions.New(f.groups.Has, f.rec, nil)
	f.b = NewBuilder(&Session{ID: "gm_test0001", Active: true}, f.world, f.groups, f.missions, f.queue)
	f.b.Clock = func() float64 { return 42.5 }
	return f
}

func TestBuild_EmptyWorld(t *testing.T) {
	f := newFixture(t)
	msg := f.b.Build()
	if msg.Tick != 1 || f.b.Session.Tick != 1 {
		t.Fatalf("tick=%d session=%d", msg.Tick, f.b.Session.Tick)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"players":[]`, `"ai_groups":[]`, `"active_missions":[]`, `"events":[]`, `"game_mode":"game_master"`, `"map":"Arland"`, `"weather":"RAIN"`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("missing %s in %s", want, b)
		}
	}
	if _, err := protocol.ValidateState(b); err != nil {
		t.Fatalf("state schema: %v", err)
	}
}

func TestBuild_FieldOrder(t *testing.T) {
	f := newFixture(t)
	b, _ := json.Marshal(f.b.Build())
	order := []string{`"timestamp"`, `"session_id"`, `"map"`, `"game_mode"`, `"tick"`, `"players"`, `"ai_groups"`, `"active_missions"`, `"events"`, `"world_state"`}
	last := -1
	for _, k := range order {
		i := strings.Index(string(b), k)
		if i <= last {
			t.Fatalf("field %s out of order in %s", k, b)
		}
		last = i
	}
}

func TestBuild_TickIncrementsOncePerBuild(t *testing.T) {
	f := newFixture(t)
	for i := uint64(1); i <= 5; i++ {
		if got := f.b.Build().Tick; got != i {
			t.Fatalf("build %d tick=%d", i, got)
		}
	}
}

func TestBuild_PlayersSkipUnresolvable(t *testing.T) {
	f := newFixture(t)
	id := f.world.AddPlayer("alpha", "BLUFOR", sim.Vec3{X: 1, Y: 2, Z: 3})
	f.world.AddSpectator("ghost")
	gone := f.world.AddPlayer("bravo", "BLUFOR", sim.Vec3{})
	_ = f.world.DeleteEntity(f.world.PlayerUnit(gone))
	f.world.PlayerUnit(id).Damage(25)

	msg := f.b.Build()
	if len(msg.Players) != 1 {
		t.Fatalf("players=%+v", msg.Players)
	}
	p := msg.Players[0]
	if p.ID != "player_1" || p.Name != "alpha" || p.Faction != "BLUFOR" || p.Health != 75 || !p.Alive || p.Position.Z != 3 {
		t.Fatalf("player=%+v", p)
	}
}

func TestBuild_DrainsEventsOnce(t *testing.T) {
	f := newFixture(t)
	f.rec.PlayerDowned("player_1")
	f.rec.UnitKilled("grp_001", "u1")

	first := f.b.Build()
	if len(first.Events) != 2 || first.Events[0].EventID != "evt_0001" {
		t.Fatalf("events=%+v", first.Events)
	}
	if second := f.b.Build(); len(second.Events) != 0 {
		t.Fatalf("events re-sent: %+v", second.Events)
	}
}

func TestBuild_ScenarioSpawnAppearsInGroups(t *testing.T) {
	f := newFixture(t)
	if _, err := f.groups.Spawn("OPFOR", "infantry_squad", sim.Vec3{X: 10, Z: 20}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	active := f.missions.Create("ATTACK", nil, nil)
	done := f.missions.Create("DEFEND", nil, nil)
	_ = f.missions.End(done)

	msg := f.b.Build()
	if len(msg.AIGroups) != 1 || msg.AIGroups[0].Faction != "OPFOR" {
		t.Fatalf("ai_groups=%+v", msg.AIGroups)
	}
	if len(msg.ActiveMissions) != 1 || msg.ActiveMissions[0].MissionID != active {
		t.Fatalf("active_missions=%+v", msg.ActiveMissions)
	}
	// END_MISSION queued a MISSION_COMPLETED event.
	if len(msg.Events) != 1 || msg.Events[0].Type != string(events.MissionCompleted) {
		t.Fatalf("events=%+v", msg.Events)
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if !strings.HasPrefix(a, "gm_") || len(a) != 11 {
		t.Fatalf("id=%q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids")
	}
}
