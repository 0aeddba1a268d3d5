package dispatch

import (
	"errors"
	"math/rand"
	"testing"

	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/groups"
	"tacbridge.ai/internal/ids"
	"tacbridge.ai/internal/missions"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
	"tacbridge.ai/internal/sim/memworld"
)

type harness struct {
	world    *memworld.World
	groups   *groups.Registry
	missions *missions.Registry
	queue    *events.Queue
	sched    *Queue
	d        *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{world: memworld.New(memworld.Options{SquadSize: 2})}
	h.queue = events.NewQueue(events.DefaultCapacity)
	rec := events.NewRecorder(h.queue, nil)
	h.groups = groups.New(h.world, nil, &ids.Sequence{}, nil)
	h.missions = missions.New(h.groups.Has, rec, nil)
	h.groups.OnUnlink(h.missions.UnassignGroup)
	h.sched = &Queue{}
	h.d = New(h.groups, h.missions, h.world, rec, h.sched, nil, Options{Rand: rand.New(rand.NewSource(7))})
	return h
}

func (h *harness) dispatch(t *testing.T, raw string) Report {
	t.Helper()
	rep, err := h.d.Dispatch([]byte(raw))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if h.d.State() != Idle {
		t.Fatalf("state after dispatch=%s", h.d.State())
	}
	return rep
}

func TestDispatch_MalformedReplyMutatesNothing(t *testing.T) {
	h := newHarness(t)
	bad := []string{
		`{"commands":[{"type":"SPAWN_GROUP","params":{"faction":"OPFOR","template":"infantry_squad"}}`,
		`{"commands":"SPAWN_GROUP"}`,
		`[{"type":"CREATE_MISSION"}]`,
		`{"commands":[{"type":"CREATE_MISSION","params":{}}, 3]}`,
	}
	for _, raw := range bad {
		_, err := h.d.Dispatch([]byte(raw))
		var pe *protocol.ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("%s: err=%v", raw, err)
		}
		if h.d.State() != Idle {
			t.Fatalf("state=%s", h.d.State())
		}
	}
	if h.groups.Len() != 0 || h.missions.Len() != 0 || h.world.LiveUnits() != 0 {
		t.Fatalf("mutations after malformed replies: groups=%d missions=%d units=%d",
			h.groups.Len(), h.missions.Len(), h.world.LiveUnits())
	}
}

func TestDispatch_UnknownTypeSkipped(t *testing.T) {
	h := newHarness(t)
	rep := h.dispatch(t, `{"command_id":"c1","commands":[
	  {"type":"CREATE_MISSION","params":{"type":"ATTACK"}},
	  {"type":"NUKE","target":"everyone"},
	  {"type":"SPAWN_GROUP","params":{"faction":"OPFOR","template":"infantry_squad","position":{"x":1,"y":0,"z":1}}},
	  {"type":"CREATE_MISSION","params":{"type":"DEFEND"}}
	]}`)
	if rep.Executed != 3 || rep.Unknown != 1 || rep.Failed != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if h.missions.Len() != 2 || h.groups.Len() != 1 {
		t.Fatalf("missions=%d groups=%d", h.missions.Len(), h.groups.Len())
	}
	if rep.Results[1].Code != protocol.ErrCodeUnknownCommand {
		t.Fatalf("result[1]=%+v", rep.Results[1])
	}
}

func TestDispatch_CallReinforcements(t *testing.T) {
	h := newHarness(t)
	rep := h.dispatch(t, `{"commands":[{"type":"CALL_REINFORCEMENTS","params":{"faction":"OPFOR","group_count":3,"position":{"x":0,"y":0,"z":0}}}]}`)
	if h.groups.Len() != 3 || len(rep.Results[0].Created) != 3 {
		t.Fatalf("groups=%d created=%v", h.groups.Len(), rep.Results[0].Created)
	}
	for _, obs := range h.groups.SerializeAll() {
		p := obs.Position
		if p == nil || p.X < -100 || p.X > 100 || p.Z < -100 || p.Z > 100 || p.Y != 0 {
			t.Fatalf("group %s out of range: %+v", obs.GroupID, p)
		}
	}
	arrived := 0
	for _, ev := range h.queue.DrainAll() {
		if ev.Type == events.ReinforcementArrived {
			arrived++
		}
	}
	if arrived != 3 {
		t.Fatalf("arrived events=%d", arrived)
	}
}

func TestDispatch_CallReinforcementsAtLeastOne(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, `{"commands":[{"type":"CALL_REINFORCEMENTS","params":{"faction":"BLUFOR","group_count":0}}]}`)
	if h.groups.Len() != 1 {
		t.Fatalf("groups=%d", h.groups.Len())
	}
}

func TestDispatch_CallReinforcementsClamped(t *testing.T) {
	h := newHarness(t)
	rep := h.dispatch(t, `{"commands":[{"type":"CALL_REINFORCEMENTS","params":{"faction":"OPFOR","group_count":2147483647}}]}`)
	if h.groups.Len() != DefaultMaxReinforcements || len(rep.Results[0].Created) != DefaultMaxReinforcements {
		t.Fatalf("groups=%d created=%d", h.groups.Len(), len(rep.Results[0].Created))
	}

	rec := events.NewRecorder(events.NewQueue(0), nil)
	d := New(h.groups, h.missions, h.world, rec, &Queue{}, nil, Options{MaxReinforcements: 2, Rand: rand.New(rand.NewSource(1))})
	if _, err := d.Dispatch([]byte(`{"commands":[{"type":"CALL_REINFORCEMENTS","params":{"faction":"OPFOR","group_count":5}}]}`)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if h.groups.Len() != DefaultMaxReinforcements+2 {
		t.Fatalf("custom cap not applied: groups=%d", h.groups.Len())
	}
}

func TestDispatch_CreateThenEndMission(t *testing.T) {
	h := newHarness(t)
	rep := h.dispatch(t, `{"commands":[{"type":"CREATE_MISSION","params":{"type":"ATTACK","objective_position":{"x":5,"y":0,"z":5},"time_limit":600}}]}`)
	id := rep.Results[0].Created[0]
	h.dispatch(t, `{"commands":[{"type":"END_MISSION","target":"`+id+`"}]}`)
	if _, ok := h.missions.Get(id); !ok {
		t.Fatalf("mission removed")
	}
	if len(h.missions.SerializeActive()) != 0 {
		t.Fatalf("ended mission still active")
	}
}

func TestDispatch_SpawnAssignAndDespawnClearsMission(t *testing.T) {
	h := newHarness(t)
	mid := h.missions.Create("ATTACK", nil, nil)
	rep := h.dispatch(t, `{"commands":[{"type":"SPAWN_GROUP","params":{"faction":"OPFOR","template":"infantry_squad","assign_mission":"`+mid+`"}}]}`)
	gid := rep.Results[0].Created[0]
	if m, _ := h.missions.Get(mid); len(m.AssignedGroups) != 1 || m.AssignedGroups[0] != gid {
		t.Fatalf("assigned=%v", m.AssignedGroups)
	}

	rep = h.dispatch(t, `{"commands":[
	  {"type":"DESPAWN_GROUP","target":"`+gid+`"},
	  {"type":"DESPAWN_GROUP","target":"`+gid+`"},
	  {"type":"SET_FORMATION","target":"`+gid+`","params":{"formation":"LINE"}}
	]}`)
	if rep.Executed != 3 || rep.Failed != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if m, _ := h.missions.Get(mid); len(m.AssignedGroups) != 0 {
		t.Fatalf("assignment survived despawn: %v", m.AssignedGroups)
	}
	if h.missions.Len() != 1 {
		t.Fatalf("despawn cascaded into missions")
	}
}

func TestDispatch_UpdateMissionPartial(t *testing.T) {
	h := newHarness(t)
	mid := h.missions.Create("ATTACK", &sim.Vec3{X: 3, Z: 4}, nil)
	h.dispatch(t, `{"commands":[{"type":"UPDATE_MISSION","target":"`+mid+`","params":{"priority":"HIGH"}}]}`)
	m, _ := h.missions.Get(mid)
	if m.Objective != (sim.Vec3{X: 3, Z: 4}) || m.Priority != "HIGH" {
		t.Fatalf("m=%+v", m)
	}
	h.dispatch(t, `{"commands":[{"type":"UPDATE_MISSION","target":"`+mid+`","params":{"new_objective":{"x":9,"y":1,"z":9},"priority":2}}]}`)
	m, _ = h.missions.Get(mid)
	if m.Objective != (sim.Vec3{X: 9, Y: 1, Z: 9}) || m.Priority != "2" {
		t.Fatalf("m=%+v", m)
	}
}

func TestDispatch_GroupOrdersAndEnumFallback(t *testing.T) {
	h := newHarness(t)
	g := h.world.AddGroup("OPFOR", sim.Vec3{}, 2)
	gid := h.groups.Register(g, "")
	rep := h.dispatch(t, `{"commands":[
	  {"type":"SET_FORMATION","target":"`+gid+`","params":{"formation":"PINWHEEL"}},
	  {"type":"SET_BEHAVIOR","target":"`+gid+`","params":{"behavior":"COMBAT"}},
	  {"type":"SET_WAYPOINT","target":"`+gid+`","params":{"position":{"x":40,"y":0,"z":0},"behavior":"ASSAULT"}},
	  {"type":"SET_AMBUSH","target":"`+gid+`","params":{"position":{"x":60,"y":0,"z":0}}}
	]}`)
	if rep.Executed != 4 {
		t.Fatalf("report=%+v", rep)
	}
	if rep.Results[0].Code != protocol.ErrCodeUnknownEnumKey || g.Formation() != sim.FormationColumn {
		t.Fatalf("formation fallback: code=%s formation=%s", rep.Results[0].Code, g.Formation())
	}
	wps := g.Waypoints()
	if len(wps) != 2 || wps[0].Kind != sim.WaypointAttack || wps[1].Kind != sim.WaypointDefend {
		t.Fatalf("waypoints=%+v", wps)
	}
	if g.Behavior() != sim.BehaviorStealth {
		t.Fatalf("behavior=%s", g.Behavior())
	}
}

func TestDispatch_BroadcastDurationDefault(t *testing.T) {
	h := newHarness(t)
	h.d.SetBroadcastTitle("[HQ]")
	h.dispatch(t, `{"commands":[
	  {"type":"BROADCAST_MESSAGE","params":{"message":"Enemy armor inbound","duration":-3}},
	  {"type":"BROADCAST_MESSAGE","params":{"message":"Hold","duration":12}},
	  {"type":"BROADCAST_MESSAGE","params":{}}
	]}`)
	bs := h.world.Broadcasts()
	if len(bs) != 2 {
		t.Fatalf("broadcasts=%+v", bs)
	}
	if bs[0].Duration != 5 || bs[0].Title != "[HQ]" || bs[1].Duration != 12 {
		t.Fatalf("broadcasts=%+v", bs)
	}
}

func TestDispatch_TriggerEventIsDeferred(t *testing.T) {
	h := newHarness(t)
	var fired []string
	h.d.OnTrigger("artillery", func(name string, p protocol.Params) {
		fired = append(fired, name+":"+p.StringOr("grid", ""))
	})
	h.dispatch(t, `{"commands":[{"type":"TRIGGER_EVENT","params":{"event_name":"artillery","grid":"0412"}}]}`)
	if len(fired) != 0 {
		t.Fatalf("trigger ran inline")
	}
	if h.sched.Len() != 1 {
		t.Fatalf("pending=%d", h.sched.Len())
	}
	h.sched.RunPending()
	if len(fired) != 1 || fired[0] != "artillery:0412" {
		t.Fatalf("fired=%v", fired)
	}
}

func TestDispatch_VehicleOrderForwarded(t *testing.T) {
	h := newHarness(t)
	gid := h.groups.Register(h.world.AddGroup("OPFOR", sim.Vec3{}, 3), "")
	rep := h.dispatch(t, `{"commands":[
	  {"type":"VEHICLE_ORDER","target":"`+gid+`","params":{"order":"MOUNT"}},
	  {"type":"VEHICLE_ORDER","target":"veh_9","params":{"order":"DISMOUNT"}}
	]}`)
	vo := h.world.VehicleOrders()
	if len(vo) != 1 || vo[0].Order != "MOUNT" || vo[0].Members != 3 {
		t.Fatalf("vehicle orders=%+v", vo)
	}
	if rep.Results[1].Code != protocol.ErrCodeUnknownReference {
		t.Fatalf("result=%+v", rep.Results[1])
	}
}

type panickyWorld struct{ *memworld.World }

func (panickyWorld) Broadcast(string, string, float64) { panic("hint manager gone") }

func TestDispatch_PanicIsolated(t *testing.T) {
	h := newHarness(t)
	d := New(h.groups, h.missions, panickyWorld{h.world}, nil, h.sched, nil, Options{})
	rep, err := d.Dispatch([]byte(`{"commands":[
	  {"type":"BROADCAST_MESSAGE","params":{"message":"boom"}},
	  {"type":"CREATE_MISSION","params":{"type":"AFTER"}}
	]}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rep.Failed != 1 || rep.Executed != 1 || rep.Results[0].Code != protocol.ErrCodeHandlerPanic {
		t.Fatalf("report=%+v", rep)
	}
	if h.missions.Len() != 1 {
		t.Fatalf("command after panic did not run")
	}
	if d.State() != Idle {
		t.Fatalf("state=%s", d.State())
	}
}

func TestDispatch_EmptyAndMissingCommands(t *testing.T) {
	h := newHarness(t)
	for _, raw := range []string{`{}`, `{"commands":[]}`, `{"commands":null,"reasoning":"wait"}`} {
		rep := h.dispatch(t, raw)
		if len(rep.Results) != 0 {
			t.Fatalf("%s: results=%+v", raw, rep.Results)
		}
	}
}
