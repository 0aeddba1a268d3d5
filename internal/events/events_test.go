package events

import (
	"encoding/json"
	"fmt"
	"testing"

	"tacbridge.ai/internal/sim"
)

func TestQueue_KeepsMostRecentInOrder(t *testing.T) {
	q := NewQueue(0)
	if q.Cap() != DefaultCapacity {
		t.Fatalf("cap=%d", q.Cap())
	}
	const n = 137
	for i := 1; i <= n; i++ {
		q.Push(Event{ID: fmt.Sprintf("e%d", i)})
		if q.Len() > DefaultCapacity {
			t.Fatalf("queue exceeded capacity after %d pushes", i)
		}
	}
	got := q.DrainAll()
	if len(got) != DefaultCapacity {
		t.Fatalf("len=%d", len(got))
	}
	for i, ev := range got {
		want := fmt.Sprintf("e%d", n-DefaultCapacity+1+i)
		if ev.ID != want {
			t.Fatalf("got[%d]=%s want %s", i, ev.ID, want)
		}
	}
	if q.Dropped() != n-DefaultCapacity {
		t.Fatalf("dropped=%d", q.Dropped())
	}
	if again := q.DrainAll(); len(again) != 0 {
		t.Fatalf("second drain returned %d events", len(again))
	}
}

func TestQueue_SmallCapacity(t *testing.T) {
	q := NewQueue(2)
	q.Push(Event{ID: "a"})
	q.Push(Event{ID: "b"})
	q.Push(Event{ID: "c"})
	got := q.DrainAll()
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("got %+v", got)
	}
}

func TestRecorder_IDsAndTimestamps(t *testing.T) {
	now := 0.0
	r := NewRecorder(NewQueue(10), func() float64 { now += 0.5; return now })

	a := r.ContactSpotted("grp_001", sim.Vec3{X: 1, Y: 2, Z: 3}, 4, 120)
	b := r.PlayerDowned("player_1")
	c := r.UnitKilled("grp_002", "")

	if a.ID != "evt_0001" || b.ID != "evt_0002" || c.ID != "evt_0003" {
		t.Fatalf("ids=%s,%s,%s", a.ID, b.ID, c.ID)
	}
	if a.Timestamp != 0.5 || b.Timestamp != 1.0 {
		t.Fatalf("timestamps=%v,%v", a.Timestamp, b.Timestamp)
	}
	if c.Data != nil {
		t.Fatalf("UnitKilled without unit id should carry no data")
	}
	if r.Queue().Len() != 3 {
		t.Fatalf("len=%d", r.Queue().Len())
	}
}

func TestEventObs_NullSourceGroup(t *testing.T) {
	b, err := json.Marshal(Event{ID: "evt_0001", Type: PlayerDowned}.Obs())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if v, ok := m["source_group"]; !ok || v != nil {
		t.Fatalf("source_group=%v present=%v", v, ok)
	}

	b, _ = json.Marshal(Event{ID: "evt_0002", Type: UnitKilled, SourceGroup: "grp_001"}.Obs())
	m = nil
	_ = json.Unmarshal(b, &m)
	if m["source_group"] != "grp_001" {
		t.Fatalf("source_group=%v", m["source_group"])
	}
}

func TestIsKnownType(t *testing.T) {
	for _, ty := range []Type{ContactSpotted, UnitKilled, ObjectiveCaptured, PlayerDowned, VehicleDestroyed, MissionCompleted, MissionFailed, ReinforcementArrived} {
		if !IsKnownType(ty) {
			t.Fatalf("%s not known", ty)
		}
	}
	if IsKnownType("AIRSTRIKE") {
		t.Fatalf("unexpected known type")
	}
}
