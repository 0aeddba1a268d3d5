package ids

import "testing"

func TestFormatters(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{GroupID(1), "grp_001"},
		{GroupID(1234), "grp_1234"},
		{SpawnedGroupID("OPFOR", 7), "grp_opfor_7"},
		{SpawnedGroupID(" ", 7), "grp_007"},
		{MissionID(3), "mission_003"},
		{EventID(42), "evt_0042"},
		{PlayerID(5), "player_5"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Fatalf("got %q want %q", c.got, c.want)
		}
	}
}

func TestSequenceMonotonic(t *testing.T) {
	var s Sequence
	if s.Peek() != 0 {
		t.Fatalf("fresh sequence peek=%d", s.Peek())
	}
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		n := s.Next()
		if n <= prev {
			t.Fatalf("non-monotonic: %d after %d", n, prev)
		}
		prev = n
	}
	if s.Peek() != 100 {
		t.Fatalf("peek=%d", s.Peek())
	}
}

func TestParseSeq(t *testing.T) {
	cases := []struct {
		prefix, id string
		want       uint64
	}{
		{"grp_", "grp_001", 1},
		{"grp_", "grp_opfor_12", 12},
		{"grp_", "grp_blufor_3", 3},
		{"mission_", "mission_010", 10},
		{"evt_", "evt_0042", 42},
	}
	for _, c := range cases {
		got, ok := ParseSeq(c.prefix, c.id)
		if !ok || got != c.want {
			t.Fatalf("ParseSeq(%q)=%d,%v want %d", c.id, got, ok, c.want)
		}
	}
	for _, id := range []string{"", "grp_", "grp_x", "mission_001", "grp_opfor_"} {
		if _, ok := ParseSeq("grp_", id); ok {
			t.Fatalf("expected %q rejected", id)
		}
	}
}

func TestSequenceAdvancePast(t *testing.T) {
	var s Sequence
	s.AdvancePast(5)
	if n := s.Next(); n != 6 {
		t.Fatalf("next after AdvancePast(5)=%d want 6", n)
	}
	s.AdvancePast(2)
	if n := s.Next(); n != 7 {
		t.Fatalf("AdvancePast moved backwards: next=%d", n)
	}
}
