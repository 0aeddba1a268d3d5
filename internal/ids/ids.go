package ids

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Sequence is a monotonic counter starting at 1. Values are never reused.
type Sequence struct {
	n atomic.Uint64
}

func (s *Sequence) Next() uint64 { return s.n.Add(1) }

// AdvancePast makes the next value handed out greater than n. It never
// moves the sequence backwards.
func (s *Sequence) AdvancePast(n uint64) {
	for {
		cur := s.n.Load()
		if cur >= n || s.n.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Peek returns the last value handed out (0 if none).
func (s *Sequence) Peek() uint64 { return s.n.Load() }

func GroupID(seq uint64) string { return fmt.Sprintf("grp_%03d", seq) }

func SpawnedGroupID(faction string, seq uint64) string {
	f := strings.ToLower(strings.TrimSpace(faction))
	if f == "" {
		return GroupID(seq)
	}
	return fmt.Sprintf("grp_%s_%d", f, seq)
}

func MissionID(seq uint64) string { return fmt.Sprintf("mission_%03d", seq) }

func EventID(seq uint64) string { return fmt.Sprintf("evt_%04d", seq) }

func PlayerID(n int) string { return "player_" + strconv.Itoa(n) }

// ParseSeq extracts the trailing sequence number of an id that starts with
// prefix, e.g. ParseSeq("grp_", "grp_opfor_12") == 12.
func ParseSeq(prefix, id string) (uint64, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	rest := id[len(prefix):]
	if i := strings.LastIndexByte(rest, '_'); i >= 0 {
		rest = rest[i+1:]
	}
	if rest == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
