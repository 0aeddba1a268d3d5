package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tacbridge.ai/internal/bridge"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: bridge.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(bridge.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(bridge.AuditEntry{Tick: 2})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropAuditTotal != 1 {
		t.Fatalf("DropAuditTotal=%d want=1", st.DropAuditTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilAndClosedAreNoops(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteTick(bridge.TickLogEntry{}); err != nil {
		t.Fatalf("nil WriteTick: %v", err)
	}
	if st := s.Stats(); st.QueueCapacity != 0 {
		t.Fatalf("nil stats=%+v", st)
	}
}

func TestSQLiteIndex_WritesAndQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "bridge.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 3; i++ {
		_ = idx.WriteTick(bridge.TickLogEntry{
			Tick: i, SessionID: "gm_0001", RequestID: "req" + string(rune('0'+i)),
			SentAt: at.Add(time.Duration(i) * time.Second), Players: 2, Digest: "abc",
		})
	}
	_ = idx.WriteAudit(bridge.AuditEntry{Tick: 2, RequestID: "req2", CommandID: "c2", Seq: 0, Action: "SPAWN_GROUP", Created: []string{"grp_opfor_1"}, At: at})
	_ = idx.WriteAudit(bridge.AuditEntry{Tick: 2, RequestID: "req2", CommandID: "c2", Seq: 1, Action: "SET_FORMATION", Target: "grp_x", Code: "E_UNKNOWN_REFERENCE", At: at.Add(time.Millisecond)})
	_ = idx.WriteAudit(bridge.AuditEntry{Tick: 3, RequestID: "req3", Action: bridge.ActionReplyHTTPError, Reason: "Bad Gateway", At: at.Add(time.Second)})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.RowsTotal != 6 || st.WriteErrorTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
	// Closed index swallows writes.
	if err := idx.WriteTick(bridge.TickLogEntry{Tick: 9}); err != nil {
		t.Fatalf("write after close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	ticks, err := r.Ticks(ctx, 2)
	if err != nil {
		t.Fatalf("Ticks: %v", err)
	}
	if len(ticks) != 2 || ticks[0].Tick != 3 || ticks[1].Tick != 2 || ticks[0].Players != 2 {
		t.Fatalf("ticks=%+v", ticks)
	}

	cmds, err := r.Commands(ctx, CommandFilter{Tick: 2})
	if err != nil {
		t.Fatalf("Commands: %v", err)
	}
	if len(cmds) != 2 || cmds[0].Action != "SET_FORMATION" || cmds[1].Created != "grp_opfor_1" {
		t.Fatalf("commands=%+v", cmds)
	}

	failed, _ := r.Commands(ctx, CommandFilter{FailedOnly: true})
	if len(failed) != 1 || failed[0].Code != "E_UNKNOWN_REFERENCE" {
		t.Fatalf("failed=%+v", failed)
	}
	byAction, _ := r.Commands(ctx, CommandFilter{Action: "reply_http_error"})
	if len(byAction) != 1 || byAction[0].Reason != "Bad Gateway" {
		t.Fatalf("byAction=%+v", byAction)
	}
}

func TestOpenReaderMissingFile(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "nope.sqlite")); err == nil {
		t.Fatalf("expected error for missing index")
	}
}
