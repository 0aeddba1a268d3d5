package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
	"tacbridge.ai/internal/sim/memworld"
	"tacbridge.ai/internal/transport"
)

const emptyReply = `{"command_id":"cmd_1","reasoning":"hold","commands":[]}`

func ok(body string) transport.Response {
	return transport.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

func fastConfig() Config {
	return Config{
		TickInterval:   time.Hour,
		WarmupDelay:    5 * time.Millisecond,
		RequestTimeout: time.Second,
		DiscardStale:   true,
		SessionID:      "gm_test",
	}
}

func start(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("bridge did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func(Status) bool, b *Bridge) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := b.Status(); cond(st) {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s: %+v", what, b.Status())
	return Status{}
}

type memLogs struct {
	mu    sync.Mutex
	ticks []TickLogEntry
	audit []AuditEntry
}

func (m *memLogs) WriteTick(e TickLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, e)
	return nil
}

func (m *memLogs) WriteAudit(e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *memLogs) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audit))
	for _, a := range m.audit {
		out = append(out, a.Action)
	}
	return out
}

func TestBridge_WarmupSendsStateAndAppliesReply(t *testing.T) {
	w := memworld.New(memworld.Options{})
	w.AddPlayer("alpha", "BLUFOR", sim.Vec3{X: 10, Z: 20})

	var mu sync.Mutex
	var got protocol.StateMsg
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.Unmarshal(req.Body, &got); err != nil {
			t.Errorf("state body: %v", err)
		}
		return ok(emptyReply), nil
	})

	b := New(fastConfig(), w, tr, nil)
	logs := &memLogs{}
	b.SetTickLogger(logs)
	start(t, b)

	st := waitFor(t, "reply applied", func(s Status) bool { return s.Counters.RepliesApplied == 1 }, b)
	if st.Counters.StatesSent != 1 || st.Tick != 1 || st.LastApplied != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.LastCommandID != "cmd_1" {
		t.Fatalf("last command id=%q", st.LastCommandID)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.SessionID != "gm_test" || got.Tick != 1 || got.RequestID == "" {
		t.Fatalf("unexpected header: %+v", got)
	}
	if got.GameMode != protocol.GameModeGameMaster {
		t.Fatalf("game mode=%q", got.GameMode)
	}
	if len(got.Players) != 1 || got.Players[0].Name != "alpha" {
		t.Fatalf("players=%+v", got.Players)
	}

	logs.mu.Lock()
	defer logs.mu.Unlock()
	if len(logs.ticks) != 1 || logs.ticks[0].RequestID != got.RequestID || len(logs.ticks[0].Digest) != 64 {
		t.Fatalf("tick log=%+v", logs.ticks)
	}
}

func TestBridge_NonOKReplyIsDropped(t *testing.T) {
	w := memworld.New(memworld.Options{})
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		return transport.Response{StatusCode: http.StatusBadGateway, Body: []byte(`{"commands":[{"type":"SPAWN_GROUP"}]}`)}, nil
	})
	b := New(fastConfig(), w, tr, nil)
	logs := &memLogs{}
	b.SetAuditLogger(logs)
	start(t, b)

	st := waitFor(t, "http error", func(s Status) bool { return s.Counters.HTTPErrors == 1 }, b)
	if st.Counters.RepliesApplied != 0 || st.Groups != 0 {
		t.Fatalf("non-200 reply was applied: %+v", st)
	}
	if a := logs.actions(); len(a) != 1 || a[0] != ActionReplyHTTPError {
		t.Fatalf("audit=%v", a)
	}
}

func TestBridge_TransportErrorKeepsLoopAlive(t *testing.T) {
	w := memworld.New(memworld.Options{})
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		return transport.Response{}, errors.New("connection refused")
	})
	cfg := fastConfig()
	cfg.TickInterval = 10 * time.Millisecond
	b := New(cfg, w, tr, nil)
	start(t, b)

	st := waitFor(t, "repeated failures", func(s Status) bool { return s.Counters.TransportErrors >= 2 }, b)
	if st.LastError != "connection refused" {
		t.Fatalf("last error=%q", st.LastError)
	}
}

func TestBridge_MalformedReplyCountsProtocolError(t *testing.T) {
	w := memworld.New(memworld.Options{})
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		return ok(`{"commands":`), nil
	})
	b := New(fastConfig(), w, tr, nil)
	logs := &memLogs{}
	b.SetAuditLogger(logs)
	start(t, b)

	waitFor(t, "protocol error", func(s Status) bool { return s.Counters.ProtocolErrors == 1 }, b)
	logs.mu.Lock()
	defer logs.mu.Unlock()
	if len(logs.audit) != 1 || logs.audit[0].Code != protocol.ErrCodeProtocol {
		t.Fatalf("audit=%+v", logs.audit)
	}
}

func TestBridge_StaleReplyDiscarded(t *testing.T) {
	w := memworld.New(memworld.Options{})
	release := make(chan struct{})
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		if req.Tick == 1 {
			<-release
			return ok(`{"command_id":"late","commands":[{"type":"CREATE_MISSION","params":{"type":"DEFEND"}}]}`), nil
		}
		return ok(emptyReply), nil
	})
	cfg := fastConfig()
	cfg.TickInterval = 20 * time.Millisecond
	b := New(cfg, w, tr, nil)
	start(t, b)

	waitFor(t, "newer reply", func(s Status) bool { return s.LastApplied >= 2 }, b)
	close(release)
	st := waitFor(t, "stale discard", func(s Status) bool { return s.Counters.RepliesStale == 1 }, b)
	if st.Missions != 0 || st.LastCommandID == "late" {
		t.Fatalf("stale reply was applied: %+v", st)
	}
}

func TestBridge_ReplyAppliedAfterDeactivate(t *testing.T) {
	w := memworld.New(memworld.Options{})
	release := make(chan struct{})
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		<-release
		return ok(`{"command_id":"c","commands":[{"type":"CREATE_MISSION","params":{"type":"PATROL"}}]}`), nil
	})
	b := New(fastConfig(), w, tr, nil)
	start(t, b)

	waitFor(t, "in flight", func(s Status) bool { return s.InFlight == 1 }, b)
	b.SetActive(false)
	close(release)

	st := waitFor(t, "late apply", func(s Status) bool { return s.Counters.RepliesApplied == 1 }, b)
	if st.Active || st.Missions != 1 || st.InFlight != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestBridge_InactiveSendsNothing(t *testing.T) {
	w := memworld.New(memworld.Options{})
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		t.Errorf("unexpected exchange at tick %d", req.Tick)
		return ok(emptyReply), nil
	})
	cfg := fastConfig()
	cfg.TickInterval = 5 * time.Millisecond
	b := New(cfg, w, tr, nil)
	b.SetActive(false)
	start(t, b)

	time.Sleep(30 * time.Millisecond)
	if st := b.Status(); st.Tick != 0 || st.Counters.StatesSent != 0 {
		t.Fatalf("inactive bridge advanced: %+v", st)
	}
}

func TestBridge_TriggerRunsAfterBatch(t *testing.T) {
	w := memworld.New(memworld.Options{})
	tr := transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		return ok(`{"command_id":"t","commands":[
			{"type":"TRIGGER_EVENT","params":{"event_name":"alarm"}},
			{"type":"BROADCAST_MESSAGE","params":{"message":"sirens"}}
		]}`), nil
	})
	b := New(fastConfig(), w, tr, nil)

	fired := make(chan int, 1)
	b.OnTrigger("alarm", func(name string, _ protocol.Params) {
		// The batch has finished by the time a deferred trigger runs.
		fired <- len(w.Broadcasts())
	})
	start(t, b)

	select {
	case n := <-fired:
		if n != 1 {
			t.Fatalf("trigger ran before batch completed: broadcasts=%d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("trigger never fired")
	}
	waitFor(t, "trigger counter", func(s Status) bool { return s.Counters.TriggersFired == 1 }, b)
}

func TestBridge_DoAndRegisterGroup(t *testing.T) {
	w := memworld.New(memworld.Options{SquadSize: 3})
	b := New(fastConfig(), w, transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		return ok(emptyReply), nil
	}), nil)
	start(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := b.RegisterGroup(ctx, w.AddGroup("OPFOR", sim.Vec3{}, 3), "grp_garrison")
	if err != nil || id != "grp_garrison" {
		t.Fatalf("register: id=%q err=%v", id, err)
	}
	var n int
	if err := b.Do(ctx, func(s Scope) { n = s.Groups.Len() }); err != nil {
		t.Fatalf("do: %v", err)
	}
	if n != 1 {
		t.Fatalf("groups=%d", n)
	}
}

func TestBridge_DoAfterStop(t *testing.T) {
	w := memworld.New(memworld.Options{})
	b := New(fastConfig(), w, transport.Func(func(ctx context.Context, req transport.Request) (transport.Response, error) {
		return ok(emptyReply), nil
	}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = b.Run(ctx); close(done) }()
	cancel()
	<-done

	if err := b.Do(context.Background(), func(Scope) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
