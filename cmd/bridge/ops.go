package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tacbridge.ai/internal/bridge"
	"tacbridge.ai/internal/persistence/indexdb"
	"tacbridge.ai/internal/persistence/mirror"
)

type lineCounter interface {
	Lines() uint64
}

type ops struct {
	b           *bridge.Bridge
	idx         *indexdb.SQLiteIndex
	mirror      *mirror.Mirror
	ticks       lineCounter
	audit       lineCounter
	enableAdmin bool
}

func newOps(b *bridge.Bridge, idx *indexdb.SQLiteIndex, mir *mirror.Mirror, ticks, audit lineCounter, enableAdmin bool) *ops {
	return &ops{b: b, idx: idx, mirror: mir, ticks: ticks, audit: audit, enableAdmin: enableAdmin}
}

func (o *ops) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", o.metrics)
	if o.enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", o.state)
		mux.HandleFunc("/admin/v1/active", o.active)
	}
	return mux
}

func (o *ops) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := o.b.Status()
	sid := st.SessionID

	active := 0
	if st.Active {
		active = 1
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP tacbridge_tick Snapshots built this session.\n")
	fmt.Fprintf(rw, "# TYPE tacbridge_tick gauge\n")
	fmt.Fprintf(rw, "tacbridge_tick{session=%q} %d\n", sid, st.Tick)

	fmt.Fprintf(rw, "# HELP tacbridge_active Whether STATE sending is enabled.\n")
	fmt.Fprintf(rw, "# TYPE tacbridge_active gauge\n")
	fmt.Fprintf(rw, "tacbridge_active{session=%q} %d\n", sid, active)

	fmt.Fprintf(rw, "# HELP tacbridge_in_flight Requests awaiting a reply.\n")
	fmt.Fprintf(rw, "# TYPE tacbridge_in_flight gauge\n")
	fmt.Fprintf(rw, "tacbridge_in_flight{session=%q} %d\n", sid, st.InFlight)

	fmt.Fprintf(rw, "# HELP tacbridge_registry_size Tracked records by registry.\n")
	fmt.Fprintf(rw, "# TYPE tacbridge_registry_size gauge\n")
	fmt.Fprintf(rw, "tacbridge_registry_size{session=%q,registry=%q} %d\n", sid, "groups", st.Groups)
	fmt.Fprintf(rw, "tacbridge_registry_size{session=%q,registry=%q} %d\n", sid, "missions", st.Missions)

	fmt.Fprintf(rw, "# HELP tacbridge_event_queue Event queue depth and evictions.\n")
	fmt.Fprintf(rw, "# TYPE tacbridge_event_queue gauge\n")
	fmt.Fprintf(rw, "tacbridge_event_queue{session=%q,metric=%q} %d\n", sid, "queued", st.QueuedEvents)
	fmt.Fprintf(rw, "tacbridge_event_queue{session=%q,metric=%q} %d\n", sid, "dropped", st.DroppedEvents)

	c := st.Counters
	fmt.Fprintf(rw, "# HELP tacbridge_total Cumulative exchange and command counters.\n")
	fmt.Fprintf(rw, "# TYPE tacbridge_total counter\n")
	for _, kv := range []struct {
		name string
		v    uint64
	}{
		{"states_sent", c.StatesSent},
		{"replies_applied", c.RepliesApplied},
		{"replies_stale", c.RepliesStale},
		{"http_errors", c.HTTPErrors},
		{"transport_errors", c.TransportErrors},
		{"protocol_errors", c.ProtocolErrors},
		{"commands_executed", c.CommandsExecuted},
		{"commands_unknown", c.CommandsUnknown},
		{"commands_failed", c.CommandsFailed},
		{"triggers_fired", c.TriggersFired},
	} {
		fmt.Fprintf(rw, "tacbridge_total{session=%q,counter=%q} %d\n", sid, kv.name, kv.v)
	}

	if o.ticks != nil && o.audit != nil {
		fmt.Fprintf(rw, "# HELP tacbridge_journal_lines Journal lines written.\n")
		fmt.Fprintf(rw, "# TYPE tacbridge_journal_lines counter\n")
		fmt.Fprintf(rw, "tacbridge_journal_lines{journal=%q} %d\n", "ticks", o.ticks.Lines())
		fmt.Fprintf(rw, "tacbridge_journal_lines{journal=%q} %d\n", "audit", o.audit.Lines())
	}

	if o.idx != nil {
		s := o.idx.Stats()
		fmt.Fprintf(rw, "# HELP tacbridge_index_queue_depth SQLite index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE tacbridge_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "tacbridge_index_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP tacbridge_index_dropped_total Entries dropped because the index fell behind.\n")
		fmt.Fprintf(rw, "# TYPE tacbridge_index_dropped_total counter\n")
		fmt.Fprintf(rw, "tacbridge_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
		fmt.Fprintf(rw, "tacbridge_index_dropped_total{kind=%q} %d\n", "audit", s.DropAuditTotal)
		fmt.Fprintf(rw, "# HELP tacbridge_index_write_errors_total Failed index writes.\n")
		fmt.Fprintf(rw, "# TYPE tacbridge_index_write_errors_total counter\n")
		fmt.Fprintf(rw, "tacbridge_index_write_errors_total %d\n", s.WriteErrorTotal)
	}

	if o.mirror != nil {
		s := o.mirror.Stats()
		fmt.Fprintf(rw, "# HELP tacbridge_mirror_queue_depth Journal files waiting for upload.\n")
		fmt.Fprintf(rw, "# TYPE tacbridge_mirror_queue_depth gauge\n")
		fmt.Fprintf(rw, "tacbridge_mirror_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP tacbridge_mirror_files_total Journal files by upload outcome.\n")
		fmt.Fprintf(rw, "# TYPE tacbridge_mirror_files_total counter\n")
		fmt.Fprintf(rw, "tacbridge_mirror_files_total{result=%q} %d\n", "uploaded", s.Uploaded)
		fmt.Fprintf(rw, "tacbridge_mirror_files_total{result=%q} %d\n", "failed", s.Failed)
		fmt.Fprintf(rw, "tacbridge_mirror_files_total{result=%q} %d\n", "dropped", s.Dropped)
		fmt.Fprintf(rw, "# HELP tacbridge_mirror_last_success_unix Time of the last successful upload.\n")
		fmt.Fprintf(rw, "# TYPE tacbridge_mirror_last_success_unix gauge\n")
		fmt.Fprintf(rw, "tacbridge_mirror_last_success_unix %d\n", s.LastSuccess)
	}
}

func (o *ops) state(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := struct {
		bridge.Status
		Groups []string `json:"group_ids"`
	}{Status: o.b.Status()}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	_ = o.b.Do(ctx, func(s bridge.Scope) { resp.Groups = s.Groups.IDs() })

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (o *ops) active(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	var body struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
		http.Error(rw, `expected {"active":true|false}`, http.StatusBadRequest)
		return
	}
	o.b.SetActive(*body.Active)
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "active": *body.Active})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
