// Package director is a local stand-in for the external decision service:
// it accepts STATE documents and answers with command batches from a
// language model, a playbook, or both.
package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/transport/httpx"
	"tacbridge.ai/internal/transport/ws"
)

const maxStateBytes = 4 << 20

var errInvalidState = errors.New("invalid_game_state")

type Options struct {
	// Validate checks each STATE against the embedded schema.
	Validate bool
	Debug    bool
	Now      func() time.Time
	// Model, when set, is asked first; an invalid or failed answer falls
	// through to the playbook.
	Model Model
}

type Stats struct {
	Requests     uint64         `json:"requests"`
	Errors       uint64         `json:"errors"`
	Fallbacks    uint64         `json:"fallbacks"`
	ModelReplies uint64         `json:"model_replies"`
	ModelErrors  uint64         `json:"model_errors"`
	AvgLatencyMS float64        `json:"avg_latency_ms"`
	StartedAt    float64        `json:"started_at"`
	LastTick     uint64         `json:"last_tick"`
	RulesFired   map[string]int `json:"rules_fired"`
}

type Service struct {
	log       *log.Logger
	opts      Options
	processor Processor
	planner   *Planner

	mu        sync.Mutex
	stats     Stats
	startedAt time.Time
}

func New(book *Playbook, logger *log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now()
	return &Service{
		log:       logger,
		opts:      opts,
		planner:   NewPlanner(book),
		startedAt: now,
		stats:     Stats{StartedAt: float64(now.UnixNano()) / 1e9},
	}
}

// Decide turns one raw STATE into a reply. The reply echoes request_id and
// tick so the bridge can correlate it.
func (s *Service) Decide(ctx context.Context, raw []byte) (protocol.ReplyMsg, error) {
	start := time.Now()
	s.mu.Lock()
	s.stats.Requests++
	s.mu.Unlock()

	state, err := s.decode(raw)
	if err != nil {
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		return protocol.ReplyMsg{RequestID: state.RequestID, Tick: state.Tick}, err
	}

	enriched := s.processor.Process(state)
	reply, rule, ok := s.ask(ctx, enriched)
	if !ok {
		reply, rule, ok = s.planner.Plan(enriched)
	}
	if !ok {
		reply = s.fallback()
	}
	reply.CommandID = fmt.Sprintf("cmd_%d_%d", state.Tick, s.opts.Now().Unix())
	if !ok {
		reply.CommandID = fmt.Sprintf("fallback_%d", s.opts.Now().Unix())
	}
	reply.RequestID = state.RequestID
	reply.Tick = state.Tick

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	s.mu.Lock()
	n := float64(s.stats.Requests)
	s.stats.AvgLatencyMS = (s.stats.AvgLatencyMS*(n-1) + elapsed) / n
	s.stats.LastTick = state.Tick
	if !ok {
		s.stats.Fallbacks++
	}
	s.mu.Unlock()

	if s.opts.Debug {
		s.log.Printf("tick %d: pressure %s, rule %q, %d commands", state.Tick, enriched.Meta.Pressure, rule, len(reply.Commands))
	}
	return reply, nil
}

// ask consults the model. Only a reply that passes the reply schema is
// used.
func (s *Service) ask(ctx context.Context, e Enriched) (protocol.ReplyMsg, string, bool) {
	if s.opts.Model == nil {
		return protocol.ReplyMsg{}, "", false
	}
	in, err := json.Marshal(e)
	if err != nil {
		s.modelFailed(err)
		return protocol.ReplyMsg{}, "", false
	}
	out, err := s.opts.Model.Generate(ctx, in)
	if err != nil {
		s.modelFailed(err)
		return protocol.ReplyMsg{}, "", false
	}
	reply, err := protocol.DecodeReply(out)
	if err != nil {
		s.modelFailed(err)
		return protocol.ReplyMsg{}, "", false
	}
	s.mu.Lock()
	s.stats.ModelReplies++
	s.mu.Unlock()
	return reply, "model", true
}

func (s *Service) modelFailed(err error) {
	s.log.Printf("model reply unusable, using playbook: %v", err)
	s.mu.Lock()
	s.stats.ModelErrors++
	s.mu.Unlock()
}

func (s *Service) decode(raw []byte) (protocol.StateMsg, error) {
	var state protocol.StateMsg
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("json_parse_error: %w", err)
	}
	if s.opts.Validate {
		if _, err := protocol.ValidateState(raw); err != nil {
			return state, fmt.Errorf("%w: %v", errInvalidState, err)
		}
	}
	return state, nil
}

func (s *Service) fallback() protocol.ReplyMsg {
	return protocol.ReplyMsg{
		Reasoning: "fallback: no playbook rule matched, holding current state",
		Commands:  []protocol.CommandMsg{},
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	st.RulesFired = s.planner.Fired()
	return st
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(httpx.CommandPath, s.handleCommand)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/v1/ws", ws.NewServer(s.respondWS, s.log).Handler())
	return mux
}

func (s *Service) handleCommand(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw, err := httpx.DecodeBody(r, maxStateBytes)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "read_error"})
		return
	}
	reply, err := s.Decide(r.Context(), raw)
	if err != nil {
		code := "json_parse_error"
		if errors.Is(err, errInvalidState) {
			code = "invalid_game_state"
		}
		s.log.Printf("rejected state: %v", err)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": code})
		return
	}
	writeJSON(rw, http.StatusOK, reply)
}

// respondWS answers over the websocket transport. A rejected STATE still
// gets an empty batch so the bridge's pending request resolves.
func (s *Service) respondWS(ctx context.Context, raw []byte) []byte {
	reply, err := s.Decide(ctx, raw)
	if err != nil {
		s.log.Printf("rejected state: %v", err)
		reply.CommandID = "rejected"
		reply.Reasoning = err.Error()
		reply.Commands = []protocol.CommandMsg{}
	}
	b, _ := json.Marshal(reply)
	return b
}

// handleHealth reports "degraded" when a configured model does not answer;
// the playbook keeps serving in that state.
func (s *Service) handleHealth(rw http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"status":   "ok",
		"planner":  "playbook",
		"uptime_s": int(s.opts.Now().Sub(s.startedAt).Seconds()),
		"stats":    s.Stats(),
	}
	if m := s.opts.Model; m != nil {
		reachable := m.Ping(r.Context())
		doc["planner"] = "model"
		doc["llm"] = m.Name()
		doc["llm_reachable"] = reachable
		if !reachable {
			doc["status"] = "degraded"
		}
	}
	writeJSON(rw, http.StatusOK, doc)
}

func (s *Service) handleStats(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.Stats())
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
