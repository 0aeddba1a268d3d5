package director

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tacbridge.ai/internal/protocol"
)

// fakeChat serves the two endpoints the client uses. content is returned as
// the assistant message.
func fakeChat(t *testing.T, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(tagsPath, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`{"models":[]}`))
	})
	mux.HandleFunc(chatPath, func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "test-model" || req.Stream || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			http.Error(rw, "unexpected request", http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.Messages[1].Content, `"_meta"`) {
			http.Error(rw, "state not enriched", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(rw).Encode(chatResponse{Message: chatMessage{Role: "assistant", Content: content}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newModelService(t *testing.T, url, book string) *Service {
	t.Helper()
	llm, err := NewLLMClient(LLMConfig{BaseURL: url, Model: "test-model", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewLLMClient: %v", err)
	}
	var pb *Playbook
	if book != "" {
		if pb, err = ParsePlaybook([]byte(book)); err != nil {
			t.Fatalf("ParsePlaybook: %v", err)
		}
	}
	return New(pb, nil, Options{Validate: true, Model: llm, Now: func() time.Time { return time.Unix(1700000000, 0) }})
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"  ```\n{\"a\":1}\n```  \n": `{"a":1}`,
		"```{\"a\":1}```":           `{"a":1}`,
		"```json\n{\"a\":1}":        `{"a":1}`,
	}
	for in, want := range cases {
		if got := string(stripFences(in)); got != want {
			t.Fatalf("stripFences(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNewLLMClientRequiresURLAndModel(t *testing.T) {
	if _, err := NewLLMClient(LLMConfig{Model: "m"}); err == nil {
		t.Fatalf("expected error without url")
	}
	if _, err := NewLLMClient(LLMConfig{BaseURL: "http://x"}); err == nil {
		t.Fatalf("expected error without model")
	}
}

func TestDecideUsesModelReply(t *testing.T) {
	srv, calls := fakeChat(t, "```json\n"+`{"command_id":"llm_1","reasoning":"push east","commands":[{"type":"SET_BEHAVIOR","target":"grp_opfor_1","params":{"behavior":"COMBAT"}}]}`+"\n```")
	svc := newModelService(t, srv.URL, "")
	body, _ := json.Marshal(sampleState(4, 2, 0))
	reply, err := svc.Decide(context.Background(), body)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("chat calls=%d", calls.Load())
	}
	if len(reply.Commands) != 1 || reply.Commands[0].Type != protocol.CmdSetBehavior || reply.Reasoning != "push east" {
		t.Fatalf("reply=%+v", reply)
	}
	if reply.RequestID != "req-1" || reply.Tick != 4 || reply.CommandID != "cmd_4_1700000000" {
		t.Fatalf("correlation=%+v", reply)
	}
	if st := svc.Stats(); st.ModelReplies != 1 || st.ModelErrors != 0 || st.Fallbacks != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestDecideFallsBackOnInvalidModelReply(t *testing.T) {
	for _, content := range []string{
		`not json at all`,
		`{"commands":"SET_BEHAVIOR"}`,
		`[1,2,3]`,
	} {
		srv, _ := fakeChat(t, content)
		svc := newModelService(t, srv.URL, "")
		body, _ := json.Marshal(sampleState(6, 1, 0))
		reply, err := svc.Decide(context.Background(), body)
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if reply.CommandID != "fallback_1700000000" || len(reply.Commands) != 0 {
			t.Fatalf("content %q: reply=%+v", content, reply)
		}
		if st := svc.Stats(); st.ModelErrors != 1 || st.Fallbacks != 1 || st.ModelReplies != 0 {
			t.Fatalf("content %q: stats=%+v", content, st)
		}
	}
}

func TestDecideUsesPlaybookWhenModelUnreachable(t *testing.T) {
	srv, _ := fakeChat(t, `{}`)
	url := srv.URL
	srv.Close()
	svc := newModelService(t, url, testBook)
	body, _ := json.Marshal(sampleState(8, 1, 0))
	reply, err := svc.Decide(context.Background(), body)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if st := svc.Stats(); st.ModelErrors != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if reply.RequestID != "req-1" || reply.Tick != 8 {
		t.Fatalf("reply=%+v", reply)
	}
}

func TestHealthReportsModelReachability(t *testing.T) {
	up, _ := fakeChat(t, `{}`)
	down, _ := fakeChat(t, `{}`)
	downURL := down.URL
	down.Close()

	cases := []struct {
		url       string
		status    string
		reachable bool
	}{
		{up.URL, "ok", true},
		{downURL, "degraded", false},
	}
	for _, tc := range cases {
		svc := newModelService(t, tc.url, "")
		srv := httptest.NewServer(svc.Handler())
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			srv.Close()
			t.Fatalf("get: %v", err)
		}
		var doc struct {
			Status       string `json:"status"`
			Planner      string `json:"planner"`
			LLM          string `json:"llm"`
			LLMReachable bool   `json:"llm_reachable"`
		}
		err = json.NewDecoder(resp.Body).Decode(&doc)
		resp.Body.Close()
		srv.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d err=%v", resp.StatusCode, err)
		}
		if doc.Status != tc.status || doc.LLMReachable != tc.reachable || doc.LLM != "test-model" || doc.Planner != "model" {
			t.Fatalf("url %s: health=%+v", tc.url, doc)
		}
	}
}
