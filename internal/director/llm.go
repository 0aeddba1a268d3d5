package director

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/transport"
)

const (
	chatPath = "/api/chat"
	tagsPath = "/api/tags"

	maxChatBytes = 4 << 20
	pingTimeout  = 5 * time.Second
)

// Model produces a raw reply document for one enriched STATE.
type Model interface {
	Generate(ctx context.Context, state []byte) ([]byte, error)
	Ping(ctx context.Context) bool
	Name() string
}

type LLMConfig struct {
	// BaseURL is the chat server root (Ollama API layout).
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	ContextSize int
	Client      *http.Client
}

// LLMClient talks to a local chat-completion server.
type LLMClient struct {
	base   string
	cfg    LLMConfig
	http   *http.Client
	prompt string
}

func NewLLMClient(cfg LLMConfig) (*LLMClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("llm: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = 4096
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{}
	}
	return &LLMClient{base: base, cfg: cfg, http: hc, prompt: systemPrompt()}, nil
}

func (c *LLMClient) Name() string { return c.cfg.Model }

func (c *LLMClient) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+tagsPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Generate sends the state and returns the model's JSON with any markdown
// fence removed. The result is syntactically valid JSON but not yet checked
// against the reply schema.
func (c *LLMClient) Generate(ctx context.Context, state []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: "Battlefield state follows. Answer with the reply JSON only.\n\n```json\n" + string(state) + "\n```"},
		},
		Format: "json",
		Options: map[string]any{
			"temperature": c.cfg.Temperature,
			"top_p":       0.9,
			"num_ctx":     c.cfg.ContextSize,
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxChatBytes+1))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: status %d: %s", resp.StatusCode, transport.Truncate(raw, 200))
	}
	if len(raw) > maxChatBytes {
		return nil, fmt.Errorf("llm: response exceeds %d bytes", maxChatBytes)
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	content := stripFences(out.Message.Content)
	if !json.Valid(content) {
		return nil, fmt.Errorf("llm: content is not json: %s", transport.Truncate(content, 200))
	}
	return content, nil
}

// stripFences removes a surrounding ``` block, with or without a language
// tag.
func stripFences(s string) []byte {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You direct the AI-controlled forces in a live Game Master session.\n")
	b.WriteString("Read the battlefield state and issue coherent tactical orders for the OPFOR and INDFOR groups.\n")
	b.WriteString("Keep the players under steady pressure and scale it with their losses and held zones.\n")
	b.WriteString("Flank, ambush or withdraw when the situation calls for it, and react to the most recent events.\n\n")
	b.WriteString("Reply with one JSON object and nothing else: no markdown, no prose outside the object.\n")
	b.WriteString(`Shape: {"command_id": string, "reasoning": string, "commands": [{"type": string, "target": string, "params": object}]}` + "\n")
	b.WriteString("Only use positions that appear in the state.\n\n")
	b.WriteString("Command types: " + strings.Join(protocol.CommandTypes(), ", ") + "\n")
	b.WriteString("Formations: LINE, COLUMN, WEDGE, SKIRMISHER, VEE, ECHELON_LEFT, ECHELON_RIGHT\n")
	b.WriteString("Behaviors: SAFE, AWARE, COMBAT, STEALTH\n")
	b.WriteString("Waypoint types: PATROL, ASSAULT, DEFEND, RETREAT, FLANK\n")
	return b.String()
}
