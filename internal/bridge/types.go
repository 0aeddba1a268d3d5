package bridge

import (
	"encoding/json"
	"time"

	"tacbridge.ai/internal/groups"
)

type Config struct {
	TickInterval   time.Duration
	WarmupDelay    time.Duration
	RequestTimeout time.Duration
	Debug          bool
	// DiscardStale drops a reply whose request tick is older than the newest
	// reply already applied.
	DiscardStale bool

	SessionID             string
	MapName               string
	BroadcastTitle        string
	ReinforcementTemplate string
	EventCapacity         int
	MaxReinforcements     int
	Templates             groups.Templates
}

func (c *Config) normalize() {
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = 3 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Settings are the catalog-driven values that may change at runtime.
type Settings struct {
	MapName        string
	BroadcastTitle string
	Templates      groups.Templates
}

type Counters struct {
	StatesSent       uint64 `json:"states_sent"`
	RepliesApplied   uint64 `json:"replies_applied"`
	RepliesStale     uint64 `json:"replies_stale"`
	HTTPErrors       uint64 `json:"http_errors"`
	TransportErrors  uint64 `json:"transport_errors"`
	ProtocolErrors   uint64 `json:"protocol_errors"`
	CommandsExecuted uint64 `json:"commands_executed"`
	CommandsUnknown  uint64 `json:"commands_unknown"`
	CommandsFailed   uint64 `json:"commands_failed"`
	TriggersFired    uint64 `json:"triggers_fired"`
}

type Status struct {
	SessionID     string   `json:"session_id"`
	Tick          uint64   `json:"tick"`
	Active        bool     `json:"active"`
	InFlight      int      `json:"in_flight"`
	LastApplied   uint64   `json:"last_applied_tick"`
	LastCommandID string   `json:"last_command_id,omitempty"`
	LastError     string   `json:"last_error,omitempty"`
	Groups        int      `json:"groups"`
	Missions      int      `json:"missions"`
	QueuedEvents  int      `json:"queued_events"`
	DroppedEvents uint64   `json:"dropped_events"`
	Counters      Counters `json:"counters"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// TickLogEntry describes one STATE document as sent.
type TickLogEntry struct {
	Tick      uint64          `json:"tick"`
	RequestID string          `json:"request_id"`
	SessionID string          `json:"session_id"`
	SentAt    time.Time       `json:"sent_at"`
	Players   int             `json:"players"`
	Groups    int             `json:"groups"`
	Missions  int             `json:"missions"`
	Events    int             `json:"events"`
	Digest    string          `json:"digest"`
	State     json.RawMessage `json:"state,omitempty"`
}

// Reply-level audit actions. Command entries use the command type.
const (
	ActionReplyStale     = "REPLY_STALE"
	ActionReplyRejected  = "REPLY_REJECTED"
	ActionReplyHTTPError = "REPLY_HTTP_ERROR"
	ActionReplyFailed    = "REPLY_TRANSPORT_ERROR"
)

type AuditEntry struct {
	Tick      uint64    `json:"tick"`
	RequestID string    `json:"request_id"`
	CommandID string    `json:"command_id,omitempty"`
	Seq       int       `json:"seq"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Code      string    `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Created   []string  `json:"created,omitempty"`
	At        time.Time `json:"at"`
}
