package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// Reader answers admin queries against an index file. It never writes.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB("file:" + path + "?mode=ro")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type TickRow struct {
	SessionID string `json:"session_id"`
	Tick      uint64 `json:"tick"`
	RequestID string `json:"request_id"`
	SentAt    string `json:"sent_at"`
	Players   int    `json:"players"`
	Groups    int    `json:"groups"`
	Missions  int    `json:"missions"`
	Events    int    `json:"events"`
	Digest    string `json:"digest"`
}

// Ticks returns the newest limit ticks, newest first.
func (r *Reader) Ticks(ctx context.Context, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT session_id,tick,request_id,sent_at,players,groups_n,missions,events,digest
		FROM ticks ORDER BY sent_at DESC, tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TickRow
	for rows.Next() {
		var t TickRow
		var tick int64
		if err := rows.Scan(&t.SessionID, &tick, &t.RequestID, &t.SentAt, &t.Players, &t.Groups, &t.Missions, &t.Events, &t.Digest); err != nil {
			return nil, err
		}
		t.Tick = uint64(tick)
		out = append(out, t)
	}
	return out, rows.Err()
}

type CommandRow struct {
	Tick      uint64 `json:"tick"`
	RequestID string `json:"request_id"`
	CommandID string `json:"command_id,omitempty"`
	Index     int    `json:"index"`
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Created   string `json:"created,omitempty"`
	At        string `json:"at"`
}

type CommandFilter struct {
	Tick   uint64
	Action string
	// FailedOnly keeps rows that carry an error code.
	FailedOnly bool
	Limit      int
}

func (r *Reader) Commands(ctx context.Context, f CommandFilter) ([]CommandRow, error) {
	var (
		where []string
		args  []any
	)
	if f.Tick > 0 {
		where = append(where, "tick = ?")
		args = append(args, int64(f.Tick))
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, strings.ToUpper(f.Action))
	}
	if f.FailedOnly {
		where = append(where, "code IS NOT NULL")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := `SELECT tick,request_id,command_id,cmd_index,action,target,code,reason,created,at FROM commands`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY at DESC, seq DESC LIMIT %d", f.Limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommandRow
	for rows.Next() {
		var (
			c                                     CommandRow
			tick                                  int64
			commandID, target, code, reason, made sql.NullString
		)
		if err := rows.Scan(&tick, &c.RequestID, &commandID, &c.Index, &c.Action, &target, &code, &reason, &made, &c.At); err != nil {
			return nil, err
		}
		c.Tick = uint64(tick)
		c.CommandID = commandID.String
		c.Target = target.String
		c.Code = code.String
		c.Reason = reason.String
		c.Created = made.String
		out = append(out, c)
	}
	return out, rows.Err()
}
