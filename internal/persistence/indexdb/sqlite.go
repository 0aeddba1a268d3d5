// Package indexdb keeps a queryable SQLite index of the tick and audit
// journals. It is write-behind: the bridge never blocks on it and entries
// are dropped when the writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tacbridge.ai/internal/bridge"
)

const defaultQueue = 65536

// Fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTicks   atomic.Uint64
	dropAudits  atomic.Uint64
	writeErrors atomic.Uint64
	written     atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
)

type req struct {
	kind  reqKind
	tick  bridge.TickLogEntry
	audit bridge.AuditEntry
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	DropTickTotal   uint64 `json:"drop_tick_total"`
	DropAuditTotal  uint64 `json:"drop_audit_total"`
	WriteErrorTotal uint64 `json:"write_error_total"`
	RowsTotal       uint64 `json:"rows_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, defaultQueue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			request_id TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			players INTEGER NOT NULL,
			groups_n INTEGER NOT NULL,
			missions INTEGER NOT NULL,
			events INTEGER NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (session_id, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_request ON ticks(request_id);`,
		`CREATE TABLE IF NOT EXISTS commands (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			request_id TEXT NOT NULL,
			command_id TEXT,
			cmd_index INTEGER NOT NULL,
			action TEXT NOT NULL,
			target TEXT,
			code TEXT,
			reason TEXT,
			created TEXT,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (request_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_tick ON commands(tick);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_action_tick ON commands(action, tick);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry bridge.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// The JSONL journal remains the source of truth.
		s.dropTicks.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry bridge.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudits.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropTickTotal:   s.dropTicks.Load(),
		DropAuditTotal:  s.dropAudits.Load(),
		WriteErrorTotal: s.writeErrors.Load(),
		RowsTotal:       s.written.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(session_id,tick,request_id,sent_at,players,groups_n,missions,events,digest) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(tick,seq,request_id,command_id,cmd_index,action,target,code,reason,created,at,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertCommand != nil {
			_ = insertCommand.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastRequest string
		seq         int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			if insertTick == nil {
				break
			}
			if _, err := tx.Stmt(insertTick).Exec(
				t.SessionID,
				int64(t.Tick),
				t.RequestID,
				t.SentAt.UTC().Format(timeLayout),
				t.Players,
				t.Groups,
				t.Missions,
				t.Events,
				t.Digest,
			); err != nil {
				rollback()
				continue
			}
			opCount++
			s.written.Add(1)

		case reqAudit:
			a := r.audit
			if a.RequestID != lastRequest {
				lastRequest = a.RequestID
				seq = 0
			}
			rowSeq := seq
			seq++
			if insertCommand == nil {
				break
			}
			raw, _ := json.Marshal(a)
			if _, err := tx.Stmt(insertCommand).Exec(
				int64(a.Tick),
				rowSeq,
				a.RequestID,
				nullable(a.CommandID),
				a.Seq,
				a.Action,
				nullable(a.Target),
				nullable(a.Code),
				nullable(a.Reason),
				nullable(strings.Join(a.Created, ",")),
				a.At.UTC().Format(timeLayout),
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			s.written.Add(1)
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
