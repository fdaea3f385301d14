// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history persists lifecycle and invocation events in a local
// SQLite database so operators can see what the daemon did after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/flowgate/internal/lifecycle"
)

// Entry is one persisted event.
type Entry struct {
	ID         int64         `json:"id"`
	Time       time.Time     `json:"time"`
	Action     string        `json:"action"`
	WorkflowID string        `json:"workflow_id,omitempty"`
	Outcome    string        `json:"outcome"`
	Detail     string        `json:"detail,omitempty"`
	DurationMs int64         `json:"duration_ms,omitempty"`
	Duration   time.Duration `json:"-"`
}

// Config contains history store configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// Retention caps the number of rows kept; older rows are pruned on
	// insert. Zero keeps everything.
	Retention int
}

// Store is a SQLite-backed event log. It implements lifecycle.Recorder.
type Store struct {
	db        *sql.DB
	retention int
	logger    *slog.Logger
}

// Open creates or opens the history database and applies the schema.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// WAL mode for concurrent reads while the daemon writes
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	store := &Store{db: db, retention: cfg.Retention, logger: logger}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run history migrations: %w", err)
	}
	return store, nil
}

// migrate creates the schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time INTEGER NOT NULL,
			action TEXT NOT NULL,
			workflow_id TEXT,
			outcome TEXT NOT NULL,
			detail TEXT,
			duration_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_workflow ON events(workflow_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Record persists one lifecycle event. Failures are logged and swallowed:
// history must never fail an operation.
func (s *Store) Record(ctx context.Context, event lifecycle.Event) {
	when := event.Time
	if when.IsZero() {
		when = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (time, action, workflow_id, outcome, detail, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		when.UnixMilli(), event.Action, event.WorkflowID, event.Outcome,
		event.Detail, event.Duration.Milliseconds(),
	)
	if err != nil {
		s.logger.Warn("failed to record history event",
			slog.String("action", event.Action),
			slog.Any("error", err),
		)
		return
	}

	if s.retention > 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE id NOT IN (
				SELECT id FROM events ORDER BY id DESC LIMIT ?
			)`, s.retention,
		)
		if err != nil {
			s.logger.Warn("failed to prune history", slog.Any("error", err))
		}
	}
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, time, action, COALESCE(workflow_id, ''), outcome,
		        COALESCE(detail, ''), COALESCE(duration_ms, 0)
		 FROM events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var unixMilli int64
		if err := rows.Scan(&e.ID, &unixMilli, &e.Action, &e.WorkflowID, &e.Outcome, &e.Detail, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Time = time.UnixMilli(unixMilli).UTC()
		e.Duration = time.Duration(e.DurationMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
