// Package sqlite implements the dispatch ledger on an embedded SQLite file
// (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/followup/internal/store"
)

const dispatchSchema = `
CREATE TABLE IF NOT EXISTS followup_dispatches (
	id            TEXT PRIMARY KEY,
	session_key   TEXT NOT NULL,
	agent_id      TEXT NOT NULL DEFAULT '',
	channel       TEXT NOT NULL DEFAULT '',
	recipient     TEXT NOT NULL DEFAULT '',
	prompt        TEXT NOT NULL,
	item_count    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	dispatched_at INTEGER NOT NULL -- unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_followup_dispatches_session
	ON followup_dispatches (session_key, dispatched_at DESC);`

// DispatchStore implements store.DispatchStore on SQLite.
type DispatchStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path. Use ":memory:" for an
// in-process ledger.
func Open(ctx context.Context, path string) (*DispatchStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, dispatchSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &DispatchStore{db: db}, nil
}

func (s *DispatchStore) Record(ctx context.Context, rec store.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO followup_dispatches
		 (id, session_key, agent_id, channel, recipient, prompt, item_count, status, error, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.SessionKey, rec.AgentID, rec.Channel, rec.Recipient, rec.Prompt,
		rec.ItemCount, rec.Status, rec.Error, rec.DispatchedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

func (s *DispatchStore) ListBySession(ctx context.Context, sessionKey string, limit int) ([]store.DispatchRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, agent_id, channel, recipient, prompt, item_count, status, error, dispatched_at
		 FROM followup_dispatches WHERE session_key = ? ORDER BY dispatched_at DESC, rowid DESC LIMIT ?`,
		sessionKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var out []store.DispatchRecord
	for rows.Next() {
		var (
			r  store.DispatchRecord
			id string
			ts int64
		)
		if err := rows.Scan(&id, &r.SessionKey, &r.AgentID, &r.Channel, &r.Recipient,
			&r.Prompt, &r.ItemCount, &r.Status, &r.Error, &ts); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("dispatch id %q: %w", id, err)
		}
		r.DispatchedAt = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DispatchStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM followup_dispatches GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count dispatches: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *DispatchStore) Close() error { return s.db.Close() }
