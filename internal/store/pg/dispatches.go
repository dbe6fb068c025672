package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/followup/internal/store"
)

const dispatchSchema = `
CREATE TABLE IF NOT EXISTS followup_dispatches (
	id            UUID PRIMARY KEY,
	session_key   TEXT NOT NULL,
	agent_id      TEXT NOT NULL DEFAULT '',
	channel       TEXT NOT NULL DEFAULT '',
	recipient     TEXT NOT NULL DEFAULT '',
	prompt        TEXT NOT NULL,
	item_count    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	dispatched_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_followup_dispatches_session
	ON followup_dispatches (session_key, dispatched_at DESC);`

// PGDispatchStore implements store.DispatchStore backed by Postgres.
type PGDispatchStore struct {
	db *sql.DB
}

// NewPGDispatchStore opens dsn and ensures the ledger table exists.
func NewPGDispatchStore(ctx context.Context, dsn string) (*PGDispatchStore, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, dispatchSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &PGDispatchStore{db: db}, nil
}

func (s *PGDispatchStore) Record(ctx context.Context, rec store.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO followup_dispatches
		 (id, session_key, agent_id, channel, recipient, prompt, item_count, status, error, dispatched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.SessionKey, rec.AgentID, rec.Channel, rec.Recipient, rec.Prompt,
		rec.ItemCount, rec.Status, rec.Error, rec.DispatchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

func (s *PGDispatchStore) ListBySession(ctx context.Context, sessionKey string, limit int) ([]store.DispatchRecord, error) {
	q := `SELECT id, session_key, agent_id, channel, recipient, prompt, item_count, status, error, dispatched_at
		 FROM followup_dispatches WHERE session_key = $1 ORDER BY dispatched_at DESC`
	args := []interface{}{sessionKey}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var out []store.DispatchRecord
	for rows.Next() {
		var r store.DispatchRecord
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.AgentID, &r.Channel, &r.Recipient,
			&r.Prompt, &r.ItemCount, &r.Status, &r.Error, &r.DispatchedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGDispatchStore) CountByStatus(ctx context.Context) (map[string]int, error) {
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

func (s *PGDispatchStore) Close() error { return s.db.Close() }
