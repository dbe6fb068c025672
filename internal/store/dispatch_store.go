package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Dispatch statuses recorded in the ledger.
const (
	DispatchStatusDelivered = "delivered"
	DispatchStatusFailed    = "failed"
)

// DispatchRecord is one ledger row: a turn handed to the agent by a drain episode.
type DispatchRecord struct {
	ID           uuid.UUID `json:"id"`
	SessionKey   string    `json:"session_key"`
	AgentID      string    `json:"agent_id,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	Prompt       string    `json:"prompt"`
	ItemCount    int       `json:"item_count"` // queued turns folded into this dispatch (0 = dropped-turn summary)
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// DispatchStore persists the dispatch ledger.
type DispatchStore interface {
	Record(ctx context.Context, rec DispatchRecord) error
	// ListBySession returns the newest records first. limit <= 0 means no limit.
	ListBySession(ctx context.Context, sessionKey string, limit int) ([]DispatchRecord, error)
	// CountByStatus returns record counts keyed by status.
	CountByStatus(ctx context.Context) (map[string]int, error)
	Close() error
}

// StoreConfig selects and configures the ledger backend.
type StoreConfig struct {
	Driver      string // "sqlite" (default) or "postgres"
	SQLitePath  string
	PostgresDSN string
}
