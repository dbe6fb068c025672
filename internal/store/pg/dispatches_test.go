package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/followup/internal/store"
)

func TestNewPGDispatchStore_Unreachable(t *testing.T) {
	_, err := NewPGDispatchStore(context.Background(), "postgres://followup@127.0.0.1:1/followup?connect_timeout=1&sslmode=disable")
	if err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
}

// Runs against a real server when FOLLOWUP_POSTGRES_DSN is set.
func TestPGDispatchStore_RecordAndList(t *testing.T) {
	dsn := os.Getenv("FOLLOWUP_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FOLLOWUP_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPGDispatchStore(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	before, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh session key keeps runs against a shared database independent.
	key := "agent:test:" + uuid.NewString()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	recs := []store.DispatchRecord{
		{ID: uuid.New(), SessionKey: key, AgentID: "test", Channel: "telegram", Recipient: "42", Prompt: "one", ItemCount: 1, Status: store.DispatchStatusDelivered, DispatchedAt: base},
		{ID: uuid.New(), SessionKey: key, Prompt: "two", ItemCount: 2, Status: store.DispatchStatusFailed, Error: "agent unavailable", DispatchedAt: base.Add(time.Second)},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListBySession(ctx, key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Prompt != "two" || got[1].Prompt != "one" {
		t.Fatalf("ListBySession() = %+v, want two then one", got)
	}
	if got[0].ID != recs[1].ID || got[0].Error != "agent unavailable" || !got[0].DispatchedAt.Equal(recs[1].DispatchedAt) {
		t.Errorf("record mismatch: %+v", got[0])
	}
	if got[1].Channel != "telegram" || got[1].Recipient != "42" || got[1].AgentID != "test" {
		t.Errorf("record mismatch: %+v", got[1])
	}

	limited, err := s.ListBySession(ctx, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d records", len(limited))
	}

	after, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after[store.DispatchStatusDelivered]-before[store.DispatchStatusDelivered] < 1 ||
		after[store.DispatchStatusFailed]-before[store.DispatchStatusFailed] < 1 {
		t.Errorf("counts before=%v after=%v", before, after)
	}
}
