package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/followup/internal/followup"
	"github.com/nextlevelbuilder/followup/internal/store"
)

// Ledger records every dispatch and its outcome in st. A ledger write
// failure is logged, never turned into a dispatch failure.
func Ledger(st store.DispatchStore, now func() time.Time) Middleware {
	if now == nil {
		now = time.Now
	}
	return func(next followup.DispatchFunc) followup.DispatchFunc {
		return func(ctx context.Context, run followup.FollowupRun) error {
			err := next(ctx, run)

			rec := store.DispatchRecord{
				ID:           uuid.New(),
				SessionKey:   SessionKey(run),
				Channel:      run.Routing.Channel,
				Recipient:    run.Routing.To,
				Prompt:       run.Prompt,
				ItemCount:    run.ItemCount,
				Status:       store.DispatchStatusDelivered,
				DispatchedAt: now(),
			}
			if run.Run != nil {
				rec.AgentID = run.Run.AgentID
			}
			if err != nil {
				rec.Status = store.DispatchStatusFailed
				rec.Error = err.Error()
			}
			// A cancelled dispatch still deserves a ledger row.
			if werr := st.Record(context.WithoutCancel(ctx), rec); werr != nil {
				slog.Warn("dispatch: ledger write failed", "session", rec.SessionKey, "error", werr)
			}
			return err
		}
	}
}
