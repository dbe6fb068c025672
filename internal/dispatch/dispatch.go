// Package dispatch provides DispatchFunc implementations and middleware for
// the follow-up drain scheduler.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/followup/internal/followup"
)

// Middleware wraps a DispatchFunc.
type Middleware func(next followup.DispatchFunc) followup.DispatchFunc

// Chain applies mws around final. The first middleware is outermost.
func Chain(final followup.DispatchFunc, mws ...Middleware) followup.DispatchFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		final = mws[i](final)
	}
	return final
}

// SessionKey returns the bucket a run was drained from, or "" for runs
// without a run context.
func SessionKey(run followup.FollowupRun) string {
	if run.Run == nil {
		return ""
	}
	return run.Run.SessionKey
}

// Printer is a terminal DispatchFunc that writes each run to w. It stands in
// for the agent when replaying transcripts.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

func (p *Printer) Dispatch(_ context.Context, run followup.FollowupRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := run.Routing.Channel
	if run.Routing.To != "" {
		target += ":" + run.Routing.To
	}
	if run.Routing.ThreadID != nil {
		target += "#" + *run.Routing.ThreadID
	}
	if target == "" {
		target = "-"
	}
	_, err := fmt.Fprintf(p.w, "=== %s → %s (%d queued)\n%s\n\n",
		SessionKey(run), target, run.ItemCount, strings.TrimSpace(run.Prompt))
	return err
}

// Logged logs every dispatch outcome through slog.
func Logged() Middleware {
	return func(next followup.DispatchFunc) followup.DispatchFunc {
		return func(ctx context.Context, run followup.FollowupRun) error {
			err := next(ctx, run)
			if err != nil {
				slog.Warn("dispatch: run failed", "session", SessionKey(run), "channel", run.Routing.Channel, "error", err)
				return err
			}
			slog.Debug("dispatch: run delivered", "session", SessionKey(run), "channel", run.Routing.Channel, "items", run.ItemCount)
			return nil
		}
	}
}
