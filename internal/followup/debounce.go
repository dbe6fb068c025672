package followup

import (
	"context"
	"time"
)

// Gate suspends a drain episode until its bucket is quiet.
type Gate interface {
	Wait(ctx context.Context, q *Queue) error
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, q *Queue) error

func (f GateFunc) Wait(ctx context.Context, q *Queue) error { return f(ctx, q) }

// QuietGate waits until the bucket's debounce window has passed since the
// last enqueue. Every enqueue moves the deadline, so it re-checks after each
// sleep.
type QuietGate struct {
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// NewQuietGate returns a QuietGate on the wall clock.
func NewQuietGate() *QuietGate {
	return &QuietGate{Now: time.Now, After: time.After}
}

func (g *QuietGate) Wait(ctx context.Context, q *Queue) error {
	for {
		window, last := q.Debounce()
		if window <= 0 {
			return nil
		}
		since := g.Now().Sub(last)
		if since >= window {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.After(window - since):
		}
	}
}
