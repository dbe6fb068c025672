package dispatch

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/followup/internal/followup"
)

// Throttle paces dispatches per channel so a burst of drained buckets does
// not flood one provider. A non-positive rate disables pacing.
type Throttle struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottle creates a Throttle allowing perSecond dispatches per channel.
func NewThrottle(perSecond float64, burst int) *Throttle {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Throttle{
		limit:    limit,
		burst:    max(1, burst),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttle) limiter(channel string) *rate.Limiter {
	channel = strings.ToLower(strings.TrimSpace(channel))
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[channel]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[channel] = l
	}
	return l
}

// Middleware returns the throttle as dispatch middleware. A cancelled wait
// fails the dispatch with the context error.
func (t *Throttle) Middleware() Middleware {
	return func(next followup.DispatchFunc) followup.DispatchFunc {
		return func(ctx context.Context, run followup.FollowupRun) error {
			if t.limit != rate.Inf {
				if err := t.limiter(run.Routing.Channel).Wait(ctx); err != nil {
					return err
				}
			}
			return next(ctx, run)
		}
	}
}
