package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DispatchFunc executes one turn against the agent. A returned error aborts
// the drain episode.
type DispatchFunc func(ctx context.Context, run FollowupRun) error

// ErrorSink receives drain failures.
type ErrorSink func(key string, err error)

// Scheduler drains follow-up queues, at most one episode per bucket.
type Scheduler struct {
	registry *Registry
	gate     Gate
	composer Composer
	extract  RouteExtractor
	onError  ErrorSink
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGate replaces the debounce gate (default: NewQuietGate()).
func WithGate(g Gate) Option { return func(s *Scheduler) { s.gate = g } }

// WithComposer replaces the prompt composer.
func WithComposer(c Composer) Option { return func(s *Scheduler) { s.composer = c } }

// WithRouteExtractor replaces the cross-channel metadata extractor.
func WithRouteExtractor(fn RouteExtractor) Option { return func(s *Scheduler) { s.extract = fn } }

// WithRoutable sets the routability predicate used by the default extractor.
func WithRoutable(fn Routable) Option {
	return func(s *Scheduler) { s.extract = RoutingOutcome(fn) }
}

// WithErrorSink replaces the failure sink (default: slog.Error).
func WithErrorSink(fn ErrorSink) Option { return func(s *Scheduler) { s.onError = fn } }

// WithClock overrides time.Now for dispatch timestamps and failure bookkeeping.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// NewScheduler creates a scheduler draining queues held in reg.
func NewScheduler(reg *Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: reg,
		gate:     NewQuietGate(),
		composer: DefaultComposer{Noun: "message"},
		extract:  RoutingOutcome(DefaultRoutable.Routable),
		now:      time.Now,
		onError: func(key string, err error) {
			slog.Error("followup: drain failed", "key", key, "error", err)
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// DefaultRoutable lists channels whose replies can be routed back to the sender.
var DefaultRoutable = NewChannelSet(
	"telegram", "discord", "slack", "whatsapp", "signal",
	"imessage", "feishu", "zalo", "msteams", "googlechat",
)

// Registry returns the registry the scheduler drains.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Schedule starts a drain episode for key unless one is already running.
// Calls for absent keys or while the bucket is draining are no-ops.
func (s *Scheduler) Schedule(key string, dispatch DispatchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	q := s.registry.Get(key)
	if q == nil || !q.claim() {
		return
	}
	s.wg.Add(1)
	go s.drain(q, dispatch)
}

// Wait blocks until no drain episode is running.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Stop cancels in-flight episodes and waits for them. Queued items stay in
// the registry.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Stats returns a snapshot of every registered bucket.
func (s *Scheduler) Stats() []Stats {
	keys := s.registry.Keys()
	out := make([]Stats, 0, len(keys))
	for _, k := range keys {
		if q := s.registry.Get(k); q != nil {
			out = append(out, q.Stats())
		}
	}
	return out
}

func (s *Scheduler) drain(q *Queue, dispatch DispatchFunc) {
	defer s.wg.Done()

	aborted := false
	defer func() {
		if r := recover(); r != nil {
			aborted = true
			s.fail(q, fmt.Errorf("panic: %v", r))
		}
		q.release()
		if s.registry.DeleteIfDrained(q) {
			slog.Debug("followup: bucket drained", "key", q.key)
			return
		}
		if !aborted {
			s.Schedule(q.key, dispatch)
		}
	}()

	if err := s.runEpisode(q, dispatch); err != nil {
		aborted = true
		if errors.Is(err, ErrNoRunContext) {
			slog.Warn("followup: no run context, leaving items queued", "key", q.key, "queued", q.Len())
			return
		}
		s.fail(q, err)
	}
}

func (s *Scheduler) fail(q *Queue, err error) {
	q.markFailure(s.now(), err)
	var de *DispatchError
	if !errors.As(err, &de) {
		err = &DispatchError{Key: q.key, Err: err}
	}
	s.onError(q.key, err)
}

// runEpisode loops until the bucket is empty or a step fails.
func (s *Scheduler) runEpisode(q *Queue, dispatch DispatchFunc) error {
	// Once a batch turned out mixed, this episode never collapses again, even
	// if the remaining items would be compatible.
	forceIndividual := false

	for q.pending() {
		if err := s.gate.Wait(s.ctx, q); err != nil {
			return fmt.Errorf("debounce: %w", err)
		}

		if q.Mode() == ModeCollect && !forceIndividual {
			items := q.Items()
			if HasCrossChannelItems(items, s.extract) {
				slog.Debug("followup: cross-channel batch, dispatching individually", "key", q.key, "queued", len(items))
				forceIndividual = true
				if err := s.dispatchHead(q, dispatch); err != nil {
					return err
				}
				continue
			}
			if HasCrossAgentItems(items) {
				slog.Debug("followup: cross-agent batch, dispatching individually", "key", q.key, "queued", len(items))
				forceIndividual = true
				if err := s.dispatchHead(q, dispatch); err != nil {
					return err
				}
				continue
			}
			if err := s.collapse(q, items, dispatch); err != nil {
				return err
			}
			continue
		}

		if err := s.dispatchNext(q, dispatch); err != nil {
			return err
		}
	}
	return nil
}

// collapse dispatches a snapshot of the queue as one combined run. Only the
// snapshotted items are removed, so turns arriving during dispatch stay queued.
func (s *Scheduler) collapse(q *Queue, items []FollowupRun, dispatch DispatchFunc) error {
	state := q.dropState()
	var summary string
	hasSummary := false
	if state.DroppedCount > 0 {
		summary, hasSummary = s.composer.Summary(state)
	}
	if len(items) == 0 && !hasSummary {
		q.clearDropState(state)
		return nil
	}

	var run *RunContext
	if len(items) > 0 {
		run = items[len(items)-1].Run
	}
	if run == nil {
		run = q.lastRunContext()
	}
	if run == nil {
		return ErrNoRunContext
	}

	combined := FollowupRun{
		ID:         uuid.NewString(),
		Prompt:     s.composer.Collect(CollectTitle, items, summary, RenderQueued),
		Run:        run,
		EnqueuedAt: s.now(),
		Routing:    firstRouting(items),
		ItemCount:  len(items),
	}
	if err := s.dispatchRun(q, dispatch, combined); err != nil {
		return err
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	q.remove(ids...)
	if state.DroppedCount > 0 {
		q.clearDropState(state)
	}
	q.recordDispatched(run)
	slog.Debug("followup: collapsed queued turns", "key", q.key, "items", len(items), "summary", hasSummary)
	return nil
}

// dispatchNext handles one step of individual replay: a pending dropped-turn
// summary goes first as its own run, otherwise the head item.
func (s *Scheduler) dispatchNext(q *Queue, dispatch DispatchFunc) error {
	state := q.dropState()
	if state.DroppedCount > 0 {
		summary, ok := s.composer.Summary(state)
		if !ok {
			q.clearDropState(state)
			return nil
		}
		run := q.lastRunContext()
		if run == nil {
			return ErrNoRunContext
		}
		err := s.dispatchRun(q, dispatch, FollowupRun{
			ID:         uuid.NewString(),
			Prompt:     summary,
			Run:        run,
			EnqueuedAt: s.now(),
		})
		if err != nil {
			return err
		}
		// The head item stays queued; it is dispatched on the next iteration.
		q.clearDropState(state)
		return nil
	}
	return s.dispatchHead(q, dispatch)
}

func (s *Scheduler) dispatchHead(q *Queue, dispatch DispatchFunc) error {
	next, ok := q.head()
	if !ok {
		return nil
	}
	if err := s.dispatchRun(q, dispatch, next); err != nil {
		return err
	}
	q.remove(next.ID)
	q.recordDispatched(next.Run)
	return nil
}

func (s *Scheduler) dispatchRun(q *Queue, dispatch DispatchFunc, run FollowupRun) error {
	if err := dispatch(s.ctx, run); err != nil {
		return &DispatchError{Key: q.key, Err: err}
	}
	return nil
}

// firstRouting picks each routing field from the first item that carries it.
func firstRouting(items []FollowupRun) Routing {
	var r Routing
	for _, it := range items {
		if r.Channel == "" {
			r.Channel = it.Routing.Channel
		}
		if r.To == "" {
			r.To = it.Routing.To
		}
		if r.AccountID == "" {
			r.AccountID = it.Routing.AccountID
		}
		if r.ThreadID == nil && it.Routing.ThreadID != nil {
			t := *it.Routing.ThreadID
			r.ThreadID = &t
		}
	}
	return r
}
