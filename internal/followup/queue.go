package followup

import (
	"slices"
	"sync"
	"time"
)

// Settings configure a bucket. Mode is fixed when the bucket is created; the
// rest is refreshed on every enqueue so config reloads take effect.
type Settings struct {
	Mode       Mode
	DropPolicy DropPolicy
	Cap        int           // max queued items, 0 = unbounded
	Debounce   time.Duration // quiet window before draining
}

// Queue is the follow-up state of one bucket. All fields are guarded by mu;
// the drain loop never holds mu across a gate wait or a dispatch.
type Queue struct {
	mu sync.Mutex

	key            string
	items          []FollowupRun
	mode           Mode
	dropPolicy     DropPolicy
	cap            int
	debounce       time.Duration
	draining       bool
	lastRun        *RunContext
	lastEnqueuedAt time.Time
	lastFailureAt  time.Time
	lastErr        error
	droppedCount   int
	summaryLines   []string
	summaryStart   int // sequence number of summaryLines[0]; grows as lines are trimmed
}

func newQueue(key string, s Settings) *Queue {
	q := &Queue{key: key, mode: s.Mode}
	if q.mode == "" {
		q.mode = ModeCollect
	}
	q.applySettings(s)
	return q
}

func (q *Queue) applySettings(s Settings) {
	q.dropPolicy = s.DropPolicy
	if q.dropPolicy == "" {
		q.dropPolicy = DropSummarize
	}
	q.cap = max(0, s.Cap)
	q.debounce = max(0, s.Debounce)
}

// Key returns the bucket key.
func (q *Queue) Key() string { return q.key }

// Mode returns the bucket's drain mode.
func (q *Queue) Mode() Mode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}

// Debounce returns the quiet window and the last enqueue time.
func (q *Queue) Debounce() (time.Duration, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.debounce, q.lastEnqueuedAt
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queued items in arrival order.
func (q *Queue) Items() []FollowupRun {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// SetLastRun sets the fallback run context used for summaries and collapses.
func (q *Queue) SetLastRun(run *RunContext) {
	q.mu.Lock()
	q.lastRun = run
	q.mu.Unlock()
}

// RecordDropped adds dropped-turn bookkeeping directly, for producers that
// drop turns before they reach the queue.
func (q *Queue) RecordDropped(lines ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.droppedCount += len(lines)
	for _, l := range lines {
		q.summaryLines = append(q.summaryLines, SummaryLine(l))
	}
}

// Stats is a point-in-time view of a bucket.
type Stats struct {
	Key           string
	Mode          Mode
	Queued        int
	Dropped       int
	Draining      bool
	LastFailureAt time.Time
	LastError     error
}

// Stats returns a snapshot of the bucket.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Key:           q.key,
		Mode:          q.mode,
		Queued:        len(q.items),
		Dropped:       q.droppedCount,
		Draining:      q.draining,
		LastFailureAt: q.lastFailureAt,
		LastError:     q.lastErr,
	}
}

// --- drain-side helpers (callers must not hold mu) ---

// claim sets draining, returning false if another episode owns the bucket.
func (q *Queue) claim() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining {
		return false
	}
	q.draining = true
	return true
}

func (q *Queue) release() {
	q.mu.Lock()
	q.draining = false
	q.mu.Unlock()
}

func (q *Queue) pendingLocked() bool {
	return len(q.items) > 0 || q.droppedCount > 0
}

func (q *Queue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *Queue) head() (FollowupRun, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return FollowupRun{}, false
	}
	return q.items[0], true
}

// remove deletes the items with the given ids, keeping the order of the rest.
// Items already gone (dropped by the cap meanwhile) are ignored.
func (q *Queue) remove(ids ...string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = slices.DeleteFunc(q.items, func(it FollowupRun) bool {
		_, ok := set[it.ID]
		return ok
	})
}

func (q *Queue) dropState() DropState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return DropState{
		Policy:       q.dropPolicy,
		DroppedCount: q.droppedCount,
		SummaryLines: slices.Clone(q.summaryLines),
		firstLine:    q.summaryStart,
	}
}

// clearDropState forgets dropped turns that a dispatched summary accounted
// for. Turns dropped while that summary was in flight are kept, even when the
// line cap trimmed part of the folded snapshot in the meantime.
func (q *Queue) clearDropState(folded DropState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.droppedCount = max(0, q.droppedCount-folded.DroppedCount)

	end := folded.firstLine + len(folded.SummaryLines)
	n := min(len(q.summaryLines), max(0, end-q.summaryStart))
	q.summaryLines = slices.Clone(q.summaryLines[n:])
	q.summaryStart += n
}

func (q *Queue) lastRunContext() *RunContext {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastRun
}

func (q *Queue) recordDispatched(run *RunContext) {
	if run == nil {
		return
	}
	q.mu.Lock()
	q.lastRun = run
	q.mu.Unlock()
}

func (q *Queue) markFailure(now time.Time, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastFailureAt = now
	q.lastEnqueuedAt = now
	q.lastErr = err
}
