package followup

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
)

// summaryLineWidth caps a dropped-turn summary line, in display columns.
const summaryLineWidth = 160

// Registry maps bucket keys to queues. Safe for concurrent use.
//
// Enqueue and DeleteIfDrained both hold the registry write lock while touching
// the queue, so an item can never be appended to a bucket that is being removed.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*Queue
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue), now: time.Now}
}

// Get returns the queue for key, or nil.
func (r *Registry) Get(key string) *Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queues[key]
}

// GetOrCreate returns the queue for key, creating it with s if absent.
func (r *Registry) GetOrCreate(key string, s Settings) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(key, s)
}

func (r *Registry) getOrCreateLocked(key string, s Settings) *Queue {
	if q, ok := r.queues[key]; ok {
		return q
	}
	q := newQueue(key, s)
	r.queues[key] = q
	return q
}

// Delete removes key unconditionally. Deleting an absent key is a no-op.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	delete(r.queues, key)
	r.mu.Unlock()
}

// DeleteIfDrained removes q from the registry when it holds no items and no
// dropped turns. It reports whether the bucket is drained.
func (r *Registry) DeleteIfDrained(q *Queue) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.pending() {
		return false
	}
	if cur, ok := r.queues[q.key]; ok && cur == q {
		delete(r.queues, q.key)
	}
	return true
}

// Keys returns the registered bucket keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.queues))
	for k := range r.queues {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered buckets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

// Enqueue appends run to the bucket for key, creating the bucket if needed.
// It returns false when the run was not queued: a duplicate of a queued
// message, or rejected by DropNew at the cap.
func (r *Registry) Enqueue(key string, run FollowupRun, s Settings) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.getOrCreateLocked(key, s)
	q.mu.Lock()
	defer q.mu.Unlock()

	q.applySettings(s)
	if q.isQueuedLocked(run) {
		return false
	}
	if !q.applyDropPolicyLocked() {
		return false
	}

	now := r.now()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.EnqueuedAt.IsZero() {
		run.EnqueuedAt = now
	}
	run.ItemCount = 1
	q.lastEnqueuedAt = now
	if run.Run != nil {
		q.lastRun = run.Run
	}
	q.items = append(q.items, run)
	return true
}

func (q *Queue) isQueuedLocked(run FollowupRun) bool {
	if run.MessageID == "" {
		return false
	}
	for _, it := range q.items {
		if it.MessageID == run.MessageID &&
			it.Routing.Channel == run.Routing.Channel &&
			it.Routing.To == run.Routing.To {
			return true
		}
	}
	return false
}

// applyDropPolicyLocked makes room for one more item. It returns false if the
// incoming item must be rejected.
func (q *Queue) applyDropPolicyLocked() bool {
	if q.cap <= 0 || len(q.items) < q.cap {
		return true
	}
	if q.dropPolicy == DropNew {
		return false
	}
	n := len(q.items) - q.cap + 1
	dropped := q.items[:n]
	q.items = append([]FollowupRun(nil), q.items[n:]...)
	if q.dropPolicy != DropSummarize {
		return true
	}
	for _, it := range dropped {
		text := it.SummaryLine
		if strings.TrimSpace(text) == "" {
			text = it.Prompt
		}
		q.droppedCount++
		q.summaryLines = append(q.summaryLines, SummaryLine(text))
	}
	if over := len(q.summaryLines) - q.cap; over > 0 {
		q.summaryLines = append([]string(nil), q.summaryLines[over:]...)
		q.summaryStart += over
	}
	return true
}

// SummaryLine collapses whitespace and elides text to one summary line.
func SummaryLine(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if runewidth.StringWidth(cleaned) <= summaryLineWidth {
		return cleaned
	}
	return strings.TrimRight(runewidth.Truncate(cleaned, summaryLineWidth-1, ""), " ") + "…"
}
