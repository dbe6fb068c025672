// Package followup queues agent turns that arrive while a conversation is busy
// and drains them once the conversation is quiet.
//
// Each conversation bucket (a session key) owns one Queue in a Registry. The
// Scheduler runs at most one drain episode per bucket. An episode replays
// queued turns one by one, collapses them into a single combined prompt
// (collect mode), or first folds in a summary of turns dropped by the queue
// cap.
package followup

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects how a drain episode replays queued turns.
type Mode string

const (
	ModeIndividual Mode = "individual"
	ModeCollect    Mode = "collect"
)

// ParseMode maps a config value onto a Mode. Unknown values fall back to collect.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeIndividual), "followup", "queue":
		return ModeIndividual
	default:
		return ModeCollect
	}
}

// DropPolicy describes what happens when a queue hits its cap.
type DropPolicy string

const (
	DropSummarize DropPolicy = "summarize" // drop oldest, keep a summary line for each
	DropOld       DropPolicy = "old"       // drop oldest silently
	DropNew       DropPolicy = "new"       // reject the incoming item
)

// ParseDropPolicy maps a config value onto a DropPolicy. Unknown values fall back to summarize.
func ParseDropPolicy(s string) DropPolicy {
	switch DropPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case DropOld:
		return DropOld
	case DropNew:
		return DropNew
	default:
		return DropSummarize
	}
}

// ErrNoRunContext is returned when neither a queued item nor the queue's
// last run carries a run context to dispatch with.
var ErrNoRunContext = errors.New("followup: no run context available")

// RunContext is the opaque agent context a turn is executed with.
type RunContext struct {
	AgentID    string            `json:"agent_id,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Model      string            `json:"model,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Routing is where a turn's reply should be delivered.
// ThreadID is a pointer because "" and "0" are valid thread tokens on some channels.
type Routing struct {
	Channel   string  `json:"channel,omitempty"`
	To        string  `json:"to,omitempty"`
	AccountID string  `json:"account_id,omitempty"`
	ThreadID  *string `json:"thread_id,omitempty"`
}

// IsZero reports whether no routing field is set.
func (r Routing) IsZero() bool {
	return r.Channel == "" && r.To == "" && r.AccountID == "" && r.ThreadID == nil
}

// FollowupRun is one queued agent turn.
type FollowupRun struct {
	ID          string      `json:"id"`
	Prompt      string      `json:"prompt"`
	SummaryLine string      `json:"summary_line,omitempty"` // text used when summarizing a dropped turn; defaults to Prompt
	MessageID   string      `json:"message_id,omitempty"`   // upstream message id, used for dedupe
	Run         *RunContext `json:"run,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	Routing     Routing     `json:"routing"`
	// ItemCount is the number of queued turns folded into this run (1 for
	// individual dispatches, 0 for a dropped-turn summary).
	ItemCount int `json:"item_count"`
}

// DropState is the dropped-turn bookkeeping a summary prompt is built from.
type DropState struct {
	Policy       DropPolicy
	DroppedCount int
	SummaryLines []string

	firstLine int // sequence number of SummaryLines[0] within the bucket
}

// DispatchError wraps a dispatcher failure for one bucket.
type DispatchError struct {
	Key string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("followup queue drain failed for %s: %v", e.Key, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
