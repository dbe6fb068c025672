package followup

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
)

func TestEnqueue_DropPolicies(t *testing.T) {
	tests := []struct {
		name        string
		policy      DropPolicy
		wantItems   string
		wantDropped int
		wantLines   []string
		wantLastOK  bool
	}{
		{"summarize", DropSummarize, "c,d", 2, []string{"a", "b"}, true},
		{"old", DropOld, "c,d", 0, nil, true},
		{"new", DropNew, "a,b", 0, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			s := Settings{Mode: ModeIndividual, DropPolicy: tt.policy, Cap: 2}
			var ok bool
			for _, p := range []string{"a", "b", "c", "d"} {
				ok = r.Enqueue("k", FollowupRun{Prompt: p}, s)
			}
			if ok != tt.wantLastOK {
				t.Errorf("last Enqueue = %v, want %v", ok, tt.wantLastOK)
			}

			q := r.Get("k")
			var got []string
			for _, it := range q.Items() {
				got = append(got, it.Prompt)
			}
			if strings.Join(got, ",") != tt.wantItems {
				t.Errorf("items = %v, want %s", got, tt.wantItems)
			}
			st := q.dropState()
			if st.DroppedCount != tt.wantDropped {
				t.Errorf("DroppedCount = %d, want %d", st.DroppedCount, tt.wantDropped)
			}
			if strings.Join(st.SummaryLines, "|") != strings.Join(tt.wantLines, "|") {
				t.Errorf("SummaryLines = %v, want %v", st.SummaryLines, tt.wantLines)
			}
		})
	}
}

func TestEnqueue_SummaryLinesCappedAndUseSummaryText(t *testing.T) {
	r := NewRegistry()
	s := Settings{DropPolicy: DropSummarize, Cap: 1}
	r.Enqueue("k", FollowupRun{Prompt: "long prompt one", SummaryLine: "  first\n  message "}, s)
	r.Enqueue("k", FollowupRun{Prompt: "second"}, s)
	r.Enqueue("k", FollowupRun{Prompt: "third"}, s)

	st := r.Get("k").dropState()
	if st.DroppedCount != 2 {
		t.Errorf("DroppedCount = %d, want 2", st.DroppedCount)
	}
	if len(st.SummaryLines) != 1 || st.SummaryLines[0] != "second" {
		t.Errorf("SummaryLines = %q, want only the newest line", st.SummaryLines)
	}
}

func TestEnqueue_AssignsIDAndTimestamps(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return now }
	run := &RunContext{AgentID: "default"}

	r.Enqueue("k", FollowupRun{Prompt: "hi", Run: run}, Settings{Debounce: time.Second})
	q := r.Get("k")
	it := q.Items()[0]
	if it.ID == "" {
		t.Error("expected an item id")
	}
	if !it.EnqueuedAt.Equal(now) {
		t.Errorf("EnqueuedAt = %v, want %v", it.EnqueuedAt, now)
	}
	window, last := q.Debounce()
	if window != time.Second || !last.Equal(now) {
		t.Errorf("Debounce() = (%v, %v)", window, last)
	}
	if q.lastRunContext() != run {
		t.Error("expected last run to track the enqueued run")
	}
	if q.Mode() != ModeCollect {
		t.Errorf("default mode = %q, want collect", q.Mode())
	}
}

func TestEnqueue_ModeFixedAtCreation(t *testing.T) {
	r := NewRegistry()
	r.Enqueue("k", FollowupRun{Prompt: "a"}, Settings{Mode: ModeIndividual})
	r.Enqueue("k", FollowupRun{Prompt: "b"}, Settings{Mode: ModeCollect, Debounce: 2 * time.Second})
	q := r.Get("k")
	if q.Mode() != ModeIndividual {
		t.Errorf("Mode() = %q, want individual", q.Mode())
	}
	if w, _ := q.Debounce(); w != 2*time.Second {
		t.Errorf("debounce = %v, want refreshed to 2s", w)
	}
}

func TestEnqueue_DedupesByMessageID(t *testing.T) {
	r := NewRegistry()
	first := FollowupRun{Prompt: "hi", MessageID: "m1", Routing: telegram("42")}
	if !r.Enqueue("k", first, Settings{}) {
		t.Fatal("first enqueue rejected")
	}
	if r.Enqueue("k", first, Settings{}) {
		t.Error("duplicate message was queued")
	}
	other := first
	other.Routing = telegram("43")
	if !r.Enqueue("k", other, Settings{}) {
		t.Error("same message id for another target should be queued")
	}
	if !r.Enqueue("k", FollowupRun{Prompt: "no id"}, Settings{}) || !r.Enqueue("k", FollowupRun{Prompt: "no id"}, Settings{}) {
		t.Error("items without message id are never deduped")
	}
}

func TestRegistry_DeleteIfDrained(t *testing.T) {
	r := NewRegistry()
	r.Enqueue("k", FollowupRun{Prompt: "a"}, Settings{})
	q := r.Get("k")
	if r.DeleteIfDrained(q) {
		t.Fatal("non-empty queue reported drained")
	}
	q.remove(q.Items()[0].ID)
	q.RecordDropped("gone")
	if r.DeleteIfDrained(q) {
		t.Fatal("queue with dropped turns reported drained")
	}
	q.clearDropState(q.dropState())
	if !r.DeleteIfDrained(q) || r.Get("k") != nil {
		t.Fatal("drained queue not removed")
	}
	r.Delete("k")
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_ConcurrentEnqueue(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b"}[i%2]
			for j := 0; j < 50; j++ {
				r.Enqueue(key, FollowupRun{Prompt: "x"}, Settings{})
			}
		}(i)
	}
	wg.Wait()
	if got := strings.Join(r.Keys(), ","); got != "a,b" {
		t.Errorf("Keys() = %q", got)
	}
	if r.Get("a").Len() != 200 || r.Get("b").Len() != 200 {
		t.Errorf("lengths = %d, %d, want 200 each", r.Get("a").Len(), r.Get("b").Len())
	}
}

func TestSummaryLine(t *testing.T) {
	if got := SummaryLine("  hello \n\t world  "); got != "hello world" {
		t.Errorf("SummaryLine() = %q", got)
	}
	long := strings.Repeat("a", 300)
	got := SummaryLine(long)
	if runewidth.StringWidth(got) != summaryLineWidth || !strings.HasSuffix(got, "…") {
		t.Errorf("SummaryLine(long) width = %d, suffix ok = %v", runewidth.StringWidth(got), strings.HasSuffix(got, "…"))
	}
	wide := strings.Repeat("漢", 100)
	if w := runewidth.StringWidth(SummaryLine(wide)); w > summaryLineWidth {
		t.Errorf("wide summary width = %d, want <= %d", w, summaryLineWidth)
	}
}

func TestParseModeAndPolicy(t *testing.T) {
	if ParseMode("Individual") != ModeIndividual || ParseMode("followup") != ModeIndividual {
		t.Error("expected individual mode")
	}
	if ParseMode("") != ModeCollect || ParseMode("collect") != ModeCollect {
		t.Error("expected collect mode")
	}
	if ParseDropPolicy("OLD") != DropOld || ParseDropPolicy("new") != DropNew || ParseDropPolicy("") != DropSummarize {
		t.Error("unexpected drop policy parse")
	}
}

func TestClearDropState_AfterLineCapTrim(t *testing.T) {
	r := NewRegistry()
	s := Settings{DropPolicy: DropSummarize, Cap: 2}
	for _, p := range []string{"a", "b", "c", "d"} {
		r.Enqueue("k", FollowupRun{Prompt: p}, s)
	}
	q := r.Get("k")
	folded := q.dropState() // lines a, b

	for _, p := range []string{"e", "f", "g"} {
		r.Enqueue("k", FollowupRun{Prompt: p}, s)
	}
	q.clearDropState(folded)

	st := q.dropState()
	if st.DroppedCount != 3 {
		t.Errorf("DroppedCount = %d, want 3", st.DroppedCount)
	}
	if got := strings.Join(st.SummaryLines, ","); got != "d,e" {
		t.Errorf("SummaryLines = %q, want d,e", got)
	}

	// Folding the rest leaves nothing behind.
	q.clearDropState(st)
	if st := q.dropState(); st.DroppedCount != 0 || len(st.SummaryLines) != 0 {
		t.Errorf("after second fold = %+v", st)
	}
}
