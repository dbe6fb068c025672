package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nextlevelbuilder/followup/internal/followup"
	"github.com/nextlevelbuilder/followup/internal/store"
	"github.com/nextlevelbuilder/followup/internal/store/sqlite"
)

func testRun() followup.FollowupRun {
	return followup.FollowupRun{
		ID:        "r1",
		Prompt:    "hello",
		ItemCount: 2,
		Run:       &followup.RunContext{AgentID: "default", SessionKey: "agent:default:main"},
		Routing:   followup.Routing{Channel: "telegram", To: "42"},
	}
}

func TestChain_Order(t *testing.T) {
	var trail []string
	mw := func(name string) Middleware {
		return func(next followup.DispatchFunc) followup.DispatchFunc {
			return func(ctx context.Context, run followup.FollowupRun) error {
				trail = append(trail, name)
				return next(ctx, run)
			}
		}
	}
	final := func(context.Context, followup.FollowupRun) error {
		trail = append(trail, "final")
		return nil
	}
	if err := Chain(final, mw("a"), mw("b"))(context.Background(), testRun()); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(trail, ","); got != "a,b,final" {
		t.Errorf("trail = %q", got)
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf).Dispatch(context.Background(), testRun()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "agent:default:main → telegram:42 (2 queued)") || !strings.Contains(out, "hello") {
		t.Errorf("output = %q", out)
	}
}

func TestLedger_RecordsOutcome(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ledger := Ledger(st, func() time.Time { return now })
	boom := errors.New("boom")

	ok := Chain(func(context.Context, followup.FollowupRun) error { return nil }, ledger)
	bad := Chain(func(context.Context, followup.FollowupRun) error { return boom }, ledger)

	if err := ok(ctx, testRun()); err != nil {
		t.Fatal(err)
	}
	if err := bad(ctx, testRun()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	recs, err := st.ListBySession(ctx, "agent:default:main", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[store.DispatchStatusDelivered] != 1 || counts[store.DispatchStatusFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
	for _, r := range recs {
		if r.AgentID != "default" || r.Channel != "telegram" || r.Recipient != "42" || r.ItemCount != 2 {
			t.Errorf("record = %+v", r)
		}
		if r.Status == store.DispatchStatusFailed && r.Error != "boom" {
			t.Errorf("failed record error = %q", r.Error)
		}
	}
}

func TestThrottle(t *testing.T) {
	calls := 0
	next := func(context.Context, followup.FollowupRun) error { calls++; return nil }

	unlimited := NewThrottle(0, 0).Middleware()(next)
	for i := 0; i < 5; i++ {
		if err := unlimited(context.Background(), testRun()); err != nil {
			t.Fatal(err)
		}
	}

	slow := NewThrottle(0.001, 1).Middleware()(next)
	if err := slow(context.Background(), testRun()); err != nil {
		t.Fatalf("burst dispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := slow(ctx, testRun()); err == nil {
		t.Error("expected the second dispatch to be throttled")
	}
	other := testRun()
	other.Routing.Channel = "discord"
	if err := slow(context.Background(), other); err != nil {
		t.Errorf("other channel should have its own budget: %v", err)
	}
	if calls != 7 {
		t.Errorf("calls = %d, want 7", calls)
	}
}

func TestTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	boom := errors.New("boom")
	traced := Traced(tp.Tracer("test"))
	_ = traced(func(context.Context, followup.FollowupRun) error { return nil })(context.Background(), testRun())
	_ = traced(func(context.Context, followup.FollowupRun) error { return boom })(context.Background(), testRun())

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	want := map[attribute.Key]attribute.Value{
		"followup.session_key": attribute.StringValue("agent:default:main"),
		"followup.channel":     attribute.StringValue("telegram"),
		"followup.item_count":  attribute.IntValue(2),
		"followup.agent_id":    attribute.StringValue("default"),
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %s = %v, want %v", k, got[k].Emit(), v.Emit())
		}
	}
	if spans[0].Name() != "followup.dispatch" || spans[0].Status().Code == codes.Error {
		t.Errorf("first span = %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("failed dispatch span status = %v", spans[1].Status())
	}
}
