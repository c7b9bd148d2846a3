package dispatch

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestRetryHandler(t *testing.T, cfg RetryConfig) (*RetryHandler, *resendRecorder) {
	t.Helper()
	rec := &resendRecorder{}
	h := NewRetryHandler(cfg, NewCircuitBreaker(BreakerConfig{MaxConsecutiveFailures: 100}), testLogger())
	h.resend = rec.resend
	h.onTerminal = rec.terminal
	t.Cleanup(h.Close)
	return h, rec
}

type resendRecorder struct {
	mu        sync.Mutex
	resent    []string
	terminals map[string]*Error
}

func (r *resendRecorder) resend(env *wire.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resent = append(r.resent, env.TaskID)
	return nil
}

func (r *resendRecorder) terminal(id string, terr *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminals == nil {
		r.terminals = make(map[string]*Error)
	}
	r.terminals[id] = terr
}

func (r *resendRecorder) resentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resent)
}

func (r *resendRecorder) terminalFor(id string) *Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminals[id]
}

func pingEnvelope(t *testing.T, id string) *wire.Envelope {
	t.Helper()
	env, err := wire.NewEnvelope(wire.TaskPing, id, wire.PingRequest{})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestRetryDuplicateCorrelationIDRejected(t *testing.T) {
	h, _ := newTestRetryHandler(t, RetryConfig{})
	env := pingEnvelope(t, "dup")
	if err := h.RegisterRequest("dup", env); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := h.RegisterRequest("dup", env)
	if err == nil {
		t.Fatal("duplicate correlation id accepted")
	}
	if terr, ok := AsError(err); !ok || terr.Kind != KindValidation {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestRetryTransientFailureResends(t *testing.T) {
	h, rec := newTestRetryHandler(t, RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
	})
	env := pingEnvelope(t, "t1")
	if err := h.RegisterRequest("t1", env); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.MarkFailure("t1", newTransportError("t1", nil, "socket reset"))

	deadline := time.Now().Add(time.Second)
	for rec.resentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("retry was never re-emitted")
		}
		time.Sleep(time.Millisecond)
	}
	if h.Pending() != 1 {
		t.Fatalf("pending = %d, task must remain tracked across retries", h.Pending())
	}
}

func TestRetryExhaustionIsTerminal(t *testing.T) {
	h, rec := newTestRetryHandler(t, RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})
	env := pingEnvelope(t, "t2")
	if err := h.RegisterRequest("t2", env); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.MarkFailure("t2", newTransportError("t2", nil, "reset"))
	h.MarkFailure("t2", newTransportError("t2", nil, "reset"))

	terr := rec.terminalFor("t2")
	if terr == nil {
		t.Fatal("exhausted task did not surface a terminal error")
	}
	if terr.Kind != KindTransport {
		t.Fatalf("terminal kind = %v, want transport", terr.Kind)
	}
	if h.Pending() != 0 {
		t.Fatalf("pending = %d after terminal failure", h.Pending())
	}
}

func TestRetryNonRetryableWorkerErrorIsImmediatelyTerminal(t *testing.T) {
	h, rec := newTestRetryHandler(t, RetryConfig{MaxRetries: 5})
	env := pingEnvelope(t, "t3")
	if err := h.RegisterRequest("t3", env); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.MarkFailure("t3", &Error{Kind: KindWorker, TaskID: "t3", Message: "unsupported audio format"})

	if rec.terminalFor("t3") == nil {
		t.Fatal("non-transient worker error must be terminal on first failure")
	}
	if rec.resentCount() != 0 {
		t.Fatal("non-transient worker error must not be retried")
	}
}

func TestLateFailureForResolvedTaskSkipsBreaker(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerConfig{MaxConsecutiveFailures: 2})
	h := NewRetryHandler(RetryConfig{}, breaker, testLogger())
	t.Cleanup(h.Close)

	// Duplicate error deliveries for ids that are no longer (or never
	// were) tracked must not count against system health.
	for i := 0; i < 5; i++ {
		h.MarkFailure("resolved", newTransportError("resolved", nil, "late duplicate"))
	}
	if breaker.State() != StateClosed {
		t.Fatalf("state = %v, untracked failures must not move the breaker", breaker.State())
	}
	if !h.CanSendRequest() {
		t.Fatal("submissions must stay admitted")
	}
}

func TestRetryMarkSuccessStopsTracking(t *testing.T) {
	h, rec := newTestRetryHandler(t, RetryConfig{})
	env := pingEnvelope(t, "t4")
	if err := h.RegisterRequest("t4", env); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.MarkSuccess("t4")
	if h.Pending() != 0 {
		t.Fatal("MarkSuccess did not remove tracking")
	}
	// A late duplicate success is ignored.
	h.MarkSuccess("t4")
	if rec.terminalFor("t4") != nil {
		t.Fatal("success must not surface an error")
	}
}

func TestCleanupStaleRequests(t *testing.T) {
	h, rec := newTestRetryHandler(t, RetryConfig{StaleAfter: 5 * time.Minute})
	now := time.Unix(1700000000, 0)
	h.now = func() time.Time { return now }

	if err := h.RegisterRequest("old", pingEnvelope(t, "old")); err != nil {
		t.Fatalf("register: %v", err)
	}
	now = now.Add(6 * time.Minute)
	if err := h.RegisterRequest("fresh", pingEnvelope(t, "fresh")); err != nil {
		t.Fatalf("register: %v", err)
	}

	expired := h.CleanupStaleRequests()
	if len(expired) != 1 || expired[0] != "old" {
		t.Fatalf("expired = %v, want [old]", expired)
	}
	terr := rec.terminalFor("old")
	if terr == nil || terr.Kind != KindTimeout {
		t.Fatalf("stale task error = %v, want timeout kind", terr)
	}
	if h.Pending() != 1 {
		t.Fatalf("pending = %d, fresh task must survive the sweep", h.Pending())
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	h, _ := newTestRetryHandler(t, RetryConfig{
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
	})
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := h.backoff(tt.attempt); got != tt.want {
			t.Fatalf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
