package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

func newTestRouter(t *testing.T) (*Router, *RetryHandler, *[]Event) {
	t.Helper()
	h, _ := newTestRetryHandler(t, RetryConfig{})
	r := NewRouter(h, 8, testLogger())
	events := &[]Event{}
	r.emit = func(ev Event) { *events = append(*events, ev) }
	return r, h, events
}

func resultEnvelope(t *testing.T, eventType, taskID string, payload any) *wire.Envelope {
	t.Helper()
	env, err := wire.NewEnvelope(wire.TaskType(eventType), taskID, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestRouterDeliversTypedCompletion(t *testing.T) {
	r, h, events := newTestRouter(t)
	if err := h.RegisterRequest("task-1", pingEnvelope(t, "task-1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Route(resultEnvelope(t, "translation_completed", "task-1", wire.TranslationResult{
		TaskID:         "task-1",
		TargetLanguage: "fr",
		TranslatedText: "bonjour",
	}))

	if len(*events) != 1 {
		t.Fatalf("delivered %d events, want 1", len(*events))
	}
	ev := (*events)[0]
	if ev.Type != wire.ResultTranslationCompleted || ev.SubKey != "fr" {
		t.Fatalf("event = %+v", ev)
	}
	res, ok := ev.Payload.(*wire.TranslationResult)
	if !ok || res.TranslatedText != "bonjour" {
		t.Fatalf("payload = %#v", ev.Payload)
	}
	if h.Pending() != 0 {
		t.Fatal("completion did not mark the task successful")
	}
}

func TestRouterDeduplicatesRedelivery(t *testing.T) {
	r, _, events := newTestRouter(t)

	env := resultEnvelope(t, "translation_completed", "task-2", wire.TranslationResult{
		TaskID:         "task-2",
		TargetLanguage: "es",
		TranslatedText: "hola",
	})
	r.Route(env)
	r.Route(env)

	if len(*events) != 1 {
		t.Fatalf("redelivery produced %d caller-visible events, want 1", len(*events))
	}
}

func TestRouterPerLanguageSubkeysAreDistinct(t *testing.T) {
	r, _, events := newTestRouter(t)

	for _, lang := range []string{"fr", "es"} {
		r.Route(resultEnvelope(t, "translation_completed", "task-3", wire.TranslationResult{
			TaskID:         "task-3",
			TargetLanguage: lang,
		}))
	}
	if len(*events) != 2 {
		t.Fatalf("delivered %d events, want one per language", len(*events))
	}
}

func TestRouterDropsUnknownEventType(t *testing.T) {
	r, _, events := newTestRouter(t)
	r.Route(resultEnvelope(t, "shiny_new_event", "x", map[string]any{}))
	if len(*events) != 0 {
		t.Fatal("unknown event type must be dropped")
	}
}

func TestRouterDiscardsPong(t *testing.T) {
	r, _, events := newTestRouter(t)
	r.Route(resultEnvelope(t, "pong", "hc-1", wire.Pong{TaskID: "hc-1"}))
	if len(*events) != 0 {
		t.Fatal("pong must be silently discarded")
	}
}

func TestRouterErrorFeedsRetryHandler(t *testing.T) {
	r, h, _ := newTestRouter(t)
	rec := &resendRecorder{}
	h.onTerminal = rec.terminal

	if err := h.RegisterRequest("task-4", pingEnvelope(t, "task-4")); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Route(resultEnvelope(t, "audio_process_error", "task-4", wire.ResultError{
		TaskID:    "task-4",
		Error:     "pipeline unavailable",
		ErrorCode: wire.ErrCodePipelineUnavailable,
	}))

	terr := rec.terminalFor("task-4")
	if terr == nil {
		t.Fatal("worker error did not reach terminal surfacing")
	}
	if terr.Kind != KindWorker || terr.Code != wire.ErrCodePipelineUnavailable {
		t.Fatalf("terminal error = %+v", terr)
	}
	if terr.EventType != wire.ResultAudioProcessError {
		t.Fatalf("event tag = %v, want audio_process_error", terr.EventType)
	}
}

func TestRouterProgressBypassesBookkeeping(t *testing.T) {
	r, h, events := newTestRouter(t)
	if err := h.RegisterRequest("task-5", pingEnvelope(t, "task-5")); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Route(resultEnvelope(t, "voice_job_progress", "task-5", wire.VoiceProgress{
		TaskID: "task-5", Stage: "synthesis", Percent: 40,
	}))

	if len(*events) != 1 {
		t.Fatalf("delivered %d events, want 1 progress event", len(*events))
	}
	if h.Pending() != 1 {
		t.Fatal("progress must not resolve the pending task")
	}
}

func TestDedupCacheEvictsOldestFirst(t *testing.T) {
	c := newDedupCache(3)
	for _, id := range []string{"a", "b", "c"} {
		if c.Seen(id, "") {
			t.Fatalf("fresh key %q reported as seen", id)
		}
	}
	// "d" evicts "a".
	if c.Seen("d", "") {
		t.Fatal("fresh key d reported as seen")
	}
	if c.Len() != 3 {
		t.Fatalf("len = %d, want bounded at 3", c.Len())
	}
	if c.Seen("a", "") {
		t.Fatal("evicted key a should have been forgotten")
	}
	if !c.Seen("c", "") {
		t.Fatal("key c should still be cached")
	}
}

// Scenario: repeated transport failures open the breaker and the next
// submission is rejected synchronously before touching the transport.
func TestConsecutiveFailuresOpenCircuit(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerConfig{MaxConsecutiveFailures: 5})
	h := NewRetryHandler(RetryConfig{MaxRetries: 1}, breaker, testLogger())
	h.onTerminal = func(string, *Error) {}
	t.Cleanup(h.Close)

	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("task-%d", i)
		if err := h.RegisterRequest(id, pingEnvelope(t, id)); err != nil {
			t.Fatalf("register: %v", err)
		}
		h.MarkFailure(id, newTransportError(id, nil, "down"))
	}
	if breaker.State() != StateOpen {
		t.Fatalf("state = %v after 6 failures, want OPEN", breaker.State())
	}
	if h.CanSendRequest() {
		t.Fatal("submission admitted while the circuit is open")
	}
}

func TestRetriedFailureAdvancesRetryAccounting(t *testing.T) {
	rec := &resendRecorder{}
	h := NewRetryHandler(RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}, NewCircuitBreaker(BreakerConfig{MaxConsecutiveFailures: 100}), testLogger())
	h.resend = rec.resend
	h.onTerminal = rec.terminal
	t.Cleanup(h.Close)
	r := NewRouter(h, 8, testLogger())

	if err := h.RegisterRequest("task-6", pingEnvelope(t, "task-6")); err != nil {
		t.Fatalf("register: %v", err)
	}

	fail := wire.ResultError{TaskID: "task-6", Error: "worker restarting", Transient: true}
	r.Route(resultEnvelope(t, "translation_error", "task-6", fail))

	deadline := time.Now().Add(time.Second)
	for rec.resentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first transient failure never scheduled a retry")
		}
		time.Sleep(time.Millisecond)
	}

	// The retried attempt fails again with an identical error event; it
	// must reach the retry handler rather than being deduplicated away.
	r.Route(resultEnvelope(t, "translation_error", "task-6", fail))

	if rec.terminalFor("task-6") == nil {
		t.Fatal("second genuine failure was swallowed before MarkFailure")
	}
	if h.Pending() != 0 {
		t.Fatalf("pending = %d, exhausted task must be released", h.Pending())
	}
}
