package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// RetryConfig configures per-task retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of re-emissions after the first attempt.
	// Default 3.
	MaxRetries int

	// BaseDelay is the first retry delay; attempt n waits
	// BaseDelay × 2^n, capped at MaxDelay. Defaults 1s / 30s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// StaleAfter is the age past which a task that never received a
	// terminal signal is treated as lost. Default 5 minutes.
	StaleAfter time.Duration
}

func (c *RetryConfig) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 5 * time.Minute
	}
}

type pendingTask struct {
	env          *wire.Envelope
	attempt      int
	registeredAt time.Time
	retryTimer   *time.Timer
}

// RetryHandler tracks outstanding tasks, schedules retries with exponential
// backoff, and feeds outcomes to the circuit breaker. The pending table is
// owned exclusively by the handler; no other component mutates it.
//
// Within one correlation id retries are strictly ordered: a retry is only
// scheduled after the previous attempt's failure has been recorded.
type RetryHandler struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
	logger  *slog.Logger

	// resend re-emits an envelope through the connection pool.
	resend func(*wire.Envelope) error

	// onTerminal surfaces a terminal failure to the caller.
	onTerminal func(taskID string, terr *Error)

	mu      sync.Mutex
	pending map[string]*pendingTask
	closed  bool

	now func() time.Time
}

// NewRetryHandler creates a handler. The resend and onTerminal hooks are
// wired by the dispatcher before any task is registered.
func NewRetryHandler(cfg RetryConfig, breaker *CircuitBreaker, logger *slog.Logger) *RetryHandler {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryHandler{
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
		pending: make(map[string]*pendingTask),
		now:     time.Now,
	}
}

// CanSendRequest reports whether the breaker admits a new submission.
func (h *RetryHandler) CanSendRequest() bool { return h.breaker.Allow() }

// RegisterRequest starts tracking a task. Correlation ids must be unique
// across the life of the process; a duplicate id is rejected.
func (h *RetryHandler) RegisterRequest(id string, env *wire.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return newTransportError(id, nil, "dispatcher closed")
	}
	if _, ok := h.pending[id]; ok {
		return newValidationError(id, nil, "duplicate correlation id")
	}
	h.pending[id] = &pendingTask{env: env, registeredAt: h.now()}
	return nil
}

// Pending returns the number of tracked tasks.
func (h *RetryHandler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Attempt returns the recorded attempt count for id and whether the task
// is still tracked.
func (h *RetryHandler) Attempt(id string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	task, ok := h.pending[id]
	if !ok {
		return 0, false
	}
	return task.attempt, true
}

// MarkSuccess removes tracking for id and records a breaker success.
// Unknown ids are ignored (late duplicate deliveries).
func (h *RetryHandler) MarkSuccess(id string) {
	h.mu.Lock()
	task, ok := h.pending[id]
	if ok {
		if task.retryTimer != nil {
			task.retryTimer.Stop()
		}
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if ok {
		h.breaker.RecordSuccess()
	}
}

// MarkFailure records a failed attempt. Retryable causes below the retry
// budget are re-emitted after backoff; everything else is terminal and
// surfaced through onTerminal. Unknown ids are ignored without touching
// the breaker, so a late duplicate error for an already-resolved task
// cannot count against system health.
func (h *RetryHandler) MarkFailure(id string, cause *Error) {
	h.mu.Lock()
	task, ok := h.pending[id]
	if !ok || h.closed {
		h.mu.Unlock()
		return
	}
	h.breaker.RecordFailure()

	task.attempt++
	if !cause.Retryable() || task.attempt >= h.cfg.MaxRetries {
		delete(h.pending, id)
		h.mu.Unlock()
		h.logger.Warn("task terminally failed",
			"taskId", id, "attempts", task.attempt, "kind", cause.Kind.String())
		h.terminal(id, cause)
		return
	}

	delay := h.backoff(task.attempt)
	task.retryTimer = time.AfterFunc(delay, func() { h.fireRetry(id) })
	h.mu.Unlock()

	h.logger.Info("task retry scheduled",
		"taskId", id, "attempt", task.attempt, "delay", delay)
}

func (h *RetryHandler) fireRetry(id string) {
	h.mu.Lock()
	task, ok := h.pending[id]
	if !ok || h.closed {
		h.mu.Unlock()
		return
	}
	env := task.env
	h.mu.Unlock()

	if err := h.resend(env); err != nil {
		h.MarkFailure(id, newTransportError(id, err, "retry send failed"))
	}
}

// CleanupStaleRequests purges tasks older than the staleness window that
// never received a terminal signal, surfacing a timeout error for each.
// Returns the expired ids.
func (h *RetryHandler) CleanupStaleRequests() []string {
	cutoff := h.now().Add(-h.cfg.StaleAfter)

	h.mu.Lock()
	var expired []string
	for id, task := range h.pending {
		if task.registeredAt.Before(cutoff) {
			if task.retryTimer != nil {
				task.retryTimer.Stop()
			}
			delete(h.pending, id)
			expired = append(expired, id)
		}
	}
	h.mu.Unlock()

	for _, id := range expired {
		h.logger.Warn("task timed out", "taskId", id, "maxAge", h.cfg.StaleAfter)
		h.terminal(id, newTimeoutError(id,
			fmt.Sprintf("no completion within %s", h.cfg.StaleAfter)))
	}
	return expired
}

// Close stops all retry timers and drops the pending table.
func (h *RetryHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, task := range h.pending {
		if task.retryTimer != nil {
			task.retryTimer.Stop()
		}
	}
	h.pending = make(map[string]*pendingTask)
}

func (h *RetryHandler) terminal(id string, terr *Error) {
	if h.onTerminal != nil {
		h.onTerminal(id, terr)
	}
}

func (h *RetryHandler) backoff(attempt int) time.Duration {
	d := h.cfg.BaseDelay
	for i := 0; i < attempt && d < h.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > h.cfg.MaxDelay {
		d = h.cfg.MaxDelay
	}
	return d
}
