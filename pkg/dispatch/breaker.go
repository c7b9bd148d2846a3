package dispatch

import (
	"sync"
	"time"
)

// CircuitState is the admission state of the breaker.
type CircuitState int32

const (
	// StateClosed admits all submissions.
	StateClosed CircuitState = iota
	// StateOpen rejects all submissions until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits exactly one probe.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures the circuit breaker. One breaker guards one
// worker pool.
type BreakerConfig struct {
	// MaxConsecutiveFailures opens the circuit when reached within the
	// failure window. Default 5.
	MaxConsecutiveFailures int

	// FailureWindow is the sliding window for the consecutive-failure
	// count. A failure streak older than the window starts over.
	// Default 30 seconds.
	FailureWindow time.Duration

	// CoolDown is how long the circuit stays open before allowing a
	// half-open probe. Default 60 seconds.
	CoolDown time.Duration
}

func (c *BreakerConfig) setDefaults() {
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = 30 * time.Second
	}
	if c.CoolDown == 0 {
		c.CoolDown = 60 * time.Second
	}
}

// CircuitBreaker implements CLOSED → OPEN → HALF_OPEN admission control.
//
// While open, Allow returns false for every caller. Once the cool-down
// elapses, exactly one Allow call returns true (the probe); its outcome,
// reported through RecordSuccess or RecordFailure, decides whether the
// circuit closes or re-opens.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	streakStart   time.Time
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time
}

// NewCircuitBreaker creates a breaker with the given config.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg.setDefaults()
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// State returns the current circuit state without side effects.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a new submission may proceed. In the open state it
// transitions to half-open after the cool-down and admits a single probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess feeds a successful outcome to the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probeInFlight = false
	}
}

// RecordFailure feeds a failed outcome to the breaker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateHalfOpen:
		// Probe failed: back to open, restart the cool-down.
		b.state = StateOpen
		b.openedAt = now
		b.probeInFlight = false
		b.failures = 0
		return
	case StateOpen:
		return
	}

	if b.failures == 0 || now.Sub(b.streakStart) > b.cfg.FailureWindow {
		b.failures = 0
		b.streakStart = now
	}
	b.failures++
	if b.failures >= b.cfg.MaxConsecutiveFailures {
		b.state = StateOpen
		b.openedAt = now
		b.failures = 0
	}
}
