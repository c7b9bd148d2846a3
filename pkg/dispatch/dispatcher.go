// Package dispatch implements the reliable messaging client of the audio
// translation pipeline: a connection pool over the push/subscribe channels,
// retry with exponential backoff behind a circuit breaker, typed task
// builders, and a result router that correlates out-of-band completion
// events back to their submissions.
//
// The dispatcher is an explicit object constructed once at startup and
// passed to whoever needs it; there is no package-level state. Submissions
// never block on a socket round trip: callers receive completion later
// through the event stream or a per-task future.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// Config assembles the dispatcher. Zero values get sensible defaults.
type Config struct {
	Pool    PoolConfig
	Retry   RetryConfig
	Breaker BreakerConfig

	// InlineLimit is the largest audio payload carried inline as a binary
	// frame. Larger sources are rejected at dispatch time. Default 16 MiB.
	InlineLimit int64

	// DedupSize bounds the result deduplication cache. Default 1000.
	DedupSize int

	// SweepInterval is how often stale pending tasks are purged.
	// Default 1 minute.
	SweepInterval time.Duration

	// Logger receives structured logs. Default slog.Default().
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.InlineLimit == 0 {
		c.InlineLimit = 16 << 20
	}
	if c.DedupSize == 0 {
		c.DedupSize = 1000
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dispatcher ties the pool, retry handler, breaker and router together.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	pool    *Pool
	breaker *CircuitBreaker
	retry   *RetryHandler
	router  *Router

	events chan Event

	mu      sync.Mutex
	futures map[string]chan Event

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a dispatcher. Call Start to connect.
func New(cfg Config) *Dispatcher {
	cfg.setDefaults()
	logger := cfg.Logger.With("component", "dispatch")

	breaker := NewCircuitBreaker(cfg.Breaker)
	retry := NewRetryHandler(cfg.Retry, breaker, logger)
	pool := NewPool(cfg.Pool, logger)
	router := NewRouter(retry, cfg.DedupSize, logger)

	d := &Dispatcher{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		breaker: breaker,
		retry:   retry,
		router:  router,
		events:  make(chan Event, 256),
		futures: make(map[string]chan Event),
		done:    make(chan struct{}),
	}
	retry.resend = pool.Send
	retry.onTerminal = d.deliverFailure
	router.emit = d.deliver
	return d
}

// Start connects to the worker pool and begins routing inbound results.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.pool.Connect(ctx); err != nil {
		return err
	}
	d.wg.Add(2)
	go d.runLoop()
	go d.sweepLoop()
	return nil
}

// Events is the caller-facing completion stream. Every terminal outcome
// (success, terminal failure, timeout) and every progress report appears
// here exactly once.
func (d *Dispatcher) Events() <-chan Event { return d.events }

// State returns the circuit state.
func (d *Dispatcher) State() CircuitState { return d.breaker.State() }

// HealthCheck probes the worker pool.
func (d *Dispatcher) HealthCheck(ctx context.Context) bool {
	return d.pool.HealthCheck(ctx)
}

// Close drains in-flight bookkeeping and releases the transport.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.retry.Close()
		d.pool.Disconnect()
		d.wg.Wait()
		close(d.events)
	})
}

// PendingTask is the future side of one submission. Events for its
// correlation id are duplicated onto the task channel.
type PendingTask struct {
	TaskID string
	d      *Dispatcher
	ch     chan Event
}

// Await blocks until the next event for this task or ctx cancellation.
func (t *PendingTask) Await(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-t.ch:
		if !ok {
			return Event{}, fmt.Errorf("dispatch: task %s released", t.TaskID)
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Release drops the per-task channel. Events still flow to Events().
func (t *PendingTask) Release() {
	t.d.mu.Lock()
	if ch, ok := t.d.futures[t.TaskID]; ok && ch == t.ch {
		delete(t.d.futures, t.TaskID)
		close(ch)
	}
	t.d.mu.Unlock()
}

// SubmitTranslation dispatches a text translation job.
func (d *Dispatcher) SubmitTranslation(req wire.TranslationRequest) (*PendingTask, error) {
	return d.submit(wire.TaskTranslation, req)
}

// SubmitAudioProcess dispatches the full audio pipeline job with the audio
// carried inline as a binary frame.
func (d *Dispatcher) SubmitAudioProcess(req wire.AudioProcessRequest, audio []byte, mimeType string) (*PendingTask, error) {
	if int64(len(audio)) > d.cfg.InlineLimit {
		return nil, newValidationError("", nil, fmt.Sprintf(
			"audio of %d bytes too large for inline transfer (limit %d)", len(audio), d.cfg.InlineLimit))
	}
	if len(audio) > 0 {
		return d.submit(wire.TaskAudioProcess, req, Frame{Slot: wire.SlotAudio, Data: audio, MimeType: mimeType})
	}
	return d.submit(wire.TaskAudioProcess, req)
}

// SubmitAudioProcessFile loads the source file and dispatches it inline.
// Files above the inline-transfer limit are rejected, never truncated.
func (d *Dispatcher) SubmitAudioProcessFile(req wire.AudioProcessRequest, path, mimeType string) (*PendingTask, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, newValidationError("", err, "stat audio file")
	}
	if info.Size() > d.cfg.InlineLimit {
		return nil, newValidationError("", nil, fmt.Sprintf(
			"audio file %s (%d bytes) too large for inline transfer (limit %d)", path, info.Size(), d.cfg.InlineLimit))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newValidationError("", err, "read audio file")
	}
	return d.SubmitAudioProcess(req, data, mimeType)
}

// SubmitTranscription dispatches a transcription-only job.
func (d *Dispatcher) SubmitTranscription(req wire.TranscriptionOnlyRequest, audio []byte, mimeType string) (*PendingTask, error) {
	if int64(len(audio)) > d.cfg.InlineLimit {
		return nil, newValidationError("", nil, "audio too large for inline transfer")
	}
	if len(audio) > 0 {
		return d.submit(wire.TaskTranscriptionOnly, req, Frame{Slot: wire.SlotAudio, Data: audio, MimeType: mimeType})
	}
	return d.submit(wire.TaskTranscriptionOnly, req)
}

// SubmitVoiceProfile dispatches a voice profile analyze/verify/compare job.
// reference may be nil except for compare.
func (d *Dispatcher) SubmitVoiceProfile(req wire.VoiceProfileRequest, audio, reference []byte) (*PendingTask, error) {
	frames := []Frame{{Slot: wire.SlotAudio, Data: audio, MimeType: "audio/wav"}}
	if req.Op == wire.VoiceProfileOpCompare {
		if len(reference) == 0 {
			return nil, newValidationError("", nil, "compare requires a reference sample frame")
		}
		frames = append(frames, Frame{Slot: wire.SlotVoiceProfile, Data: reference, MimeType: "audio/wav"})
	}
	return d.submit(wire.TaskVoiceProfile, req, frames...)
}

// SubmitVoiceAPI dispatches a direct synthesis job.
func (d *Dispatcher) SubmitVoiceAPI(req wire.VoiceAPIRequest) (*PendingTask, error) {
	return d.submit(wire.TaskVoiceAPI, req)
}

// submit is the common path: admission check, envelope build, schema
// validation, retry registration, send. The send itself never blocks on a
// reply; a send failure is handed to the retry machinery rather than
// surfaced synchronously.
func (d *Dispatcher) submit(typ wire.TaskType, payload any, frames ...Frame) (*PendingTask, error) {
	if !d.retry.CanSendRequest() {
		return nil, newAdmissionError("circuit open, submissions rejected")
	}

	id := newCorrelationID()
	env, err := wire.NewEnvelope(typ, id, payload)
	if err != nil {
		return nil, newValidationError(id, err, "build envelope")
	}
	for _, f := range frames {
		env.AttachFrame(f.Slot, f.Data, f.MimeType)
	}
	if err := wire.ValidateEnvelope(env); err != nil {
		return nil, newValidationError(id, err, "invalid request")
	}

	if err := d.retry.RegisterRequest(id, env); err != nil {
		var terr *Error
		if e, ok := AsError(err); ok {
			terr = e
		} else {
			terr = newValidationError(id, err, "register request")
		}
		return nil, terr
	}

	task := &PendingTask{TaskID: id, d: d, ch: make(chan Event, 8)}
	d.mu.Lock()
	d.futures[id] = task.ch
	d.mu.Unlock()

	if err := d.pool.Send(env); err != nil {
		// The attempt is recorded as failed; the retry handler re-emits
		// once the pool reconnects or gives up and surfaces a terminal
		// error through the event stream.
		terr, _ := AsError(err)
		if terr == nil {
			terr = newTransportError(id, err, "send")
		}
		d.retry.MarkFailure(id, terr)
	}
	d.logger.Debug("task submitted", "taskId", id, "type", string(typ), "frames", len(frames))
	return task, nil
}

func (d *Dispatcher) runLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case env, ok := <-d.pool.Messages():
			if !ok {
				return
			}
			d.router.Route(env)
		case err, ok := <-d.pool.Errors():
			if !ok {
				return
			}
			d.logger.Warn("transport error", "error", err)
		}
	}
}

func (d *Dispatcher) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.retry.CleanupStaleRequests()
		}
	}
}

// deliver fans an event out to the global stream and the per-task future.
func (d *Dispatcher) deliver(ev Event) {
	d.mu.Lock()
	ch, ok := d.futures[ev.TaskID]
	d.mu.Unlock()
	if ok {
		select {
		case ch <- ev:
		default:
		}
	}
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

// deliverFailure surfaces a terminal failure as an error event. Every
// terminal failure path (worker error, retry exhaustion, staleness sweep)
// funnels through here exactly once. Worker failures keep their wire event
// tag; locally generated failures carry Err with no event tag.
func (d *Dispatcher) deliverFailure(taskID string, terr *Error) {
	d.deliver(Event{Type: terr.EventType, TaskID: taskID, Err: terr})
}

func newCorrelationID() string { return uuid.NewString() }
