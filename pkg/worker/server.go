// Package worker implements the worker daemon: a websocket server that
// pulls task envelopes from dispatchers, runs them through the audio
// pipeline on a bounded worker pool, and publishes result events to every
// subscribed dispatcher.
//
// The intake loop is single threaded; parallelism happens only in the
// pool. Liveness pings are answered immediately, off-pool, so a saturated
// pool never fails a health check.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// ErrUnavailable marks failures caused by a missing or unreachable
// backend rather than by the job itself. Handlers wrap it so the error
// event carries the pipeline_unavailable code and the transient flag,
// letting the dispatcher retry on another worker.
var ErrUnavailable = errors.New("pipeline unavailable")

// Publisher delivers result envelopes to subscribed dispatchers.
type Publisher interface {
	Publish(ctx context.Context, env *wire.Envelope) error
}

// Handler processes one task envelope and publishes its results.
type Handler func(ctx context.Context, env *wire.Envelope, pub Publisher) error

// Config tunes the server.
type Config struct {
	// Addr is the listen address, e.g. ":8790".
	Addr string

	// PushPath is the endpoint dispatchers push task envelopes to.
	// Default "/push".
	PushPath string

	// SubscribePath is the endpoint dispatchers subscribe to for result
	// events. Default "/subscribe".
	SubscribePath string

	// Workers bounds job parallelism. Default 4.
	Workers int

	// QueueSize bounds the intake queue. Default 64.
	QueueSize int

	// DrainTimeout bounds how long Close waits for in-flight jobs.
	// Default 30s.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.PushPath == "" {
		c.PushPath = "/push"
	}
	if c.SubscribePath == "" {
		c.SubscribePath = "/subscribe"
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Counters is a snapshot of per-task-type statistics.
type Counters struct {
	Processed map[wire.TaskType]int
	Failed    map[wire.TaskType]int
}

// Server is the worker daemon.
type Server struct {
	cfg      Config
	codec    wire.Codec
	upgrader websocket.Upgrader

	handlerMu sync.RWMutex
	handlers  map[wire.TaskType]Handler

	jobs chan *wire.Envelope

	// closeMu fences intake against Close: Shutdown does not wait for
	// hijacked websocket connections, so a push reader may still be
	// running when the job channel is about to be closed.
	closeMu sync.RWMutex
	closing bool

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	countMu   sync.Mutex
	processed map[wire.TaskType]int
	failed    map[wire.TaskType]int

	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	httpSrv   *http.Server
}

// subscriber is one connected result consumer.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// NewServer creates a server. Handlers are registered with Handle before
// Start.
func NewServer(cfg Config) *Server {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		handlers:  make(map[wire.TaskType]Handler),
		jobs:      make(chan *wire.Envelope, cfg.QueueSize),
		subs:      make(map[*subscriber]struct{}),
		processed: make(map[wire.TaskType]int),
		failed:    make(map[wire.TaskType]int),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	return s
}

// Handle registers the handler for a task type.
func (s *Server) Handle(t wire.TaskType, h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[t] = h
}

// Start launches the HTTP listener. The worker pool is already running;
// serve errors are logged.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: s}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("worker server stopped", "error", err)
		}
	}()
	s.cfg.Logger.Info("worker listening",
		"addr", s.cfg.Addr, "push", s.cfg.PushPath, "subscribe", s.cfg.SubscribePath,
		"workers", s.cfg.Workers)
	return nil
}

// ServeHTTP routes the two websocket endpoints.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case s.cfg.PushPath:
		s.handlePush(w, r)
	case s.cfg.SubscribePath:
		s.handleSubscribe(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handlePush reads task envelopes from one dispatcher connection.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("push upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := s.codec.Decode(data)
		if err != nil {
			s.cfg.Logger.Warn("bad inbound message dropped", "error", err)
			continue
		}
		s.intake(env)
	}
}

// intake admits one task. Pings bypass the queue entirely; everything
// else is enqueued for the pool, and a full queue is reported back as a
// transient pipeline_unavailable error instead of blocking the reader.
func (s *Server) intake(env *wire.Envelope) {
	if env.Type == wire.TaskPing {
		go s.answerPing(env)
		return
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closing {
		s.publishError(env, fmt.Errorf("worker shutting down"), wire.ErrCodePipelineUnavailable, true)
		return
	}
	select {
	case s.jobs <- env:
	default:
		s.cfg.Logger.Warn("queue full, rejecting task", "taskId", env.TaskID, "type", env.Type)
		s.publishError(env, fmt.Errorf("worker queue full"), wire.ErrCodePipelineUnavailable, true)
	}
}

func (s *Server) answerPing(env *wire.Envelope) {
	var ping wire.PingRequest
	_ = env.DecodePayload(&ping)
	pong, err := wire.NewEnvelope(wire.TaskType(wire.ResultPong.String()), env.TaskID, wire.Pong{
		TaskID: env.TaskID,
		SentAt: ping.SentAt,
	})
	if err != nil {
		return
	}
	_ = s.Publish(s.baseCtx, pong)
}

// workerLoop drains the job queue until Close.
func (s *Server) workerLoop() {
	defer s.wg.Done()
	for env := range s.jobs {
		s.runJob(env)
	}
}

func (s *Server) runJob(env *wire.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			s.cfg.Logger.Error("handler panic", "taskId", env.TaskID, "type", env.Type, "panic", p)
			s.count(env.Type, false)
			s.publishError(env, fmt.Errorf("internal error"), wire.ErrCodeProcessingFailed, false)
		}
	}()

	s.handlerMu.RLock()
	h := s.handlers[env.Type]
	s.handlerMu.RUnlock()
	if h == nil {
		s.cfg.Logger.Warn("no handler for task type", "type", env.Type, "taskId", env.TaskID)
		s.count(env.Type, false)
		s.publishError(env, fmt.Errorf("unsupported task type %q", env.Type), wire.ErrCodeProcessingFailed, false)
		return
	}

	if err := h(s.baseCtx, env, s); err != nil {
		s.cfg.Logger.Warn("task failed", "taskId", env.TaskID, "type", env.Type, "error", err)
		s.count(env.Type, false)
		code, transient := wire.ErrCodeProcessingFailed, false
		if errors.Is(err, ErrUnavailable) {
			code, transient = wire.ErrCodePipelineUnavailable, true
		}
		s.publishError(env, err, code, transient)
		return
	}
	s.count(env.Type, true)
}

func (s *Server) count(t wire.TaskType, ok bool) {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	if ok {
		s.processed[t]++
	} else {
		s.failed[t]++
	}
}

// Stats returns a snapshot of the per-type counters.
func (s *Server) Stats() Counters {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	c := Counters{
		Processed: make(map[wire.TaskType]int, len(s.processed)),
		Failed:    make(map[wire.TaskType]int, len(s.failed)),
	}
	for t, n := range s.processed {
		c.Processed[t] = n
	}
	for t, n := range s.failed {
		c.Failed[t] = n
	}
	return c
}

// handleSubscribe registers one result consumer until its connection
// drops.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("subscribe upgrade failed", "error", err)
		return
	}
	sub := &subscriber{conn: conn}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	defer func() {
		s.subMu.Lock()
		delete(s.subs, sub)
		s.subMu.Unlock()
		conn.Close()
	}()

	// Subscribers only receive; the read loop just detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish encodes one result envelope and fans it out to every
// subscriber. Write failures drop the subscriber silently; its read loop
// will clean up.
func (s *Server) Publish(_ context.Context, env *wire.Envelope) error {
	data, err := s.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("worker: encode result: %w", err)
	}
	s.subMu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			s.cfg.Logger.Debug("subscriber write failed", "error", err)
		}
	}
	return nil
}

// publishError emits the error event matching the task type.
func (s *Server) publishError(env *wire.Envelope, cause error, code string, transient bool) {
	rt, ok := errorEventFor(env.Type)
	if !ok {
		return
	}
	out, err := wire.NewEnvelope(wire.TaskType(rt.String()), env.TaskID, wire.ResultError{
		TaskID:    env.TaskID,
		Error:     cause.Error(),
		ErrorCode: code,
		Transient: transient,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	_ = s.Publish(s.baseCtx, out)
}

// errorEventFor maps a task type to its error event.
func errorEventFor(t wire.TaskType) (wire.ResultType, bool) {
	switch t {
	case wire.TaskTranslation:
		return wire.ResultTranslationError, true
	case wire.TaskAudioProcess:
		return wire.ResultAudioProcessError, true
	case wire.TaskTranscriptionOnly:
		return wire.ResultTranscriptionError, true
	case wire.TaskVoiceAPI:
		return wire.ResultVoiceAPIError, true
	case wire.TaskVoiceProfile:
		return wire.ResultVoiceProfileError, true
	}
	return wire.ResultUnknown, false
}

// Close stops intake, drains in-flight jobs for the configured timeout,
// then cancels whatever is still running.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.httpSrv.Shutdown(ctx)
		}
		// No intake may be mid-send once closing is set.
		s.closeMu.Lock()
		s.closing = true
		s.closeMu.Unlock()
		close(s.jobs)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.DrainTimeout):
			s.cfg.Logger.Warn("drain timeout, cancelling in-flight jobs")
		}
		s.cancel()
	})
	return err
}
