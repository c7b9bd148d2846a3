package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// Event is a typed completion delivered to callers. Exactly one of Payload
// and Err is set. For multi-output tasks SubKey distinguishes the outputs
// (for translations it is the target language).
type Event struct {
	Type     wire.ResultType
	TaskID   string
	SubKey   string
	Payload  any
	Envelope *wire.Envelope
	Err      *Error
}

// Router demultiplexes inbound envelopes by event type, deduplicates
// terminal deliveries by (taskId, subKey), and keeps retry bookkeeping in
// sync with real outcomes. The dedup cache is owned exclusively by the
// router.
type Router struct {
	retry  *RetryHandler
	dedup  *dedupCache
	logger *slog.Logger

	// emit delivers a caller-visible event. Set by the dispatcher.
	emit func(Event)
}

// NewRouter creates a router feeding the given retry handler.
func NewRouter(retry *RetryHandler, dedupSize int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		retry:  retry,
		dedup:  newDedupCache(dedupSize),
		logger: logger,
	}
}

// Route consumes one inbound envelope. Unknown event types are logged and
// dropped; the router never panics on malformed input.
func (r *Router) Route(env *wire.Envelope) {
	rt := wire.ParseResultType(string(env.Type))

	switch rt {
	case wire.ResultPong:
		// Liveness pongs are consumed by the pool's health check.
		return

	case wire.ResultVoiceJobProgress:
		var p wire.VoiceProgress
		if err := env.DecodePayload(&p); err != nil {
			r.logger.Warn("bad progress payload", "error", err)
			return
		}
		r.deliver(Event{Type: rt, TaskID: p.TaskID, Payload: &p, Envelope: env})
		return

	case wire.ResultTranslationCompleted:
		var p wire.TranslationResult
		r.completed(rt, env, &p, func() (string, string) { return p.TaskID, p.TargetLanguage })

	case wire.ResultAudioProcessCompleted:
		var p wire.AudioProcessResult
		r.completed(rt, env, &p, func() (string, string) { return p.TaskID, "" })

	case wire.ResultTranscriptionCompleted:
		var p wire.TranscriptionResult
		r.completed(rt, env, &p, func() (string, string) { return p.TaskID, "" })

	case wire.ResultVoiceAPISuccess:
		var p wire.VoiceAPIResult
		r.completed(rt, env, &p, func() (string, string) { return p.TaskID, "" })

	case wire.ResultVoiceProfileAnalyze:
		var p wire.VoiceProfileAnalyzeResult
		r.completed(rt, env, &p, func() (string, string) { return p.TaskID, "" })

	case wire.ResultVoiceProfileVerify:
		var p wire.VoiceProfileVerifyResult
		r.completed(rt, env, &p, func() (string, string) { return p.TaskID, "" })

	case wire.ResultVoiceProfileCompare:
		var p wire.VoiceProfileCompareResult
		r.completed(rt, env, &p, func() (string, string) { return p.TaskID, "" })

	case wire.ResultTranslationError, wire.ResultAudioProcessError,
		wire.ResultTranscriptionError, wire.ResultVoiceAPIError,
		wire.ResultVoiceProfileError:
		r.failed(rt, env)

	case wire.ResultUnknown:
		r.logger.Warn("unknown event type dropped", "type", string(env.Type), "taskId", env.TaskID)

	default:
		r.logger.Warn("unhandled event type dropped", "type", rt.String(), "taskId", env.TaskID)
	}
}

// completed handles one success event: decode, dedup, bookkeeping, deliver.
func (r *Router) completed(rt wire.ResultType, env *wire.Envelope, payload any, key func() (string, string)) {
	if err := env.DecodePayload(payload); err != nil {
		r.logger.Warn("bad result payload", "type", rt.String(), "error", err)
		return
	}
	taskID, subKey := key()
	if taskID == "" {
		taskID = env.TaskID
	}
	if r.dedup.Seen(taskID, subKey) {
		r.logger.Debug("duplicate result dropped", "taskId", taskID, "subKey", subKey)
		return
	}
	r.retry.MarkSuccess(taskID)
	r.deliver(Event{Type: rt, TaskID: taskID, SubKey: subKey, Payload: payload, Envelope: env})
}

// failed handles one error event. Terminal surfacing happens through the
// retry handler's onTerminal hook, so a retryable failure that will be
// re-emitted produces no caller-visible event here.
//
// While a task is still pending, the dedup key carries the attempt
// number: each attempt's genuine failure must reach MarkFailure or the
// retry accounting stalls, while a re-delivery of the same attempt's
// error stays invisible. Once the task is resolved the key falls back to
// the event type alone.
func (r *Router) failed(rt wire.ResultType, env *wire.Envelope) {
	var p wire.ResultError
	if err := env.DecodePayload(&p); err != nil {
		r.logger.Warn("bad error payload", "type", rt.String(), "error", err)
		return
	}
	taskID := p.TaskID
	if taskID == "" {
		taskID = env.TaskID
	}
	key := rt.String()
	if attempt, pending := r.retry.Attempt(taskID); pending {
		key = fmt.Sprintf("%s#%d", key, attempt)
	}
	if r.dedup.Seen(taskID, key) {
		return
	}
	r.retry.MarkFailure(taskID, &Error{
		Kind:      KindWorker,
		EventType: rt,
		TaskID:    taskID,
		Code:      p.ErrorCode,
		Message:   p.Error,
		Transient: p.Transient,
	})
}

func (r *Router) deliver(ev Event) {
	if r.emit != nil {
		r.emit(ev)
	}
}

// dedupCache is a bounded first-in-first-out set of (taskId, subKey) pairs.
// The pub/sub transport does not guarantee exactly-once delivery; the cache
// makes re-deliveries invisible to callers.
type dedupCache struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order []string
}

func newDedupCache(capacity int) *dedupCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &dedupCache{
		cap:  capacity,
		seen: make(map[string]struct{}, capacity),
	}
}

// Seen records the key and reports whether it was already present.
// When full, the oldest entry is evicted.
func (c *dedupCache) Seen(taskID, subKey string) bool {
	key := taskID + "\x00" + subKey
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return true
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	c.seen[key] = struct{}{}
	c.order = append(c.order, key)
	return false
}

// Len returns the number of cached keys.
func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
