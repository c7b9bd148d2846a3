package dispatch

import (
	"errors"
	"fmt"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindTransport covers socket disconnects and encode/decode failures.
	// Retried automatically up to the configured maximum.
	KindTransport Kind = iota + 1

	// KindWorker covers business failures reported by the worker, e.g.
	// unsupported audio format. Not retried unless the worker flags the
	// failure transient.
	KindWorker

	// KindValidation covers malformed envelopes rejected at dispatch time.
	// Never sent over the wire.
	KindValidation

	// KindAdmission covers synchronous rejection while the circuit breaker
	// is open.
	KindAdmission

	// KindTimeout covers tasks abandoned by the staleness sweep.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindWorker:
		return "worker"
	case KindValidation:
		return "validation"
	case KindAdmission:
		return "admission"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error. It always carries the correlation
// id of the task it belongs to (empty for connection-level failures).
// EventType preserves the originating wire event tag for worker failures;
// locally generated failures (transport, timeout, validation) leave it at
// the zero value.
type Error struct {
	Kind      Kind
	EventType wire.ResultType
	TaskID    string
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.TaskID != "" {
		return fmt.Sprintf("dispatch: %s error (task %s): %s", e.Kind, e.TaskID, msg)
	}
	return fmt.Sprintf("dispatch: %s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry handler may re-emit the task after
// this failure.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindWorker:
		return e.Transient
	}
	return false
}

// AsError extracts a classified error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newTransportError(taskID string, err error, msg string) *Error {
	return &Error{Kind: KindTransport, TaskID: taskID, Message: msg, Err: err}
}

func newValidationError(taskID string, err error, msg string) *Error {
	return &Error{Kind: KindValidation, TaskID: taskID, Message: msg, Err: err}
}

func newAdmissionError(msg string) *Error {
	return &Error{Kind: KindAdmission, Message: msg}
}

func newTimeoutError(taskID string, msg string) *Error {
	return &Error{Kind: KindTimeout, TaskID: taskID, Message: msg}
}
