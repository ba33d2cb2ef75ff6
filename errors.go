package perfharness

import (
	"errors"
	"fmt"
	"os"
)

// Configuration errors returned by RoutingBuilder operations.
var (
	ErrBuilderConsumed    = errors.New("routing builder already consumed by createPerformer")
	ErrChannelCountMismatch = errors.New("input/output channel count mismatch")
	ErrWrongEndpointKind  = errors.New("endpoint kind does not support this connection")
	ErrNoEventOutputs     = errors.New("no event-output endpoints to install a handler for")
	ErrEventHandlerSet    = errors.New("event output handler already installed")
)

// ErrOverflow is returned by postEvent/postValue when the backing SPSC
// queue has no room for the record. It is a plain sentinel, never wrapped:
// callers on the control thread test against it with errors.Is.
var ErrOverflow = errors.New("queue overflow, post dropped")

// ErrPerformerNotReady is returned by process() when it is called before
// prepareToStart() succeeds, or after playbackStopped() has released the
// performer.
var ErrPerformerNotReady = errors.New("performer not ready")

// ErrCoercionFailed is returned by postEvent/postValue when the supplied
// value cannot be converted to any type the target endpoint accepts.
var ErrCoercionFailed = errors.New("value does not coerce to endpoint type")

// ErrUnknownEndpoint names a post or connection targeting an endpoint id
// or handle the routing plan has no record of.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// ErrorHandler receives diagnostics that must never propagate as a panic
// across the audio thread. process() catches any error condition derived
// from an abstract "performer exception" and routes it here instead of
// letting the audio callback abort the process.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler writes a single diagnostic line to standard error,
// matching the one-line-to-stderr contract spec.md requires for
// audio-thread exceptions.
type DefaultErrorHandler struct{}

func (DefaultErrorHandler) HandleError(err error) {
	fmt.Fprintf(os.Stderr, "perfharness: %v\n", err)
}

// LoggingErrorHandler forwards every error to logger and then to an
// underlying handler, letting a caller observe diagnostics without
// replacing the handler that actually reacts to them.
type LoggingErrorHandler struct {
	Underlying ErrorHandler
	Logger     func(error)
}

func (h *LoggingErrorHandler) HandleError(err error) {
	if h.Logger != nil {
		h.Logger(err)
	}
	if h.Underlying != nil {
		h.Underlying.HandleError(err)
	}
}

// PanicErrorHandler panics on any error. Useful in tests and during
// development, never in production: it defeats the audio thread's
// never-abort contract.
type PanicErrorHandler struct{}

func (PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("perfharness: %v", err))
}
