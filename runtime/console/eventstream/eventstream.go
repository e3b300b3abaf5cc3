// Package eventstream defines the session event protocol consumed by the
// console: the JSON envelope pushed by the producer for every status update
// and the cancellable subscription abstraction transports implement.
//
// A subscription delivers callbacks in arrival order:
//
//	OnOpen        once the transport is connected
//	OnMessage     for every default (unnamed) message, raw payload
//	OnEnd         when the producer sends the end-of-session signal
//	OnError       when the transport fails (connection error, unexpected EOF)
//
// OnEnd and OnError are terminal: no callback follows them. Closing a
// subscription stops delivery; a transport never reports the error caused by
// its own Close.
package eventstream

import (
	"context"
	"errors"
)

type (
	// Handler receives subscription callbacks. Callbacks are invoked from a
	// single transport goroutine, never concurrently.
	Handler interface {
		// OnOpen is called once the stream is connected.
		OnOpen()
		// OnMessage is called with the raw payload of each message.
		OnMessage(data []byte)
		// OnEnd is called when the end-of-session signal is received.
		OnEnd()
		// OnError is called when the transport fails.
		OnError(err error)
	}

	// Subscription is a live stream subscription.
	Subscription interface {
		// Close stops the subscription and releases its connection. Close is
		// idempotent. Once Close returns no further callbacks are delivered.
		Close() error
	}

	// Opener opens subscriptions addressed by session identifier. Open does
	// not block on the connection: connection failures are reported through
	// Handler.OnError.
	Opener interface {
		Open(ctx context.Context, sessionID string, h Handler) (Subscription, error)
	}

	// HandlerFuncs adapts plain functions to Handler. Nil functions are
	// skipped.
	HandlerFuncs struct {
		Open    func()
		Message func(data []byte)
		End     func()
		Error   func(err error)
	}
)

// EndEvent is the name of the end-of-session event.
const EndEvent = "end"

var (
	// ErrStreamClosed is reported through OnError when the producer closes
	// the stream without sending the end-of-session signal.
	ErrStreamClosed = errors.New("event stream closed before end of session")
	// ErrMissingSessionID is returned by Open when the session ID is empty.
	ErrMissingSessionID = errors.New("session id is required")
)

// OnOpen implements Handler.
func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(data []byte) {
	if h.Message != nil {
		h.Message(data)
	}
}

// OnEnd implements Handler.
func (h HandlerFuncs) OnEnd() {
	if h.End != nil {
		h.End()
	}
}

// OnError implements Handler.
func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}
