// Package pulse carries console session events over goa.design/pulse Redis
// streams. The Publisher writes the events of a session to the stream
// "session/<id>" and the Opener consumes that stream as an
// eventstream.Opener, so the console can follow sessions produced by
// workers that do not serve HTTP.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/txconsole/features/stream/pulse/clients/pulse"
	"goa.design/txconsole/runtime/console/eventstream"
)

type (
	// OpenerOptions configures a Pulse-backed event stream opener.
	OpenerOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName prefixes the consumer group names. Each subscription uses
		// its own group so concurrent consoles each see every event.
		// Defaults to "txconsole".
		SinkName string
	}

	// Opener implements eventstream.Opener over Pulse streams.
	Opener struct {
		client clientspulse.Client
		name   string
	}

	subscription struct {
		cancel context.CancelFunc
		done   chan struct{}
		once   sync.Once
	}
)

const (
	// EventMessage is the Pulse event name of session messages.
	EventMessage = "message"
	// EventEnd is the Pulse event name of the end-of-session signal.
	EventEnd = eventstream.EndEvent
)

// NewOpener returns an Opener. The Client field in opts is required.
func NewOpener(opts OpenerOptions) (*Opener, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "txconsole"
	}
	return &Opener{client: opts.Client, name: name}, nil
}

// Open creates a consumer group reading the session stream from its oldest
// entry and consumes it on a new goroutine. Events are acked once handled.
func (o *Opener) Open(ctx context.Context, sessionID string, h eventstream.Handler) (eventstream.Subscription, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, eventstream.ErrMissingSessionID
	}
	str, err := o.client.SessionStream(sessionID)
	if err != nil {
		return nil, err
	}
	sinkName := fmt.Sprintf("%s-%s", o.name, uuid.NewString())
	sink, err := str.NewSink(ctx, sinkName, streamopts.WithSinkStartAtOldest())
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &subscription{cancel: cancel, done: make(chan struct{})}
	go s.consume(runCtx, sink, h)
	return s, nil
}

// Close stops consumption and waits for the sink to be closed.
func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// consume dispatches sink events to h until the end signal, a sink failure
// or cancellation. The sink is closed on return.
func (s *subscription) consume(ctx context.Context, sink clientspulse.Sink, h eventstream.Handler) {
	defer close(s.done)
	defer sink.Close(context.Background())

	fail := func(err error) {
		if ctx.Err() == nil {
			h.OnError(err)
		}
	}

	ch := sink.Subscribe()
	if ctx.Err() != nil {
		return
	}
	h.OnOpen()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				fail(eventstream.ErrStreamClosed)
				return
			}
			if ctx.Err() != nil {
				return
			}
			switch evt.EventName {
			case EventEnd:
				_ = sink.Ack(ctx, evt)
				h.OnEnd()
				return
			case EventMessage, "":
				h.OnMessage(evt.Payload)
			}
			if err := sink.Ack(ctx, evt); err != nil {
				fail(fmt.Errorf("pulse ack: %w", err))
				return
			}
		}
	}
}
