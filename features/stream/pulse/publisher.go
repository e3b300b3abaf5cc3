package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/txconsole/features/stream/pulse/clients/pulse"
	"goa.design/txconsole/runtime/console/eventstream"
)

type (
	// PublisherOptions configures the Pulse publisher.
	PublisherOptions struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
	}

	// Publisher writes session events to Pulse streams. Safe for concurrent
	// use.
	Publisher struct {
		client clientspulse.Client
	}
)

// NewPublisher returns a Publisher. The Client field in opts is required.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	return &Publisher{client: opts.Client}, nil
}

// Publish encodes evt and appends it to the session stream.
func (p *Publisher) Publish(ctx context.Context, sessionID string, evt eventstream.Event) error {
	payload, err := eventstream.Encode(evt)
	if err != nil {
		return err
	}
	return p.add(ctx, sessionID, EventMessage, payload)
}

// End appends the end-of-session signal to the session stream.
func (p *Publisher) End(ctx context.Context, sessionID string) error {
	return p.add(ctx, sessionID, EventEnd, []byte("{}"))
}

// Close releases the underlying client.
func (p *Publisher) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

func (p *Publisher) add(ctx context.Context, sessionID, event string, payload []byte) error {
	str, err := p.client.SessionStream(sessionID)
	if err != nil {
		return err
	}
	_, err = str.Add(ctx, event, payload)
	return err
}
