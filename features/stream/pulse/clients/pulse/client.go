// Package pulse wraps goa.design/pulse streams behind small interfaces so the
// session event transport and the simulator publisher can be tested without
// Redis. Callers build a Redis client, pass it to New and use the returned
// Client to open per-session streams.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis is the Redis connection used to back Pulse streams. Required.
		Redis *redis.Client
		// StreamPrefix prefixes session stream names. Defaults to
		// DefaultStreamPrefix.
		StreamPrefix string
		// StreamMaxLen bounds the number of entries kept per stream. Zero uses
		// Pulse defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add and Ping operations. Zero
		// means no timeout.
		OperationTimeout time.Duration
	}

	// Client opens Pulse streams.
	Client interface {
		// SessionStream returns the stream carrying the events of a console
		// session.
		SessionStream(sessionID string) (Stream, error)
		// Ping checks the Redis connection.
		Ping(ctx context.Context) error
		// Close releases resources owned by the client.
		Close(ctx context.Context) error
	}

	// Stream exposes the operations needed to publish session events and to
	// consume them through sinks (consumer groups).
	Stream interface {
		// Name returns the stream name.
		Name() string
		// Add publishes an event and returns the ID assigned by Redis.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group reading the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and its messages.
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group reading from a Pulse stream.
	Sink interface {
		// Subscribe returns the channel of incoming events. The channel is
		// closed when the sink stops.
		Subscribe() <-chan *streaming.Event
		// Ack removes an event from the pending list.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink.
		Close(context.Context)
	}

	client struct {
		redis   *redis.Client
		prefix  string
		maxLen  int
		timeout time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}

	sinkAdapter struct {
		*streaming.Sink
	}
)

// DefaultStreamPrefix is the default session stream name prefix.
const DefaultStreamPrefix = "session/"

// New returns a Client backed by opts.Redis, which is required.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.StreamPrefix
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &client{
		redis:   opts.Redis,
		prefix:  prefix,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
	}, nil
}

// StreamName returns the stream name of a session given a prefix.
func StreamName(prefix, sessionID string) string {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return prefix + sessionID
}

// SessionStream returns the stream of sessionID, creating it if needed.
func (c *client) SessionStream(sessionID string) (Stream, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is required")
	}
	var opts []streamopts.Stream
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(StreamName(c.prefix, sessionID), c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// Ping checks the Redis connection.
func (c *client) Ping(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close is a no-op: the caller owns the Redis connection.
func (c *client) Close(context.Context) error {
	return nil
}

func (h *handle) Name() string {
	return h.stream.Name
}

// Add publishes an event, bounded by the configured operation timeout.
func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

// NewSink creates a consumer group on the stream.
func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse sink %q: %w", name, err)
	}
	return &sinkAdapter{Sink: sink}, nil
}

// Destroy deletes the stream and its messages.
func (h *handle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// Close stops the underlying sink.
func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
