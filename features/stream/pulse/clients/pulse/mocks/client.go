// Package mocks provides clue/mock based test doubles for the Pulse client
// interfaces. Each mock replays the functions registered with AddX in order
// and reports unexpected calls through the test.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"goa.design/txconsole/features/stream/pulse/clients/pulse"
)

type (
	// Client mocks pulse.Client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	ClientSessionStreamFunc func(sessionID string) (pulse.Stream, error)
	ClientPingFunc          func(ctx context.Context) error
	ClientCloseFunc         func(ctx context.Context) error

	// Stream mocks pulse.Stream.
	Stream struct {
		m *mock.Mock
		t *testing.T
	}

	StreamNameFunc    func() string
	StreamAddFunc     func(ctx context.Context, event string, payload []byte) (string, error)
	StreamNewSinkFunc func(ctx context.Context, name string, opts ...streamopts.Sink) (pulse.Sink, error)
	StreamDestroyFunc func(ctx context.Context) error

	// Sink mocks pulse.Sink.
	Sink struct {
		m *mock.Mock
		t *testing.T
	}

	SinkSubscribeFunc func() <-chan *streaming.Event
	SinkAckFunc       func(ctx context.Context, evt *streaming.Event) error
	SinkCloseFunc     func(ctx context.Context)
)

var (
	_ pulse.Client = (*Client)(nil)
	_ pulse.Stream = (*Stream)(nil)
	_ pulse.Sink   = (*Sink)(nil)
)

// NewClient returns a Client mock.
func NewClient(t *testing.T) *Client {
	return &Client{mock.New(), t}
}

func (m *Client) AddSessionStream(f ClientSessionStreamFunc) { m.m.Add("SessionStream", f) }
func (m *Client) SetSessionStream(f ClientSessionStreamFunc) { m.m.Set("SessionStream", f) }
func (m *Client) AddPing(f ClientPingFunc)                   { m.m.Add("Ping", f) }
func (m *Client) AddClose(f ClientCloseFunc)                 { m.m.Add("Close", f) }

func (m *Client) SessionStream(sessionID string) (pulse.Stream, error) {
	if f := m.m.Next("SessionStream"); f != nil {
		return f.(ClientSessionStreamFunc)(sessionID)
	}
	m.t.Helper()
	m.t.Error("unexpected SessionStream call")
	return nil, nil
}

func (m *Client) Ping(ctx context.Context) error {
	if f := m.m.Next("Ping"); f != nil {
		return f.(ClientPingFunc)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Ping call")
	return nil
}

func (m *Client) Close(ctx context.Context) error {
	if f := m.m.Next("Close"); f != nil {
		return f.(ClientCloseFunc)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Close call")
	return nil
}

// HasMore reports whether registered calls were not made.
func (m *Client) HasMore() bool { return m.m.HasMore() }

// NewStream returns a Stream mock.
func NewStream(t *testing.T) *Stream {
	return &Stream{mock.New(), t}
}

func (m *Stream) AddName(f StreamNameFunc)       { m.m.Add("Name", f) }
func (m *Stream) SetName(f StreamNameFunc)       { m.m.Set("Name", f) }
func (m *Stream) AddAdd(f StreamAddFunc)         { m.m.Add("Add", f) }
func (m *Stream) AddNewSink(f StreamNewSinkFunc) { m.m.Add("NewSink", f) }
func (m *Stream) AddDestroy(f StreamDestroyFunc) { m.m.Add("Destroy", f) }

func (m *Stream) Name() string {
	if f := m.m.Next("Name"); f != nil {
		return f.(StreamNameFunc)()
	}
	m.t.Helper()
	m.t.Error("unexpected Name call")
	return ""
}

func (m *Stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if f := m.m.Next("Add"); f != nil {
		return f.(StreamAddFunc)(ctx, event, payload)
	}
	m.t.Helper()
	m.t.Error("unexpected Add call")
	return "", nil
}

func (m *Stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (pulse.Sink, error) {
	if f := m.m.Next("NewSink"); f != nil {
		return f.(StreamNewSinkFunc)(ctx, name, opts...)
	}
	m.t.Helper()
	m.t.Error("unexpected NewSink call")
	return nil, nil
}

func (m *Stream) Destroy(ctx context.Context) error {
	if f := m.m.Next("Destroy"); f != nil {
		return f.(StreamDestroyFunc)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Destroy call")
	return nil
}

// HasMore reports whether registered calls were not made.
func (m *Stream) HasMore() bool { return m.m.HasMore() }

// NewSink returns a Sink mock.
func NewSink(t *testing.T) *Sink {
	return &Sink{mock.New(), t}
}

func (m *Sink) AddSubscribe(f SinkSubscribeFunc) { m.m.Add("Subscribe", f) }
func (m *Sink) AddAck(f SinkAckFunc)             { m.m.Add("Ack", f) }
func (m *Sink) SetAck(f SinkAckFunc)             { m.m.Set("Ack", f) }
func (m *Sink) AddClose(f SinkCloseFunc)         { m.m.Add("Close", f) }
func (m *Sink) SetClose(f SinkCloseFunc)         { m.m.Set("Close", f) }

func (m *Sink) Subscribe() <-chan *streaming.Event {
	if f := m.m.Next("Subscribe"); f != nil {
		return f.(SinkSubscribeFunc)()
	}
	m.t.Helper()
	m.t.Error("unexpected Subscribe call")
	return nil
}

func (m *Sink) Ack(ctx context.Context, evt *streaming.Event) error {
	if f := m.m.Next("Ack"); f != nil {
		return f.(SinkAckFunc)(ctx, evt)
	}
	m.t.Helper()
	m.t.Error("unexpected Ack call")
	return nil
}

func (m *Sink) Close(ctx context.Context) {
	if f := m.m.Next("Close"); f != nil {
		f.(SinkCloseFunc)(ctx)
		return
	}
	m.t.Helper()
	m.t.Error("unexpected Close call")
}

// HasMore reports whether registered calls were not made.
func (m *Sink) HasMore() bool { return m.m.HasMore() }
