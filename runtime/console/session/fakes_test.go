package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/txconsole/runtime/console/eventstream"
	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/submit"
	"goa.design/txconsole/runtime/console/transfer"
)

type (
	submitFunc func(ctx context.Context, form submit.Form) (string, error)

	fakeOpener struct {
		mu      sync.Mutex
		openErr error
		opened  chan *fakeStream
	}

	fakeStream struct {
		sessionID string
		handler   eventstream.Handler
		closes    atomic.Int32
	}

	recordingSink struct {
		mu            sync.Mutex
		log           []logview.Rendered
		clears        int
		badges        []Badge
		tables        [][]transfer.Row
		submitEnabled []bool
	}

	harness struct {
		ctrl    *Controller
		streams *fakeOpener
		sink    *recordingSink
	}

	clock struct {
		mu   sync.Mutex
		next time.Time
	}
)

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func (f submitFunc) Submit(ctx context.Context, form submit.Form) (string, error) {
	return f(ctx, form)
}

func constSubmitter(id string, err error) Submitter {
	return submitFunc(func(context.Context, submit.Form) (string, error) { return id, err })
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan *fakeStream, 8)}
}

func (o *fakeOpener) Open(_ context.Context, sessionID string, h eventstream.Handler) (eventstream.Subscription, error) {
	o.mu.Lock()
	err := o.openErr
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := &fakeStream{sessionID: sessionID, handler: h}
	o.opened <- s
	return s, nil
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *fakeStream) send(msg string) {
	s.handler.OnMessage([]byte(msg))
}

func (s *recordingSink) AppendLog(entry logview.Rendered) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
}

func (s *recordingSink) ClearLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
	s.clears++
}

func (s *recordingSink) SetBadge(b Badge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badges = append(s.badges, b)
}

func (s *recordingSink) RenderTable(rows []transfer.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, rows)
}

func (s *recordingSink) SetSubmitEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitEnabled = append(s.submitEnabled, enabled)
}

func (s *recordingSink) lastBadge() Badge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badges[len(s.badges)-1]
}

func (s *recordingSink) lastTable() []transfer.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[len(s.tables)-1]
}

func (s *recordingSink) lastSubmitEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitEnabled[len(s.submitEnabled)-1]
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	for i, r := range s.log {
		out[i] = r.Message()
	}
	return out
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next.IsZero() {
		c.next = epoch
	}
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

func newHarness(t *testing.T, submitter Submitter, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{streams: newFakeOpener(), sink: &recordingSink{}}
	clk := &clock{}
	opts := Options{
		Submitter: submitter,
		Streams:   h.streams,
		Sink:      h.sink,
		Explorer:  transfer.Explorer{TxURLTemplate: "https://explorer.test/tx/{hash}"},
		Now:       clk.now,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	ctrl, err := New(opts)
	require.NoError(t, err)
	h.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) submit(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Submit(context.Background(), submit.Form{Amount: "1"}))
}

// start submits and waits for the stream to be opened.
func (h *harness) start(t *testing.T) *fakeStream {
	t.Helper()
	h.submit(t)
	return h.waitStream(t)
}

func (h *harness) waitStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-h.streams.opened:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream")
		return nil
	}
}

func (h *harness) view(t *testing.T) View {
	t.Helper()
	v, err := h.ctrl.View(context.Background())
	require.NoError(t, err)
	return v
}

// settle waits until the session reaches a terminal state.
func (h *harness) settle(t *testing.T) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		v = h.view(t)
		return v.State.Terminal() && v.SubmitEnabled
	}, 5*time.Second, 5*time.Millisecond)
	return v
}
