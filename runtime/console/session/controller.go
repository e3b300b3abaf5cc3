package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/txconsole/runtime/console/eventstream"
	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/status"
	"goa.design/txconsole/runtime/console/submit"
	"goa.design/txconsole/runtime/console/telemetry"
	"goa.design/txconsole/runtime/console/transfer"
)

type (
	// Submitter issues batch submissions and returns the session identifier.
	Submitter interface {
		Submit(ctx context.Context, form submit.Form) (string, error)
	}

	// Options configures a Controller.
	Options struct {
		// Submitter issues submissions. Required.
		Submitter Submitter
		// Streams opens session event streams. Required.
		Streams eventstream.Opener
		// Sink renders the controller output. Defaults to NopSink.
		Sink Sink
		// Formatter renders log entries. Defaults to logview.New().
		Formatter *logview.Formatter
		// Explorer builds transaction links in the transfer table.
		Explorer transfer.Explorer
		// Logger records diagnostics. Defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics records counters and timers. Defaults to no-op.
		Metrics telemetry.Metrics
		// Tracer traces submission calls. Defaults to no-op.
		Tracer telemetry.Tracer
		// Now returns the receipt time of events. Defaults to time.Now.
		Now func() time.Time
		// InboxSize is the capacity of the loop inbox. Defaults to 64.
		InboxSize int
	}

	// Controller drives console sessions. Create with New, start the loop
	// with Run, then issue Submit and ClearLog from any goroutine.
	Controller struct {
		submitter Submitter
		streams   eventstream.Opener
		sink      Sink
		formatter *logview.Formatter
		explorer  transfer.Explorer
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
		now       func() time.Time

		inbox   chan any
		done    chan struct{}
		started atomic.Bool

		// Fields below are owned by the loop goroutine.
		ctx           context.Context
		gen           uint64
		session       *Session
		sub           eventstream.Subscription
		stop          chan struct{}
		cancelSubmit  context.CancelFunc
		streaming     bool
		submitEnabled bool
	}

	submitMsg struct {
		form submit.Form
	}

	clearLogMsg struct{}

	viewMsg struct {
		reply chan View
	}

	submitResultMsg struct {
		gen       uint64
		sessionID string
		err       error
		elapsed   time.Duration
	}

	streamOpenMsg struct {
		gen uint64
	}

	streamDataMsg struct {
		gen      uint64
		data     []byte
		received time.Time
	}

	streamEndMsg struct {
		gen uint64
	}

	streamErrorMsg struct {
		gen uint64
		err error
	}

	// streamHandler forwards subscription callbacks to the controller loop.
	streamHandler struct {
		c    *Controller
		gen  uint64
		stop <-chan struct{}
	}
)

var (
	// ErrClosed is returned when the controller loop has stopped.
	ErrClosed = errors.New("session controller stopped")
	// ErrAlreadyRunning is returned by Run when the loop is already started.
	ErrAlreadyRunning = errors.New("session controller already running")
)

// Operator-facing log messages.
const (
	msgSubmitting   = "Submitting transfer batch..."
	msgStarted      = "Session %s started. Streaming transfer events..."
	msgMalformed    = "Received a malformed event: %v"
	msgFinished     = "Session finished."
	msgDisconnected = "Lost connection to the event stream. Check the server logs for the final status of each transfer."
	msgLogCleared   = "Log cleared."
)

// New returns a controller configured with opts.
func New(opts Options) (*Controller, error) {
	if opts.Submitter == nil {
		return nil, errors.New("session: submitter is required")
	}
	if opts.Streams == nil {
		return nil, errors.New("session: stream opener is required")
	}
	c := &Controller{
		submitter:     opts.Submitter,
		streams:       opts.Streams,
		sink:          opts.Sink,
		formatter:     opts.Formatter,
		explorer:      opts.Explorer,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		now:           opts.Now,
		done:          make(chan struct{}),
		session:       newSession(0),
		submitEnabled: true,
	}
	if c.sink == nil {
		c.sink = NopSink{}
	}
	if c.formatter == nil {
		c.formatter = logview.New()
	}
	if c.logger == nil {
		c.logger = telemetry.NoopLogger{}
	}
	if c.metrics == nil {
		c.metrics = telemetry.NoopMetrics{}
	}
	if c.tracer == nil {
		c.tracer = telemetry.NoopTracer{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	size := opts.InboxSize
	if size <= 0 {
		size = 64
	}
	c.inbox = make(chan any, size)
	return c, nil
}

// Run renders the idle state and processes requests and stream events until
// ctx is done. The live stream, if any, is closed before Run returns. Run
// may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx
	defer close(c.done)
	defer c.teardown()

	c.sink.SetBadge(c.session.State.Badge())
	c.renderTable(c.session)
	c.sink.SetSubmitEnabled(c.submitEnabled)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.inbox:
			c.handle(m)
		}
	}
}

// Submit starts a new session for form, superseding the current one.
func (c *Controller) Submit(ctx context.Context, form submit.Form) error {
	return c.enqueue(ctx, submitMsg{form: form})
}

// ClearLog empties the log panel of the current session.
func (c *Controller) ClearLog(ctx context.Context) error {
	return c.enqueue(ctx, clearLogMsg{})
}

// View returns a copy of the controller state once every previously queued
// request and event has been processed.
func (c *Controller) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.enqueue(ctx, viewMsg{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (c *Controller) enqueue(ctx context.Context, m any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.inbox <- m:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers a message from a background goroutine. Messages posted
// after the loop stopped are dropped.
func (c *Controller) post(m any) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

func (c *Controller) handle(m any) {
	switch m := m.(type) {
	case submitMsg:
		c.handleSubmit(m.form)
	case clearLogMsg:
		c.handleClearLog()
	case viewMsg:
		m.reply <- c.view()
	case submitResultMsg:
		if m.gen == c.gen {
			c.handleSubmitResult(m)
		}
	case streamOpenMsg:
		if c.live(m.gen) {
			c.logger.Debug(c.ctx, "event stream open", "session_id", c.session.ID)
		}
	case streamDataMsg:
		if c.live(m.gen) {
			c.dispatch(c.session, m.data, m.received)
		}
	case streamEndMsg:
		if c.live(m.gen) {
			c.handleEnd(c.session)
		}
	case streamErrorMsg:
		if c.live(m.gen) {
			c.disconnect(c.session, m.err)
		}
	}
}

// live reports whether gen identifies the session with the open stream.
func (c *Controller) live(gen uint64) bool {
	return gen == c.gen && c.streaming
}

func (c *Controller) handleSubmit(form submit.Form) {
	c.teardown()
	c.gen++
	s := newSession(c.gen)
	c.session = s

	c.sink.ClearLog()
	c.renderTable(s)
	c.metrics.RecordGauge(telemetry.MetricTransfersTracked, 0)
	c.setSubmitEnabled(false)
	c.setState(s, StateSending)
	c.appendLog(s, logview.LevelInfo, msgSubmitting, c.now())

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelSubmit = cancel
	go c.submit(ctx, s.Generation, form)
}

func (c *Controller) submit(ctx context.Context, gen uint64, form submit.Form) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "txconsole.submit")
	id, err := c.submitter.Submit(ctx, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("session.started", "session_id", id)
	}
	span.End()
	c.post(submitResultMsg{gen: gen, sessionID: id, err: err, elapsed: time.Since(start)})
}

func (c *Controller) handleSubmitResult(m submitResultMsg) {
	if c.cancelSubmit != nil {
		c.cancelSubmit()
		c.cancelSubmit = nil
	}
	s := c.session
	c.metrics.RecordTimer(telemetry.MetricSubmissionLatency, m.elapsed)
	if m.err != nil {
		c.metrics.IncCounter(telemetry.MetricSubmissionFailures, 1)
		c.logger.Error(c.ctx, "submission failed", "err", m.err)
		c.appendLog(s, logview.LevelError, m.err.Error(), c.now())
		c.setState(s, StateError)
		c.setSubmitEnabled(true)
		return
	}

	s.ID = m.sessionID
	c.metrics.IncCounter(telemetry.MetricSessionsStarted, 1)
	c.logger.Info(c.ctx, "session started", "session_id", s.ID, "latency", m.elapsed.String())
	c.appendLog(s, logview.LevelInfo, fmt.Sprintf(msgStarted, s.ID), c.now())
	c.setState(s, StateRunning)

	stop := make(chan struct{})
	sub, err := c.streams.Open(c.ctx, s.ID, &streamHandler{c: c, gen: s.Generation, stop: stop})
	if err != nil {
		close(stop)
		c.disconnect(s, fmt.Errorf("open event stream: %w", err))
		return
	}
	c.stop = stop
	c.sub = sub
	c.streaming = true
}

// dispatch applies one stream message to s.
func (c *Controller) dispatch(s *Session, data []byte, received time.Time) {
	c.metrics.IncCounter(telemetry.MetricEventsReceived, 1)
	evt, err := eventstream.Decode(data, eventstream.InLocation(c.formatter.Location()))
	if err != nil {
		c.metrics.IncCounter(telemetry.MetricEventsMalformed, 1)
		c.logger.Warn(c.ctx, "malformed event", "session_id", s.ID, "err", err)
		c.appendLog(s, logview.LevelError, fmt.Sprintf(msgMalformed, err), received)
		c.setState(s, StateError)
		return
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = received
	}
	c.appendLog(s, evt.Level, evt.Message, ts)
	if evt.Meta == nil {
		return
	}
	if s.Transfers.Upsert(*evt.Meta, evt.Message, ts) {
		c.renderTable(s)
		c.metrics.RecordGauge(telemetry.MetricTransfersTracked, float64(s.Transfers.Len()))
	}
	switch class := evt.Meta.Status.Class(); class {
	case status.ClassInProgress:
		c.setState(s, StateRunning)
	case status.ClassFailed:
		s.Outcome = class
		c.setState(s, StateError)
	case status.ClassSucceeded:
		s.Outcome = class
		c.setState(s, StateConfirmed)
	}
}

func (c *Controller) handleEnd(s *Session) {
	c.closeStream()
	c.appendLog(s, logview.LevelInfo, msgFinished, c.now())
	final := s.finalState()
	c.setState(s, final)
	c.setSubmitEnabled(true)
	c.logger.Info(c.ctx, "session finished", "session_id", s.ID, "state", string(final), "transfers", s.Transfers.Len())
}

func (c *Controller) disconnect(s *Session, err error) {
	c.closeStream()
	c.metrics.IncCounter(telemetry.MetricStreamDisconnects, 1)
	c.logger.Warn(c.ctx, "event stream disconnected", "session_id", s.ID, "err", err)
	c.appendLog(s, logview.LevelWarn, msgDisconnected, c.now())
	c.setState(s, StateDisconnected)
	c.setSubmitEnabled(true)
}

func (c *Controller) handleClearLog() {
	s := c.session
	s.Log = nil
	c.sink.ClearLog()
	c.appendLog(s, logview.LevelInfo, msgLogCleared, c.now())
}

// teardown cancels the in-flight submission and closes the live stream.
func (c *Controller) teardown() {
	if c.cancelSubmit != nil {
		c.cancelSubmit()
		c.cancelSubmit = nil
	}
	c.closeStream()
}

func (c *Controller) closeStream() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			c.logger.Warn(c.ctx, "close event stream", "session_id", c.session.ID, "err", err)
		}
		c.sub = nil
	}
	c.streaming = false
}

func (c *Controller) appendLog(s *Session, level logview.Level, msg string, ts time.Time) {
	r := c.formatter.Format(logview.Entry{Level: level, Message: msg, Timestamp: ts})
	s.Log = append(s.Log, r)
	c.sink.AppendLog(r)
}

func (c *Controller) setState(s *Session, st State) {
	s.State = st
	c.sink.SetBadge(st.Badge())
}

func (c *Controller) setSubmitEnabled(enabled bool) {
	c.submitEnabled = enabled
	c.sink.SetSubmitEnabled(enabled)
}

func (c *Controller) renderTable(s *Session) {
	c.sink.RenderTable(transfer.Rows(s.Transfers.Snapshot(), transfer.RowOptions{
		Explorer:   c.explorer,
		FormatTime: c.formatter.FormatTime,
	}))
}

func (c *Controller) view() View {
	s := c.session
	log := make([]logview.Rendered, len(s.Log))
	copy(log, s.Log)
	return View{
		Generation:    s.Generation,
		SessionID:     s.ID,
		State:         s.State,
		Badge:         s.State.Badge(),
		Streaming:     c.streaming,
		SubmitEnabled: c.submitEnabled,
		Transfers:     s.Transfers.Snapshot(),
		Log:           log,
	}
}

func (h *streamHandler) post(m any) {
	select {
	case <-h.stop:
		return
	default:
	}
	select {
	case h.c.inbox <- m:
	case <-h.stop:
	case <-h.c.done:
	}
}

func (h *streamHandler) OnOpen() {
	h.post(streamOpenMsg{gen: h.gen})
}

func (h *streamHandler) OnMessage(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	h.post(streamDataMsg{gen: h.gen, data: buf, received: h.c.now()})
}

func (h *streamHandler) OnEnd() {
	h.post(streamEndMsg{gen: h.gen})
}

func (h *streamHandler) OnError(err error) {
	h.post(streamErrorMsg{gen: h.gen, err: err})
}
