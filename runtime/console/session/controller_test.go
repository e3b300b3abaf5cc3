package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/status"
	"goa.design/txconsole/runtime/console/submit"
	"goa.design/txconsole/runtime/console/transfer"
)

func TestRunRendersIdleState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	v := h.view(t)
	assert.Equal(t, StateIdle, v.State)
	assert.True(t, v.SubmitEnabled)
	assert.Equal(t, Badge{Label: "Idle", Variant: VariantIdle}, h.sink.lastBadge())
	rows := h.sink.lastTable()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Placeholder)
}

func TestPendingTransferThenEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)
	assert.Equal(t, "s1", stream.sessionID)

	v := h.view(t)
	assert.Equal(t, StateRunning, v.State)
	assert.False(t, v.SubmitEnabled)
	assert.True(t, v.Streaming)

	stream.send(`{"level":"info","message":"Tx 1 pending","meta":{"id":"t1","txIndex":0,"txHash":"0xabc","status":"pending"}}`)
	v = h.view(t)
	require.Len(t, v.Transfers, 1)
	rec := v.Transfers[0]
	assert.Equal(t, "t1", rec.ID)
	assert.Equal(t, status.Pending, rec.Status)
	assert.Equal(t, "0xabc", rec.TxHash)
	assert.Equal(t, "Tx #1", rec.DisplayLabel())
	assert.Equal(t, StateRunning, v.State)

	rows := h.sink.lastTable()
	require.Len(t, rows, 1)
	assert.Equal(t, "https://explorer.test/tx/0xabc", rows[0].TxURL)
	assert.Equal(t, "Pending", rows[0].StatusLabel)

	stream.handler.OnEnd()
	v = h.settle(t)
	assert.Equal(t, StateIdle, v.State)
	assert.True(t, v.SubmitEnabled)
	assert.False(t, v.Streaming)
	assert.Equal(t, int32(1), stream.closes.Load())
	require.Len(t, v.Transfers, 1)
	assert.Equal(t, status.Pending, v.Transfers[0].Status)
	assert.Equal(t, Badge{Label: "Idle", Variant: VariantIdle}, h.sink.lastBadge())
	assert.True(t, h.sink.lastSubmitEnabled())
}

func TestUpdatesMergeAcrossEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)
	assert.Equal(t, "s1", stream.sessionID)

	stream.send(`{"message":"broadcasting","meta":{"id":"t1","txIndex":0,"status":"submitted"}}`)
	stream.send(`{"message":"seen","meta":{"id":"t1","status":"pending","txHash":"0xabc"}}`)
	stream.handler.OnEnd()

	v := h.settle(t)
	require.Len(t, v.Transfers, 1)
	rec := v.Transfers[0]
	assert.Equal(t, "t1", rec.ID)
	assert.Equal(t, status.Pending, rec.Status)
	assert.Equal(t, "0xabc", rec.TxHash)
	require.NotNil(t, rec.TxIndex)
	assert.Equal(t, 0, *rec.TxIndex)
	assert.Equal(t, "seen", rec.LastMessage)
	assert.Equal(t, StateIdle, v.State)
	assert.Equal(t, Badge{Label: "Idle", Variant: VariantIdle}, h.sink.lastBadge())
	assert.True(t, h.sink.lastSubmitEnabled())
	assert.Equal(t, []string{"broadcasting", "seen", "Session finished."}, h.sink.messages()[len(h.sink.messages())-3:])
}

func TestInvalidTxIndexKeepsUpdate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)

	stream.send(`{"message":"Tx reverted","meta":{"id":"t1","txIndex":-1,"status":"reverted"}}`)
	stream.send(`{"message":"Tx seen","meta":{"id":"t2","txIndex":1.0,"status":"pending"}}`)
	v := h.view(t)
	require.Len(t, v.Transfers, 2)
	assert.Equal(t, status.Reverted, v.Transfers[0].Status)
	assert.Nil(t, v.Transfers[0].TxIndex)
	require.NotNil(t, v.Transfers[1].TxIndex)
	assert.Equal(t, 1, *v.Transfers[1].TxIndex)
	assert.Equal(t, StateRunning, v.State)
	for _, entry := range v.Log {
		assert.NotEqual(t, logview.LevelError, entry.Level)
	}
}

func TestMalformedEventThenRevert(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)
	before := len(h.view(t).Log)

	stream.send(`not-json`)
	stream.send(`{"meta":{"id":"t2","status":"reverted"}}`)

	v := h.view(t)
	require.Len(t, v.Log, before+2)
	assert.Equal(t, logview.LevelError, v.Log[before].Level)
	assert.Equal(t, logview.LevelInfo, v.Log[before+1].Level)
	assert.Empty(t, v.Log[before+1].Message())
	assert.Equal(t, StateError, v.State)
	assert.Equal(t, VariantError, h.sink.lastBadge().Variant)
	assert.True(t, v.Streaming)
	require.Len(t, v.Transfers, 1)
	assert.Equal(t, status.Reverted, v.Transfers[0].Status)
}

func TestMalformedEventKeepsStreamOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)

	stream.send(`{"message":42}`)
	v := h.view(t)
	assert.Equal(t, StateError, v.State)
	assert.True(t, v.Streaming)

	stream.send(`{"message":"Tx 1 monitoring","meta":{"id":"t1","status":"monitoring"}}`)
	v = h.view(t)
	assert.Equal(t, StateRunning, v.State)

	stream.handler.OnEnd()
	v = h.settle(t)
	assert.Equal(t, StateIdle, v.State, "malformed events do not decide the final state")
}

func TestFinalStateFollowsLastOutcome(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		statuses []status.Code
		want     State
	}{
		{"none", nil, StateIdle},
		{"in progress only", []status.Code{status.Preparing, status.Submitted, status.Monitoring}, StateIdle},
		{"confirmed", []status.Code{status.Submitted, status.Confirmed}, StateConfirmed},
		{"reverted", []status.Code{status.Submitted, status.Reverted}, StateError},
		{"failed then in progress", []status.Code{status.Reverted, status.Pending}, StateError},
		{"confirmed then reverted", []status.Code{status.Confirmed, status.Reverted}, StateError},
		{"reverted then confirmed", []status.Code{status.Reverted, status.Confirmed}, StateConfirmed},
		{"invalid batch", []status.Code{status.InvalidBatch}, StateError},
		{"unrecognized ignored", []status.Code{status.Confirmed, "mystery"}, StateConfirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, constSubmitter("s1", nil))
			stream := h.start(t)
			for i, code := range tc.statuses {
				stream.send(`{"message":"update","meta":{"id":"t` + string(rune('a'+i)) + `","status":"` + string(code) + `"}}`)
			}
			stream.handler.OnEnd()
			v := h.settle(t)
			assert.Equal(t, tc.want, v.State)
			assert.Equal(t, tc.want.Badge(), v.Badge)
			assert.Equal(t, tc.want.Badge(), h.sink.lastBadge())
		})
	}
}

func TestBadgeFollowsClassification(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)

	stream.send(`{"message":"a","meta":{"id":"t1","status":"confirmed"}}`)
	assert.Equal(t, StateConfirmed, h.view(t).State)
	assert.Equal(t, VariantSuccess, h.sink.lastBadge().Variant)

	stream.send(`{"message":"b","meta":{"id":"t2","status":"mystery"}}`)
	assert.Equal(t, StateConfirmed, h.view(t).State)

	stream.send(`{"message":"c","meta":{"id":"t3","status":"error"}}`)
	v := h.view(t)
	assert.Equal(t, StateError, v.State)
	assert.True(t, v.Streaming)
	assert.False(t, v.SubmitEnabled)

	stream.send(`{"message":"d","meta":{"id":"t4","status":"preparing"}}`)
	assert.Equal(t, StateRunning, h.view(t).State)
	assert.Equal(t, VariantRunning, h.sink.lastBadge().Variant)
}

func TestStatusWithoutTransferID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)

	stream.send(`{"level":"error","message":"Batch size out of range","meta":{"status":"invalid-batch"}}`)
	v := h.view(t)
	assert.Empty(t, v.Transfers)
	assert.Equal(t, StateError, v.State)
	assert.Equal(t, logview.LevelError, v.Log[len(v.Log)-1].Level)
}

func TestEventTimestamps(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)

	ts := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	stream.send(`{"message":"stamped","timestamp":"2023-01-02T03:04:05Z","meta":{"id":"t1"}}`)
	stream.send(`{"message":"unstamped","meta":{"id":"t2"}}`)
	v := h.view(t)
	n := len(v.Log)
	assert.True(t, v.Log[n-2].Timestamp.Equal(ts))
	assert.True(t, v.Log[n-1].Timestamp.After(epoch))
	require.Len(t, v.Transfers, 2)
	assert.Equal(t, "t1", v.Transfers[0].ID, "older producer timestamp sorts first")
}

func TestZoneLessTimestampUsesFormatterLocation(t *testing.T) {
	t.Parallel()
	zone := time.FixedZone("UTC+2", 2*60*60)
	h := newHarness(t, constSubmitter("s1", nil), func(o *Options) {
		o.Formatter = logview.New(logview.WithLocation(zone))
	})
	stream := h.start(t)

	stream.send(`{"message":"local","timestamp":"2023-01-02T05:04:05","meta":{"id":"t1"}}`)
	v := h.view(t)
	last := v.Log[len(v.Log)-1]
	assert.True(t, last.Timestamp.Equal(time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "05:04:05", last.Time)
}

func TestSubmissionFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("", &submit.StatusError{StatusCode: http.StatusBadRequest, Body: "Invalid private key"}))
	h.submit(t)
	v := h.settle(t)

	assert.Equal(t, StateError, v.State)
	assert.False(t, v.Streaming)
	last := v.Log[len(v.Log)-1]
	assert.Equal(t, logview.LevelError, last.Level)
	assert.Equal(t, "Invalid private key", last.Message())
	assert.Empty(t, h.streams.opened)
}

func TestTransportErrorDisconnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)
	stream.send(`{"message":"Tx 1 submitted","meta":{"id":"t1","status":"submitted","txHash":"0x1"}}`)

	stream.handler.OnError(errors.New("connection reset"))
	v := h.settle(t)
	assert.Equal(t, StateDisconnected, v.State)
	assert.Equal(t, VariantWarning, h.sink.lastBadge().Variant)
	assert.Equal(t, int32(1), stream.closes.Load())
	last := v.Log[len(v.Log)-1]
	assert.Equal(t, logview.LevelWarn, last.Level)
	assert.Contains(t, last.Message(), "server logs")
	require.Len(t, v.Transfers, 1)

	stream.send(`{"message":"late","meta":{"id":"t9"}}`)
	assert.Len(t, h.view(t).Transfers, 1, "events after disconnect are ignored")
}

func TestOpenFailureDisconnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	h.streams.mu.Lock()
	h.streams.openErr = errors.New("dial failed")
	h.streams.mu.Unlock()

	h.submit(t)
	v := h.settle(t)
	assert.Equal(t, StateDisconnected, v.State)
	assert.False(t, v.Streaming)
}

func TestNewSubmissionSupersedesSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	first := h.start(t)
	first.send(`{"message":"Tx 1 pending","meta":{"id":"t1","status":"pending"}}`)
	require.Len(t, h.view(t).Transfers, 1)

	second := h.start(t)
	assert.Equal(t, int32(1), first.closes.Load())
	v := h.view(t)
	assert.Empty(t, v.Transfers)
	assert.Equal(t, uint64(2), v.Generation)
	for _, msg := range h.sink.messages() {
		assert.NotEqual(t, "Tx 1 pending", msg)
	}

	first.send(`{"message":"stale","meta":{"id":"old","status":"confirmed"}}`)
	first.handler.OnEnd()
	v = h.view(t)
	assert.Empty(t, v.Transfers)
	assert.Equal(t, StateRunning, v.State)
	assert.True(t, v.Streaming)

	second.send(`{"message":"fresh","meta":{"id":"new","status":"pending"}}`)
	v = h.view(t)
	require.Len(t, v.Transfers, 1)
	assert.Equal(t, "new", v.Transfers[0].ID)
	rows := h.sink.lastTable()
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].ID)
}

func TestNewSubmissionResetsTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	first := h.start(t)
	first.send(`{"message":"x","meta":{"id":"t1","status":"pending"}}`)
	h.view(t)

	h.submit(t)
	h.waitStream(t)
	h.view(t)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	var placeholders int
	for _, rows := range h.sink.tables {
		if len(rows) == 1 && rows[0].Placeholder {
			placeholders++
		}
	}
	assert.Equal(t, 3, placeholders, "initial render and one reset per submission")
	assert.Equal(t, 2, h.sink.clears)
}

func TestInFlightSubmissionSuperseded(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	calls := make(chan int, 2)
	var n int
	submitter := submitFunc(func(ctx context.Context, _ submit.Form) (string, error) {
		n++
		call := n
		calls <- call
		if call == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "old", nil
		}
		return "new", nil
	})
	h := newHarness(t, submitter)

	h.submit(t)
	<-calls
	h.submit(t)
	<-calls
	stream := h.waitStream(t)
	assert.Equal(t, "new", stream.sessionID)
	close(release)

	v := h.view(t)
	assert.Equal(t, "new", v.SessionID)
	select {
	case s := <-h.streams.opened:
		t.Fatalf("unexpected stream for %q", s.sessionID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClearLog(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)
	stream.send(`{"message":"Tx 1 pending","meta":{"id":"t1","status":"pending"}}`)

	require.NoError(t, h.ctrl.ClearLog(context.Background()))
	v := h.view(t)
	require.Len(t, v.Log, 1)
	assert.Equal(t, "Log cleared.", v.Log[0].Message())
	assert.Equal(t, []string{"Log cleared."}, h.sink.messages())
	assert.Len(t, v.Transfers, 1)
	assert.Equal(t, StateRunning, v.State)
	assert.True(t, v.Streaming)
}

func TestLinksInMessagesAreSegmented(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	stream := h.start(t)
	stream.send(`{"message":"See https://explorer.test/tx/0x1 for details"}`)
	v := h.view(t)
	last := v.Log[len(v.Log)-1]
	require.Len(t, last.Segments, 3)
	assert.Equal(t, logview.SegmentLink, last.Segments[1].Kind)
}

func TestRunOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, constSubmitter("s1", nil))
	h.view(t)
	assert.ErrorIs(t, h.ctrl.Run(context.Background()), ErrAlreadyRunning)
}

func TestStoppedController(t *testing.T) {
	t.Parallel()
	ctrl, err := New(Options{Submitter: constSubmitter("s1", nil), Streams: newFakeOpener()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, ctrl.Run(ctx))
	assert.ErrorIs(t, ctrl.Submit(context.Background(), submit.Form{}), ErrClosed)
	_, err = ctrl.View(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunClosesLiveStream(t *testing.T) {
	t.Parallel()
	streams := newFakeOpener()
	ctrl, err := New(Options{Submitter: constSubmitter("s1", nil), Streams: streams})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.NoError(t, ctrl.Submit(context.Background(), submit.Form{}))
	stream := <-streams.opened
	_, err = ctrl.View(context.Background())
	require.NoError(t, err)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Options{Streams: newFakeOpener()})
	require.Error(t, err)
	_, err = New(Options{Submitter: constSubmitter("s1", nil)})
	require.Error(t, err)
}

func TestStateBadges(t *testing.T) {
	t.Parallel()
	assert.Equal(t, VariantIdle, StateIdle.Badge().Variant)
	assert.Equal(t, VariantRunning, StateSending.Badge().Variant)
	assert.Equal(t, VariantRunning, StateRunning.Badge().Variant)
	assert.Equal(t, VariantSuccess, StateConfirmed.Badge().Variant)
	assert.Equal(t, VariantWarning, StateDisconnected.Badge().Variant)
	assert.Equal(t, VariantError, StateError.Badge().Variant)
	assert.False(t, StateSending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateDisconnected.Terminal())
}

func TestMultiSinkFansOut(t *testing.T) {
	t.Parallel()
	a, b := &recordingSink{}, &recordingSink{}
	m := MultiSink{a, b, NopSink{}}
	m.AppendLog(logview.Format(logview.Entry{Message: "x"}))
	m.SetBadge(StateRunning.Badge())
	m.RenderTable(transfer.Rows(nil, transfer.RowOptions{}))
	m.SetSubmitEnabled(false)
	m.ClearLog()
	for _, s := range []*recordingSink{a, b} {
		assert.Equal(t, 1, s.clears)
		assert.Len(t, s.badges, 1)
		assert.Len(t, s.tables, 1)
		assert.Equal(t, []bool{false}, s.submitEnabled)
	}
}
