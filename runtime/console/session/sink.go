package session

import (
	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/transfer"
)

type (
	// Sink renders controller output. Calls are made from the controller
	// loop goroutine, one at a time, and carry values the sink may retain.
	Sink interface {
		// AppendLog appends one entry to the log panel.
		AppendLog(entry logview.Rendered)
		// ClearLog empties the log panel.
		ClearLog()
		// SetBadge updates the session status badge.
		SetBadge(b Badge)
		// RenderTable replaces the transfer table content.
		RenderTable(rows []transfer.Row)
		// SetSubmitEnabled toggles the submit control.
		SetSubmitEnabled(enabled bool)
	}

	// NopSink discards all output.
	NopSink struct{}

	// MultiSink fans out to several sinks in order.
	MultiSink []Sink
)

func (NopSink) AppendLog(logview.Rendered) {}
func (NopSink) ClearLog()                  {}
func (NopSink) SetBadge(Badge)             {}
func (NopSink) RenderTable([]transfer.Row) {}
func (NopSink) SetSubmitEnabled(bool)      {}

// AppendLog implements Sink.
func (m MultiSink) AppendLog(entry logview.Rendered) {
	for _, s := range m {
		s.AppendLog(entry)
	}
}

// ClearLog implements Sink.
func (m MultiSink) ClearLog() {
	for _, s := range m {
		s.ClearLog()
	}
}

// SetBadge implements Sink.
func (m MultiSink) SetBadge(b Badge) {
	for _, s := range m {
		s.SetBadge(b)
	}
}

// RenderTable implements Sink.
func (m MultiSink) RenderTable(rows []transfer.Row) {
	for _, s := range m {
		s.RenderTable(rows)
	}
}

// SetSubmitEnabled implements Sink.
func (m MultiSink) SetSubmitEnabled(enabled bool) {
	for _, s := range m {
		s.SetSubmitEnabled(enabled)
	}
}
