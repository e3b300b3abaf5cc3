// Package session implements the console session controller: the state
// machine that drives one batch submission from the submission call through
// the lifecycle of its event stream.
//
// The controller owns a single event loop goroutine. Submission calls and
// stream transports run on their own goroutines and post messages to the
// loop tagged with the generation of the session that created them.
// Messages from a superseded generation are dropped, so at most one stream
// is ever acted upon and rendering never interleaves two sessions.
//
// State machine:
//
//	idle|any ──Submit──▶ sending ──ok──▶ running ──end──▶ confirmed|error|idle
//	                        │                │
//	                        └──fail──▶ error └──transport error──▶ disconnected
//
// While running, failed statuses move the badge to error and succeeded
// statuses move it to confirmed without closing the stream.
//
// State and badge are a single value: every State renders exactly one
// Badge. The end signal therefore does not always land in confirmed. The
// session settles in the state matching the last non-in-progress
// classification it observed: confirmed after a success, error after a
// failure, idle when neither was seen.
package session

import (
	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/status"
	"goa.design/txconsole/runtime/console/transfer"
)

type (
	// State is the session lifecycle state.
	State string

	// Variant is the visual treatment of the status badge.
	Variant string

	// Badge is the session status indicator rendered next to the log.
	Badge struct {
		// Label is the human readable state.
		Label string
		// Variant selects the badge styling.
		Variant Variant
	}

	// Session is the state owned by one submission. It is created by Submit
	// and replaced wholesale by the next one; only the controller loop
	// reads or writes it.
	Session struct {
		// Generation identifies the submission that created the session.
		Generation uint64
		// ID is the identifier returned by the submission API, empty until
		// the call succeeds.
		ID string
		// State is the current lifecycle state.
		State State
		// Transfers holds the records observed on the stream.
		Transfers *transfer.Registry
		// Log is the rendered log, oldest first.
		Log []logview.Rendered
		// Outcome is the classification of the most recent status that was
		// not in progress, ClassUnrecognized when none was seen.
		Outcome status.Class
	}

	// View is an immutable copy of the controller state.
	View struct {
		Generation    uint64
		SessionID     string
		State         State
		Badge         Badge
		Streaming     bool
		SubmitEnabled bool
		Transfers     []transfer.Record
		Log           []logview.Rendered
	}
)

const (
	StateIdle         State = "idle"
	StateSending      State = "sending"
	StateRunning      State = "running"
	StateConfirmed    State = "confirmed"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

const (
	VariantIdle    Variant = "idle"
	VariantRunning Variant = "running"
	VariantSuccess Variant = "success"
	VariantWarning Variant = "warning"
	VariantError   Variant = "error"
)

// Badge returns the badge rendered for s.
func (s State) Badge() Badge {
	switch s {
	case StateSending:
		return Badge{Label: "Sending", Variant: VariantRunning}
	case StateRunning:
		return Badge{Label: "Running", Variant: VariantRunning}
	case StateConfirmed:
		return Badge{Label: "Confirmed", Variant: VariantSuccess}
	case StateDisconnected:
		return Badge{Label: "Disconnected", Variant: VariantWarning}
	case StateError:
		return Badge{Label: "Error", Variant: VariantError}
	default:
		return Badge{Label: "Idle", Variant: VariantIdle}
	}
}

// Terminal reports whether s ends a session: no submission or stream is
// active and a new submission may be issued.
func (s State) Terminal() bool {
	switch s {
	case StateSending, StateRunning:
		return false
	default:
		return true
	}
}

func newSession(gen uint64) *Session {
	return &Session{
		Generation: gen,
		State:      StateIdle,
		Transfers:  transfer.NewRegistry(),
		Outcome:    status.ClassUnrecognized,
	}
}

// finalState returns the state a session settles in when the producer
// signals the end of the stream.
func (s *Session) finalState() State {
	switch s.Outcome {
	case status.ClassFailed:
		return StateError
	case status.ClassSucceeded:
		return StateConfirmed
	default:
		return StateIdle
	}
}
