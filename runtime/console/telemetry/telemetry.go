// Package telemetry provides the logging, metrics and tracing hooks used by
// the console runtime. Implementations delegate to Clue and OpenTelemetry;
// no-op implementations keep tests quiet.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger captures structured diagnostic logging. It is distinct from the
	// operator-facing session log: diagnostics go to the process log while
	// the session log is rendered by the console sinks.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter, timer and gauge helpers.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation so callers stay agnostic of the
	// OpenTelemetry provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Metric names recorded by the console runtime.
const (
	MetricSessionsStarted    = "txconsole.sessions.started"
	MetricSubmissionFailures = "txconsole.submissions.failed"
	MetricSubmissionLatency  = "txconsole.submissions.latency"
	MetricEventsReceived     = "txconsole.events.received"
	MetricEventsMalformed    = "txconsole.events.malformed"
	MetricStreamDisconnects  = "txconsole.streams.disconnected"
	MetricTransfersTracked   = "txconsole.transfers.tracked"
)
