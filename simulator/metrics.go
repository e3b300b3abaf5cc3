package simulator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	sessions    prometheus.Counter
	rejected    prometheus.Counter
	events      *prometheus.CounterVec
	subscribers prometheus.Gauge
	duration    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		sessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "txsim",
			Name:      "sessions_total",
			Help:      "Number of accepted batch submissions.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "txsim",
			Name:      "submissions_rejected_total",
			Help:      "Number of rejected batch submissions.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txsim",
			Name:      "events_total",
			Help:      "Number of session events emitted, by transfer status.",
		}, []string{"status"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "txsim",
			Name:      "stream_subscribers",
			Help:      "Number of connected event stream subscribers.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txsim",
			Name:      "session_duration_seconds",
			Help:      "Time from submission to end of session.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}
