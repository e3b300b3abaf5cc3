// Package simulator implements a local producer for the console: the batch
// submission API and the session event stream, emitting a scripted transfer
// lifecycle for every submission. It stands in for the blockchain-facing
// service during development and end-to-end tests.
//
// Routes:
//
//	POST /api/send                 accepts a submission, returns {"sessionId"}
//	GET  /api/stream/{sessionId}   server-sent events, "end" event last
//	GET  /metrics                  Prometheus metrics
//	GET  /healthz                  liveness
//
// Events are optionally mirrored to a Publisher (Pulse) so consoles can
// follow sessions over Redis streams.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goa.design/txconsole/runtime/console/eventstream"
	"goa.design/txconsole/runtime/console/telemetry"
)

type (
	// Publisher mirrors session events to another transport.
	Publisher interface {
		Publish(ctx context.Context, sessionID string, evt eventstream.Event) error
		End(ctx context.Context, sessionID string) error
	}

	// Options configures the simulator.
	Options struct {
		// Step is the delay between two emitted events. Zero emits as fast
		// as possible.
		Step time.Duration
		// MaxBatchSize is the largest accepted batch. Defaults to 20.
		MaxBatchSize int
		// DefaultBatchSize applies when the submission has no batch size.
		// Defaults to 1.
		DefaultBatchSize int
		// ForceRevert forces the last transfer of every batch to revert by
		// overriding its gas limit, whatever the operator submitted.
		ForceRevert bool
		// ExplorerTxURL is the explorer template used in event messages.
		ExplorerTxURL string
		// KeepAlive is the SSE comment heartbeat interval. Defaults to 15s.
		KeepAlive time.Duration
		// Retention is how long a finished session stays replayable.
		// Defaults to DefaultRetention.
		Retention time.Duration
		// Publisher optionally mirrors events.
		Publisher Publisher
		// Registerer registers the Prometheus metrics. Defaults to a new
		// registry exposed on /metrics.
		Registerer prometheus.Registerer
		// Gatherer serves /metrics. Required when Registerer is set.
		Gatherer prometheus.Gatherer
		// Logger records diagnostics.
		Logger telemetry.Logger
		// Now returns the current time. Defaults to time.Now.
		Now func() time.Time
	}

	// Server is the simulator HTTP handler.
	Server struct {
		opts    Options
		hub     *hub
		metrics *metrics
		logger  telemetry.Logger
		now     func() time.Time
		mux     *http.ServeMux

		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}
)

const (
	// DefaultExplorerTxURL is the default explorer template.
	DefaultExplorerTxURL = "https://sepolia.etherscan.io/tx/{hash}"
	// DefaultRetention is the default time finished sessions are kept.
	DefaultRetention = 10 * time.Minute
)

// New returns a simulator server.
func New(opts Options) (*Server, error) {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 20
	}
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = 1
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.ExplorerTxURL == "" {
		opts.ExplorerTxURL = DefaultExplorerTxURL
	}
	if opts.Registerer == nil {
		reg := prometheus.NewRegistry()
		opts.Registerer = reg
		opts.Gatherer = reg
	}
	if opts.Gatherer == nil {
		return nil, errors.New("simulator: gatherer is required with a custom registerer")
	}
	s := &Server{
		opts:    opts,
		hub:     newHub(0, opts.Retention, opts.Now),
		metrics: newMetrics(opts.Registerer),
		logger:  opts.Logger,
		now:     opts.Now,
		mux:     http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = telemetry.NoopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.mux.HandleFunc("POST /api/send", s.handleSend)
	s.mux.HandleFunc("GET /api/stream/{sessionId}", s.handleStream)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start accepts a submission and starts emitting its events. The returned
// error is a client error suitable for a 400 response.
func (s *Server) Start(fields map[string]string) (string, error) {
	b, err := parseBatch(fields, s.opts.DefaultBatchSize)
	if err != nil {
		s.metrics.rejected.Inc()
		return "", err
	}
	if err := s.ctx.Err(); err != nil {
		return "", errors.New("simulator is shutting down")
	}
	id := uuid.NewString()
	s.hub.create(id)
	s.metrics.sessions.Inc()
	s.logger.Info(s.ctx, "session accepted", "session_id", id, "batch_size", b.size, "force_revert", s.opts.ForceRevert)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx, id, b)
	}()
	return id, nil
}

// Close stops every running session and waits for them to end.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&fields); err != nil {
		s.metrics.rejected.Inc()
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	id, err := s.Start(fields)
	if err != nil {
		http.Error(w, clientMessage(err), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": id})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusInternalServerError)
		return
	}
	id := r.PathValue("sessionId")
	replay, ch, cancel, ok := s.hub.subscribe(id)
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	defer cancel()
	s.metrics.subscribers.Inc()
	defer s.metrics.subscribers.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, f := range replay {
		if err := writeFrame(w, f); err != nil {
			return
		}
		flusher.Flush()
		if f.event == eventstream.EndEvent {
			return
		}
	}

	heartbeat := time.NewTicker(s.opts.KeepAlive)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			if err := writeFrame(w, f); err != nil {
				return
			}
			flusher.Flush()
			if f.event == eventstream.EndEvent {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// clientMessage renders err as the sentence returned to API clients.
func clientMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func writeFrame(w http.ResponseWriter, f frame) error {
	if f.event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", f.event); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", f.data)
	return err
}
