// Command txsim runs a simulated transfer producer exposing the submission
// API and the session event stream consumed by txconsole.
//
// # Configuration
//
// Environment variables:
//
//	TXSIM_ADDR            - HTTP listen address (default: ":3000")
//	TXSIM_STEP            - delay between two events (default: "400ms")
//	TXSIM_MAX_BATCH_SIZE  - largest accepted batch (default: 20)
//	TXSIM_FORCE_REVERT    - revert the last transfer of every batch (default: false)
//	TXSIM_EXPLORER_TX_URL - explorer transaction template
//	TXSIM_RETENTION       - how long finished sessions stay replayable (default: "10m")
//	REDIS_URL             - mirror events to Pulse streams when set
//	REDIS_PASSWORD        - Redis password (optional)
//
// Flags of the same name override the environment.
//
// # Example
//
//	TXSIM_FORCE_REVERT=true go run ./cmd/txsim
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"goa.design/txconsole/features/stream/pulse"
	clientspulse "goa.design/txconsole/features/stream/pulse/clients/pulse"
	"goa.design/txconsole/runtime/console/telemetry"
	"goa.design/txconsole/simulator"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "txsim:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addrF     = flag.String("addr", envOr("TXSIM_ADDR", ":3000"), "HTTP listen address")
		stepF     = flag.Duration("step", envDurationOr("TXSIM_STEP", 400*time.Millisecond), "Delay between two events")
		maxBatchF = flag.Int("max-batch-size", envIntOr("TXSIM_MAX_BATCH_SIZE", 20), "Largest accepted batch")
		revertF   = flag.Bool("force-revert", envBoolOr("TXSIM_FORCE_REVERT", false), "Revert the last transfer of every batch")
		explorerF = flag.String("explorer-tx-url", envOr("TXSIM_EXPLORER_TX_URL", simulator.DefaultExplorerTxURL), "Explorer transaction URL template")
		retainF   = flag.Duration("retention", envDurationOr("TXSIM_RETENTION", simulator.DefaultRetention), "How long finished sessions stay replayable")
		redisF    = flag.String("redis-url", os.Getenv("REDIS_URL"), "Redis address used to mirror events to Pulse streams")
		dbgF      = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := simulator.Options{
		Step:          *stepF,
		MaxBatchSize:  *maxBatchF,
		ForceRevert:   *revertF,
		ExplorerTxURL: *explorerF,
		Retention:     *retainF,
		Logger:        telemetry.NewClueLogger(),
	}
	if *redisF != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     *redisF,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Errorf(ctx, err, "close redis")
			}
		}()
		pc, err := clientspulse.New(clientspulse.Options{Redis: rdb})
		if err != nil {
			return err
		}
		if err := pc.Ping(ctx); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		pub, err := pulse.NewPublisher(pulse.PublisherOptions{Client: pc})
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close(context.Background()) }()
		opts.Publisher = pub
		log.Print(ctx, log.KV{K: "msg", V: "mirroring events to pulse"}, log.KV{K: "redis", V: *redisF})
	}

	sim, err := simulator.New(opts)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              *addrF,
		Handler:           log.HTTP(ctx)(sim),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "msg", V: "listening"}, log.KV{K: "addr", V: *addrF})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		sim.Close()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Print(ctx, log.KV{K: "msg", V: "shutting down"})
	sim.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envBoolOr returns the environment variable as bool or a default.
func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
