// Command txconsole submits a transfer batch to a producer and follows its
// session event stream until the session ends.
//
// # Configuration
//
// Settings are read from the optional YAML file given with -config, then
// from TXCONSOLE_* environment variables, then from flags:
//
//	TXCONSOLE_BASE_URL        - producer base URL (default: "http://localhost:3000")
//	TXCONSOLE_TRANSPORT       - "sse" or "pulse" (default: "sse")
//	TXCONSOLE_REDIS_ADDR      - Redis address for the pulse transport
//	TXCONSOLE_PRIVATE_KEY     - signing key, never read from the file
//	TXCONSOLE_RECIPIENT       - default recipient address
//	TXCONSOLE_AMOUNT          - default amount
//	TXCONSOLE_BATCH_SIZE      - default batch size
//
// # Example
//
//	TXCONSOLE_PRIVATE_KEY=0xabc go run ./cmd/txconsole -recipient 0x1 -amount 1 -batch-size 3
//
// The exit status is 1 when the session ends in error or loses its stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"goa.design/txconsole/features/stream/pulse"
	clientspulse "goa.design/txconsole/features/stream/pulse/clients/pulse"
	"goa.design/txconsole/runtime/console/config"
	"goa.design/txconsole/runtime/console/eventstream"
	"goa.design/txconsole/runtime/console/eventstream/sse"
	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/session"
	"goa.design/txconsole/runtime/console/submit"
	"goa.design/txconsole/runtime/console/telemetry"
	"goa.design/txconsole/runtime/console/terminal"
	"goa.design/txconsole/runtime/console/transfer"
)

// errSessionFailed reports a session that did not end cleanly.
var errSessionFailed = errors.New("session did not complete successfully")

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "txconsole:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configF    = flag.String("config", "", "Path to a YAML configuration file")
		baseURLF   = flag.String("base-url", "", "Producer base URL (overrides configuration)")
		transportF = flag.String("transport", "", "Event stream transport: sse or pulse (overrides configuration)")
		recipientF = flag.String("recipient", "", "Recipient address")
		amountF    = flag.String("amount", "", "Amount per transfer")
		batchF     = flag.String("batch-size", "", "Number of transfers in the batch")
		tokenF     = flag.String("token", "", "Token contract address")
		rpcF       = flag.String("rpc-url", "", "Chain RPC URL")
		gasPriceF  = flag.String("gas-price", "", "Gas price")
		gasLimitF  = flag.String("gas-limit", "", "Gas limit")
		noColorF   = flag.Bool("no-color", false, "Disable colored output")
		dbgF       = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format), log.WithOutput(os.Stderr))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configF)
	if err != nil {
		return err
	}
	override(&cfg.Server.BaseURL, *baseURLF)
	override(&cfg.Stream.Transport, *transportF)
	override(&cfg.Form.Recipient, *recipientF)
	override(&cfg.Form.Amount, *amountF)
	override(&cfg.Form.BatchSize, *batchF)
	override(&cfg.Form.TokenAddress, *tokenF)
	override(&cfg.Form.RPCURL, *rpcF)
	override(&cfg.Form.GasPrice, *gasPriceF)
	override(&cfg.Form.GasLimit, *gasLimitF)
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	submitter, err := submit.NewWithPath(cfg.Server.BaseURL, cfg.Server.SubmitPath, submit.WithTimeout(cfg.Server.Timeout))
	if err != nil {
		return err
	}
	streams, closeStreams, err := newOpener(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStreams()

	explorer := transfer.Explorer{TxURLTemplate: cfg.Explorer.TxURL}
	formatter := logview.New(logview.WithTimeLayout(cfg.Log.TimeLayout), logview.WithLocation(loc))
	sink := terminal.New(os.Stdout, terminal.WithColor(!*noColorF && log.IsTerminal()))
	ctrl, err := session.New(session.Options{
		Submitter: submitter,
		Streams:   streams,
		Sink:      sink,
		Formatter: formatter,
		Explorer:  explorer,
		Logger:    telemetry.NewClueLogger(),
		Metrics:   telemetry.NewOTELMetrics(),
		Tracer:    telemetry.NewOTELTracer(),
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(runCtx) }()

	log.Info(ctx, log.KV{K: "msg", V: "submitting"}, log.KV{K: "endpoint", V: submitter.Endpoint()}, log.KV{K: "transport", V: cfg.Stream.Transport})
	if err := ctrl.Submit(ctx, cfg.SubmitForm()); err != nil {
		return err
	}

	var badge session.Badge
	select {
	case badge = <-sink.Settled():
	case <-ctx.Done():
		cancel()
		<-runErr
		return ctx.Err()
	}

	view, err := ctrl.View(ctx)
	if err != nil {
		return err
	}
	cancel()
	if err := <-runErr; err != nil {
		return err
	}

	_, _ = fmt.Fprintln(os.Stdout)
	if err := sink.PrintTable(); err != nil {
		return err
	}
	rows := transfer.Rows(view.Transfers, transfer.RowOptions{Explorer: explorer, FormatTime: formatter.FormatTime})
	if summary := terminal.Summary(rows); summary != "" {
		_, _ = fmt.Fprintln(os.Stdout, summary)
	}
	if badge.Variant == session.VariantError || badge.Variant == session.VariantWarning {
		return fmt.Errorf("%w: %s", errSessionFailed, badge.Label)
	}
	return nil
}

// newOpener returns the event stream opener selected by cfg and a function
// releasing its resources.
func newOpener(ctx context.Context, cfg config.Config) (eventstream.Opener, func(), error) {
	if cfg.Stream.Transport != config.TransportPulse {
		o, err := sse.New(cfg.Server.BaseURL, sse.WithPathTemplate(cfg.Server.StreamPath))
		if err != nil {
			return nil, nil, err
		}
		return o, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Stream.Redis.Addr,
		Password: cfg.Stream.Redis.Password,
		DB:       cfg.Stream.Redis.DB,
	})
	pc, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	if err := pc.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Stream.Redis.Addr, err)
	}
	o, err := pulse.NewOpener(pulse.OpenerOptions{Client: pc, SinkName: cfg.Stream.SinkName})
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return o, func() {
		_ = pc.Close(context.Background())
		_ = rdb.Close()
	}, nil
}

// override sets *dst to v when v is not empty.
func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
