// Package config loads console configuration from a YAML file and
// TXCONSOLE_* environment variables. Environment values override the file,
// which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/txconsole/runtime/console/submit"
)

type (
	// Config is the console configuration.
	Config struct {
		Server   Server   `yaml:"server"`
		Stream   Stream   `yaml:"stream"`
		Explorer Explorer `yaml:"explorer"`
		Log      Log      `yaml:"log"`
		Form     Form     `yaml:"form"`
	}

	// Server locates the producer.
	Server struct {
		// BaseURL is the producer base URL.
		BaseURL string `yaml:"baseUrl"`
		// SubmitPath is the submission API path.
		SubmitPath string `yaml:"submitPath"`
		// StreamPath is the SSE stream path template with a {sessionId}
		// placeholder.
		StreamPath string `yaml:"streamPath"`
		// Timeout bounds the submission call.
		Timeout time.Duration `yaml:"timeout"`
	}

	// Stream selects the event stream transport.
	Stream struct {
		// Transport is TransportSSE or TransportPulse.
		Transport string `yaml:"transport"`
		// Redis configures the Pulse transport.
		Redis Redis `yaml:"redis"`
		// SinkName is the Pulse consumer name prefix.
		SinkName string `yaml:"sinkName"`
	}

	// Redis holds the Redis connection settings.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// Explorer configures block explorer links.
	Explorer struct {
		// TxURL is the transaction page template, see transfer.Explorer.
		TxURL string `yaml:"txUrl"`
	}

	// Log configures operator log rendering.
	Log struct {
		// TimeLayout is the Go time layout of log timestamps.
		TimeLayout string `yaml:"timeLayout"`
		// Timezone is the IANA zone used to render timestamps, "Local" when
		// empty.
		Timezone string `yaml:"timezone"`
	}

	// Form holds default values for the submission form. The private key is
	// only read from the environment.
	Form struct {
		PrivateKey   string `yaml:"-"`
		RPCURL       string `yaml:"rpcUrl"`
		TokenAddress string `yaml:"tokenAddress"`
		Recipient    string `yaml:"recipient"`
		Amount       string `yaml:"amount"`
		BatchSize    string `yaml:"batchSize"`
		GasPrice     string `yaml:"gasPrice"`
		GasLimit     string `yaml:"gasLimit"`
	}
)

const (
	// TransportSSE streams events over HTTP server-sent events.
	TransportSSE = "sse"
	// TransportPulse streams events over Pulse Redis streams.
	TransportPulse = "pulse"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TXCONSOLE_"
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: Server{
			BaseURL:    "http://localhost:3000",
			SubmitPath: "/api/send",
			StreamPath: "/api/stream/{sessionId}",
			Timeout:    30 * time.Second,
		},
		Stream: Stream{
			Transport: TransportSSE,
			Redis:     Redis{Addr: "localhost:6379"},
			SinkName:  "txconsole",
		},
		Log: Log{TimeLayout: "15:04:05"},
	}
}

// Load reads the YAML file at path on top of the defaults, applies the
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := cfg.Decode(f); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode merges the YAML document read from r into c. Unknown fields are
// rejected.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides c with the TXCONSOLE_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("BASE_URL", &c.Server.BaseURL)
	str("SUBMIT_PATH", &c.Server.SubmitPath)
	str("STREAM_PATH", &c.Server.StreamPath)
	str("TRANSPORT", &c.Stream.Transport)
	str("REDIS_ADDR", &c.Stream.Redis.Addr)
	str("REDIS_PASSWORD", &c.Stream.Redis.Password)
	str("SINK_NAME", &c.Stream.SinkName)
	str("EXPLORER_TX_URL", &c.Explorer.TxURL)
	str("TIME_LAYOUT", &c.Log.TimeLayout)
	str("TIMEZONE", &c.Log.Timezone)
	str("PRIVATE_KEY", &c.Form.PrivateKey)
	str("RPC_URL", &c.Form.RPCURL)
	str("TOKEN_ADDRESS", &c.Form.TokenAddress)
	str("RECIPIENT", &c.Form.Recipient)
	str("AMOUNT", &c.Form.Amount)
	str("BATCH_SIZE", &c.Form.BatchSize)
	str("GAS_PRICE", &c.Form.GasPrice)
	str("GAS_LIMIT", &c.Form.GasLimit)

	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		c.Stream.Redis.DB = db
	}
	if v, ok := lookup(EnvPrefix + "HTTP_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sHTTP_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Server.Timeout = d
	}
	return nil
}

// Validate checks c for consistency.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Server.BaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("server.baseUrl: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("server.baseUrl %q: scheme must be http or https", c.Server.BaseURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("server.baseUrl %q: missing host", c.Server.BaseURL))
	}
	if !strings.Contains(c.Server.StreamPath, "{sessionId}") {
		errs = append(errs, fmt.Errorf("server.streamPath %q: missing {sessionId}", c.Server.StreamPath))
	}
	if c.Server.Timeout <= 0 {
		errs = append(errs, errors.New("server.timeout must be positive"))
	}
	switch c.Stream.Transport {
	case TransportSSE:
	case TransportPulse:
		if c.Stream.Redis.Addr == "" {
			errs = append(errs, errors.New("stream.redis.addr is required for the pulse transport"))
		}
		if c.Stream.SinkName == "" {
			errs = append(errs, errors.New("stream.sinkName is required for the pulse transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("stream.transport %q: must be %q or %q", c.Stream.Transport, TransportSSE, TransportPulse))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("log.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Log.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Log.Timezone)
}

// SubmitForm returns the default submission form.
func (c Config) SubmitForm() submit.Form {
	return submit.Form{
		PrivateKey:   c.Form.PrivateKey,
		RPCURL:       c.Form.RPCURL,
		TokenAddress: c.Form.TokenAddress,
		Recipient:    c.Form.Recipient,
		Amount:       c.Form.Amount,
		BatchSize:    c.Form.BatchSize,
		GasPrice:     c.Form.GasPrice,
		GasLimit:     c.Form.GasLimit,
	}
}
