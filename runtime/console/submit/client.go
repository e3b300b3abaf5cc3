// Package submit implements the client side of the batch submission API.
//
// A submission posts the operator's form as a JSON object to the producer
// and returns the session identifier used to subscribe to the event stream.
// Only trimmed, non-empty fields are sent: interpretation of absent fields
// (gas price, gas limit, batch size defaults) is a producer decision.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// Form holds the raw operator input for one batch submission. Values are
	// forwarded as typed; the console performs no business validation.
	Form struct {
		PrivateKey   string
		RPCURL       string
		TokenAddress string
		Recipient    string
		Amount       string
		BatchSize    string
		GasPrice     string
		GasLimit     string
	}

	// Option configures the Client.
	Option func(*Client)

	// Client posts submissions to the producer.
	Client struct {
		endpoint string
		http     *http.Client
		headers  http.Header
	}

	// StatusError is returned when the producer answers with a non-success
	// status. Body holds the raw response text.
	StatusError struct {
		StatusCode int
		Body       string
	}

	response struct {
		SessionID string `json:"sessionId"`
	}
)

const (
	// DefaultPath is the submission path relative to the base URL.
	DefaultPath = "/api/send"

	// RequestIDHeader carries a per-submission correlation identifier.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 64 << 10
)

// ErrMissingSessionID is returned when a successful response carries no
// session identifier.
var ErrMissingSessionID = errors.New("submission response missing sessionId")

// Error returns the raw response text, or a generic message when the
// producer sent no body.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("submission failed with status %d", e.StatusCode)
}

// Fields returns the trimmed, non-empty form fields keyed by their wire
// names.
func (f Form) Fields() map[string]string {
	fields := make(map[string]string, 8)
	add := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			fields[key] = v
		}
	}
	add("privateKey", f.PrivateKey)
	add("rpcUrl", f.RPCURL)
	add("tokenAddress", f.TokenAddress)
	add("recipient", f.Recipient)
	add("amount", f.Amount)
	add("batchSize", f.BatchSize)
	add("gasPrice", f.GasPrice)
	add("gasLimit", f.GasLimit)
	return fields
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		cl.headers.Add(name, value)
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Timeout: d}
		}
	}
}

// New returns a client posting to baseURL+DefaultPath. Use NewWithPath to
// override the path.
func New(baseURL string, opts ...Option) (*Client, error) {
	return NewWithPath(baseURL, DefaultPath, opts...)
}

// NewWithPath returns a client posting to baseURL+path.
func NewWithPath(baseURL, path string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("submit: base url is required")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	cl := &Client{
		endpoint: base + path,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 30 * time.Second}
	}
	return cl, nil
}

// Endpoint returns the submission URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit posts the form and returns the session identifier assigned by the
// producer. Non-success responses yield a *StatusError.
func (c *Client) Submit(ctx context.Context, form Form) (string, error) {
	body, err := json.Marshal(form.Fields())
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submission response: %w", err)
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", ErrMissingSessionID
	}
	return out.SessionID, nil
}
