// Package sse implements eventstream.Opener over HTTP server-sent events.
//
// Each subscription issues GET {base}/api/stream/{sessionId} and reads the
// response body on its own goroutine. Default (unnamed or "message")
// events are delivered to Handler.OnMessage; the named "end" event
// terminates the subscription. Other named events and comment lines are
// ignored.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"goa.design/txconsole/runtime/console/eventstream"
)

type (
	// Opener opens SSE subscriptions against a producer base URL.
	Opener struct {
		base    *url.URL
		path    string
		client  *http.Client
		headers http.Header
	}

	// Option configures an Opener.
	Option func(*Opener)

	subscription struct {
		cancel context.CancelFunc
		done   chan struct{}
		once   sync.Once
	}
)

// DefaultPathTemplate is the stream path relative to the base URL.
const DefaultPathTemplate = "/api/stream/{sessionId}"

// WithHTTPClient sets the HTTP client used to open streams. The client must
// not set a response timeout: streams stay open for the session lifetime.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opener) {
		if c != nil {
			o.client = c
		}
	}
}

// WithHeader adds a header sent with every stream request.
func WithHeader(key, value string) Option {
	return func(o *Opener) {
		o.headers.Add(key, value)
	}
}

// WithPathTemplate overrides DefaultPathTemplate. The template must contain
// the {sessionId} placeholder.
func WithPathTemplate(tmpl string) Option {
	return func(o *Opener) {
		if tmpl != "" {
			o.path = tmpl
		}
	}
}

// New returns an Opener for the producer at baseURL.
func New(baseURL string, opts ...Option) (*Opener, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	o := &Opener{
		base:    u,
		path:    DefaultPathTemplate,
		client:  http.DefaultClient,
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(o)
	}
	if !strings.Contains(o.path, "{sessionId}") {
		return nil, fmt.Errorf("path template %q: missing {sessionId}", o.path)
	}
	return o, nil
}

// URL returns the stream URL for the given session.
func (o *Opener) URL(sessionID string) string {
	p := strings.ReplaceAll(o.path, "{sessionId}", url.PathEscape(sessionID))
	return o.base.String() + p
}

// Open starts a subscription for sessionID. The connection is established
// asynchronously; failures are reported through h.OnError.
func (o *Opener) Open(ctx context.Context, sessionID string, h eventstream.Handler) (eventstream.Subscription, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, eventstream.ErrMissingSessionID
	}
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL(sessionID), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vs := range o.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	s := &subscription{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, o.client, req, h)
	return s, nil
}

// Close cancels the request and waits for the reader goroutine to exit.
// Handlers must not block once Close has been requested and must not call
// Close from a callback.
func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

func (s *subscription) run(ctx context.Context, client *http.Client, req *http.Request, h eventstream.Handler) {
	defer close(s.done)
	defer s.cancel()

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		h.OnError(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		fail(fmt.Errorf("open event stream: %w", err))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fail(fmt.Errorf("event stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
		return
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		fail(fmt.Errorf("event stream: unexpected content type %q", resp.Header.Get("Content-Type")))
		return
	}
	if ctx.Err() != nil {
		return
	}
	h.OnOpen()

	reader := bufio.NewReader(resp.Body)
	for {
		event, data, err := readEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				fail(eventstream.ErrStreamClosed)
				return
			}
			fail(fmt.Errorf("read event stream: %w", err))
			return
		}
		if ctx.Err() != nil {
			return
		}
		switch event {
		case "", "message":
			// Blocks with an empty data buffer are not dispatched.
			if len(data) == 0 {
				continue
			}
			h.OnMessage(data)
		case eventstream.EndEvent:
			h.OnEnd()
			return
		}
	}
}

// readEvent reads one event block from reader. A blank line terminates the
// block; comment, id and retry lines are skipped.
func readEvent(reader *bufio.Reader) (string, []byte, error) {
	var (
		event   string
		data    []byte
		hasData bool
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && !hasData {
				continue
			}
			return event, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			if hasData {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(after, " ")...)
			hasData = true
		}
	}
}
