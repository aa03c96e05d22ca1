package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/relaymcp/aggproxy/internal/mcperr"
)

// HTTPConfig configures the streamable-http and sse transports (spec §3).
type HTTPConfig struct {
	URL     string
	Headers map[string]string
	APIKey  string // sent as "Authorization: Bearer <key>" when non-empty

	Client *http.Client // optional, defaults to http.DefaultClient
}

// streamableHTTPAdapter speaks the streamable-http variant: every Send
// POSTs one JSON-RPC frame to URL; the response body is either a single
// JSON document (one reply) or a chunked text/event-stream carrying zero
// or more "data: " frames, demuxed into the shared inbound queue that
// Recv drains (spec §4.1).
type streamableHTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client

	mu     sync.Mutex
	state  State
	inbox  chan []byte
	closed chan struct{}
}

// NewStreamableHTTP builds an Adapter for the streamable-http variant.
func NewStreamableHTTP(cfg HTTPConfig) Adapter {
	return &streamableHTTPAdapter{cfg: cfg, state: StateClosed}
}

func (a *streamableHTTPAdapter) Kind() Kind { return KindStreamableHTTP }

func (a *streamableHTTPAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *streamableHTTPAdapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateOpen {
		return nil
	}
	if a.cfg.URL == "" {
		a.state = StateClosed
		return mcperr.ConfigError("streamable-http: url is required")
	}
	a.client = a.cfg.Client
	if a.client == nil {
		a.client = http.DefaultClient
	}
	a.inbox = make(chan []byte, 32)
	a.closed = make(chan struct{})
	a.state = StateOpen
	return nil
}

func (a *streamableHTTPAdapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

func (a *streamableHTTPAdapter) Send(ctx context.Context, frame any) error {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	if state != StateOpen {
		return mcperr.ChannelClosed("streamable-http: send on non-open adapter")
	}

	b, err := marshalFrame(frame)
	if err != nil {
		return mcperr.ProtocolError("streamable-http: marshal frame", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return mcperr.ConnectError("streamable-http: build request", err)
	}
	a.applyHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return mcperr.ConnectError("streamable-http: request failed", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return mcperr.AuthRequired("streamable-http: " + resp.Status)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return mcperr.ConnectError("streamable-http: unexpected status "+resp.Status, nil)
	}

	ct := resp.Header.Get("Content-Type")
	go a.consumeResponse(resp, ct)
	return nil
}

// consumeResponse demultiplexes a single HTTP response body into zero or
// more frames delivered to the inbox. For "application/json" the whole
// body is one frame; for "text/event-stream" each "data: " line is one
// frame, per spec §4.1's chunked SSE-over-POST framing.
func (a *streamableHTTPAdapter) consumeResponse(resp *http.Response, contentType string) {
	defer resp.Body.Close()

	if bytesContains(contentType, "text/event-stream") {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if len(line) > 6 && line[:6] == "data: " {
				a.deliver([]byte(line[6:]))
			} else if len(line) > 5 && line[:5] == "data:" {
				a.deliver([]byte(line[5:]))
			}
		}
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) == 0 {
		return
	}
	a.deliver(body)
}

func (a *streamableHTTPAdapter) deliver(b []byte) {
	select {
	case a.inbox <- b:
	case <-a.closed:
	}
}

func (a *streamableHTTPAdapter) Recv(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	inbox := a.inbox
	closed := a.closed
	state := a.state
	a.mu.Unlock()
	if state != StateOpen {
		return nil, mcperr.ChannelClosed("streamable-http: recv on non-open adapter")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, mcperr.ChannelClosed("streamable-http: adapter closed")
	case b := <-inbox:
		return b, nil
	}
}

func (a *streamableHTTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateClosed {
		return nil
	}
	close(a.closed)
	a.state = StateClosed
	return nil
}

func bytesContains(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}
