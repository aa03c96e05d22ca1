package transport

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/relaymcp/aggproxy/internal/mcperr"
)

// sseAdapter speaks the sse variant: a long-lived GET to cfg.URL streams
// text/event-stream frames; the very first event is conventionally
// "event: endpoint" whose data is the URL Send must POST to (spec §4.1).
// requireAuth, when true, makes a missing APIKey an AuthRequired error at
// Open time instead of a silently unauthenticated connection — this is
// what distinguishes modelscope-sse from plain sse (spec §3).
type sseAdapter struct {
	cfg         HTTPConfig
	client      *http.Client
	requireAuth bool

	mu          sync.Mutex
	state       State
	inbox       chan []byte
	closed      chan struct{}
	postURL     string
	postURLSet  chan struct{}
	cancelGet   context.CancelFunc
}

// NewSSE builds an Adapter for the sse variant.
func NewSSE(cfg HTTPConfig) Adapter {
	return &sseAdapter{cfg: cfg, state: StateClosed}
}

// NewModelScopeSSE builds an Adapter for the modelscope-sse variant: sse
// framing plus a mandatory bearer credential (spec §3).
func NewModelScopeSSE(cfg HTTPConfig) Adapter {
	return &sseAdapter{cfg: cfg, state: StateClosed, requireAuth: true}
}

func (a *sseAdapter) Kind() Kind {
	if a.requireAuth {
		return KindModelScopeSSE
	}
	return KindSSE
}

func (a *sseAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *sseAdapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateOpen {
		return nil
	}
	if a.cfg.URL == "" {
		a.state = StateClosed
		return mcperr.ConfigError("sse: url is required")
	}
	if a.requireAuth && a.cfg.APIKey == "" {
		a.state = StateClosed
		return mcperr.AuthRequired("modelscope-sse: apiKey is required")
	}
	a.client = a.cfg.Client
	if a.client == nil {
		a.client = http.DefaultClient
	}
	a.state = StateOpening
	a.inbox = make(chan []byte, 32)
	a.closed = make(chan struct{})
	a.postURLSet = make(chan struct{})

	getCtx, cancel := context.WithCancel(context.Background())
	a.cancelGet = cancel

	req, err := http.NewRequestWithContext(getCtx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		a.state = StateClosed
		cancel()
		return mcperr.ConnectError("sse: build request", err)
	}
	a.applyHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		a.state = StateClosed
		cancel()
		return mcperr.ConnectError("sse: request failed", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		a.state = StateClosed
		cancel()
		return mcperr.AuthRequired("sse: " + resp.Status)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		a.state = StateClosed
		cancel()
		return mcperr.ConnectError("sse: unexpected status "+resp.Status, nil)
	}

	go a.pump(resp)

	// Block until the endpoint event names the POST URL, or the caller's
	// Open deadline elapses, per spec §4.1's discovery handshake.
	select {
	case <-a.postURLSet:
	case <-ctx.Done():
		cancel()
		a.state = StateClosed
		return mcperr.ConnectError("sse: timed out waiting for endpoint event", ctx.Err())
	case <-time.After(15 * time.Second):
		cancel()
		a.state = StateClosed
		return mcperr.ConnectError("sse: timed out waiting for endpoint event", nil)
	}

	a.state = StateOpen
	return nil
}

func (a *sseAdapter) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

// pump reads the SSE stream line by line, tracking the current event
// name so a "data:" line following "event: endpoint" resolves the POST
// target instead of being delivered as a JSON-RPC frame.
func (a *sseAdapter) pump(resp *http.Response) {
	defer resp.Body.Close()
	defer a.markClosed()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var currentEvent string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			currentEvent = ""
		case hasPrefixStr(line, "event:"):
			currentEvent = trimSpacePrefix(line, "event:")
		case hasPrefixStr(line, "data:"):
			data := trimSpacePrefix(line, "data:")
			if currentEvent == "endpoint" {
				a.resolvePostURL(data)
				continue
			}
			a.deliver([]byte(data))
		}
	}
}

// resolvePostURL resolves data, which may be an absolute URL or a
// relative path, against the original GET URL.
func (a *sseAdapter) resolvePostURL(data string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.postURL != "" {
		return
	}
	base, err := url.Parse(a.cfg.URL)
	if err != nil {
		a.postURL = data
	} else if ref, err := url.Parse(data); err == nil {
		a.postURL = base.ResolveReference(ref).String()
	} else {
		a.postURL = data
	}
	close(a.postURLSet)
}

func (a *sseAdapter) deliver(b []byte) {
	select {
	case a.inbox <- b:
	case <-a.closed:
	}
}

func (a *sseAdapter) markClosed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.closed:
	default:
		close(a.closed)
	}
}

func (a *sseAdapter) Send(ctx context.Context, frame any) error {
	a.mu.Lock()
	state := a.state
	postURL := a.postURL
	a.mu.Unlock()
	if state != StateOpen {
		return mcperr.ChannelClosed("sse: send on non-open adapter")
	}
	if postURL == "" {
		return mcperr.ProtocolError("sse: no endpoint event received yet", nil)
	}

	b, err := marshalFrame(frame)
	if err != nil {
		return mcperr.ProtocolError("sse: marshal frame", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(b))
	if err != nil {
		return mcperr.ConnectError("sse: build post request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return mcperr.ConnectError("sse: post failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return mcperr.AuthRequired("sse: post " + resp.Status)
	}
	if resp.StatusCode >= 400 {
		return mcperr.ConnectError("sse: post unexpected status "+resp.Status, nil)
	}
	return nil
}

func (a *sseAdapter) Recv(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	inbox := a.inbox
	closed := a.closed
	state := a.state
	a.mu.Unlock()
	if state != StateOpen {
		return nil, mcperr.ChannelClosed("sse: recv on non-open adapter")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, mcperr.ChannelClosed("sse: stream ended")
	case b := <-inbox:
		return b, nil
	}
}

func (a *sseAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateClosed {
		return nil
	}
	if a.cancelGet != nil {
		a.cancelGet()
	}
	select {
	case <-a.closed:
	default:
		close(a.closed)
	}
	a.state = StateClosed
	return nil
}

func hasPrefixStr(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func trimSpacePrefix(s, prefix string) string {
	s = s[len(prefix):]
	return string(bytes.TrimSpace([]byte(s)))
}
