// Package endpoint implements the Endpoint Session and Endpoint Manager
// (spec §4.6, §4.7): an outbound WebSocket connection to an upstream
// agent that plays the MCP server role, dispatching tools/list and
// tools/call against the Service Manager and pushing
// notifications/tools/list_changed when the aggregated catalog changes.
//
// The dial-and-receive-loop shape is grounded on the teacher's
// pkg/provider/s2s/gemini.Provider.Connect/session.receiveLoop
// (github.com/coder/websocket, a context-scoped session, a dedicated
// read goroutine); reconnection reuses internal/backoff, the same
// policy internal/service uses, instead of a second bespoke retry loop.
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/relaymcp/aggproxy/internal/backoff"
	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/jsonrpc"
	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/mcpwire"
	"github.com/relaymcp/aggproxy/internal/observe"
	"github.com/relaymcp/aggproxy/internal/tooldesc"
)

// notificationBacklog bounds the outbound notification queue per session
// (spec §4.6: "a bounded backlog prevents one slow upstream agent from
// growing memory without limit"). When full, the oldest notification is
// dropped in favor of the newest (tools/list_changed is idempotent to
// re-derive, so dropping a stale one is safe).
const notificationBacklog = 64

// Backend is what a Session needs from the Service Manager: the merged
// catalog and a single dispatch point for invoking any tool in it.
type Backend interface {
	ListTools() []tooldesc.Descriptor
	CallTool(ctx context.Context, flatName string, args map[string]any) (mcpwire.CallToolResult, error)
}

// Session owns one outbound connection to an upstream agent endpoint. It
// reconnects with backoff on drop, and serves that agent's MCP requests
// against Backend for as long as the process runs (spec §4.6).
type Session struct {
	id      string
	url     string
	backend Backend
	policy  backoff.Policy
	logger  *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	conn    *websocket.Conn
	notify  chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewSession builds a Session for one configured endpoint URL.
func NewSession(url string, backend Backend, connCfg config.ConnectionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	policy := backoff.NewPolicy(
		time.Duration(connCfg.ReconnectIntervalMS)*time.Millisecond,
		0, 0, 0, // unbounded attempts for upstream agent endpoints (spec §4.6)
	)
	id := uuid.NewString()
	return &Session{
		id:      id,
		url:     url,
		backend: backend,
		policy:  policy,
		logger:  logger.With("endpoint_id", id[:8]),
		metrics: observe.DefaultMetrics(),
		notify:  make(chan struct{}, notificationBacklog),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run connects and serves until Stop is called or ctx is cancelled,
// reconnecting with backoff across drops.
func (s *Session) Run(ctx context.Context) {
	defer close(s.stopped)
	attempt := 0
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndServe(ctx); err != nil {
			s.logger.Warn("endpoint session ended", "error", err, "attempt", attempt)
		}

		attempt++
		delay := s.policy.Delay(attempt)
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Stop halts Run. Idempotent.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.stopped
}

// NotifyToolsChanged enqueues a notifications/tools/list_changed push,
// dropping the oldest queued notification if the backlog is full.
func (s *Session) NotifyToolsChanged() {
	select {
	case s.notify <- struct{}{}:
	default:
		s.metrics.RecordEndpointNotificationDropped(context.Background(), s.url)
		select {
		case <-s.notify:
		default:
		}
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (s *Session) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return mcperr.ConnectError("endpoint: dial "+s.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.notifyPump(sessCtx, conn)

	for {
		_, data, err := conn.Read(sessCtx)
		if err != nil {
			if sessCtx.Err() != nil {
				return nil
			}
			return mcperr.ChannelClosed("endpoint: read: " + err.Error())
		}
		s.handleFrame(sessCtx, conn, data)
	}
}

func (s *Session) notifyPump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
			notif, err := jsonrpc.NewNotification(mcpwire.MethodToolsListChanged, struct{}{})
			if err != nil {
				continue
			}
			b, _ := json.Marshal(notif)
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte) {
	env, err := jsonrpc.ParseEnvelope(data)
	if err != nil {
		s.writeError(ctx, conn, jsonrpc.ID{}, jsonrpc.CodeParseError, "parse error", "FrameParse")
		return
	}
	if env.Classify() != jsonrpc.FrameRequest {
		return
	}
	id := *env.ID

	switch env.Method {
	case mcpwire.MethodInitialize:
		result := mcpwire.InitializeResult{
			ProtocolVersion: mcpwire.ProtocolVersion,
			Capabilities:    mcpwire.ServerCapabilities{Tools: &mcpwire.ToolsCapability{ListChanged: true}},
			ServerInfo:      mcpwire.Implementation{Name: "aggproxy", Version: "1.0.0"},
		}
		s.writeResult(ctx, conn, id, result)
	case mcpwire.MethodPing:
		s.writeResult(ctx, conn, id, mcpwire.PingResult{})
	case mcpwire.MethodToolsList:
		descs := s.backend.ListTools()
		tools := make([]mcpwire.Tool, 0, len(descs))
		for _, d := range descs {
			tools = append(tools, mcpwire.Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
		}
		s.writeResult(ctx, conn, id, mcpwire.ListToolsResult{Tools: tools})
	case mcpwire.MethodToolsCall:
		s.handleToolsCall(ctx, conn, id, env.Params)
	default:
		s.writeError(ctx, conn, id, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method %q not found", env.Method), "ProtocolError")
	}
}

func (s *Session) handleToolsCall(ctx context.Context, conn *websocket.Conn, id jsonrpc.ID, params json.RawMessage) {
	var callParams mcpwire.CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		s.writeError(ctx, conn, id, jsonrpc.CodeInvalidParams, "invalid tools/call params", "ProtocolError")
		return
	}
	result, err := s.backend.CallTool(ctx, callParams.Name, callParams.Arguments)
	if err != nil {
		kind := "RemoteError"
		if k, ok := mcperr.As(err); ok {
			kind = string(k)
		}
		s.writeError(ctx, conn, id, jsonrpc.CodeServerError, err.Error(), kind)
		return
	}
	s.writeResult(ctx, conn, id, result)
}

func (s *Session) writeResult(ctx context.Context, conn *websocket.Conn, id jsonrpc.ID, result any) {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return
	}
	b, _ := json.Marshal(resp)
	_ = conn.Write(ctx, websocket.MessageText, b)
}

func (s *Session) writeError(ctx context.Context, conn *websocket.Conn, id jsonrpc.ID, code int64, msg, kind string) {
	resp := jsonrpc.NewErrorResponse(id, code, msg, jsonrpc.ErrorData{Kind: kind})
	b, _ := json.Marshal(resp)
	_ = conn.Write(ctx, websocket.MessageText, b)
}
