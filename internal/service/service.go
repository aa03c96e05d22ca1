// Package service implements the MCP Service (spec §4.2): one
// long-lived client connection to a downstream tool-providing server,
// including the initialize/initialized handshake, tools/list discovery
// with content-hash change detection, the notifications/tools/list_changed
// subscription, and id-correlated tools/call with a deadline.
//
// Generalized from the teacher's internal/session.Reconnector (a single
// voice-channel connection that survives drops with exponential backoff)
// into a transport-agnostic reconnecting client keyed by JSON-RPC id
// instead of a single in-flight call.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymcp/aggproxy/internal/backoff"
	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/jsonrpc"
	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/mcpwire"
	"github.com/relaymcp/aggproxy/internal/tooldesc"
	"github.com/relaymcp/aggproxy/internal/transport"
)

// Status is a point-in-time snapshot of a Service's connection state,
// exposed for the Service Manager's status aggregation (spec §4.4).
type Status struct {
	Name           string
	State          transport.State
	LastError      string
	ReconnectCount int
	ToolCount      int
}

// ListChangedFunc is invoked whenever this service's tool catalog changes
// content hash, either from a fresh tools/list after (re)connect or from
// a notifications/tools/list_changed round trip (spec §4.2).
type ListChangedFunc func(service string, tools []tooldesc.Descriptor)

// StateChangedFunc is invoked on every transport.State transition, for
// the event bus's service.stateChanged topic (spec §4.8).
type StateChangedFunc func(service string, state transport.State, err error)

// Service owns one downstream connection. Callers interact with it only
// through CallTool and the status accessors; reconnection is entirely
// internal, driven by its own goroutine.
type Service struct {
	name   string
	cfg    config.ServiceConfig
	policy backoff.Policy
	logger *slog.Logger

	newAdapter func() transport.Adapter

	onListChanged  ListChangedFunc
	onStateChanged StateChangedFunc

	mu             sync.RWMutex
	adapter        transport.Adapter
	lastErr        error
	reconnectCount int
	tools          []tooldesc.Descriptor
	toolsHash      string

	nextID  int64
	idMu    sync.Mutex
	pending map[string]chan jsonrpc.Response

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Options configures a new Service.
type Options struct {
	Logger         *slog.Logger
	OnListChanged  ListChangedFunc
	OnStateChanged StateChangedFunc
}

// New constructs a Service for the named downstream server. The
// connection is not established until Start is called.
func New(name string, cfg config.ServiceConfig, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := backoff.NewPolicy(
		time.Duration(cfg.Reconnect.InitialBackoffMS)*time.Millisecond,
		cfg.Reconnect.Multiplier,
		time.Duration(cfg.Reconnect.MaxBackoffMS)*time.Millisecond,
		cfg.Reconnect.MaxAttempts,
	)
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = backoff.DefaultAttempts
	}
	return &Service{
		name:           name,
		cfg:            cfg,
		policy:         policy,
		logger:         logger.With("service", name),
		newAdapter:     func() transport.Adapter { return transport.New(cfg) },
		onListChanged:  opts.OnListChanged,
		onStateChanged: opts.OnStateChanged,
		pending:        make(map[string]chan jsonrpc.Response),
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
}

// Name returns the service's configured name.
func (s *Service) Name() string { return s.name }

// Start connects and begins the read/reconnect loop in a background
// goroutine. It returns once the first connection attempt (including
// the handshake and initial tools/list) completes or permanently fails.
func (s *Service) Start(ctx context.Context) error {
	err := s.connectOnce(ctx)
	go s.run(ctx)
	return err
}

// Stop tears down the connection and halts the reconnect loop.
// Idempotent.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.stopped
}

// Status returns a snapshot of the service's current state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Name: s.name, ReconnectCount: s.reconnectCount, ToolCount: len(s.tools)}
	if s.adapter != nil {
		st.State = s.adapter.State()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Tools returns the current tool catalog snapshot.
func (s *Service) Tools() []tooldesc.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tooldesc.Descriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *Service) setState(state transport.State, err error) {
	if s.onStateChanged != nil {
		s.onStateChanged(s.name, state, err)
	}
}

// connectOnce opens the transport, performs the MCP handshake, fetches
// the initial tool catalog, and starts the read-pump goroutine.
func (s *Service) connectOnce(ctx context.Context) error {
	adapter := s.newAdapter()
	if err := adapter.Open(ctx); err != nil {
		s.recordErr(err)
		s.setState(transport.StateClosed, err)
		return err
	}

	s.mu.Lock()
	s.adapter = adapter
	s.mu.Unlock()

	if err := s.handshake(ctx, adapter); err != nil {
		adapter.Close()
		s.recordErr(err)
		s.setState(transport.StateClosed, err)
		return err
	}

	go s.readPump(adapter)

	if err := s.refreshTools(ctx); err != nil {
		s.logger.Warn("initial tools/list failed", "error", err)
	}

	s.setState(transport.StateOpen, nil)
	return nil
}

func (s *Service) handshake(ctx context.Context, adapter transport.Adapter) error {
	params := mcpwire.InitializeParams{
		ProtocolVersion: mcpwire.ProtocolVersion,
		ClientInfo:      mcpwire.Implementation{Name: "aggproxy", Version: "1.0.0"},
	}
	req, err := jsonrpc.NewRequest(s.allocateID(), mcpwire.MethodInitialize, params)
	if err != nil {
		return mcperr.HandshakeFailed("build initialize request", err)
	}
	respCh := s.registerPending(req.ID)
	if err := adapter.Send(ctx, req); err != nil {
		s.dropPending(req.ID)
		return mcperr.HandshakeFailed("send initialize", err)
	}
	resp, err := s.waitResponse(ctx, respCh, 15*time.Second)
	if err != nil {
		return mcperr.HandshakeFailed("initialize", err)
	}
	if resp.Error != nil {
		return mcperr.HandshakeFailed(resp.Error.Message, nil)
	}

	notif, err := jsonrpc.NewNotification(mcpwire.MethodInitialized, struct{}{})
	if err != nil {
		return mcperr.HandshakeFailed("build initialized notification", err)
	}
	if err := adapter.Send(ctx, notif); err != nil {
		return mcperr.HandshakeFailed("send initialized", err)
	}
	return nil
}

// readPump reads frames until the adapter closes, dispatching responses
// to pending callers and list_changed notifications to refreshTools.
func (s *Service) readPump(adapter transport.Adapter) {
	ctx := context.Background()
	for {
		raw, err := adapter.Recv(ctx)
		if err != nil {
			// Close so the adapter's State reports the drop and run reconnects.
			adapter.Close()
			s.recordErr(err)
			s.setState(transport.StateClosed, err)
			s.failAllPending(err)
			return
		}
		env, err := jsonrpc.ParseEnvelope(raw)
		if err != nil {
			s.logger.Warn("dropping unparseable frame", "error", err)
			continue
		}
		switch env.Classify() {
		case jsonrpc.FrameResponse:
			s.dispatchResponse(env)
		case jsonrpc.FrameNotification:
			if env.Method == mcpwire.MethodToolsListChanged {
				go func() {
					if err := s.refreshTools(context.Background()); err != nil {
						s.logger.Warn("tools/list after list_changed failed", "error", err)
					}
				}()
			}
		}
	}
}

func (s *Service) dispatchResponse(env jsonrpc.Envelope) {
	resp := jsonrpc.Response{JSONRPC: env.JSONRPC, Result: env.Result, Error: env.Error}
	if env.ID != nil {
		resp.ID = *env.ID
	}
	key := resp.ID.String()
	s.idMu.Lock()
	ch, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.idMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (s *Service) failAllPending(err error) {
	resp := jsonrpc.NewErrorResponse(jsonrpc.ID{}, jsonrpc.CodeInternalError, err.Error(), jsonrpc.ErrorData{Kind: "ChannelClosed"})
	s.idMu.Lock()
	defer s.idMu.Unlock()
	for k, ch := range s.pending {
		ch <- resp
		delete(s.pending, k)
	}
}

// refreshTools issues tools/list and, if the resulting content hash
// differs from the last known one, invokes onListChanged (spec §4.2:
// "change detection via content hash avoids spurious downstream
// notifications when a server merely re-sends an identical catalog").
func (s *Service) refreshTools(ctx context.Context) error {
	s.mu.RLock()
	adapter := s.adapter
	s.mu.RUnlock()
	if adapter == nil {
		return mcperr.ServiceNotReady(s.name)
	}

	req, err := jsonrpc.NewRequest(s.allocateID(), mcpwire.MethodToolsList, struct{}{})
	if err != nil {
		return err
	}
	respCh := s.registerPending(req.ID)
	if err := adapter.Send(ctx, req); err != nil {
		s.dropPending(req.ID)
		return mcperr.ConnectError("send tools/list", err)
	}
	resp, err := s.waitResponse(ctx, respCh, 15*time.Second)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return mcperr.RemoteError(resp.Error.Code, resp.Error.Message)
	}

	var result mcpwire.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return mcperr.ProtocolError("decode tools/list result", err)
	}

	descriptors := make([]tooldesc.Descriptor, 0, len(result.Tools))
	hasher := sha256.New()
	for _, t := range result.Tools {
		flat := config.FlatToolName(s.name, t.Name)
		hash := contentHash(t.Name, t.Description, t.InputSchema)
		descriptors = append(descriptors, tooldesc.NewDescriptor(flat, t.Description, t.InputSchema, s.name, t.Name, hash))
		hasher.Write([]byte(hash))
	}
	newHash := hex.EncodeToString(hasher.Sum(nil))

	s.mu.Lock()
	changed := newHash != s.toolsHash
	s.tools = descriptors
	s.toolsHash = newHash
	s.mu.Unlock()

	if changed && s.onListChanged != nil {
		s.onListChanged(s.name, descriptors)
	}
	return nil
}

func contentHash(name, description string, schema json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(description))
	h.Write([]byte{0})
	h.Write(schema)
	return hex.EncodeToString(h.Sum(nil))
}

// CallTool issues tools/call for originalName with the given arguments,
// bounded by deadline.
func (s *Service) CallTool(ctx context.Context, originalName string, args map[string]any, deadline time.Duration) (mcpwire.CallToolResult, error) {
	s.mu.RLock()
	adapter := s.adapter
	state := transport.StateClosed
	if adapter != nil {
		state = adapter.State()
	}
	s.mu.RUnlock()
	if adapter == nil || state != transport.StateOpen {
		return mcpwire.CallToolResult{}, mcperr.ServiceNotReady(s.name)
	}

	params := mcpwire.CallToolParams{Name: originalName, Arguments: args}
	req, err := jsonrpc.NewRequest(s.allocateID(), mcpwire.MethodToolsCall, params)
	if err != nil {
		return mcpwire.CallToolResult{}, mcperr.ProtocolError("build tools/call request", err)
	}
	respCh := s.registerPending(req.ID)
	if err := adapter.Send(ctx, req); err != nil {
		s.dropPending(req.ID)
		return mcpwire.CallToolResult{}, mcperr.ConnectError("send tools/call", err)
	}

	resp, err := s.waitResponse(ctx, respCh, deadline)
	if err != nil {
		return mcpwire.CallToolResult{}, err
	}
	if resp.Error != nil {
		return mcpwire.CallToolResult{}, mcperr.RemoteError(resp.Error.Code, resp.Error.Message)
	}
	var result mcpwire.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return mcpwire.CallToolResult{}, mcperr.ProtocolError("decode tools/call result", err)
	}
	return result, nil
}

func (s *Service) allocateID() jsonrpc.ID {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.nextID++
	return jsonrpc.NewIntID(s.nextID)
}

func (s *Service) registerPending(id jsonrpc.ID) chan jsonrpc.Response {
	ch := make(chan jsonrpc.Response, 1)
	s.idMu.Lock()
	s.pending[id.String()] = ch
	s.idMu.Unlock()
	return ch
}

func (s *Service) dropPending(id jsonrpc.ID) {
	s.idMu.Lock()
	delete(s.pending, id.String())
	s.idMu.Unlock()
}

func (s *Service) waitResponse(ctx context.Context, ch chan jsonrpc.Response, deadline time.Duration) (jsonrpc.Response, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return jsonrpc.Response{}, mcperr.Timeout(fmt.Sprintf("%s: no response within %s", s.name, deadline))
	case <-ctx.Done():
		return jsonrpc.Response{}, ctx.Err()
	}
}

func (s *Service) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// run drives the reconnect loop: after the initial connectOnce (called by
// Start before run begins), it waits for a disconnect then retries with
// backoff, mirroring the teacher's Reconnector.monitorLoop but triggered
// by the read pump's own error return rather than an external
// NotifyDisconnect call.
func (s *Service) run(ctx context.Context) {
	defer close(s.stopped)
	attempt := 0
	for {
		select {
		case <-s.stop:
			s.mu.RLock()
			adapter := s.adapter
			s.mu.RUnlock()
			if adapter != nil {
				adapter.Close()
			}
			return
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}

		s.mu.RLock()
		adapter := s.adapter
		s.mu.RUnlock()
		if adapter != nil && adapter.State() == transport.StateOpen {
			attempt = 0
			continue
		}

		attempt++
		if s.policy.Exhausted(attempt) {
			s.logger.Error("giving up after max reconnect attempts", "attempts", attempt)
			return
		}
		delay := s.policy.Delay(attempt)
		s.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := s.connectOnce(ctx); err != nil {
			s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		s.mu.Lock()
		s.reconnectCount++
		s.mu.Unlock()
		attempt = 0
	}
}
