// Package transport implements the Transport Adapter (spec §4.1): a
// single low-level contract — Open, Send, Recv, Close, State — behind
// which the four downstream wire variants (stdio, streamable-http, sse,
// modelscope-sse) are hidden from internal/service.
//
// Every adapter speaks raw JSON-RPC frames (see internal/jsonrpc) and
// surfaces failures through the mcperr taxonomy: ConnectError for dial
// failures, AuthRequired for missing credentials, ChannelClosed once the
// underlying pipe/stream ends. Frames are handed to the caller unparsed;
// no adapter produces FrameParse. internal/service never branches on
// transport kind once Open succeeds.
package transport

import (
	"context"
	"encoding/json"
)

// Kind names one of the four wire variants a Service may speak.
type Kind string

const (
	KindStdio          Kind = "stdio"
	KindStreamableHTTP Kind = "streamable-http"
	KindSSE            Kind = "sse"
	KindModelScopeSSE  Kind = "modelscope-sse"
)

// State is the adapter's connection state, mirrored into
// internal/service.Service.Status for observability (spec §4.2).
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Adapter is the uniform low-level contract every wire variant
// implements. Open must be called once before Send/Recv; Close is
// idempotent. Recv blocks until a frame arrives, ctx is cancelled, or
// the underlying connection closes (mcperr.ChannelClosed).
type Adapter interface {
	// Open establishes the underlying connection (spawns the child
	// process, dials the HTTP/SSE endpoint) but does not perform the MCP
	// handshake — that is internal/service's job, uniformly across
	// every Kind.
	Open(ctx context.Context) error

	// Send writes one JSON-RPC frame (request or notification) to the
	// peer. Safe for concurrent use alongside Recv, but concurrent
	// Send calls from multiple goroutines are the caller's
	// responsibility to serialize.
	Send(ctx context.Context, frame any) error

	// Recv blocks for the next inbound frame, returned as raw JSON for
	// internal/jsonrpc.ParseEnvelope to classify.
	Recv(ctx context.Context) ([]byte, error)

	// Close releases all underlying resources. Idempotent.
	Close() error

	// State reports the adapter's current connection state.
	State() State

	// Kind reports which wire variant this adapter implements.
	Kind() Kind
}

// marshalFrame is a shared helper so every adapter's Send implementation
// serializes outbound frames identically regardless of how the bytes
// actually leave the process.
func marshalFrame(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
