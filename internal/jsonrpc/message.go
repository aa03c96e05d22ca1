// Package jsonrpc implements the wire envelope for JSON-RPC 2.0, the
// protocol spoken on both the upstream (agent-facing) and downstream
// (tool-service-facing) sides of the proxy.
//
// It intentionally does not know about MCP method names or payload
// shapes — see package mcpwire for the MCP-specific dialect built on
// top of these envelopes.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this package speaks.
const Version = "2.0"

// Standard and server-defined error codes (spec §6).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeServerError is the low end of the reserved server-defined range
	// (-32000..-32099). Use CodeServerError-N for specific conditions.
	CodeServerError = -32000
)

// ID is a JSON-RPC request identifier. Per the spec it may be a string,
// a number, or absent (for notifications). We keep it as raw JSON so it
// round-trips exactly as the peer sent it.
type ID struct {
	raw json.RawMessage
}

// NewIntID builds an ID from an integer, the shape this proxy uses for
// every outbound request it originates (service.Service).
func NewIntID(n int64) ID {
	b, _ := json.Marshal(n)
	return ID{raw: b}
}

// IsZero reports whether the ID was never set (i.e. this message is a
// notification).
func (id ID) IsZero() bool { return len(id.raw) == 0 }

// String renders the ID for logging.
func (id ID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	return string(id.raw)
}

// Equal compares two IDs by their raw encoding.
func (id ID) Equal(other ID) bool {
	return string(id.raw) == string(other.raw)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		id.raw = nil
		return nil
	}
	id.raw = append([]byte(nil), b...)
	return nil
}

// Request is an outbound or inbound JSON-RPC call expecting a Response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a Request with no ID: no response is expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error, never both.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error payload. Data carries a structured
// {kind, details?} object per spec §6 so callers can discriminate without
// string-matching Message.
type ErrorObject struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the conventional shape placed in ErrorObject.Data.
type ErrorData struct {
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

// NewRequest builds a Request with the standard version tag.
func NewRequest(id ID, method string, params any) (Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Request{}, err
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification with the standard version tag.
func NewNotification(method string, params any) (Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Notification{}, err
	}
	return Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResultResponse builds a successful Response.
func NewResultResponse(id ID, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("jsonrpc: marshal result: %w", err)
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failed Response with a structured data payload.
func NewErrorResponse(id ID, code int64, message string, data ErrorData) Response {
	raw, _ := json.Marshal(data)
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error: &ErrorObject{
			Code:    code,
			Message: message,
			Data:    raw,
		},
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return raw, nil
}

// Envelope is the minimal shape needed to classify an arbitrary inbound
// frame as a request, a notification, or a response before fully decoding
// it. Parsing into this first, then dispatching, is how both Service and
// Session avoid guessing the frame's purpose from partial information.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Classify reports what kind of frame this envelope represents.
func (e Envelope) Classify() FrameKind {
	switch {
	case e.Method != "" && e.ID != nil && !e.ID.IsZero():
		return FrameRequest
	case e.Method != "":
		return FrameNotification
	case e.ID != nil:
		return FrameResponse
	default:
		return FrameUnknown
	}
}

// FrameKind discriminates a decoded Envelope.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameRequest
	FrameNotification
	FrameResponse
)

// ParseEnvelope decodes the minimal envelope from raw bytes. A failure here
// is always a ProtocolError-class condition: the frame is not valid JSON or
// not a JSON object.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("jsonrpc: parse envelope: %w", err)
	}
	return e, nil
}
