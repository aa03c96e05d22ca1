// Package mcperr defines the closed error taxonomy used across the proxy
// (spec §7). Every failure mode a caller needs to discriminate has its own
// Kind value; the errors built by this package's constructors implement
// Error (error plus Kind() Kind), so the JSON-RPC layer (internal/endpoint)
// and the event bus can branch on Kind without parsing error strings.
package mcperr

import "fmt"

// Kind names one of the taxonomy's error classes.
type Kind string

const (
	KindConfigError      Kind = "ConfigError"
	KindConnectError     Kind = "ConnectError"
	KindAuthRequired     Kind = "AuthRequired"
	KindHandshakeFailed  Kind = "HandshakeFailed"
	KindProtocolError    Kind = "ProtocolError"
	KindToolNotFound     Kind = "ToolNotFound"
	KindToolDisabled     Kind = "ToolDisabled"
	KindServiceNotReady  Kind = "ServiceNotReady"
	KindRemoteError      Kind = "RemoteError"
	KindTimeout          Kind = "Timeout"
	KindTaskStalled      Kind = "TaskStalled"
	KindChannelClosed    Kind = "ChannelClosed"
	KindFrameParse       Kind = "FrameParse"
)

// Error is the common shape every taxonomy member satisfies.
type Error interface {
	error
	Kind() Kind
}

type baseError struct {
	kind    Kind
	message string
	wrapped error
}

func (e *baseError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *baseError) Kind() Kind   { return e.kind }
func (e *baseError) Unwrap() error { return e.wrapped }

func newErr(kind Kind, message string, wrapped error) *baseError {
	return &baseError{kind: kind, message: message, wrapped: wrapped}
}

// ConfigError reports malformed or insufficient configuration. Never
// retried; surfaced once per offense.
func ConfigError(message string) error { return newErr(KindConfigError, message, nil) }

// WrapConfigError wraps an underlying error as a ConfigError.
func WrapConfigError(message string, err error) error { return newErr(KindConfigError, message, err) }

// ConnectError reports that a transport could not be established. Retried
// per backoff by the owning Service/Session.
func ConnectError(message string, err error) error { return newErr(KindConnectError, message, err) }

// AuthRequired reports that a transport requires credentials not supplied.
// Treated as a ConfigError for retry purposes (never retried) but keeps
// its own Kind so callers can distinguish "never configured" from
// "malformed configuration".
func AuthRequired(message string) error { return newErr(KindAuthRequired, message, nil) }

// HandshakeFailed reports that MCP initialize did not complete.
func HandshakeFailed(message string, err error) error {
	return newErr(KindHandshakeFailed, message, err)
}

// ProtocolError reports a malformed JSON-RPC frame from the remote.
func ProtocolError(message string, err error) error { return newErr(KindProtocolError, message, err) }

// ToolNotFound reports that no descriptor matches the requested flat name.
func ToolNotFound(name string) error {
	return newErr(KindToolNotFound, fmt.Sprintf("tool %q not found", name), nil)
}

// ToolDisabled reports that the requested tool is administratively disabled.
func ToolDisabled(name string) error {
	return newErr(KindToolDisabled, fmt.Sprintf("tool %q is disabled", name), nil)
}

// ServiceNotReady reports that the owning Service cannot currently accept
// calls (Connecting/Reconnecting/Failed).
func ServiceNotReady(service string) error {
	return newErr(KindServiceNotReady, fmt.Sprintf("service %q is not ready", service), nil)
}

// RemoteErrorCode is a RemoteError carrying the remote's own JSON-RPC
// code and message, passed through unchanged.
type RemoteErrorCode struct {
	*baseError
	Code int64
}

// RemoteError wraps a JSON-RPC error response returned by a downstream
// service, preserving its code and message.
func RemoteError(code int64, msg string) error {
	return &RemoteErrorCode{baseError: newErr(KindRemoteError, msg, nil), Code: code}
}

// Timeout reports that a deadline elapsed before completion.
func Timeout(message string) error { return newErr(KindTimeout, message, nil) }

// TaskStalled reports that a CustomMCP pending cache entry exceeded the
// stall threshold.
func TaskStalled(taskID string) error {
	return newErr(KindTaskStalled, fmt.Sprintf("task %q stalled", taskID), nil)
}

// ChannelClosed reports that the underlying channel/connection closed
// while a call was outstanding.
func ChannelClosed(message string) error { return newErr(KindChannelClosed, message, nil) }

// FrameParse reports that a transport adapter could not parse a frame
// from the wire.
func FrameParse(message string, err error) error { return newErr(KindFrameParse, message, err) }

// As extracts the Kind of err if it is a member of this taxonomy.
func As(err error) (Kind, bool) {
	var e Error
	if ok := errorsAs(err, &e); ok {
		return e.Kind(), true
	}
	return "", false
}

// errorsAs is a tiny local shim so this package does not need to import
// "errors" solely for As in call sites that already shadow the name.
func errorsAs(err error, target *Error) bool {
	for err != nil {
		if e, ok := err.(Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
