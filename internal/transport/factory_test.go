package transport

import (
	"testing"

	"github.com/relaymcp/aggproxy/internal/config"
)

func TestNewResolvesExplicitTransport(t *testing.T) {
	a := New(config.ServiceConfig{Transport: config.TransportStdio, Command: "cat"})
	if a.Kind() != KindStdio {
		t.Fatalf("got %v", a.Kind())
	}
}

func TestNewInfersSSEFromURL(t *testing.T) {
	a := New(config.ServiceConfig{URL: "https://example.com/sse"})
	if a.Kind() != KindSSE {
		t.Fatalf("got %v", a.Kind())
	}
}

func TestNewInfersStreamableHTTPFromURL(t *testing.T) {
	a := New(config.ServiceConfig{URL: "https://example.com/mcp"})
	if a.Kind() != KindStreamableHTTP {
		t.Fatalf("got %v", a.Kind())
	}
}

func TestNewDetectsModelScope(t *testing.T) {
	a := New(config.ServiceConfig{URL: "https://mcp.api-inference.modelscope.net/foo/sse"})
	if a.Kind() != KindModelScopeSSE {
		t.Fatalf("got %v", a.Kind())
	}
}
