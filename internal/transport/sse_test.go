package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSEDiscoversEndpointAndRoundTrips(t *testing.T) {
	mux := http.NewServeMux()
	var postPath string
	srv := httptest.NewServer(mux)
	defer srv.Close()
	postPath = "/message"

	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", postPath)
		flusher.Flush()
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc(postPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	a := NewSSE(HTTPConfig{URL: srv.URL + "/sse"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if a.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", a.State())
	}

	got, err := a.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected non-empty frame")
	}

	if err := a.Send(ctx, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestModelScopeSSERequiresAPIKey(t *testing.T) {
	a := NewModelScopeSSE(HTTPConfig{URL: "https://mcp.api-inference.modelscope.net/foo/sse"})
	if err := a.Open(context.Background()); err == nil {
		t.Fatal("expected AuthRequired when apiKey is missing")
	}
}

func TestSSEMissingURLIsConfigError(t *testing.T) {
	a := NewSSE(HTTPConfig{})
	if err := a.Open(context.Background()); err == nil {
		t.Fatal("expected ConfigError for missing url")
	}
}
