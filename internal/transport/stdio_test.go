package transport

import (
	"context"
	"testing"
	"time"
)

func TestStdioEchoRoundTrip(t *testing.T) {
	a := NewStdio(StdioConfig{Command: "cat"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if a.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", a.State())
	}

	msg := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"}
	if err := a.Send(ctx, msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := a.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected non-empty echoed frame")
	}
}

func TestStdioCloseIsIdempotent(t *testing.T) {
	a := NewStdio(StdioConfig{Command: "cat"})
	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if a.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", a.State())
	}
}

func TestStdioSendBeforeOpenFails(t *testing.T) {
	a := NewStdio(StdioConfig{Command: "cat"})
	if err := a.Send(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error sending before open")
	}
}
