package endpoint

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/eventbus"
)

func TestManagerStartDialsEverySession(t *testing.T) {
	connCh := make(chan *websocket.Conn, 2)
	srv1 := upstreamAgentServer(t, connCh)
	defer srv1.Close()
	srv2 := upstreamAgentServer(t, connCh)
	defer srv2.Close()

	bus := eventbus.New()
	backend := &fakeBackend{}
	mgr := NewManager(bus, backend, config.ConnectionConfig{ReconnectIntervalMS: 50}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	mgr.Start(ctx, []string{wsURL(srv1.URL), wsURL(srv2.URL)})
	defer mgr.Stop()

	if mgr.SessionCount() != 2 {
		t.Fatalf("expected 2 sessions, got %d", mgr.SessionCount())
	}

	for i := 0; i < 2; i++ {
		select {
		case conn := <-connCh:
			conn.Close(websocket.StatusNormalClosure, "done")
		case <-time.After(2 * time.Second):
			t.Fatal("expected both sessions to dial in")
		}
	}
}

func TestManagerFanOutOnToolsListChanged(t *testing.T) {
	connCh := make(chan *websocket.Conn, 1)
	srv := upstreamAgentServer(t, connCh)
	defer srv.Close()

	bus := eventbus.New()
	backend := &fakeBackend{}
	mgr := NewManager(bus, backend, config.ConnectionConfig{ReconnectIntervalMS: 50}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	mgr.Start(ctx, []string{wsURL(srv.URL)})
	defer mgr.Stop()

	agentConn := <-connCh
	defer agentConn.Close(websocket.StatusNormalClosure, "done")

	bus.Publish(eventbus.TopicToolsListChanged, eventbus.ToolsListChangedEvent{Service: "files", ToolCount: 3})

	_, _, err := agentConn.Read(ctx)
	if err != nil {
		t.Fatalf("expected a pushed notification, got error: %v", err)
	}
}
