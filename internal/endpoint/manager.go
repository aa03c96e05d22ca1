package endpoint

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/eventbus"
)

// Manager owns one Session per configured upstream endpoint URL, and
// fans out tools.listChanged events from the Service Manager's bus to
// every session so each upstream agent gets notified (spec §4.7).
type Manager struct {
	logger      *slog.Logger
	bus         *eventbus.Bus
	connCfg     config.ConnectionConfig
	backend     Backend
	unsubscribe func()

	mu       sync.Mutex
	sessions map[string]*Session
	cancel   context.CancelFunc
}

// NewManager builds a Manager. Start brings up one Session per URL.
func NewManager(bus *eventbus.Bus, backend Backend, connCfg config.ConnectionConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		bus:      bus,
		connCfg:  connCfg,
		backend:  backend,
		sessions: make(map[string]*Session),
	}
}

// Start dials a Session for every URL and subscribes to tools.listChanged
// so each session pushes notifications/tools/list_changed upstream.
func (m *Manager) Start(ctx context.Context, urls []string) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	for _, url := range urls {
		sess := NewSession(url, m.backend, m.connCfg, m.logger.With("endpoint_url", url))
		m.sessions[url] = sess
		go sess.Run(runCtx)
	}
	m.mu.Unlock()

	m.unsubscribe = m.bus.Subscribe(eventbus.TopicToolsListChanged, func(event any) {
		m.mu.Lock()
		sessions := make([]*Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.mu.Unlock()
		for _, s := range sessions {
			s.NotifyToolsChanged()
		}
	})
}

// Stop halts every session and unsubscribes from the event bus.
func (m *Manager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.mu.Lock()
	cancel := m.cancel
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, s := range sessions {
		s.Stop()
	}
}

// SessionCount reports how many endpoint sessions are managed, mainly
// for tests and status reporting.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
