// Package servicemanager implements the Service Manager (spec §4.4): it
// owns the pool of downstream internal/service.Service instances, the
// shared internal/registry.Registry, and the internal/custommcp.Handler,
// and exposes the single ListTools/CallTool surface the Endpoint Session
// layer calls into.
//
// Start brings up every configured service concurrently, bounded by
// golang.org/x/sync/errgroup, mirroring the teacher's internal/app.App
// lifecycle (functional options, an ordered closers slice run on
// Shutdown) generalized from a single voice-pipeline wiring pass into a
// reusable per-service start/stop/reload cycle.
package servicemanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymcp/aggproxy/internal/audit"
	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/custommcp"
	"github.com/relaymcp/aggproxy/internal/eventbus"
	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/mcpwire"
	"github.com/relaymcp/aggproxy/internal/observe"
	"github.com/relaymcp/aggproxy/internal/registry"
	"github.com/relaymcp/aggproxy/internal/service"
	"github.com/relaymcp/aggproxy/internal/tooldesc"
	"github.com/relaymcp/aggproxy/internal/transport"
)

// Option configures a Manager, following the teacher's functional-option
// convention for injecting test doubles.
type Option func(*Manager)

// WithBus injects an event bus instead of creating one.
func WithBus(bus *eventbus.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithAuditLog injects an audit log instead of creating one.
func WithAuditLog(log *audit.Log) Option {
	return func(m *Manager) { m.audit = log }
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics injects a metrics instance instead of using the
// package-level default, primarily so tests can assert against an
// isolated ManualReader.
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns every downstream Service, the merged Registry, and the
// CustomMCP Handler, for the lifetime of one configuration snapshot.
type Manager struct {
	logger  *slog.Logger
	bus     *eventbus.Bus
	audit   *audit.Log
	metrics *observe.Metrics

	registry *registry.Registry

	mu       sync.RWMutex
	cfg      *config.Config
	services map[string]*service.Service
	custom   *custommcp.Handler
	stopSweep func()
}

// New builds a Manager. Start must be called before ListTools/CallTool.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:   slog.Default(),
		registry: registry.New(),
		services: make(map[string]*service.Service),
	}
	for _, o := range opts {
		o(m)
	}
	if m.bus == nil {
		m.bus = eventbus.New()
	}
	if m.audit == nil {
		m.audit = audit.New(1024, m.logger)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Bus returns the event bus this manager publishes on, for
// internal/endpoint to subscribe to.
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// Start validates cfg, then brings up every configured service
// concurrently (bounded by errgroup), the CustomMCP handler, and applies
// registry overrides. A single service failing to connect within its
// reconnect policy does not fail Start for the others — it stays in
// ServiceNotReady state and is retried in the background (spec §4.4).
func (m *Manager) Start(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.registry.ApplyOverrides(cfg.MCPServerConfig)

	client := custommcp.NewCozeClient(cfg.PlatformCoze)
	m.custom = custommcp.New(cfg.CustomMCPTools, client, m.logger)
	for _, d := range m.custom.Descriptors() {
		m.registry.PutCustomMCPTool(d)
	}
	m.stopSweep = m.custom.StartSweeper()

	// Services are started with ctx, not the errgroup's derived context:
	// that one is cancelled as soon as Wait returns, which would end each
	// service's background reconnect loop (and kill stdio children).
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	var mu sync.Mutex
	for name, svcCfg := range cfg.MCPServers {
		name, svcCfg := name, svcCfg
		svc := service.New(name, svcCfg, service.Options{
			Logger:         m.logger,
			OnListChanged:  m.handleListChanged,
			OnStateChanged: m.handleStateChanged,
		})
		mu.Lock()
		m.services[name] = svc
		mu.Unlock()

		g.Go(func() error {
			if err := svc.Start(ctx); err != nil {
				m.logger.Warn("service failed initial connect, will retry in background", "service", name, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop tears down every service and the CustomMCP sweeper.
func (m *Manager) Stop() {
	if m.stopSweep != nil {
		m.stopSweep()
	}
	m.mu.RLock()
	services := make([]*service.Service, 0, len(m.services))
	for _, s := range m.services {
		services = append(services, s)
	}
	m.mu.RUnlock()
	for _, s := range services {
		s.Stop()
	}
	m.audit.Close()
}

// Reload recomputes the service set against newCfg, starting added
// services, stopping removed ones, and restarting reconfigured ones
// (spec §4.4).
func (m *Manager) Reload(ctx context.Context, newCfg *config.Config) error {
	if err := config.Validate(newCfg); err != nil {
		return err
	}
	m.mu.Lock()
	oldCfg := m.cfg
	m.mu.Unlock()

	diff := config.Diff(oldCfg, newCfg)
	m.registry.ApplyOverrides(newCfg.MCPServerConfig)

	for _, sc := range diff.ServiceChanges {
		switch {
		case sc.Removed:
			m.stopService(sc.Name)
		case sc.Added:
			m.startService(ctx, sc.Name, newCfg.MCPServers[sc.Name])
		case sc.Reconfigured:
			m.stopService(sc.Name)
			m.startService(ctx, sc.Name, newCfg.MCPServers[sc.Name])
		}
	}

	m.mu.Lock()
	m.cfg = newCfg
	m.mu.Unlock()
	return nil
}

func (m *Manager) startService(ctx context.Context, name string, cfg config.ServiceConfig) {
	svc := service.New(name, cfg, service.Options{
		Logger:         m.logger,
		OnListChanged:  m.handleListChanged,
		OnStateChanged: m.handleStateChanged,
	})
	m.mu.Lock()
	m.services[name] = svc
	m.mu.Unlock()
	if err := svc.Start(ctx); err != nil {
		m.logger.Warn("reload: service failed initial connect, will retry in background", "service", name, "error", err)
	}
}

func (m *Manager) stopService(name string) {
	m.mu.Lock()
	svc, ok := m.services[name]
	delete(m.services, name)
	m.mu.Unlock()
	if ok {
		svc.Stop()
		m.registry.RemoveService(name)
	}
}

func (m *Manager) handleListChanged(serviceName string, tools []tooldesc.Descriptor) {
	m.registry.ReplaceService(serviceName, tools)
	m.bus.Publish(eventbus.TopicToolsListChanged, eventbus.ToolsListChangedEvent{Service: serviceName, ToolCount: len(tools)})
}

func (m *Manager) handleStateChanged(serviceName string, state transport.State, err error) {
	m.metrics.RecordServiceState(context.Background(), serviceName, state.String())
	m.bus.Publish(eventbus.TopicServiceStateChanged, eventbus.ServiceStateChangedEvent{
		Service: serviceName,
		State:   state.String(),
		Err:     err,
	})
}

// ListTools returns the current merged, override-applied tool catalog.
func (m *Manager) ListTools() []tooldesc.Descriptor {
	return m.registry.List()
}

// CallTool dispatches to the owning Service or the CustomMCP Handler
// depending on the descriptor's owner, recording the outcome to the
// audit log and event bus regardless of which path served it (spec
// §4.3, §4.5, §5).
func (m *Manager) CallTool(ctx context.Context, flatName string, args map[string]any) (mcpwire.CallToolResult, error) {
	start := time.Now()
	desc, err := m.registry.Lookup(flatName)
	if err != nil {
		m.recordCall(ctx, flatName, "", args, err, start)
		return mcpwire.CallToolResult{}, err
	}
	desc.RecordUse()

	var result mcpwire.CallToolResult
	if desc.OwnerServiceName == tooldesc.CustomMCPServiceName {
		result, err = m.custom.CallTool(ctx, desc.Name, args)
	} else {
		m.mu.RLock()
		svc, ok := m.services[desc.OwnerServiceName]
		m.mu.RUnlock()
		if !ok {
			err = mcperr.ServiceNotReady(desc.OwnerServiceName)
		} else {
			result, err = svc.CallTool(ctx, desc.OriginalName, args, 30*time.Second)
		}
	}
	m.recordCall(ctx, flatName, desc.OwnerServiceName, args, err, start)
	return result, err
}

func (m *Manager) recordCall(ctx context.Context, toolName, service string, args map[string]any, err error, start time.Time) {
	kind := ""
	status := "ok"
	if k, ok := mcperr.As(err); ok {
		kind = string(k)
		status = kind
	} else if err != nil {
		status = "error"
	}
	m.audit.Record(toolName, service, args, err == nil, kind, time.Since(start))
	m.metrics.RecordToolCall(ctx, toolName, status, time.Since(start).Seconds())
	m.bus.Publish(eventbus.TopicToolCalled, eventbus.ToolCalledEvent{ToolName: toolName, Success: err == nil})
}

// ServiceStatuses returns a snapshot of every managed service's status.
func (m *Manager) ServiceStatuses() []service.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]service.Status, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s.Status())
	}
	return out
}
