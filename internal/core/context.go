// Package core defines the Boot Context: the single value constructed
// once in cmd/ and threaded through every constructor, carrying the
// process-lifetime dependencies that the teacher's voice pipeline reached
// via package-level ambient singletons (a global logger, a global OTel
// provider). Generalized from the teacher's internal/app.App, which built
// one struct holding its providers and config and passed it by reference
// into every subsystem constructor instead of letting each subsystem
// reach for globals on its own.
package core

import (
	"context"
	"log/slog"

	"github.com/relaymcp/aggproxy/internal/eventbus"
	"github.com/relaymcp/aggproxy/internal/observe"
)

// BootContext bundles the dependencies every long-lived component needs
// at construction time. It carries no config snapshot of its own —
// Service Manager and Endpoint Manager each take a *config.Config
// explicitly, since a snapshot can be replaced at Reload while the Boot
// Context itself lives for the process's whole lifetime.
type BootContext struct {
	// Context is the root context all of this process's background work
	// derives from; canceling it is the shutdown signal.
	Context context.Context

	// Logger is the base structured logger; components attach their own
	// name via Logger.With("component", ...) rather than calling
	// slog.Default().
	Logger *slog.Logger

	// Bus is the shared event bus: Service Manager publishes service,
	// tool-list and tool-call events on it, and Endpoint Manager
	// subscribes to tool-list changes.
	Bus *eventbus.Bus

	// Metrics is the OpenTelemetry instrument set every component records
	// against.
	Metrics *observe.Metrics
}

// New builds a BootContext, defaulting any unset field the way the
// teacher's App constructor defaults a nil logger to slog.Default().
func New(ctx context.Context, logger *slog.Logger, bus *eventbus.Bus, metrics *observe.Metrics) *BootContext {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &BootContext{Context: ctx, Logger: logger, Bus: bus, Metrics: metrics}
}

// With returns a copy of b with ctx replacing the Context field, for
// callers that need to narrow the lifetime (e.g. a per-request or
// per-reload derived context) without touching the shared logger, bus,
// or metrics.
func (b *BootContext) With(ctx context.Context) *BootContext {
	cp := *b
	cp.Context = ctx
	return &cp
}
