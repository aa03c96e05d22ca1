// Package observe provides application-wide observability primitives for
// aggproxy: OpenTelemetry metrics, distributed tracing, and structured
// logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all aggproxy metrics.
const meterName = "github.com/relaymcp/aggproxy"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ToolCallDuration tracks end-to-end tool invocation latency, from the
	// Service Manager's CallTool entry to its return.
	ToolCallDuration metric.Float64Histogram

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ServiceStateTransitions counts downstream Service state transitions.
	// Use with attributes: attribute.String("service", ...), attribute.String("state", ...)
	ServiceStateTransitions metric.Int64Counter

	// CustomMCPCacheHits counts CustomMCP calls served by an existing
	// in-flight or completed cache entry rather than starting a new
	// workflow run.
	CustomMCPCacheHits metric.Int64Counter

	// CustomMCPCacheMisses counts CustomMCP calls that started a new
	// workflow run.
	CustomMCPCacheMisses metric.Int64Counter

	// AuditDropped counts tool-call audit entries dropped because the
	// audit log's channel was full.
	AuditDropped metric.Int64Counter

	// EndpointNotificationsDropped counts tools/list_changed notifications
	// dropped from an Endpoint Session's bounded outbound queue because a
	// newer notification superseded them before the connection could send.
	EndpointNotificationsDropped metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// tool-call latencies: most native MCP tools resolve in well under a
// second, while CustomMCP workflow calls can run for several seconds
// before their deadline fires.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolCallDuration, err = m.Float64Histogram("aggproxy.tool_call.duration",
		metric.WithDescription("Latency of a tools/call dispatched through the Service Manager."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("aggproxy.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ServiceStateTransitions, err = m.Int64Counter("aggproxy.service.state_transitions",
		metric.WithDescription("Total downstream Service state transitions by service name and state."),
	); err != nil {
		return nil, err
	}
	if met.CustomMCPCacheHits, err = m.Int64Counter("aggproxy.custommcp.cache_hits",
		metric.WithDescription("Total CustomMCP calls served by an existing at-most-once cache entry."),
	); err != nil {
		return nil, err
	}
	if met.CustomMCPCacheMisses, err = m.Int64Counter("aggproxy.custommcp.cache_misses",
		metric.WithDescription("Total CustomMCP calls that started a new workflow run."),
	); err != nil {
		return nil, err
	}
	if met.AuditDropped, err = m.Int64Counter("aggproxy.audit.dropped",
		metric.WithDescription("Total audit log entries dropped because the audit channel was full."),
	); err != nil {
		return nil, err
	}
	if met.EndpointNotificationsDropped, err = m.Int64Counter("aggproxy.endpoint.notifications_dropped",
		metric.WithDescription("Total tools/list_changed notifications superseded before an Endpoint Session could send them."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall records a tool call's duration and outcome with the
// standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, duration float64) {
	m.ToolCallDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordServiceState records a downstream Service transitioning to state.
func (m *Metrics) RecordServiceState(ctx context.Context, service, state string) {
	m.ServiceStateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}

// RecordCustomMCPCacheHit records a CustomMCP call joining an existing
// cache entry instead of starting a new workflow run.
func (m *Metrics) RecordCustomMCPCacheHit(ctx context.Context, tool string) {
	m.CustomMCPCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordCustomMCPCacheMiss records a CustomMCP call starting a new
// workflow run.
func (m *Metrics) RecordCustomMCPCacheMiss(ctx context.Context, tool string) {
	m.CustomMCPCacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordAuditDropped records one audit entry dropped due to backpressure.
func (m *Metrics) RecordAuditDropped(ctx context.Context) {
	m.AuditDropped.Add(ctx, 1)
}

// RecordEndpointNotificationDropped records one tools/list_changed
// notification superseded before it could be sent upstream.
func (m *Metrics) RecordEndpointNotificationDropped(ctx context.Context, endpointURL string) {
	m.EndpointNotificationsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpointURL)))
}
