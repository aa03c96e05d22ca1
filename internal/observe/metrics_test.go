package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestToolCallDurationAndCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "files__read", "ok", 0.123)
	m.RecordToolCall(ctx, "files__read", "ok", 0.456)
	m.RecordToolCall(ctx, "files__read", "error", 1.0)

	rm := collect(t, reader)

	hist := findMetric(rm, "aggproxy.tool_call.duration")
	if hist == nil {
		t.Fatal("duration metric not found")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	var totalCount uint64
	for _, dp := range h.DataPoints {
		totalCount += dp.Count
	}
	if totalCount != 3 {
		t.Errorf("sample count = %d, want 3", totalCount)
	}

	counter := findMetric(rm, "aggproxy.tool.calls")
	if counter == nil {
		t.Fatal("counter metric not found")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("counter metric is not a sum")
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" && kv.Value.AsString() == "ok" {
				if dp.Value != 2 {
					t.Errorf("ok counter value = %d, want 2", dp.Value)
				}
			}
		}
	}
}

func TestServiceStateTransitions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordServiceState(ctx, "files", "open")
	m.RecordServiceState(ctx, "files", "reconnecting")

	rm := collect(t, reader)
	met := findMetric(rm, "aggproxy.service.state_transitions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 distinct data points, got %d", len(sum.DataPoints))
	}
}

func TestCustomMCPCacheCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCustomMCPCacheMiss(ctx, "summarize")
	m.RecordCustomMCPCacheHit(ctx, "summarize")
	m.RecordCustomMCPCacheHit(ctx, "summarize")

	rm := collect(t, reader)

	hits := findMetric(rm, "aggproxy.custommcp.cache_hits")
	if hits == nil {
		t.Fatal("cache hits metric not found")
	}
	sum, ok := hits.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("cache hits metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("unexpected cache hit count: %+v", sum.DataPoints)
	}

	misses := findMetric(rm, "aggproxy.custommcp.cache_misses")
	if misses == nil {
		t.Fatal("cache misses metric not found")
	}
}

func TestAuditDroppedAndEndpointNotificationsDropped(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAuditDropped(ctx)
	m.RecordAuditDropped(ctx)
	m.RecordEndpointNotificationDropped(ctx, "ws://agent.example/session")

	rm := collect(t, reader)

	audit := findMetric(rm, "aggproxy.audit.dropped")
	if audit == nil {
		t.Fatal("audit dropped metric not found")
	}
	sum, ok := audit.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("unexpected audit dropped count: %+v", sum)
	}

	endpoint := findMetric(rm, "aggproxy.endpoint.notifications_dropped")
	if endpoint == nil {
		t.Fatal("endpoint notifications dropped metric not found")
	}
}

func TestAttrHelper(t *testing.T) {
	kv := Attr("tool", "files__read")
	if kv.Key != attribute.Key("tool") || kv.Value.AsString() != "files__read" {
		t.Errorf("unexpected attribute: %+v", kv)
	}
	_ = metric.WithAttributes(kv)
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
