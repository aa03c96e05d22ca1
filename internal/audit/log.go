// Package audit implements the Tool-call Audit Log (spec §5): a
// bounded-channel, single-writer log of every tool invocation the proxy
// serves, so a slow or stalled sink (disk, remote collector) cannot
// apply backpressure to the call path itself. When the channel is full,
// the oldest queued entries are dropped and counted to make room rather
// than blocking the caller.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relaymcp/aggproxy/internal/observe"
)

// Entry is one recorded tool invocation.
type Entry struct {
	ID         string
	ToolName   string
	Service    string
	Args       map[string]any
	Success    bool
	ErrorKind  string
	DurationMS int64
	RecordedAt time.Time
}

// Log accepts entries from many goroutines and writes them out on a
// single background goroutine (spec §5: "a single writer avoids
// interleaved partial writes to the sink").
type Log struct {
	ch       chan Entry
	logger   *slog.Logger
	metrics  *observe.Metrics
	dropped  int64
	recorded int64
	done     chan struct{}
}

// New builds a Log with the given channel capacity (spec §5 default:
// 1024) and starts its writer goroutine. Call Close to stop it.
func New(capacity int, logger *slog.Logger) *Log {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		ch:      make(chan Entry, capacity),
		logger:  logger,
		metrics: observe.DefaultMetrics(),
		done:    make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

// Record appends an entry, stamping it with a fresh ID and timestamp.
// Non-blocking: if the channel is full, the oldest queued entry is dropped
// and counted to make room for this one (spec §5).
func (l *Log) Record(toolName, service string, args map[string]any, success bool, errorKind string, duration time.Duration) {
	e := Entry{
		ID:         uuid.NewString(),
		ToolName:   toolName,
		Service:    service,
		Args:       args,
		Success:    success,
		ErrorKind:  errorKind,
		DurationMS: duration.Milliseconds(),
		RecordedAt: time.Now(),
	}
	for {
		select {
		case l.ch <- e:
			return
		default:
		}
		select {
		case <-l.ch:
			atomic.AddInt64(&l.dropped, 1)
			l.metrics.RecordAuditDropped(context.Background())
		default:
		}
	}
}

// Dropped returns the number of entries dropped due to a full channel.
func (l *Log) Dropped() int64 { return atomic.LoadInt64(&l.dropped) }

// Recorded returns the number of entries successfully written.
func (l *Log) Recorded() int64 { return atomic.LoadInt64(&l.recorded) }

func (l *Log) writeLoop() {
	for {
		select {
		case e := <-l.ch:
			l.logger.Info("tool call",
				"audit_id", e.ID,
				"tool", e.ToolName,
				"service", e.Service,
				"success", e.Success,
				"error_kind", e.ErrorKind,
				"duration_ms", e.DurationMS,
			)
			atomic.AddInt64(&l.recorded, 1)
		case <-l.done:
			return
		}
	}
}

// Close stops the writer goroutine. Entries already queued but not yet
// written are discarded.
func (l *Log) Close() {
	close(l.done)
}

// Drain blocks until either every currently queued entry has been
// written or ctx is cancelled, primarily for tests that need to observe
// a deterministic Recorded() count.
func (l *Log) Drain(ctx context.Context) {
	for len(l.ch) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}
