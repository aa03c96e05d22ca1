package custommcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/mcpwire"
	"github.com/relaymcp/aggproxy/internal/observe"
	"github.com/relaymcp/aggproxy/internal/tooldesc"
)

const (
	defaultDeadline   = 8 * time.Second
	defaultSweepEvery = 60 * time.Second
	defaultStallAfter = 10 * time.Minute
)

// stillRunningMessage renders the deadline sentinel returned while a
// workflow is still executing. It carries taskId = key so the caller can
// correlate a later poll against the same cache entry (spec §4.5 step 5).
func stillRunningMessage(key string) string {
	return fmt.Sprintf("workflow is still running; retry this call to check again (taskId = %s)", key)
}

// Handler serves tools/call for every configured CustomMCP tool. One
// Handler instance owns the at-most-once cache and the Coze client for
// the whole proxy (spec §4.5).
type Handler struct {
	client  *CozeClient
	cache   *cache
	logger  *slog.Logger
	metrics *observe.Metrics
	tools   map[string]config.CustomMCPTool

	cron *cron.Cron
}

// New builds a Handler for the configured tools, using client to run
// workflows.
func New(tools []config.CustomMCPTool, client *CozeClient, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]config.CustomMCPTool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return &Handler{
		client:  client,
		cache:   newCache(),
		logger:  logger,
		metrics: observe.DefaultMetrics(),
		tools:   byName,
	}
}

// Descriptors returns the tool descriptors to register for every
// configured CustomMCP tool (spec §4.3's unified catalog).
func (h *Handler) Descriptors() []tooldesc.Descriptor {
	out := make([]tooldesc.Descriptor, 0, len(h.tools))
	for name, t := range h.tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, tooldesc.NewDescriptor(name, t.Description, schema, tooldesc.CustomMCPServiceName, name, name))
	}
	return out
}

// StartSweeper schedules the periodic cache sweep and stall check using
// robfig/cron's "@every" syntax (spec §4.5). Call once at startup; Stop
// via the returned function.
func (h *Handler) StartSweeper() (stop func()) {
	c := cron.New()
	h.cron = c
	_, err := c.AddFunc(fmt.Sprintf("@every %s", defaultSweepEvery), func() {
		removed := h.cache.sweep(24 * time.Hour)
		if removed > 0 {
			h.logger.Info("custommcp cache sweep", "removed", removed)
		}
		for _, key := range h.cache.failStalled(defaultStallAfter) {
			h.logger.Warn("custommcp task stalled, marking failed", "key", key)
		}
	})
	if err != nil {
		h.logger.Error("failed to schedule custommcp sweeper", "error", err)
		return func() {}
	}
	c.Start()
	return c.Stop
}

// CallTool executes name with args, honoring the at-most-once cache: a
// second caller for the same (name, args) pair while the first is still
// running receives a "still running" sentinel result rather than a
// duplicate workflow invocation (spec §4.5).
func (h *Handler) CallTool(ctx context.Context, name string, args map[string]any) (mcpwire.CallToolResult, error) {
	t, ok := h.tools[name]
	if !ok {
		return mcpwire.CallToolResult{}, mcperr.ToolNotFound(name)
	}

	// A missing platform token fails the call synchronously; it does not
	// stop the tool from being advertised via Descriptors (spec §4.5).
	if !h.client.HasToken() {
		return mcpwire.CallToolResult{}, mcperr.ConfigError("platform token not set")
	}

	key := cacheKey(name, args)
	e, isOwner := h.cache.getOrStart(key)

	deadline := defaultDeadline
	if t.DeadlineMS > 0 {
		deadline = time.Duration(t.DeadlineMS) * time.Millisecond
	}

	if isOwner {
		h.metrics.RecordCustomMCPCacheMiss(ctx, name)
		go h.run(t, args, e)
	} else {
		h.metrics.RecordCustomMCPCacheHit(ctx, name)
		// A still-pending entry answers with the sentinel at once; only a
		// finished one is awaited (and consumed) below.
		select {
		case <-e.done:
		default:
			return mcpwire.TextResult(stillRunningMessage(e.key)), nil
		}
	}

	return h.awaitOrSentinel(ctx, e, deadline)
}

// run executes the workflow and resolves e. Always runs to completion
// even if the original caller's deadline already elapsed, so a later
// retry with the same cache key can observe the real result instead of
// re-running the workflow (spec §4.5: "at-most-once").
func (h *Handler) run(t config.CustomMCPTool, args map[string]any, e *entry) {
	runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	data, err := h.client.RunWorkflow(runCtx, t.WorkflowID, args)
	if err != nil {
		e.fail(err)
		return
	}
	e.complete(mcpwire.TextResult(data))
}

// awaitOrSentinel waits for e to resolve, up to an optional deadline. If
// the deadline elapses first, it returns the "still running" sentinel
// result rather than an error, per spec §4.5's deadline-bounded race
// between "the workflow finished" and "the wall-clock budget expired".
//
// The first caller to observe a terminal state consumes it: the entry is
// evicted from the cache so a later call with the same key starts a
// fresh task instead of replaying the cached result forever (at-most-one
// delivery, spec §8).
func (h *Handler) awaitOrSentinel(ctx context.Context, e *entry, deadline time.Duration) (mcpwire.CallToolResult, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-e.done:
		if e.consume() {
			h.cache.evict(e.key, e)
		}
		if e.state == taskFailed {
			return mcpwire.CallToolResult{}, e.err
		}
		return e.result, nil
	case <-timer.C:
		return mcpwire.TextResult(stillRunningMessage(e.key)), nil
	case <-ctx.Done():
		return mcpwire.CallToolResult{}, ctx.Err()
	}
}
