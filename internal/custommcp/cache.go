package custommcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/mcpwire"
)

// taskState is the lifecycle of one cached invocation (spec §4.5).
type taskState int

const (
	taskPending taskState = iota
	taskCompleted
	taskFailed
)

// entry is one at-most-once cache slot. consumed tracks whether its
// terminal result has already been delivered to a caller: at-most-one
// delivery (spec §8) means the first caller to observe a terminal state
// gets the real result and evicts the entry, so a later call with the
// same key starts a fresh task rather than replaying it.
type entry struct {
	key        string
	state      taskState
	result     mcpwire.CallToolResult
	err        error
	startedAt  time.Time
	retryCount int
	done       chan struct{}

	consumeMu sync.Mutex
	consumed  bool
}

// cache is keyed by hash(toolName, canonicalJSON(args)) (spec §4.5). A
// second caller for the same key while the first is still pending gets
// the still-running sentinel for that entry instead of re-invoking the
// workflow.
type cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	retries map[string]int
}

func newCache() *cache {
	return &cache{entries: make(map[string]*entry), retries: make(map[string]int)}
}

// key computes the at-most-once cache key for a tool invocation. args is
// canonicalized by sorting object keys recursively before hashing, so
// semantically identical JSON with different key order collides.
func cacheKey(toolName string, args map[string]any) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(canonicalJSON(args))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON produces a deterministic JSON encoding of v by sorting
// map keys at every level, independent of encoding/json's already-sorted
// map behavior (kept explicit since v may contain json.RawMessage or
// other pre-encoded fragments from the wire).
func canonicalJSON(v any) []byte {
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		return []byte("null")
	}
	return b
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

// getOrStart returns the entry for key, creating and starting a new one
// via run if none exists. The bool return reports whether this call is
// the one responsible for executing run (true) or joined an existing
// in-flight/completed entry (false). A freshly created entry carries
// forward any retryCount accumulated by prior stalled attempts at the
// same key.
func (c *cache) getOrStart(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e, false
	}
	e := &entry{
		key:        key,
		state:      taskPending,
		startedAt:  time.Now(),
		retryCount: c.retries[key],
		done:       make(chan struct{}),
	}
	c.entries[key] = e
	return e, true
}

// evict removes key from the cache, but only if the current entry for
// it is still e — a caller racing against a newer entry (created after
// a stall eviction) must not remove that newer one.
func (c *cache) evict(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[key] == e {
		delete(c.entries, key)
	}
}

// consume marks e's terminal result as delivered, returning true only
// for the first caller to do so. Later callers (a race between two
// goroutines observing done at once) get false and must not evict the
// entry a second time.
func (e *entry) consume() bool {
	e.consumeMu.Lock()
	defer e.consumeMu.Unlock()
	if e.consumed {
		return false
	}
	e.consumed = true
	return true
}

func (e *entry) complete(result mcpwire.CallToolResult) {
	e.result = result
	e.state = taskCompleted
	close(e.done)
}

func (e *entry) fail(err error) {
	e.err = err
	e.state = taskFailed
	close(e.done)
}

// sweep removes entries older than maxAge regardless of state (spec
// §4.5's periodic sweeper, default interval 60s) and returns the number
// removed.
func (c *cache) sweep(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.startedAt) > maxAge {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// failStalled transitions every pending entry older than threshold to
// failed with TaskStalled (spec §4.5's stall detection, default 10
// minutes), increments its key's retry count, and evicts it so the next
// call with the same key starts a fresh task rather than waiting on a
// dead one forever. Returns the keys that were stalled, for logging.
func (c *cache) failStalled(threshold time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var stalled []string
	for k, e := range c.entries {
		if e.state == taskPending && now.Sub(e.startedAt) > threshold {
			c.retries[k]++
			e.fail(mcperr.TaskStalled(k))
			delete(c.entries, k)
			stalled = append(stalled, k)
		}
	}
	return stalled
}
