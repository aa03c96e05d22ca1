// Package tooldesc defines ToolDescriptor, the data model shared by every
// component that produces or consumes an aggregated tool catalog
// (internal/service, internal/custommcp, internal/registry,
// internal/servicemanager) (spec §3).
package tooldesc

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// CustomMCPServiceName is the reserved owner name for synthetic CustomMCP
// tools (spec §3, §4.5).
const CustomMCPServiceName = "customMCP"

// Descriptor is a tool advertised to upstream agents.
type Descriptor struct {
	// Name is the unique flat identifier. For native tools this is
	// "<service>__<original>"; for CustomMCP tools it is the raw
	// configured name.
	Name string

	Description string
	InputSchema json.RawMessage

	// OwnerServiceName names the Service (or tooldesc.CustomMCPServiceName)
	// that handles invocations of this tool.
	OwnerServiceName string

	// OriginalName is the name as known to the owning service. Equal to
	// Name for CustomMCP tools.
	OriginalName string

	// ContentHash summarizes (name, description, inputSchema) so callers
	// can detect a no-op refresh without deep-comparing the descriptor.
	ContentHash string

	// usage is kept out of equality/copy semantics deliberately: callers
	// get a *usageCounters by pointer so increments from concurrent calls
	// are visible without the registry re-inserting the whole descriptor
	// under lock for every call.
	usage *usageCounters
}

type usageCounters struct {
	count      int64
	lastUsedNs int64
}

// NewDescriptor builds a Descriptor with a fresh, independent usage
// counter. Copies of the returned value share that counter, so a use
// recorded on a copy (such as one returned by a registry lookup) is
// visible on every other copy.
func NewDescriptor(name, description string, schema json.RawMessage, owner, original, hash string) Descriptor {
	return Descriptor{
		Name:             name,
		Description:      description,
		InputSchema:      schema,
		OwnerServiceName: owner,
		OriginalName:     original,
		ContentHash:      hash,
		usage:            &usageCounters{},
	}
}

// RecordUse increments the usage counter and stamps LastUsedAt. Safe for
// concurrent use from multiple goroutines recording calls against the same
// descriptor instance. Best-effort: if usage is nil (a zero-value
// Descriptor, which should not occur outside tests) this is a no-op rather
// than a panic, matching spec §4.3's "best-effort, does not fail the call".
func (d Descriptor) RecordUse() {
	if d.usage == nil {
		return
	}
	atomic.AddInt64(&d.usage.count, 1)
	atomic.StoreInt64(&d.usage.lastUsedNs, time.Now().UnixNano())
}

// UsageCount returns the number of times this tool has been successfully
// or unsuccessfully invoked since the descriptor was created.
func (d Descriptor) UsageCount() int64 {
	if d.usage == nil {
		return 0
	}
	return atomic.LoadInt64(&d.usage.count)
}

// LastUsedAt returns the zero Time if the tool has never been used.
func (d Descriptor) LastUsedAt() time.Time {
	if d.usage == nil {
		return time.Time{}
	}
	ns := atomic.LoadInt64(&d.usage.lastUsedNs)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
