// Package registry implements the Tool Registry (spec §4.3): the single
// source of truth mapping flat tool names to descriptors, enforcing
// administrative enable/disable overrides from config and serving
// deterministically ordered snapshots to tools/list.
//
// Grounded on kagenti's diffTools/toolToServerTool merge-by-name pattern
// and Sentinel-Gate's sorted handleToolsList; generalized here to also
// apply per-tool config overrides and track usage via tooldesc's
// embedded atomic counters instead of a side map.
package registry

import (
	"sort"
	"sync"

	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/tooldesc"
)

// Registry holds the merged, override-applied tool catalog.
type Registry struct {
	mu                  sync.RWMutex
	byName              map[string]tooldesc.Descriptor
	disabled            map[string]bool
	overrideDescription map[string]string
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		byName:              make(map[string]tooldesc.Descriptor),
		disabled:            make(map[string]bool),
		overrideDescription: make(map[string]string),
	}
}

// ApplyOverrides loads per-service, per-tool administrative overrides
// from a configuration snapshot (spec §3's mcpServerConfig block). Call
// once at startup and again on Reload before ReplaceService.
func (r *Registry) ApplyOverrides(overrides map[string]config.ServerToolOverrides) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = make(map[string]bool)
	r.overrideDescription = make(map[string]string)
	for service, so := range overrides {
		for tool, o := range so.Tools {
			flat := config.FlatToolName(service, tool)
			if !o.Enabled() {
				r.disabled[flat] = true
			}
			if o.Description != "" {
				r.overrideDescription[flat] = o.Description
			}
		}
	}
}

// ReplaceService atomically replaces every descriptor owned by
// ownerService with tools, applying any loaded overrides. Passing an
// empty tools slice removes the service's tools entirely (used when a
// Service disconnects or is removed by Reload).
func (r *Registry) ReplaceService(ownerService string, tools []tooldesc.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, d := range r.byName {
		if d.OwnerServiceName == ownerService {
			delete(r.byName, name)
		}
	}
	for _, d := range tools {
		if desc, ok := r.overrideDescription[d.Name]; ok {
			d.Description = desc
		}
		r.byName[d.Name] = d
	}
}

// RemoveService deletes every descriptor owned by ownerService.
func (r *Registry) RemoveService(ownerService string) {
	r.ReplaceService(ownerService, nil)
}

// PutCustomMCPTool registers or replaces a single synthetic tool, owned
// by tooldesc.CustomMCPServiceName.
func (r *Registry) PutCustomMCPTool(d tooldesc.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[d.Name] = d
}

// Lookup returns the descriptor for name, or ToolNotFound /
// ToolDisabled.
func (r *Registry) Lookup(name string) (tooldesc.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return tooldesc.Descriptor{}, mcperr.ToolNotFound(name)
	}
	if r.disabled[name] {
		return tooldesc.Descriptor{}, mcperr.ToolDisabled(name)
	}
	return d, nil
}

// List returns every enabled descriptor, sorted by Name for deterministic
// tools/list responses (spec §4.3, grounded on Sentinel-Gate's sorted
// handleToolsList).
func (r *Registry) List() []tooldesc.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tooldesc.Descriptor, 0, len(r.byName))
	for name, d := range r.byName {
		if r.disabled[name] {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered (enabled or disabled) tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
