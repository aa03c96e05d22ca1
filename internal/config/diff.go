package config

import "reflect"

// ConfigDiff describes what changed between two configuration snapshots,
// for Service Manager's Reload (spec §4.4: "reload recomputes the
// service set and starts/stops/reconfigures only what changed").
type ConfigDiff struct {
	ServicesChanged bool
	ServiceChanges  []ServiceDiff

	CustomMCPToolsChanged bool
	CustomMCPToolChanges  []CustomMCPToolDiff
}

// ServiceDiff describes what changed for a single downstream service
// between two configs.
type ServiceDiff struct {
	Name          string
	Added         bool
	Removed       bool
	Reconfigured  bool // same name, different connection parameters
}

// CustomMCPToolDiff describes what changed for a single synthetic tool.
type CustomMCPToolDiff struct {
	Name         string
	Added        bool
	Removed      bool
	Reconfigured bool
}

// Diff compares old and new configuration snapshots and reports which
// services and CustomMCP tools were added, removed, or reconfigured.
// Reconfigured services must be stopped and restarted by the caller
// (Service Manager never mutates a live Service's connection parameters
// in place); added/removed drive the corresponding Start/Stop calls.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	oldSvcs := old.MCPServers
	newSvcs := new.MCPServers

	for name, oldSvc := range oldSvcs {
		newSvc, exists := newSvcs[name]
		if !exists {
			d.ServiceChanges = append(d.ServiceChanges, ServiceDiff{Name: name, Removed: true})
			d.ServicesChanged = true
			continue
		}
		if !reflect.DeepEqual(oldSvc, newSvc) {
			d.ServiceChanges = append(d.ServiceChanges, ServiceDiff{Name: name, Reconfigured: true})
			d.ServicesChanged = true
		}
	}
	for name := range newSvcs {
		if _, exists := oldSvcs[name]; !exists {
			d.ServiceChanges = append(d.ServiceChanges, ServiceDiff{Name: name, Added: true})
			d.ServicesChanged = true
		}
	}

	oldTools := make(map[string]CustomMCPTool, len(old.CustomMCPTools))
	for _, t := range old.CustomMCPTools {
		oldTools[t.Name] = t
	}
	newTools := make(map[string]CustomMCPTool, len(new.CustomMCPTools))
	for _, t := range new.CustomMCPTools {
		newTools[t.Name] = t
	}
	for name, oldTool := range oldTools {
		newTool, exists := newTools[name]
		if !exists {
			d.CustomMCPToolChanges = append(d.CustomMCPToolChanges, CustomMCPToolDiff{Name: name, Removed: true})
			d.CustomMCPToolsChanged = true
			continue
		}
		if !reflect.DeepEqual(oldTool, newTool) {
			d.CustomMCPToolChanges = append(d.CustomMCPToolChanges, CustomMCPToolDiff{Name: name, Reconfigured: true})
			d.CustomMCPToolsChanged = true
		}
	}
	for name := range newTools {
		if _, exists := oldTools[name]; !exists {
			d.CustomMCPToolChanges = append(d.CustomMCPToolChanges, CustomMCPToolDiff{Name: name, Added: true})
			d.CustomMCPToolsChanged = true
		}
	}

	return d
}
