package config_test

import (
	"testing"

	"github.com/relaymcp/aggproxy/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		MCPServers: map[string]config.ServiceConfig{
			"files": {Transport: config.TransportStdio, Command: "mcp-server-files"},
		},
		CustomMCPTools: []config.CustomMCPTool{
			{Name: "summarize", HandlerType: "proxy", HandlerPlatform: "coze", WorkflowID: "wf1"},
		},
	}
}

func TestDiffNoChange(t *testing.T) {
	old := baseConfig()
	newCfg := baseConfig()
	d := config.Diff(old, newCfg)
	if d.ServicesChanged || d.CustomMCPToolsChanged {
		t.Fatalf("expected no changes, got %+v", d)
	}
}

func TestDiffServiceAdded(t *testing.T) {
	old := baseConfig()
	newCfg := baseConfig()
	newCfg.MCPServers["weather"] = config.ServiceConfig{
		Transport: config.TransportStreamableHTTP,
		URL:       "https://weather.example.com/mcp",
	}
	d := config.Diff(old, newCfg)
	if !d.ServicesChanged {
		t.Fatal("expected ServicesChanged")
	}
	found := false
	for _, c := range d.ServiceChanges {
		if c.Name == "weather" && c.Added {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected weather to be reported as added, got %+v", d.ServiceChanges)
	}
}

func TestDiffServiceRemoved(t *testing.T) {
	old := baseConfig()
	newCfg := baseConfig()
	delete(newCfg.MCPServers, "files")
	d := config.Diff(old, newCfg)
	if !d.ServicesChanged {
		t.Fatal("expected ServicesChanged")
	}
	if len(d.ServiceChanges) != 1 || !d.ServiceChanges[0].Removed {
		t.Fatalf("expected files to be reported as removed, got %+v", d.ServiceChanges)
	}
}

func TestDiffServiceReconfigured(t *testing.T) {
	old := baseConfig()
	newCfg := baseConfig()
	svc := newCfg.MCPServers["files"]
	svc.Command = "mcp-server-files-v2"
	newCfg.MCPServers["files"] = svc
	d := config.Diff(old, newCfg)
	if !d.ServicesChanged {
		t.Fatal("expected ServicesChanged")
	}
	if len(d.ServiceChanges) != 1 || !d.ServiceChanges[0].Reconfigured {
		t.Fatalf("expected files to be reported as reconfigured, got %+v", d.ServiceChanges)
	}
}

func TestDiffCustomMCPToolAdded(t *testing.T) {
	old := baseConfig()
	newCfg := baseConfig()
	newCfg.CustomMCPTools = append(newCfg.CustomMCPTools, config.CustomMCPTool{
		Name: "translate", HandlerType: "proxy", HandlerPlatform: "coze", WorkflowID: "wf2",
	})
	d := config.Diff(old, newCfg)
	if !d.CustomMCPToolsChanged {
		t.Fatal("expected CustomMCPToolsChanged")
	}
}

func TestDiffCustomMCPToolReconfigured(t *testing.T) {
	old := baseConfig()
	newCfg := baseConfig()
	tool := newCfg.CustomMCPTools[0]
	tool.WorkflowID = "wf-new"
	newCfg.CustomMCPTools[0] = tool
	d := config.Diff(old, newCfg)
	if !d.CustomMCPToolsChanged {
		t.Fatal("expected CustomMCPToolsChanged")
	}
	if !d.CustomMCPToolChanges[0].Reconfigured {
		t.Fatalf("expected reconfigured, got %+v", d.CustomMCPToolChanges)
	}
}
