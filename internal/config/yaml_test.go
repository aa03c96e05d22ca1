package config_test

import (
	"strings"
	"testing"

	"github.com/relaymcp/aggproxy/internal/config"
)

func TestFromYAMLScalarEndpoint(t *testing.T) {
	doc := `
mcpEndpoint: ws://agent.example/session
mcpServers:
  files:
    transport: stdio
    command: mcp-server-files
`
	cfg, err := config.FromYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if len(cfg.MCPEndpoints) != 1 || cfg.MCPEndpoints[0] != "ws://agent.example/session" {
		t.Fatalf("unexpected endpoints: %+v", cfg.MCPEndpoints)
	}
	svc, ok := cfg.MCPServers["files"]
	if !ok {
		t.Fatal("missing files service")
	}
	if svc.Transport != config.TransportStdio || svc.Command != "mcp-server-files" {
		t.Fatalf("unexpected service: %+v", svc)
	}
}

func TestFromYAMLListEndpoint(t *testing.T) {
	doc := `
mcpEndpoint:
  - ws://agent-a.example/session
  - ws://agent-b.example/session
mcpServers:
  weather:
    url: https://weather.example.com/mcp
`
	cfg, err := config.FromYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if len(cfg.MCPEndpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %+v", cfg.MCPEndpoints)
	}
}

func TestFromYAMLCustomMCPToolHandlerAndSchema(t *testing.T) {
	doc := `
mcpEndpoint: ws://agent.example/session
customMCP:
  tools:
    - name: summarize
      description: summarizes text via a Coze workflow
      inputSchema:
        type: object
        properties:
          text:
            type: string
        required: [text]
      handler:
        type: proxy
        platform: coze
      workflow_id: "wf-123"
platforms:
  coze:
    token: secret-token
`
	cfg, err := config.FromYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if len(cfg.CustomMCPTools) != 1 {
		t.Fatalf("expected 1 custom tool, got %d", len(cfg.CustomMCPTools))
	}
	tool := cfg.CustomMCPTools[0]
	if tool.HandlerType != "proxy" || tool.HandlerPlatform != "coze" {
		t.Fatalf("handler not decoded: %+v", tool)
	}
	if tool.WorkflowID != "wf-123" {
		t.Fatalf("workflow_id not decoded: %+v", tool)
	}
	if !strings.Contains(string(tool.InputSchema), `"type":"object"`) {
		t.Fatalf("inputSchema not converted to JSON: %s", tool.InputSchema)
	}
	if cfg.PlatformCoze.Token != "secret-token" {
		t.Fatalf("coze token not decoded: %+v", cfg.PlatformCoze)
	}
}

func TestFromYAMLServerToolOverrides(t *testing.T) {
	doc := `
mcpEndpoint: ws://agent.example/session
mcpServers:
  files:
    transport: stdio
    command: mcp-server-files
mcpServerConfig:
  files:
    tools:
      delete:
        enable: false
      read:
        description: reads a file from disk
`
	cfg, err := config.FromYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	overrides, ok := cfg.MCPServerConfig["files"]
	if !ok {
		t.Fatal("missing files overrides")
	}
	del, ok := overrides.Tools["delete"]
	if !ok || del.Enabled() {
		t.Fatalf("delete override not decoded as disabled: %+v", del)
	}
	read, ok := overrides.Tools["read"]
	if !ok || read.Description != "reads a file from disk" {
		t.Fatalf("read override not decoded: %+v", read)
	}
}

func TestFromYAMLRejectsUnknownFields(t *testing.T) {
	doc := `
mcpEndpoint: ws://agent.example/session
typo: true
`
	if _, err := config.FromYAML(strings.NewReader(doc)); err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestFromYAMLPropagatesValidationErrors(t *testing.T) {
	doc := `mcpServers: {}`
	if _, err := config.FromYAML(strings.NewReader(doc)); err == nil {
		t.Fatal("expected validation error for missing mcpEndpoint")
	}
}

func TestLoadYAMLFileMissingFile(t *testing.T) {
	if _, err := config.LoadYAMLFile("/nonexistent/aggproxy-config.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
