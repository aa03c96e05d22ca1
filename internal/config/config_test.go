package config_test

import (
	"testing"

	"github.com/relaymcp/aggproxy/internal/config"
)

func TestInferTransport(t *testing.T) {
	cases := map[string]config.Transport{
		"https://example.com/mcp":     config.TransportStreamableHTTP,
		"https://example.com/sse":     config.TransportSSE,
		"https://example.com/v1/sse":  config.TransportSSE,
		"https://example.com/unknown": config.TransportStreamableHTTP,
	}
	for url, want := range cases {
		if got := config.InferTransport(url); got != want {
			t.Errorf("InferTransport(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestIsModelScopeURL(t *testing.T) {
	if !config.IsModelScopeURL("https://mcp.api-inference.modelscope.net/foo/sse") {
		t.Fatal("expected modelscope host to be detected")
	}
	if config.IsModelScopeURL("https://example.com/sse") {
		t.Fatal("did not expect modelscope detection for unrelated host")
	}
}

func TestValidateRequiresEndpoint(t *testing.T) {
	cfg := &config.Config{}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestValidateServiceNameCharset(t *testing.T) {
	cfg := &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		MCPServers: map[string]config.ServiceConfig{
			"bad name": {Transport: config.TransportStdio, Command: "echo"},
		},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for invalid service name")
	}
}

func TestValidateStdioRequiresCommand(t *testing.T) {
	cfg := &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		MCPServers: map[string]config.ServiceConfig{
			"files": {Transport: config.TransportStdio},
		},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestValidateHTTPRequiresURL(t *testing.T) {
	cfg := &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		MCPServers: map[string]config.ServiceConfig{
			"weather": {Transport: config.TransportStreamableHTTP},
		},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestValidateCustomMCPDuplicateName(t *testing.T) {
	cfg := &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		CustomMCPTools: []config.CustomMCPTool{
			{Name: "summarize", HandlerType: "proxy", HandlerPlatform: "coze", WorkflowID: "wf1"},
			{Name: "summarize", HandlerType: "proxy", HandlerPlatform: "coze", WorkflowID: "wf2"},
		},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate custom tool name")
	}
}

func TestValidateCustomMCPNamespaceCollision(t *testing.T) {
	cfg := &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		MCPServers: map[string]config.ServiceConfig{
			"files": {Transport: config.TransportStdio, Command: "echo"},
		},
		CustomMCPTools: []config.CustomMCPTool{
			{Name: "files__read", HandlerType: "proxy", HandlerPlatform: "coze", WorkflowID: "wf1"},
		},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for namespace collision")
	}
}

func TestValidateCustomMCPHandlerFields(t *testing.T) {
	cfg := &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		CustomMCPTools: []config.CustomMCPTool{
			{Name: "summarize", HandlerType: "direct", HandlerPlatform: "coze", WorkflowID: "wf1"},
		},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for wrong handler type")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &config.Config{
		MCPEndpoints: []string{"ws://localhost:9000/agent"},
		MCPServers: map[string]config.ServiceConfig{
			"files": {Transport: config.TransportStdio, Command: "mcp-server-files"},
			"weather": {
				Transport: config.TransportStreamableHTTP,
				URL:       "https://weather.example.com/mcp",
			},
		},
		CustomMCPTools: []config.CustomMCPTool{
			{Name: "summarize", HandlerType: "proxy", HandlerPlatform: "coze", WorkflowID: "wf1"},
		},
		PlatformCoze: config.CozeConfig{Token: "tok"},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFlatToolName(t *testing.T) {
	if got := config.FlatToolName("files", "read"); got != "files__read" {
		t.Fatalf("got %q", got)
	}
}

func TestToolOverrideEnabled(t *testing.T) {
	var o config.ToolOverride
	if !o.Enabled() {
		t.Fatal("nil Enable should default to true")
	}
	f := false
	o.Enable = &f
	if o.Enabled() {
		t.Fatal("explicit false should disable")
	}
}
