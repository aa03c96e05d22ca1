// Package config defines the configuration snapshot the core consumes
// (spec §6). Watching a config file for changes and migrating older
// formats are explicitly out of scope (spec §1) — this package defines
// the shape, validates it, computes a diff between two snapshots for
// Service Manager's Reload, and offers FromYAML/LoadYAMLFile as a
// convenience for tests and the demonstration cmd/ entrypoint, which
// otherwise would need to hand-build a Config literal to boot.
package config

import "github.com/relaymcp/aggproxy/internal/mcperr"

// Transport selects the wire flavor for a downstream service (spec §3).
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
	TransportSSE            Transport = "sse"
	TransportModelScopeSSE  Transport = "modelscope-sse"
)

// IsValid reports whether t is a recognised transport kind.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP, TransportSSE, TransportModelScopeSSE:
		return true
	default:
		return false
	}
}

// InferTransport applies the inference rule from spec §3: a path ending
// in "/sse" is sse; a path ending in "/mcp" or anything else is
// streamable-http. ModelScope URLs are detected separately by the
// caller, since the rule only distinguishes sse vs streamable-http.
func InferTransport(url string) Transport {
	if hasSuffix(url, "/sse") {
		return TransportSSE
	}
	return TransportStreamableHTTP
}

// modelScopeHost is the hostname that requires bearer credentials and the
// modelscope-sse variant (spec §3).
const modelScopeHost = "mcp.api-inference.modelscope.net"

// IsModelScopeURL reports whether url targets the ModelScope inference
// host and therefore requires the modelscope-sse transport and bearer
// credentials.
func IsModelScopeURL(url string) bool {
	return contains(url, modelScopeHost)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Config is the resolved configuration snapshot the core consumes.
type Config struct {
	// MCPEndpoints lists the upstream agent WebSocket URLs to maintain
	// sessions with (spec §6). A single string in the source format is
	// normalized to a one-element slice by the caller before reaching
	// this type.
	MCPEndpoints []string

	// MCPServers declares the downstream tool-providing services, keyed
	// by unique service name.
	MCPServers map[string]ServiceConfig

	// MCPServerConfig holds the per-service, per-tool enable/description
	// overrides (spec §6: mcpServerConfig).
	MCPServerConfig map[string]ServerToolOverrides

	// CustomMCPTools declares the synthetic workflow-backed tools.
	CustomMCPTools []CustomMCPTool

	// PlatformCoze holds the credentials for the workflow platform.
	PlatformCoze CozeConfig

	// ModelScopeAPIKey is the process-global fallback bearer credential
	// for modelscope-sse services that don't set their own apiKey
	// (spec §3's three-level credential resolution).
	ModelScopeAPIKey string

	// Connection holds endpoint-session tuning knobs.
	Connection ConnectionConfig
}

// ServerToolOverrides is the per-service map of per-tool overrides.
type ServerToolOverrides struct {
	Tools map[string]ToolOverride
}

// ToolOverride carries the administrative enable flag and an optional
// description override for one tool of one service.
type ToolOverride struct {
	Enable      *bool // nil means "use the service's own default" (enabled)
	Description string
}

// Enabled reports whether the tool should be exposed, defaulting to true
// when no override is present.
func (o ToolOverride) Enabled() bool {
	return o.Enable == nil || *o.Enable
}

// ServiceConfig declares one downstream service (spec §3).
type ServiceConfig struct {
	Name      string
	Transport Transport

	// Stdio transport fields.
	Command string
	Args    []string
	Env     map[string]string

	// HTTP/SSE transport fields.
	URL     string
	Headers map[string]string
	APIKey  string

	// Reconnect overrides the default backoff policy for this service
	// (spec §4.2). Zero values mean "use the package defaults".
	Reconnect ReconnectPolicy
}

// ReconnectPolicy tunes a Service's or Endpoint Session's exponential
// backoff (spec §4.2, §4.6).
type ReconnectPolicy struct {
	InitialBackoffMS int
	Multiplier       float64
	MaxBackoffMS     int
	MaxAttempts      int
}

// CustomMCPTool declares one synthetic workflow-backed tool (spec §4.5).
type CustomMCPTool struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON Schema object

	HandlerType     string // must be "proxy"
	HandlerPlatform string // must be "coze"
	WorkflowID      string

	// DeadlineMS overrides the default 8000ms wall-clock budget.
	DeadlineMS int
	// StallThresholdMS overrides the default 10-minute pending-age stall.
	StallThresholdMS int
}

// CozeConfig holds credentials for the workflow platform (spec §6).
type CozeConfig struct {
	Token   string
	BaseURL string // defaults to "https://api.coze.com" when empty
}

// Region constants accepted in CozeConfig.BaseURL (spec §6).
const (
	CozeBaseURLCN  = "https://api.coze.cn"
	CozeBaseURLCOM = "https://api.coze.com"
)

// ResolvedBaseURL returns BaseURL or the default region.
func (c CozeConfig) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return CozeBaseURLCOM
}

// ConnectionConfig tunes endpoint-session heartbeat/reconnect behavior.
type ConnectionConfig struct {
	HeartbeatIntervalMS int
	HeartbeatTimeoutMS  int
	ReconnectIntervalMS int
}

// validServiceName matches spec §3's [A-Za-z0-9_-] requirement.
func validServiceName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// toolNamePrefix is the separator used to build native flat tool names
// (spec §3): "<service>__<original>".
const toolNamePrefix = "__"

// FlatToolName builds the namespaced name for a native tool.
func FlatToolName(service, original string) string {
	return service + toolNamePrefix + original
}

// Validate checks a Config for internal consistency, returning a joined
// error listing every problem found (mirrors the teacher's Validate,
// spec §3/§4.3's "validated at configuration load").
func Validate(cfg *Config) error {
	var errs []error

	if len(cfg.MCPEndpoints) == 0 {
		errs = append(errs, mcperr.ConfigError("mcpEndpoint: at least one upstream endpoint URL is required"))
	}

	for name, svc := range cfg.MCPServers {
		if !validServiceName(name) {
			errs = append(errs, mcperr.ConfigError("mcpServers: invalid service name "+quote(name)))
			continue
		}
		if svc.Name != "" && svc.Name != name {
			errs = append(errs, mcperr.ConfigError("mcpServers."+name+": config.Name does not match map key"))
		}
		if err := validateServiceConfig(name, svc); err != nil {
			errs = append(errs, err)
		}
	}

	seenCustomNames := make(map[string]bool, len(cfg.CustomMCPTools))
	for _, t := range cfg.CustomMCPTools {
		if t.Name == "" {
			errs = append(errs, mcperr.ConfigError("customMCP.tools: tool name must not be empty"))
			continue
		}
		if seenCustomNames[t.Name] {
			errs = append(errs, mcperr.ConfigError("customMCP.tools: duplicate tool name "+quote(t.Name)))
		}
		seenCustomNames[t.Name] = true
		// Collision with the native-tool namespacing convention (spec §4.3:
		// "CustomMCP tool names are validated at configuration load to not
		// collide with any synthetic prefix").
		for svcName := range cfg.MCPServers {
			if hasPrefix(t.Name, svcName+toolNamePrefix) {
				errs = append(errs, mcperr.ConfigError(
					"customMCP.tools: tool name "+quote(t.Name)+" collides with the native-tool namespace of service "+quote(svcName)))
			}
		}
		if t.HandlerType != "proxy" {
			errs = append(errs, mcperr.ConfigError("customMCP.tools."+t.Name+": handler.type must be \"proxy\""))
		}
		if t.HandlerPlatform != "coze" {
			errs = append(errs, mcperr.ConfigError("customMCP.tools."+t.Name+": handler.platform must be \"coze\""))
		}
		if t.WorkflowID == "" {
			errs = append(errs, mcperr.ConfigError("customMCP.tools."+t.Name+": workflow_id must not be empty"))
		}
	}

	return joinErrors(errs)
}

func validateServiceConfig(name string, svc ServiceConfig) error {
	transport := svc.Transport
	if transport == "" {
		if svc.URL == "" {
			return mcperr.ConfigError("mcpServers." + name + ": transport could not be inferred without a url")
		}
		transport = InferTransport(svc.URL)
		if IsModelScopeURL(svc.URL) {
			transport = TransportModelScopeSSE
		}
	}
	if !transport.IsValid() {
		return mcperr.ConfigError("mcpServers." + name + ": unknown transport " + quote(string(transport)))
	}
	switch transport {
	case TransportStdio:
		if svc.Command == "" {
			return mcperr.ConfigError("mcpServers." + name + ": stdio transport requires command")
		}
	case TransportStreamableHTTP, TransportSSE:
		if svc.URL == "" {
			return mcperr.ConfigError("mcpServers." + name + ": " + string(transport) + " transport requires url")
		}
	case TransportModelScopeSSE:
		if svc.URL == "" {
			return mcperr.ConfigError("mcpServers." + name + ": modelscope-sse transport requires url")
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func quote(s string) string { return "\"" + s + "\"" }

// joinErrors mirrors errors.Join's message-concatenation behavior without
// pulling in the "errors" package just for this, keeping this file's only
// import mcperr.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return multiError(errs)
}

type multiError []error

func (m multiError) Error() string {
	s := ""
	for i, e := range m {
		if i > 0 {
			s += "; "
		}
		s += e.Error()
	}
	return s
}

func (m multiError) Unwrap() []error { return m }
