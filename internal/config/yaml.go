package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// stringOrSlice decodes mcpEndpoint's "string | [string]" wire shape
// (spec §6) into a normalized []string.
type stringOrSlice []string

func (s *stringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = []string{value.Value}
		return nil
	}
	var out []string
	if err := value.Decode(&out); err != nil {
		return fmt.Errorf("config: mcpEndpoint must be a string or a list of strings: %w", err)
	}
	*s = out
	return nil
}

type yamlReconnectPolicy struct {
	InitialBackoffMS int     `yaml:"initialBackoffMs,omitempty"`
	Multiplier       float64 `yaml:"multiplier,omitempty"`
	MaxBackoffMS     int     `yaml:"maxBackoffMs,omitempty"`
	MaxAttempts      int     `yaml:"maxAttempts,omitempty"`
}

type yamlServiceConfig struct {
	Name      string              `yaml:"name,omitempty"`
	Transport string              `yaml:"transport,omitempty"`
	Command   string              `yaml:"command,omitempty"`
	Args      []string            `yaml:"args,omitempty"`
	Env       map[string]string   `yaml:"env,omitempty"`
	URL       string              `yaml:"url,omitempty"`
	Headers   map[string]string   `yaml:"headers,omitempty"`
	APIKey    string              `yaml:"apiKey,omitempty"`
	Reconnect yamlReconnectPolicy `yaml:"reconnect,omitempty"`
}

type yamlToolOverride struct {
	Enable      *bool  `yaml:"enable,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type yamlServerToolOverrides struct {
	Tools map[string]yamlToolOverride `yaml:"tools,omitempty"`
}

type yamlCustomMCPHandler struct {
	Type     string `yaml:"type"`
	Platform string `yaml:"platform"`
}

type yamlCustomMCPTool struct {
	Name             string               `yaml:"name"`
	Description      string               `yaml:"description,omitempty"`
	InputSchema      yaml.Node            `yaml:"inputSchema,omitempty"`
	Handler          yamlCustomMCPHandler `yaml:"handler"`
	WorkflowID       string               `yaml:"workflow_id"`
	DeadlineMS       int                  `yaml:"deadline_ms,omitempty"`
	StallThresholdMS int                  `yaml:"stall_threshold_ms,omitempty"`
}

type yamlCustomMCP struct {
	Tools []yamlCustomMCPTool `yaml:"tools,omitempty"`
}

type yamlCozeConfig struct {
	Token   string `yaml:"token,omitempty"`
	BaseURL string `yaml:"baseURL,omitempty"`
}

type yamlPlatforms struct {
	Coze yamlCozeConfig `yaml:"coze,omitempty"`
}

type yamlModelScope struct {
	APIKey string `yaml:"apiKey,omitempty"`
}

type yamlConnection struct {
	HeartbeatIntervalMS int `yaml:"heartbeatInterval,omitempty"`
	HeartbeatTimeoutMS  int `yaml:"heartbeatTimeout,omitempty"`
	ReconnectIntervalMS int `yaml:"reconnectInterval,omitempty"`
}

// yamlDocument mirrors spec §6's wire shape exactly; Config itself carries
// no yaml tags since it is also built directly in-process (tests, the
// Service Manager's Reload path) where the wire field naming is noise.
type yamlDocument struct {
	MCPEndpoint     stringOrSlice                      `yaml:"mcpEndpoint"`
	MCPServers      map[string]yamlServiceConfig       `yaml:"mcpServers,omitempty"`
	MCPServerConfig map[string]yamlServerToolOverrides `yaml:"mcpServerConfig,omitempty"`
	CustomMCP       yamlCustomMCP                      `yaml:"customMCP,omitempty"`
	Platforms       yamlPlatforms                      `yaml:"platforms,omitempty"`
	ModelScope      yamlModelScope                     `yaml:"modelscope,omitempty"`
	Connection      yamlConnection                     `yaml:"connection,omitempty"`
}

// FromYAML decodes a YAML document in spec §6's wire shape into a
// validated Config, the way the teacher's LoadFromReader does for its own
// config format. Test/demo convenience only: the core never loads or
// watches configuration itself (package doc comment).
func FromYAML(r io.Reader) (*Config, error) {
	var doc yamlDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg, err := doc.toConfig()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAMLFile opens path and decodes it via FromYAML, mirroring the
// teacher's file-path convenience wrapper around its reader-based loader.
func LoadYAMLFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	cfg, err := FromYAML(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func (d yamlDocument) toConfig() (*Config, error) {
	cfg := &Config{
		MCPEndpoints:     []string(d.MCPEndpoint),
		ModelScopeAPIKey: d.ModelScope.APIKey,
		PlatformCoze: CozeConfig{
			Token:   d.Platforms.Coze.Token,
			BaseURL: d.Platforms.Coze.BaseURL,
		},
		Connection: ConnectionConfig{
			HeartbeatIntervalMS: d.Connection.HeartbeatIntervalMS,
			HeartbeatTimeoutMS:  d.Connection.HeartbeatTimeoutMS,
			ReconnectIntervalMS: d.Connection.ReconnectIntervalMS,
		},
	}

	if len(d.MCPServers) > 0 {
		cfg.MCPServers = make(map[string]ServiceConfig, len(d.MCPServers))
		for name, s := range d.MCPServers {
			svcName := s.Name
			if svcName == "" {
				svcName = name
			}
			cfg.MCPServers[name] = ServiceConfig{
				Name:      svcName,
				Transport: Transport(s.Transport),
				Command:   s.Command,
				Args:      s.Args,
				Env:       s.Env,
				URL:       s.URL,
				Headers:   s.Headers,
				APIKey:    s.APIKey,
				Reconnect: ReconnectPolicy{
					InitialBackoffMS: s.Reconnect.InitialBackoffMS,
					Multiplier:       s.Reconnect.Multiplier,
					MaxBackoffMS:     s.Reconnect.MaxBackoffMS,
					MaxAttempts:      s.Reconnect.MaxAttempts,
				},
			}
		}
	}

	if len(d.MCPServerConfig) > 0 {
		cfg.MCPServerConfig = make(map[string]ServerToolOverrides, len(d.MCPServerConfig))
		for name, o := range d.MCPServerConfig {
			tools := make(map[string]ToolOverride, len(o.Tools))
			for toolName, t := range o.Tools {
				tools[toolName] = ToolOverride{Enable: t.Enable, Description: t.Description}
			}
			cfg.MCPServerConfig[name] = ServerToolOverrides{Tools: tools}
		}
	}

	for _, t := range d.CustomMCP.Tools {
		schema, err := schemaNodeToJSON(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("config: customMCP.tools.%s: inputSchema: %w", t.Name, err)
		}
		cfg.CustomMCPTools = append(cfg.CustomMCPTools, CustomMCPTool{
			Name:             t.Name,
			Description:      t.Description,
			InputSchema:      schema,
			HandlerType:      t.Handler.Type,
			HandlerPlatform:  t.Handler.Platform,
			WorkflowID:       t.WorkflowID,
			DeadlineMS:       t.DeadlineMS,
			StallThresholdMS: t.StallThresholdMS,
		})
	}

	return cfg, nil
}

// schemaNodeToJSON converts a YAML-decoded inputSchema node into the raw
// JSON Schema bytes CustomMCPTool.InputSchema expects, since the config
// snapshot is wire-format-agnostic but the tool descriptor advertises
// JSON Schema over the MCP wire regardless of how it was authored.
func schemaNodeToJSON(node yaml.Node) ([]byte, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	var generic any
	if err := node.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
