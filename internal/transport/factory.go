package transport

import "github.com/relaymcp/aggproxy/internal/config"

// New builds the Adapter matching cfg's declared or inferred transport
// (spec §3's resolution order: explicit transport field, then URL-suffix
// inference, then ModelScope-host override).
func New(cfg config.ServiceConfig) Adapter {
	kind := resolveKind(cfg)
	switch kind {
	case KindStdio:
		return NewStdio(StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     flattenEnv(cfg.Env),
		})
	case KindSSE:
		return NewSSE(HTTPConfig{URL: cfg.URL, Headers: cfg.Headers, APIKey: cfg.APIKey})
	case KindModelScopeSSE:
		return NewModelScopeSSE(HTTPConfig{URL: cfg.URL, Headers: cfg.Headers, APIKey: cfg.APIKey})
	default:
		return NewStreamableHTTP(HTTPConfig{URL: cfg.URL, Headers: cfg.Headers, APIKey: cfg.APIKey})
	}
}

func resolveKind(cfg config.ServiceConfig) Kind {
	if cfg.Transport != "" {
		return Kind(cfg.Transport)
	}
	if config.IsModelScopeURL(cfg.URL) {
		return KindModelScopeSSE
	}
	return Kind(config.InferTransport(cfg.URL))
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
