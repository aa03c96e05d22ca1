// Package custommcp implements the CustomMCP Handler (spec §4.5): a set
// of synthetic, workflow-backed tools proxied to the Coze platform, with
// an at-most-once execution cache keyed by (toolName, canonical args)
// so a retried tools/call against a slow workflow never launches it
// twice.
//
// The Coze HTTP client follows the teacher's provider package shape
// (functional options, a thin struct wrapping an *http.Client and a
// base URL) adapted from pkg/provider/s2s/openai.Provider.
package custommcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/resilience"
)

const defaultBaseURL = config.CozeBaseURLCOM

// CozeOption is a functional option for configuring a CozeClient.
type CozeOption func(*CozeClient)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) CozeOption {
	return func(c *CozeClient) { c.http = hc }
}

// WithBreaker overrides the circuit breaker, primarily for tests.
func WithBreaker(cb *resilience.CircuitBreaker) CozeOption {
	return func(c *CozeClient) { c.breaker = cb }
}

// CozeClient runs workflows on the Coze platform (spec §4.5, §6).
type CozeClient struct {
	token   string
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// NewCozeClient builds a client for cfg's token/region, wrapped by a
// circuit breaker that protects every subsequent call against a
// misbehaving or down workflow platform.
func NewCozeClient(cfg config.CozeConfig, opts ...CozeOption) *CozeClient {
	c := &CozeClient{
		token:   cfg.Token,
		baseURL: cfg.ResolvedBaseURL(),
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "coze-workflow"}),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HasToken reports whether the client was configured with a non-empty
// platform token. The CustomMCP Handler checks this before starting a
// task so a missing token fails synchronously with ConfigError instead
// of surfacing as an AuthRequired error from the platform's 401 (spec
// §4.5).
func (c *CozeClient) HasToken() bool { return c.token != "" }

// workflowRunRequest is the Coze "run workflow" request body.
type workflowRunRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// workflowRunResponse is the relevant subset of the Coze response.
type workflowRunResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Data    string `json:"data"`
	DebugURL string `json:"debug_url,omitempty"`
}

// RunWorkflow synchronously executes workflowID with parameters and
// returns the raw "data" field, Coze's JSON-or-string workflow output.
func (c *CozeClient) RunWorkflow(ctx context.Context, workflowID string, parameters map[string]any) (string, error) {
	var out string
	err := c.breaker.Execute(func() error {
		body, err := json.Marshal(workflowRunRequest{WorkflowID: workflowID, Parameters: parameters})
		if err != nil {
			return mcperr.ProtocolError("custommcp: marshal workflow request", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/workflow/run", bytes.NewReader(body))
		if err != nil {
			return mcperr.ConnectError("custommcp: build workflow request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return mcperr.ConnectError("custommcp: workflow request failed", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcperr.ConnectError("custommcp: read workflow response", err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return mcperr.AuthRequired("custommcp: coze " + resp.Status)
		}
		if resp.StatusCode >= 500 {
			return mcperr.ConnectError("custommcp: coze server error "+resp.Status, nil)
		}

		var parsed workflowRunResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return mcperr.ProtocolError("custommcp: decode workflow response", err)
		}
		if parsed.Code != 0 {
			return mcperr.RemoteError(int64(parsed.Code), parsed.Msg)
		}
		out = parsed.Data
		return nil
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen {
			return "", mcperr.ConnectError("custommcp: coze circuit open", err)
		}
		return "", err
	}
	return out, nil
}
