package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestIDRoundTrip(t *testing.T) {
	id := NewIntID(42)
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "42" {
		t.Fatalf("want 42, got %s", b)
	}

	var got ID
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Equal(id) {
		t.Fatalf("round trip mismatch: %s != %s", got, id)
	}
}

func TestEnvelopeClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want FrameKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, FrameRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, FrameNotification},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, FrameResponse},
		{"error-response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, FrameResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tc.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := env.Classify(); got != tc.want {
				t.Fatalf("classify(%s) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseEnvelopeInvalidJSON(t *testing.T) {
	if _, err := ParseEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestNewErrorResponseCarriesKind(t *testing.T) {
	resp := NewErrorResponse(NewIntID(7), CodeInvalidParams, "tool disabled", ErrorData{Kind: "ToolDisabled"})
	if resp.Error == nil {
		t.Fatal("expected error object")
	}
	var data ErrorData
	if err := json.Unmarshal(resp.Error.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Kind != "ToolDisabled" {
		t.Fatalf("want kind ToolDisabled, got %s", data.Kind)
	}
}
