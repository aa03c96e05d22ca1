package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/mcperr"
	"github.com/relaymcp/aggproxy/internal/registry"
	"github.com/relaymcp/aggproxy/internal/tooldesc"
)

func descriptor(service, name string) tooldesc.Descriptor {
	return tooldesc.NewDescriptor(config.FlatToolName(service, name), "desc", json.RawMessage(`{}`), service, name, "hash")
}

func TestLookupNotFound(t *testing.T) {
	r := registry.New()
	if _, err := r.Lookup("missing"); err == nil {
		t.Fatal("expected ToolNotFound")
	} else if kind, ok := mcperr.As(err); !ok || kind != mcperr.KindToolNotFound {
		t.Fatalf("expected ToolNotFound kind, got %v", err)
	}
}

func TestReplaceServiceAndLookup(t *testing.T) {
	r := registry.New()
	r.ReplaceService("files", []tooldesc.Descriptor{descriptor("files", "read")})
	d, err := r.Lookup("files__read")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if d.OriginalName != "read" {
		t.Fatalf("got %+v", d)
	}
}

func TestReplaceServiceRemovesStaleTools(t *testing.T) {
	r := registry.New()
	r.ReplaceService("files", []tooldesc.Descriptor{descriptor("files", "read"), descriptor("files", "write")})
	r.ReplaceService("files", []tooldesc.Descriptor{descriptor("files", "read")})
	if _, err := r.Lookup("files__write"); err == nil {
		t.Fatal("expected files__write to be removed")
	}
	if _, err := r.Lookup("files__read"); err != nil {
		t.Fatalf("expected files__read to remain: %v", err)
	}
}

func TestApplyOverridesDisablesTool(t *testing.T) {
	r := registry.New()
	r.ReplaceService("files", []tooldesc.Descriptor{descriptor("files", "delete")})
	disable := false
	r.ApplyOverrides(map[string]config.ServerToolOverrides{
		"files": {Tools: map[string]config.ToolOverride{"delete": {Enable: &disable}}},
	})
	if _, err := r.Lookup("files__delete"); err == nil {
		t.Fatal("expected ToolDisabled")
	} else if kind, ok := mcperr.As(err); !ok || kind != mcperr.KindToolDisabled {
		t.Fatalf("expected ToolDisabled kind, got %v", err)
	}
}

func TestApplyOverridesDescription(t *testing.T) {
	r := registry.New()
	r.ApplyOverrides(map[string]config.ServerToolOverrides{
		"files": {Tools: map[string]config.ToolOverride{"read": {Description: "custom"}}},
	})
	r.ReplaceService("files", []tooldesc.Descriptor{descriptor("files", "read")})
	d, err := r.Lookup("files__read")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if d.Description != "custom" {
		t.Fatalf("expected overridden description, got %q", d.Description)
	}
}

func TestListIsSortedAndExcludesDisabled(t *testing.T) {
	r := registry.New()
	disable := false
	r.ApplyOverrides(map[string]config.ServerToolOverrides{
		"files": {Tools: map[string]config.ToolOverride{"zeta": {Enable: &disable}}},
	})
	r.ReplaceService("files", []tooldesc.Descriptor{
		descriptor("files", "zeta"),
		descriptor("files", "alpha"),
		descriptor("files", "mu"),
	})
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 enabled tools, got %d", len(list))
	}
	if list[0].Name != "files__alpha" || list[1].Name != "files__mu" {
		t.Fatalf("expected sorted order, got %v, %v", list[0].Name, list[1].Name)
	}
}

func TestPutCustomMCPTool(t *testing.T) {
	r := registry.New()
	r.PutCustomMCPTool(tooldesc.NewDescriptor("summarize", "", json.RawMessage(`{}`), tooldesc.CustomMCPServiceName, "summarize", "h"))
	d, err := r.Lookup("summarize")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if d.OwnerServiceName != tooldesc.CustomMCPServiceName {
		t.Fatalf("got %+v", d)
	}
}
