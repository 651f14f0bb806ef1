package config_test

import (
	"strings"
	"testing"

	"github.com/convoke-ai/convoke/internal/config"
	"github.com/convoke-ai/convoke/internal/remote"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
provider:
  name: siliconflow
  api_keys: "key-one, key-two"
  model: Qwen/Qwen3-8B
workspace:
  path: /tmp/ws
  enabled: true
tools:
  enable_web_search: true
  disabled_tools: [delete_file]
servers:
  - name: calc
    transport: streamable-http
    url: http://localhost:9000/mcp
    enabled: true
    headers:
      - name: X-Auth
        value: secret
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.Name != "siliconflow" {
		t.Errorf("Provider.Name = %q, want siliconflow", cfg.Provider.Name)
	}
	if got := cfg.Provider.KeyPool(); got != "key-one, key-two" {
		t.Errorf("KeyPool() = %q", got)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("len(Servers) = %d, want 1", len(cfg.Servers))
	}
	srv := cfg.Servers[0]
	if srv.Transport != remote.TransportStreamableHTTP {
		t.Errorf("Transport = %q", srv.Transport)
	}
	if len(srv.Headers) != 1 || srv.Headers[0].Name != "X-Auth" {
		t.Errorf("Headers = %+v", srv.Headers)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
bogus_section:
  value: 1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_WorkspaceEnabledRequiresPath(t *testing.T) {
	t.Parallel()
	yaml := `
workspace:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for enabled workspace without path, got nil")
	}
	if !strings.Contains(err.Error(), "workspace.path") {
		t.Errorf("error should mention workspace.path, got: %v", err)
	}
}

func TestValidate_DuplicateServerNames(t *testing.T) {
	t.Parallel()
	yaml := `
servers:
  - name: calc
    transport: sse
    url: http://a.example/events
  - name: calc
    transport: sse
    url: http://b.example/events
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate server names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_ServerErrors(t *testing.T) {
	t.Parallel()
	yaml := `
servers:
  - name: ""
    transport: carrier-pigeon
    url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"name is required", "transport", "url is required"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestKeyPool_EnvFallback(t *testing.T) {
	t.Setenv(config.EnvAPIKeys, "env-key")
	p := config.ProviderConfig{Name: "openai"}
	if got := p.KeyPool(); got != "env-key" {
		t.Errorf("KeyPool() = %q, want env-key", got)
	}
	p.APIKeys = "explicit-key"
	if got := p.KeyPool(); got != "explicit-key" {
		t.Errorf("KeyPool() = %q, want explicit-key", got)
	}
}
