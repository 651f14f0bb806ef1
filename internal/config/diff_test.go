package config_test

import (
	"testing"

	"github.com/convoke-ai/convoke/internal/config"
	"github.com/convoke-ai/convoke/internal/remote"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Provider: config.ProviderConfig{Name: "openai", Model: "gpt-4o"},
		Servers: []remote.ServerConfig{
			{Name: "calc", Transport: remote.TransportSSE, URL: "http://a.example/events", Enabled: true},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.ProviderChanged || d.ToolsChanged || d.ServersChanged {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
	if len(d.ServerChanges) != 0 {
		t.Errorf("expected 0 server changes, got %d", len(d.ServerChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_ProviderAndToolsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Provider: config.ProviderConfig{Name: "openai", Model: "gpt-4o"},
		Tools:    config.ToolsConfig{DisabledTools: []string{"delete_file"}},
	}
	new := &config.Config{
		Provider: config.ProviderConfig{Name: "openai", Model: "gpt-4o-mini"},
		Tools:    config.ToolsConfig{DisabledTools: []string{"delete_file", "rename_file"}},
	}

	d := config.Diff(old, new)
	if !d.ProviderChanged {
		t.Error("expected ProviderChanged=true for model change")
	}
	if !d.ToolsChanged {
		t.Error("expected ToolsChanged=true for disabled tools change")
	}
}

func TestDiff_ServerAddedRemovedModified(t *testing.T) {
	t.Parallel()
	old := &config.Config{Servers: []remote.ServerConfig{
		{Name: "calc", Transport: remote.TransportSSE, URL: "http://a.example/events", Enabled: true},
		{Name: "files", Transport: remote.TransportStreamableHTTP, URL: "http://b.example/mcp", Enabled: true},
	}}
	new := &config.Config{Servers: []remote.ServerConfig{
		{Name: "calc", Transport: remote.TransportSSE, URL: "http://a.example/v2/events", Enabled: true},
		{Name: "weather", Transport: remote.TransportSSE, URL: "http://c.example/events", Enabled: true},
	}}

	d := config.Diff(old, new)
	if !d.ServersChanged {
		t.Fatal("expected ServersChanged=true")
	}

	byName := make(map[string]config.ServerDiff, len(d.ServerChanges))
	for _, sd := range d.ServerChanges {
		byName[sd.Name] = sd
	}

	if sd := byName["calc"]; !sd.Modified {
		t.Errorf("calc should be Modified, got %+v", sd)
	} else if sd.Config.URL != "http://a.example/v2/events" {
		t.Errorf("calc diff should carry the new config, got URL %q", sd.Config.URL)
	}
	if sd := byName["files"]; !sd.Removed {
		t.Errorf("files should be Removed, got %+v", sd)
	}
	if sd := byName["weather"]; !sd.Added {
		t.Errorf("weather should be Added, got %+v", sd)
	}
}

func TestDiff_ServerRuntimeStateIgnored(t *testing.T) {
	t.Parallel()
	// ID and the tool display cache are assigned at runtime; a reload that
	// changes neither transport, URL, headers, nor enabled must not report
	// the server as modified.
	old := &config.Config{Servers: []remote.ServerConfig{
		{ID: "abc-123", Name: "calc", Transport: remote.TransportSSE, URL: "http://a.example/events", Enabled: true},
	}}
	new := &config.Config{Servers: []remote.ServerConfig{
		{Name: "calc", Transport: remote.TransportSSE, URL: "http://a.example/events", Enabled: true},
	}}

	d := config.Diff(old, new)
	if d.ServersChanged {
		t.Errorf("expected no server changes, got %+v", d.ServerChanges)
	}
}

func TestDiff_ServerDisabled(t *testing.T) {
	t.Parallel()
	old := &config.Config{Servers: []remote.ServerConfig{
		{Name: "calc", Transport: remote.TransportSSE, URL: "http://a.example/events", Enabled: true},
	}}
	new := &config.Config{Servers: []remote.ServerConfig{
		{Name: "calc", Transport: remote.TransportSSE, URL: "http://a.example/events", Enabled: false},
	}}

	d := config.Diff(old, new)
	if !d.ServersChanged || len(d.ServerChanges) != 1 || !d.ServerChanges[0].Modified {
		t.Errorf("disabling a server should report it Modified, got %+v", d.ServerChanges)
	}
}
