package config

import (
	"slices"

	"github.com/convoke-ai/convoke/internal/remote"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProviderChanged is true when any provider field changed. Provider
	// changes take effect on the next turn since providers are built per
	// request.
	ProviderChanged bool

	// ToolsChanged is true when the builtin tool toggles changed.
	ToolsChanged bool

	ServersChanged bool
	ServerChanges  []ServerDiff
}

// ServerDiff describes what changed for a single remote tool server,
// matched by name between two configs.
type ServerDiff struct {
	Name string

	// Config holds the new server config for added and modified servers.
	Config remote.ServerConfig

	Added    bool
	Removed  bool
	Modified bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Provider != new.Provider {
		d.ProviderChanged = true
	}

	if old.Tools.EnableWebSearch != new.Tools.EnableWebSearch ||
		!slices.Equal(old.Tools.DisabledTools, new.Tools.DisabledTools) {
		d.ToolsChanged = true
	}

	// Build server lookup maps keyed by name.
	oldSrvs := make(map[string]*remote.ServerConfig, len(old.Servers))
	for i := range old.Servers {
		oldSrvs[old.Servers[i].Name] = &old.Servers[i]
	}
	newSrvs := make(map[string]*remote.ServerConfig, len(new.Servers))
	for i := range new.Servers {
		newSrvs[new.Servers[i].Name] = &new.Servers[i]
	}

	// Detect modified and removed servers.
	for name, oldSrv := range oldSrvs {
		newSrv, exists := newSrvs[name]
		if !exists {
			d.ServerChanges = append(d.ServerChanges, ServerDiff{Name: name, Removed: true})
			d.ServersChanged = true
			continue
		}
		if serverModified(oldSrv, newSrv) {
			d.ServerChanges = append(d.ServerChanges, ServerDiff{
				Name:     name,
				Config:   *newSrv,
				Modified: true,
			})
			d.ServersChanged = true
		}
	}

	// Detect added servers.
	for name, newSrv := range newSrvs {
		if _, exists := oldSrvs[name]; !exists {
			d.ServerChanges = append(d.ServerChanges, ServerDiff{
				Name:   name,
				Config: *newSrv,
				Added:  true,
			})
			d.ServersChanged = true
		}
	}

	return d
}

// serverModified compares two server configs with the same name. The ID and
// tool display cache are runtime state, not configuration, and are ignored.
func serverModified(old, new *remote.ServerConfig) bool {
	return old.Transport != new.Transport ||
		old.URL != new.URL ||
		old.Enabled != new.Enabled ||
		!slices.Equal(old.Headers, new.Headers)
}
