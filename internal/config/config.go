// Package config provides the configuration schema, loader, model/provider
// catalog, and LLM provider factory for the Convoke engine.
package config

import (
	"os"
	"strings"

	"github.com/convoke-ai/convoke/internal/remote"
)

// LogLevel controls log verbosity for the Convoke server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// EnvAPIKeys names the environment variable consulted when
// provider.api_keys is empty. The value is a key pool in the same
// comma/whitespace-separated format.
const EnvAPIKeys = "CONVOKE_API_KEYS"

// Config is the root configuration structure for Convoke.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Provider  ProviderConfig        `yaml:"provider"`
	Workspace WorkspaceConfig       `yaml:"workspace"`
	Tools     ToolsConfig           `yaml:"tools"`
	Servers   []remote.ServerConfig `yaml:"servers"`
}

// ServerConfig holds network and logging settings for the Convoke server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderConfig selects the chat-completion backend and credentials.
type ProviderConfig struct {
	// Name selects the provider entry in the [Catalog] (e.g., "openai",
	// "siliconflow").
	Name string `yaml:"name"`

	// APIKeys is a pool of one or more API keys separated by commas or
	// whitespace. One key is selected per request.
	APIKeys string `yaml:"api_keys"`

	// BaseURL overrides the catalog's default endpoint for the provider.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o", "Qwen/Qwen3-8B").
	Model string `yaml:"model"`
}

// KeyPool returns the configured key pool, falling back to the
// CONVOKE_API_KEYS environment variable when api_keys is empty.
func (p ProviderConfig) KeyPool() string {
	if strings.TrimSpace(p.APIKeys) != "" {
		return p.APIKeys
	}
	return os.Getenv(EnvAPIKeys)
}

// WorkspaceConfig controls the sandboxed filesystem tools.
type WorkspaceConfig struct {
	// Path is the workspace root directory. All file tool paths are resolved
	// against it and rejected if they escape it.
	Path string `yaml:"path"`

	// Enabled controls whether the filesystem tools are registered at all.
	Enabled bool `yaml:"enabled"`
}

// ToolsConfig holds builtin tool toggles.
type ToolsConfig struct {
	// EnableWebSearch registers the search_web tool when true.
	EnableWebSearch bool `yaml:"enable_web_search"`

	// DisabledTools lists tool names hidden from the model at startup.
	// Disabled tools remain registered and directly invocable.
	DisabledTools []string `yaml:"disabled_tools"`
}
