package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name != "" && cfg.Provider.KeyPool() == "" {
		slog.Warn("provider has no API keys configured; requests will be sent unauthenticated",
			"provider", cfg.Provider.Name,
			"env_fallback", EnvAPIKeys,
		)
	}
	if cfg.Provider.Model == "" && cfg.Provider.Name != "" {
		slog.Warn("provider.model is empty; the catalog default will be used", "provider", cfg.Provider.Name)
	}

	// Workspace
	if cfg.Workspace.Enabled && cfg.Workspace.Path == "" {
		errs = append(errs, errors.New("workspace.path is required when workspace.enabled is true"))
	}

	// Remote tool servers
	namesSeen := make(map[string]int, len(cfg.Servers))
	for i, srv := range cfg.Servers {
		prefix := fmt.Sprintf("servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of servers[%d]", prefix, srv.Name, prev))
			}
			namesSeen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: sse, streamable-http", prefix, srv.Transport))
		}
		if srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
		for j, h := range srv.Headers {
			if h.Name == "" {
				errs = append(errs, fmt.Errorf("%s.headers[%d].name is required", prefix, j))
			}
		}
	}

	return errors.Join(errs...)
}
