// Package app wires all Convoke subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject pre-built components via functional options
// (WithEngine, WithClock on the watcher, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/convoke-ai/convoke/internal/config"
	"github.com/convoke-ai/convoke/internal/engine"
	"github.com/convoke-ai/convoke/internal/health"
	"github.com/convoke-ai/convoke/internal/remote"
	"github.com/convoke-ai/convoke/internal/tools/websearch"
	"github.com/convoke-ai/convoke/internal/tools/workspace"
)

// App owns all subsystem lifetimes and serves the Convoke HTTP API.
type App struct {
	cfg    *config.Config
	engine *engine.Engine
	server *http.Server
	ready  *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEngine injects an engine instead of building one from the config.
func WithEngine(e *engine.Engine) Option {
	return func(a *App) { a.engine = e }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: the engine, the
// builtin tool packages, the configured remote tool servers, and the HTTP
// API. Remote server connection failures do not fail New; failed servers
// park in their error state and stay retryable.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.engine == nil {
		a.engine = engine.New(engine.Config{
			Provider: cfg.Provider.Name,
			Model:    cfg.Provider.Model,
			APIKeys:  cfg.Provider.KeyPool(),
			BaseURL:  cfg.Provider.BaseURL,
		})
		a.closers = append(a.closers, func() error {
			a.engine.Close()
			return nil
		})
	}

	if err := a.registerBuiltinTools(); err != nil {
		return nil, fmt.Errorf("app: register builtin tools: %w", err)
	}
	a.applyToolPolicy(cfg.Tools.DisabledTools)

	for _, srv := range cfg.Servers {
		id, err := a.engine.AddServer(ctx, srv)
		if err != nil {
			return nil, fmt.Errorf("app: add server %q: %w", srv.Name, err)
		}
		slog.Info("registered tool server", "name", srv.Name, "id", id, "transport", srv.Transport)
	}

	a.ready = health.New(
		health.Checker{Name: "provider", Check: a.checkProvider},
		health.Checker{Name: "servers", Check: a.checkServers},
	)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// registerBuiltinTools wires the workspace and web-search capabilities into
// the engine's local registry, gated by config.
func (a *App) registerBuiltinTools() error {
	if a.cfg.Workspace.Enabled {
		ws := workspace.New(a.cfg.Workspace.Path)
		if err := workspace.Register(a.engine.Registry(), ws); err != nil {
			return err
		}
		slog.Info("workspace tools enabled", "root", ws.Root())
	}
	if a.cfg.Tools.EnableWebSearch {
		if err := websearch.Register(a.engine.Registry(), websearch.New()); err != nil {
			return err
		}
		slog.Info("web search tool enabled")
	}
	return nil
}

// applyToolPolicy re-enables everything, then disables the configured names.
// Run on startup and again on every config reload.
func (a *App) applyToolPolicy(disabled []string) {
	a.engine.EnableAllTools()
	for _, name := range disabled {
		if !a.engine.DisableTool(name) {
			slog.Warn("cannot disable unknown tool", "tool", name)
		}
	}
}

// ─── Readiness checks ────────────────────────────────────────────────────────

// checkProvider verifies the default provider resolves through the catalog.
func (a *App) checkProvider(context.Context) error {
	info := a.engine.Info()
	if _, ok := a.engine.Catalog().Lookup(info.Provider); !ok {
		return fmt.Errorf("provider %q not in catalog", info.Provider)
	}
	return nil
}

// checkServers fails when any enabled server sits in the error state.
func (a *App) checkServers(context.Context) error {
	for _, srv := range a.engine.Servers() {
		if !srv.Enabled {
			continue
		}
		status, err := a.engine.ServerStatus(srv.ID)
		if err != nil {
			return err
		}
		if status.State == remote.StateError {
			return fmt.Errorf("server %q: %s", srv.Name, status.Err)
		}
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the listener
// fails. With no listen address configured, Run just waits for cancellation.
func (a *App) Run(ctx context.Context) error {
	if a.server.Addr == "" {
		slog.Info("no listen address configured, running headless")
		<-ctx.Done()
		return ctx.Err()
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.server.Addr, err)
	}
	slog.Info("http api listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig reconciles a reloaded config against the running application.
// Only the dynamic parts are applied: provider defaults, tool policy, and the
// tool-server set. Server identity follows the Name field across reloads.
func (a *App) ApplyConfig(ctx context.Context, old, next *config.Config) {
	diff := config.Diff(old, next)

	if diff.ProviderChanged {
		if err := a.engine.SetProvider(next.Provider.Name); err != nil {
			slog.Warn("reload: provider rejected", "provider", next.Provider.Name, "err", err)
		}
		a.engine.SetAPIKeys(next.Provider.KeyPool())
		a.engine.SetBaseURL(next.Provider.BaseURL)
		slog.Info("reload: provider settings applied", "provider", next.Provider.Name, "model", next.Provider.Model)
	}

	if diff.ToolsChanged {
		a.applyToolPolicy(next.Tools.DisabledTools)
		slog.Info("reload: tool policy applied", "disabled", len(next.Tools.DisabledTools))
	}

	if diff.ServersChanged {
		idsByName := make(map[string]string)
		for _, srv := range a.engine.Servers() {
			idsByName[srv.Name] = srv.ID
		}
		for _, change := range diff.ServerChanges {
			switch {
			case change.Added:
				if _, err := a.engine.AddServer(ctx, change.Config); err != nil {
					slog.Warn("reload: add server failed", "name", change.Name, "err", err)
				}
			case change.Removed:
				if id, ok := idsByName[change.Name]; ok {
					if err := a.engine.RemoveServer(id); err != nil {
						slog.Warn("reload: remove server failed", "name", change.Name, "err", err)
					}
				}
			case change.Modified:
				cfg := change.Config
				cfg.ID = idsByName[change.Name]
				if err := a.engine.UpdateServer(ctx, cfg); err != nil {
					slog.Warn("reload: update server failed", "name", change.Name, "err", err)
				}
			}
		}
		slog.Info("reload: server set reconciled", "changes", len(diff.ServerChanges))
	}

	a.cfg = next
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Engine exposes the engine for direct embedding use.
func (a *App) Engine() *engine.Engine { return a.engine }
