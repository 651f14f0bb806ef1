// Package engine orchestrates tool-augmented chat turns: it owns the
// conversation store, the local tool registry, the remote server manager, and
// the per-request provider construction, and serialises generation so that at
// most one turn mutates a conversation at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/convoke-ai/convoke/internal/config"
	"github.com/convoke-ai/convoke/internal/conversation"
	"github.com/convoke-ai/convoke/internal/observe"
	"github.com/convoke-ai/convoke/internal/remote"
	"github.com/convoke-ai/convoke/internal/resilience"
	"github.com/convoke-ai/convoke/internal/tool"
	"github.com/convoke-ai/convoke/pkg/keyring"
	"github.com/convoke-ai/convoke/pkg/types"
)

var (
	// ErrEmptyPrompt is returned when a generation or message operation is
	// given a blank prompt. Nothing is appended to the conversation.
	ErrEmptyPrompt = errors.New("engine: empty prompt")

	// ErrUnsupportedProvider is returned when the selected provider is not in
	// the catalog or has no registered client factory.
	ErrUnsupportedProvider = errors.New("engine: unsupported provider")

	// ErrUnknownModel is returned by SetModel for a model id not in the
	// catalog.
	ErrUnknownModel = errors.New("engine: unknown model")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine: closed")
)

// Config carries the engine's dependencies and defaults. Zero-value fields
// get working defaults from New.
type Config struct {
	// Registry is the local tool registry. Defaults to an empty registry.
	Registry *tool.Registry

	// Remotes manages remote tool server connections. Defaults to a fresh
	// manager.
	Remotes *remote.Manager

	// Catalog maps provider ids to base URLs and known models. Defaults to
	// the built-in catalog.
	Catalog *config.Catalog

	// Providers creates LLM clients from settings. Defaults to
	// config.DefaultRegistry.
	Providers *config.Registry

	// Keys selects a credential from the key pool per request. Defaults to
	// random selection.
	Keys keyring.Selector

	// Provider and Model are the defaults for conversations that have not
	// pinned their own pair.
	Provider string
	Model    string

	// APIKeys is the credential pool, comma or whitespace separated.
	APIKeys string

	// BaseURL overrides the catalog base URL for all providers when set.
	BaseURL string

	// SystemPrompt is prepended to every provider request.
	SystemPrompt string

	// MaxConcurrentTurns caps turns executing across all conversations.
	// Defaults to 4.
	MaxConcurrentTurns int64

	// Metrics receives engine instrumentation. Defaults to the process-wide
	// metrics.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Engine is the orchestration facade. All methods are safe for concurrent
// use.
type Engine struct {
	store     *conversation.Store
	session   *conversation.Session
	registry  *tool.Registry
	remotes   *remote.Manager
	catalog   *config.Catalog
	providers *config.Registry
	keys      keyring.Selector
	queue     *queue
	metrics   *observe.Metrics
	log       *slog.Logger

	breakerMu sync.Mutex
	breakers  map[string]*resilience.Breaker

	mu           sync.RWMutex
	provider     string
	model        string
	keyPool      string
	baseURL      string
	systemPrompt string
	closed       bool
}

// New builds an engine from cfg, filling unset dependencies with defaults.
func New(cfg Config) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = tool.New()
	}
	if cfg.Remotes == nil {
		cfg.Remotes = remote.NewManager()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = config.NewCatalog()
	}
	if cfg.Providers == nil {
		cfg.Providers = config.DefaultRegistry()
	}
	if cfg.Keys == nil {
		cfg.Keys = keyring.NewRandom()
	}
	if cfg.Provider == "" {
		cfg.Provider = config.DefaultProvider
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	store := conversation.NewStore()
	e := &Engine{
		store:        store,
		session:      store.NewSession(),
		registry:     cfg.Registry,
		remotes:      cfg.Remotes,
		catalog:      cfg.Catalog,
		providers:    cfg.Providers,
		keys:         cfg.Keys,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		provider:     cfg.Provider,
		model:        cfg.Model,
		keyPool:      cfg.APIKeys,
		baseURL:      cfg.BaseURL,
		systemPrompt: cfg.SystemPrompt,
		breakers:     make(map[string]*resilience.Breaker),
	}
	e.queue = newQueue(e.runTurn, cfg.MaxConcurrentTurns)
	return e
}

// ── Conversations ───────────────────────────────────────────────────────────

// NewConversation creates a conversation, makes it the session's current one,
// and returns its id.
func (e *Engine) NewConversation() string {
	conv := e.store.Create()
	_ = e.session.Switch(conv.ID())
	e.metrics.ActiveConversations.Add(context.Background(), 1)
	return conv.ID()
}

// SwitchConversation makes id the session's current conversation.
func (e *Engine) SwitchConversation(id string) error {
	return e.session.Switch(id)
}

// CurrentConversation returns the session's current conversation id, or
// empty when none exists yet.
func (e *Engine) CurrentConversation() string {
	return e.session.CurrentID()
}

// ConversationInfo is a point-in-time snapshot of one conversation.
type ConversationInfo struct {
	ID         string
	Messages   int
	Processing bool
	Provider   string
	Model      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ListConversations snapshots every stored conversation.
func (e *Engine) ListConversations() []ConversationInfo {
	convs := e.store.List()
	out := make([]ConversationInfo, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationInfo{
			ID:         c.ID(),
			Messages:   c.Len(),
			Processing: c.Processing(),
			Provider:   c.Provider(),
			Model:      c.Model(),
			CreatedAt:  c.CreatedAt(),
			UpdatedAt:  c.UpdatedAt(),
		})
	}
	return out
}

// History returns a copy of the conversation's messages.
func (e *Engine) History(convID string) ([]types.Message, error) {
	conv, err := e.store.Get(convID)
	if err != nil {
		return nil, err
	}
	return conv.Messages(), nil
}

// ClearConversation removes the conversation's messages but keeps its id,
// model pin, and timestamps.
func (e *Engine) ClearConversation(id string) error {
	return e.store.Clear(id)
}

// DeleteConversation removes the conversation entirely.
func (e *Engine) DeleteConversation(id string) error {
	if err := e.store.Delete(id); err != nil {
		return err
	}
	e.metrics.ActiveConversations.Add(context.Background(), -1)
	return nil
}

// SendMessage appends a user message without triggering generation and
// returns the receiving conversation's id. An empty convID targets the
// session's current conversation, creating one if needed.
func (e *Engine) SendMessage(content, convID string) (string, error) {
	return e.appendMessage(types.RoleUser, content, convID)
}

// SendSystemMessage appends a system message without triggering generation.
func (e *Engine) SendSystemMessage(content, convID string) (string, error) {
	return e.appendMessage(types.RoleSystem, content, convID)
}

func (e *Engine) appendMessage(role types.Role, content, convID string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyPrompt
	}
	conv, err := e.resolveConversation(convID)
	if err != nil {
		return "", err
	}
	conv.Append(types.Message{Role: role, Content: content})
	return conv.ID(), nil
}

// resolveConversation maps an optional conversation id to its conversation,
// falling back to the session's current one.
func (e *Engine) resolveConversation(convID string) (*conversation.Conversation, error) {
	if convID != "" {
		return e.store.Get(convID)
	}
	conv := e.session.OrCreate()
	return conv, nil
}

// ── Generation ──────────────────────────────────────────────────────────────

// Generate runs one chat turn synchronously: the prompt is appended, a single
// provider round-trip is made, any requested tool calls are executed, and the
// appended messages are returned. Turns on the same conversation are
// serialised in submission order.
//
// On provider failure only the user prompt remains appended.
func (e *Engine) Generate(ctx context.Context, prompt string, params types.GenerationParams, convID string) (*types.TurnOutcome, error) {
	return e.generate(ctx, prompt, params, convID, 1)
}

// GenerateRounds is Generate with up to maxRounds provider round-trips: after
// a round that requested tool calls, the tool results are fed back to the
// model for another round. Rounds stop early once the model answers without
// tool calls.
func (e *Engine) GenerateRounds(ctx context.Context, prompt string, params types.GenerationParams, convID string, maxRounds int) (*types.TurnOutcome, error) {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return e.generate(ctx, prompt, params, convID, maxRounds)
}

func (e *Engine) generate(ctx context.Context, prompt string, params types.GenerationParams, convID string, rounds int) (*types.TurnOutcome, error) {
	type reply struct {
		outcome *types.TurnOutcome
		err     error
	}
	ch := make(chan reply, 1)
	err := e.submit(ctx, prompt, params, convID, rounds, func(outcome *types.TurnOutcome, err error) {
		ch <- reply{outcome, err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.outcome, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GenerateAsync queues one chat turn and returns immediately. The callback is
// invoked exactly once, with either a non-nil outcome or a non-nil error,
// never both. Validation failures are returned synchronously and the callback
// is never invoked for them.
func (e *Engine) GenerateAsync(ctx context.Context, prompt string, params types.GenerationParams, convID string, callback func(*types.TurnOutcome, error)) error {
	return e.submit(ctx, prompt, params, convID, 1, callback)
}

// submit validates the request without side effects, then enqueues it.
func (e *Engine) submit(ctx context.Context, prompt string, params types.GenerationParams, convID string, rounds int, callback func(*types.TurnOutcome, error)) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	// Provider checks run before the conversation fallback: a rejected
	// request with no conversation id must not leave a fresh empty
	// conversation behind.
	var conv *conversation.Conversation
	if convID != "" {
		c, err := e.store.Get(convID)
		if err != nil {
			return err
		}
		conv = c
	}
	var providerID string
	if conv != nil {
		providerID, _ = e.resolveTarget(conv)
	} else {
		e.mu.RLock()
		providerID = e.provider
		e.mu.RUnlock()
	}
	if _, ok := e.catalog.Lookup(providerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerID)
	}
	if !e.providers.Has(providerID) {
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerID)
	}
	if conv == nil {
		conv = e.session.OrCreate()
	}

	e.metrics.QueuedTurns.Add(ctx, 1)
	r := &request{
		ctx:    ctx,
		conv:   conv,
		prompt: prompt,
		params: params,
		rounds: rounds,
		callback: func(outcome *types.TurnOutcome, err error) {
			e.metrics.QueuedTurns.Add(context.Background(), -1)
			if callback != nil {
				callback(outcome, err)
			}
		},
	}
	if err := e.queue.enqueue(r); err != nil {
		e.metrics.QueuedTurns.Add(context.Background(), -1)
		return err
	}
	return nil
}

// IsProcessing reports whether a turn is running or queued for the
// conversation.
func (e *Engine) IsProcessing(convID string) bool {
	if e.queue.pendingLen(convID) > 0 {
		return true
	}
	conv, err := e.store.Get(convID)
	if err != nil {
		return false
	}
	return conv.Processing()
}

// WaitForCompletion blocks until the conversation has no running or queued
// turn, polling every 100ms. It returns false on timeout; a non-positive
// timeout waits indefinitely.
func (e *Engine) WaitForCompletion(convID string, timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if !e.IsProcessing(convID) {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// ── Tools ───────────────────────────────────────────────────────────────────

// RegisterTool adds a local tool. Re-registering a name replaces its
// definition while preserving its enabled flag.
func (e *Engine) RegisterTool(name, description string, schema map[string]any, provenance types.Provenance, fn tool.Func) error {
	return e.registry.Register(name, description, schema, provenance, fn)
}

// RemoveTool unregisters a local tool, reporting whether it existed.
func (e *Engine) RemoveTool(name string) bool {
	return e.registry.Unregister(name)
}

// EnableTool makes a local tool visible to the model again.
func (e *Engine) EnableTool(name string) bool {
	return e.registry.SetEnabled(name, true)
}

// DisableTool hides a local tool from the model. The tool stays registered
// and directly invocable.
func (e *Engine) DisableTool(name string) bool {
	return e.registry.SetEnabled(name, false)
}

// EnableAllTools enables every local tool.
func (e *Engine) EnableAllTools() { e.registry.EnableAll() }

// DisableAllTools disables every local tool.
func (e *Engine) DisableAllTools() { e.registry.DisableAll() }

// Tools returns the merged display list: local tools plus the remote display
// cache, with remote definitions winning name collisions. Disabled local
// tools are included only when includeDisabled is set.
func (e *Engine) Tools(includeDisabled bool) []types.ToolDefinition {
	byName := make(map[string]int)
	var out []types.ToolDefinition
	for _, def := range e.registry.List(includeDisabled) {
		byName[def.Name] = len(out)
		out = append(out, def)
	}
	for _, def := range e.remotes.RemoteTools() {
		if i, seen := byName[def.Name]; seen {
			out[i] = def
			continue
		}
		byName[def.Name] = len(out)
		out = append(out, def)
	}
	return out
}

// CallTool invokes a tool directly, bypassing the model. Local tools win
// dispatch over remote tools of the same name; failures come back as result
// data, never as a panic or error.
func (e *Engine) CallTool(ctx context.Context, name string, params map[string]any) types.ToolResult {
	return e.executeTool(ctx, tool.Normalize(name), params)
}

// CallToolAsync invokes a tool on a new goroutine and delivers the result to
// the callback.
func (e *Engine) CallToolAsync(ctx context.Context, name string, params map[string]any, callback func(types.ToolResult)) {
	go func() {
		result := e.CallTool(ctx, name, params)
		if callback != nil {
			callback(result)
		}
	}()
}

// ── Remote servers ──────────────────────────────────────────────────────────

// AddServer registers a remote tool server and, when enabled, connects and
// syncs its tool list. The returned id addresses the server in later calls.
func (e *Engine) AddServer(ctx context.Context, cfg remote.ServerConfig) (string, error) {
	id, err := e.remotes.AddServer(ctx, cfg)
	if err != nil {
		return "", err
	}
	if status, serr := e.remotes.Status(id); serr == nil && status.State == remote.StateConnected {
		// Only enabled locals enter the display cache, keeping it consistent
		// with what the model is offered.
		if serr := e.remotes.SyncTools(ctx, id, e.registry.List(false)); serr != nil {
			e.log.Warn("tool sync failed", "server", cfg.Name, "error", serr)
		}
	}
	return id, nil
}

// UpdateServer replaces a server's configuration, reconnecting if it was
// connected.
func (e *Engine) UpdateServer(ctx context.Context, cfg remote.ServerConfig) error {
	return e.remotes.UpdateServer(ctx, cfg)
}

// RemoveServer disconnects and forgets a server.
func (e *Engine) RemoveServer(id string) error {
	return e.remotes.RemoveServer(id)
}

// ConnectServer connects a registered server and refreshes its tool list.
func (e *Engine) ConnectServer(ctx context.Context, id string) error {
	if err := e.remotes.Connect(ctx, id); err != nil {
		return err
	}
	if err := e.remotes.SyncTools(ctx, id, e.registry.List(false)); err != nil {
		e.log.Warn("tool sync failed", "server", id, "error", err)
	}
	return nil
}

// DisconnectServer closes a server's connection; its cached tools stay
// listed until the server is removed.
func (e *Engine) DisconnectServer(id string) error {
	return e.remotes.Disconnect(id)
}

// ServerStatus reports a server's connection state.
func (e *Engine) ServerStatus(id string) (remote.Status, error) {
	return e.remotes.Status(id)
}

// Servers snapshots every registered server configuration.
func (e *Engine) Servers() []remote.ServerConfig {
	return e.remotes.Servers()
}

// ── Model and provider selection ────────────────────────────────────────────

// SetModel selects the default model. The model must be in the catalog; its
// owning provider becomes the default provider.
func (e *Engine) SetModel(modelID string) error {
	m, ok := e.catalog.LookupModel(modelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	e.mu.Lock()
	e.model = m.ID
	e.provider = m.Provider
	e.mu.Unlock()
	return nil
}

// SetProvider selects the default provider, which must be in the catalog.
func (e *Engine) SetProvider(providerID string) error {
	if _, ok := e.catalog.Lookup(providerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerID)
	}
	e.mu.Lock()
	e.provider = providerID
	e.mu.Unlock()
	return nil
}

// PinModel pins a conversation to a provider/model pair, overriding the
// engine defaults for its turns.
func (e *Engine) PinModel(convID, providerID, modelID string) error {
	conv, err := e.store.Get(convID)
	if err != nil {
		return err
	}
	if _, ok := e.catalog.Lookup(providerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerID)
	}
	conv.SetModel(providerID, modelID)
	return nil
}

// Provider returns the default provider id.
func (e *Engine) Provider() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.provider
}

// Model returns the default model id.
func (e *Engine) Model() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// SetAPIKeys replaces the credential pool.
func (e *Engine) SetAPIKeys(pool string) {
	e.mu.Lock()
	e.keyPool = pool
	e.mu.Unlock()
}

// SetBaseURL overrides the catalog base URL for all providers. Empty restores
// catalog resolution.
func (e *Engine) SetBaseURL(url string) {
	e.mu.Lock()
	e.baseURL = url
	e.mu.Unlock()
}

// SetSystemPrompt replaces the engine-level system prompt.
func (e *Engine) SetSystemPrompt(prompt string) {
	e.mu.Lock()
	e.systemPrompt = prompt
	e.mu.Unlock()
}

// Catalog exposes the provider/model catalog for listing and mutation.
func (e *Engine) Catalog() *config.Catalog { return e.catalog }

// Registry exposes the local tool registry so builtin tool packages can
// register themselves.
func (e *Engine) Registry() *tool.Registry { return e.registry }

// Info is a snapshot of the engine's configuration and load.
type Info struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	BaseURL       string `json:"baseUrl,omitempty"`
	Conversations int    `json:"conversations"`
	Tools         int    `json:"tools"`
	Servers       int    `json:"servers"`
}

// Info snapshots the engine state.
func (e *Engine) Info() Info {
	e.mu.RLock()
	provider, model, baseURL := e.provider, e.model, e.baseURL
	e.mu.RUnlock()
	return Info{
		Provider:      provider,
		Model:         model,
		BaseURL:       baseURL,
		Conversations: e.store.Len(),
		Tools:         len(e.Tools(true)),
		Servers:       len(e.remotes.Servers()),
	}
}

// Close drains queued turns and shuts down remote connections. Further
// generation requests fail with ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.queue.close()
	e.remotes.Close()
	e.store.CloseSession(e.session)
}
