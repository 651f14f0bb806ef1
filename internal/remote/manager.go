package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/convoke-ai/convoke/pkg/types"
)

// serverState pairs one server's config with its live connection, if any.
type serverState struct {
	cfg  ServerConfig
	conn *connection
}

// Manager owns one connection per configured remote tool server.
//
// Connection failures never propagate as engine-level failures: a failed
// server parks in StateError and stays there until an explicit Connect. The
// zero value is not usable; create instances with [NewManager].
type Manager struct {
	// client serves bounded request/response exchanges (JSON-RPC tool
	// calls). stream serves long-lived event streams: its connection setup
	// is bounded but reading the body is not, otherwise a healthy stream
	// would be cut off at the client deadline.
	client  *http.Client
	stream  *http.Client
	sdk     *mcpsdk.Client
	onFrame FrameHandler

	mu      sync.RWMutex
	servers map[string]*serverState
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient replaces the default HTTP clients used for all transports,
// call and stream paths alike.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		m.client = c
		m.stream = c
	}
}

// WithFrameHandler registers an observer for tool_call and tool_response
// frames arriving on server event streams.
func WithFrameHandler(h FrameHandler) ManagerOption {
	return func(m *Manager) { m.onFrame = h }
}

// streamHTTPClient bounds dial, TLS and response-header latency but leaves
// the overall exchange unbounded so event streams can stay open indefinitely.
func streamHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// NewManager returns a ready-to-use Manager with no servers configured.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		client:  &http.Client{Timeout: 30 * time.Second},
		stream:  streamHTTPClient(),
		servers: make(map[string]*serverState),
	}
	for _, opt := range opts {
		opt(m)
	}
	// One SDK client manages all sessions concurrently.
	m.sdk = mcpsdk.NewClient(&mcpsdk.Implementation{Name: "convoke", Version: "1.0.0"}, nil)
	return m
}

// AddServer registers a new server. An empty cfg.ID gets a generated id,
// returned to the caller. When cfg.Enabled the connection attempt starts
// immediately; its failure does not fail AddServer, it parks the server in
// StateError.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) (string, error) {
	if err := validateConfig(cfg); err != nil {
		return "", err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.servers[cfg.ID] = &serverState{cfg: cfg.clone()}
	m.mu.Unlock()

	if cfg.Enabled {
		m.reconnect(ctx, cfg.ID)
	}
	return cfg.ID, nil
}

// UpdateServer replaces an existing server's config. The old connection is
// torn down before any new one starts, so two transports for the same id
// never coexist. A disabled config leaves the server Idle.
func (m *Manager) UpdateServer(ctx context.Context, cfg ServerConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	st, ok := m.servers[cfg.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotFound, cfg.ID)
	}
	old := st.conn
	st.conn = nil
	st.cfg = cfg.clone()
	m.mu.Unlock()

	if old != nil {
		old.close()
	}
	if cfg.Enabled {
		m.reconnect(ctx, cfg.ID)
	}
	return nil
}

// RemoveServer disconnects and forgets the server.
func (m *Manager) RemoveServer(id string) error {
	m.mu.Lock()
	st, ok := m.servers[id]
	if ok {
		delete(m.servers, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if st.conn != nil {
		st.conn.close()
	}
	return nil
}

// Connect establishes (or re-establishes) the server's connection. This is
// also the explicit retry for a server parked in StateError.
func (m *Manager) Connect(ctx context.Context, id string) error {
	m.mu.RLock()
	_, ok := m.servers[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return m.reconnect(ctx, id)
}

// reconnect tears down any existing connection for id and starts a new
// one. Handshake failures are reflected in the server's status, logged, and
// returned.
func (m *Manager) reconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	st, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	old := st.conn
	conn := newConnection(st.cfg.clone(), m.stream, m.sdk, m.onFrame)
	st.conn = conn
	m.mu.Unlock()

	if old != nil {
		old.close()
	}

	if err := conn.connect(ctx); err != nil {
		slog.Warn("remote server connection failed",
			"server", conn.cfg.Name,
			"transport", conn.cfg.Transport,
			"error", err,
		)
		return err
	}

	slog.Info("remote server connected",
		"server", conn.cfg.Name,
		"transport", conn.cfg.Transport,
	)
	return nil
}

// Disconnect releases the server's transport and resets it to Idle.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	st, ok := m.servers[id]
	var conn *connection
	if ok {
		conn = st.conn
		st.conn = nil
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if conn != nil {
		conn.close()
	}
	return nil
}

// Status returns the server's connection status.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.servers[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if st.conn == nil {
		return Status{State: StateIdle}, nil
	}
	return st.conn.Status(), nil
}

// Servers returns a snapshot of all configured servers, sorted by name.
func (m *Manager) Servers() []ServerConfig {
	m.mu.RLock()
	out := make([]ServerConfig, 0, len(m.servers))
	for _, st := range m.servers {
		out = append(out, st.cfg.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SyncTools refreshes the server's display tool list. Three sources merge:
// entries already cached on the config, the supplied local tools, and tools
// advertised by the connected server. A remote entry — freshly fetched or
// cached from an earlier sync — wins any name collision in this display
// list; execution of colliding names is decided elsewhere and always prefers
// the local registry.
//
// Servers without an MCP session (SSE, or a plain streamable endpoint) skip
// the remote fetch and keep the local and cached entries.
func (m *Manager) SyncTools(ctx context.Context, id string, local []types.ToolDefinition) error {
	m.mu.RLock()
	st, ok := m.servers[id]
	var conn *connection
	if ok {
		conn = st.conn
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}

	var remoteTools []types.ToolDefinition
	if conn != nil {
		if session := conn.Session(); session != nil {
			for tool, err := range session.Tools(ctx, nil) {
				if err != nil {
					return fmt.Errorf("remote: list tools on %q: %w", conn.cfg.Name, err)
				}
				remoteTools = append(remoteTools, types.ToolDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					InputSchema: schemaToMap(tool.InputSchema),
					Provenance:  types.ProvenanceRemote,
					Enabled:     true,
					ServerID:    id,
				})
			}
		}
	}

	merged := make(map[string]types.ToolDefinition)
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok = m.servers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	for _, t := range local {
		merged[t.Name] = t
	}
	for _, t := range st.cfg.Tools {
		// Cached remote discoveries keep winning display collisions even when
		// this sync could not reach the server for a fresh list.
		if t.Provenance == types.ProvenanceRemote {
			merged[t.Name] = t
			continue
		}
		if _, ok := merged[t.Name]; !ok {
			merged[t.Name] = t
		}
	}
	for _, t := range remoteTools {
		merged[t.Name] = t
	}

	tools := make([]types.ToolDefinition, 0, len(merged))
	for _, t := range merged {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	st.cfg.Tools = tools
	return nil
}

// SyncAll refreshes the tool lists of every enabled server in parallel. The
// first failure is returned after all syncs finish.
func (m *Manager) SyncAll(ctx context.Context, local []types.ToolDefinition) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.servers))
	for id, st := range m.servers {
		if st.cfg.Enabled {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return m.SyncTools(gctx, id, local)
		})
	}
	return g.Wait()
}

// RemoteTools returns every enabled tool discovered from enabled servers.
func (m *Manager) RemoteTools() []types.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.ToolDefinition
	for _, st := range m.servers {
		if !st.cfg.Enabled {
			continue
		}
		for _, t := range st.cfg.Tools {
			if t.Enabled && t.Provenance == types.ProvenanceRemote {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindTool locates the enabled server advertising the named enabled tool.
func (m *Manager) FindTool(name string) (ServerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.servers {
		if !st.cfg.Enabled {
			continue
		}
		for _, t := range st.cfg.Tools {
			if t.Name == name && t.Enabled {
				return st.cfg.clone(), true
			}
		}
	}
	return ServerConfig{}, false
}

// CallTool relays a tool invocation to the server owning the named tool. The
// result is always structured data; transport and protocol failures surface
// with Success=false.
func (m *Manager) CallTool(ctx context.Context, name string, params map[string]any) types.ToolResult {
	cfg, ok := m.FindTool(name)
	if !ok {
		return types.ToolResult{
			Success:  false,
			ToolName: name,
			Error:    fmt.Sprintf("no connected server advertises tool %q", name),
		}
	}

	m.mu.RLock()
	st := m.servers[cfg.ID]
	var conn *connection
	if st != nil {
		conn = st.conn
	}
	m.mu.RUnlock()

	if conn == nil {
		return types.ToolResult{
			Success:    false,
			ToolName:   name,
			Provenance: types.ProvenanceRemote,
			Server:     cfg.Name,
			Error:      fmt.Sprintf("server %q is not connected", cfg.Name),
		}
	}

	if session := conn.Session(); session != nil {
		return callViaSession(ctx, session, cfg.Name, name, params)
	}
	return m.callViaJSONRPC(ctx, cfg, name, params)
}

// callViaSession invokes the tool through the MCP session.
func callViaSession(ctx context.Context, session *mcpsdk.ClientSession, serverName, name string, params map[string]any) types.ToolResult {
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: params})
	if err != nil {
		return types.ToolResult{
			Success:    false,
			ToolName:   name,
			Provenance: types.ProvenanceRemote,
			Server:     serverName,
			Error:      err.Error(),
		}
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return types.ToolResult{
			Success:    false,
			ToolName:   name,
			Provenance: types.ProvenanceRemote,
			Server:     serverName,
			Error:      sb.String(),
		}
	}
	return types.ToolResult{
		Success:    true,
		ToolName:   name,
		Provenance: types.ProvenanceRemote,
		Server:     serverName,
		Payload:    map[string]any{"content": sb.String()},
	}
}

// callViaJSONRPC posts a tool.call request to servers reached without an MCP
// session.
func (m *Manager) callViaJSONRPC(ctx context.Context, cfg ServerConfig, name string, params map[string]any) types.ToolResult {
	fail := func(msg string) types.ToolResult {
		return types.ToolResult{
			Success:    false,
			ToolName:   name,
			Provenance: types.ProvenanceRemote,
			Server:     cfg.Name,
			Error:      msg,
		}
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  "tool.call",
		"params":  map[string]any{"name": name, "params": params},
	})
	if err != nil {
		return fail(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fail(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, h := range cfg.Headers {
		req.Header.Add(h.Name, h.Value)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fail(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Sprintf("tool call returned status %d", resp.StatusCode))
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fail(fmt.Sprintf("undecodable tool call response: %v", err))
	}
	return types.ToolResult{
		Success:    true,
		ToolName:   name,
		Provenance: types.ProvenanceRemote,
		Server:     cfg.Name,
		Payload:    payload,
	}
}

// ConnectionSummary renders a human-readable list of all configured servers
// and their connection status, suitable for inclusion in a system prompt.
// Returns the empty string when no server is configured.
func (m *Manager) ConnectionSummary() string {
	servers := m.Servers()
	if len(servers) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Connected tool servers:\n")
	for _, cfg := range servers {
		status := Status{State: StateIdle}
		if s, err := m.Status(cfg.ID); err == nil {
			status = s
		}
		enabled := "enabled"
		if !cfg.Enabled {
			enabled = "disabled"
		}
		fmt.Fprintf(&sb, "- %s (%s, %s): %s, %d tools\n",
			cfg.Name, cfg.Transport, enabled, status, len(cfg.Tools))
	}
	return sb.String()
}

// Close disconnects every server. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.servers))
	for _, st := range m.servers {
		if st.conn != nil {
			conns = append(conns, st.conn)
			st.conn = nil
		}
	}
	m.servers = make(map[string]*serverState)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}

// validateConfig rejects configs the manager cannot act on.
func validateConfig(cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("remote: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("remote: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}
	if cfg.URL == "" {
		return fmt.Errorf("remote: server %q requires a non-empty URL", cfg.Name)
	}
	return nil
}

// schemaToMap converts an SDK schema value into a plain map.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
