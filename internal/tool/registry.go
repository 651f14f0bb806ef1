// Package tool implements the unified registry for locally-invocable tools.
//
// The registry is the source of truth for builtin and scripted capabilities.
// Remote tools discovered from tool servers are tracked by internal/remote;
// the orchestrator merges both views when building a provider request.
//
// Invocation never fails across the registry boundary: every failure mode —
// unknown tool, schema violation, handler error, handler panic — is converted
// into a [types.ToolResult] with Success=false, so one broken tool can never
// abort a chat turn.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/convoke-ai/convoke/pkg/types"
)

// NamePrefix is the protocol-qualifier prefix attached to tool names in
// provider requests. It is stripped before registry lookup so the model may
// request either the bare or the prefixed form.
const NamePrefix = "mcp__"

var (
	// ErrToolNotFound is returned when a lookup names an unregistered tool.
	ErrToolNotFound = errors.New("tool: not found")

	// ErrInvalidInput is returned when registration arguments are unusable.
	ErrInvalidInput = errors.New("tool: invalid input")
)

// Func is the capability contract consumed from native-tool and scripted-tool
// collaborators. Implementations may fail; the registry catches every failure.
type Func func(ctx context.Context, params map[string]any) (map[string]any, error)

// Normalize strips the protocol-qualifier prefix from a tool name.
func Normalize(name string) string {
	return strings.TrimPrefix(name, NamePrefix)
}

// entry holds one registered tool plus its lazily-compiled schema validator.
type entry struct {
	def types.ToolDefinition
	fn  Func

	// compiled guards the one-shot schema compilation. A schema that fails to
	// compile leaves resolved nil, which disables validation for this tool
	// without blocking registration or invocation.
	compiled bool
	resolved *jsonschema.Resolved
}

// Registry is a concurrent-safe mapping from tool name to registered
// capability. The zero value is not usable; create instances with [New].
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// New returns an empty, ready-to-use Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register upserts a tool. Re-registering an existing name replaces its
// callable, schema and description, which supports live tool updates; the
// enabled flag of an existing registration is preserved. New registrations
// start enabled.
func (r *Registry) Register(name, description string, schema map[string]any, provenance types.Provenance, fn Func) error {
	name = Normalize(name)
	if name == "" {
		return fmt.Errorf("%w: empty tool name", ErrInvalidInput)
	}
	if fn == nil {
		return fmt.Errorf("%w: tool %q has no callable", ErrInvalidInput, name)
	}
	if !provenance.IsValid() {
		return fmt.Errorf("%w: tool %q has unknown provenance %q", ErrInvalidInput, name, provenance)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	enabled := true
	if old, ok := r.tools[name]; ok {
		enabled = old.def.Enabled
	}
	r.tools[name] = &entry{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: schema,
			Provenance:  provenance,
			Enabled:     enabled,
		},
		fn: fn,
	}
	return nil
}

// Unregister removes the named tool. It reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	name = Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Has reports whether the named tool is registered, enabled or not.
func (r *Registry) Has(name string) bool {
	name = Normalize(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// SetEnabled toggles the named tool's visibility to the model without
// removing its registration. It reports whether the tool existed.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	name = Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	if !ok {
		return false
	}
	e.def.Enabled = enabled
	return true
}

// EnableAll marks every registered tool visible.
func (r *Registry) EnableAll() {
	r.setAll(true)
}

// DisableAll hides every registered tool from the model. Disabled tools stay
// registered and directly invocable.
func (r *Registry) DisableAll() {
	r.setAll(false)
}

func (r *Registry) setAll(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.tools {
		e.def.Enabled = enabled
	}
}

// List returns the registered tool descriptors sorted by name. When
// includeDisabled is false, only tools currently visible to the model are
// returned.
func (r *Registry) List(includeDisabled bool) []types.ToolDefinition {
	r.mu.RLock()
	out := make([]types.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		if !includeDisabled && !e.def.Enabled {
			continue
		}
		out = append(out, e.def)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools, including disabled ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke executes the named tool and returns its structured result. The name
// may carry the protocol-qualifier prefix. Disabled tools are invocable —
// disabling only affects visibility in [Registry.List].
//
// Invoke never returns a Go error: missing tools, schema violations, handler
// errors and handler panics all surface as a result with Success=false.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) types.ToolResult {
	name = Normalize(name)

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return types.ToolResult{
			Success:  false,
			ToolName: name,
			Error:    fmt.Sprintf("tool %q not found", name),
		}
	}

	if resolved := r.validator(name, e); resolved != nil {
		if err := resolved.Validate(normalizeParams(params)); err != nil {
			return types.ToolResult{
				Success:    false,
				ToolName:   name,
				Provenance: e.def.Provenance,
				Error:      fmt.Sprintf("invalid arguments: %v", err),
			}
		}
	}

	payload, err := safeCall(ctx, e.fn, params)
	if err != nil {
		return types.ToolResult{
			Success:    false,
			ToolName:   name,
			Provenance: e.def.Provenance,
			Error:      err.Error(),
		}
	}
	return types.ToolResult{
		Success:    true,
		ToolName:   name,
		Provenance: e.def.Provenance,
		Payload:    payload,
	}
}

// validator returns the tool's compiled schema validator, compiling it on
// first use. Compilation failure is recorded and validation is skipped for
// that tool from then on.
func (r *Registry) validator(name string, e *entry) *jsonschema.Resolved {
	r.mu.RLock()
	compiled, resolved := e.compiled, e.resolved
	r.mu.RUnlock()
	if compiled {
		return resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// The entry may have been replaced or compiled while the lock was dropped.
	cur, ok := r.tools[name]
	if !ok {
		return nil
	}
	if cur.compiled {
		return cur.resolved
	}
	cur.compiled = true
	if len(cur.def.InputSchema) == 0 {
		return nil
	}
	if resolved, err := compileSchema(cur.def.InputSchema); err == nil {
		cur.resolved = resolved
	}
	return cur.resolved
}

// compileSchema turns a raw schema map into a resolved validator.
func compileSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}

// normalizeParams round-trips params through JSON so typed Go values (ints,
// custom structs) validate the same way decoded model arguments do.
func normalizeParams(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return params
	}
	return v
}

// safeCall runs fn, converting a panic into an error.
func safeCall(ctx context.Context, fn Func, params map[string]any) (payload map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return fn(ctx, params)
}
