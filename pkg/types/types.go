// Package types defines the shared types used across all Convoke packages.
//
// These types form the lingua franca between providers, the tool registry,
// the remote connection manager, and the orchestrator. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Provenance identifies where a tool's implementation lives.
type Provenance string

const (
	// ProvenanceBuiltin marks an in-process Go capability.
	ProvenanceBuiltin Provenance = "builtin"

	// ProvenanceScripted marks a capability hosted by an external script runtime
	// and handed to the engine as a plain callable.
	ProvenanceScripted Provenance = "scripted"

	// ProvenanceRemote marks a tool discovered from a remote tool server.
	ProvenanceRemote Provenance = "remote"
)

// IsValid reports whether p is a recognised provenance.
func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceBuiltin, ProvenanceScripted, ProvenanceRemote:
		return true
	}
	return false
}

// Message is a single entry in a conversation's append-only log.
//
// A tool-call Message and its paired tool-response Message share the same
// ToolCallID; both must exist before a turn is considered resolved. Messages
// are treated as immutable once appended to a conversation.
type Message struct {
	// Role is the author of the message.
	Role Role

	// Content is the plain text content. Empty for pure tool-call and
	// tool-response messages.
	Content string

	// ToolCall is true when this assistant message carries a tool invocation
	// request rather than (or in addition to) plain text.
	ToolCall bool

	// ToolResponse is true when this tool-role message carries the result of
	// a previously requested tool call.
	ToolResponse bool

	// ToolCallID links a tool-call message to its tool-response message.
	ToolCallID string

	// ToolName is the invoked tool's name. Set on tool-call messages.
	ToolName string

	// ToolArguments holds the decoded invocation arguments. Set on tool-call
	// messages.
	ToolArguments map[string]any

	// ToolResult holds the structured execution result. Set on tool-response
	// messages.
	ToolResult map[string]any
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the tool name as sent by the model, possibly carrying the
	// protocol-qualifier prefix.
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition describes a callable tool offered to the model.
type ToolDefinition struct {
	// Name is the tool's unique identifier within its provenance layer.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// InputSchema is the JSON-Schema-like description of the tool's
	// parameters: {"type": "object", "properties": {...}, "required": [...]}.
	InputSchema map[string]any

	// Provenance records where the tool's implementation lives.
	Provenance Provenance

	// Enabled controls visibility to the model. Disabled tools remain
	// registered and directly invocable.
	Enabled bool

	// ServerID is the owning remote server's id. Empty unless Provenance is
	// ProvenanceRemote.
	ServerID string
}

// ToolResult is the structured outcome of a tool invocation. Failures are
// always represented as data here rather than as Go errors, so a failing tool
// can never abort a chat turn.
type ToolResult struct {
	Success    bool           `json:"success"`
	ToolName   string         `json:"toolName"`
	Provenance Provenance     `json:"toolType,omitempty"`
	Server     string         `json:"server,omitempty"`
	Payload    map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// AsMap flattens the result into the map shape stored on tool-response
// messages and serialised back to the model.
func (r ToolResult) AsMap() map[string]any {
	m := map[string]any{
		"success":  r.Success,
		"toolName": r.ToolName,
	}
	if r.Provenance != "" {
		m["toolType"] = string(r.Provenance)
	}
	if r.Server != "" {
		m["server"] = r.Server
	}
	for k, v := range r.Payload {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// GenerationParams carries the optional sampling parameters of a generation
// request. Nil pointer fields mean "use the provider default".
type GenerationParams struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64

	// SystemPrompt is prepended to the provider request alongside the
	// engine-generated connection summary.
	SystemPrompt string
}

// Float returns a pointer to v. Convenience for populating GenerationParams.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v. Convenience for populating GenerationParams.
func Int(v int) *int { return &v }

// TurnOutcome summarises the messages appended by one completed chat turn.
type TurnOutcome struct {
	// ConversationID identifies the mutated conversation.
	ConversationID string

	// Messages lists the messages appended during the turn, in append order.
	// The user prompt message is not included.
	Messages []Message

	// HadToolCalls reports whether the model requested at least one tool
	// invocation during the turn.
	HadToolCalls bool

	// Text is the first plain assistant text found among the appended
	// messages, or empty if the model responded exclusively with tool calls.
	Text string

	// Elapsed is the wall-clock duration of the turn.
	Elapsed time.Duration
}
