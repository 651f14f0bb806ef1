// Package remote manages connections to remote tool servers.
//
// Each configured server gets at most one live connection, driven through a
// small state machine (Idle → Connecting → Connected, with Error as a parked
// failure state). Two transports are supported: SSE (one long-lived GET
// delivering framed events) and Streamable HTTP (a POST handshake that may
// upgrade the response body into the same framed stream). Tools advertised by
// a connected server are merged into that server's display list, with remote
// entries winning name collisions; execution of colliding names stays with
// the local registry, which is the orchestrator's concern, not this
// package's.
package remote

import (
	"errors"

	"github.com/convoke-ai/convoke/pkg/types"
)

// ErrServerNotFound is returned when an operation names an unknown server id.
var ErrServerNotFound = errors.New("remote: server not found")

// Transport selects the connection mechanism for a remote tool server.
type Transport string

const (
	// TransportSSE holds a long-lived GET open and reads framed events.
	TransportSSE Transport = "sse"

	// TransportStreamableHTTP performs a POST handshake, optionally upgrading
	// the response body into a framed event stream.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportSSE || t == TransportStreamableHTTP
}

// Header is one custom header sent with every request to a server. Order is
// preserved.
type Header struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// ServerConfig describes one remote tool server.
type ServerConfig struct {
	// ID uniquely identifies the server. Assigned by the manager when empty.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable server name, used in logs and the
	// connection summary.
	Name string `yaml:"name" json:"name"`

	Transport Transport `yaml:"transport" json:"transport"`
	URL       string    `yaml:"url" json:"url"`
	Headers   []Header  `yaml:"headers,omitempty" json:"headers,omitempty"`
	Enabled   bool      `yaml:"enabled" json:"enabled"`

	// Tools is a display cache refreshed by tool sync, not authoritative.
	Tools []types.ToolDefinition `yaml:"-" json:"tools,omitempty"`
}

// clone returns a deep copy of the config.
func (c ServerConfig) clone() ServerConfig {
	out := c
	out.Headers = append([]Header(nil), c.Headers...)
	out.Tools = append([]types.ToolDefinition(nil), c.Tools...)
	return out
}

// State is the connection state of one server.
type State string

const (
	// StateIdle means no active transport. Initial and terminal.
	StateIdle State = "idle"

	// StateConnecting means the transport handshake is in flight.
	StateConnecting State = "connecting"

	// StateConnected means tools are synced and calls can be relayed.
	StateConnected State = "connected"

	// StateError means the handshake or stream failed. The server stays
	// parked here until an explicit reconnect.
	StateError State = "error"
)

// Status is a snapshot of one server's connection state. Err carries the
// failure message while State is StateError.
type Status struct {
	State State
	Err   string
}

// String renders the status for logs and the connection summary.
func (s Status) String() string {
	if s.State == StateError && s.Err != "" {
		return string(s.State) + ": " + s.Err
	}
	return string(s.State)
}
