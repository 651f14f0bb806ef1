// Package conversation manages in-memory conversation state: the append-only
// message log of each conversation, the store that owns conversation
// lifecycles, and the session objects through which callers track their
// "current" conversation.
//
// A Conversation's message list is only ever mutated by the orchestrator
// while the owning per-conversation queue serialises turns, but accessors are
// nonetheless safe for concurrent use and return defensive copies so readers
// never iterate shared state.
package conversation

import (
	"sync"
	"time"

	"github.com/convoke-ai/convoke/pkg/types"
)

// Conversation is an ordered, append-only log of messages plus processing
// state. Instances are created through [Store.Create] and are safe for
// concurrent use.
type Conversation struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	messages   []types.Message
	model      string
	provider   string
	updatedAt  time.Time
	processing bool
}

// ID returns the conversation's unique identifier.
func (c *Conversation) ID() string { return c.id }

// CreatedAt returns the creation timestamp.
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// UpdatedAt returns the timestamp of the last mutation.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Model returns the model id pinned to this conversation, or empty when the
// engine default applies.
func (c *Conversation) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Provider returns the provider id pinned to this conversation, or empty
// when the engine default applies.
func (c *Conversation) Provider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// SetModel pins a model and provider to this conversation.
func (c *Conversation) SetModel(provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
	c.model = model
	c.updatedAt = time.Now()
}

// Append adds msg to the end of the log and bumps updatedAt.
func (c *Conversation) Append(msgs ...types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
	c.updatedAt = time.Now()
}

// Messages returns a defensive copy of the full message log in conversational
// order.
func (c *Conversation) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Recent returns a defensive copy of at most limit trailing messages.
// A non-positive limit returns the full log.
func (c *Conversation) Recent(limit int) []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.messages)
	if limit <= 0 || n <= limit {
		out := make([]types.Message, n)
		copy(out, c.messages)
		return out
	}
	out := make([]types.Message, limit)
	copy(out, c.messages[n-limit:])
	return out
}

// Len returns the number of messages in the log.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Clear replaces the message log with an empty one and bumps updatedAt.
// Callers must not clear a conversation mid-turn; the conversation does not
// itself enforce this.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.updatedAt = time.Now()
}

// Processing reports whether a turn is currently mutating this conversation.
func (c *Conversation) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// SetProcessing marks the start or end of a turn. Setting true on a
// conversation that is already processing returns false and leaves the flag
// untouched, so callers can use it as a check-and-set guard.
func (c *Conversation) SetProcessing(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v && c.processing {
		return false
	}
	c.processing = v
	return true
}
