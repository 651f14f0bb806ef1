package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no conversation exists under the given id.
var ErrNotFound = errors.New("conversation: not found")

// Store owns conversation lifecycles. It is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	sessions      map[*Session]struct{}
}

// NewStore returns an empty, ready-to-use Store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
		sessions:      make(map[*Session]struct{}),
	}
}

// Create adds a new empty conversation and returns it.
func (s *Store) Create() *Conversation {
	now := time.Now()
	c := &Conversation{
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.id] = c
	return c
}

// Get returns the conversation with the given id.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Clear empties the message log of the conversation with the given id.
func (s *Store) Clear(id string) error {
	c, err := s.Get(id)
	if err != nil {
		return err
	}
	c.Clear()
	return nil
}

// Delete removes the conversation with the given id. Every session whose
// current conversation was the deleted one has its current unset.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	for sess := range s.sessions {
		sess.forget(id)
	}
	return nil
}

// List returns all conversations in no particular order.
func (s *Store) List() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// NewSession returns a session bound to this store. Each logical caller
// context holds its own session, so concurrent callers never clobber each
// other's notion of "current conversation".
func (s *Store) NewSession() *Session {
	sess := &Session{store: s}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	return sess
}

// CloseSession detaches sess from the store.
func (s *Store) CloseSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Session tracks one caller's current conversation. It replaces ambient
// (thread-local) current-conversation state with an explicit object passed by
// the caller. Safe for concurrent use.
type Session struct {
	store *Store

	mu      sync.Mutex
	current string
}

// Current returns the session's current conversation, or ErrNotFound when no
// current conversation is set or it has been deleted.
func (s *Session) Current() (*Conversation, error) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	if id == "" {
		return nil, ErrNotFound
	}
	return s.store.Get(id)
}

// CurrentID returns the current conversation id, or empty when unset.
func (s *Session) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Switch makes the conversation with the given id current.
func (s *Session) Switch(id string) error {
	if _, err := s.store.Get(id); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	return nil
}

// OrCreate returns the current conversation, creating and adopting a new one
// when the session has none.
func (s *Session) OrCreate() *Conversation {
	if c, err := s.Current(); err == nil {
		return c
	}
	c := s.store.Create()
	s.mu.Lock()
	s.current = c.ID()
	s.mu.Unlock()
	return c
}

// forget unsets the current conversation if it matches id.
func (s *Session) forget(id string) {
	s.mu.Lock()
	if s.current == id {
		s.current = ""
	}
	s.mu.Unlock()
}
