package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/convoke-ai/convoke/pkg/provider/llm"
	"github.com/convoke-ai/convoke/pkg/provider/llm/anyllm"
	"github.com/convoke-ai/convoke/pkg/provider/llm/openai"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Settings carries the resolved parameters for one provider instantiation.
// Providers are built per turn so the credential can rotate between requests.
type Settings struct {
	// Provider is the catalog provider ID (e.g., "openai", "siliconflow").
	Provider string

	// Model is the model identifier sent on the wire.
	Model string

	// BaseURL is the resolved API endpoint (config override or catalog default).
	BaseURL string

	// APIKey is the single credential selected for this request.
	APIKey string
}

// Factory constructs an LLM provider from resolved settings.
type Factory func(Settings) (llm.Provider, error)

// Registry maps provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Has reports whether a factory is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Create instantiates an LLM provider using the factory registered under
// s.Provider. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) Create(s Settings) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[s.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, s.Provider)
	}
	return factory(s)
}

// DefaultRegistry returns a registry pre-populated with factories for every
// builtin catalog provider. OpenAI-compatible vendors share one factory that
// points the OpenAI client at the vendor's base URL; vendors with native SDK
// support in any-llm-go go through that instead.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// OpenAI-compatible endpoints: same wire protocol, different base URL.
	compatible := func(s Settings) (llm.Provider, error) {
		return openai.New(s.APIKey, s.Model, openai.WithBaseURL(s.BaseURL))
	}
	for _, name := range []string{"openai", "siliconflow", "openrouter", "moonshot", "zhipu", "xai"} {
		r.Register(name, compatible)
	}

	r.Register("claude", func(s Settings) (llm.Provider, error) {
		return anyllm.New("anthropic", s.Model, anyllmlib.WithAPIKey(s.APIKey))
	})
	r.Register("deepseek", func(s Settings) (llm.Provider, error) {
		return anyllm.New("deepseek", s.Model, anyllmlib.WithAPIKey(s.APIKey))
	})

	return r
}
