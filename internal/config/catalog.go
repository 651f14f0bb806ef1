package config

import (
	"errors"
	"fmt"
	"sync"
)

// Default provider and model used when the config leaves them unset.
const (
	DefaultProvider = "siliconflow"
	DefaultModel    = "Qwen/Qwen3-8B"
	DefaultBaseURL  = "https://api.siliconflow.cn/v1"
)

// ErrInvalidEntry is returned when a catalog entry is missing required fields.
var ErrInvalidEntry = errors.New("config: invalid catalog entry")

// ProviderInfo describes one chat-completion vendor.
type ProviderInfo struct {
	// ID is the provider's unique identifier (e.g., "openai").
	ID string

	// Name is the human-readable display name.
	Name string

	// BaseURL is the vendor's default API endpoint.
	BaseURL string
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	// ID is the model identifier sent on the wire (e.g., "gpt-4o").
	ID string

	// Name is the human-readable display name.
	Name string

	// Provider is the owning provider's ID.
	Provider string
}

// Catalog holds the known providers and models. It is an injected dependency
// of the engine rather than package-level state, so tests and embedders can
// run isolated catalogs side by side. Safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	providers []ProviderInfo
	models    []ModelInfo
}

// NewCatalog returns a catalog seeded with the builtin providers and models.
func NewCatalog() *Catalog {
	return &Catalog{
		providers: []ProviderInfo{
			{ID: "openai", Name: "OpenAI", BaseURL: "https://api.openai.com/v1"},
			{ID: "claude", Name: "Claude", BaseURL: "https://api.anthropic.com/v1"},
			{ID: "siliconflow", Name: "SiliconFlow", BaseURL: "https://api.siliconflow.cn/v1"},
			{ID: "deepseek", Name: "DeepSeek", BaseURL: "https://api.deepseek.com/v1"},
			{ID: "openrouter", Name: "OpenRouter", BaseURL: "https://openrouter.ai/api/v1"},
			{ID: "moonshot", Name: "Moonshot", BaseURL: "https://api.moonshot.cn/v1"},
			{ID: "zhipu", Name: "Zhipu", BaseURL: "https://open.bigmodel.cn/api/paas/v4"},
			{ID: "xai", Name: "xAI", BaseURL: "https://api.x.ai/v1"},
		},
		models: []ModelInfo{
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: "openai"},
			{ID: "gpt-4", Name: "GPT-4", Provider: "openai"},
			{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai"},
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: "openai"},
			{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Provider: "claude"},
			{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", Provider: "claude"},
			{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Provider: "claude"},
			{ID: "Qwen/Qwen3-8B", Name: "Qwen3 8B", Provider: "siliconflow"},
			{ID: "Qwen/Qwen2.5-7B-Instruct", Name: "Qwen2.5 7B Instruct", Provider: "siliconflow"},
			{ID: "internlm/internlm2_5-7b-chat", Name: "InternLM 2.5 7B Chat", Provider: "siliconflow"},
			{ID: "deepseek-ai/DeepSeek-R1-Distill-Qwen-7B", Name: "DeepSeek R1 Distill Qwen 7B", Provider: "siliconflow"},
		},
	}
}

// Providers returns a copy of all known providers.
func (c *Catalog) Providers() []ProviderInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ProviderInfo(nil), c.providers...)
}

// Models returns a copy of all known models.
func (c *Catalog) Models() []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ModelInfo(nil), c.models...)
}

// ModelsByProvider returns all models belonging to the given provider.
func (c *Catalog) ModelsByProvider(providerID string) []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ModelInfo
	for _, m := range c.models {
		if m.Provider == providerID {
			out = append(out, m)
		}
	}
	return out
}

// Lookup returns the provider with the given ID.
func (c *Catalog) Lookup(providerID string) (ProviderInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.providers {
		if p.ID == providerID {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// LookupModel returns the model with the given ID.
func (c *Catalog) LookupModel(modelID string) (ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if m.ID == modelID {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// BaseURL returns the default endpoint for providerID, or [DefaultBaseURL]
// when the provider is unknown.
func (c *Catalog) BaseURL(providerID string) string {
	if p, ok := c.Lookup(providerID); ok && p.BaseURL != "" {
		return p.BaseURL
	}
	return DefaultBaseURL
}

// AddProvider registers a custom provider. An existing provider with the same
// ID is replaced.
func (c *Catalog) AddProvider(p ProviderInfo) error {
	if p.ID == "" || p.Name == "" || p.BaseURL == "" {
		return fmt.Errorf("%w: provider requires id, name, and base url", ErrInvalidEntry)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.providers {
		if c.providers[i].ID == p.ID {
			c.providers[i] = p
			return nil
		}
	}
	c.providers = append(c.providers, p)
	return nil
}

// RemoveProvider removes the provider with the given ID. Models belonging to
// it are kept; they simply stop resolving through [Catalog.Lookup].
func (c *Catalog) RemoveProvider(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.providers {
		if c.providers[i].ID == providerID {
			c.providers = append(c.providers[:i], c.providers[i+1:]...)
			return
		}
	}
}

// AddModel registers a custom model. An existing model with the same ID is
// replaced.
func (c *Catalog) AddModel(m ModelInfo) error {
	if m.ID == "" || m.Name == "" || m.Provider == "" {
		return fmt.Errorf("%w: model requires id, name, and provider", ErrInvalidEntry)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.models {
		if c.models[i].ID == m.ID {
			c.models[i] = m
			return nil
		}
	}
	c.models = append(c.models, m)
	return nil
}

// RemoveModel removes the model with the given ID.
func (c *Catalog) RemoveModel(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.models {
		if c.models[i].ID == modelID {
			c.models = append(c.models[:i], c.models[i+1:]...)
			return
		}
	}
}
