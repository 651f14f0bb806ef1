// Package mock provides an in-memory mock implementation of [llm.Provider]
// for use in unit tests.
//
// The mock records every completion request and returns scripted responses in
// order. It is safe for concurrent use.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*llm.CompletionResponse{
//	        {Content: "hello there"},
//	    },
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/convoke-ai/convoke/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of [llm.Provider].
// All exported fields control behaviour; Calls accumulates request records.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by [Provider.Complete] in order. When exhausted,
	// the last entry is repeated.
	Responses []*llm.CompletionResponse

	// Err, when non-nil, is returned by every Complete call instead of a
	// response.
	Err error

	// CapabilitiesResult is returned by [Provider.Capabilities].
	CapabilitiesResult llm.ModelCapabilities

	// Calls records all Complete invocations.
	Calls []llm.CompletionRequest

	next int
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	i := p.next
	if i >= len(p.Responses) {
		i = len(p.Responses) - 1
	}
	p.next++
	return p.Responses[i], nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.CapabilitiesResult
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
