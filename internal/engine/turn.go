package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/convoke-ai/convoke/internal/config"
	"github.com/convoke-ai/convoke/internal/conversation"
	"github.com/convoke-ai/convoke/internal/observe"
	"github.com/convoke-ai/convoke/internal/resilience"
	"github.com/convoke-ai/convoke/internal/tool"
	"github.com/convoke-ai/convoke/pkg/provider/llm"
	"github.com/convoke-ai/convoke/pkg/types"
)

// ── Turn execution ──────────────────────────────────────────────────────────

// runTurn executes one queued generation request: append the user prompt,
// mark the conversation busy, run up to r.rounds provider round-trips with
// tool execution in between, and assemble the outcome. The processing mark is
// cleared on every exit path.
func (e *Engine) runTurn(r *request) (*types.TurnOutcome, error) {
	ctx, span := observe.StartSpan(r.ctx, "engine.turn")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	conv := r.conv
	conv.Append(types.Message{Role: types.RoleUser, Content: r.prompt})

	// The queue guarantees one turn per conversation, so this only fails if
	// something outside the engine flipped the flag.
	if !conv.SetProcessing(true) {
		log.Warn("conversation already marked processing", "conversation", conv.ID())
	}
	defer conv.SetProcessing(false)

	e.metrics.ActiveTurns.Add(ctx, 1)
	defer e.metrics.ActiveTurns.Add(ctx, -1)

	outcome := &types.TurnOutcome{ConversationID: conv.ID()}
	for round := 0; round < r.rounds; round++ {
		resp, err := e.complete(ctx, conv, r.params)
		if err != nil {
			// The user prompt stays; nothing else is appended on provider
			// failure, so a retry sees an intact history.
			e.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("status", "error")))
			return nil, err
		}

		appended, hadCalls := e.applyResponse(ctx, conv, resp)
		outcome.Messages = append(outcome.Messages, appended...)
		if hadCalls {
			outcome.HadToolCalls = true
		}
		if !hadCalls {
			break
		}
	}

	for _, msg := range outcome.Messages {
		if msg.Role == types.RoleAssistant && !msg.ToolCall && msg.Content != "" {
			outcome.Text = msg.Content
			break
		}
	}
	outcome.Elapsed = time.Since(start)
	e.metrics.TurnDuration.Record(ctx, outcome.Elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", "ok")))
	log.Debug("turn complete",
		"conversation", conv.ID(),
		"messages", len(outcome.Messages),
		"tool_calls", outcome.HadToolCalls,
		"elapsed", outcome.Elapsed)
	return outcome, nil
}

// complete performs a single provider round-trip over the conversation's
// full history and the merged tool list.
func (e *Engine) complete(ctx context.Context, conv *conversation.Conversation, params types.GenerationParams) (*llm.CompletionResponse, error) {
	providerID, modelID := e.resolveTarget(conv)

	prov, err := e.buildProvider(providerID, modelID)
	if err != nil {
		return nil, err
	}

	req := llm.CompletionRequest{
		Messages:     conv.Messages(),
		Tools:        e.offeredTools(),
		SystemPrompt: e.buildSystemPrompt(params.SystemPrompt),
		Params:       params,
	}

	start := time.Now()
	var resp *llm.CompletionResponse
	err = e.breakerFor(providerID).Do(func() error {
		var cerr error
		resp, cerr = prov.Complete(ctx, req)
		return cerr
	})
	elapsed := time.Since(start)
	if err != nil {
		e.metrics.ProviderRequestDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("provider", providerID),
				attribute.String("model", modelID)))
		e.metrics.RecordProviderRequest(ctx, providerID, modelID, "error")
		e.metrics.RecordProviderError(ctx, providerID, modelID)
		return nil, fmt.Errorf("engine: provider %s request: %w", providerID, err)
	}
	e.metrics.ProviderRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", providerID),
			attribute.String("model", modelID)))
	e.metrics.RecordProviderRequest(ctx, providerID, modelID, "ok")
	return resp, nil
}

// breakerFor returns the provider's circuit breaker, creating it on first
// use. Breakers outlive the per-request provider clients so failure counts
// accumulate across turns.
func (e *Engine) breakerFor(providerID string) *resilience.Breaker {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	b, ok := e.breakers[providerID]
	if !ok {
		b = resilience.NewBreaker(resilience.BreakerConfig{Name: providerID})
		e.breakers[providerID] = b
	}
	return b
}

// resolveTarget picks the provider and model for a turn: the conversation's
// pinned pair when set, the engine defaults otherwise.
func (e *Engine) resolveTarget(conv *conversation.Conversation) (providerID, modelID string) {
	providerID, modelID = conv.Provider(), conv.Model()
	e.mu.RLock()
	defer e.mu.RUnlock()
	if providerID == "" {
		providerID = e.provider
	}
	if modelID == "" {
		modelID = e.model
	}
	return providerID, modelID
}

// buildProvider constructs a fresh provider client for one request, drawing
// the next credential from the key pool.
func (e *Engine) buildProvider(providerID, modelID string) (llm.Provider, error) {
	if _, ok := e.catalog.Lookup(providerID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerID)
	}
	if !e.providers.Has(providerID) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerID)
	}

	e.mu.RLock()
	keyPool := e.keyPool
	baseURL := e.baseURL
	e.mu.RUnlock()
	if baseURL == "" {
		baseURL = e.catalog.BaseURL(providerID)
	}

	prov, err := e.providers.Create(config.Settings{
		Provider: providerID,
		Model:    modelID,
		BaseURL:  baseURL,
		APIKey:   e.keys.Next(keyPool),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: build provider %s: %w", providerID, err)
	}
	return prov, nil
}

// buildSystemPrompt combines the engine-level prompt, the per-request prompt,
// and the live remote connection summary.
func (e *Engine) buildSystemPrompt(requestPrompt string) string {
	e.mu.RLock()
	prompt := e.systemPrompt
	e.mu.RUnlock()
	if requestPrompt != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += requestPrompt
	}
	if summary := e.remotes.ConnectionSummary(); summary != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += summary
	}
	return prompt
}

// offeredTools builds the tool list sent to the model: enabled local tools
// merged with the remote display cache, every name carrying the protocol
// prefix and every description annotated with the tool's provenance. On a
// name collision the remote definition wins the listing.
func (e *Engine) offeredTools() []types.ToolDefinition {
	transports := make(map[string]string)
	for _, cfg := range e.remotes.Servers() {
		transports[cfg.ID] = string(cfg.Transport)
	}

	byName := make(map[string]types.ToolDefinition)
	var order []string
	for _, def := range e.registry.List(false) {
		byName[def.Name] = def
		order = append(order, def.Name)
	}
	for _, def := range e.remotes.RemoteTools() {
		if _, seen := byName[def.Name]; !seen {
			order = append(order, def.Name)
		}
		byName[def.Name] = def
	}

	out := make([]types.ToolDefinition, 0, len(order))
	for _, name := range order {
		def := byName[name]
		def.Description = annotate(def, transports[def.ServerID])
		def.Name = tool.NamePrefix + def.Name
		out = append(out, def)
	}
	return out
}

// annotate appends the provenance tag the model sees in tool descriptions.
func annotate(def types.ToolDefinition, transport string) string {
	var tag string
	switch def.Provenance {
	case types.ProvenanceBuiltin:
		tag = "(builtin tool)"
	case types.ProvenanceScripted:
		tag = "(scripted tool)"
	case types.ProvenanceRemote:
		if transport == "" {
			tag = "(remote tool)"
		} else {
			tag = fmt.Sprintf("(remote tool via %s)", transport)
		}
	default:
		return def.Description
	}
	if def.Description == "" {
		return tag
	}
	return def.Description + " " + tag
}

// applyResponse appends the response's messages to the conversation and
// executes any requested tool calls, pairing each call message with its
// response message via the provider-assigned call id. Plain assistant text
// accompanying tool calls lands after the call/response pairs, so the
// history reads in execution order.
func (e *Engine) applyResponse(ctx context.Context, conv *conversation.Conversation, resp *llm.CompletionResponse) (appended []types.Message, hadCalls bool) {
	for _, tc := range resp.ToolCalls {
		name := tool.Normalize(tc.Name)

		var args map[string]any
		if tc.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				observe.Logger(ctx).Warn("undecodable tool arguments",
					"tool", name, "error", err)
				args = nil
			}
		}

		callMsg := types.Message{
			Role:          types.RoleAssistant,
			ToolCall:      true,
			ToolCallID:    tc.ID,
			ToolName:      name,
			ToolArguments: args,
		}
		conv.Append(callMsg)
		appended = append(appended, callMsg)

		result := e.executeTool(ctx, name, args)

		respMsg := types.Message{
			Role:         types.RoleTool,
			ToolResponse: true,
			ToolCallID:   tc.ID,
			ToolName:     name,
			ToolResult:   result.AsMap(),
		}
		conv.Append(respMsg)
		appended = append(appended, respMsg)
	}

	if resp.Content != "" {
		msg := types.Message{Role: types.RoleAssistant, Content: resp.Content}
		conv.Append(msg)
		appended = append(appended, msg)
	}

	return appended, len(resp.ToolCalls) > 0
}

// executeTool dispatches a tool invocation local-first: a registered local
// tool always wins execution even when a remote tool shadows its name in the
// listing. Unknown names fall through to the remote layer, whose not-found
// result is returned as data.
func (e *Engine) executeTool(ctx context.Context, name string, params map[string]any) types.ToolResult {
	start := time.Now()

	var result types.ToolResult
	if e.registry.Has(name) {
		result = e.registry.Invoke(ctx, name, params)
	} else {
		result = e.remotes.CallTool(ctx, name, params)
	}

	status := "ok"
	if !result.Success {
		status = "error"
	}
	e.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("tool", tool.Normalize(name)),
			attribute.String("provenance", string(result.Provenance))))
	e.metrics.RecordToolCall(ctx, tool.Normalize(name), string(result.Provenance), status)
	return result
}
