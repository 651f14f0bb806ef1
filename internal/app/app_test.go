package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/convoke-ai/convoke/internal/config"
	"github.com/convoke-ai/convoke/internal/engine"
	"github.com/convoke-ai/convoke/internal/remote"
	"github.com/convoke-ai/convoke/pkg/provider/llm"
	"github.com/convoke-ai/convoke/pkg/provider/llm/mock"
	"github.com/convoke-ai/convoke/pkg/types"
)

// newTestApp builds an App around an engine whose provider is the mock.
func newTestApp(t *testing.T, prov llm.Provider) *App {
	t.Helper()

	reg := config.NewRegistry()
	reg.Register("siliconflow", func(config.Settings) (llm.Provider, error) {
		return prov, nil
	})
	eng := engine.New(engine.Config{
		Providers: reg,
		Provider:  "siliconflow",
		Model:     "Qwen/Qwen3-8B",
		APIKeys:   "sk-test",
	})
	t.Cleanup(eng.Close)

	a, err := New(context.Background(), &config.Config{}, WithEngine(eng))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		// Arrays decode to nil here; callers that need them decode themselves.
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestAPI_GenerateRoundTrip(t *testing.T) {
	prov := &mock.Provider{Responses: []*llm.CompletionResponse{{Content: "hello there"}}}
	a := newTestApp(t, prov)
	routes := a.routes()

	rec, created := doJSON(t, routes, http.MethodPost, "/v1/conversations", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation status = %d, want 201", rec.Code)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("create conversation returned no id")
	}

	rec, outcome := doJSON(t, routes, http.MethodPost, "/v1/conversations/"+id+"/generate", `{"prompt": "hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d, body %s", rec.Code, rec.Body.String())
	}
	if outcome["Text"] != "hello there" {
		t.Errorf("outcome text = %v, want hello there", outcome["Text"])
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/"+id, nil)
	recHist := httptest.NewRecorder()
	routes.ServeHTTP(recHist, req)
	if recHist.Code != http.StatusOK {
		t.Fatalf("history status = %d", recHist.Code)
	}
	var msgs []types.Message
	if err := json.Unmarshal(recHist.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("history has %d messages, want 2", len(msgs))
	}
}

func TestAPI_GenerateValidation(t *testing.T) {
	a := newTestApp(t, &mock.Provider{})
	routes := a.routes()

	rec, _ := doJSON(t, routes, http.MethodPost, "/v1/conversations", "")
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec, _ = doJSON(t, routes, http.MethodPost, "/v1/conversations/"+created["id"]+"/generate", `{"prompt": "  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, routes, http.MethodPost, "/v1/conversations/missing/generate", `{"prompt": "hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation status = %d, want 404", rec.Code)
	}
}

func TestAPI_ToolCall(t *testing.T) {
	a := newTestApp(t, &mock.Provider{})

	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}, "b": map[string]any{"type": "number"}},
	}
	err := a.Engine().RegisterTool("add", "Adds two numbers.", schema, types.ProvenanceBuiltin,
		func(_ context.Context, params map[string]any) (map[string]any, error) {
			a, _ := params["a"].(float64)
			b, _ := params["b"].(float64)
			return map[string]any{"result": a + b}, nil
		})
	if err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	routes := a.routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	var tools []types.ToolDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &tools); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "add" {
		t.Fatalf("tools = %v, want [add]", tools)
	}

	recCall, result := doJSON(t, routes, http.MethodPost, "/v1/tools/add/call", `{"a": 2, "b": 3}`)
	if recCall.Code != http.StatusOK {
		t.Fatalf("call status = %d", recCall.Code)
	}
	if result["success"] != true {
		t.Errorf("call result = %v, want success", result)
	}
	if result["result"] != 5.0 {
		t.Errorf("result = %v, want 5", result["result"])
	}

	// Unknown tool still answers 200 with a failure result.
	recMiss, missResult := doJSON(t, routes, http.MethodPost, "/v1/tools/nope/call", `{}`)
	if recMiss.Code != http.StatusOK {
		t.Errorf("unknown tool status = %d, want 200", recMiss.Code)
	}
	if missResult["success"] != false {
		t.Errorf("unknown tool result = %v, want failure data", missResult)
	}
}

func TestAPI_HealthEndpoints(t *testing.T) {
	a := newTestApp(t, &mock.Provider{})
	routes := a.routes()

	rec, body := doJSON(t, routes, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, routes, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d %v", rec.Code, body)
	}
}

func TestApplyConfig_ReconcilesServers(t *testing.T) {
	a := newTestApp(t, &mock.Provider{})

	old := &config.Config{Servers: []remote.ServerConfig{
		{Name: "keep", Transport: remote.TransportSSE, URL: "http://127.0.0.1:1/sse"},
		{Name: "drop", Transport: remote.TransportSSE, URL: "http://127.0.0.1:1/sse"},
	}}
	for _, srv := range old.Servers {
		if _, err := a.Engine().AddServer(context.Background(), srv); err != nil {
			t.Fatalf("AddServer: %v", err)
		}
	}

	next := &config.Config{Servers: []remote.ServerConfig{
		{Name: "keep", Transport: remote.TransportStreamableHTTP, URL: "http://127.0.0.1:1/mcp"},
		{Name: "new", Transport: remote.TransportSSE, URL: "http://127.0.0.1:1/sse"},
	}}
	a.ApplyConfig(context.Background(), old, next)

	byName := make(map[string]remote.ServerConfig)
	for _, srv := range a.Engine().Servers() {
		byName[srv.Name] = srv
	}
	if len(byName) != 2 {
		t.Fatalf("server set = %v, want keep+new", byName)
	}
	if _, ok := byName["drop"]; ok {
		t.Error("removed server still registered")
	}
	if byName["keep"].Transport != remote.TransportStreamableHTTP {
		t.Errorf("modified server transport = %q, want streamable-http", byName["keep"].Transport)
	}
	if _, ok := byName["new"]; !ok {
		t.Error("added server missing")
	}
}
