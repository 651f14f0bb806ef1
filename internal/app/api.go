package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convoke-ai/convoke/internal/conversation"
	"github.com/convoke-ai/convoke/internal/engine"
	"github.com/convoke-ai/convoke/internal/observe"
	"github.com/convoke-ai/convoke/internal/remote"
	"github.com/convoke-ai/convoke/pkg/types"
)

// routes builds the HTTP API. Every route runs behind the observability
// middleware; /metrics serves the Prometheus bridge registry.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	a.ready.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/info", a.handleInfo)
	mux.HandleFunc("GET /v1/models", a.handleModels)

	mux.HandleFunc("POST /v1/conversations", a.handleCreateConversation)
	mux.HandleFunc("GET /v1/conversations", a.handleListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", a.handleGetConversation)
	mux.HandleFunc("DELETE /v1/conversations/{id}", a.handleDeleteConversation)
	mux.HandleFunc("POST /v1/conversations/{id}/generate", a.handleGenerate)

	mux.HandleFunc("GET /v1/tools", a.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}/call", a.handleCallTool)

	mux.HandleFunc("GET /v1/servers", a.handleListServers)
	mux.HandleFunc("POST /v1/servers", a.handleAddServer)
	mux.HandleFunc("DELETE /v1/servers/{id}", a.handleRemoveServer)
	mux.HandleFunc("POST /v1/servers/{id}/connect", a.handleConnectServer)

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

func (a *App) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Info())
}

func (a *App) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": a.engine.Catalog().Providers(),
		"models":    a.engine.Catalog().Models(),
	})
}

// ── Conversations ───────────────────────────────────────────────────────────

func (a *App) handleCreateConversation(w http.ResponseWriter, _ *http.Request) {
	id := a.engine.NewConversation()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *App) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.ListConversations())
}

func (a *App) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.engine.History(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *App) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteConversation(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Prompt    string                 `json:"prompt"`
	Params    types.GenerationParams `json:"params"`
	MaxRounds int                    `json:"maxRounds"`
}

func (a *App) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var (
		outcome *types.TurnOutcome
		err     error
	)
	if req.MaxRounds > 1 {
		outcome, err = a.engine.GenerateRounds(r.Context(), req.Prompt, req.Params, r.PathValue("id"), req.MaxRounds)
	} else {
		outcome, err = a.engine.Generate(r.Context(), req.Prompt, req.Params, r.PathValue("id"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ── Tools ───────────────────────────────────────────────────────────────────

func (a *App) handleListTools(w http.ResponseWriter, r *http.Request) {
	includeDisabled := r.URL.Query().Get("all") == "true"
	writeJSON(w, http.StatusOK, a.engine.Tools(includeDisabled))
}

func (a *App) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	// Failures come back as result data with HTTP 200; the call itself
	// succeeded even when the tool did not.
	writeJSON(w, http.StatusOK, a.engine.CallTool(r.Context(), r.PathValue("name"), params))
}

// ── Remote servers ──────────────────────────────────────────────────────────

type serverView struct {
	remote.ServerConfig
	Status string `json:"status"`
}

func (a *App) handleListServers(w http.ResponseWriter, _ *http.Request) {
	servers := a.engine.Servers()
	out := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		view := serverView{ServerConfig: srv}
		if status, err := a.engine.ServerStatus(srv.ID); err == nil {
			view.Status = status.String()
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var cfg remote.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	id, err := a.engine.AddServer(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *App) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RemoveServer(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleConnectServer(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.ConnectServer(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Response helpers ────────────────────────────────────────────────────────

// writeError maps domain sentinels onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, remote.ErrServerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrEmptyPrompt):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnsupportedProvider), errors.Is(err, engine.ErrUnknownModel):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
