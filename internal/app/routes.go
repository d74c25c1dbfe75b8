package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/tools"
)

var _ events.Controller = (*session.Manager)(nil)

// routes builds the HTTP surface:
//
//	GET  /events          WebSocket event stream and command channel
//	GET  /api/state       current session info
//	POST /api/connect     open a session
//	POST /api/disconnect  close the session
//	GET  /api/tools       declared tool schemas
//	     /mcp             MCP tool console (streamable HTTP)
//	GET  /metrics         Prometheus scrape endpoint
//	GET  /healthz, /readyz
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /events", events.NewStreamHandler(a.bus, a.manager))
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("POST /api/connect", a.handleConnect)
	mux.HandleFunc("POST /api/disconnect", a.handleDisconnect)
	mux.HandleFunc("GET /api/tools", a.handleTools)
	mux.Handle("/mcp", a.mcpServer())
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	health.New(
		health.ConfigLoaded(func() bool { return a.cfg != nil }),
		health.Ping("knowledge", a.pinger),
		health.Credentials(a.cfg.Providers.S2S.Name, func() string { return a.cfg.Providers.S2S.APIKey }),
	).Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Info())
}

// handleConnect dials synchronously. The request context only bounds the
// dial; the session outlives the request.
func (a *App) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := a.manager.Connect(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, a.manager.Info())
	case errors.Is(err, session.ErrBusy):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrMissingCredentials):
		writeJSON(w, http.StatusPreconditionFailed, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	}
}

func (a *App) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Disconnect(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Info())
}

func (a *App) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tools.Definitions())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}
