package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"canvasapi/internal/domain"
	"canvasapi/internal/infra"
)

// UpstreamProber checks the remote analysis host.
type UpstreamProber interface {
	Health(ctx context.Context) (json.RawMessage, error)
}

// App carries the dependencies shared by every handler.
type App struct {
	Repo     domain.AnalysisRepository
	Upstream UpstreamProber
	Logger   *infra.Logger
}

func NewApp(repo domain.AnalysisRepository, upstream UpstreamProber, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &App{Repo: repo, Upstream: upstream, Logger: logger}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}
