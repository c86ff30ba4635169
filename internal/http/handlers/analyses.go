package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"canvasapi/internal/analysis"
	"canvasapi/internal/domain"
)

const maxCreateBody = 16 << 10

type createAnalysisRequest struct {
	ImageURL string `json:"image_url"`
}

type analysisResponse struct {
	Analysis *domain.Analysis       `json:"analysis"`
	Display  analysis.DisplayResult `json:"display"`
}

type analysisListResponse struct {
	Items []domain.Analysis `json:"items"`
}

// CreateAnalysis queues a pipeline run for the canvas in the URL.
func (a *App) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	canvasID := strings.TrimSpace(chi.URLParam(r, "canvasID"))
	if canvasID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "canvas id required")
		return
	}
	var req createAnalysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		a.error(w, http.StatusBadRequest, "invalid_canvas", "image_url is required")
		return
	}

	record := &domain.Analysis{CanvasID: canvasID, ImageURL: req.ImageURL}
	if err := a.Repo.Create(r.Context(), record); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid analysis request")
			return
		}
		a.Logger.Error().Err(err).Str("canvas_id", canvasID).Msg("handlers: queue analysis failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue analysis")
		return
	}
	a.json(w, http.StatusAccepted, analysisResponse{Analysis: record, Display: DisplayFor(record)})
}

// ListAnalyses returns recent analyses for a canvas, newest first.
func (a *App) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	canvasID := strings.TrimSpace(chi.URLParam(r, "canvasID"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := a.Repo.ListByCanvas(r.Context(), canvasID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("canvas_id", canvasID).Msg("handlers: list analyses failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list analyses")
		return
	}
	if items == nil {
		items = []domain.Analysis{}
	}
	a.json(w, http.StatusOK, analysisListResponse{Items: items})
}

// GetAnalysis returns one analysis with its display projection.
func (a *App) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := a.Repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "analysis not found")
			return
		}
		a.Logger.Error().Err(err).Str("analysis_id", id).Msg("handlers: load analysis failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load analysis")
		return
	}
	a.json(w, http.StatusOK, analysisResponse{Analysis: record, Display: DisplayFor(record)})
}

// DisplayFor maps a stored record onto the orchestrator outcome it reflects
// and projects it. A queued record displays as idle.
func DisplayFor(record *domain.Analysis) analysis.DisplayResult {
	var out analysis.Outcome
	switch record.Status {
	case domain.AnalysisStatusRunning:
		out = analysis.Running()
	case domain.AnalysisStatusSucceeded:
		out = analysis.Succeeded(record.Description, record.RefinedPrompt)
	case domain.AnalysisStatusFailed:
		out = analysis.Outcome{
			State: analysis.StateFailed,
			Failure: &analysis.Failure{
				Stage:   analysis.Stage(record.FailedStage),
				Message: record.ErrorMessage,
			},
		}
	default:
		out = analysis.Outcome{State: analysis.StateIdle}
	}
	return analysis.Project(out)
}
