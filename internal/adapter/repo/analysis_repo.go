package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"canvasapi/internal/domain"
	"canvasapi/internal/infra"
	"canvasapi/internal/sqlinline"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// AnalysisRepositoryPG implements domain.AnalysisRepository.
type AnalysisRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAnalysisRepository creates a repository backed by marker-tagged SQL.
func NewAnalysisRepository(sql infra.SQLExecutor) *AnalysisRepositoryPG {
	return &AnalysisRepositoryPG{sql: sql}
}

// EnsureSchema creates the analyses table and its queue index when missing.
func (r *AnalysisRepositoryPG) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{sqlinline.QCreateAnalysesTable, sqlinline.QCreateAnalysesIndex} {
		if _, err := r.sql.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure analyses schema: %w", err)
		}
	}
	return nil
}

// Create inserts a queued analysis. ID and Status are assigned when empty.
func (r *AnalysisRepositoryPG) Create(ctx context.Context, a *domain.Analysis) error {
	a.CanvasID = strings.TrimSpace(a.CanvasID)
	a.ImageURL = strings.TrimSpace(a.ImageURL)
	if a.CanvasID == "" || a.ImageURL == "" {
		return domain.ErrInvalidInput
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AnalysisStatusQueued
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertAnalysis, a.ID, a.CanvasID, a.ImageURL, string(a.Status))
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// GetByID fetches one analysis.
func (r *AnalysisRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Analysis, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	a, err := scanAnalysis(r.sql.QueryRow(ctx, sqlinline.QGetAnalysis, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListByCanvas returns the most recent analyses for a canvas, newest first.
func (r *AnalysisRepositoryPG) ListByCanvas(ctx context.Context, canvasID string, limit int) ([]domain.Analysis, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListAnalysesByCanvas, canvasID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Analysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimNext moves the oldest queued analysis to running. Concurrent workers
// never claim the same row.
func (r *AnalysisRepositoryPG) ClaimNext(ctx context.Context) (*domain.Analysis, error) {
	a, err := scanAnalysis(r.sql.QueryRow(ctx, sqlinline.QClaimNextAnalysis))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoPendingAnalysis
		}
		return nil, err
	}
	return a, nil
}

func (r *AnalysisRepositoryPG) MarkRunning(ctx context.Context, id string) error {
	return r.update(ctx, sqlinline.QMarkAnalysisRunning, id)
}

func (r *AnalysisRepositoryPG) MarkSucceeded(ctx context.Context, id, description, refinedPrompt string) error {
	return r.update(ctx, sqlinline.QMarkAnalysisSucceeded, id, description, refinedPrompt)
}

func (r *AnalysisRepositoryPG) MarkFailed(ctx context.Context, id, stage, message string) error {
	return r.update(ctx, sqlinline.QMarkAnalysisFailed, id, stage, message)
}

// Requeue returns a running analysis to the queue.
func (r *AnalysisRepositoryPG) Requeue(ctx context.Context, id string) error {
	return r.update(ctx, sqlinline.QRequeueAnalysis, id)
}

func (r *AnalysisRepositoryPG) update(ctx context.Context, query, id string, args ...any) error {
	tag, err := r.sql.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*domain.Analysis, error) {
	var (
		a      domain.Analysis
		status string
	)
	if err := row.Scan(
		&a.ID,
		&a.CanvasID,
		&a.ImageURL,
		&status,
		&a.Description,
		&a.RefinedPrompt,
		&a.FailedStage,
		&a.ErrorMessage,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = domain.AnalysisStatus(status)
	return &a, nil
}

var _ domain.AnalysisRepository = (*AnalysisRepositoryPG)(nil)
