package domain

import "context"

// AnalysisRepository defines persistence for analysis records.
type AnalysisRepository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, analysis *Analysis) error
	GetByID(ctx context.Context, id string) (*Analysis, error)
	ListByCanvas(ctx context.Context, canvasID string, limit int) ([]Analysis, error)
	// ClaimNext moves the oldest queued analysis to running and returns it,
	// or ErrNoPendingAnalysis when the queue is empty.
	ClaimNext(ctx context.Context) (*Analysis, error)
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id, description, refinedPrompt string) error
	MarkFailed(ctx context.Context, id, stage, message string) error
	Requeue(ctx context.Context, id string) error
}
