// Package worker drains queued analyses, running one pipeline per record and
// persisting every transition it emits.
package worker

import (
	"context"
	"errors"
	"time"

	"canvasapi/internal/analysis"
	"canvasapi/internal/domain"
	"canvasapi/internal/infra"
	"canvasapi/internal/storage"
)

const (
	defaultPollInterval = 2 * time.Second
	persistTimeout      = 10 * time.Second

	// DiagnosticCritique is the artifact name for an undecodable critique payload.
	DiagnosticCritique = "critique.txt"
)

// Options configures a Worker. Store may be nil, in which case diagnostics
// are only logged.
type Options struct {
	Repo         domain.AnalysisRepository
	Invoker      analysis.Invoker
	Store        *storage.FileStore
	Logger       *infra.Logger
	PollInterval time.Duration
}

// Worker claims queued analyses one at a time.
type Worker struct {
	repo    domain.AnalysisRepository
	invoker analysis.Invoker
	store   *storage.FileStore
	logger  *infra.Logger
	poll    time.Duration
}

func New(opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Worker{
		repo:    opts.Repo,
		invoker: opts.Invoker,
		store:   opts.Store,
		logger:  logger,
		poll:    poll,
	}
}

// Run processes analyses until ctx is cancelled. It always returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.poll).Msg("worker: started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("worker: failed to claim analysis")
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.poll):
		}
	}
}

// ProcessNext claims and runs one analysis. It reports false when the queue
// was empty.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	a, err := w.repo.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingAnalysis) {
			return false, nil
		}
		return false, err
	}
	w.handle(ctx, a)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, a *domain.Analysis) {
	log := w.logger.With().Str("analysis_id", a.ID).Str("canvas_id", a.CanvasID).Logger()
	log.Info().Msg("worker: picked analysis")

	// Persistence must outlive a cancelled run so the record is requeued.
	persistCtx := context.WithoutCancel(ctx)

	o := analysis.NewOrchestrator(w.invoker, &log)
	unsubscribe := o.Subscribe(func(out analysis.Outcome) {
		w.persist(persistCtx, a, out)
	})
	defer unsubscribe()

	_, err := o.Start(ctx, analysis.CanvasRef{ID: a.CanvasID, ImageURL: a.ImageURL})
	switch {
	case err == nil:
	case errors.Is(err, analysis.ErrInvalidCanvas):
		w.update(persistCtx, a.ID, "mark failed", func(ctx context.Context) error {
			return w.repo.MarkFailed(ctx, a.ID, "", err.Error())
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info().Msg("worker: analysis requeued after cancellation")
	default:
		log.Error().Err(err).Msg("worker: analysis did not run")
	}
}

func (w *Worker) persist(ctx context.Context, a *domain.Analysis, out analysis.Outcome) {
	switch out.State {
	case analysis.StateRunning:
		w.update(ctx, a.ID, "mark running", func(ctx context.Context) error {
			return w.repo.MarkRunning(ctx, a.ID)
		})
	case analysis.StateSucceeded:
		w.update(ctx, a.ID, "mark succeeded", func(ctx context.Context) error {
			return w.repo.MarkSucceeded(ctx, a.ID, out.Description, out.RefinedPrompt)
		})
	case analysis.StateFailed:
		var stage analysis.Stage
		message := "analysis failed"
		if out.Failure != nil {
			stage = out.Failure.Stage
			message = out.Failure.Message
			if stage == analysis.StageParse && out.Failure.Raw != "" {
				w.writeDiagnostic(ctx, a.ID, out.Failure.Raw)
			}
		}
		w.logger.Info().
			Str("analysis_id", a.ID).
			Str("stage", stage.Label()).
			Msg("worker: analysis failed")
		w.update(ctx, a.ID, "mark failed", func(ctx context.Context) error {
			return w.repo.MarkFailed(ctx, a.ID, string(stage), message)
		})
	case analysis.StateIdle:
		w.update(ctx, a.ID, "requeue", func(ctx context.Context) error {
			return w.repo.Requeue(ctx, a.ID)
		})
	}
}

func (w *Worker) update(ctx context.Context, id, action string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		w.logger.Error().Err(err).Str("analysis_id", id).Msgf("worker: %s failed", action)
	}
}

func (w *Worker) writeDiagnostic(ctx context.Context, id, raw string) {
	if w.store == nil {
		return
	}
	key, err := w.store.Write(ctx, storage.DiagnosticKey(id, DiagnosticCritique), []byte(raw))
	if err != nil {
		w.logger.Warn().Err(err).Str("analysis_id", id).Msg("worker: persist diagnostic failed")
		return
	}
	w.logger.Info().Str("analysis_id", id).Str("key", key).Msg("worker: stored critique diagnostic")
}
