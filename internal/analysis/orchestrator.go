package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"canvasapi/internal/infra"
	"canvasapi/internal/providers/canvasai"
)

var (
	// ErrInvalidCanvas is returned when a run is requested without an image location.
	ErrInvalidCanvas = errors.New("analysis: canvas image url is required")
	// ErrAlreadyRunning is returned when Start is called while a run is in progress.
	ErrAlreadyRunning = errors.New("analysis: a run is already in progress")
)

// Placeholder text substituted for critique fields the service omitted.
const (
	PlaceholderDescription   = "No description available"
	PlaceholderRefinedPrompt = "No refined prompt available"
)

// Invoker issues one request to a remote analysis endpoint.
type Invoker interface {
	Invoke(ctx context.Context, path string, params map[string]string) (json.RawMessage, error)
}

type subscriber struct {
	id int
	fn func(Outcome)
}

// Orchestrator runs the classification, OCR and critique stages in order
// for one canvas at a time. It is safe for concurrent use, but a second
// Start while a run is in progress is rejected with ErrAlreadyRunning.
type Orchestrator struct {
	invoker Invoker
	logger  *infra.Logger

	// emitMu orders each state change with the delivery of its outcome, so
	// callbacks never overlap and never see a later run before an earlier one.
	emitMu sync.Mutex

	mu     sync.Mutex
	state  State
	last   Outcome
	nextID int
	subs   []subscriber
}

// NewOrchestrator returns an idle orchestrator. A nil logger discards output.
func NewOrchestrator(invoker Invoker, logger *infra.Logger) *Orchestrator {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Orchestrator{
		invoker: invoker,
		logger:  logger,
		state:   StateIdle,
		last:    Outcome{State: StateIdle},
	}
}

// Subscribe registers fn to receive every transition. Callbacks run
// synchronously on the goroutine calling Start, one at a time and in
// transition order, and must not call Start themselves. The returned
// function removes the subscription.
func (o *Orchestrator) Subscribe(fn func(Outcome)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, subscriber{id: id, fn: fn})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Last returns the most recent outcome.
func (o *Orchestrator) Last() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Start runs the pipeline for ref and blocks until it succeeds, fails or ctx
// is cancelled. Stage failures are reported in the returned Outcome with a
// nil error. A non-nil error means the run never started (ErrInvalidCanvas,
// ErrAlreadyRunning) or was cancelled, in which case the orchestrator is
// back to StateIdle and no terminal outcome was emitted.
func (o *Orchestrator) Start(ctx context.Context, ref CanvasRef) (Outcome, error) {
	if strings.TrimSpace(ref.ImageURL) == "" {
		return Outcome{}, ErrInvalidCanvas
	}

	o.emitMu.Lock()
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		o.emitMu.Unlock()
		return Outcome{}, ErrAlreadyRunning
	}
	o.state = StateRunning
	o.last = Running()
	o.mu.Unlock()
	o.emit(Running())
	o.emitMu.Unlock()

	o.logger.Debug().Str("canvas_id", ref.ID).Msg("analysis: run started")

	outcome, err := o.run(ctx, ref)
	if err != nil {
		idle := Outcome{State: StateIdle}
		o.transition(idle)
		o.logger.Info().Err(err).Str("canvas_id", ref.ID).Msg("analysis: run cancelled")
		return idle, err
	}

	o.transition(outcome)
	if outcome.Failure != nil {
		o.logger.Info().
			Str("canvas_id", ref.ID).
			Str("stage", string(outcome.Failure.Stage)).
			Str("error", outcome.Failure.Message).
			Msg("analysis: run failed")
	} else {
		o.logger.Debug().Str("canvas_id", ref.ID).Msg("analysis: run succeeded")
	}
	return outcome, nil
}

func (o *Orchestrator) transition(outcome Outcome) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	o.mu.Lock()
	o.state = outcome.State
	o.last = outcome
	o.mu.Unlock()
	o.emit(outcome)
}

func (o *Orchestrator) emit(outcome Outcome) {
	o.mu.Lock()
	subs := make([]subscriber, len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()
	for _, s := range subs {
		s.fn(outcome)
	}
}

// run executes the stages. The error return is reserved for cancellation.
func (o *Orchestrator) run(ctx context.Context, ref CanvasRef) (Outcome, error) {
	imageURL := strings.TrimSpace(ref.ImageURL)

	payload, err := o.invoke(ctx, StageClassification, canvasai.PathClassification, map[string]string{
		"image_url": imageURL,
	})
	if err != nil {
		return o.fail(ctx, StageClassification, err)
	}
	var classification Classification
	if err := canvasai.Decode(payload, &classification); err != nil {
		return o.fail(ctx, StageClassification, err)
	}
	classification.normalize()

	ocr, err := o.invoke(ctx, StageOCR, canvasai.PathOCR, map[string]string{
		"image_url": imageURL,
	})
	if err != nil {
		text, ok := plainText(err)
		if !ok {
			return o.fail(ctx, StageOCR, err)
		}
		ocr = text
	}

	top5, err := json.Marshal(classification.Top5)
	if err != nil {
		return o.fail(ctx, StageCritique, fmt.Errorf("encode torch_analysis: %w", err))
	}
	critique, err := o.invoke(ctx, StageCritique, canvasai.PathCritique, map[string]string{
		"ocr":            canvasai.Text(ocr),
		"torch_analysis": string(top5),
		"canvas_id":      ref.ID,
	})
	raw := string(critique)
	if err != nil {
		text, ok := plainText(err)
		if !ok {
			return o.fail(ctx, StageCritique, err)
		}
		critique = text
		raw = rawPayload(err)
	}

	var decoded critiquePayload
	if err := canvasai.DecodeObject(critique, &decoded); err != nil {
		o.logger.Warn().
			Err(err).
			Str("canvas_id", ref.ID).
			Str("raw", raw).
			Msg("analysis: critique payload could not be parsed")
		outcome := Failed(StageParse, err)
		outcome.Failure.Raw = raw
		return outcome, nil
	}

	return Succeeded(
		fieldOrPlaceholder(decoded.AdDescription, PlaceholderDescription),
		fieldOrPlaceholder(decoded.RefinedPrompt, PlaceholderRefinedPrompt),
	), nil
}

func (o *Orchestrator) invoke(ctx context.Context, stage Stage, path string, params map[string]string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.logger.Debug().Str("stage", string(stage)).Msg("analysis: stage request")
	return o.invoker.Invoke(ctx, path, params)
}

// fail converts a stage error into a Failed outcome unless the run was
// cancelled, which is reported as an error instead.
func (o *Orchestrator) fail(ctx context.Context, stage Stage, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	return Failed(stage, err), nil
}

// plainText recovers a 2xx body that was not JSON as a JSON string so it
// can go through the same decode path as a JSON-encoded string payload.
func plainText(err error) (json.RawMessage, bool) {
	var decodeErr *canvasai.DecodeError
	if !errors.As(err, &decodeErr) || strings.TrimSpace(decodeErr.Raw) == "" {
		return nil, false
	}
	quoted, marshalErr := json.Marshal(strings.TrimSpace(decodeErr.Raw))
	if marshalErr != nil {
		return nil, false
	}
	return quoted, true
}

func rawPayload(err error) string {
	var decodeErr *canvasai.DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Raw
	}
	return ""
}

func fieldOrPlaceholder(v *string, placeholder string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return placeholder
	}
	return *v
}
