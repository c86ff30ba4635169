package analysis

import (
	"cmp"
	"fmt"
	"slices"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CanvasRef identifies the image a run analyzes. It is never mutated.
type CanvasRef struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

// Prediction is one entry of the classifier's ranked label list.
type Prediction struct {
	Label string  `json:"label"`
	Prob  float64 `json:"prob"`
}

// Classification is the output of the classification stage.
type Classification struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Top5       []Prediction `json:"top5"`
}

// MaxTopPredictions caps the ranked list forwarded to the critique stage.
const MaxTopPredictions = 5

// normalize orders Top5 by descending probability and caps its length.
func (c *Classification) normalize() {
	slices.SortStableFunc(c.Top5, func(a, b Prediction) int {
		return cmp.Compare(b.Prob, a.Prob)
	})
	if len(c.Top5) > MaxTopPredictions {
		c.Top5 = c.Top5[:MaxTopPredictions]
	}
	if c.Top5 == nil {
		c.Top5 = []Prediction{}
	}
}

type critiquePayload struct {
	AdDescription *string `json:"ad_description"`
	RefinedPrompt *string `json:"refined_prompt"`
}

// Stage names the pipeline step a failure is attributed to.
type Stage string

const (
	StageClassification Stage = "classification"
	StageOCR            Stage = "ocr"
	StageCritique       Stage = "critique"
	StageParse          Stage = "parse"
)

// Label is the human-readable stage name, e.g. "Classification".
func (s Stage) Label() string {
	if s == "" {
		return ""
	}
	if s == StageOCR {
		return "OCR"
	}
	return cases.Title(language.Und).String(string(s))
}

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Outcome is the value emitted on every state transition. Description and
// RefinedPrompt are set only when State is StateSucceeded, Failure only when
// State is StateFailed.
type Outcome struct {
	State         State    `json:"state"`
	Description   string   `json:"description,omitempty"`
	RefinedPrompt string   `json:"refined_prompt,omitempty"`
	Failure       *Failure `json:"failure,omitempty"`
}

// Running is the outcome emitted when a run starts.
func Running() Outcome {
	return Outcome{State: StateRunning}
}

// Succeeded builds a successful outcome.
func Succeeded(description, refinedPrompt string) Outcome {
	return Outcome{State: StateSucceeded, Description: description, RefinedPrompt: refinedPrompt}
}

// Failed builds a failed outcome attributed to stage.
func Failed(stage Stage, err error) Outcome {
	return Outcome{State: StateFailed, Failure: &Failure{Stage: stage, Message: err.Error(), Err: err}}
}

// Failure describes why a run stopped. Raw carries the upstream payload when
// it could not be decoded.
type Failure struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s stage failed: %s", f.Stage, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }
