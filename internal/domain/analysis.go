package domain

import "time"

// AnalysisStatus enumerates persisted analysis lifecycle states.
type AnalysisStatus string

const (
	AnalysisStatusQueued    AnalysisStatus = "queued"
	AnalysisStatusRunning   AnalysisStatus = "running"
	AnalysisStatusSucceeded AnalysisStatus = "succeeded"
	AnalysisStatusFailed    AnalysisStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisStatusSucceeded || s == AnalysisStatusFailed
}

// Analysis is one queued or completed pipeline run for a canvas image.
type Analysis struct {
	ID            string         `json:"id"`
	CanvasID      string         `json:"canvas_id"`
	ImageURL      string         `json:"image_url"`
	Status        AnalysisStatus `json:"status"`
	Description   string         `json:"description,omitempty"`
	RefinedPrompt string         `json:"refined_prompt,omitempty"`
	FailedStage   string         `json:"failed_stage,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
