package analysis

// DisplayResult is what a consumer renders for an outcome.
type DisplayResult struct {
	State         State  `json:"state"`
	Description   string `json:"description,omitempty"`
	RefinedPrompt string `json:"refined_prompt,omitempty"`
	FailedStage   Stage  `json:"failed_stage,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Project maps an outcome to its display form. It is pure: blank success
// fields fall back to the placeholder text.
func Project(o Outcome) DisplayResult {
	switch o.State {
	case StateSucceeded:
		return DisplayResult{
			State:         StateSucceeded,
			Description:   orPlaceholder(o.Description, PlaceholderDescription),
			RefinedPrompt: orPlaceholder(o.RefinedPrompt, PlaceholderRefinedPrompt),
		}
	case StateFailed:
		res := DisplayResult{State: StateFailed, Error: "analysis failed"}
		if o.Failure != nil {
			res.FailedStage = o.Failure.Stage
			if o.Failure.Message != "" {
				res.Error = o.Failure.Message
			}
		}
		return res
	case StateRunning:
		return DisplayResult{State: StateRunning}
	default:
		return DisplayResult{State: StateIdle}
	}
}

func orPlaceholder(v, placeholder string) string {
	return fieldOrPlaceholder(&v, placeholder)
}
