package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNoPendingAnalysis = errors.New("no pending analysis")
	ErrInvalidInput      = errors.New("invalid input")
)
