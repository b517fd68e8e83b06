package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientContext marks a window that has neither a baseline
	// nor a computable batch fallback. Such windows are skipped, not scored.
	ErrInsufficientContext = errors.New("insufficient context")

	// ErrFeatureMismatch marks a model artifact whose feature contract does not
	// match the feature engine output. It is fatal for a run.
	ErrFeatureMismatch = errors.New("feature mismatch")
)
