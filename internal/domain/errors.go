package domain

import "errors"

var (
	// ErrInvalidInput marks malformed transactions rejected before scoring.
	ErrInvalidInput = errors.New("invalid input")

	// ErrScorerUnavailable means the anomaly model is not loaded. It is a
	// service failure, never a business decision.
	ErrScorerUnavailable = errors.New("scorer unavailable")

	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)
