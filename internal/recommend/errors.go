// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package recommend

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData signals that a training cycle has too little
	// interaction data to proceed. The scheduler treats it as a skip,
	// never a failure.
	ErrInsufficientData = errors.New("insufficient interaction data")

	// ErrModelNotTrained signals that no model has been promoted yet.
	// Scoring degrades to popularity and cold-start heuristics instead
	// of surfacing it to callers.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrDegenerateClustering signals clustering input that cannot
	// produce meaningful segments (identical points, n <= k). Quality
	// metrics fall back to sentinel values and training completes.
	ErrDegenerateClustering = errors.New("degenerate clustering input")
)

// TrainingError wraps an unexpected failure inside a training cycle.
// The cycle aborts and the active model stays untouched.
type TrainingError struct {
	// Stage names the pipeline stage that failed
	// (features, clustering, training, evaluation, promotion).
	Stage string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *TrainingError) Unwrap() error {
	return e.Err
}
