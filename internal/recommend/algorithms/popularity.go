// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package algorithms

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

// PopularityConfig holds popularity scoring parameters.
type PopularityConfig struct {
	// Window bounds the trailing interaction window. The reference point
	// is the newest interaction timestamp in the training set, so a
	// replayed dataset scores identically.
	Window time.Duration
}

// Popularity scores items by confidence-weighted interaction counts
// within a trailing window, min-max normalized over all items at train
// time. It is user-independent and serves as the blend baseline and the
// last-resort cold-start fallback.
type Popularity struct {
	BaseAlgorithm
	cfg PopularityConfig

	scores map[int64]float64
}

// popularityState is the gob-serialized form of a trained model.
type popularityState struct {
	Scores map[int64]float64
}

// NewPopularity creates a popularity algorithm.
func NewPopularity(cfg PopularityConfig) *Popularity {
	if cfg.Window <= 0 {
		cfg.Window = 90 * 24 * time.Hour
	}
	return &Popularity{
		BaseAlgorithm: NewBaseAlgorithm("popularity"),
		cfg:           cfg,
	}
}

// Train accumulates windowed confidence-weighted counts.
func (p *Popularity) Train(ctx context.Context, interactions []recommend.Interaction, _ []recommend.Item) error {
	if len(interactions) == 0 {
		return fmt.Errorf("popularity train: %w", recommend.ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("popularity train canceled: %w", err)
	}

	var newest time.Time
	for _, inter := range interactions {
		if inter.Timestamp.After(newest) {
			newest = inter.Timestamp
		}
	}
	cutoff := newest.Add(-p.cfg.Window)

	scores := make(map[int64]float64)
	for _, inter := range interactions {
		if inter.Timestamp.Before(cutoff) {
			continue
		}
		scores[inter.ItemID] += inter.Type.Confidence()
	}
	scores = normalizeScores(scores)

	p.acquireTrainLock()
	defer p.releaseTrainLock()
	p.scores = scores
	p.markTrained()
	return nil
}

// Predict returns popularity scores for the candidates. Items with no
// windowed interactions are absent.
func (p *Popularity) Predict(_ context.Context, _ int64, candidates []int64) (map[int64]float64, error) {
	p.acquirePredictLock()
	defer p.releasePredictLock()

	if !p.trained {
		return nil, fmt.Errorf("popularity predict: %w", recommend.ErrModelNotTrained)
	}

	out := make(map[int64]float64)
	for _, itemID := range candidates {
		if s, ok := p.scores[itemID]; ok {
			out[itemID] = s
		}
	}
	return out, nil
}

// PredictSimilar is popularity over the candidates; the reference item
// does not influence a user-independent signal.
func (p *Popularity) PredictSimilar(ctx context.Context, _ int64, candidates []int64) (map[int64]float64, error) {
	return p.Predict(ctx, 0, candidates)
}

// State serializes the trained scores.
func (p *Popularity) State() ([]byte, error) {
	p.acquirePredictLock()
	defer p.releasePredictLock()

	if !p.trained {
		return nil, fmt.Errorf("popularity state: %w", recommend.ErrModelNotTrained)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(popularityState{Scores: p.scores}); err != nil {
		return nil, fmt.Errorf("popularity state encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore loads scores serialized by State.
func (p *Popularity) Restore(state []byte) error {
	var st popularityState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&st); err != nil {
		return fmt.Errorf("popularity state decode: %w", err)
	}

	p.acquireTrainLock()
	defer p.releaseTrainLock()
	p.scores = st.Scores
	p.markTrained()
	return nil
}
