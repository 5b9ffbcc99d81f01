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
	"math"

	"github.com/sokonilabs/sokoni/internal/recommend"
	"github.com/sokonilabs/sokoni/internal/recommend/features"
)

// ContentBased scores candidates by cosine similarity between the item's
// TF-IDF vector and the trader's taste vector: the L2-normalized,
// confidence-weighted sum of vectors of items in their history. The
// vocabulary is rebuilt on every Train; it is never frozen.
type ContentBased struct {
	BaseAlgorithm

	itemVectors map[int64]map[int]float64
	userVectors map[int64]map[int]float64
	vectorizer  *features.Vectorizer
}

// contentState is the gob-serialized form of a trained content model.
type contentState struct {
	ItemVectors map[int64]map[int]float64
	UserVectors map[int64]map[int]float64
	Vectorizer  *features.Vectorizer
}

// NewContentBased creates a content-based algorithm.
func NewContentBased() *ContentBased {
	return &ContentBased{
		BaseAlgorithm: NewBaseAlgorithm("content"),
	}
}

// Train fits a fresh vocabulary over the catalog and builds item and
// trader taste vectors.
func (c *ContentBased) Train(ctx context.Context, interactions []recommend.Interaction, items []recommend.Item) error {
	if len(items) == 0 {
		return fmt.Errorf("content train: %w", recommend.ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("content train canceled: %w", err)
	}

	docs := make([]string, len(items))
	for i, item := range items {
		docs[i] = item.Description + " " + item.Category
	}

	vectorizer := features.NewVectorizer()
	vectorizer.Fit(docs)

	itemVectors := make(map[int64]map[int]float64, len(items))
	for i, item := range items {
		itemVectors[item.ID] = vectorizer.Transform(docs[i])
	}

	userVectors := buildTasteVectors(interactions, itemVectors)

	c.acquireTrainLock()
	defer c.releaseTrainLock()
	c.itemVectors = itemVectors
	c.userVectors = userVectors
	c.vectorizer = vectorizer
	c.markTrained()
	return nil
}

// TrainProfiles fits the model from prebuilt item profiles instead of
// re-vectorizing the catalog, so one extraction pass serves both the
// content signal and segmentation. The vectorizer must be the one that
// produced the profiles.
func (c *ContentBased) TrainProfiles(
	profiles []recommend.ItemProfile,
	vectorizer *features.Vectorizer,
	interactions []recommend.Interaction,
) error {
	if len(profiles) == 0 {
		return fmt.Errorf("content train: %w", recommend.ErrInsufficientData)
	}

	itemVectors := make(map[int64]map[int]float64, len(profiles))
	for _, p := range profiles {
		itemVectors[p.ItemID] = p.Vector
	}

	userVectors := buildTasteVectors(interactions, itemVectors)

	c.acquireTrainLock()
	defer c.releaseTrainLock()
	c.itemVectors = itemVectors
	c.userVectors = userVectors
	c.vectorizer = vectorizer
	c.markTrained()
	return nil
}

// Predict scores candidates by cosine to the trader's taste vector.
// Traders with no history get an empty map.
func (c *ContentBased) Predict(_ context.Context, userID int64, candidates []int64) (map[int64]float64, error) {
	c.acquirePredictLock()
	defer c.releasePredictLock()

	if !c.trained {
		return nil, fmt.Errorf("content predict: %w", recommend.ErrModelNotTrained)
	}

	taste, ok := c.userVectors[userID]
	if !ok || len(taste) == 0 {
		return map[int64]float64{}, nil
	}

	scores := make(map[int64]float64)
	for _, itemID := range candidates {
		vec, ok := c.itemVectors[itemID]
		if !ok || len(vec) == 0 {
			continue
		}
		scores[itemID] = features.CosineSparse(taste, vec)
	}
	return scores, nil
}

// PredictSimilar scores candidates by cosine to the given item's vector.
func (c *ContentBased) PredictSimilar(_ context.Context, itemID int64, candidates []int64) (map[int64]float64, error) {
	c.acquirePredictLock()
	defer c.releasePredictLock()

	if !c.trained {
		return nil, fmt.Errorf("content predict similar: %w", recommend.ErrModelNotTrained)
	}

	ref, ok := c.itemVectors[itemID]
	if !ok || len(ref) == 0 {
		return map[int64]float64{}, nil
	}

	scores := make(map[int64]float64)
	for _, candID := range candidates {
		if candID == itemID {
			continue
		}
		vec, ok := c.itemVectors[candID]
		if !ok || len(vec) == 0 {
			continue
		}
		scores[candID] = features.CosineSparse(ref, vec)
	}
	return scores, nil
}

// ScoreItem scores a single item against a trader's taste vector.
// Returns false when either side is unknown.
func (c *ContentBased) ScoreItem(userID, itemID int64) (float64, bool) {
	c.acquirePredictLock()
	defer c.releasePredictLock()

	if !c.trained {
		return 0, false
	}
	taste, ok := c.userVectors[userID]
	if !ok || len(taste) == 0 {
		return 0, false
	}
	vec, ok := c.itemVectors[itemID]
	if !ok || len(vec) == 0 {
		return 0, false
	}
	return features.CosineSparse(taste, vec), true
}

// State serializes the trained vectors.
func (c *ContentBased) State() ([]byte, error) {
	c.acquirePredictLock()
	defer c.releasePredictLock()

	if !c.trained {
		return nil, fmt.Errorf("content state: %w", recommend.ErrModelNotTrained)
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(contentState{
		ItemVectors: c.itemVectors,
		UserVectors: c.userVectors,
		Vectorizer:  c.vectorizer,
	})
	if err != nil {
		return nil, fmt.Errorf("content state encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore loads vectors serialized by State.
func (c *ContentBased) Restore(state []byte) error {
	var st contentState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&st); err != nil {
		return fmt.Errorf("content state decode: %w", err)
	}

	c.acquireTrainLock()
	defer c.releaseTrainLock()
	c.itemVectors = st.ItemVectors
	c.userVectors = st.UserVectors
	c.vectorizer = st.Vectorizer
	c.markTrained()
	return nil
}

// buildTasteVectors sums item vectors per trader, weighted by
// interaction confidence, then L2-normalizes.
func buildTasteVectors(
	interactions []recommend.Interaction,
	itemVectors map[int64]map[int]float64,
) map[int64]map[int]float64 {
	tastes := make(map[int64]map[int]float64)
	for _, inter := range interactions {
		vec, ok := itemVectors[inter.ItemID]
		if !ok {
			continue
		}
		taste := tastes[inter.UserID]
		if taste == nil {
			taste = make(map[int]float64)
			tastes[inter.UserID] = taste
		}
		conf := inter.Type.Confidence()
		for idx, w := range vec {
			taste[idx] += conf * w
		}
	}

	for _, taste := range tastes {
		var norm float64
		for _, w := range taste {
			norm += w * w
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for idx := range taste {
			taste[idx] /= norm
		}
	}
	return tastes
}
