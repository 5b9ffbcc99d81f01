// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package recommend

import (
	"fmt"
	"sort"
	"time"
)

// HybridModel is one immutable trained blend: the three signal
// algorithms plus the trader context needed at scoring time. The engine
// swaps whole models through an atomic pointer; a model is never
// mutated after construction.
type HybridModel struct {
	// Version is the artifact version (uuid).
	Version string

	// TrainedAt is when training completed.
	TrainedAt time.Time

	// InteractionCount is the size of the training interaction set,
	// used by the scheduler's retraining trigger.
	InteractionCount int

	// CF, Content and Popularity are the trained blend signals.
	CF         Algorithm
	Content    Algorithm
	Popularity Algorithm

	// KnownUsers are traders present in the training interactions;
	// everyone else routes to cold start.
	KnownUsers map[int64]struct{}

	// LastCategoryPurchase records, per trader and category, the most
	// recent purchase timestamp, for the recent-category group bonus.
	LastCategoryPurchase map[int64]map[string]time.Time
}

// NewHybridModel assembles a model from trained algorithms and the
// training inputs.
func NewHybridModel(
	version string,
	trainedAt time.Time,
	cf, content, popularity Algorithm,
	interactions []Interaction,
	items []Item,
) *HybridModel {
	categoryOf := make(map[int64]string, len(items))
	for _, item := range items {
		categoryOf[item.ID] = item.Category
	}

	known := make(map[int64]struct{})
	lastCat := make(map[int64]map[string]time.Time)
	for _, inter := range interactions {
		known[inter.UserID] = struct{}{}
		if inter.Type != InteractionPurchase {
			continue
		}
		cat := categoryOf[inter.ItemID]
		if cat == "" {
			continue
		}
		byCat := lastCat[inter.UserID]
		if byCat == nil {
			byCat = make(map[string]time.Time)
			lastCat[inter.UserID] = byCat
		}
		if inter.Timestamp.After(byCat[cat]) {
			byCat[cat] = inter.Timestamp
		}
	}

	return &HybridModel{
		Version:              version,
		TrainedAt:            trainedAt,
		InteractionCount:     len(interactions),
		CF:                   cf,
		Content:              content,
		Popularity:           popularity,
		KnownUsers:           known,
		LastCategoryPurchase: lastCat,
	}
}

// Knows reports whether the trader was seen during training.
func (m *HybridModel) Knows(userID int64) bool {
	_, ok := m.KnownUsers[userID]
	return ok
}

// PurchasedCategoryWithin reports whether the trader purchased in the
// category within the window ending at now.
func (m *HybridModel) PurchasedCategoryWithin(userID int64, category string, window time.Duration, now time.Time) bool {
	byCat, ok := m.LastCategoryPurchase[userID]
	if !ok {
		return false
	}
	last, ok := byCat[category]
	if !ok {
		return false
	}
	return !last.Before(now.Add(-window))
}

// HybridBundle is the gob-serializable form of a HybridModel. The
// algorithm states are opaque blobs produced by each Algorithm's State.
type HybridBundle struct {
	Version              string
	TrainedAt            time.Time
	InteractionCount     int
	CFState              []byte
	ContentState         []byte
	PopularityState      []byte
	KnownUsers           []int64
	LastCategoryPurchase map[int64]map[string]time.Time
}

// Bundle serializes the model for artifact storage.
func (m *HybridModel) Bundle() (*HybridBundle, error) {
	cfState, err := m.CF.State()
	if err != nil {
		return nil, fmt.Errorf("bundle cf: %w", err)
	}
	contentState, err := m.Content.State()
	if err != nil {
		return nil, fmt.Errorf("bundle content: %w", err)
	}
	popState, err := m.Popularity.State()
	if err != nil {
		return nil, fmt.Errorf("bundle popularity: %w", err)
	}

	users := make([]int64, 0, len(m.KnownUsers))
	for id := range m.KnownUsers {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	return &HybridBundle{
		Version:              m.Version,
		TrainedAt:            m.TrainedAt,
		InteractionCount:     m.InteractionCount,
		CFState:              cfState,
		ContentState:         contentState,
		PopularityState:      popState,
		KnownUsers:           users,
		LastCategoryPurchase: m.LastCategoryPurchase,
	}, nil
}

// RestoreHybridModel rebuilds a model from a bundle. The caller supplies
// fresh algorithm instances matching the types that produced the bundle;
// their states are restored in place.
func RestoreHybridModel(b *HybridBundle, cf, content, popularity Algorithm) (*HybridModel, error) {
	if err := cf.Restore(b.CFState); err != nil {
		return nil, fmt.Errorf("restore cf: %w", err)
	}
	if err := content.Restore(b.ContentState); err != nil {
		return nil, fmt.Errorf("restore content: %w", err)
	}
	if err := popularity.Restore(b.PopularityState); err != nil {
		return nil, fmt.Errorf("restore popularity: %w", err)
	}

	known := make(map[int64]struct{}, len(b.KnownUsers))
	for _, id := range b.KnownUsers {
		known[id] = struct{}{}
	}

	return &HybridModel{
		Version:              b.Version,
		TrainedAt:            b.TrainedAt,
		InteractionCount:     b.InteractionCount,
		CF:                   cf,
		Content:              content,
		Popularity:           popularity,
		KnownUsers:           known,
		LastCategoryPurchase: b.LastCategoryPurchase,
	}, nil
}
