// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package features turns raw interactions and catalog data into the
// model inputs: behavioral feature vectors per trader and TF-IDF content
// profiles per item.
package features

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sokonilabs/sokoni/internal/recommend"
)

// Config holds feature extraction thresholds.
type Config struct {
	// BulkQuantityThreshold is the quantity at and above which a
	// purchase counts as bulk for price sensitivity.
	BulkQuantityThreshold int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BulkQuantityThreshold: 10}
}

// Extractor computes user features and item profiles for one training
// cycle. Missing numeric inputs default to zero with a warning, never an
// error; a sparse record must not abort a cycle.
type Extractor struct {
	cfg    Config
	logger zerolog.Logger
}

// NewExtractor creates an extractor.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewExtractor(cfg Config, logger zerolog.Logger) *Extractor {
	if cfg.BulkQuantityThreshold <= 0 {
		cfg.BulkQuantityThreshold = DefaultConfig().BulkQuantityThreshold
	}
	return &Extractor{
		cfg:    cfg,
		logger: logger.With().Str("component", "features").Logger(),
	}
}

// Extract computes per-trader features and per-item content profiles.
// now anchors all age computations so a cycle is deterministic.
func (e *Extractor) Extract(
	interactions []recommend.Interaction,
	catalog []recommend.Item,
	now time.Time,
) ([]recommend.UserFeatures, []recommend.ItemProfile, *Vectorizer) {
	users := e.extractUsers(interactions, catalog, now)
	profiles, vectorizer := e.BuildItemProfiles(catalog, interactions)
	return users, profiles, vectorizer
}

// extractUsers computes one UserFeatures record per trader seen in the
// interaction stream.
func (e *Extractor) extractUsers(
	interactions []recommend.Interaction,
	catalog []recommend.Item,
	now time.Time,
) []recommend.UserFeatures {
	categoryOf := make(map[int64]string, len(catalog))
	for _, item := range catalog {
		categoryOf[item.ID] = item.Category
	}

	byUser := make(map[int64][]recommend.Interaction)
	for _, inter := range interactions {
		byUser[inter.UserID] = append(byUser[inter.UserID], inter)
	}

	userIDs := make([]int64, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	missingNumerics := 0
	out := make([]recommend.UserFeatures, 0, len(userIDs))
	for _, userID := range userIDs {
		history := byUser[userID]
		sort.Slice(history, func(i, j int) bool {
			return history[i].Timestamp.Before(history[j].Timestamp)
		})

		f := recommend.UserFeatures{UserID: userID}
		f.PurchaseFrequency = purchaseFrequency(history)
		f.PriceSensitivity = e.priceSensitivity(history)
		f.LastActivityAge = now.Sub(history[len(history)-1].Timestamp).Hours() / 24

		var purchaseValue float64
		purchases := 0
		categories := make(map[string]struct{})
		for _, inter := range history {
			if cat, ok := categoryOf[inter.ItemID]; ok && cat != "" {
				categories[cat] = struct{}{}
			}
			if inter.Type != recommend.InteractionPurchase {
				continue
			}
			purchases++
			if inter.UnitPrice <= 0 || inter.Quantity <= 0 {
				missingNumerics++
				continue
			}
			purchaseValue += inter.UnitPrice * float64(inter.Quantity)
		}
		if purchases > 0 {
			f.AvgTransactionValue = purchaseValue / float64(purchases)
		}
		f.ProductDiversity = float64(len(categories))

		out = append(out, f)
	}

	if missingNumerics > 0 {
		e.logger.Warn().
			Int("count", missingNumerics).
			Msg("purchases with missing quantity or price defaulted to zero value")
	}

	return out
}

// purchaseFrequency is interactions per week over the trader's active
// span. A single interaction or a zero span yields the raw count.
func purchaseFrequency(history []recommend.Interaction) float64 {
	n := float64(len(history))
	if len(history) <= 1 {
		return n
	}
	span := history[len(history)-1].Timestamp.Sub(history[0].Timestamp)
	days := span.Hours() / 24
	if days <= 0 {
		return n
	}
	weeks := days / 7
	if weeks < 1 {
		weeks = 1
	}
	return n / weeks
}

// priceSensitivity is the share of interactions that were bulk
// purchases. Traders with no interactions get the neutral prior 0.5.
func (e *Extractor) priceSensitivity(history []recommend.Interaction) float64 {
	if len(history) == 0 {
		return 0.5
	}
	bulk := 0
	for _, inter := range history {
		if inter.Type == recommend.InteractionPurchase && inter.Quantity >= e.cfg.BulkQuantityThreshold {
			bulk++
		}
	}
	return float64(bulk) / float64(len(history))
}

// BuildItemProfiles fits a fresh TF-IDF vocabulary over the catalog and
// returns one profile per item plus the fitted vectorizer. Popularity
// rank is a dense rank by interaction count, 1 = most interacted.
func (e *Extractor) BuildItemProfiles(
	catalog []recommend.Item,
	interactions []recommend.Interaction,
) ([]recommend.ItemProfile, *Vectorizer) {
	docs := make([]string, len(catalog))
	for i, item := range catalog {
		docs[i] = itemDocument(item)
	}

	vectorizer := NewVectorizer()
	vectorizer.Fit(docs)

	counts := make(map[int64]int)
	for _, inter := range interactions {
		counts[inter.ItemID]++
	}
	ranks := denseRanks(catalog, counts)

	profiles := make([]recommend.ItemProfile, len(catalog))
	for i, item := range catalog {
		profiles[i] = recommend.ItemProfile{
			ItemID:         item.ID,
			Category:       item.Category,
			Price:          item.Price,
			PopularityRank: ranks[item.ID],
			Vector:         vectorizer.Transform(docs[i]),
		}
	}
	return profiles, vectorizer
}

// itemDocument is the text fed to the vectorizer for one item.
func itemDocument(item recommend.Item) string {
	return strings.TrimSpace(item.Description + " " + item.Category)
}

// denseRanks assigns dense ranks by descending interaction count; ties
// share a rank, item ID breaks enumeration order.
func denseRanks(catalog []recommend.Item, counts map[int64]int) map[int64]int {
	ids := make([]int64, len(catalog))
	for i, item := range catalog {
		ids[i] = item.ID
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	ranks := make(map[int64]int, len(ids))
	rank := 0
	prevCount := -1
	for _, id := range ids {
		if counts[id] != prevCount {
			rank++
			prevCount = counts[id]
		}
		ranks[id] = rank
	}
	return ranks
}
