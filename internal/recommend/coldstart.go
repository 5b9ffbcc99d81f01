// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package recommend

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Preference similarity weights. Categories dominate; location
// agreement only strengthens ties between equally similar neighbors.
const (
	simWeightCategories = 0.50
	simWeightBudget     = 0.20
	simWeightExperience = 0.15
	simWeightGroupSize  = 0.15
)

// coldStartNeighbors is how many preference neighbors contribute to a
// new trader's scores.
const coldStartNeighbors = 10

// Reason strings for cold-start paths. Every cold-start candidate names
// the path that produced it.
const (
	ReasonColdPreferences = "new trader: matched through traders with similar preferences"
	ReasonColdPopularity  = "no personal history yet: ranked by recent market popularity"
	ReasonColdNewItem     = "newly listed item matched to your preferences"
)

// ColdStartHandler scores traders and items the trained model has never
// seen. All outputs are min-max normalized onto the same [0, 1] scale
// as warm scores so a mixed list ranks fairly.
type ColdStartHandler struct {
	logger zerolog.Logger
}

// NewColdStartHandler creates a handler.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewColdStartHandler(logger zerolog.Logger) *ColdStartHandler {
	return &ColdStartHandler{
		logger: logger.With().Str("component", "coldstart").Logger(),
	}
}

// ScoreNewUser scores candidates for a trader with declared preferences
// but no interaction history. Existing traders are ranked by preference
// similarity; the top neighbors' engagement, weighted by similarity,
// becomes the candidate scores.
func (h *ColdStartHandler) ScoreNewUser(
	prefs Preferences,
	allPrefs map[int64]Preferences,
	interactions []Interaction,
	candidates []int64,
) map[int64]float64 {
	type neighbor struct {
		userID        int64
		similarity    float64
		locationMatch bool
	}

	neighbors := make([]neighbor, 0, len(allPrefs))
	for userID, other := range allPrefs {
		if userID == prefs.UserID {
			continue
		}
		sim := PreferenceSimilarity(prefs, other)
		if sim <= 0 {
			continue
		}
		neighbors = append(neighbors, neighbor{
			userID:        userID,
			similarity:    sim,
			locationMatch: prefs.LocationCode != "" && prefs.LocationCode == other.LocationCode,
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].similarity != neighbors[j].similarity {
			return neighbors[i].similarity > neighbors[j].similarity
		}
		if neighbors[i].locationMatch != neighbors[j].locationMatch {
			return neighbors[i].locationMatch
		}
		return neighbors[i].userID < neighbors[j].userID
	})
	if len(neighbors) > coldStartNeighbors {
		neighbors = neighbors[:coldStartNeighbors]
	}
	if len(neighbors) == 0 {
		return map[int64]float64{}
	}

	weightOf := make(map[int64]float64, len(neighbors))
	for _, n := range neighbors {
		weightOf[n.userID] = n.similarity
	}

	candidateSet := make(map[int64]struct{}, len(candidates))
	for _, id := range candidates {
		candidateSet[id] = struct{}{}
	}

	scores := make(map[int64]float64)
	for _, inter := range interactions {
		w, ok := weightOf[inter.UserID]
		if !ok {
			continue
		}
		if _, ok := candidateSet[inter.ItemID]; !ok {
			continue
		}
		scores[inter.ItemID] += w * inter.Type.Confidence()
	}

	return minMaxNormalize(scores)
}

// PreferenceSimilarity computes the weighted similarity of two declared
// preference sets, in [0, 1].
func PreferenceSimilarity(a, b Preferences) float64 {
	sim := simWeightCategories * stringSetJaccard(a.Categories, b.Categories)
	if a.BudgetBucket != "" && a.BudgetBucket == b.BudgetBucket {
		sim += simWeightBudget
	}
	if a.ExperienceLevel != "" && a.ExperienceLevel == b.ExperienceLevel {
		sim += simWeightExperience
	}
	if a.GroupSizePreference != "" && a.GroupSizePreference == b.GroupSizePreference {
		sim += simWeightGroupSize
	}
	return sim
}

// ScoreNewItem scores one item the model has never seen for a specific
// trader: declared category match plus price-band proximity to the
// trader's average spend. With neither signal the score is 0.
func (h *ColdStartHandler) ScoreNewItem(prefs *Preferences, avgSpend float64, item Item) float64 {
	var score float64
	if prefs != nil {
		for _, cat := range prefs.Categories {
			if cat == item.Category {
				score += 0.6
				break
			}
		}
	}
	if avgSpend > 0 && item.Price > 0 {
		proximity := 1 - math.Min(math.Abs(item.Price-avgSpend)/avgSpend, 1)
		score += 0.4 * proximity
	}
	if score > 1 {
		score = 1
	}
	return score
}

// PopularityFallback scores candidates by confidence-weighted counts in
// the trailing window ending at now. Used when no model exists and the
// trader has no usable preferences; results are normalized to [0, 1].
func (h *ColdStartHandler) PopularityFallback(
	interactions []Interaction,
	candidates []int64,
	window time.Duration,
	now time.Time,
) map[int64]float64 {
	cutoff := now.Add(-window)

	candidateSet := make(map[int64]struct{}, len(candidates))
	for _, id := range candidates {
		candidateSet[id] = struct{}{}
	}

	scores := make(map[int64]float64)
	for _, inter := range interactions {
		if inter.Timestamp.Before(cutoff) {
			continue
		}
		if _, ok := candidateSet[inter.ItemID]; !ok {
			continue
		}
		scores[inter.ItemID] += inter.Type.Confidence()
	}
	return minMaxNormalize(scores)
}

// stringSetJaccard computes Jaccard similarity of two string sets.
func stringSetJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}

	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// minMaxNormalize scales scores onto [0, 1]; all-equal inputs map
// to 0.5.
func minMaxNormalize(scores map[int64]float64) map[int64]float64 {
	if len(scores) == 0 {
		return scores
	}
	var minS, maxS float64
	first := true
	for _, s := range scores {
		if first {
			minS, maxS = s, s
			first = false
			continue
		}
		if s < minS {
			minS = s
		}
		if s > maxS {
			maxS = s
		}
	}
	if maxS == minS {
		for id := range scores {
			scores[id] = 0.5
		}
		return scores
	}
	for id, s := range scores {
		scores[id] = (s - minS) / (maxS - minS)
	}
	return scores
}
