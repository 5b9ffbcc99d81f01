// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package eval measures recommendation quality offline. A harness run
// scores per-user recommendation lists against held-out interactions
// and aggregates ranking, catalog and list-quality metrics into a
// report the retraining scheduler compares against the active model.
package eval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

// Config controls a harness run.
type Config struct {
	// K is the list length metrics are computed at.
	K int

	// MaxParallel bounds concurrent per-user metric workers.
	MaxParallel int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{K: 10, MaxParallel: 8}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("eval k must be positive, got %d", c.K)
	}
	if c.MaxParallel <= 0 {
		return fmt.Errorf("max parallel must be positive, got %d", c.MaxParallel)
	}
	return nil
}

// Input is one harness run's data: ranked recommendation lists per
// trader, the held-out positives per trader, and catalog context for
// coverage and novelty.
type Input struct {
	// Recommendations are ranked item lists keyed by trader.
	Recommendations map[int64][]int64

	// Truth is the held-out positive item set keyed by trader.
	Truth map[int64]map[int64]struct{}

	// Interactions is the training interaction stream, used to rank item
	// popularity for the novelty metric.
	Interactions []recommend.Interaction

	// CatalogSize is the number of recommendable items.
	CatalogSize int
}

// Report is the aggregated metric set for one model. Every mean carries
// its sample size: a metric is skipped for traders where it is
// undefined, never counted as zero.
type Report struct {
	// K is the list length the metrics were computed at.
	K int `json:"k"`

	// PrecisionAtK is the mean share of recommended items that were
	// relevant.
	PrecisionAtK float64 `json:"precision_at_k"`

	// RecallAtK is the mean share of relevant items that were
	// recommended.
	RecallAtK float64 `json:"recall_at_k"`

	// NDCG is the mean normalized discounted cumulative gain with binary
	// relevance.
	NDCG float64 `json:"ndcg"`

	// Coverage is the share of the catalog that appeared in any list.
	Coverage float64 `json:"coverage"`

	// Diversity is the mean pairwise Jaccard distance between lists.
	Diversity float64 `json:"diversity"`

	// Novelty is the mean inverse-popularity of recommended items.
	Novelty float64 `json:"novelty"`

	// Samples records how many traders (or pairs, for diversity)
	// contributed to each mean.
	Samples map[string]int `json:"samples"`

	// EvaluatedAt is when the run completed.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Harness runs offline evaluations.
type Harness struct {
	config Config
	logger zerolog.Logger
}

// NewHarness creates a harness.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewHarness(cfg Config, logger zerolog.Logger) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid eval config: %w", err)
	}
	return &Harness{
		config: cfg,
		logger: logger.With().Str("component", "eval").Logger(),
	}, nil
}

// Evaluate computes the full report for one input set. Per-user ranking
// metrics run concurrently, bounded by MaxParallel.
func (h *Harness) Evaluate(ctx context.Context, input Input) (*Report, error) {
	start := time.Now()

	userIDs := make([]int64, 0, len(input.Recommendations))
	for id := range input.Recommendations {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	type userMetrics struct {
		precision, recall, ndcg float64
		hasPrecision, hasRecall bool
	}
	results := make([]userMetrics, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.MaxParallel)
	for i, userID := range userIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs := truncate(input.Recommendations[userID], h.config.K)
			truth := input.Truth[userID]

			var m userMetrics
			if len(recs) > 0 {
				m.precision = precisionAtK(recs, truth)
				m.hasPrecision = true
			}
			if len(truth) > 0 {
				m.recall = recallAtK(recs, truth)
				m.hasRecall = true
				m.ndcg = ndcgAtK(recs, truth, h.config.K)
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		K:           h.config.K,
		Samples:     make(map[string]int),
		EvaluatedAt: time.Now().UTC(),
	}

	var precSum, recSum, ndcgSum float64
	for _, m := range results {
		if m.hasPrecision {
			precSum += m.precision
			report.Samples["precision_at_k"]++
		}
		if m.hasRecall {
			recSum += m.recall
			ndcgSum += m.ndcg
			report.Samples["recall_at_k"]++
			report.Samples["ndcg"]++
		}
	}
	if n := report.Samples["precision_at_k"]; n > 0 {
		report.PrecisionAtK = precSum / float64(n)
	}
	if n := report.Samples["recall_at_k"]; n > 0 {
		report.RecallAtK = recSum / float64(n)
		report.NDCG = ndcgSum / float64(n)
	}

	report.Coverage = coverage(input.Recommendations, input.CatalogSize, h.config.K)
	report.Samples["coverage"] = len(input.Recommendations)

	var divPairs int
	report.Diversity, divPairs = diversity(userIDs, input.Recommendations, h.config.K)
	report.Samples["diversity"] = divPairs

	var novUsers int
	report.Novelty, novUsers = novelty(input.Recommendations, input.Interactions, h.config.K)
	report.Samples["novelty"] = novUsers

	h.logger.Info().
		Int("users", len(userIDs)).
		Float64("precision_at_k", report.PrecisionAtK).
		Float64("recall_at_k", report.RecallAtK).
		Float64("ndcg", report.NDCG).
		Float64("coverage", report.Coverage).
		Dur("elapsed", time.Since(start)).
		Msg("evaluation complete")
	return report, nil
}

// TemporalSplit splits the stream into train and holdout sets per
// trader: each trader's interactions are ordered by time and the most
// recent fraction (at least one, never all) is held out. Traders with a
// single interaction stay entirely in the training set.
func TemporalSplit(interactions []recommend.Interaction, holdoutFraction float64) (train, holdout []recommend.Interaction) {
	byUser := make(map[int64][]recommend.Interaction)
	for _, inter := range interactions {
		byUser[inter.UserID] = append(byUser[inter.UserID], inter)
	}

	userIDs := make([]int64, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	for _, id := range userIDs {
		stream := byUser[id]
		sort.SliceStable(stream, func(i, j int) bool {
			return stream[i].Timestamp.Before(stream[j].Timestamp)
		})
		if len(stream) < 2 {
			train = append(train, stream...)
			continue
		}
		n := int(math.Ceil(float64(len(stream)) * holdoutFraction))
		if n < 1 {
			n = 1
		}
		if n >= len(stream) {
			n = len(stream) - 1
		}
		cut := len(stream) - n
		train = append(train, stream[:cut]...)
		holdout = append(holdout, stream[cut:]...)
	}
	return train, holdout
}

// TruthSets converts a holdout stream into per-trader positive item
// sets.
func TruthSets(holdout []recommend.Interaction) map[int64]map[int64]struct{} {
	truth := make(map[int64]map[int64]struct{})
	for _, inter := range holdout {
		set := truth[inter.UserID]
		if set == nil {
			set = make(map[int64]struct{})
			truth[inter.UserID] = set
		}
		set[inter.ItemID] = struct{}{}
	}
	return truth
}

func precisionAtK(recs []int64, truth map[int64]struct{}) float64 {
	if len(recs) == 0 {
		return 0
	}
	hits := 0
	for _, id := range recs {
		if _, ok := truth[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(recs))
}

func recallAtK(recs []int64, truth map[int64]struct{}) float64 {
	if len(truth) == 0 {
		return 0
	}
	hits := 0
	for _, id := range recs {
		if _, ok := truth[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

// ndcgAtK computes NDCG with binary relevance; the ideal DCG places all
// min(|truth|, k) positives at the top.
func ndcgAtK(recs []int64, truth map[int64]struct{}, k int) float64 {
	var dcg float64
	for rank, id := range recs {
		if _, ok := truth[id]; ok {
			dcg += 1 / math.Log2(float64(rank)+2)
		}
	}

	ideal := len(truth)
	if ideal > k {
		ideal = k
	}
	var idcg float64
	for rank := 0; rank < ideal; rank++ {
		idcg += 1 / math.Log2(float64(rank)+2)
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func coverage(recs map[int64][]int64, catalogSize, k int) float64 {
	if catalogSize <= 0 {
		return 0
	}
	seen := make(map[int64]struct{})
	for _, list := range recs {
		for _, id := range truncate(list, k) {
			seen[id] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(catalogSize)
}

// diversity is the mean pairwise Jaccard distance between trader lists.
// Pairs where both lists are empty are skipped.
func diversity(userIDs []int64, recs map[int64][]int64, k int) (float64, int) {
	sets := make([]map[int64]struct{}, len(userIDs))
	for i, id := range userIDs {
		set := make(map[int64]struct{})
		for _, item := range truncate(recs[id], k) {
			set[item] = struct{}{}
		}
		sets[i] = set
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			if len(sets[i]) == 0 && len(sets[j]) == 0 {
				continue
			}
			sum += 1 - jaccard(sets[i], sets[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0, 0
	}
	return sum / float64(pairs), pairs
}

// novelty is the mean of 1 - normalizedPopularity over recommended
// items, averaged per trader then over traders.
func novelty(recs map[int64][]int64, interactions []recommend.Interaction, k int) (float64, int) {
	counts := make(map[int64]float64)
	var maxCount float64
	for _, inter := range interactions {
		counts[inter.ItemID] += inter.Type.Confidence()
		if counts[inter.ItemID] > maxCount {
			maxCount = counts[inter.ItemID]
		}
	}

	var sum float64
	users := 0
	for _, list := range recs {
		list = truncate(list, k)
		if len(list) == 0 {
			continue
		}
		var userSum float64
		for _, id := range list {
			if maxCount > 0 {
				userSum += 1 - counts[id]/maxCount
			} else {
				userSum += 1
			}
		}
		sum += userSum / float64(len(list))
		users++
	}
	if users == 0 {
		return 0, 0
	}
	return sum / float64(users), users
}

func jaccard(a, b map[int64]struct{}) float64 {
	intersection := 0
	for id := range a {
		if _, ok := b[id]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func truncate(list []int64, k int) []int64 {
	if len(list) > k {
		return list[:k]
	}
	return list
}
