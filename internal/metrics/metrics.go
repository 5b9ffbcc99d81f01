// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package metrics provides prometheus instrumentation for the
// recommendation engine: scoring latency, training cycles, model
// promotion, and evaluation quality.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scoring metrics

	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sokoni_scoring_duration_seconds",
			Help:    "Duration of a single recommendation request in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	ScoringRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sokoni_scoring_requests_total",
			Help: "Total recommendation requests by path",
		},
		[]string{"path"}, // "warm", "cold_start", "fallback"
	)

	ScoringErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sokoni_scoring_errors_total",
			Help: "Total recommendation requests that returned an error",
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sokoni_cache_hits_total",
			Help: "Total recommendation cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sokoni_cache_misses_total",
			Help: "Total recommendation cache misses",
		},
	)

	// Training metrics

	TrainingCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sokoni_training_cycles_total",
			Help: "Total retraining cycles by outcome",
		},
		[]string{"outcome"}, // "promoted", "discarded", "skipped", "failed"
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sokoni_training_duration_seconds",
			Help:    "Duration of model training in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"model_type"}, // "hybrid", "cluster"
	)

	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sokoni_model_promotions_total",
			Help: "Total model promotions by model type",
		},
		[]string{"model_type"},
	)

	ActiveModelVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sokoni_active_model_trained_at_seconds",
			Help: "Unix timestamp of the active model's training time",
		},
		[]string{"model_type"},
	)

	// Evaluation metrics

	EvalMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sokoni_eval_metric",
			Help: "Latest offline evaluation metric values for the candidate model",
		},
		[]string{"metric"}, // "precision", "recall", "ndcg", "coverage", "diversity", "novelty", "silhouette"
	)

	InteractionCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sokoni_interactions_seen",
			Help: "Number of interactions in the most recent training dataset",
		},
	)
)

// RecordScoring records a completed recommendation request.
func RecordScoring(path string, duration time.Duration, err error) {
	ScoringRequests.WithLabelValues(path).Inc()
	ScoringDuration.Observe(duration.Seconds())
	if err != nil {
		ScoringErrors.Inc()
	}
}

// RecordTraining records a completed model training run.
func RecordTraining(modelType string, duration time.Duration) {
	TrainingDuration.WithLabelValues(modelType).Observe(duration.Seconds())
}

// RecordCycle records the outcome of a retraining cycle.
func RecordCycle(outcome string) {
	TrainingCycles.WithLabelValues(outcome).Inc()
}

// RecordPromotion records an active-model swap.
func RecordPromotion(modelType string, trainedAt time.Time) {
	Promotions.WithLabelValues(modelType).Inc()
	ActiveModelVersion.WithLabelValues(modelType).Set(float64(trainedAt.Unix()))
}
