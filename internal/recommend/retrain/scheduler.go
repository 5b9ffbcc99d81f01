// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package retrain runs the periodic training pipeline: load data, train
// candidate models, evaluate them against a temporal holdout, and
// promote a candidate only when it does not regress the active model's
// primary metric. Cycles are single-flight; a cycle that overruns its
// budget is cancelled and the next tick starts fresh.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sokonilabs/sokoni/internal/metrics"
	"github.com/sokonilabs/sokoni/internal/recommend"
	"github.com/sokonilabs/sokoni/internal/recommend/algorithms"
	"github.com/sokonilabs/sokoni/internal/recommend/cluster"
	"github.com/sokonilabs/sokoni/internal/recommend/eval"
	"github.com/sokonilabs/sokoni/internal/recommend/explain"
	"github.com/sokonilabs/sokoni/internal/recommend/features"
	"github.com/sokonilabs/sokoni/internal/recommend/registry"
)

// Cycle outcomes, recorded per cycle.
const (
	OutcomeSkipped   = "skipped"
	OutcomePromoted  = "promoted"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// ErrCycleInProgress is returned when a cycle is requested while
// another is running.
var ErrCycleInProgress = errors.New("training cycle already in progress")

// Config controls the scheduler.
type Config struct {
	// Interval is the fixed tick between cycles. Ignored when
	// CronSchedule is set.
	Interval time.Duration

	// CronSchedule is an optional standard cron expression that replaces
	// the fixed interval.
	CronSchedule string

	// TrainOnStartup runs one cycle immediately when Serve starts.
	TrainOnStartup bool

	// MinNewInteractions is the minimum growth since the active model's
	// training set before a cycle trains.
	MinNewInteractions int

	// MinTotalInteractions is the minimum dataset size before any
	// training happens.
	MinTotalInteractions int

	// HoldoutFraction is the per-trader share of newest interactions
	// held out for evaluation.
	HoldoutFraction float64

	// CycleTimeout bounds one full cycle.
	CycleTimeout time.Duration

	// NMF configures the collaborative-filtering signal.
	NMF algorithms.NMFConfig

	// PopularityWindow bounds the popularity signal's trailing window.
	PopularityWindow time.Duration

	// Features configures user feature extraction.
	Features features.Config

	// Cluster configures trader segmentation.
	Cluster cluster.Config

	// ClusterLabels are optional human-readable segment names, indexed
	// by cluster ID.
	ClusterLabels []string

	// Eval configures the offline harness.
	Eval eval.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             24 * time.Hour,
		TrainOnStartup:       true,
		MinNewInteractions:   5,
		MinTotalInteractions: 10,
		HoldoutFraction:      0.2,
		CycleTimeout:         10 * time.Minute,
		PopularityWindow:     90 * 24 * time.Hour,
		Features:             features.DefaultConfig(),
		Cluster:              cluster.DefaultConfig(),
		Eval:                 eval.DefaultConfig(),
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.CronSchedule == "" && c.Interval <= 0 {
		return fmt.Errorf("either interval or cron schedule must be set")
	}
	if c.CronSchedule != "" {
		if _, err := cron.ParseStandard(c.CronSchedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", c.CronSchedule, err)
		}
	}
	if c.HoldoutFraction <= 0 || c.HoldoutFraction >= 1 {
		return fmt.Errorf("holdout fraction must be in (0, 1), got %.2f", c.HoldoutFraction)
	}
	if c.CycleTimeout <= 0 {
		return fmt.Errorf("cycle timeout must be positive")
	}
	return c.Eval.Validate()
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	// Outcome is skipped, promoted, discarded or failed.
	Outcome string

	// Version is the candidate version, empty when skipped.
	Version string

	// Report is the candidate's evaluation, nil when skipped.
	Report *eval.Report

	// Elapsed is the cycle duration.
	Elapsed time.Duration
}

// Scheduler owns the retraining loop. It implements suture.Service.
type Scheduler struct {
	config   Config
	logger   zerolog.Logger
	provider recommend.DataProvider
	engine   *recommend.Engine
	registry *registry.Registry
	harness  *eval.Harness

	// sink receives cluster assignment upserts; nil disables segment
	// publishing.
	sink recommend.ClusterSink

	running atomic.Bool
}

// NewScheduler creates a scheduler.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewScheduler(
	cfg Config,
	provider recommend.DataProvider,
	engine *recommend.Engine,
	reg *registry.Registry,
	sink recommend.ClusterSink,
	logger zerolog.Logger,
) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrain config: %w", err)
	}
	harness, err := eval.NewHarness(cfg.Eval, logger)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		config:   cfg,
		logger:   logger.With().Str("component", "retrain").Logger(),
		provider: provider,
		engine:   engine,
		registry: reg,
		harness:  harness,
		sink:     sink,
	}, nil
}

// Serve runs the scheduling loop until the context is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	if s.config.TrainOnStartup {
		s.runCycleLogged(ctx)
	}

	var schedule cron.Schedule
	if s.config.CronSchedule != "" {
		var err error
		schedule, err = cron.ParseStandard(s.config.CronSchedule)
		if err != nil {
			return fmt.Errorf("parse cron schedule: %w", err)
		}
	}

	for {
		var wait time.Duration
		if schedule != nil {
			wait = time.Until(schedule.Next(time.Now()))
		} else {
			wait = s.config.Interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.runCycleLogged(ctx)
		}
	}
}

func (s *Scheduler) runCycleLogged(ctx context.Context) {
	result, err := s.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error().Err(err).Msg("training cycle failed")
		return
	}
	s.logger.Info().
		Str("outcome", result.Outcome).
		Str("version", result.Version).
		Dur("elapsed", result.Elapsed).
		Msg("training cycle complete")
}

// RunCycle executes one full cycle. Only one cycle runs at a time;
// concurrent calls return ErrCycleInProgress.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.cycle(ctx, start)
	if err != nil {
		metrics.RecordCycle(OutcomeFailed)
		return nil, err
	}
	result.Elapsed = time.Since(start)
	metrics.RecordCycle(result.Outcome)
	return result, nil
}

func (s *Scheduler) cycle(ctx context.Context, now time.Time) (*CycleResult, error) {
	interactions, err := s.provider.Interactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	items, err := s.provider.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	groups, err := s.provider.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	prefs, err := s.provider.Preferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	metrics.InteractionCount.Set(float64(len(interactions)))
	snapshot := recommend.NewSnapshot(items, groups, prefs, interactions, now.UTC())

	// Serving data stays fresh even when this cycle skips training.
	s.engine.SetSnapshot(snapshot)

	if skip, reason := s.shouldSkip(interactions); skip {
		s.logger.Info().Str("reason", reason).Int("interactions", len(interactions)).Msg("cycle skipped")
		return &CycleResult{Outcome: OutcomeSkipped}, nil
	}

	candidate, report, err := s.trainAndEvaluate(ctx, snapshot, interactions, items)
	if err != nil {
		return nil, err
	}

	// Segmentation runs every training cycle, whatever the hybrid
	// comparison decides; a failure never fails the cycle.
	if err := s.trainClusters(ctx, snapshot, interactions, items); err != nil {
		s.logger.Error().Err(err).Msg("cluster training failed")
	}

	promote, err := s.shouldPromote(report)
	if err != nil {
		return nil, err
	}
	if !promote {
		s.logger.Info().
			Str("version", candidate.Version).
			Float64("precision_at_k", report.PrecisionAtK).
			Msg("candidate discarded, active model retained")
		return &CycleResult{Outcome: OutcomeDiscarded, Version: candidate.Version, Report: report}, nil
	}

	if err := s.promote(candidate, report); err != nil {
		return nil, err
	}
	return &CycleResult{Outcome: OutcomePromoted, Version: candidate.Version, Report: report}, nil
}

// shouldSkip applies the retraining trigger: enough data overall, and
// enough new interactions since the active model trained.
func (s *Scheduler) shouldSkip(interactions []recommend.Interaction) (bool, string) {
	if len(interactions) < s.config.MinTotalInteractions {
		return true, "below minimum interaction count"
	}

	active := s.engine.ActiveModel()
	if active == nil {
		return false, ""
	}
	if len(interactions)-active.InteractionCount < s.config.MinNewInteractions {
		return true, "too few new interactions since last training"
	}
	return false, ""
}

// trainAndEvaluate trains the candidate hybrid model on the temporal
// training split and evaluates it against the holdout.
func (s *Scheduler) trainAndEvaluate(
	ctx context.Context,
	snapshot *recommend.Snapshot,
	interactions []recommend.Interaction,
	items []recommend.Item,
) (*recommend.HybridModel, *eval.Report, error) {
	trainSet, holdout := eval.TemporalSplit(interactions, s.config.HoldoutFraction)

	trainStart := time.Now()
	cf := algorithms.NewNMF(s.config.NMF)
	content := algorithms.NewContentBased()
	popularity := algorithms.NewPopularity(algorithms.PopularityConfig{Window: s.config.PopularityWindow})

	for _, alg := range []recommend.Algorithm{cf, popularity} {
		if err := alg.Train(ctx, trainSet, items); err != nil {
			if errors.Is(err, recommend.ErrInsufficientData) {
				s.logger.Warn().Str("algorithm", alg.Name()).Msg("signal trained on insufficient data")
				continue
			}
			return nil, nil, &recommend.TrainingError{Stage: alg.Name(), Err: err}
		}
	}

	// The content signal consumes the extractor's item profiles, so the
	// catalog is vectorized once per cycle.
	extractor := features.NewExtractor(s.config.Features, s.logger)
	profiles, vectorizer := extractor.BuildItemProfiles(items, trainSet)
	if err := content.TrainProfiles(profiles, vectorizer, trainSet); err != nil {
		if errors.Is(err, recommend.ErrInsufficientData) {
			s.logger.Warn().Str("algorithm", content.Name()).Msg("signal trained on insufficient data")
		} else {
			return nil, nil, &recommend.TrainingError{Stage: content.Name(), Err: err}
		}
	}
	metrics.RecordTraining(registry.ModelTypeHybrid, time.Since(trainStart))

	candidate := recommend.NewHybridModel(
		uuid.NewString(), time.Now().UTC(), cf, content, popularity, trainSet, items)
	// The retraining trigger compares against the full dataset the cycle
	// saw, not the evaluation split.
	candidate.InteractionCount = len(interactions)

	report, err := s.evaluate(ctx, candidate, snapshot, trainSet, holdout, items)
	if err != nil {
		return nil, nil, err
	}
	return candidate, report, nil
}

// evaluate scores the holdout traders with the candidate model through
// a scratch engine that sees only training-time data.
func (s *Scheduler) evaluate(
	ctx context.Context,
	candidate *recommend.HybridModel,
	snapshot *recommend.Snapshot,
	trainSet, holdout []recommend.Interaction,
	items []recommend.Item,
) (*eval.Report, error) {
	truth := eval.TruthSets(holdout)

	scratch, err := recommend.NewEngine(s.scratchConfig(), zerolog.Nop())
	if err != nil {
		return nil, fmt.Errorf("build evaluation engine: %w", err)
	}
	prefs := make([]recommend.Preferences, 0, len(snapshot.Preferences))
	for _, p := range snapshot.Preferences {
		prefs = append(prefs, p)
	}
	scratch.SetSnapshot(recommend.NewSnapshot(items, snapshot.Groups, prefs, trainSet, snapshot.TakenAt))
	scratch.SetModel(candidate)

	recs := make(map[int64][]int64, len(truth))
	for userID := range truth {
		resp, err := scratch.Recommend(ctx, recommend.Request{UserID: userID, K: s.config.Eval.K})
		if err != nil {
			return nil, fmt.Errorf("score holdout trader %d: %w", userID, err)
		}
		list := make([]int64, 0, len(resp.Candidates))
		for _, c := range resp.Candidates {
			list = append(list, c.ItemID)
		}
		recs[userID] = list
	}

	report, err := s.harness.Evaluate(ctx, eval.Input{
		Recommendations: recs,
		Truth:           truth,
		Interactions:    trainSet,
		CatalogSize:     len(items),
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate candidate: %w", err)
	}

	metrics.EvalMetric.WithLabelValues("precision").Set(report.PrecisionAtK)
	metrics.EvalMetric.WithLabelValues("recall").Set(report.RecallAtK)
	metrics.EvalMetric.WithLabelValues("ndcg").Set(report.NDCG)
	metrics.EvalMetric.WithLabelValues("coverage").Set(report.Coverage)
	metrics.EvalMetric.WithLabelValues("diversity").Set(report.Diversity)
	metrics.EvalMetric.WithLabelValues("novelty").Set(report.Novelty)
	return report, nil
}

// scratchConfig clones the serving engine's configuration for offline
// evaluation, with the response cache disabled so every holdout trader
// scores fresh. Promotion decisions measure the same recommender the
// candidate would serve through.
func (s *Scheduler) scratchConfig() *recommend.Config {
	cfg := s.engine.Config()
	cfg.Cache.Enabled = false
	return cfg
}

// shouldPromote compares the candidate's primary metric (precision at
// k) against the active artifact. The first model always promotes; ties
// favor the newer candidate.
func (s *Scheduler) shouldPromote(report *eval.Report) (bool, error) {
	active, err := s.registry.Active(registry.ModelTypeHybrid)
	if errors.Is(err, registry.ErrNoActiveModel) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load active artifact: %w", err)
	}
	return report.PrecisionAtK >= active.Metrics["precision_at_k"], nil
}

func (s *Scheduler) promote(candidate *recommend.HybridModel, report *eval.Report) error {
	bundle, err := candidate.Bundle()
	if err != nil {
		return fmt.Errorf("bundle candidate: %w", err)
	}

	artifact := registry.ModelArtifact{
		Version:          candidate.Version,
		ModelType:        registry.ModelTypeHybrid,
		TrainedAt:        candidate.TrainedAt,
		InteractionCount: candidate.InteractionCount,
		Metrics: map[string]float64{
			"precision_at_k": report.PrecisionAtK,
			"recall_at_k":    report.RecallAtK,
			"ndcg":           report.NDCG,
			"coverage":       report.Coverage,
			"diversity":      report.Diversity,
			"novelty":        report.Novelty,
		},
	}
	if err := s.registry.Save(artifact, bundle); err != nil {
		return fmt.Errorf("save candidate: %w", err)
	}
	if err := s.registry.Promote(registry.ModelTypeHybrid, candidate.Version); err != nil {
		return fmt.Errorf("promote candidate: %w", err)
	}
	if _, err := s.registry.Prune(registry.ModelTypeHybrid); err != nil {
		s.logger.Warn().Err(err).Msg("prune after promotion failed")
	}

	s.engine.SetModel(candidate)
	metrics.RecordPromotion(registry.ModelTypeHybrid, candidate.TrainedAt)
	return nil
}

// trainClusters segments traders on the full interaction stream and
// publishes assignments. The cluster model promotes on silhouette, with
// the same first-model and tie rules as the hybrid.
func (s *Scheduler) trainClusters(
	ctx context.Context,
	snapshot *recommend.Snapshot,
	interactions []recommend.Interaction,
	items []recommend.Item,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	extractor := features.NewExtractor(s.config.Features, s.logger)
	userFeatures, _, _ := extractor.Extract(interactions, items, snapshot.TakenAt)
	if len(userFeatures) == 0 {
		return nil
	}

	samples := make([][]float64, len(userFeatures))
	for i, uf := range userFeatures {
		samples[i] = uf.Vector()
	}

	trainStart := time.Now()
	result, fitErr := cluster.Fit(samples, s.config.Cluster)
	if fitErr != nil && !errors.Is(fitErr, recommend.ErrDegenerateClustering) {
		return fmt.Errorf("fit clusters: %w", fitErr)
	}
	metrics.RecordTraining(registry.ModelTypeCluster, time.Since(trainStart))
	metrics.EvalMetric.WithLabelValues("silhouette").Set(result.Model.Silhouette)

	if errors.Is(fitErr, recommend.ErrDegenerateClustering) {
		s.logger.Warn().Msg("clustering degenerate, assignments still published")
	}

	version := uuid.NewString()
	promote := true
	publishVersion := version
	if active, err := s.registry.Active(registry.ModelTypeCluster); err == nil {
		promote = result.Model.Silhouette >= active.Metrics["silhouette"]
		publishVersion = active.Version
	} else if !errors.Is(err, registry.ErrNoActiveModel) {
		return fmt.Errorf("load active cluster artifact: %w", err)
	}

	model := result.Model
	labels := result.Labels
	confidences := result.Confidences

	if promote {
		artifact := registry.ModelArtifact{
			Version:          version,
			ModelType:        registry.ModelTypeCluster,
			TrainedAt:        time.Now().UTC(),
			InteractionCount: len(interactions),
			Metrics: map[string]float64{
				"silhouette":     result.Model.Silhouette,
				"davies_bouldin": result.Model.DaviesBouldin,
				"inertia":        result.Model.Inertia,
				"k":              float64(result.Model.K),
			},
		}
		if err := s.registry.Save(artifact, result.Model); err != nil {
			return fmt.Errorf("save cluster model: %w", err)
		}
		if err := s.registry.Promote(registry.ModelTypeCluster, version); err != nil {
			return fmt.Errorf("promote cluster model: %w", err)
		}
		if _, err := s.registry.Prune(registry.ModelTypeCluster); err != nil {
			s.logger.Warn().Err(err).Msg("cluster prune failed")
		}
		metrics.RecordPromotion(registry.ModelTypeCluster, artifact.TrainedAt)
		publishVersion = version
	} else {
		// The candidate lost. Re-assign traders with the model that stays
		// active so every published version resolves in the registry.
		var active cluster.Model
		if err := s.registry.LoadBundle(registry.ModelTypeCluster, publishVersion, &active); err != nil {
			return fmt.Errorf("load active cluster model: %w", err)
		}
		model = &active
		labels = make([]int, len(samples))
		confidences = make([]float64, len(samples))
		for i, sample := range samples {
			labels[i], confidences[i] = active.Predict(sample)
		}
	}

	if s.sink == nil {
		return nil
	}
	assignments := make([]recommend.ClusterAssignment, len(userFeatures))
	for i, uf := range userFeatures {
		assignments[i] = recommend.ClusterAssignment{
			UserID:       uf.UserID,
			ClusterID:    labels[i],
			Label:        s.clusterLabel(labels[i]),
			Confidence:   confidences[i],
			Description:  clusterDescription(model, labels[i]),
			ModelVersion: publishVersion,
		}
	}
	if err := s.sink.UpsertAssignments(ctx, assignments); err != nil {
		return fmt.Errorf("upsert assignments: %w", err)
	}
	return nil
}

// clusterDescription summarizes a segment from its centroid in
// standardized feature space.
func clusterDescription(model *cluster.Model, clusterID int) string {
	if clusterID < 0 || clusterID >= len(model.Centroids) {
		return ""
	}
	return explain.DescribeFeatures(model.Centroids[clusterID])
}

// clusterLabel maps an integer segment to its configured display name.
func (s *Scheduler) clusterLabel(clusterID int) string {
	if clusterID >= 0 && clusterID < len(s.config.ClusterLabels) {
		return s.config.ClusterLabels[clusterID]
	}
	return ""
}
