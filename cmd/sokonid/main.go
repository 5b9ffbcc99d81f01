// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Command sokonid runs the recommendation daemon: it restores the
// active model from the registry, starts the retraining scheduler and
// the operational listener under supervision, and serves until
// interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sokonilabs/sokoni/internal/config"
	"github.com/sokonilabs/sokoni/internal/logging"
	"github.com/sokonilabs/sokoni/internal/metrics"
	"github.com/sokonilabs/sokoni/internal/provider"
	"github.com/sokonilabs/sokoni/internal/recommend"
	"github.com/sokonilabs/sokoni/internal/recommend/algorithms"
	"github.com/sokonilabs/sokoni/internal/recommend/cluster"
	"github.com/sokonilabs/sokoni/internal/recommend/eval"
	"github.com/sokonilabs/sokoni/internal/recommend/explain"
	"github.com/sokonilabs/sokoni/internal/recommend/features"
	"github.com/sokonilabs/sokoni/internal/recommend/registry"
	"github.com/sokonilabs/sokoni/internal/recommend/retrain"
	"github.com/sokonilabs/sokoni/internal/server"
	"github.com/sokonilabs/sokoni/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("sokonid exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logger := logging.Logger()
	logger.Info().Str("metrics_addr", cfg.Server.MetricsAddr).Msg("sokonid starting")

	db, err := badger.Open(badger.DefaultOptions(cfg.Registry.Path).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("open model store at %s: %w", cfg.Registry.Path, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("close model store")
		}
	}()

	reg := registry.New(db, logger)

	engine, err := recommend.NewEngine(buildEngineConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	engine.SetExplainer(explain.NewGenerator())

	// Serve with the last promoted model immediately; the scheduler
	// refreshes data and retrains in the background.
	if err := restoreActiveModel(cfg, reg, engine); err != nil {
		if !errors.Is(err, registry.ErrNoActiveModel) {
			return fmt.Errorf("restore active model: %w", err)
		}
		logger.Info().Msg("no promoted model yet, serving cold-start until first training cycle")
	}

	fileProvider, err := provider.NewFileProvider(provider.Config{
		InteractionsPath: cfg.Data.InteractionsPath,
		ItemsPath:        cfg.Data.ItemsPath,
		GroupsPath:       cfg.Data.GroupsPath,
		PreferencesPath:  cfg.Data.UsersPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	sink := provider.NewBadgerSink(db, logger)

	scheduler, err := retrain.NewScheduler(buildRetrainConfig(cfg), fileProvider, engine, reg, sink, logger)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddTrainingService(scheduler)
	tree.AddOpsService(server.NewMetricsServer(cfg.Server.MetricsAddr, engine, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("sokonid stopped")
		return nil
	}
	return err
}

// restoreActiveModel loads the last promoted hybrid model into the
// engine.
func restoreActiveModel(cfg *config.Config, reg *registry.Registry, engine *recommend.Engine) error {
	active, err := reg.Active(registry.ModelTypeHybrid)
	if err != nil {
		return err
	}

	var bundle recommend.HybridBundle
	if err := reg.LoadBundle(registry.ModelTypeHybrid, active.Version, &bundle); err != nil {
		return err
	}

	model, err := recommend.RestoreHybridModel(&bundle,
		algorithms.NewNMF(algorithms.NMFConfig{
			Factors:    cfg.Recommend.NMF.Factors,
			Iterations: cfg.Recommend.NMF.Iterations,
			Seed:       cfg.Recommend.NMF.Seed,
		}),
		algorithms.NewContentBased(),
		algorithms.NewPopularity(algorithms.PopularityConfig{
			Window: popularityWindow(cfg),
		}),
	)
	if err != nil {
		return err
	}

	engine.SetModel(model)
	metrics.RecordPromotion(registry.ModelTypeHybrid, model.TrainedAt)
	return nil
}

func buildEngineConfig(cfg *config.Config) *recommend.Config {
	out := recommend.DefaultConfig()
	out.Weights = recommend.BlendWeights{
		CF:         cfg.Recommend.CFWeight,
		Content:    cfg.Recommend.ContentWeight,
		Popularity: cfg.Recommend.PopularityWeight,
	}
	out.DefaultK = cfg.Recommend.DefaultK
	out.MaxK = cfg.Recommend.MaxK
	out.PopularityWindow = popularityWindow(cfg)
	out.RecentCategoryWindow = time.Duration(cfg.Features.RecentCategoryDays) * 24 * time.Hour
	out.Cache.TTL = cfg.Recommend.CacheTTL
	out.Cache.MaxEntries = cfg.Recommend.CacheMaxEntries
	return out
}

func buildRetrainConfig(cfg *config.Config) retrain.Config {
	out := retrain.DefaultConfig()
	out.Interval = cfg.Retrain.Interval
	out.CronSchedule = cfg.Retrain.CronSchedule
	out.TrainOnStartup = cfg.Retrain.TrainOnStartup
	out.MinNewInteractions = cfg.Retrain.MinNewInteractions
	out.MinTotalInteractions = cfg.Retrain.MinTotalInteractions
	out.HoldoutFraction = cfg.Eval.HoldoutFraction
	out.CycleTimeout = cfg.Retrain.CycleTimeout
	out.NMF = algorithms.NMFConfig{
		Factors:    cfg.Recommend.NMF.Factors,
		Iterations: cfg.Recommend.NMF.Iterations,
		Seed:       cfg.Recommend.NMF.Seed,
	}
	out.PopularityWindow = popularityWindow(cfg)
	out.Features = features.Config{
		BulkQuantityThreshold: cfg.Features.BulkQuantityThreshold,
	}
	out.Cluster = cluster.Config{
		K:             cfg.Cluster.K,
		MaxK:          cfg.Cluster.MaxK,
		MaxIterations: cfg.Cluster.MaxIterations,
		Tolerance:     cfg.Cluster.Tolerance,
		Seed:          cfg.Cluster.Seed,
	}
	out.ClusterLabels = cfg.Cluster.Labels
	out.Eval = eval.Config{
		K:           cfg.Eval.K,
		MaxParallel: cfg.Eval.MaxParallel,
	}
	return out
}

func popularityWindow(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Recommend.PopularityWindowDays) * 24 * time.Hour
}
