// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package config loads and validates the Sokoni daemon configuration.
//
// Configuration is layered with clear precedence: environment variables
// override the YAML config file, which overrides built-in defaults.
package config

import "time"

// Config is the root configuration for the Sokoni daemon.
type Config struct {
	Data      DataConfig      `koanf:"data"`
	Recommend RecommendConfig `koanf:"recommend"`
	Features  FeaturesConfig  `koanf:"features"`
	Cluster   ClusterConfig   `koanf:"cluster"`
	Eval      EvalConfig      `koanf:"eval"`
	Retrain   RetrainConfig   `koanf:"retrain"`
	Registry  RegistryConfig  `koanf:"registry"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DataConfig points at the batch data files the provider reads each cycle.
type DataConfig struct {
	// InteractionsPath is a JSONL file of trader interactions.
	InteractionsPath string `koanf:"interactions_path"`

	// ItemsPath is a JSONL file of the item catalog.
	ItemsPath string `koanf:"items_path"`

	// UsersPath is a JSONL file of trader profiles and stated preferences.
	UsersPath string `koanf:"users_path"`

	// GroupsPath is a JSONL file of open bulk-purchase groups.
	GroupsPath string `koanf:"groups_path"`
}

// RecommendConfig controls the hybrid scorer.
type RecommendConfig struct {
	// CFWeight is the collaborative-filtering blend weight.
	CFWeight float64 `koanf:"cf_weight"`

	// ContentWeight is the content-based blend weight.
	ContentWeight float64 `koanf:"content_weight"`

	// PopularityWeight is the popularity blend weight.
	PopularityWeight float64 `koanf:"popularity_weight"`

	// DefaultK is the number of recommendations returned when the
	// request does not specify one.
	DefaultK int `koanf:"default_k"`

	// MaxK caps the number of recommendations per request.
	MaxK int `koanf:"max_k"`

	// PopularityWindowDays bounds the interaction window used for
	// popularity scoring.
	PopularityWindowDays int `koanf:"popularity_window_days"`

	// CacheTTL is how long scored responses stay cached.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// CacheMaxEntries bounds the response cache size.
	CacheMaxEntries int `koanf:"cache_max_entries"`

	NMF NMFConfig `koanf:"nmf"`
}

// NMFConfig controls the non-negative matrix factorization model.
type NMFConfig struct {
	// Factors is the latent dimension.
	Factors int `koanf:"factors"`

	// Iterations is the number of multiplicative update passes.
	Iterations int `koanf:"iterations"`

	// Seed makes factor initialization deterministic.
	Seed int64 `koanf:"seed"`
}

// FeaturesConfig controls user feature extraction.
type FeaturesConfig struct {
	// BulkQuantityThreshold is the quantity at and above which a
	// purchase counts as a bulk purchase for price sensitivity.
	BulkQuantityThreshold int `koanf:"bulk_quantity_threshold"`

	// RecentCategoryDays is the lookback for the recent-category
	// purchase bonus.
	RecentCategoryDays int `koanf:"recent_category_days"`
}

// ClusterConfig controls trader segmentation.
type ClusterConfig struct {
	// K is the number of clusters. 0 selects k automatically.
	K int `koanf:"k"`

	// MaxK caps the automatic k search.
	MaxK int `koanf:"max_k"`

	// MaxIterations bounds Lloyd iterations per fit.
	MaxIterations int `koanf:"max_iterations"`

	// Tolerance is the centroid-shift convergence threshold.
	Tolerance float64 `koanf:"tolerance"`

	// Seed makes centroid initialization deterministic.
	Seed int64 `koanf:"seed"`

	// Labels are optional human-readable segment names, indexed by
	// cluster ID. Unnamed clusters keep an empty label.
	Labels []string `koanf:"labels"`
}

// EvalConfig controls the offline evaluation harness.
type EvalConfig struct {
	// K is the cutoff for precision, recall and NDCG.
	K int `koanf:"k"`

	// MaxParallel bounds concurrent per-user evaluations.
	MaxParallel int `koanf:"max_parallel"`

	// HoldoutFraction is the share of each user's most recent
	// interactions held out as evaluation ground truth.
	HoldoutFraction float64 `koanf:"holdout_fraction"`
}

// RetrainConfig controls the periodic retraining scheduler.
type RetrainConfig struct {
	// Interval is the fixed retraining period. Ignored when
	// CronSchedule is set.
	Interval time.Duration `koanf:"interval"`

	// CronSchedule optionally replaces Interval with a cron expression,
	// e.g. "0 3 * * *" for 03:00 daily.
	CronSchedule string `koanf:"cron_schedule"`

	// TrainOnStartup runs one cycle immediately at daemon start.
	TrainOnStartup bool `koanf:"train_on_startup"`

	// MinNewInteractions is the minimum number of interactions since
	// the last promotion for a cycle to proceed.
	MinNewInteractions int `koanf:"min_new_interactions"`

	// MinTotalInteractions is the minimum dataset size for a cycle to
	// proceed.
	MinTotalInteractions int `koanf:"min_total_interactions"`

	// CycleTimeout bounds a single train-evaluate-promote cycle.
	CycleTimeout time.Duration `koanf:"cycle_timeout"`
}

// RegistryConfig controls model artifact persistence.
type RegistryConfig struct {
	// Path is the badger database directory for model artifacts.
	Path string `koanf:"path"`
}

// ServerConfig controls the operational HTTP listener.
type ServerConfig struct {
	// MetricsAddr is the prometheus metrics listen address.
	MetricsAddr string `koanf:"metrics_addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			InteractionsPath: "/data/sokoni/interactions.jsonl",
			ItemsPath:        "/data/sokoni/items.jsonl",
			UsersPath:        "/data/sokoni/users.jsonl",
			GroupsPath:       "/data/sokoni/groups.jsonl",
		},
		Recommend: RecommendConfig{
			CFWeight:             0.6,
			ContentWeight:        0.3,
			PopularityWeight:     0.1,
			DefaultK:             10,
			MaxK:                 100,
			PopularityWindowDays: 90,
			CacheTTL:             5 * time.Minute,
			CacheMaxEntries:      10000,
			NMF: NMFConfig{
				Factors:    16,
				Iterations: 100,
				Seed:       42,
			},
		},
		Features: FeaturesConfig{
			BulkQuantityThreshold: 10,
			RecentCategoryDays:    30,
		},
		Cluster: ClusterConfig{
			K:             0, // auto-select
			MaxK:          10,
			MaxIterations: 100,
			Tolerance:     1e-4,
			Seed:          42,
		},
		Eval: EvalConfig{
			K:               10,
			MaxParallel:     8,
			HoldoutFraction: 0.2,
		},
		Retrain: RetrainConfig{
			Interval:             24 * time.Hour,
			CronSchedule:         "",
			TrainOnStartup:       true,
			MinNewInteractions:   5,
			MinTotalInteractions: 10,
			CycleTimeout:         10 * time.Minute,
		},
		Registry: RegistryConfig{
			Path: "/data/sokoni/models",
		},
		Server: ServerConfig{
			MetricsAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
