// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package config

import (
	"fmt"
	"strings"
)

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if err := c.validateRecommend(); err != nil {
		return err
	}
	if err := c.validateFeatures(); err != nil {
		return err
	}
	if err := c.validateCluster(); err != nil {
		return err
	}
	if err := c.validateEval(); err != nil {
		return err
	}
	if err := c.validateRetrain(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateRecommend() error {
	r := &c.Recommend
	if r.CFWeight < 0 || r.ContentWeight < 0 || r.PopularityWeight < 0 {
		return fmt.Errorf("recommend: blend weights must be non-negative")
	}
	if r.CFWeight+r.ContentWeight+r.PopularityWeight <= 0 {
		return fmt.Errorf("recommend: blend weights must not all be zero")
	}
	if r.DefaultK <= 0 {
		return fmt.Errorf("recommend: default_k must be positive, got %d", r.DefaultK)
	}
	if r.MaxK < r.DefaultK {
		return fmt.Errorf("recommend: max_k (%d) must be >= default_k (%d)", r.MaxK, r.DefaultK)
	}
	if r.PopularityWindowDays <= 0 {
		return fmt.Errorf("recommend: popularity_window_days must be positive, got %d", r.PopularityWindowDays)
	}
	if r.NMF.Factors <= 0 {
		return fmt.Errorf("recommend: nmf.factors must be positive, got %d", r.NMF.Factors)
	}
	if r.NMF.Iterations <= 0 {
		return fmt.Errorf("recommend: nmf.iterations must be positive, got %d", r.NMF.Iterations)
	}
	return nil
}

func (c *Config) validateFeatures() error {
	if c.Features.BulkQuantityThreshold <= 0 {
		return fmt.Errorf("features: bulk_quantity_threshold must be positive, got %d", c.Features.BulkQuantityThreshold)
	}
	if c.Features.RecentCategoryDays <= 0 {
		return fmt.Errorf("features: recent_category_days must be positive, got %d", c.Features.RecentCategoryDays)
	}
	return nil
}

func (c *Config) validateCluster() error {
	cl := &c.Cluster
	if cl.K < 0 {
		return fmt.Errorf("cluster: k must be >= 0 (0 selects k automatically), got %d", cl.K)
	}
	if cl.K == 1 {
		return fmt.Errorf("cluster: k must be at least 2 when set explicitly")
	}
	if cl.MaxK < 2 {
		return fmt.Errorf("cluster: max_k must be at least 2, got %d", cl.MaxK)
	}
	if cl.MaxIterations <= 0 {
		return fmt.Errorf("cluster: max_iterations must be positive, got %d", cl.MaxIterations)
	}
	if cl.Tolerance <= 0 {
		return fmt.Errorf("cluster: tolerance must be positive, got %g", cl.Tolerance)
	}
	return nil
}

func (c *Config) validateEval() error {
	if c.Eval.K <= 0 {
		return fmt.Errorf("eval: k must be positive, got %d", c.Eval.K)
	}
	if c.Eval.MaxParallel <= 0 {
		return fmt.Errorf("eval: max_parallel must be positive, got %d", c.Eval.MaxParallel)
	}
	if c.Eval.HoldoutFraction <= 0 || c.Eval.HoldoutFraction >= 1 {
		return fmt.Errorf("eval: holdout_fraction must be in (0, 1), got %g", c.Eval.HoldoutFraction)
	}
	return nil
}

func (c *Config) validateRetrain() error {
	r := &c.Retrain
	if r.CronSchedule == "" && r.Interval <= 0 {
		return fmt.Errorf("retrain: interval must be positive when cron_schedule is unset")
	}
	if r.MinNewInteractions < 0 {
		return fmt.Errorf("retrain: min_new_interactions must be >= 0, got %d", r.MinNewInteractions)
	}
	if r.MinTotalInteractions < 0 {
		return fmt.Errorf("retrain: min_total_interactions must be >= 0, got %d", r.MinTotalInteractions)
	}
	if r.CycleTimeout <= 0 {
		return fmt.Errorf("retrain: cycle_timeout must be positive")
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.Path == "" {
		return fmt.Errorf("registry: path must not be empty")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("logging: invalid level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: invalid format %q (expected json or console)", c.Logging.Format)
	}
	return nil
}
