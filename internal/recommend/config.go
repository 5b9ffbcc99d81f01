// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package recommend

import (
	"fmt"
	"time"
)

// Group bonus constants. Bonuses are added to the blended score, which
// is then clipped to [0, 1].
const (
	// DeadlineBonus rewards groups closing within the deadline window.
	DeadlineBonus = 0.10

	// FillRateBonus rewards groups with momentum but room to join.
	FillRateBonus = 0.05

	// FillRateLow and FillRateHigh bound the rewarded fill-rate band.
	FillRateLow  = 0.30
	FillRateHigh = 0.80

	// RecentCategoryBonus rewards groups in a category the trader
	// purchased from recently.
	RecentCategoryBonus = 0.05
)

// BlendWeights are the hybrid blend coefficients. They are normalized to
// sum to 1 before scoring.
type BlendWeights struct {
	// CF weights the collaborative-filtering signal.
	CF float64

	// Content weights the content-similarity signal.
	Content float64

	// Popularity weights the windowed-popularity signal.
	Popularity float64
}

// CacheConfig controls the in-memory response cache.
type CacheConfig struct {
	// Enabled turns the cache on.
	Enabled bool

	// TTL is how long entries stay valid.
	TTL time.Duration

	// MaxEntries bounds the cache size; oldest entries are evicted.
	MaxEntries int
}

// Config holds hybrid engine configuration.
type Config struct {
	// Weights are the blend coefficients (defaults 0.6/0.3/0.1).
	Weights BlendWeights

	// DefaultK is the list length when the request does not specify one.
	DefaultK int

	// MaxK caps the list length per request.
	MaxK int

	// DeadlineWindow is the closing-soon window for the deadline bonus.
	DeadlineWindow time.Duration

	// RecentCategoryWindow is the lookback for the category bonus.
	RecentCategoryWindow time.Duration

	// PopularityWindow bounds the interaction window for popularity
	// fallback scoring when no trained model can serve a request.
	PopularityWindow time.Duration

	// Cache controls the response cache.
	Cache CacheConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Weights: BlendWeights{
			CF:         0.6,
			Content:    0.3,
			Popularity: 0.1,
		},
		DefaultK:             10,
		MaxK:                 100,
		DeadlineWindow:       72 * time.Hour,
		RecentCategoryWindow: 30 * 24 * time.Hour,
		PopularityWindow:     90 * 24 * time.Hour,
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Weights.CF < 0 || c.Weights.Content < 0 || c.Weights.Popularity < 0 {
		return fmt.Errorf("blend weights must be non-negative")
	}
	if c.Weights.CF+c.Weights.Content+c.Weights.Popularity <= 0 {
		return fmt.Errorf("blend weights must not all be zero")
	}
	if c.DefaultK <= 0 {
		return fmt.Errorf("default k must be positive, got %d", c.DefaultK)
	}
	if c.MaxK < c.DefaultK {
		return fmt.Errorf("max k (%d) must be >= default k (%d)", c.MaxK, c.DefaultK)
	}
	if c.DeadlineWindow <= 0 {
		return fmt.Errorf("deadline window must be positive")
	}
	if c.RecentCategoryWindow <= 0 {
		return fmt.Errorf("recent category window must be positive")
	}
	if c.PopularityWindow <= 0 {
		return fmt.Errorf("popularity window must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the cache is enabled")
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive when the cache is enabled, got %d", c.Cache.MaxEntries)
	}
	return nil
}

// normalized returns the blend weights scaled to sum to 1.
func (w BlendWeights) normalized() BlendWeights {
	sum := w.CF + w.Content + w.Popularity
	if sum <= 0 {
		return BlendWeights{CF: 1}
	}
	return BlendWeights{
		CF:         w.CF / sum,
		Content:    w.Content / sum,
		Popularity: w.Popularity / sum,
	}
}
