// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package recommend implements the hybrid recommendation engine for
// bulk-purchase opportunities.
//
// The engine blends three signals over a shared candidate set:
//
//   - collaborative filtering (latent factors over the user-item matrix)
//   - content similarity (TF-IDF vectors over item descriptions)
//   - windowed popularity
//
// Blended scores are adjusted with group bonuses (closing deadline,
// partial fill, recent category purchase) and clipped to [0, 1]. Traders
// without history are served by the cold-start handler, which falls back
// to declared preferences and popularity.
//
// Scoring is lock-free: the engine reads an immutable model snapshot
// through an atomic pointer, and the retraining scheduler swaps in a new
// snapshot only after a candidate model wins offline evaluation.
//
// Subpackages:
//
//   - features: user feature extraction and TF-IDF item profiles
//   - cluster: trader segmentation (k-means)
//   - algorithms: the three signal implementations
//   - eval: offline ranking metrics
//   - registry: versioned model artifact store
//   - retrain: the periodic retraining state machine
//   - explain: human-readable recommendation explanations
package recommend
