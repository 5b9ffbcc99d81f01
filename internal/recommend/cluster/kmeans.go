// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package cluster segments traders by behavioral features using k-means
// with deterministic k-means++ seeding, a persisted standard scaler, and
// automatic k selection.
//
// Degenerate input (too few points, identical points) never fails a
// training cycle: the fit completes with sentinel quality metrics and a
// diagnostic error the caller may log and ignore.
package cluster

import (
	"math"
	"math/rand"

	"github.com/sokonilabs/sokoni/internal/recommend"
	"gonum.org/v1/gonum/floats"
)

// Config holds clustering parameters.
type Config struct {
	// K is the number of clusters. 0 selects k automatically.
	K int

	// MaxK caps the automatic k search (inclusive).
	MaxK int

	// MaxIterations bounds Lloyd iterations per fit.
	MaxIterations int

	// Tolerance is the centroid-shift threshold for convergence.
	Tolerance float64

	// Seed makes centroid initialization deterministic.
	Seed int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		K:             0,
		MaxK:          10,
		MaxIterations: 100,
		Tolerance:     1e-4,
		Seed:          42,
	}
}

// Model is a fitted clustering model. All fields are exported for gob
// serialization inside model artifacts.
type Model struct {
	// K is the number of clusters.
	K int

	// Centroids are in scaled feature space.
	Centroids [][]float64

	// Scaler is the transform fitted on the training batch.
	Scaler *Scaler

	// MaxDistance is the largest point-to-own-centroid distance in the
	// training batch, the confidence denominator for new points.
	MaxDistance float64

	// Inertia is the within-cluster sum of squared distances.
	Inertia float64

	// Silhouette is the mean silhouette coefficient; -1 when degenerate.
	Silhouette float64

	// DaviesBouldin is the Davies-Bouldin index; +Inf when degenerate.
	DaviesBouldin float64
}

// FitResult carries the model plus per-point assignments for the
// training batch.
type FitResult struct {
	Model *Model

	// Labels is the cluster index per input row.
	Labels []int

	// Confidences is 1 - dist/maxDist per input row, in [0, 1].
	Confidences []float64
}

// Fit standardizes the samples and fits k-means. The returned error is
// diagnostic only: when it wraps ErrDegenerateClustering the result is
// still usable, with sentinel quality metrics.
func Fit(samples [][]float64, cfg Config) (*FitResult, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultConfig().Tolerance
	}
	if cfg.MaxK < 2 {
		cfg.MaxK = DefaultConfig().MaxK
	}

	n := len(samples)
	if n == 0 {
		return &FitResult{
			Model: &Model{Silhouette: -1, DaviesBouldin: math.Inf(1), Scaler: &Scaler{}},
		}, recommend.ErrDegenerateClustering
	}

	scaler := FitScaler(samples)
	scaled := scaler.Transform(samples)

	k, searchErr := chooseK(scaled, cfg)
	centroids, labels := lloyd(scaled, k, cfg)

	model := &Model{
		K:         k,
		Centroids: centroids,
		Scaler:    scaler,
	}

	distances := make([]float64, n)
	for i, p := range scaled {
		d := floats.Distance(p, centroids[labels[i]], 2)
		distances[i] = d
		model.Inertia += d * d
		if d > model.MaxDistance {
			model.MaxDistance = d
		}
	}

	confidences := make([]float64, n)
	for i, d := range distances {
		confidences[i] = confidence(d, model.MaxDistance)
	}

	model.Silhouette = silhouette(scaled, labels, k)
	model.DaviesBouldin = daviesBouldin(scaled, centroids, labels)

	var err error
	if searchErr != nil || model.Silhouette == -1 {
		err = recommend.ErrDegenerateClustering
	}
	return &FitResult{Model: model, Labels: labels, Confidences: confidences}, err
}

// Predict assigns a new point to its nearest cluster. Confidence uses
// the training batch's max distance, clamped into [0, 1].
func (m *Model) Predict(point []float64) (int, float64) {
	if len(m.Centroids) == 0 {
		return 0, 0
	}
	p := m.Scaler.TransformPoint(point)

	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range m.Centroids {
		if d := floats.Distance(p, centroid, 2); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best, confidence(bestDist, m.MaxDistance)
}

// confidence maps a distance onto [0, 1] against the batch maximum.
func confidence(dist, maxDist float64) float64 {
	if maxDist <= 0 {
		if dist == 0 {
			return 1
		}
		return 0
	}
	c := 1 - dist/maxDist
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// chooseK picks the cluster count. With cfg.K set it is honored (capped
// at n). Automatic selection searches k in [2, min(MaxK, n-1)] when
// n > 10, preferring the elbow of the inertia curve's second discrete
// derivative when at least 3 candidates exist, else max silhouette.
func chooseK(scaled [][]float64, cfg Config) (int, error) {
	n := len(scaled)
	if cfg.K > 0 {
		k := cfg.K
		if k > n {
			k = n
		}
		if k < 2 {
			return 1, recommend.ErrDegenerateClustering
		}
		return k, nil
	}

	if n <= 10 {
		k := 2
		if n < 2 {
			return 1, recommend.ErrDegenerateClustering
		}
		return k, nil
	}

	maxK := cfg.MaxK
	if maxK > 10 {
		maxK = 10
	}
	if maxK > n-1 {
		maxK = n - 1
	}

	ks := make([]int, 0, maxK-1)
	inertias := make([]float64, 0, maxK-1)
	silhouettes := make([]float64, 0, maxK-1)
	for k := 2; k <= maxK; k++ {
		centroids, labels := lloyd(scaled, k, cfg)
		var inertia float64
		for i, p := range scaled {
			d := floats.Distance(p, centroids[labels[i]], 2)
			inertia += d * d
		}
		ks = append(ks, k)
		inertias = append(inertias, inertia)
		silhouettes = append(silhouettes, silhouette(scaled, labels, k))
	}

	if len(ks) >= 3 {
		return ks[elbowIndex(inertias)], nil
	}

	best := 0
	for i := 1; i < len(ks); i++ {
		if silhouettes[i] > silhouettes[best] {
			best = i
		}
	}
	return ks[best], nil
}

// elbowIndex finds the index with the largest second discrete derivative
// of the inertia curve. Endpoints have no second derivative and lose.
func elbowIndex(inertias []float64) int {
	best := 1
	bestCurve := math.Inf(-1)
	for i := 1; i < len(inertias)-1; i++ {
		curve := inertias[i-1] - 2*inertias[i] + inertias[i+1]
		if curve > bestCurve {
			bestCurve = curve
			best = i
		}
	}
	return best
}

// lloyd runs k-means++ seeding followed by Lloyd iterations.
func lloyd(scaled [][]float64, k int, cfg Config) ([][]float64, []int) {
	n := len(scaled)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // deterministic seeding, not cryptographic
	centroids := seedCentroids(scaled, k, rng)
	labels := make([]int, n)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		// Assignment step.
		for i, p := range scaled {
			best := 0
			bestDist := math.Inf(1)
			for c, centroid := range centroids {
				if d := floats.Distance(p, centroid, 2); d < bestDist {
					best = c
					bestDist = d
				}
			}
			labels[i] = best
		}

		// Update step.
		next := make([][]float64, k)
		counts := make([]int, k)
		dims := len(scaled[0])
		for c := range next {
			next[c] = make([]float64, dims)
		}
		for i, p := range scaled {
			c := labels[i]
			counts[c]++
			floats.Add(next[c], p)
		}
		for c := range next {
			if counts[c] == 0 {
				// Empty cluster keeps its previous centroid.
				copy(next[c], centroids[c])
				continue
			}
			floats.Scale(1/float64(counts[c]), next[c])
		}

		var shift float64
		for c := range centroids {
			shift += floats.Distance(centroids[c], next[c], 2)
		}
		centroids = next
		if shift < cfg.Tolerance {
			break
		}
	}

	// Final assignment against the converged centroids.
	for i, p := range scaled {
		best := 0
		bestDist := math.Inf(1)
		for c, centroid := range centroids {
			if d := floats.Distance(p, centroid, 2); d < bestDist {
				best = c
				bestDist = d
			}
		}
		labels[i] = best
	}

	return centroids, labels
}

// seedCentroids implements k-means++ initialization.
func seedCentroids(scaled [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(scaled)
	centroids := make([][]float64, 0, k)

	first := append([]float64(nil), scaled[rng.Intn(n)]...)
	centroids = append(centroids, first)

	dist2 := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, p := range scaled {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := floats.Distance(p, c, 2); d < best {
					best = d
				}
			}
			dist2[i] = best * best
			total += dist2[i]
		}

		if total == 0 {
			// All remaining points coincide with chosen centroids.
			centroids = append(centroids, append([]float64(nil), scaled[rng.Intn(n)]...))
			continue
		}

		target := rng.Float64() * total
		var cum float64
		chosen := n - 1
		for i, d := range dist2 {
			cum += d
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), scaled[chosen]...))
	}
	return centroids
}
