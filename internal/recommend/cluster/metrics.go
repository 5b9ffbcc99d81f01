// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// silhouette computes the mean silhouette coefficient. Returns the
// sentinel -1 when the clustering is degenerate: fewer than 2 effective
// clusters, or every point alone in its cluster.
func silhouette(scaled [][]float64, labels []int, k int) float64 {
	n := len(scaled)
	if n < 2 || k < 2 {
		return -1
	}

	members := make(map[int][]int)
	for i, l := range labels {
		members[l] = append(members[l], i)
	}
	if len(members) < 2 {
		return -1
	}

	var sum float64
	counted := 0
	for i, p := range scaled {
		own := members[labels[i]]
		if len(own) < 2 {
			// Singleton clusters contribute silhouette 0 by convention.
			counted++
			continue
		}

		var a float64
		for _, j := range own {
			if j == i {
				continue
			}
			a += floats.Distance(p, scaled[j], 2)
		}
		a /= float64(len(own) - 1)

		b := math.Inf(1)
		for label, idxs := range members {
			if label == labels[i] {
				continue
			}
			var d float64
			for _, j := range idxs {
				d += floats.Distance(p, scaled[j], 2)
			}
			d /= float64(len(idxs))
			if d < b {
				b = d
			}
		}

		denom := math.Max(a, b)
		if denom > 0 {
			sum += (b - a) / denom
		}
		counted++
	}

	if counted == 0 {
		return -1
	}
	return sum / float64(counted)
}

// daviesBouldin computes the Davies-Bouldin index (lower is better).
// Returns the sentinel +Inf when fewer than 2 effective clusters exist
// or centroids coincide.
func daviesBouldin(scaled [][]float64, centroids [][]float64, labels []int) float64 {
	k := len(centroids)
	if k < 2 {
		return math.Inf(1)
	}

	// Mean intra-cluster distance per cluster.
	scatter := make([]float64, k)
	counts := make([]int, k)
	for i, p := range scaled {
		c := labels[i]
		scatter[c] += floats.Distance(p, centroids[c], 2)
		counts[c]++
	}
	effective := 0
	for c := range scatter {
		if counts[c] > 0 {
			scatter[c] /= float64(counts[c])
			effective++
		}
	}
	if effective < 2 {
		return math.Inf(1)
	}

	var sum float64
	for i := 0; i < k; i++ {
		if counts[i] == 0 {
			continue
		}
		worst := 0.0
		for j := 0; j < k; j++ {
			if j == i || counts[j] == 0 {
				continue
			}
			sep := floats.Distance(centroids[i], centroids[j], 2)
			if sep == 0 {
				return math.Inf(1)
			}
			if r := (scatter[i] + scatter[j]) / sep; r > worst {
				worst = r
			}
		}
		sum += worst
	}
	return sum / float64(effective)
}
