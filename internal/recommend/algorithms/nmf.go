// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package algorithms

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

// nmfEpsilon guards divisions in the multiplicative updates.
const nmfEpsilon = 1e-9

// NMFConfig holds non-negative matrix factorization parameters.
type NMFConfig struct {
	// Factors is the latent dimension.
	Factors int

	// Iterations is the number of multiplicative update passes.
	Iterations int

	// Seed makes factor initialization deterministic.
	Seed int64
}

// NMF implements collaborative filtering by factorizing the implicit
// user-item confidence matrix into non-negative latent factors with
// multiplicative updates. Traders and items absent from the training
// interactions have no latent vector and are absent from predictions;
// the engine routes them to cold-start scoring.
type NMF struct {
	BaseAlgorithm
	cfg NMFConfig

	userIndex   map[int64]int
	itemIndex   map[int64]int
	userFactors [][]float64
	itemFactors [][]float64
}

// nmfState is the gob-serialized form of a trained NMF model.
type nmfState struct {
	Factors     int
	UserIndex   map[int64]int
	ItemIndex   map[int64]int
	UserFactors [][]float64
	ItemFactors [][]float64
}

// NewNMF creates an NMF algorithm with the given configuration.
func NewNMF(cfg NMFConfig) *NMF {
	if cfg.Factors <= 0 {
		cfg.Factors = 16
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 100
	}
	return &NMF{
		BaseAlgorithm: NewBaseAlgorithm("nmf"),
		cfg:           cfg,
	}
}

// Train factorizes the confidence matrix built from interactions.
func (n *NMF) Train(ctx context.Context, interactions []recommend.Interaction, _ []recommend.Item) error {
	if len(interactions) == 0 {
		return fmt.Errorf("nmf train: %w", recommend.ErrInsufficientData)
	}

	userIndex, itemIndex := buildIndices(interactions)
	numUsers, numItems := len(userIndex), len(itemIndex)
	f := n.cfg.Factors
	if f > numItems {
		f = numItems
	}
	if f > numUsers {
		f = numUsers
	}
	if f < 1 {
		f = 1
	}

	// Confidence matrix: strongest signal wins per cell.
	matrix := make([][]float64, numUsers)
	for i := range matrix {
		matrix[i] = make([]float64, numItems)
	}
	for _, inter := range interactions {
		u := userIndex[inter.UserID]
		it := itemIndex[inter.ItemID]
		if c := inter.Type.Confidence(); c > matrix[u][it] {
			matrix[u][it] = c
		}
	}

	rng := rand.New(rand.NewSource(n.cfg.Seed)) //nolint:gosec // deterministic seeding, not cryptographic
	w := randomMatrix(numUsers, f, rng)
	h := randomMatrix(numItems, f, rng)

	for iter := 0; iter < n.cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("nmf train canceled: %w", err)
		}
		updateItemFactors(matrix, w, h)
		updateUserFactors(matrix, w, h)
	}

	n.acquireTrainLock()
	defer n.releaseTrainLock()
	n.userIndex = userIndex
	n.itemIndex = itemIndex
	n.userFactors = w
	n.itemFactors = h
	n.markTrained()
	return nil
}

// Predict scores candidates as latent inner products, min-max normalized
// over the candidate set. Unknown users or items are absent from the map.
func (n *NMF) Predict(_ context.Context, userID int64, candidates []int64) (map[int64]float64, error) {
	n.acquirePredictLock()
	defer n.releasePredictLock()

	if !n.trained {
		return nil, fmt.Errorf("nmf predict: %w", recommend.ErrModelNotTrained)
	}

	u, ok := n.userIndex[userID]
	if !ok {
		return map[int64]float64{}, nil
	}

	scores := make(map[int64]float64)
	for _, itemID := range candidates {
		it, ok := n.itemIndex[itemID]
		if !ok {
			continue
		}
		scores[itemID] = dot(n.userFactors[u], n.itemFactors[it])
	}
	return normalizeScores(scores), nil
}

// PredictSimilar scores candidates by latent cosine similarity to the
// given item.
func (n *NMF) PredictSimilar(_ context.Context, itemID int64, candidates []int64) (map[int64]float64, error) {
	n.acquirePredictLock()
	defer n.releasePredictLock()

	if !n.trained {
		return nil, fmt.Errorf("nmf predict similar: %w", recommend.ErrModelNotTrained)
	}

	it, ok := n.itemIndex[itemID]
	if !ok {
		return map[int64]float64{}, nil
	}

	scores := make(map[int64]float64)
	for _, candID := range candidates {
		if candID == itemID {
			continue
		}
		c, ok := n.itemIndex[candID]
		if !ok {
			continue
		}
		scores[candID] = cosine(n.itemFactors[it], n.itemFactors[c])
	}
	return scores, nil
}

// State serializes the trained factors.
func (n *NMF) State() ([]byte, error) {
	n.acquirePredictLock()
	defer n.releasePredictLock()

	if !n.trained {
		return nil, fmt.Errorf("nmf state: %w", recommend.ErrModelNotTrained)
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(nmfState{
		Factors:     n.cfg.Factors,
		UserIndex:   n.userIndex,
		ItemIndex:   n.itemIndex,
		UserFactors: n.userFactors,
		ItemFactors: n.itemFactors,
	})
	if err != nil {
		return nil, fmt.Errorf("nmf state encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore loads factors serialized by State.
func (n *NMF) Restore(state []byte) error {
	var st nmfState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&st); err != nil {
		return fmt.Errorf("nmf state decode: %w", err)
	}

	n.acquireTrainLock()
	defer n.releaseTrainLock()
	n.userIndex = st.UserIndex
	n.itemIndex = st.ItemIndex
	n.userFactors = st.UserFactors
	n.itemFactors = st.ItemFactors
	n.markTrained()
	return nil
}

// buildIndices maps user and item IDs to dense indices in sorted order
// so training is deterministic.
func buildIndices(interactions []recommend.Interaction) (map[int64]int, map[int64]int) {
	userSet := make(map[int64]struct{})
	itemSet := make(map[int64]struct{})
	for _, inter := range interactions {
		userSet[inter.UserID] = struct{}{}
		itemSet[inter.ItemID] = struct{}{}
	}

	userIDs := sortedKeys(userSet)
	itemIDs := sortedKeys(itemSet)

	userIndex := make(map[int64]int, len(userIDs))
	for i, id := range userIDs {
		userIndex[id] = i
	}
	itemIndex := make(map[int64]int, len(itemIDs))
	for i, id := range itemIDs {
		itemIndex[id] = i
	}
	return userIndex, itemIndex
}

func sortedKeys(set map[int64]struct{}) []int64 {
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func randomMatrix(rows, cols int, rng *rand.Rand) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = rng.Float64() + nmfEpsilon
		}
	}
	return m
}

// updateItemFactors applies H <- H * (V^T W) / (H W^T W), elementwise.
func updateItemFactors(matrix, w, h [][]float64) {
	f := len(h[0])
	wtw := gram(w, f)

	for i := range h {
		for j := 0; j < f; j++ {
			var numer float64
			for u := range w {
				if matrix[u][i] != 0 {
					numer += matrix[u][i] * w[u][j]
				}
			}
			var denom float64
			for l := 0; l < f; l++ {
				denom += h[i][l] * wtw[l][j]
			}
			h[i][j] *= numer / (denom + nmfEpsilon)
		}
	}
}

// updateUserFactors applies W <- W * (V H) / (W H^T H), elementwise.
func updateUserFactors(matrix, w, h [][]float64) {
	f := len(w[0])
	hth := gram(h, f)

	for u := range w {
		for j := 0; j < f; j++ {
			var numer float64
			for i := range h {
				if matrix[u][i] != 0 {
					numer += matrix[u][i] * h[i][j]
				}
			}
			var denom float64
			for l := 0; l < f; l++ {
				denom += w[u][l] * hth[l][j]
			}
			w[u][j] *= numer / (denom + nmfEpsilon)
		}
	}
}

// gram computes M^T M for a matrix with f columns.
func gram(m [][]float64, f int) [][]float64 {
	out := make([][]float64, f)
	for i := range out {
		out[i] = make([]float64, f)
	}
	for _, row := range m {
		for i := 0; i < f; i++ {
			for j := 0; j < f; j++ {
				out[i][j] += row[i] * row[j]
			}
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
