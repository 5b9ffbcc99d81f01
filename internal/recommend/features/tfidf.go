// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package features

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Vectorizer builds sparse TF-IDF vectors over item text. The vocabulary
// is rebuilt on every Fit; it is never frozen across training cycles.
//
// Fields are exported for gob serialization inside model bundles.
type Vectorizer struct {
	// Vocabulary maps token to vector index.
	Vocabulary map[string]int

	// IDF holds smoothed inverse document frequencies, index-aligned
	// with Vocabulary: ln((1+N)/(1+df)) + 1.
	IDF []float64

	// DocCount is the number of documents seen by Fit.
	DocCount int
}

// NewVectorizer returns an unfitted vectorizer.
func NewVectorizer() *Vectorizer {
	return &Vectorizer{Vocabulary: make(map[string]int)}
}

// Fit rebuilds the vocabulary and document frequencies from the corpus.
func (v *Vectorizer) Fit(docs []string) {
	v.Vocabulary = make(map[string]int)
	v.DocCount = len(docs)

	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(doc) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	// Sorted vocabulary for deterministic indices.
	tokens := make([]string, 0, len(df))
	for tok := range df {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	v.IDF = make([]float64, len(tokens))
	for i, tok := range tokens {
		v.Vocabulary[tok] = i
		v.IDF[i] = math.Log(float64(1+v.DocCount)/float64(1+df[tok])) + 1
	}
}

// Transform converts a document into a sparse L2-normalized TF-IDF
// vector keyed by vocabulary index. Out-of-vocabulary tokens are ignored.
func (v *Vectorizer) Transform(doc string) map[int]float64 {
	counts := make(map[int]int)
	total := 0
	for _, tok := range Tokenize(doc) {
		idx, ok := v.Vocabulary[tok]
		if !ok {
			continue
		}
		counts[idx]++
		total++
	}
	if total == 0 {
		return map[int]float64{}
	}

	vec := make(map[int]float64, len(counts))
	var norm float64
	for idx, c := range counts {
		w := (float64(c) / float64(total)) * v.IDF[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm == 0 {
		return map[int]float64{}
	}
	norm = math.Sqrt(norm)
	for idx := range vec {
		vec[idx] /= norm
	}
	return vec
}

// Tokenize lowercases the input and splits on any non-letter,
// non-digit rune. Empty tokens are dropped.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// CosineSparse computes cosine similarity between two sparse vectors.
// For L2-normalized inputs this is the dot product over shared indices.
func CosineSparse(a, b map[int]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for idx, wa := range a {
		if wb, ok := b[idx]; ok {
			dot += wa * wb
		}
	}
	return dot
}
