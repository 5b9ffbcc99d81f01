// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package explain

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

func TestTemplateJoinExisting(t *testing.T) {
	item := recommend.Item{ID: 101, Name: "Maize Flour 50kg", Category: "staples"}
	group := &recommend.Group{ID: 1, ItemID: 101, MemberCount: 7, DiscountPercent: 12.4}
	cand := recommend.Candidate{ItemID: 101, GroupID: 1, Type: recommend.CandidateJoinExisting}

	tests := []struct {
		name   string
		signal Signal
		wants  []string
	}{
		{"recent purchase", SignalRecentPurchase, []string{"staples", "7 traders", "12% off"}},
		{"category affinity", SignalCategoryAffinity, []string{"Maize Flour 50kg", "7 others", "12% off"}},
		{"location match", SignalLocationMatch, []string{"near you", "7 in the group"}},
		{"default", SignalDefault, []string{"Join 7 traders", "Maize Flour 50kg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Template(cand, item, group, tt.signal)
			for _, want := range tt.wants {
				if !strings.Contains(got, want) {
					t.Errorf("Template() = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestTemplateFormNew(t *testing.T) {
	item := recommend.Item{ID: 103, Name: "Sugar 25kg", Category: "staples"}
	cand := recommend.Candidate{ItemID: 103, Type: recommend.CandidateFormNew}

	got := Template(cand, item, nil, SignalDefault)
	if !strings.Contains(got, "Start a group") || !strings.Contains(got, "Sugar 25kg") {
		t.Errorf("Template(form_new) = %q, want group-formation phrasing", got)
	}

	got = Template(cand, item, nil, SignalRecentPurchase)
	if !strings.Contains(got, "staples") {
		t.Errorf("Template(form_new, recent purchase) = %q, want category mention", got)
	}
}

func TestGeneratorExplainFromReasons(t *testing.T) {
	item := recommend.Item{ID: 101, Name: "Maize Flour 50kg", Category: "staples"}
	group := &recommend.Group{ID: 1, ItemID: 101, MemberCount: 7, DiscountPercent: 10}
	gen := NewGenerator()

	tests := []struct {
		name    string
		cand    recommend.Candidate
		group   *recommend.Group
		reasons []string
		want    string
	}{
		{
			name:    "recent category purchase wins",
			cand:    recommend.Candidate{ItemID: 101, GroupID: 1, Type: recommend.CandidateJoinExisting},
			group:   group,
			reasons: []string{recommend.ReasonSignalCF, recommend.ReasonRecentCategoryPrefix + "staples recently"},
			want:    "You bought staples products recently",
		},
		{
			name:    "collaborative signal reads as affinity",
			cand:    recommend.Candidate{ItemID: 101, GroupID: 1, Type: recommend.CandidateJoinExisting},
			group:   group,
			reasons: []string{recommend.ReasonSignalCF},
			want:    "Traders like you",
		},
		{
			name:    "taste match on a form_new candidate",
			cand:    recommend.Candidate{ItemID: 101, Type: recommend.CandidateFormNew},
			reasons: []string{recommend.ReasonSignalContent},
			want:    "matches what you usually trade",
		},
		{
			name:    "popularity falls through to the default template",
			cand:    recommend.Candidate{ItemID: 101, GroupID: 1, Type: recommend.CandidateJoinExisting},
			group:   group,
			reasons: []string{recommend.ReasonColdPopularity},
			want:    "Join 7 traders",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cand.Reasons = tt.reasons
			got := gen.Explain(tt.cand, item, tt.group)
			if !strings.Contains(got, tt.want) {
				t.Errorf("Explain() = %q, missing %q", got, tt.want)
			}
		})
	}
}

func TestDescribeFeatures(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		want    string
	}{
		{
			name:    "two dominant features",
			weights: []float64{0.9, 0.5, 0.1, 0.05, 0.01},
			want:    "Your segment is driven mainly by how often you buy and your typical order size",
		},
		{
			name:    "one dominant feature",
			weights: []float64{0.05, 0.1, 0.8, 0.1, 0.05},
			want:    "Your segment is driven mainly by your focus on bulk prices",
		},
		{
			name:    "negative weights count by magnitude",
			weights: []float64{0.05, 0.1, 0.05, 0.1, -0.9},
			want:    "Your segment is driven mainly by how recently you traded",
		},
		{
			name:    "nothing above threshold",
			weights: []float64{0.1, 0.1, 0.1, 0.1, 0.1},
			want:    "Your segment reflects your overall trading pattern",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeFeatures(tt.weights); got != tt.want {
				t.Errorf("DescribeFeatures() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFitSurrogateRecoversLinearFunction(t *testing.T) {
	// Score = 2*x0 - 1*x1 + 0.5, no noise: the fit must be exact.
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // deterministic seeding, not cryptographic
	var samples [][]float64
	var scores []float64
	for i := 0; i < 50; i++ {
		x0, x1 := rng.Float64(), rng.Float64()
		samples = append(samples, []float64{x0, x1})
		scores = append(scores, 2*x0-x1+0.5)
	}

	s, err := FitSurrogate(samples, scores)
	if err != nil {
		t.Fatalf("FitSurrogate() error = %v", err)
	}
	if math.Abs(s.Weights[0]-2) > 1e-6 {
		t.Errorf("weight[0] = %.6f, want 2", s.Weights[0])
	}
	if math.Abs(s.Weights[1]+1) > 1e-6 {
		t.Errorf("weight[1] = %.6f, want -1", s.Weights[1])
	}
	if math.Abs(s.Intercept-0.5) > 1e-6 {
		t.Errorf("intercept = %.6f, want 0.5", s.Intercept)
	}

	imps := s.Importances()
	var sum float64
	for _, v := range imps {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("importances sum = %.6f, want 1", sum)
	}
	if imps[0] <= imps[1] {
		t.Errorf("importances = %v, want feature 0 dominant", imps)
	}
}

func TestFitSurrogateInputValidation(t *testing.T) {
	if _, err := FitSurrogate(nil, nil); err == nil {
		t.Error("FitSurrogate(empty) returned nil error")
	}
	// Two samples for two features: underdetermined with intercept.
	samples := [][]float64{{1, 2}, {3, 4}}
	if _, err := FitSurrogate(samples, []float64{1, 2}); err == nil {
		t.Error("FitSurrogate(underdetermined) returned nil error")
	}
	// Ragged rows.
	ragged := [][]float64{{1, 2}, {3}, {4, 5}, {6, 7}}
	if _, err := FitSurrogate(ragged, []float64{1, 2, 3, 4}); err == nil {
		t.Error("FitSurrogate(ragged) returned nil error")
	}
}

func TestConfidenceLabel(t *testing.T) {
	tests := []struct {
		name        string
		importances []float64
		want        string
	}{
		{"concentrated", []float64{0.6, 0.2, 0.1, 0.05, 0.05}, "high"},
		{"moderate", []float64{0.25, 0.2, 0.15, 0.2, 0.2}, "medium"},
		{"diffuse", []float64{0.2, 0.2, 0.2, 0.2, 0.2}, "medium"},
		{"very diffuse", []float64{0.125, 0.125, 0.125, 0.125, 0.125, 0.125, 0.125, 0.125}, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfidenceLabel(tt.importances); got != tt.want {
				t.Errorf("ConfidenceLabel(%v) = %q, want %q", tt.importances, got, tt.want)
			}
		})
	}
}

func TestAttribute(t *testing.T) {
	rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic seeding, not cryptographic
	var samples [][]float64
	var scores []float64
	for i := 0; i < 60; i++ {
		row := make([]float64, 5)
		for j := range row {
			row[j] = rng.Float64()
		}
		samples = append(samples, row)
		// Purchase frequency dominates the local score.
		scores = append(scores, 3*row[0]+0.2*row[1])
	}

	attrs, confidence, err := Attribute(samples, scores)
	if err != nil {
		t.Fatalf("Attribute() error = %v", err)
	}
	if len(attrs) != 5 {
		t.Fatalf("got %d attributions, want 5", len(attrs))
	}
	if attrs[0].Feature != "purchase_frequency" {
		t.Errorf("top attribution = %s, want purchase_frequency", attrs[0].Feature)
	}
	if confidence != "high" {
		t.Errorf("confidence = %q, want high", confidence)
	}
}
