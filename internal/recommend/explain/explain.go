// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package explain turns scored recommendations into trader-facing
// sentences. Three generators cover different depths: fixed templates
// keyed by recommendation shape and dominant signal, a feature-weight
// summary for segment assignments, and a local linear surrogate for
// per-request attributions.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

// Signal is the dominant driver behind a recommendation, strongest
// first.
type Signal int

const (
	// SignalRecentPurchase means the trader bought in this category
	// recently.
	SignalRecentPurchase Signal = iota
	// SignalCategoryAffinity means the category matches the trader's
	// interaction or preference profile.
	SignalCategoryAffinity
	// SignalLocationMatch means nearby traders drive the score.
	SignalLocationMatch
	// SignalDefault covers everything else.
	SignalDefault
)

// importanceThreshold is the minimum absolute weight for a feature to
// be mentioned.
const importanceThreshold = 0.2

// featurePhrases maps feature names to trader-facing fragments.
var featurePhrases = map[string]string{
	"purchase_frequency":    "how often you buy",
	"avg_transaction_value": "your typical order size",
	"price_sensitivity":     "your focus on bulk prices",
	"product_diversity":     "the range of products you trade",
	"last_activity_age":     "how recently you traded",
}

// Template renders the fixed-template explanation for one candidate.
// The group is nil for form_new candidates.
func Template(cand recommend.Candidate, item recommend.Item, group *recommend.Group, signal Signal) string {
	if cand.Type == recommend.CandidateJoinExisting && group != nil {
		discount := math.Round(group.DiscountPercent)
		switch signal {
		case SignalRecentPurchase:
			return fmt.Sprintf("You bought %s products recently; %d traders are already buying %s together at %.0f%% off",
				item.Category, group.MemberCount, item.Name, discount)
		case SignalCategoryAffinity:
			return fmt.Sprintf("Traders like you are buying %s; join %d others for %.0f%% off",
				item.Name, group.MemberCount, discount)
		case SignalLocationMatch:
			return fmt.Sprintf("Traders near you are buying %s together; %d in the group so far at %.0f%% off",
				item.Name, group.MemberCount, discount)
		default:
			return fmt.Sprintf("Join %d traders buying %s together for %.0f%% off",
				group.MemberCount, item.Name, discount)
		}
	}

	switch signal {
	case SignalRecentPurchase:
		return fmt.Sprintf("You bought %s products recently; start a group for %s to unlock bulk pricing",
			item.Category, item.Name)
	case SignalCategoryAffinity:
		return fmt.Sprintf("%s matches what you usually trade; start a group to buy it in bulk", item.Name)
	case SignalLocationMatch:
		return fmt.Sprintf("Traders near you want %s; start a group and they can join", item.Name)
	default:
		return fmt.Sprintf("Start a group for %s to unlock bulk pricing", item.Name)
	}
}

// Generator renders template explanations from a candidate's recorded
// reasons. It plugs into the engine as its explanation composer.
type Generator struct{}

// NewGenerator creates a generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Explain picks the dominant signal from the candidate's reasons and
// renders the matching template.
func (*Generator) Explain(cand recommend.Candidate, item recommend.Item, group *recommend.Group) string {
	return Template(cand, item, group, signalFor(cand.Reasons))
}

// signalFor maps recorded reason strings onto a template signal,
// strongest first. A recent category purchase beats everything;
// taste and neighbor signals read as category affinity. Location is
// never inferred from reasons; callers with location context pass
// SignalLocationMatch to Template directly.
func signalFor(reasons []string) Signal {
	affinity := false
	for _, r := range reasons {
		switch {
		case strings.HasPrefix(r, recommend.ReasonRecentCategoryPrefix):
			return SignalRecentPurchase
		case r == recommend.ReasonSignalCF,
			r == recommend.ReasonSignalContent,
			r == recommend.ReasonColdPreferences,
			r == recommend.ReasonColdNewItem:
			affinity = true
		}
	}
	if affinity {
		return SignalCategoryAffinity
	}
	return SignalDefault
}

// DescribeFeatures summarizes why a trader landed in their segment: the
// top two features by absolute weight above the threshold, in one
// sentence. Weights are index-aligned with recommend.FeatureNames.
func DescribeFeatures(weights []float64) string {
	names := recommend.FeatureNames()

	type ranked struct {
		name   string
		weight float64
	}
	var picked []ranked
	for i, w := range weights {
		if i >= len(names) {
			break
		}
		if math.Abs(w) > importanceThreshold {
			picked = append(picked, ranked{names[i], math.Abs(w)})
		}
	}
	if len(picked) == 0 {
		return "Your segment reflects your overall trading pattern"
	}

	sort.SliceStable(picked, func(i, j int) bool { return picked[i].weight > picked[j].weight })
	if len(picked) > 2 {
		picked = picked[:2]
	}

	if len(picked) == 1 {
		return fmt.Sprintf("Your segment is driven mainly by %s", featurePhrases[picked[0].name])
	}
	return fmt.Sprintf("Your segment is driven mainly by %s and %s",
		featurePhrases[picked[0].name], featurePhrases[picked[1].name])
}

// Surrogate is a local linear approximation of the scoring function
// around one request, fitted on perturbed feature samples.
type Surrogate struct {
	// Intercept is the bias term.
	Intercept float64

	// Weights are the per-feature coefficients.
	Weights []float64
}

// FitSurrogate solves the least-squares fit of scores onto samples.
// Every sample must have the same width, and there must be more samples
// than features.
func FitSurrogate(samples [][]float64, scores []float64) (*Surrogate, error) {
	n := len(samples)
	if n == 0 || n != len(scores) {
		return nil, fmt.Errorf("surrogate needs matched samples and scores, got %d and %d", n, len(scores))
	}
	d := len(samples[0])
	if d == 0 {
		return nil, fmt.Errorf("surrogate samples must not be empty")
	}
	if n <= d {
		return nil, fmt.Errorf("surrogate needs more samples (%d) than features (%d)", n, d)
	}

	// Design matrix with a leading ones column for the intercept.
	x := mat.NewDense(n, d+1, nil)
	for i, row := range samples {
		if len(row) != d {
			return nil, fmt.Errorf("sample %d has width %d, want %d", i, len(row), d)
		}
		x.Set(i, 0, 1)
		for j, v := range row {
			x.Set(i, j+1, v)
		}
	}
	y := mat.NewVecDense(n, scores)

	var coef mat.VecDense
	var qr mat.QR
	qr.Factorize(x)
	if err := qr.SolveVecTo(&coef, false, y); err != nil {
		return nil, fmt.Errorf("solve surrogate: %w", err)
	}

	weights := make([]float64, d)
	for j := 0; j < d; j++ {
		weights[j] = coef.AtVec(j + 1)
	}
	return &Surrogate{Intercept: coef.AtVec(0), Weights: weights}, nil
}

// Importances returns the absolute coefficients normalized to sum to 1.
func (s *Surrogate) Importances() []float64 {
	out := make([]float64, len(s.Weights))
	var total float64
	for i, w := range s.Weights {
		out[i] = math.Abs(w)
		total += out[i]
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// ConfidenceLabel grades how concentrated the attribution is: the mass
// of the top three importances.
func ConfidenceLabel(importances []float64) string {
	sorted := make([]float64, len(importances))
	copy(sorted, importances)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var mass float64
	for i, v := range sorted {
		if i >= 3 {
			break
		}
		mass += v
	}
	switch {
	case mass > 0.7:
		return "high"
	case mass > 0.5:
		return "medium"
	default:
		return "low"
	}
}

// Attribution is one surrogate-based explanation.
type Attribution struct {
	// Feature is the feature name.
	Feature string `json:"feature"`

	// Importance is the normalized attribution mass in [0, 1].
	Importance float64 `json:"importance"`
}

// Attribute fits a surrogate and returns named attributions sorted by
// importance, with an overall confidence label.
func Attribute(samples [][]float64, scores []float64) ([]Attribution, string, error) {
	surrogate, err := FitSurrogate(samples, scores)
	if err != nil {
		return nil, "", err
	}

	names := recommend.FeatureNames()
	importances := surrogate.Importances()
	out := make([]Attribution, 0, len(importances))
	for i, imp := range importances {
		name := fmt.Sprintf("feature_%d", i)
		if i < len(names) {
			name = names[i]
		}
		out = append(out, Attribution{Feature: name, Importance: imp})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out, ConfidenceLabel(importances), nil
}
