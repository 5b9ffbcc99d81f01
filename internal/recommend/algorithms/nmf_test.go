// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package algorithms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

var trainBase = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func purchase(user, item int64, daysAgo int) recommend.Interaction {
	return recommend.Interaction{
		UserID:    user,
		ItemID:    item,
		Type:      recommend.InteractionPurchase,
		Quantity:  15,
		UnitPrice: 40,
		Timestamp: trainBase.AddDate(0, 0, -daysAgo),
	}
}

func view(user, item int64, daysAgo int) recommend.Interaction {
	return recommend.Interaction{
		UserID:    user,
		ItemID:    item,
		Type:      recommend.InteractionView,
		Timestamp: trainBase.AddDate(0, 0, -daysAgo),
	}
}

// clusteredInteractions builds two taste groups: users 1-3 buy items
// 101-103, users 4-6 buy items 201-203.
func clusteredInteractions() []recommend.Interaction {
	var out []recommend.Interaction
	for u := int64(1); u <= 3; u++ {
		for it := int64(101); it <= 103; it++ {
			out = append(out, purchase(u, it, int(u)))
		}
	}
	for u := int64(4); u <= 6; u++ {
		for it := int64(201); it <= 203; it++ {
			out = append(out, purchase(u, it, int(u)))
		}
	}
	return out
}

func TestNMFTrainPredict(t *testing.T) {
	n := NewNMF(NMFConfig{Factors: 4, Iterations: 60, Seed: 42})
	interactions := clusteredInteractions()
	// User 1 skips item 103 so it is a genuine recommendation target.
	filtered := interactions[:0:0]
	for _, inter := range interactions {
		if inter.UserID == 1 && inter.ItemID == 103 {
			continue
		}
		filtered = append(filtered, inter)
	}

	if err := n.Train(context.Background(), filtered, nil); err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if !n.IsTrained() {
		t.Fatal("IsTrained() = false after Train")
	}

	scores, err := n.Predict(context.Background(), 1, []int64{103, 201})
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}

	for id, s := range scores {
		if s < 0 || s > 1 {
			t.Errorf("score[%d] = %v, out of [0,1]", id, s)
		}
	}
	// Item 103 is bought by user 1's taste group; 201 is not.
	if scores[103] <= scores[201] {
		t.Errorf("in-group item score %v should exceed out-group %v", scores[103], scores[201])
	}
}

func TestNMFUnknownUserEmptyScores(t *testing.T) {
	n := NewNMF(NMFConfig{Factors: 2, Iterations: 20, Seed: 1})
	if err := n.Train(context.Background(), clusteredInteractions(), nil); err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	scores, err := n.Predict(context.Background(), 999, []int64{101})
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("unknown user scores = %v, want empty", scores)
	}
}

func TestNMFUnknownItemAbsent(t *testing.T) {
	n := NewNMF(NMFConfig{Factors: 2, Iterations: 20, Seed: 1})
	if err := n.Train(context.Background(), clusteredInteractions(), nil); err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	scores, err := n.Predict(context.Background(), 1, []int64{101, 9999})
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if _, ok := scores[9999]; ok {
		t.Error("unknown item present in score map")
	}
}

func TestNMFEmptyInteractions(t *testing.T) {
	n := NewNMF(NMFConfig{})
	err := n.Train(context.Background(), nil, nil)
	if !errors.Is(err, recommend.ErrInsufficientData) {
		t.Errorf("Train(empty) err = %v, want ErrInsufficientData", err)
	}
}

func TestNMFPredictBeforeTrain(t *testing.T) {
	n := NewNMF(NMFConfig{})
	_, err := n.Predict(context.Background(), 1, []int64{1})
	if !errors.Is(err, recommend.ErrModelNotTrained) {
		t.Errorf("Predict before train err = %v, want ErrModelNotTrained", err)
	}
}

func TestNMFDeterministicTraining(t *testing.T) {
	interactions := clusteredInteractions()

	run := func() map[int64]float64 {
		n := NewNMF(NMFConfig{Factors: 4, Iterations: 40, Seed: 42})
		if err := n.Train(context.Background(), interactions, nil); err != nil {
			t.Fatalf("Train() error: %v", err)
		}
		scores, err := n.Predict(context.Background(), 1, []int64{101, 102, 201})
		if err != nil {
			t.Fatalf("Predict() error: %v", err)
		}
		return scores
	}

	a, b := run(), run()
	for id, s := range a {
		if b[id] != s {
			t.Errorf("score[%d] differs across identical seeded runs: %v vs %v", id, s, b[id])
		}
	}
}

func TestNMFStateRoundTrip(t *testing.T) {
	n := NewNMF(NMFConfig{Factors: 4, Iterations: 40, Seed: 42})
	if err := n.Train(context.Background(), clusteredInteractions(), nil); err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	state, err := n.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}

	restored := NewNMF(NMFConfig{Factors: 4})
	if err := restored.Restore(state); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}

	candidates := []int64{101, 102, 103, 201, 202, 203}
	want, err := n.Predict(context.Background(), 2, candidates)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	got, err := restored.Predict(context.Background(), 2, candidates)
	if err != nil {
		t.Fatalf("restored Predict() error: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("restored scores size %d, want %d", len(got), len(want))
	}
	for id, s := range want {
		if got[id] != s {
			t.Errorf("restored score[%d] = %v, want %v", id, got[id], s)
		}
	}
}

func TestNMFTrainCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewNMF(NMFConfig{Factors: 4, Iterations: 100, Seed: 42})
	err := n.Train(ctx, clusteredInteractions(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Train with canceled context err = %v, want context.Canceled", err)
	}
	if n.IsTrained() {
		t.Error("canceled training must not mark the model trained")
	}
}
