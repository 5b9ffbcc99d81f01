// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package features

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sokonilabs/sokoni/internal/recommend"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func testCatalog() []recommend.Item {
	return []recommend.Item{
		{ID: 1, Name: "Maize Flour", Category: "staples", Description: "maize flour 50kg bag", Active: true},
		{ID: 2, Name: "Cooking Oil", Category: "staples", Description: "vegetable cooking oil 20l", Active: true},
		{ID: 3, Name: "Bar Soap", Category: "household", Description: "laundry bar soap carton", Active: true},
	}
}

func interaction(user, item int64, typ recommend.InteractionType, qty int, price float64, daysAgo int) recommend.Interaction {
	return recommend.Interaction{
		UserID:    user,
		ItemID:    item,
		Type:      typ,
		Quantity:  qty,
		UnitPrice: price,
		Timestamp: testNow.AddDate(0, 0, -daysAgo),
	}
}

func TestExtractBasicFeatures(t *testing.T) {
	e := NewExtractor(DefaultConfig(), zerolog.Nop())
	interactions := []recommend.Interaction{
		interaction(1, 1, recommend.InteractionPurchase, 20, 50, 14),
		interaction(1, 2, recommend.InteractionPurchase, 5, 100, 7),
		interaction(1, 3, recommend.InteractionView, 0, 0, 0),
	}

	users, profiles, vectorizer := e.Extract(interactions, testCatalog(), testNow)

	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	f := users[0]

	if f.UserID != 1 {
		t.Errorf("UserID = %d, want 1", f.UserID)
	}
	// 3 interactions over 14 days = 2 weeks -> 1.5/week.
	if math.Abs(f.PurchaseFrequency-1.5) > 1e-9 {
		t.Errorf("PurchaseFrequency = %v, want 1.5", f.PurchaseFrequency)
	}
	// Purchases: 20*50 + 5*100 = 1500 over 2 purchases.
	if math.Abs(f.AvgTransactionValue-750) > 1e-9 {
		t.Errorf("AvgTransactionValue = %v, want 750", f.AvgTransactionValue)
	}
	// One bulk purchase (qty 20 >= 10) of 3 interactions.
	if math.Abs(f.PriceSensitivity-1.0/3.0) > 1e-9 {
		t.Errorf("PriceSensitivity = %v, want 1/3", f.PriceSensitivity)
	}
	// Categories: staples, household.
	if f.ProductDiversity != 2 {
		t.Errorf("ProductDiversity = %v, want 2", f.ProductDiversity)
	}
	if f.LastActivityAge != 0 {
		t.Errorf("LastActivityAge = %v, want 0", f.LastActivityAge)
	}

	if len(profiles) != 3 {
		t.Errorf("got %d profiles, want 3", len(profiles))
	}
	if vectorizer == nil || len(vectorizer.Vocabulary) == 0 {
		t.Error("vectorizer not fitted")
	}
}

func TestExtractSingleInteractionFrequency(t *testing.T) {
	e := NewExtractor(DefaultConfig(), zerolog.Nop())
	interactions := []recommend.Interaction{
		interaction(7, 1, recommend.InteractionView, 0, 0, 3),
	}

	users, _, _ := e.Extract(interactions, testCatalog(), testNow)
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	// Single interaction: frequency is the raw count.
	if users[0].PurchaseFrequency != 1 {
		t.Errorf("PurchaseFrequency = %v, want 1", users[0].PurchaseFrequency)
	}
}

func TestExtractMissingNumericsDefaultToZero(t *testing.T) {
	e := NewExtractor(DefaultConfig(), zerolog.Nop())
	// Purchase with no price or quantity recorded: must not error and
	// must not contribute value.
	interactions := []recommend.Interaction{
		interaction(2, 1, recommend.InteractionPurchase, 0, 0, 1),
	}

	users, _, _ := e.Extract(interactions, testCatalog(), testNow)
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	if users[0].AvgTransactionValue != 0 {
		t.Errorf("AvgTransactionValue = %v, want 0 for missing numerics", users[0].AvgTransactionValue)
	}
}

func TestExtractEmptyInteractions(t *testing.T) {
	e := NewExtractor(DefaultConfig(), zerolog.Nop())

	users, profiles, _ := e.Extract(nil, testCatalog(), testNow)
	if len(users) != 0 {
		t.Errorf("got %d users, want 0", len(users))
	}
	// Profiles are still built over the full catalog.
	if len(profiles) != 3 {
		t.Errorf("got %d profiles, want 3", len(profiles))
	}
}

func TestExtractDeterministicOrder(t *testing.T) {
	e := NewExtractor(DefaultConfig(), zerolog.Nop())
	interactions := []recommend.Interaction{
		interaction(9, 1, recommend.InteractionView, 0, 0, 1),
		interaction(3, 2, recommend.InteractionView, 0, 0, 2),
		interaction(5, 3, recommend.InteractionView, 0, 0, 3),
	}

	users, _, _ := e.Extract(interactions, testCatalog(), testNow)
	want := []int64{3, 5, 9}
	for i, u := range users {
		if u.UserID != want[i] {
			t.Errorf("users[%d].UserID = %d, want %d", i, u.UserID, want[i])
		}
	}
}

func TestPopularityRankDense(t *testing.T) {
	e := NewExtractor(DefaultConfig(), zerolog.Nop())
	interactions := []recommend.Interaction{
		interaction(1, 2, recommend.InteractionView, 0, 0, 1),
		interaction(2, 2, recommend.InteractionView, 0, 0, 1),
		interaction(1, 1, recommend.InteractionView, 0, 0, 1),
	}

	profiles, _ := e.BuildItemProfiles(testCatalog(), interactions)

	rankOf := make(map[int64]int)
	for _, p := range profiles {
		rankOf[p.ItemID] = p.PopularityRank
	}

	if rankOf[2] != 1 {
		t.Errorf("rank of most popular item = %d, want 1", rankOf[2])
	}
	if rankOf[1] != 2 {
		t.Errorf("rank of second item = %d, want 2", rankOf[1])
	}
	if rankOf[3] != 3 {
		t.Errorf("rank of uninteracted item = %d, want 3", rankOf[3])
	}
}

func TestPriceSensitivityNeutralPrior(t *testing.T) {
	e := NewExtractor(DefaultConfig(), zerolog.Nop())
	if got := e.priceSensitivity(nil); got != 0.5 {
		t.Errorf("priceSensitivity(no history) = %v, want 0.5", got)
	}
}
