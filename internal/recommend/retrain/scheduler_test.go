// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package retrain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/sokonilabs/sokoni/internal/recommend"
	"github.com/sokonilabs/sokoni/internal/recommend/cluster"
	"github.com/sokonilabs/sokoni/internal/recommend/eval"
	"github.com/sokonilabs/sokoni/internal/recommend/registry"
)

var cycleBase = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

// memProvider serves fixed in-memory batch data.
type memProvider struct {
	interactions []recommend.Interaction
	items        []recommend.Item
	groups       []recommend.Group
	prefs        []recommend.Preferences
	err          error
}

func (p *memProvider) Interactions(_ context.Context) ([]recommend.Interaction, error) {
	return p.interactions, p.err
}
func (p *memProvider) Items(_ context.Context) ([]recommend.Item, error) { return p.items, p.err }

func (p *memProvider) Groups(_ context.Context) ([]recommend.Group, error) {
	return p.groups, p.err
}
func (p *memProvider) Preferences(_ context.Context) ([]recommend.Preferences, error) {
	return p.prefs, p.err
}

// memSink captures cluster assignment upserts.
type memSink struct {
	assignments []recommend.ClusterAssignment
}

func (s *memSink) UpsertAssignments(_ context.Context, assignments []recommend.ClusterAssignment) error {
	s.assignments = assignments
	return nil
}

func trainingItems() []recommend.Item {
	return []recommend.Item{
		{ID: 101, Name: "Maize Flour 50kg", Category: "staples", Description: "white maize flour bulk bag", Price: 40, Active: true, ListedAt: cycleBase.Add(-60 * 24 * time.Hour)},
		{ID: 102, Name: "Cooking Oil 20L", Category: "staples", Description: "refined sunflower cooking oil", Price: 55, Active: true, ListedAt: cycleBase.Add(-50 * 24 * time.Hour)},
		{ID: 103, Name: "Sugar 25kg", Category: "staples", Description: "white granulated sugar sack", Price: 30, Active: true, ListedAt: cycleBase.Add(-40 * 24 * time.Hour)},
		{ID: 201, Name: "Detergent Carton", Category: "household", Description: "powder detergent carton dozen", Price: 25, Active: true, ListedAt: cycleBase.Add(-30 * 24 * time.Hour)},
		{ID: 202, Name: "Bar Soap Box", Category: "household", Description: "laundry bar soap box", Price: 18, Active: true, ListedAt: cycleBase.Add(-20 * 24 * time.Hour)},
	}
}

// trainingInteractions gives two clear trader segments with several
// interactions per trader so the temporal split leaves both sides
// populated.
func trainingInteractions() []recommend.Interaction {
	var out []recommend.Interaction
	add := func(user, item int64, day int) {
		out = append(out, recommend.Interaction{
			UserID:    user,
			ItemID:    item,
			Type:      recommend.InteractionPurchase,
			Quantity:  12,
			UnitPrice: 30,
			Timestamp: cycleBase.Add(time.Duration(day) * 24 * time.Hour),
		})
	}
	for day := 0; day < 4; day++ {
		for _, user := range []int64{1, 2, 3} {
			add(user, 101+int64(day%3), day)
		}
		for _, user := range []int64{4, 5, 6} {
			add(user, 201+int64(day%2), day)
		}
	}
	return out
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return registry.New(db, zerolog.Nop())
}

func newTestEngine(t *testing.T) *recommend.Engine {
	t.Helper()
	cfg := recommend.DefaultConfig()
	cfg.Cache.Enabled = false
	eng, err := recommend.NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return eng
}

func newTestScheduler(t *testing.T, provider recommend.DataProvider, sink recommend.ClusterSink) (*Scheduler, *recommend.Engine) {
	t.Helper()
	engine := newTestEngine(t)
	cfg := DefaultConfig()
	cfg.TrainOnStartup = false
	cfg.NMF.Seed = 42
	s, err := NewScheduler(cfg, provider, engine, newTestRegistry(t), sink, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s, engine
}

func TestRunCycleSkipsBelowMinimum(t *testing.T) {
	provider := &memProvider{
		interactions: trainingInteractions()[:3],
		items:        trainingItems(),
	}
	s, engine := newTestScheduler(t, provider, nil)

	result, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want %s", result.Outcome, OutcomeSkipped)
	}
	// The serving snapshot refreshes even on a skipped cycle.
	if engine.Snapshot() == nil {
		t.Error("engine snapshot not set on skipped cycle")
	}
	if engine.ActiveModel() != nil {
		t.Error("skipped cycle installed a model")
	}
}

func TestRunCycleFirstModelPromotes(t *testing.T) {
	provider := &memProvider{
		interactions: trainingInteractions(),
		items:        trainingItems(),
	}
	s, engine := newTestScheduler(t, provider, nil)

	result, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if result.Outcome != OutcomePromoted {
		t.Fatalf("outcome = %s, want %s", result.Outcome, OutcomePromoted)
	}
	if result.Report == nil {
		t.Fatal("promoted cycle returned nil report")
	}

	model := engine.ActiveModel()
	if model == nil {
		t.Fatal("no model installed after promotion")
	}
	if model.Version != result.Version {
		t.Errorf("engine model version = %s, want %s", model.Version, result.Version)
	}

	active, err := s.registry.Active(registry.ModelTypeHybrid)
	if err != nil {
		t.Fatalf("registry.Active() error = %v", err)
	}
	if active.Version != result.Version {
		t.Errorf("registry active version = %s, want %s", active.Version, result.Version)
	}

	// The promoted artifact can be restored into a serving model.
	var bundle recommend.HybridBundle
	if err := s.registry.LoadBundle(registry.ModelTypeHybrid, active.Version, &bundle); err != nil {
		t.Fatalf("LoadBundle() error = %v", err)
	}
	if bundle.Version != active.Version {
		t.Errorf("bundle version = %s, want %s", bundle.Version, active.Version)
	}
}

func TestRunCycleSkipsWithoutNewInteractions(t *testing.T) {
	provider := &memProvider{
		interactions: trainingInteractions(),
		items:        trainingItems(),
	}
	s, _ := newTestScheduler(t, provider, nil)

	first, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first RunCycle() error = %v", err)
	}
	if first.Outcome != OutcomePromoted {
		t.Fatalf("first outcome = %s, want %s", first.Outcome, OutcomePromoted)
	}

	// Same dataset again: no growth, nothing to train on.
	second, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if second.Outcome != OutcomeSkipped {
		t.Errorf("second outcome = %s, want %s", second.Outcome, OutcomeSkipped)
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	provider := &memProvider{items: trainingItems()}
	s, _ := newTestScheduler(t, provider, nil)

	s.running.Store(true)
	if _, err := s.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("RunCycle() during a running cycle error = %v, want ErrCycleInProgress", err)
	}
	s.running.Store(false)
}

func TestRunCyclePublishesClusterAssignments(t *testing.T) {
	provider := &memProvider{
		interactions: trainingInteractions(),
		items:        trainingItems(),
	}
	sink := &memSink{}
	s, _ := newTestScheduler(t, provider, sink)

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(sink.assignments) == 0 {
		t.Fatal("no cluster assignments published")
	}

	seen := make(map[int64]struct{})
	for _, a := range sink.assignments {
		seen[a.UserID] = struct{}{}
		if a.Confidence < 0 || a.Confidence > 1 {
			t.Errorf("user %d confidence %.4f out of [0, 1]", a.UserID, a.Confidence)
		}
		if a.ModelVersion == "" {
			t.Errorf("user %d assignment missing model version", a.UserID)
		}
		if a.Description == "" {
			t.Errorf("user %d assignment missing segment description", a.UserID)
		}
	}
	if len(seen) != 6 {
		t.Errorf("assignments cover %d traders, want 6", len(seen))
	}

	if _, err := s.registry.Active(registry.ModelTypeCluster); err != nil {
		t.Errorf("no active cluster model after cycle: %v", err)
	}
}

// staticAlgorithm stands in for a trained signal in promotion tests.
type staticAlgorithm struct{ name string }

func (a *staticAlgorithm) Name() string { return a.name }

func (a *staticAlgorithm) Train(_ context.Context, _ []recommend.Interaction, _ []recommend.Item) error {
	return nil
}

func (a *staticAlgorithm) Predict(_ context.Context, _ int64, _ []int64) (map[int64]float64, error) {
	return map[int64]float64{}, nil
}

func (a *staticAlgorithm) PredictSimilar(_ context.Context, _ int64, _ []int64) (map[int64]float64, error) {
	return map[int64]float64{}, nil
}

func (a *staticAlgorithm) IsTrained() bool        { return true }
func (a *staticAlgorithm) State() ([]byte, error) { return []byte(a.name), nil }
func (a *staticAlgorithm) Restore(_ []byte) error { return nil }

func TestShouldPromoteComparesAgainstActive(t *testing.T) {
	provider := &memProvider{
		interactions: trainingInteractions(),
		items:        trainingItems(),
	}
	s, _ := newTestScheduler(t, provider, nil)

	artifact := registry.ModelArtifact{
		Version:   "hybrid-prior",
		ModelType: registry.ModelTypeHybrid,
		TrainedAt: cycleBase,
		Metrics:   map[string]float64{"precision_at_k": 0.42},
	}
	if err := s.registry.Save(artifact, &recommend.HybridBundle{Version: "hybrid-prior"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.registry.Promote(registry.ModelTypeHybrid, "hybrid-prior"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	tests := []struct {
		name      string
		precision float64
		want      bool
	}{
		{"improvement promotes", 0.43, true},
		{"exact tie promotes the newer candidate", 0.42, true},
		{"regression keeps the active model", 0.41, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.shouldPromote(&eval.Report{PrecisionAtK: tt.precision})
			if err != nil {
				t.Fatalf("shouldPromote() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("shouldPromote(%.2f vs 0.42) = %v, want %v", tt.precision, got, tt.want)
			}
		})
	}
}

func TestPromoteLeavesSingleArtifact(t *testing.T) {
	provider := &memProvider{
		interactions: trainingInteractions(),
		items:        trainingItems(),
	}
	s, engine := newTestScheduler(t, provider, nil)

	first, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if first.Outcome != OutcomePromoted {
		t.Fatalf("outcome = %s, want %s", first.Outcome, OutcomePromoted)
	}

	candidate := recommend.NewHybridModel("hybrid-next", cycleBase.Add(24*time.Hour),
		&staticAlgorithm{name: "nmf"}, &staticAlgorithm{name: "content"}, &staticAlgorithm{name: "popularity"},
		trainingInteractions(), trainingItems())
	if err := s.promote(candidate, &eval.Report{PrecisionAtK: 0.9}); err != nil {
		t.Fatalf("promote() error = %v", err)
	}

	active, err := s.registry.Active(registry.ModelTypeHybrid)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active.Version != "hybrid-next" {
		t.Errorf("active version = %s, want hybrid-next", active.Version)
	}
	list, err := s.registry.List(registry.ModelTypeHybrid)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("registry holds %d artifacts after promotion, want only the active one", len(list))
	}
	if got := engine.ActiveModel().Version; got != "hybrid-next" {
		t.Errorf("engine model version = %s, want hybrid-next", got)
	}
}

func TestClusterAssignmentsResolveWhenCandidateLoses(t *testing.T) {
	// Seed an active cluster model with an unbeatable silhouette so the
	// cycle's candidate is discarded.
	samples := [][]float64{
		{0, 0, 0, 0, 0},
		{0.1, 0, 0, 0, 0},
		{10, 10, 10, 10, 10},
		{10.1, 10, 10, 10, 10},
	}
	clusterCfg := cluster.DefaultConfig()
	clusterCfg.K = 2
	fitted, err := cluster.Fit(samples, clusterCfg)
	if err != nil && !errors.Is(err, recommend.ErrDegenerateClustering) {
		t.Fatalf("cluster.Fit() error = %v", err)
	}

	provider := &memProvider{
		interactions: trainingInteractions(),
		items:        trainingItems(),
	}
	sink := &memSink{}
	s, _ := newTestScheduler(t, provider, sink)

	artifact := registry.ModelArtifact{
		Version:   "cluster-prior",
		ModelType: registry.ModelTypeCluster,
		TrainedAt: cycleBase,
		Metrics:   map[string]float64{"silhouette": 2.0},
	}
	if err := s.registry.Save(artifact, fitted.Model); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.registry.Promote(registry.ModelTypeCluster, "cluster-prior"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if len(sink.assignments) == 0 {
		t.Fatal("no cluster assignments published")
	}
	for _, a := range sink.assignments {
		if a.ModelVersion != "cluster-prior" {
			t.Errorf("user %d assignment version = %q, want the active model cluster-prior", a.UserID, a.ModelVersion)
		}
	}
	active, err := s.registry.Active(registry.ModelTypeCluster)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active.Version != "cluster-prior" {
		t.Errorf("active cluster version = %s, want cluster-prior", active.Version)
	}
}

func TestScratchConfigClonesServingEngine(t *testing.T) {
	engCfg := recommend.DefaultConfig()
	engCfg.Weights = recommend.BlendWeights{CF: 0.2, Content: 0.2, Popularity: 0.6}
	engCfg.PopularityWindow = 7 * 24 * time.Hour
	engine, err := recommend.NewEngine(engCfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.TrainOnStartup = false
	s, err := NewScheduler(cfg, &memProvider{}, engine, newTestRegistry(t), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	got := s.scratchConfig()
	if got.Weights != engCfg.Weights {
		t.Errorf("scratch weights = %+v, want the serving engine's %+v", got.Weights, engCfg.Weights)
	}
	if got.PopularityWindow != engCfg.PopularityWindow {
		t.Errorf("scratch popularity window = %v, want %v", got.PopularityWindow, engCfg.PopularityWindow)
	}
	if got.Cache.Enabled {
		t.Error("scratch engine cache enabled, want disabled for evaluation")
	}
	if !engine.Config().Cache.Enabled {
		t.Error("serving engine cache disabled by the scratch clone")
	}
}

func TestRunCycleProviderError(t *testing.T) {
	provider := &memProvider{err: errors.New("data source unavailable")}
	s, _ := newTestScheduler(t, provider, nil)

	if _, err := s.RunCycle(context.Background()); err == nil {
		t.Error("RunCycle() with failing provider returned nil error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"zero interval no cron", func(c *Config) { c.Interval = 0 }, true},
		{"cron replaces interval", func(c *Config) { c.Interval = 0; c.CronSchedule = "0 3 * * *" }, false},
		{"bad cron", func(c *Config) { c.CronSchedule = "not a schedule" }, true},
		{"holdout fraction too large", func(c *Config) { c.HoldoutFraction = 1.0 }, true},
		{"zero cycle timeout", func(c *Config) { c.CycleTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
