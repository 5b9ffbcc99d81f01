// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("db.Close() error = %v", err)
		}
	})
	return New(db, zerolog.Nop())
}

type testBundle struct {
	Version string
	Weights []float64
}

func testArtifact(version string, trainedAt time.Time) ModelArtifact {
	return ModelArtifact{
		Version:          version,
		ModelType:        ModelTypeHybrid,
		TrainedAt:        trainedAt,
		InteractionCount: 100,
		Metrics:          map[string]float64{"precision_at_k": 0.4},
	}
}

func TestSaveAndLoadBundle(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	bundle := testBundle{Version: "v1", Weights: []float64{0.6, 0.3, 0.1}}
	if err := r.Save(testArtifact("v1", now), bundle); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	artifact, err := r.Get(ModelTypeHybrid, "v1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if artifact.Checksum == "" {
		t.Error("saved artifact has empty checksum")
	}
	if artifact.BundleBytes == 0 {
		t.Error("saved artifact has zero bundle size")
	}
	if artifact.Active {
		t.Error("freshly saved artifact is active, want inactive until promoted")
	}

	var got testBundle
	if err := r.LoadBundle(ModelTypeHybrid, "v1", &got); err != nil {
		t.Fatalf("LoadBundle() error = %v", err)
	}
	if got.Version != "v1" || len(got.Weights) != 3 {
		t.Errorf("LoadBundle() = %+v, want round-tripped bundle", got)
	}
}

func TestGetMissing(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Get(ModelTypeHybrid, "nope"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrArtifactNotFound", err)
	}
}

func TestPromoteDemotesPrevious(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := r.Save(testArtifact("v1", now), testBundle{Version: "v1"}); err != nil {
		t.Fatalf("Save(v1) error = %v", err)
	}
	if err := r.Save(testArtifact("v2", now.Add(time.Hour)), testBundle{Version: "v2"}); err != nil {
		t.Fatalf("Save(v2) error = %v", err)
	}

	if err := r.Promote(ModelTypeHybrid, "v1"); err != nil {
		t.Fatalf("Promote(v1) error = %v", err)
	}
	active, err := r.Active(ModelTypeHybrid)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active.Version != "v1" || !active.Active {
		t.Errorf("active = %+v, want v1 active", active)
	}
	if active.PromotedAt.IsZero() {
		t.Error("promoted artifact has zero PromotedAt")
	}

	if err := r.Promote(ModelTypeHybrid, "v2"); err != nil {
		t.Fatalf("Promote(v2) error = %v", err)
	}
	active, err = r.Active(ModelTypeHybrid)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active.Version != "v2" {
		t.Errorf("active version = %s, want v2", active.Version)
	}

	prev, err := r.Get(ModelTypeHybrid, "v1")
	if err != nil {
		t.Fatalf("Get(v1) error = %v", err)
	}
	if prev.Active {
		t.Error("v1 still active after v2 promotion")
	}
}

func TestPromoteMissing(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Promote(ModelTypeHybrid, "nope"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Promote(missing) error = %v, want ErrArtifactNotFound", err)
	}
}

func TestActiveWithoutPromotion(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Active(ModelTypeHybrid); !errors.Is(err, ErrNoActiveModel) {
		t.Errorf("Active() error = %v, want ErrNoActiveModel", err)
	}
}

func TestDeleteRefusesActive(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := r.Save(testArtifact("v1", now), testBundle{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := r.Promote(ModelTypeHybrid, "v1"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if err := r.Delete(ModelTypeHybrid, "v1"); err == nil {
		t.Error("Delete(active) returned nil error, want refusal")
	}
}

func TestListNewestFirst(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []string{"v1", "v2", "v3"} {
		artifact := testArtifact(v, now.Add(time.Duration(i)*time.Hour))
		if err := r.Save(artifact, testBundle{Version: v}); err != nil {
			t.Fatalf("Save(%s) error = %v", v, err)
		}
	}

	artifacts, err := r.List(ModelTypeHybrid)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("List() returned %d artifacts, want 3", len(artifacts))
	}
	if artifacts[0].Version != "v3" || artifacts[2].Version != "v1" {
		t.Errorf("List() order = [%s %s %s], want newest first",
			artifacts[0].Version, artifacts[1].Version, artifacts[2].Version)
	}
}

func TestPruneKeepsActive(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []string{"v1", "v2", "v3"} {
		if err := r.Save(testArtifact(v, now.Add(time.Duration(i)*time.Hour)), testBundle{Version: v}); err != nil {
			t.Fatalf("Save(%s) error = %v", v, err)
		}
	}
	if err := r.Promote(ModelTypeHybrid, "v2"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	pruned, err := r.Prune(ModelTypeHybrid)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 2 {
		t.Errorf("Prune() = %d, want 2", pruned)
	}

	artifacts, err := r.List(ModelTypeHybrid)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Version != "v2" {
		t.Errorf("after prune List() = %+v, want only v2", artifacts)
	}
}

func TestModelTypesIsolated(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	hybrid := testArtifact("v1", now)
	cluster := testArtifact("v1", now)
	cluster.ModelType = ModelTypeCluster

	if err := r.Save(hybrid, testBundle{}); err != nil {
		t.Fatalf("Save(hybrid) error = %v", err)
	}
	if err := r.Save(cluster, testBundle{}); err != nil {
		t.Fatalf("Save(cluster) error = %v", err)
	}
	if err := r.Promote(ModelTypeHybrid, "v1"); err != nil {
		t.Fatalf("Promote(hybrid) error = %v", err)
	}

	if _, err := r.Active(ModelTypeCluster); !errors.Is(err, ErrNoActiveModel) {
		t.Errorf("cluster Active() error = %v, want ErrNoActiveModel", err)
	}
}
