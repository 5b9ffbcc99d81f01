// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

func newTestSink(t *testing.T) *BadgerSink {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerSink(db, zerolog.Nop())
}

func TestSinkUpsertAndGet(t *testing.T) {
	sink := newTestSink(t)

	batch := []recommend.ClusterAssignment{
		{UserID: 1, ClusterID: 0, Confidence: 0.9, ModelVersion: "v1"},
		{UserID: 2, ClusterID: 1, Confidence: 0.7, ModelVersion: "v1"},
	}
	if err := sink.UpsertAssignments(context.Background(), batch); err != nil {
		t.Fatalf("UpsertAssignments() error = %v", err)
	}

	got, err := sink.Assignment(1)
	if err != nil {
		t.Fatalf("Assignment(1) error = %v", err)
	}
	if got.ClusterID != 0 || got.Confidence != 0.9 {
		t.Errorf("Assignment(1) = %+v, want cluster 0 confidence 0.9", got)
	}
}

func TestSinkUpsertReplaces(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	if err := sink.UpsertAssignments(ctx, []recommend.ClusterAssignment{
		{UserID: 1, ClusterID: 0, Confidence: 0.9, ModelVersion: "v1"},
	}); err != nil {
		t.Fatalf("first upsert error = %v", err)
	}
	if err := sink.UpsertAssignments(ctx, []recommend.ClusterAssignment{
		{UserID: 1, ClusterID: 2, Confidence: 0.6, ModelVersion: "v2"},
	}); err != nil {
		t.Fatalf("second upsert error = %v", err)
	}

	got, err := sink.Assignment(1)
	if err != nil {
		t.Fatalf("Assignment(1) error = %v", err)
	}
	if got.ClusterID != 2 || got.ModelVersion != "v2" {
		t.Errorf("Assignment(1) = %+v, want replaced by v2", got)
	}
}

func TestSinkAssignmentMissing(t *testing.T) {
	sink := newTestSink(t)
	if _, err := sink.Assignment(42); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("Assignment(missing) error = %v, want ErrAssignmentNotFound", err)
	}
}

func TestSinkAssignmentsSorted(t *testing.T) {
	sink := newTestSink(t)

	if err := sink.UpsertAssignments(context.Background(), []recommend.ClusterAssignment{
		{UserID: 30, ClusterID: 1, ModelVersion: "v1"},
		{UserID: 2, ClusterID: 0, ModelVersion: "v1"},
		{UserID: 100, ClusterID: 1, ModelVersion: "v1"},
	}); err != nil {
		t.Fatalf("UpsertAssignments() error = %v", err)
	}

	got, err := sink.Assignments()
	if err != nil {
		t.Fatalf("Assignments() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d assignments, want 3", len(got))
	}
	if got[0].UserID != 2 || got[1].UserID != 30 || got[2].UserID != 100 {
		t.Errorf("order = [%d %d %d], want [2 30 100]", got[0].UserID, got[1].UserID, got[2].UserID)
	}
}

func TestSinkCancelledContext(t *testing.T) {
	sink := newTestSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.UpsertAssignments(ctx, nil); err == nil {
		t.Error("UpsertAssignments() with cancelled context returned nil error")
	}
}
