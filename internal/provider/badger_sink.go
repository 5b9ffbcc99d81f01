// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

// segmentKeyPrefix keys cluster assignments by trader.
const segmentKeyPrefix = "segment:"

// ErrAssignmentNotFound is returned when a trader has no stored
// segment.
var ErrAssignmentNotFound = errors.New("cluster assignment not found")

// BadgerSink stores cluster assignments in BadgerDB, keyed by trader.
// Each upsert replaces the trader's previous segment.
type BadgerSink struct {
	db     *badger.DB
	logger zerolog.Logger
}

// NewBadgerSink creates a sink on an open BadgerDB handle.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewBadgerSink(db *badger.DB, logger zerolog.Logger) *BadgerSink {
	return &BadgerSink{
		db:     db,
		logger: logger.With().Str("component", "segments").Logger(),
	}
}

// UpsertAssignments writes the batch in one transaction.
func (s *BadgerSink) UpsertAssignments(ctx context.Context, assignments []recommend.ClusterAssignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, a := range assignments {
			data, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("marshal assignment for trader %d: %w", a.UserID, err)
			}
			if err := txn.Set(segmentKey(a.UserID), data); err != nil {
				return fmt.Errorf("set assignment for trader %d: %w", a.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Int("assignments", len(assignments)).Msg("segments upserted")
	return nil
}

// Assignment returns one trader's current segment.
func (s *BadgerSink) Assignment(userID int64) (*recommend.ClusterAssignment, error) {
	var assignment recommend.ClusterAssignment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(segmentKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAssignmentNotFound
		}
		if err != nil {
			return fmt.Errorf("get assignment: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &assignment)
		})
	})
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Assignments returns all stored segments sorted by trader ID.
func (s *BadgerSink) Assignments() ([]recommend.ClusterAssignment, error) {
	var out []recommend.ClusterAssignment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(segmentKeyPrefix)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var assignment recommend.ClusterAssignment
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &assignment)
			}); err != nil {
				return err
			}
			out = append(out, assignment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func segmentKey(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%d", segmentKeyPrefix, userID))
}
