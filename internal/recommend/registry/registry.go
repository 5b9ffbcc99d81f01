// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package registry persists trained model artifacts in BadgerDB. Each
// artifact is metadata (JSON) plus a compressed gob bundle with a
// checksum; at most one version per model type is active at a time, and
// promotion demotes the previous active version in the same
// transaction.
package registry

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Key prefixes for BadgerDB storage.
const (
	artifactKeyPrefix = "artifact:"
	bundleKeyPrefix   = "bundle:"
	activeKeyPrefix   = "active:"
)

// Model types stored in the registry.
const (
	ModelTypeHybrid  = "hybrid"
	ModelTypeCluster = "cluster"
)

// Registry errors.
var (
	ErrArtifactNotFound = errors.New("model artifact not found")
	ErrNoActiveModel    = errors.New("no active model for type")
	ErrChecksumMismatch = errors.New("bundle checksum mismatch")
)

// ModelArtifact is the stored metadata for one trained model version.
type ModelArtifact struct {
	// Version is the artifact version (uuid).
	Version string `json:"version"`

	// ModelType is "hybrid" or "cluster".
	ModelType string `json:"model_type"`

	// TrainedAt is when training completed.
	TrainedAt time.Time `json:"trained_at"`

	// PromotedAt is when the artifact became active; zero if never
	// promoted.
	PromotedAt time.Time `json:"promoted_at,omitzero"`

	// Active marks the currently serving version.
	Active bool `json:"active"`

	// InteractionCount is the training set size.
	InteractionCount int `json:"interaction_count"`

	// Metrics are the evaluation results recorded at training time.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// Checksum is the hex SHA-256 of the compressed bundle.
	Checksum string `json:"checksum"`

	// BundleBytes is the compressed bundle size.
	BundleBytes int `json:"bundle_bytes"`
}

// Registry is a BadgerDB-backed model artifact store.
type Registry struct {
	db     *badger.DB
	logger zerolog.Logger
}

// New creates a registry on an open BadgerDB handle. The caller owns
// the handle's lifecycle.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func New(db *badger.DB, logger zerolog.Logger) *Registry {
	return &Registry{
		db:     db,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Save stores an artifact and its bundle. The bundle is gob-encoded,
// gzip-compressed and checksummed; the artifact is saved inactive and
// becomes active only through Promote.
func (r *Registry) Save(artifact ModelArtifact, bundle any) error {
	if artifact.Version == "" {
		return fmt.Errorf("artifact version must not be empty")
	}
	if artifact.ModelType == "" {
		return fmt.Errorf("artifact model type must not be empty")
	}

	blob, err := encodeBundle(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	sum := sha256.Sum256(blob)
	artifact.Checksum = hex.EncodeToString(sum[:])
	artifact.BundleBytes = len(blob)
	artifact.Active = false

	meta, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(artifactKey(artifact.ModelType, artifact.Version), meta); err != nil {
			return fmt.Errorf("set artifact: %w", err)
		}
		if err := txn.Set(bundleKey(artifact.ModelType, artifact.Version), blob); err != nil {
			return fmt.Errorf("set bundle: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info().
		Str("model_type", artifact.ModelType).
		Str("version", artifact.Version).
		Int("bundle_bytes", artifact.BundleBytes).
		Msg("artifact saved")
	return nil
}

// Get returns one artifact's metadata.
func (r *Registry) Get(modelType, version string) (*ModelArtifact, error) {
	var artifact ModelArtifact
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(modelType, version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrArtifactNotFound
		}
		if err != nil {
			return fmt.Errorf("get artifact: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &artifact)
		})
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// LoadBundle decodes an artifact's bundle into out (a pointer),
// verifying the stored checksum first.
func (r *Registry) LoadBundle(modelType, version string, out any) error {
	artifact, err := r.Get(modelType, version)
	if err != nil {
		return err
	}

	var blob []byte
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bundleKey(modelType, version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrArtifactNotFound
		}
		if err != nil {
			return fmt.Errorf("get bundle: %w", err)
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return err
	}

	sum := sha256.Sum256(blob)
	if hex.EncodeToString(sum[:]) != artifact.Checksum {
		return fmt.Errorf("%w: version %s", ErrChecksumMismatch, version)
	}
	return decodeBundle(blob, out)
}

// Active returns the active artifact for a model type.
func (r *Registry) Active(modelType string) (*ModelArtifact, error) {
	var version string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(modelType))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoActiveModel
		}
		if err != nil {
			return fmt.Errorf("get active pointer: %w", err)
		}
		return item.Value(func(val []byte) error {
			version = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return r.Get(modelType, version)
}

// Promote makes the version active, demoting the previous active
// version in the same transaction.
func (r *Registry) Promote(modelType, version string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		// Demote the current active version, if any.
		if item, err := txn.Get(activeKey(modelType)); err == nil {
			var prev string
			if err := item.Value(func(val []byte) error {
				prev = string(val)
				return nil
			}); err != nil {
				return err
			}
			if prev != "" && prev != version {
				if err := setArtifactActive(txn, modelType, prev, false, time.Time{}); err != nil {
					return fmt.Errorf("demote %s: %w", prev, err)
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get active pointer: %w", err)
		}

		now := time.Now().UTC()
		if err := setArtifactActive(txn, modelType, version, true, now); err != nil {
			return fmt.Errorf("promote %s: %w", version, err)
		}
		return txn.Set(activeKey(modelType), []byte(version))
	})
	if err != nil {
		return err
	}

	r.logger.Info().
		Str("model_type", modelType).
		Str("version", version).
		Msg("artifact promoted")
	return nil
}

// Delete removes an artifact and its bundle. Deleting the active
// version is refused.
func (r *Registry) Delete(modelType, version string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(activeKey(modelType)); err == nil {
			var active string
			if err := item.Value(func(val []byte) error {
				active = string(val)
				return nil
			}); err != nil {
				return err
			}
			if active == version {
				return fmt.Errorf("refusing to delete active version %s", version)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get active pointer: %w", err)
		}

		if err := txn.Delete(artifactKey(modelType, version)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete artifact: %w", err)
		}
		if err := txn.Delete(bundleKey(modelType, version)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete bundle: %w", err)
		}
		return nil
	})
}

// List returns all artifacts of a model type, newest first.
func (r *Registry) List(modelType string) ([]ModelArtifact, error) {
	var artifacts []ModelArtifact
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(artifactKeyPrefix + modelType + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var artifact ModelArtifact
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &artifact)
			}); err != nil {
				return err
			}
			artifacts = append(artifacts, artifact)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].TrainedAt.Equal(artifacts[j].TrainedAt) {
			return artifacts[i].TrainedAt.After(artifacts[j].TrainedAt)
		}
		return artifacts[i].Version > artifacts[j].Version
	})
	return artifacts, nil
}

// Prune deletes every non-active artifact of a model type, keeping
// exactly the active version. It returns the number pruned.
func (r *Registry) Prune(modelType string) (int, error) {
	artifacts, err := r.List(modelType)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, artifact := range artifacts {
		if artifact.Active {
			continue
		}
		if err := r.Delete(modelType, artifact.Version); err != nil {
			return pruned, fmt.Errorf("prune %s: %w", artifact.Version, err)
		}
		pruned++
	}
	if pruned > 0 {
		r.logger.Info().
			Str("model_type", modelType).
			Int("pruned", pruned).
			Msg("stale artifacts pruned")
	}
	return pruned, nil
}

func setArtifactActive(txn *badger.Txn, modelType, version string, active bool, promotedAt time.Time) error {
	item, err := txn.Get(artifactKey(modelType, version))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrArtifactNotFound
	}
	if err != nil {
		return err
	}

	var artifact ModelArtifact
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &artifact)
	}); err != nil {
		return err
	}

	artifact.Active = active
	if active {
		artifact.PromotedAt = promotedAt
	}

	meta, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	return txn.Set(artifactKey(modelType, version), meta)
}

func artifactKey(modelType, version string) []byte {
	return []byte(artifactKeyPrefix + modelType + ":" + version)
}

func bundleKey(modelType, version string) []byte {
	return []byte(bundleKeyPrefix + modelType + ":" + version)
}

func activeKey(modelType string) []byte {
	return []byte(activeKeyPrefix + strings.TrimSpace(modelType))
}

// encodeBundle gob-encodes and gzip-compresses a bundle.
func encodeBundle(bundle any) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(zw).Encode(bundle); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeBundle reverses encodeBundle into out.
func decodeBundle(blob []byte, out any) error {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()

	if err := gob.NewDecoder(zr).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}
