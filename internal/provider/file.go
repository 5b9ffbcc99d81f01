// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

// Package provider supplies batch training data to the scheduler. The
// file provider reads newline-delimited JSON exports dropped by the
// marketplace's data pipeline; the badger sink persists cluster
// assignments for the marketplace to read back.
package provider

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sokonilabs/sokoni/internal/recommend"
)

// Config names the export files.
type Config struct {
	// InteractionsPath is the interactions JSONL export.
	InteractionsPath string

	// ItemsPath is the catalog JSONL export.
	ItemsPath string

	// GroupsPath is the open-groups JSONL export.
	GroupsPath string

	// PreferencesPath is the trader-preferences JSONL export.
	PreferencesPath string
}

// Validate checks that the required paths are set. Groups and
// preferences are optional exports.
func (c Config) Validate() error {
	if c.InteractionsPath == "" {
		return fmt.Errorf("interactions path must be set")
	}
	if c.ItemsPath == "" {
		return fmt.Errorf("items path must be set")
	}
	return nil
}

// interactionRecord is the wire form of one interaction, with the type
// as a name rather than an enum value.
type interactionRecord struct {
	UserID    int64     `json:"user_id"`
	ItemID    int64     `json:"item_id"`
	Type      string    `json:"type"`
	Quantity  int       `json:"quantity,omitempty"`
	UnitPrice float64   `json:"unit_price,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FileProvider reads batch data from JSONL exports. Each call re-reads
// the file, so a refreshed export is picked up on the next cycle.
type FileProvider struct {
	cfg    Config
	logger zerolog.Logger
}

// NewFileProvider creates a provider over JSONL export files.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewFileProvider(cfg Config, logger zerolog.Logger) (*FileProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	return &FileProvider{
		cfg:    cfg,
		logger: logger.With().Str("component", "provider").Logger(),
	}, nil
}

// Interactions reads the interaction stream. Malformed lines are
// skipped with a warning; a bad record must not abort a training cycle.
func (p *FileProvider) Interactions(ctx context.Context) ([]recommend.Interaction, error) {
	var out []recommend.Interaction
	err := p.readLines(ctx, p.cfg.InteractionsPath, func(line []byte) error {
		var rec interactionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, recommend.Interaction{
			UserID:    rec.UserID,
			ItemID:    rec.ItemID,
			Type:      recommend.ParseInteractionType(rec.Type),
			Quantity:  rec.Quantity,
			UnitPrice: rec.UnitPrice,
			Timestamp: rec.Timestamp,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Items reads the catalog export.
func (p *FileProvider) Items(ctx context.Context) ([]recommend.Item, error) {
	var out []recommend.Item
	err := p.readLines(ctx, p.cfg.ItemsPath, func(line []byte) error {
		var item recommend.Item
		if err := json.Unmarshal(line, &item); err != nil {
			return err
		}
		out = append(out, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Groups reads the open-groups export. A missing file means no open
// groups, not an error.
func (p *FileProvider) Groups(ctx context.Context) ([]recommend.Group, error) {
	if p.cfg.GroupsPath == "" {
		return nil, nil
	}
	var out []recommend.Group
	err := p.readLines(ctx, p.cfg.GroupsPath, func(line []byte) error {
		var g recommend.Group
		if err := json.Unmarshal(line, &g); err != nil {
			return err
		}
		out = append(out, g)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Preferences reads the trader-preferences export. A missing file means
// no declared preferences.
func (p *FileProvider) Preferences(ctx context.Context) ([]recommend.Preferences, error) {
	if p.cfg.PreferencesPath == "" {
		return nil, nil
	}
	var out []recommend.Preferences
	err := p.readLines(ctx, p.cfg.PreferencesPath, func(line []byte) error {
		var prefs recommend.Preferences
		if err := json.Unmarshal(line, &prefs); err != nil {
			return err
		}
		out = append(out, prefs)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readLines streams a JSONL file, handing each non-empty line to parse.
// Parse failures are logged and skipped.
func (p *FileProvider) readLines(ctx context.Context, path string, parse func(line []byte) error) error {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	skipped := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := parse(line); err != nil {
			skipped++
			p.logger.Warn().Err(err).Str("file", path).Int("line", lineNo).Msg("skipping malformed record")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if skipped > 0 {
		p.logger.Warn().Str("file", path).Int("skipped", skipped).Msg("malformed records skipped")
	}
	return nil
}
