// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package recommend

import "time"

// Snapshot is an immutable view of the scoring inputs: the catalog,
// open groups, declared preferences and the interaction stream as of
// TakenAt. The scheduler installs a fresh snapshot each cycle; the
// engine reads it through an atomic pointer.
type Snapshot struct {
	// Items is the catalog keyed by item ID.
	Items map[int64]Item

	// Groups are the open bulk-purchase groups.
	Groups []Group

	// Preferences are declared trader preferences keyed by user ID.
	Preferences map[int64]Preferences

	// Interactions is the full interaction stream.
	Interactions []Interaction

	// TakenAt anchors all time-relative scoring (deadline windows,
	// recency tie-breaks) so a fixed snapshot scores identically.
	TakenAt time.Time
}

// NewSnapshot indexes the raw provider output into a snapshot.
func NewSnapshot(
	items []Item,
	groups []Group,
	preferences []Preferences,
	interactions []Interaction,
	takenAt time.Time,
) *Snapshot {
	itemMap := make(map[int64]Item, len(items))
	for _, item := range items {
		itemMap[item.ID] = item
	}
	prefMap := make(map[int64]Preferences, len(preferences))
	for _, p := range preferences {
		prefMap[p.UserID] = p
	}
	return &Snapshot{
		Items:        itemMap,
		Groups:       groups,
		Preferences:  prefMap,
		Interactions: interactions,
		TakenAt:      takenAt,
	}
}

// OpenGroups returns groups whose deadline has not passed as of TakenAt.
func (s *Snapshot) OpenGroups() []Group {
	out := make([]Group, 0, len(s.Groups))
	for _, g := range s.Groups {
		if g.Deadline.After(s.TakenAt) {
			out = append(out, g)
		}
	}
	return out
}
