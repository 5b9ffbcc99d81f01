// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package recommend

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sokonilabs/sokoni/internal/metrics"
)

// Warm-path reason strings, chosen by the strongest blend signal.
const (
	ReasonSignalCF      = "traders with similar buying patterns purchased this"
	ReasonSignalContent = "similar to items in your purchase history"
	ReasonSignalPopular = "popular with traders recently"
	ReasonNewItemBlend  = "recently listed; scored by content and popularity"
)

// Group bonus reason strings.
const (
	ReasonGroupClosing  = "group closing soon"
	ReasonGroupMomentum = "group gaining momentum"
)

// ReasonRecentCategoryPrefix starts the recent-category bonus reason;
// the purchased category follows it.
const ReasonRecentCategoryPrefix = "you purchased "

// Engine is the hybrid recommender. Scoring is lock-free: the active
// model and the data snapshot are read through atomic pointers, and the
// scheduler is the only writer. A request never blocks on training.
type Engine struct {
	config    *Config
	logger    zerolog.Logger
	cold      *ColdStartHandler
	explainer Explainer

	model atomic.Pointer[HybridModel]
	data  atomic.Pointer[Snapshot]

	cache   map[string]cacheEntry
	cacheMu sync.RWMutex
}

// cacheEntry holds a cached recommendation response.
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// NewEngine creates an engine with the given configuration.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewEngine(cfg *Config, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Engine{
		config: cfg,
		logger: logger.With().Str("component", "engine").Logger(),
		cold:   NewColdStartHandler(logger),
		cache:  make(map[string]cacheEntry),
	}, nil
}

// SetExplainer installs the explanation composer for served candidates.
// Set it before the engine starts serving; nil leaves candidates with
// reason strings only.
func (e *Engine) SetExplainer(x Explainer) {
	e.explainer = x
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() *Config {
	cfg := *e.config
	return &cfg
}

// SetModel installs a new active model. Readers in flight keep the old
// model; new requests see the new one. The response cache is cleared.
func (e *Engine) SetModel(m *HybridModel) {
	e.model.Store(m)
	e.clearCache()
	if m != nil {
		e.logger.Info().
			Str("version", m.Version).
			Time("trained_at", m.TrainedAt).
			Int("interactions", m.InteractionCount).
			Msg("active model swapped")
	}
}

// ActiveModel returns the current active model, or nil before the first
// promotion.
func (e *Engine) ActiveModel() *HybridModel {
	return e.model.Load()
}

// SetSnapshot installs a new data snapshot and clears the cache.
func (e *Engine) SetSnapshot(s *Snapshot) {
	e.data.Store(s)
	e.clearCache()
}

// Snapshot returns the current data snapshot, or nil before the first
// load.
func (e *Engine) Snapshot() *Snapshot {
	return e.data.Load()
}

// Score returns the ranked candidates for a request.
func (e *Engine) Score(ctx context.Context, req Request) ([]Candidate, error) {
	resp, err := e.Recommend(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

// Recommend produces a ranked recommendation list. It always returns a
// list for valid input: with no promoted model it degrades to
// popularity and cold-start heuristics instead of failing.
func (e *Engine) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.K <= 0 {
		req.K = e.config.DefaultK
	}
	if req.K > e.config.MaxK {
		req.K = e.config.MaxK
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	data := e.data.Load()
	model := e.model.Load()

	if data == nil {
		e.logger.Warn().Str("request_id", req.RequestID).Msg("no data snapshot loaded")
		return e.emptyResponse(req, model, start), nil
	}

	key := e.cacheKey(req, model)
	if e.config.Cache.Enabled {
		if resp := e.checkCache(key); resp != nil {
			metrics.CacheHits.Inc()
			return resp, nil
		}
		metrics.CacheMisses.Inc()
	}

	cands, groupOf := e.buildCandidates(req, data)
	if len(cands) == 0 {
		return e.emptyResponse(req, model, start), nil
	}

	var path string
	coldStart := false
	switch {
	case model == nil:
		path = "fallback"
		coldStart = true
		e.scoreWithoutModel(req, data, cands)
	case !model.Knows(req.UserID):
		path = "cold_start"
		coldStart = true
		e.scoreColdUser(req, data, cands)
	default:
		path = "warm"
		e.scoreWarm(ctx, req, model, data, cands)
	}

	e.applyGroupBonuses(req.UserID, model, data, cands, groupOf)
	sortCandidates(cands, data)
	if len(cands) > req.K {
		cands = cands[:req.K]
	}
	e.annotate(cands, data, groupOf)

	resp := &Response{
		Candidates: cands,
		Metadata:   e.buildMetadata(req, model, coldStart, start),
	}
	if e.config.Cache.Enabled {
		e.storeCache(key, resp)
	}
	metrics.RecordScoring(path, time.Since(start), nil)

	e.logger.Debug().
		Str("request_id", req.RequestID).
		Int64("user_id", req.UserID).
		Str("path", path).
		Int("candidates", len(cands)).
		Dur("latency", time.Since(start)).
		Msg("recommendation served")
	return resp, nil
}

// buildCandidates enumerates the scoring universe: one join_existing
// candidate per open group with an active item, one form_new candidate
// per active item without an open group. Excluded items are dropped.
func (e *Engine) buildCandidates(req Request, data *Snapshot) ([]Candidate, map[int64]Group) {
	groupOf := make(map[int64]Group)
	grouped := make(map[int64]struct{})

	open := data.OpenGroups()
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })

	var cands []Candidate
	for _, g := range open {
		item, ok := data.Items[g.ItemID]
		if !ok || !item.Active {
			continue
		}
		if _, excluded := req.Exclude[g.ItemID]; excluded {
			continue
		}
		if _, dup := grouped[g.ItemID]; dup {
			continue
		}
		grouped[g.ItemID] = struct{}{}
		groupOf[g.ID] = g
		cands = append(cands, Candidate{
			UserID:  req.UserID,
			ItemID:  g.ItemID,
			GroupID: g.ID,
			Type:    CandidateJoinExisting,
		})
	}

	itemIDs := make([]int64, 0, len(data.Items))
	for id := range data.Items {
		itemIDs = append(itemIDs, id)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	for _, id := range itemIDs {
		item := data.Items[id]
		if !item.Active {
			continue
		}
		if _, ok := grouped[id]; ok {
			continue
		}
		if _, excluded := req.Exclude[id]; excluded {
			continue
		}
		cands = append(cands, Candidate{
			UserID: req.UserID,
			ItemID: id,
			Type:   CandidateFormNew,
		})
	}
	return cands, groupOf
}

// scoreWarm blends the three trained signals. Items the latent model
// does not cover fall back to content+popularity renormalized; items no
// signal covers get the new-item heuristic.
func (e *Engine) scoreWarm(ctx context.Context, req Request, model *HybridModel, data *Snapshot, cands []Candidate) {
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.ItemID
	}

	cfScores := e.predict(ctx, model.CF, req.UserID, ids)
	cbScores := e.predict(ctx, model.Content, req.UserID, ids)
	popScores := e.predict(ctx, model.Popularity, req.UserID, ids)

	w := e.config.Weights.normalized()
	prefs := prefsFor(req.UserID, data)
	avgSpend := averageSpend(data.Interactions, req.UserID)

	for i := range cands {
		id := cands[i].ItemID
		cf, hasCF := cfScores[id]
		cb, hasCB := cbScores[id]
		pop, hasPop := popScores[id]

		switch {
		case hasCF:
			cands[i].Score = w.CF*cf + w.Content*cb + w.Popularity*pop
			cands[i].Reasons = append(cands[i].Reasons, strongestSignal(w.CF*cf, w.Content*cb, w.Popularity*pop))
		case hasCB || hasPop:
			denom := w.Content + w.Popularity
			if denom == 0 {
				cands[i].Score = (cb + pop) / 2
			} else {
				cands[i].Score = (w.Content*cb + w.Popularity*pop) / denom
			}
			cands[i].Reasons = append(cands[i].Reasons, ReasonNewItemBlend)
		default:
			item := data.Items[id]
			cands[i].Score = e.cold.ScoreNewItem(prefs, avgSpend, item)
			cands[i].Reasons = append(cands[i].Reasons, ReasonColdNewItem)
		}
		cands[i].Score = clip01(cands[i].Score)
	}
}

// scoreColdUser serves a trader unknown to the model through declared
// preferences, falling back to popularity.
func (e *Engine) scoreColdUser(req Request, data *Snapshot, cands []Candidate) {
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.ItemID
	}

	if prefs, ok := data.Preferences[req.UserID]; ok {
		scores := e.cold.ScoreNewUser(prefs, data.Preferences, data.Interactions, ids)
		if len(scores) > 0 {
			for i := range cands {
				cands[i].Score = clip01(scores[cands[i].ItemID])
				cands[i].Reasons = append(cands[i].Reasons, ReasonColdPreferences)
			}
			return
		}
	}

	scores := e.cold.PopularityFallback(data.Interactions, ids, e.config.PopularityWindow, data.TakenAt)
	for i := range cands {
		cands[i].Score = clip01(scores[cands[i].ItemID])
		cands[i].Reasons = append(cands[i].Reasons, ReasonColdPopularity)
	}
}

// scoreWithoutModel serves requests before any model was promoted.
func (e *Engine) scoreWithoutModel(req Request, data *Snapshot, cands []Candidate) {
	if _, ok := data.Preferences[req.UserID]; ok {
		e.scoreColdUser(req, data, cands)
		return
	}
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.ItemID
	}
	scores := e.cold.PopularityFallback(data.Interactions, ids, e.config.PopularityWindow, data.TakenAt)
	for i := range cands {
		cands[i].Score = clip01(scores[cands[i].ItemID])
		cands[i].Reasons = append(cands[i].Reasons, ReasonColdPopularity)
	}
}

// predict runs one signal, degrading prediction failures to an empty
// score map so a single signal never fails a request.
func (e *Engine) predict(ctx context.Context, alg Algorithm, userID int64, ids []int64) map[int64]float64 {
	scores, err := alg.Predict(ctx, userID, ids)
	if err != nil {
		e.logger.Warn().Err(err).Str("algorithm", alg.Name()).Msg("signal prediction failed")
		return map[int64]float64{}
	}
	return scores
}

// applyGroupBonuses adds the deadline, fill-rate and recent-category
// bonuses to join_existing candidates, clipping into [0, 1].
func (e *Engine) applyGroupBonuses(userID int64, model *HybridModel, data *Snapshot, cands []Candidate, groupOf map[int64]Group) {
	now := data.TakenAt
	for i := range cands {
		if cands[i].Type != CandidateJoinExisting {
			continue
		}
		g, ok := groupOf[cands[i].GroupID]
		if !ok {
			continue
		}

		if g.Deadline.After(now) && g.Deadline.Sub(now) <= e.config.DeadlineWindow {
			cands[i].Score += DeadlineBonus
			cands[i].Reasons = append(cands[i].Reasons, ReasonGroupClosing)
		}
		if fr := g.FillRate(); fr >= FillRateLow && fr <= FillRateHigh {
			cands[i].Score += FillRateBonus
			cands[i].Reasons = append(cands[i].Reasons, ReasonGroupMomentum)
		}
		if model != nil {
			item := data.Items[cands[i].ItemID]
			if model.PurchasedCategoryWithin(userID, item.Category, e.config.RecentCategoryWindow, now) {
				cands[i].Score += RecentCategoryBonus
				cands[i].Reasons = append(cands[i].Reasons,
					ReasonRecentCategoryPrefix+item.Category+" recently")
			}
		}
		cands[i].Score = clip01(cands[i].Score)
	}
}

// annotate composes the trader-facing explanation on the final list.
func (e *Engine) annotate(cands []Candidate, data *Snapshot, groupOf map[int64]Group) {
	if e.explainer == nil {
		return
	}
	for i := range cands {
		item := data.Items[cands[i].ItemID]
		var group *Group
		if g, ok := groupOf[cands[i].GroupID]; ok && cands[i].Type == CandidateJoinExisting {
			group = &g
		}
		cands[i].Explanation = e.explainer.Explain(cands[i], item, group)
	}
}

// sortCandidates orders by score descending, then item recency (newer
// first), then item ID ascending. The ordering is total, so equal
// inputs always produce the same list.
func sortCandidates(cands []Candidate, data *Snapshot) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		li := data.Items[cands[i].ItemID].ListedAt
		lj := data.Items[cands[j].ItemID].ListedAt
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return cands[i].ItemID < cands[j].ItemID
	})
}

// strongestSignal picks the reason for the dominant weighted signal.
func strongestSignal(cf, cb, pop float64) string {
	switch {
	case cf >= cb && cf >= pop:
		return ReasonSignalCF
	case cb >= pop:
		return ReasonSignalContent
	default:
		return ReasonSignalPopular
	}
}

func prefsFor(userID int64, data *Snapshot) *Preferences {
	if p, ok := data.Preferences[userID]; ok {
		return &p
	}
	return nil
}

// averageSpend is the trader's mean purchase value; 0 without usable
// purchases.
func averageSpend(interactions []Interaction, userID int64) float64 {
	var total float64
	count := 0
	for _, inter := range interactions {
		if inter.UserID != userID || inter.Type != InteractionPurchase {
			continue
		}
		if inter.Quantity <= 0 || inter.UnitPrice <= 0 {
			continue
		}
		total += float64(inter.Quantity) * inter.UnitPrice
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Engine) buildMetadata(req Request, model *HybridModel, coldStart bool, start time.Time) ResponseMetadata {
	md := ResponseMetadata{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		ColdStart: coldStart,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if model != nil {
		md.ModelVersion = model.Version
		md.TrainedAt = model.TrainedAt
	}
	return md
}

func (e *Engine) emptyResponse(req Request, model *HybridModel, start time.Time) *Response {
	return &Response{
		Candidates: []Candidate{},
		Metadata:   e.buildMetadata(req, model, model == nil, start),
	}
}

// cacheKey identifies a response by trader, list length, model version
// and the excluded item set; a model swap invalidates all entries
// anyway.
func (e *Engine) cacheKey(req Request, model *HybridModel) string {
	version := "none"
	if model != nil {
		version = model.Version
	}
	if len(req.Exclude) == 0 {
		return fmt.Sprintf("rec:%d:%d:%s", req.UserID, req.K, version)
	}
	return fmt.Sprintf("rec:%d:%d:%s:x%x", req.UserID, req.K, version, excludeDigest(req.Exclude))
}

// excludeDigest hashes the exclusion set order-independently.
func excludeDigest(exclude map[int64]struct{}) uint64 {
	ids := make([]int64, 0, len(exclude))
	for id := range exclude {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf, uint64(id)) //nolint:gosec // cache key hashing, not a conversion hazard
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

func (e *Engine) checkCache(key string) *Response {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()

	entry, ok := e.cache[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		return nil
	}

	cp := *entry.response
	cp.Metadata.CacheHit = true
	return &cp
}

func (e *Engine) storeCache(key string, resp *Response) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if len(e.cache) >= e.config.Cache.MaxEntries {
		// Drop the soonest-expiring entry to stay bounded.
		var victim string
		var soonest time.Time
		for k, entry := range e.cache {
			if victim == "" || entry.expiresAt.Before(soonest) {
				victim = k
				soonest = entry.expiresAt
			}
		}
		delete(e.cache, victim)
	}

	e.cache[key] = cacheEntry{
		response:  resp,
		expiresAt: time.Now().Add(e.config.Cache.TTL),
	}
}

func (e *Engine) clearCache() {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache = make(map[string]cacheEntry)
}
