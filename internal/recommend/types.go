// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package recommend

import (
	"context"
	"time"
)

// InteractionType classifies trader-item interactions for implicit feedback.
type InteractionType int

const (
	// InteractionView indicates the trader viewed an item listing.
	InteractionView InteractionType = iota
	// InteractionClick indicates the trader opened an item or group detail.
	InteractionClick
	// InteractionPurchase indicates the trader joined a bulk purchase.
	InteractionPurchase
)

// String returns a human-readable name for the interaction type.
func (t InteractionType) String() string {
	switch t {
	case InteractionView:
		return "view"
	case InteractionClick:
		return "click"
	case InteractionPurchase:
		return "purchase"
	default:
		return "unknown"
	}
}

// Confidence returns the implicit-feedback weight for this interaction
// type. Higher values indicate stronger positive signal.
func (t InteractionType) Confidence() float64 {
	switch t {
	case InteractionPurchase:
		return 1.0
	case InteractionClick:
		return 0.4
	case InteractionView:
		return 0.2
	default:
		return 0.0
	}
}

// ParseInteractionType converts a wire name into an InteractionType.
// Unknown names map to InteractionView, the weakest signal.
func ParseInteractionType(s string) InteractionType {
	switch s {
	case "purchase":
		return InteractionPurchase
	case "click":
		return InteractionClick
	default:
		return InteractionView
	}
}

// Interaction is a single trader-item interaction event. The interaction
// stream is append-only and owned by the data collaborator.
type Interaction struct {
	// UserID is the trader identifier.
	UserID int64 `json:"user_id"`

	// ItemID is the catalog item identifier.
	ItemID int64 `json:"item_id"`

	// Type classifies the interaction.
	Type InteractionType `json:"type"`

	// Quantity is the number of units involved (purchases only).
	Quantity int `json:"quantity,omitempty"`

	// UnitPrice is the per-unit price at interaction time.
	UnitPrice float64 `json:"unit_price,omitempty"`

	// Timestamp is when the interaction occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Item is a catalog item available for bulk purchase.
type Item struct {
	// ID is the unique item identifier.
	ID int64 `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Category is the product category.
	Category string `json:"category"`

	// Description is free-text item copy, input to the TF-IDF vectorizer.
	Description string `json:"description"`

	// Price is the current unit price.
	Price float64 `json:"price"`

	// Active marks whether the item is currently listed.
	Active bool `json:"active"`

	// ListedAt is when the item was listed. Newer items win score ties.
	ListedAt time.Time `json:"listed_at"`
}

// Group is an open bulk-purchase group for one item.
type Group struct {
	// ID is the unique group identifier.
	ID int64 `json:"id"`

	// ItemID is the item being purchased.
	ItemID int64 `json:"item_id"`

	// TargetQuantity is the quantity at which the group completes.
	TargetQuantity int `json:"target_quantity"`

	// CurrentQuantity is the quantity committed so far.
	CurrentQuantity int `json:"current_quantity"`

	// Deadline is when the group closes.
	Deadline time.Time `json:"deadline"`

	// MemberCount is the number of traders in the group.
	MemberCount int `json:"member_count"`

	// UnitPrice is the discounted per-unit price for the group.
	UnitPrice float64 `json:"unit_price"`

	// DiscountPercent is the discount relative to the listed price.
	DiscountPercent float64 `json:"discount_percent"`
}

// FillRate returns the committed share of the target quantity.
func (g Group) FillRate() float64 {
	if g.TargetQuantity <= 0 {
		return 0
	}
	return float64(g.CurrentQuantity) / float64(g.TargetQuantity)
}

// Preferences holds a trader's declared preferences, used only for
// cold-start scoring.
type Preferences struct {
	// UserID is the trader identifier.
	UserID int64 `json:"user_id"`

	// Categories are the declared product categories of interest.
	Categories []string `json:"categories"`

	// BudgetBucket is the declared spending bracket (e.g. "low", "mid").
	BudgetBucket string `json:"budget_bucket"`

	// ExperienceLevel is the declared trading experience bracket.
	ExperienceLevel string `json:"experience_level"`

	// GroupSizePreference is the preferred group size bracket.
	GroupSizePreference string `json:"group_size_preference"`

	// LocationCode is the trader's market location.
	LocationCode string `json:"location_code"`
}

// UserFeatures is the behavioral feature vector for one trader,
// recomputed each training cycle.
type UserFeatures struct {
	// UserID is the trader identifier.
	UserID int64 `json:"user_id"`

	// PurchaseFrequency is interactions per week over the active span.
	PurchaseFrequency float64 `json:"purchase_frequency"`

	// AvgTransactionValue is the mean purchase value.
	AvgTransactionValue float64 `json:"avg_transaction_value"`

	// PriceSensitivity is the share of interactions that were bulk
	// purchases; 0.5 is the neutral prior.
	PriceSensitivity float64 `json:"price_sensitivity"`

	// ProductDiversity is the number of distinct categories interacted with.
	ProductDiversity float64 `json:"product_diversity"`

	// LastActivityAge is days since the most recent interaction.
	LastActivityAge float64 `json:"last_activity_age"`

	// LocationCode is the trader's market location.
	LocationCode string `json:"location_code,omitempty"`
}

// Vector returns the numeric features in fixed order for clustering.
func (f UserFeatures) Vector() []float64 {
	return []float64{
		f.PurchaseFrequency,
		f.AvgTransactionValue,
		f.PriceSensitivity,
		f.ProductDiversity,
		f.LastActivityAge,
	}
}

// FeatureNames returns the names of the numeric features, index-aligned
// with UserFeatures.Vector.
func FeatureNames() []string {
	return []string{
		"purchase_frequency",
		"avg_transaction_value",
		"price_sensitivity",
		"product_diversity",
		"last_activity_age",
	}
}

// ItemProfile is the content representation of one item, rebuilt over the
// full catalog each training cycle.
type ItemProfile struct {
	// ItemID is the catalog item identifier.
	ItemID int64 `json:"item_id"`

	// Category is the product category.
	Category string `json:"category"`

	// Price is the unit price at profile time.
	Price float64 `json:"price"`

	// PopularityRank is the dense rank by interaction count (1 = most).
	PopularityRank int `json:"popularity_rank"`

	// Vector is the sparse L2-normalized TF-IDF vector, keyed by
	// vocabulary index.
	Vector map[int]float64 `json:"vector"`
}

// ClusterAssignment maps a trader to a behavioral segment.
type ClusterAssignment struct {
	// UserID is the trader identifier.
	UserID int64 `json:"user_id"`

	// ClusterID is the integer segment label.
	ClusterID int `json:"cluster_id"`

	// Label is the human-readable segment name, from configuration.
	Label string `json:"label,omitempty"`

	// Confidence is 1 - distance/maxDistanceInBatch, in [0, 1].
	Confidence float64 `json:"confidence"`

	// Description summarizes the features that drive the segment.
	Description string `json:"description,omitempty"`

	// ModelVersion is the clustering model that produced the assignment.
	ModelVersion string `json:"model_version"`
}

// CandidateType distinguishes the two recommendation shapes.
type CandidateType int

const (
	// CandidateJoinExisting recommends joining an open group.
	CandidateJoinExisting CandidateType = iota
	// CandidateFormNew recommends starting a group for an item.
	CandidateFormNew
)

// String returns a human-readable candidate type name.
func (t CandidateType) String() string {
	switch t {
	case CandidateJoinExisting:
		return "join_existing"
	case CandidateFormNew:
		return "form_new"
	default:
		return "unknown"
	}
}

// Candidate is one scored recommendation. Candidates are ephemeral and
// recomputed per request.
type Candidate struct {
	// UserID is the trader the recommendation is for.
	UserID int64 `json:"user_id"`

	// ItemID is the recommended item.
	ItemID int64 `json:"item_id"`

	// GroupID is the open group to join; zero for form_new candidates.
	GroupID int64 `json:"group_id,omitempty"`

	// Score is the final blended score in [0, 1].
	Score float64 `json:"score"`

	// Type is join_existing or form_new.
	Type CandidateType `json:"type"`

	// Reasons lists the signals that produced the score.
	Reasons []string `json:"reasons,omitempty"`

	// Explanation is the trader-facing sentence composed from the
	// reasons; empty when no explainer is installed.
	Explanation string `json:"explanation,omitempty"`
}

// Request is a recommendation request for one trader.
type Request struct {
	// UserID is the trader to recommend for.
	UserID int64 `json:"user_id"`

	// K is the number of recommendations to return.
	// Defaults to Config.DefaultK when zero.
	K int `json:"k,omitempty"`

	// Exclude is a set of item IDs to omit, typically items the trader
	// already committed to.
	Exclude map[int64]struct{} `json:"-"`

	// RequestID is a unique identifier for tracing. Assigned when empty.
	RequestID string `json:"request_id,omitempty"`
}

// Response is an ordered recommendation list with diagnostics.
type Response struct {
	// Candidates is the ranked recommendation list.
	Candidates []Candidate `json:"candidates"`

	// Metadata carries timing and model diagnostics.
	Metadata ResponseMetadata `json:"metadata"`
}

// ResponseMetadata carries timing and model diagnostics.
type ResponseMetadata struct {
	// RequestID is the unique request identifier.
	RequestID string `json:"request_id"`

	// UserID is the trader the response is for.
	UserID int64 `json:"user_id"`

	// ColdStart indicates the cold-start path served this request.
	ColdStart bool `json:"cold_start"`

	// CacheHit indicates the response was served from cache.
	CacheHit bool `json:"cache_hit"`

	// ModelVersion is the active model version, empty when no model has
	// been promoted yet.
	ModelVersion string `json:"model_version,omitempty"`

	// TrainedAt is when the active model was trained.
	TrainedAt time.Time `json:"trained_at,omitzero"`

	// LatencyMS is the scoring latency in milliseconds.
	LatencyMS int64 `json:"latency_ms"`

	// Timestamp is when the response was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Algorithm is one scoring signal of the hybrid blend.
type Algorithm interface {
	// Name returns the algorithm identifier (e.g. "nmf", "content").
	Name() string

	// Train fits the model on interaction data.
	Train(ctx context.Context, interactions []Interaction, items []Item) error

	// Predict returns scores in [0, 1] for candidate items for a user.
	// Items the algorithm cannot score are absent from the map.
	Predict(ctx context.Context, userID int64, candidates []int64) (map[int64]float64, error)

	// PredictSimilar returns items similar to the given item.
	PredictSimilar(ctx context.Context, itemID int64, candidates []int64) (map[int64]float64, error)

	// IsTrained returns whether the model has been trained.
	IsTrained() bool

	// State serializes the trained model for artifact bundling.
	State() ([]byte, error)

	// Restore loads a model previously serialized with State.
	Restore(state []byte) error
}

// Explainer composes the trader-facing explanation for one scored
// candidate. The group is nil for form_new candidates.
type Explainer interface {
	Explain(cand Candidate, item Item, group *Group) string
}

// DataProvider supplies the batch inputs for a training cycle. The
// interaction stream is append-only; catalog and groups are snapshots.
type DataProvider interface {
	Interactions(ctx context.Context) ([]Interaction, error)
	Items(ctx context.Context) ([]Item, error)
	Groups(ctx context.Context) ([]Group, error)
	Preferences(ctx context.Context) ([]Preferences, error)
}

// ClusterSink receives cluster assignment upserts, keyed by UserID.
// The relational store behind it is owned by the collaborator.
type ClusterSink interface {
	UpsertAssignments(ctx context.Context, assignments []ClusterAssignment) error
}
