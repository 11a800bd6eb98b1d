package interfaces

import (
	"context"
	"time"
)

// MessageRole identifies who produced a captured message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ReceivedAs records the perspective a fanned-out memory was stored under.
type ReceivedAs string

const (
	ReceivedAsSender      ReceivedAs = "sender"
	ReceivedAsParticipant ReceivedAs = "participant"
)

// MemoryRecord is the unit stored in the vector index. Created once by the
// capture pipeline and immutable afterwards; deletion is a hard delete.
type MemoryRecord struct {
	ID             string                 `json:"id"`
	Vector         []float64              `json:"-"`
	CampaignID     string                 `json:"campaign_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	CharacterID    string                 `json:"character_id"` // perspective owner after fan-out
	Role           MessageRole            `json:"role"`
	Content        string                 `json:"content"`
	Entities       []string               `json:"entities,omitempty"`
	ActionType     string                 `json:"action_type,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	GameState      map[string]interface{} `json:"game_state,omitempty"`
	ReceivedAs     ReceivedAs             `json:"received_as,omitempty"`
}

// MemoryContext carries the query-time context for capture, search and
// assembly. It is an immutable value passed through the pipeline.
type MemoryContext struct {
	CampaignID     string
	ConversationID string
	Entities       []string
	ActionType     string
	GameState      map[string]interface{}
	UserID         string
}

// RelevanceFactors breaks down how a result's final score was produced.
// Every factor is >= 0; a factor of exactly 1.0 means "no boost configured".
type RelevanceFactors struct {
	Semantic   float64 `json:"semantic_score"`
	Entity     float64 `json:"entity_boost"`
	ActionType float64 `json:"action_type_boost"`
	Recency    float64 `json:"recency_boost"`
	Role       float64 `json:"role_boost"`
	Final      float64 `json:"final_score"`
}

// ScoredResult wraps a MemoryRecord with its relevance breakdown.
type ScoredResult struct {
	Record  MemoryRecord     `json:"record"`
	Factors RelevanceFactors `json:"relevance_factors"`
}

// SearchFilter is the subset of filtering the vector index evaluates
// natively: campaign scope, perspective owner, entity membership (ANY-of)
// and a time range. Everything else is filtered in-process.
type SearchFilter struct {
	CampaignID            string
	CharacterID           string
	Entities              []string // match records containing any of these
	ExcludeConversationID string
	From                  time.Time
	To                    time.Time
}

// IndexHealth reports availability of the vector index.
type IndexHealth struct {
	Available  bool  `json:"available"`
	PointCount int64 `json:"point_count"`
}

// VectorIndex is the narrow contract over the external nearest-neighbor
// store. All writes are idempotent upserts keyed by record id.
type VectorIndex interface {
	Write(ctx context.Context, record *MemoryRecord) error
	WriteBatch(ctx context.Context, records []*MemoryRecord) error

	// Query returns results carrying raw semantic scores only; boosting is
	// the search engine's job.
	Query(ctx context.Context, vector []float64, filter *SearchFilter, limit int, minScore float64) ([]*ScoredResult, error)

	Delete(ctx context.Context, id string) error
	Health(ctx context.Context) (*IndexHealth, error)
}
