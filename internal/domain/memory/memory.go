// Package memory provides the domain model for persistent user memories
// with composite retrieval scoring (semantic + importance + recency).
package memory

import (
	"errors"
	"slices"
	"time"
)

// Kind categorizes the type of memory entry.
type Kind string

const (
	KindPersonal     Kind = "personal"
	KindPreference   Kind = "preference"
	KindGoal         Kind = "goal"
	KindInsight      Kind = "insight"
	KindFact         Kind = "fact"
	KindContext      Kind = "context"
	KindRelationship Kind = "relationship"
	KindEvent        Kind = "event"
)

// ValidKinds lists all valid memory kinds.
var ValidKinds = []Kind{
	KindPersonal, KindPreference, KindGoal, KindInsight,
	KindFact, KindContext, KindRelationship, KindEvent,
}

// Memory represents a single remembered fact about a user.
type Memory struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"user_id"`
	Content              string            `json:"content"`
	Title                string            `json:"title,omitempty"`
	Kind                 Kind              `json:"kind"`
	Embedding            []float32         `json:"-"`
	Tags                 []string          `json:"tags,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	Importance           float64           `json:"importance"`
	AccessCount          int               `json:"access_count"`
	LastAccessed         *time.Time        `json:"last_accessed,omitempty"`
	AutoExtracted        bool              `json:"auto_extracted"`
	ExtractionConfidence float64           `json:"extraction_confidence,omitempty"`
	SourceMessageID      string            `json:"source_message_id,omitempty"`
	SourceConversationID string            `json:"source_conversation_id,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// ScoredMemory wraps a Memory with its composite retrieval score.
type ScoredMemory struct {
	Memory
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// CreateRequest is the input for storing a new memory.
type CreateRequest struct {
	UserID               string            `json:"user_id"`
	Content              string            `json:"content"`
	Title                string            `json:"title,omitempty"`
	Kind                 Kind              `json:"kind"`
	Tags                 []string          `json:"tags,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	Importance           float64           `json:"importance"`
	AutoExtracted        bool              `json:"auto_extracted,omitempty"`
	ExtractionConfidence float64           `json:"extraction_confidence,omitempty"`
	SourceMessageID      string            `json:"source_message_id,omitempty"`
	SourceConversationID string            `json:"source_conversation_id,omitempty"`
}

// UpdateRequest is the input for editing an existing memory. A content edit
// triggers embedding regeneration in the service layer.
type UpdateRequest struct {
	Content    *string  `json:"content,omitempty"`
	Title      *string  `json:"title,omitempty"`
	Kind       *Kind    `json:"kind,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
}

// Filter narrows memory listing.
type Filter struct {
	Kind  Kind     `json:"kind,omitempty"` // empty = all kinds
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// Stats summarizes a user's memory store.
type Stats struct {
	Total         int            `json:"total"`
	ByKind        map[string]int `json:"by_kind"`
	AvgImportance float64        `json:"avg_importance"`
	AutoExtracted int            `json:"auto_extracted"`
	MostAccessed  []Memory       `json:"most_accessed,omitempty"`
}

// Validate checks that a CreateRequest has all required fields and that
// score fields are within [0, 1].
func (r *CreateRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if r.Content == "" {
		return errors.New("content is required")
	}
	if !slices.Contains(ValidKinds, r.Kind) {
		return errors.New("invalid kind")
	}
	if r.Importance < 0 || r.Importance > 1 {
		return errors.New("importance must be between 0 and 1")
	}
	if r.ExtractionConfidence < 0 || r.ExtractionConfidence > 1 {
		return errors.New("extraction_confidence must be between 0 and 1")
	}
	return nil
}

// AgeDays returns the memory's age in days at the given instant, based on
// its last update. Never negative.
func (m *Memory) AgeDays(now time.Time) float64 {
	age := now.Sub(m.UpdatedAt).Hours() / 24
	if age < 0 {
		return 0
	}
	return age
}
