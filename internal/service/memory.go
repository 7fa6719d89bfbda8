package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/cache"
	"github.com/evermind-ai/evermind/internal/port/database"
	"github.com/evermind-ai/evermind/internal/port/embedding"
)

// MemoryService covers user-facing memory management: explicit creation,
// edits, deletion, listing, and stats. Background extraction writes
// through the same store but has its own service.
type MemoryService struct {
	db       database.Store
	embedder embedding.Embedder
	cache    cache.Cache
	statsTTL time.Duration
	log      *slog.Logger
}

// NewMemoryService creates a MemoryService. The cache is optional;
// statsTTL bounds staleness of the stats endpoint.
func NewMemoryService(db database.Store, embedder embedding.Embedder, c cache.Cache, statsTTL time.Duration, log *slog.Logger) *MemoryService {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryService{db: db, embedder: embedder, cache: c, statsTTL: statsTTL, log: log}
}

// Create validates, embeds, and stores a memory. Embedding failure is not
// fatal: the memory is stored without a vector and still reachable through
// the importance-ordered fallback.
func (s *MemoryService) Create(ctx context.Context, req memory.CreateRequest) (*memory.Memory, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	m := &memory.Memory{
		UserID:               req.UserID,
		Content:              req.Content,
		Title:                req.Title,
		Kind:                 req.Kind,
		Tags:                 req.Tags,
		Metadata:             req.Metadata,
		Importance:           req.Importance,
		AutoExtracted:        req.AutoExtracted,
		ExtractionConfidence: req.ExtractionConfidence,
		SourceMessageID:      req.SourceMessageID,
		SourceConversationID: req.SourceConversationID,
	}

	vec, err := s.embedder.Embed(ctx, req.Content)
	if err != nil {
		s.log.Warn("embed memory failed, storing without embedding",
			"user_id", req.UserID, "error", err)
	} else {
		m.Embedding = vec
	}

	if err := s.db.CreateMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	s.invalidateStats(ctx, req.UserID)
	return m, nil
}

// Get returns one memory by id.
func (s *MemoryService) Get(ctx context.Context, id string) (*memory.Memory, error) {
	return s.db.GetMemory(ctx, id)
}

// Update applies a partial edit. A content change regenerates the
// embedding so retrieval stays consistent with what the memory now says.
func (s *MemoryService) Update(ctx context.Context, id string, req memory.UpdateRequest) (*memory.Memory, error) {
	m, err := s.db.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Content != nil && *req.Content != m.Content {
		if *req.Content == "" {
			return nil, fmt.Errorf("%w: content cannot be empty", domain.ErrValidation)
		}
		m.Content = *req.Content
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			s.log.Warn("re-embed memory failed, clearing stale embedding",
				"memory_id", id, "error", err)
			m.Embedding = nil
		} else {
			m.Embedding = vec
		}
	}
	if req.Title != nil {
		m.Title = *req.Title
	}
	if req.Kind != nil {
		m.Kind = *req.Kind
	}
	if req.Tags != nil {
		m.Tags = req.Tags
	}
	if req.Importance != nil {
		if *req.Importance < 0 || *req.Importance > 1 {
			return nil, fmt.Errorf("%w: importance must be between 0 and 1", domain.ErrValidation)
		}
		m.Importance = *req.Importance
	}

	if err := s.db.UpdateMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	s.invalidateStats(ctx, m.UserID)
	return m, nil
}

// Delete removes a memory.
func (s *MemoryService) Delete(ctx context.Context, id string) error {
	m, err := s.db.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteMemory(ctx, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	s.invalidateStats(ctx, m.UserID)
	return nil
}

// List returns a user's memories under the given filter.
func (s *MemoryService) List(ctx context.Context, userID string, f memory.Filter) ([]memory.Memory, error) {
	return s.db.ListMemories(ctx, userID, f)
}

// Stats returns aggregate numbers for a user's memory store, cached
// briefly.
func (s *MemoryService) Stats(ctx context.Context, userID string) (*memory.Stats, error) {
	key := statsCacheKey(userID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var stats memory.Stats
			if json.Unmarshal(data, &stats) == nil {
				return &stats, nil
			}
		}
	}

	stats, err := s.db.MemoryStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, key, data, s.statsTTL); err != nil {
				s.log.Warn("cache memory stats", "user_id", userID, "error", err)
			}
		}
	}
	return stats, nil
}

func (s *MemoryService) invalidateStats(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey(userID)); err != nil {
		s.log.Warn("invalidate stats cache", "user_id", userID, "error", err)
	}
}

func statsCacheKey(userID string) string {
	return "memstats:" + userID
}
