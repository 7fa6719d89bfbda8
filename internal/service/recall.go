package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/cache"
	"github.com/evermind-ai/evermind/internal/port/database"
	"github.com/evermind-ai/evermind/internal/port/embedding"
)

// RecallService ranks a user's memories against a query by composite score:
// semantic similarity, stored importance, and recency. It never returns an
// empty result when the user has memories at all — an irrelevant memory is
// cheaper than a forgotten one.
type RecallService struct {
	db       database.Store
	embedder embedding.Embedder
	cache    cache.Cache
	cfg      config.Recall
	cacheTTL time.Duration
	log      *slog.Logger
	now      func() time.Time // for testing
}

// NewRecallService creates a RecallService. The cache is optional.
func NewRecallService(db database.Store, embedder embedding.Embedder, c cache.Cache, cfg config.Recall, cacheTTL time.Duration, log *slog.Logger) *RecallService {
	if log == nil {
		log = slog.Default()
	}
	return &RecallService{
		db:       db,
		embedder: embedder,
		cache:    c,
		cfg:      cfg,
		cacheTTL: cacheTTL,
		log:      log,
		now:      time.Now,
	}
}

// Rank returns up to limit memories for userID ordered by composite
// relevance to query. Candidates below minSimilarity are discarded; if
// nothing survives (or no memory carries an embedding), the top memories
// by (importance, recency) are returned instead.
//
// Side effect: access stats of returned memories are updated in the
// background; failures there are logged, never propagated.
func (s *RecallService) Rank(ctx context.Context, userID, query string, limit int) ([]memory.ScoredMemory, error) {
	if limit <= 0 {
		limit = s.cfg.Limit
	}

	if cached, ok := s.cacheGet(ctx, userID, query, limit); ok {
		// A cached result is still a recall: the returned memories were
		// accessed again, so their stats move either way.
		s.touchAsync(cached)
		return cached, nil
	}

	candidates, err := s.db.ListEmbeddedMemories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list embedded memories: %w", err)
	}
	if len(candidates) == 0 {
		return s.fallback(ctx, userID, limit)
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Warn("query embedding failed, falling back to importance ordering",
			"user_id", userID, "error", err)
		return s.fallback(ctx, userID, limit)
	}

	now := s.now()
	scored := make([]memory.ScoredMemory, 0, len(candidates))
	for i := range candidates {
		sim := CosineSimilarity(queryVec, candidates[i].Embedding)
		if sim < s.cfg.MinSimilarity {
			continue
		}
		scored = append(scored, memory.ScoredMemory{
			Memory:     candidates[i],
			Similarity: sim,
			Score:      s.compositeScore(sim, &candidates[i], now),
		})
	}

	if len(scored) == 0 {
		return s.fallback(ctx, userID, limit)
	}

	// Candidates arrive ordered (importance desc, updated desc), and the
	// sort below is stable, so equal composite scores keep that order.
	stableSortByScore(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	s.touchAsync(scored)
	s.cacheSet(ctx, userID, query, limit, scored)
	return scored, nil
}

// ConversationScoped returns memories extracted from the given
// conversation, ordered by (importance desc, created desc), independent of
// similarity. Guarantees conversation continuity even when global
// similarity search misses.
func (s *RecallService) ConversationScoped(ctx context.Context, userID, conversationID string, limit int) ([]memory.ScoredMemory, error) {
	if limit <= 0 {
		limit = s.cfg.ConversationTop
	}
	mems, err := s.db.ListConversationMemories(ctx, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation memories: %w", err)
	}

	scored := make([]memory.ScoredMemory, 0, len(mems))
	for i := range mems {
		scored = append(scored, memory.ScoredMemory{Memory: mems[i], Score: mems[i].Importance})
	}
	return scored, nil
}

// Combine merges ranked lists, deduplicating by memory id and preserving
// first occurrence.
func Combine(lists ...[]memory.ScoredMemory) []memory.ScoredMemory {
	seen := make(map[string]struct{})
	var out []memory.ScoredMemory
	for _, list := range lists {
		for _, m := range list {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// compositeScore blends similarity, importance, and recency. The recency
// factor decays linearly to zero over cfg.RecencyDays.
func (s *RecallService) compositeScore(similarity float64, m *memory.Memory, now time.Time) float64 {
	recency := 1 - math.Min(1, m.AgeDays(now)/s.cfg.RecencyDays)
	return similarity*s.cfg.SimilarityWeight +
		m.Importance*s.cfg.ImportanceWeight +
		recency*s.cfg.RecencyWeight
}

// fallback returns the top memories by (importance desc, updated desc),
// which is the store's natural order. Returns an empty slice only when the
// user has no memories at all.
func (s *RecallService) fallback(ctx context.Context, userID string, limit int) ([]memory.ScoredMemory, error) {
	mems, err := s.db.ListMemories(ctx, userID, memory.Filter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("fallback list memories: %w", err)
	}
	scored := make([]memory.ScoredMemory, 0, len(mems))
	for i := range mems {
		scored = append(scored, memory.ScoredMemory{Memory: mems[i], Score: mems[i].Importance})
	}
	s.touchAsync(scored)
	return scored, nil
}

// touchAsync updates access stats for returned memories without blocking
// or failing the read path.
func (s *RecallService) touchAsync(scored []memory.ScoredMemory) {
	if len(scored) == 0 {
		return
	}
	ids := make([]string, len(scored))
	for i := range scored {
		ids[i] = scored[i].ID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.db.TouchMemoryAccess(ctx, ids); err != nil {
			s.log.Warn("memory access touch failed", "count", len(ids), "error", err)
		}
	}()
}

func (s *RecallService) cacheKey(userID, query string, limit int) string {
	h := sha256.Sum256([]byte(query))
	return fmt.Sprintf("recall:%s:%d:%s", userID, limit, hex.EncodeToString(h[:8]))
}

func (s *RecallService) cacheGet(ctx context.Context, userID, query string, limit int) ([]memory.ScoredMemory, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, s.cacheKey(userID, query, limit))
	if err != nil || !ok {
		return nil, false
	}
	var scored []memory.ScoredMemory
	if err := json.Unmarshal(data, &scored); err != nil {
		return nil, false
	}
	return scored, true
}

func (s *RecallService) cacheSet(ctx context.Context, userID, query string, limit int, scored []memory.ScoredMemory) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(scored)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, s.cacheKey(userID, query, limit), data, s.cacheTTL)
}

// stableSortByScore sorts descending by composite score, keeping input
// order for ties.
func stableSortByScore(scored []memory.ScoredMemory) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
}

// CosineSimilarity returns the normalized dot product of two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
