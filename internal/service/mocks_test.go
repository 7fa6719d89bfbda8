package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/conversation"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/cache"
	"github.com/evermind-ai/evermind/internal/port/database"
)

// fakeStore is an in-memory database.Store. Individual methods can be
// overridden per test through the fn fields to inject failures.
type fakeStore struct {
	mu            sync.Mutex
	seq           int
	memories      map[string]*memory.Memory
	conversations map[string]*conversation.Conversation
	messages      []conversation.Message
	touched       [][]string

	listEmbeddedFn func(userID string) ([]memory.Memory, error)
	listFn         func(userID string, f memory.Filter) ([]memory.Memory, error)
}

var _ database.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		memories:      make(map[string]*memory.Memory),
		conversations: make(map[string]*conversation.Conversation),
	}
}

func (s *fakeStore) nextID() string {
	s.seq++
	return fmt.Sprintf("id-%d", s.seq)
}

func (s *fakeStore) CreateMemory(_ context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = s.nextID()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
		m.UpdatedAt = now
	}
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *fakeStore) GetMemory(_ context.Context, id string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) UpdateMemory(_ context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[m.ID]; !ok {
		return domain.ErrNotFound
	}
	m.UpdatedAt = time.Now()
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *fakeStore) ListMemories(_ context.Context, userID string, f memory.Filter) ([]memory.Memory, error) {
	if s.listFn != nil {
		return s.listFn(userID, f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.Memory
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		if f.Kind != "" && m.Kind != f.Kind {
			continue
		}
		out = append(out, *m)
	}
	sortByImportance(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *fakeStore) ListEmbeddedMemories(_ context.Context, userID string) ([]memory.Memory, error) {
	if s.listEmbeddedFn != nil {
		return s.listEmbeddedFn(userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.Memory
	for _, m := range s.memories {
		if m.UserID == userID && len(m.Embedding) > 0 {
			out = append(out, *m)
		}
	}
	sortByImportance(out)
	return out, nil
}

func (s *fakeStore) ListConversationMemories(_ context.Context, userID, conversationID string, limit int) ([]memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.Memory
	for _, m := range s.memories {
		if m.UserID == userID && m.SourceConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sortByImportance(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) TouchMemoryAccess(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, ids)
	return nil
}

func (s *fakeStore) MemoryStats(_ context.Context, userID string) (*memory.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &memory.Stats{ByKind: make(map[string]int)}
	var sum float64
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		stats.Total++
		stats.ByKind[string(m.Kind)]++
		sum += m.Importance
		if m.AutoExtracted {
			stats.AutoExtracted++
		}
	}
	if stats.Total > 0 {
		stats.AvgImportance = sum / float64(stats.Total)
	}
	return stats, nil
}

func (s *fakeStore) CreateConversation(_ context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.nextID()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	s.conversations[c.ID] = &cp
	return c, nil
}

func (s *fakeStore) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) ListConversations(_ context.Context, userID string) ([]conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *fakeStore) UpdateConversationTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Title = title
	return nil
}

func (s *fakeStore) CreateMessage(_ context.Context, m *conversation.Message) (*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = s.nextID()
	}
	m.CreatedAt = time.Now()
	s.messages = append(s.messages, *m)
	cp := *m
	return &cp, nil
}

func (s *fakeStore) ListMessages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	all, _ := s.ListMessages(ctx, conversationID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *fakeStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	all, _ := s.ListMessages(ctx, conversationID)
	return len(all), nil
}

func sortByImportance(mems []memory.Memory) {
	for i := 1; i < len(mems); i++ {
		for j := i; j > 0; j-- {
			a, b := &mems[j-1], &mems[j]
			if a.Importance > b.Importance || (a.Importance == b.Importance && !a.UpdatedAt.Before(b.UpdatedAt)) {
				break
			}
			mems[j-1], mems[j] = mems[j], mems[j-1]
		}
	}
}

// fakeCache is a map-backed cache.Cache ignoring TTLs.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ cache.Cache = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// fakeEmbedder returns a fixed vector per text via the lookup map, or
// fails when failErr is set.
type fakeEmbedder struct {
	vectors     map[string][]float32
	fallbackVec []float32
	failErr     error
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.failErr != nil {
		return nil, e.failErr
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return e.fallbackVec, nil
}

func (e *fakeEmbedder) Dims() int { return 3 }
