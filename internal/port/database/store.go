// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/evermind-ai/evermind/internal/domain/conversation"
	"github.com/evermind-ai/evermind/internal/domain/memory"
)

// Store is the port interface for database operations.
type Store interface {
	// Memories
	CreateMemory(ctx context.Context, m *memory.Memory) error
	GetMemory(ctx context.Context, id string) (*memory.Memory, error)
	UpdateMemory(ctx context.Context, m *memory.Memory) error
	DeleteMemory(ctx context.Context, id string) error
	ListMemories(ctx context.Context, userID string, f memory.Filter) ([]memory.Memory, error)

	// ListEmbeddedMemories returns all of a user's memories that carry an
	// embedding, ordered by (importance desc, updated_at desc).
	ListEmbeddedMemories(ctx context.Context, userID string) ([]memory.Memory, error)

	// ListConversationMemories returns memories extracted from the given
	// conversation, ordered by (importance desc, created_at desc).
	ListConversationMemories(ctx context.Context, userID, conversationID string, limit int) ([]memory.Memory, error)

	// TouchMemoryAccess atomically increments access_count and sets
	// last_accessed for each id. A single SQL UPDATE per batch; no
	// read-modify-write.
	TouchMemoryAccess(ctx context.Context, ids []string) error

	MemoryStats(ctx context.Context, userID string) (*memory.Stats, error)

	// Conversations
	CreateConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	UpdateConversationTitle(ctx context.Context, id, title string) error

	// Messages
	CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)

	// ListRecentMessages returns the newest limit messages in
	// chronological order.
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
}
