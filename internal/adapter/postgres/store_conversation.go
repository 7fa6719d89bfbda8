package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/conversation"
)

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	title := c.Title
	if title == "" {
		title = conversation.DefaultTitle
	}
	mode := c.Mode
	if mode == "" {
		mode = "conversational"
	}

	var created conversation.Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_id, title, mode)
		 VALUES ($1, $2, $3)
		 RETURNING id, user_id, title, mode, created_at, updated_at`,
		c.UserID, title, mode,
	).Scan(&created.ID, &created.UserID, &created.Title, &created.Mode, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &created, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, mode, created_at, updated_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Mode, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get conversation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns a user's conversations, most recently active first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, mode, created_at, updated_at
		 FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []conversation.Conversation
	for rows.Next() {
		var c conversation.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Mode, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// DeleteConversation removes a conversation and its messages (cascade).
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdateConversationTitle sets a conversation's title.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("update conversation title %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update conversation title %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CreateMessage inserts a message and touches the conversation's updated_at.
func (s *Store) CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	var created conversation.Message
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content, tool_calls, tokens_in, tokens_out, model)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, conversation_id, role, content, tool_calls, tokens_in, tokens_out, model, created_at`,
		m.ConversationID, m.Role, m.Content, m.ToolCalls, m.TokensIn, m.TokensOut, m.Model,
	).Scan(&created.ID, &created.ConversationID, &created.Role, &created.Content,
		&created.ToolCalls, &created.TokensIn, &created.TokensOut, &created.Model, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, m.ConversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return &created, nil
}

// ListMessages returns all messages of a conversation in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tokens_in, tokens_out, model, created_at
		 FROM conversation_messages WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListRecentMessages returns the newest limit messages in chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, tool_calls, tokens_in, tokens_out, model, created_at
		FROM (
			SELECT * FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent
		ORDER BY created_at`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanMessages(rows pgx.Rows) ([]conversation.Message, error) {
	var result []conversation.Message
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.ToolCalls, &m.TokensIn, &m.TokensOut, &m.Model, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
