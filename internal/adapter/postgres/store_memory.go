package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/memory"
)

const memoryColumns = `id, user_id, content, title, kind, embedding, tags, metadata,
	importance, access_count, last_accessed, auto_extracted, extraction_confidence,
	source_message_id, source_conversation_id, created_at, updated_at`

// CreateMemory inserts a new memory into the database.
func (s *Store) CreateMemory(ctx context.Context, m *memory.Memory) error {
	const q = `
		INSERT INTO memories (user_id, content, title, kind, embedding, tags, metadata,
			importance, auto_extracted, extraction_confidence, source_message_id, source_conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, '')::uuid, NULLIF($12, '')::uuid)
		RETURNING id, created_at, updated_at`

	metadata := json.RawMessage(`{}`)
	if m.Metadata != nil {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal memory metadata: %w", err)
		}
		metadata = b
	}

	err := s.pool.QueryRow(ctx, q,
		m.UserID, m.Content, m.Title, string(m.Kind), m.Embedding, m.Tags, metadata,
		m.Importance, m.AutoExtracted, m.ExtractionConfidence,
		m.SourceMessageID, m.SourceConversationID,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)

	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get memory %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// UpdateMemory rewrites a memory's mutable fields and bumps updated_at.
func (s *Store) UpdateMemory(ctx context.Context, m *memory.Memory) error {
	metadata := json.RawMessage(`{}`)
	if m.Metadata != nil {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal memory metadata: %w", err)
		}
		metadata = b
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE memories
		SET content = $2, title = $3, kind = $4, embedding = $5, tags = $6,
			metadata = $7, importance = $8, updated_at = now()
		WHERE id = $1`,
		m.ID, m.Content, m.Title, string(m.Kind), m.Embedding, m.Tags, metadata, m.Importance)
	if err != nil {
		return fmt.Errorf("update memory %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update memory %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// DeleteMemory removes a memory by id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete memory %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListMemories returns a user's memories, optionally filtered by kind and
// tags, ordered by (importance desc, updated_at desc).
func (s *Store) ListMemories(ctx context.Context, userID string, f memory.Filter) ([]memory.Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = $1`
	args := []any{userID}

	if f.Kind != "" {
		args = append(args, string(f.Kind))
		q += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if len(f.Tags) > 0 {
		args = append(args, f.Tags)
		q += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	q += " ORDER BY importance DESC, updated_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListEmbeddedMemories returns all of a user's memories that carry an
// embedding, ordered by (importance desc, updated_at desc).
func (s *Store) ListEmbeddedMemories(ctx context.Context, userID string) ([]memory.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = $1 AND embedding IS NOT NULL
		ORDER BY importance DESC, updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list embedded memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListConversationMemories returns memories extracted from the given
// conversation, ordered by (importance desc, created_at desc).
func (s *Store) ListConversationMemories(ctx context.Context, userID, conversationID string, limit int) ([]memory.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = $1 AND source_conversation_id = $2
		ORDER BY importance DESC, created_at DESC
		LIMIT $3`, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// TouchMemoryAccess atomically increments access_count and stamps
// last_accessed for the given ids in one UPDATE.
func (s *Store) TouchMemoryAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed = now()
		WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return fmt.Errorf("touch memory access: %w", err)
	}
	return nil
}

// MemoryStats summarizes a user's memory store.
func (s *Store) MemoryStats(ctx context.Context, userID string) (*memory.Stats, error) {
	stats := &memory.Stats{ByKind: make(map[string]int)}

	rows, err := s.pool.Query(ctx, `
		SELECT kind, COUNT(*), COALESCE(AVG(importance), 0),
			COUNT(*) FILTER (WHERE auto_extracted)
		FROM memories WHERE user_id = $1 GROUP BY kind`, userID)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}
	defer rows.Close()

	var weightedImportance float64
	for rows.Next() {
		var kind string
		var count, auto int
		var avg float64
		if err := rows.Scan(&kind, &count, &avg, &auto); err != nil {
			return nil, fmt.Errorf("scan memory stats: %w", err)
		}
		stats.ByKind[kind] = count
		stats.Total += count
		stats.AutoExtracted += auto
		weightedImportance += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.AvgImportance = weightedImportance / float64(stats.Total)
	}

	top, err := s.pool.Query(ctx, `
		SELECT `+memoryColumns+`
		FROM memories WHERE user_id = $1 AND access_count > 0
		ORDER BY access_count DESC LIMIT 5`, userID)
	if err != nil {
		return nil, fmt.Errorf("memory stats top: %w", err)
	}
	defer top.Close()

	stats.MostAccessed, err = scanMemories(top)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var m memory.Memory
	var metadata []byte
	var srcMsg, srcConv *string

	err := row.Scan(
		&m.ID, &m.UserID, &m.Content, &m.Title, &m.Kind, &m.Embedding, &m.Tags, &metadata,
		&m.Importance, &m.AccessCount, &m.LastAccessed, &m.AutoExtracted, &m.ExtractionConfidence,
		&srcMsg, &srcConv, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &m.Metadata)
	}
	if srcMsg != nil {
		m.SourceMessageID = *srcMsg
	}
	if srcConv != nil {
		m.SourceConversationID = *srcConv
	}
	return &m, nil
}

func scanMemories(rows pgx.Rows) ([]memory.Memory, error) {
	var result []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}
