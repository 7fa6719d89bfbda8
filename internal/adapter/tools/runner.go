// Package tools implements the built-in tool set offered to the agent
// loop: memory search, memory capture, and the current time.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/tool"
	"github.com/evermind-ai/evermind/internal/service"
)

const defaultSearchLimit = 5

// Runner executes the built-in tools on behalf of one user. Construct one
// per turn via the service factory so tool calls can never cross users.
type Runner struct {
	recall   *service.RecallService
	memories *service.MemoryService
	userID   string
	now      func() time.Time
}

var _ tool.Runner = (*Runner)(nil)

// NewRunner creates a Runner scoped to userID.
func NewRunner(recall *service.RecallService, memories *service.MemoryService, userID string) *Runner {
	return &Runner{recall: recall, memories: memories, userID: userID, now: time.Now}
}

// Tools declares the built-in tool set.
func (r *Runner) Tools() []chat.Tool {
	return []chat.Tool{
		{
			Name:        "search_memories",
			Description: "Search what you remember about the user. Use before asking the user something they may have told you already.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "What to look for"},
					"limit": {"type": "integer", "description": "Max results, default 5"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "save_memory",
			Description: "Save a durable fact about the user for future conversations.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "One self-contained sentence"},
					"kind": {"type": "string", "enum": ["personal", "preference", "goal", "insight", "fact", "context", "relationship", "event"]},
					"importance": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["content"]
			}`),
		},
		{
			Name:        "current_time",
			Description: "Get the current date and time.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}

// Run dispatches one tool call.
func (r *Runner) Run(ctx context.Context, call chat.ToolCall) (string, error) {
	switch call.Name {
	case "search_memories":
		return r.searchMemories(ctx, call.Arguments)
	case "save_memory":
		return r.saveMemory(ctx, call.Arguments)
	case "current_time":
		return r.now().Format(time.RFC1123), nil
	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (r *Runner) searchMemories(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("search_memories arguments: %w", err)
	}
	if in.Limit <= 0 {
		in.Limit = defaultSearchLimit
	}

	found, err := r.recall.Rank(ctx, r.userID, in.Query, in.Limit)
	if err != nil {
		return "", fmt.Errorf("search memories: %w", err)
	}
	if len(found) == 0 {
		return "No matching memories.", nil
	}

	var b strings.Builder
	for i := range found {
		fmt.Fprintf(&b, "- %s (%s)\n", found[i].Content, found[i].Kind)
	}
	return b.String(), nil
}

func (r *Runner) saveMemory(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Content    string  `json:"content"`
		Kind       string  `json:"kind"`
		Importance float64 `json:"importance"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("save_memory arguments: %w", err)
	}

	kind := memory.Kind(in.Kind)
	if in.Kind == "" {
		kind = memory.KindFact
	}
	if in.Importance == 0 {
		in.Importance = 0.5
	}

	m, err := r.memories.Create(ctx, memory.CreateRequest{
		UserID:     r.userID,
		Content:    in.Content,
		Kind:       kind,
		Importance: in.Importance,
	})
	if err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return fmt.Sprintf("Saved memory %s.", m.ID), nil
}
