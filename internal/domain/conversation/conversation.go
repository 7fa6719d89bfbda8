// Package conversation provides the domain model for chat threads and
// their persisted messages.
package conversation

import (
	"encoding/json"
	"time"
)

// DefaultTitle is assigned to new conversations until auto-titling runs.
const DefaultTitle = "New conversation"

// Conversation represents a chat thread owned by a user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode"` // persona key, e.g. "conversational"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single persisted message in a conversation.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"` // "user", "assistant", "system", "tool"
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	TokensIn       int             `json:"tokens_in,omitempty"`
	TokensOut      int             `json:"tokens_out,omitempty"`
	Model          string          `json:"model,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateRequest is the request body for creating a new conversation.
type CreateRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Content string `json:"content"`
	Agentic *bool  `json:"agentic,omitempty"` // Override agent mode (nil = conversation default).
}
