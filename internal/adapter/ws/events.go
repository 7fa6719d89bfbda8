package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTurnStarted    = "turn.started"
	EventMemoryRecalled = "memory.recalled"
	EventAgentStep      = "agent.step"
	EventTurnCompleted  = "turn.completed"
	EventTurnFailed     = "turn.failed"
	EventTitleUpdated   = "conversation.title"
)

// TurnStartedEvent is broadcast when turn processing begins.
type TurnStartedEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MemoryRecalledEvent is broadcast after memory retrieval for a turn.
type MemoryRecalledEvent struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

// AgentStepEvent is broadcast for each agent loop step.
type AgentStepEvent struct {
	ConversationID string `json:"conversation_id"`
	Step           int    `json:"step"`
	Tool           string `json:"tool,omitempty"`
	Summarized     bool   `json:"summarized,omitempty"`
}

// TurnCompletedEvent is broadcast when the assistant response is persisted.
type TurnCompletedEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	TokensIn       int    `json:"tokens_in"`
	TokensOut      int    `json:"tokens_out"`
}

// TurnFailedEvent is broadcast when a turn fails.
type TurnFailedEvent struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"` // "budget", "model_unavailable", "error"
}

// TitleUpdatedEvent is broadcast when auto-titling renames a conversation.
type TitleUpdatedEvent struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
