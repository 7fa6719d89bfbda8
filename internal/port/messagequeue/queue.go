// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by Evermind.
const (
	// SubjectMemoryExtract dispatches a completed user+assistant exchange
	// for background memory extraction.
	SubjectMemoryExtract = "memory.extract"

	// SubjectConversationTitle dispatches a conversation for auto-titling.
	SubjectConversationTitle = "conversation.title"
)

// ExtractionJob is the payload published on SubjectMemoryExtract.
type ExtractionJob struct {
	UserID           string `json:"user_id"`
	ConversationID   string `json:"conversation_id"`
	UserMessageID    string `json:"user_message_id"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
}

// TitleJob is the payload published on SubjectConversationTitle.
type TitleJob struct {
	ConversationID string `json:"conversation_id"`
}
