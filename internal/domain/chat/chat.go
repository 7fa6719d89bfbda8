// Package chat provides the in-memory message types used inside a single
// turn: the agent loop's working message sequence and the completion
// request/response shapes exchanged with the model provider.
//
// A []chat.Message is owned exclusively by the turn that built it and is
// never shared across turns or users.
package chat

import "encoding/json"

// Message is one entry in the agent loop's working sequence.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      *Usage     `json:"-"`
}

// ToolCall is a model-issued request to invoke an external function.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage carries token accounting returned by the model provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// CompletionRequest is the input contract for a single model call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
}

// CompletionResponse is the output contract of a single model call.
type CompletionResponse struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	LatencyMS int64      `json:"latency_ms"`
}

// System returns a system-role message.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User returns a user-role message.
func User(content string) Message { return Message{Role: "user", Content: content} }

// Assistant returns an assistant-role message.
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// ToolResult returns a tool-role message carrying a tool invocation result.
func ToolResult(callID, content string) Message {
	return Message{Role: "tool", ToolCallID: callID, Content: content}
}
