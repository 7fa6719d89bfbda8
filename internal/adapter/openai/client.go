// Package openai provides an HTTP client for any OpenAI-compatible
// chat-completions and embeddings server (OpenAI, LiteLLM, vLLM, Ollama).
//
// Provider failures are mapped onto the domain error taxonomy so the
// orchestrator can distinguish budget exhaustion from a missing model from
// a transient failure.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/resilience"
)

// Client talks to an OpenAI-compatible API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new client for the given base URL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// wire types for /chat/completions

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete performs a single chat completion call.
func (c *Client) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	wireReq := completionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    toWireMessages(req.Messages),
	}
	for _, t := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		wireReq.Tools = append(wireReq.Tools, wt)
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	start := time.Now()
	data, err := c.doRequest(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var wireResp completionResponse
	if err := json.Unmarshal(data, &wireResp); err != nil {
		return nil, fmt.Errorf("unmarshal completion response: %w", err)
	}
	if len(wireResp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices: %w", domain.ErrLLM)
	}

	choice := wireResp.Choices[0].Message
	resp := &chat.CompletionResponse{
		Text:      choice.Content,
		LatencyMS: time.Since(start).Milliseconds(),
		Usage: chat.Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func toWireMessages(msgs []chat.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w: %w", domain.ErrLLM, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w: %w", domain.ErrLLM, err)
		}

		if resp.StatusCode >= 400 {
			return classifyAPIError(resp.StatusCode, data)
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

// classifyAPIError maps provider error responses onto the domain taxonomy.
// Budget/quota failures and missing models need distinct handling upstream;
// everything else is a generic LLM failure.
func classifyAPIError(status int, body []byte) error {
	msg := strings.ToLower(string(body))

	switch {
	case status == http.StatusPaymentRequired,
		strings.Contains(msg, "budget"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"):
		return fmt.Errorf("api error %d: %w", status, domain.ErrBudgetExceeded)
	case status == http.StatusNotFound,
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"):
		return fmt.Errorf("api error %d: %w", status, domain.ErrModelUnavailable)
	default:
		return fmt.Errorf("api error %d: %s: %w", status, truncateBody(body), domain.ErrLLM)
	}
}

func truncateBody(body []byte) string {
	const maxLen = 300
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
