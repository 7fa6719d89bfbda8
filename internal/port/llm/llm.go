// Package llm defines the generative-model port (interface).
package llm

import (
	"context"

	"github.com/evermind-ai/evermind/internal/domain/chat"
)

// Client is the port interface for chat completions. Implementations map
// provider failures onto the domain error taxonomy: budget/quota failures
// wrap domain.ErrBudgetExceeded, missing models wrap
// domain.ErrModelUnavailable, and everything else wraps domain.ErrLLM.
type Client interface {
	Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error)
}
