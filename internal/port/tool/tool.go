// Package tool defines the port for tools the agent loop can invoke.
package tool

import (
	"context"

	"github.com/evermind-ai/evermind/internal/domain/chat"
)

// Runner exposes a set of tools to the agent loop and executes them.
// Run returns the tool's textual output; an error means the tool itself
// failed, not that the output is unfavorable.
type Runner interface {
	Tools() []chat.Tool
	Run(ctx context.Context, call chat.ToolCall) (string, error)
}
