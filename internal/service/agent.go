package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/port/llm"
	"github.com/evermind-ai/evermind/internal/port/tool"
	"github.com/evermind-ai/evermind/internal/token"
)

// FallbackAnswer is returned when the agent loop exhausts its step budget
// without producing a final answer.
const FallbackAnswer = "I was unable to find a clear answer to your request. Please try rephrasing it."

// AgentResult is the outcome of one agent loop run.
type AgentResult struct {
	Text      string
	Steps     int
	ToolCalls int
	Usage     chat.Usage
}

// AgentService runs the tool-using loop for agentic turns: completion,
// tool execution, overflow-managed result injection, repeat until the
// model answers in plain text or the step budget runs out.
type AgentService struct {
	llm      llm.Client
	overflow *OverflowService
	counter  *token.Counter
	model    string
	temp     float64
	cfg      config.Agent
	log      *slog.Logger
}

// NewAgentService creates an AgentService.
func NewAgentService(client llm.Client, overflow *OverflowService, counter *token.Counter, model string, temp float64, cfg config.Agent, log *slog.Logger) *AgentService {
	if log == nil {
		log = slog.Default()
	}
	return &AgentService{
		llm:      client,
		overflow: overflow,
		counter:  counter,
		model:    model,
		temp:     temp,
		cfg:      cfg,
		log:      log,
	}
}

// StepFunc observes one agent loop step: the tool invoked (empty on the
// final answering step) and whether the tool's output was summarized.
type StepFunc func(step int, toolName string, summarized bool)

// Run executes the loop. system is the assembled system prompt, history
// the prior conversation turns, current the new user message. The runner
// supplies and executes the tools offered to the model. onStep is
// optional.
func (s *AgentService) Run(ctx context.Context, system string, history []chat.Message, current string, runner tool.Runner, onStep StepFunc) (*AgentResult, error) {
	msgs := make([]chat.Message, 0, len(history)+2)
	msgs = append(msgs, chat.System(system))
	msgs = append(msgs, s.trimHistory(history)...)
	msgs = append(msgs, chat.User(current))

	result := &AgentResult{}

	for step := 1; step <= s.cfg.MaxSteps; step++ {
		result.Steps = step

		resp, err := s.llm.Complete(ctx, chat.CompletionRequest{
			Model:       s.model,
			Temperature: s.temp,
			Messages:    msgs,
			Tools:       runner.Tools(),
		})
		if err != nil {
			return nil, fmt.Errorf("agent step %d: %w", step, err)
		}
		result.Usage.PromptTokens += resp.Usage.PromptTokens
		result.Usage.CompletionTokens += resp.Usage.CompletionTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			if onStep != nil {
				onStep(step, "", false)
			}
			return result, nil
		}

		assistant := chat.Assistant(resp.Text)
		assistant.ToolCalls = resp.ToolCalls
		msgs = append(msgs, assistant)

		for _, call := range resp.ToolCalls {
			result.ToolCalls++
			output, err := runner.Run(ctx, call)
			if err != nil {
				s.log.Warn("tool execution failed",
					"tool", call.Name, "step", step, "error", err)
				output = fmt.Sprintf("Error: %v", err)
			}

			var path OverflowPath
			msgs, path, err = s.overflow.Process(ctx, msgs, chat.ToolResult(call.ID, output))
			if err != nil {
				return nil, fmt.Errorf("agent step %d, tool %s: %w", step, call.Name, err)
			}
			if onStep != nil {
				onStep(step, call.Name, path != PathPassThrough)
			}
		}
	}

	s.log.Warn("agent loop exhausted step budget", "max_steps", s.cfg.MaxSteps)
	result.Text = FallbackAnswer
	return result, nil
}

// trimHistory keeps the most recent turns and caps each message's token
// size so a single giant prior message cannot crowd out the loop.
func (s *AgentService) trimHistory(history []chat.Message) []chat.Message {
	if limit := s.cfg.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	trimmed := make([]chat.Message, len(history))
	for i, m := range history {
		if s.cfg.MessageTruncTokens > 0 {
			m.Content = s.counter.Truncate(m.Content, s.cfg.MessageTruncTokens)
		}
		trimmed[i] = m
	}
	return trimmed
}
