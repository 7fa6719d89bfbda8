package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/evermind-ai/evermind/internal/adapter/otel"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/port/llm"
	"github.com/evermind-ai/evermind/internal/token"
)

// OverflowPath classifies how an incoming tool output is handled.
type OverflowPath int

const (
	// PathPassThrough appends the output unchanged.
	PathPassThrough OverflowPath = iota
	// PathFocused summarizes the whole output in one call.
	PathFocused
	// PathChunked splits the output and summarizes chunks in parallel.
	PathChunked
)

func (p OverflowPath) String() string {
	switch p {
	case PathFocused:
		return "focused"
	case PathChunked:
		return "chunked"
	default:
		return "pass_through"
	}
}

// chunkErrorPlaceholder stands in for an individually failed chunk so a
// partial fan-out still produces a combined summary.
const chunkErrorPlaceholder = "[Error processing this chunk]"

// truncationNotice is appended when the safety valve cuts a summary.
const truncationNotice = "\n\n[Summary truncated to fit the context window]"

// minChunkStride keeps degenerate overlap configs from producing
// zero-progress chunking.
const minChunkStride = 1000

// OverflowService is the content-overflow controller: it watches tool
// outputs appended to the agent's working message sequence and rewrites
// the sequence when an output would not fit the model's window.
type OverflowService struct {
	budget  *token.Budget
	counter *token.Counter
	llm     llm.Client
	model   string
	temp    float64
	cfg     config.Agent
	prompt  *PromptService
	metrics *otel.Metrics
	log     *slog.Logger
}

// NewOverflowService creates an OverflowService. model names the model
// used for summarization calls; prompt supplies request truncation for
// rebuilt contexts.
func NewOverflowService(budget *token.Budget, client llm.Client, model string, temp float64, cfg config.Agent, prompt *PromptService, log *slog.Logger) *OverflowService {
	if log == nil {
		log = slog.Default()
	}
	return &OverflowService{
		budget:  budget,
		counter: budget.Counter(),
		llm:     client,
		model:   model,
		temp:    temp,
		cfg:     cfg,
		prompt:  prompt,
		log:     log,
	}
}

// SetMetrics attaches metric instruments. Optional; nil metrics disable
// instrumentation.
func (s *OverflowService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Classify is the pure path decision, checked in priority order: chunking
// first, then moderate summarization, then pass-through.
func (s *OverflowService) Classify(content string, systemTokens, historyTokens int) OverflowPath {
	if s.budget.ShouldChunk(content, systemTokens, historyTokens) {
		return PathChunked
	}
	if s.budget.ShouldSummarizeModerate(content) {
		return PathFocused
	}
	return PathPassThrough
}

// Process appends a tool result to msgs, transforming the sequence when
// the result is too large. The returned slice replaces the caller's
// working sequence.
func (s *OverflowService) Process(ctx context.Context, msgs []chat.Message, toolMsg chat.Message) ([]chat.Message, OverflowPath, error) {
	systemTokens, historyTokens := s.sequenceTokens(msgs)

	path := s.Classify(toolMsg.Content, systemTokens, historyTokens)
	switch path {
	case PathPassThrough:
		return append(msgs, toolMsg), path, nil

	case PathFocused:
		summary, err := s.focusedSummary(ctx, msgs, toolMsg.Content)
		if err != nil {
			return nil, path, err
		}
		return s.rebuildContext(msgs, toolMsg.ToolCallID, summary), path, nil

	default: // PathChunked
		summary, err := s.chunkedSummary(ctx, msgs, toolMsg.Content)
		if err != nil {
			return nil, path, err
		}
		return s.rebuildContext(msgs, toolMsg.ToolCallID, summary), path, nil
	}
}

// focusedSummary runs one summarization call over the full content.
func (s *OverflowService) focusedSummary(ctx context.Context, msgs []chat.Message, content string) (string, error) {
	ctx, span := otel.StartOverflowSpan(ctx, PathFocused.String(), 1)
	defer span.End()
	request := originalRequest(msgs)

	resp, err := s.llm.Complete(ctx, chat.CompletionRequest{
		Model:       s.model,
		Temperature: s.temp,
		Messages: []chat.Message{
			chat.System(summarySystemPrompt),
			chat.User(focusedSummaryPrompt(request, content)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("focused summary: %w", err)
	}
	return resp.Text, nil
}

// chunkedSummary splits content into token-exact chunks, summarizes them
// concurrently under the configured cap, recombines in chunk index order,
// and consolidates once more if the combined result is still huge.
func (s *OverflowService) chunkedSummary(ctx context.Context, msgs []chat.Message, content string) (string, error) {
	request := originalRequest(msgs)
	chunks := s.splitChunks(content)

	ctx, span := otel.StartOverflowSpan(ctx, PathChunked.String(), len(chunks))
	defer span.End()
	if s.metrics != nil {
		s.metrics.ChunkFanouts.Add(ctx, 1)
	}

	s.log.Info("chunked summarization started",
		"chunks", len(chunks),
		"content_tokens", s.counter.Count(content),
	)

	summaries := make([]string, len(chunks))
	sem := semaphore.NewWeighted(int64(s.cfg.ChunkConcurrency))

	for i, chunk := range chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("chunk fan-out: %w", err)
		}
		go func(idx int, text string) {
			defer sem.Release(1)
			summaries[idx] = s.summarizeChunk(ctx, request, text, idx+1, len(chunks))
		}(i, chunk)
	}

	// Fan-in barrier: acquiring the full weight waits for every chunk.
	if err := sem.Acquire(ctx, int64(s.cfg.ChunkConcurrency)); err != nil {
		return "", fmt.Errorf("chunk fan-in: %w", err)
	}
	sem.Release(int64(s.cfg.ChunkConcurrency))

	combined := strings.Join(summaries, "\n\n")

	if s.counter.Count(combined) > s.cfg.ResummarizeTokens {
		s.log.Info("consolidating oversized combined summary",
			"combined_tokens", s.counter.Count(combined))
		resp, err := s.llm.Complete(ctx, chat.CompletionRequest{
			Model:       s.model,
			Temperature: s.temp,
			Messages: []chat.Message{
				chat.System(summarySystemPrompt),
				chat.User(consolidatePrompt(request, combined)),
			},
		})
		if err != nil {
			// The concatenation is still usable; consolidation is an
			// optimization, not a requirement.
			s.log.Warn("consolidation call failed, keeping concatenated summaries", "error", err)
			return combined, nil
		}
		return resp.Text, nil
	}

	return combined, nil
}

// summarizeChunk summarizes one chunk, converting any failure into an
// inline placeholder: partial success is acceptable, total failure is not.
func (s *OverflowService) summarizeChunk(ctx context.Context, request, text string, index, total int) string {
	resp, err := s.llm.Complete(ctx, chat.CompletionRequest{
		Model:       s.model,
		Temperature: s.temp,
		Messages: []chat.Message{
			chat.System(summarySystemPrompt),
			chat.User(chunkSummaryPrompt(request, text, index, total)),
		},
	})
	if err != nil {
		s.log.Warn("chunk summarization failed", "chunk", index, "total", total, "error", err)
		return chunkErrorPlaceholder
	}
	return resp.Text
}

// splitChunks slices content into token-exact chunks. Once chunking is
// committed to, each chunk uses nearly the full model window to minimize
// the number of chunks; consecutive chunks overlap so information at
// boundaries is not lost.
func (s *OverflowService) splitChunks(content string) []string {
	chunkSize := int(s.cfg.ChunkWindowFactor * float64(s.budget.ContextLimit))
	stride := chunkSize - s.cfg.ChunkOverlapTokens
	if stride < minChunkStride {
		stride = minChunkStride
	}

	totalTokens := s.counter.Count(content)
	if totalTokens <= chunkSize {
		return []string{content}
	}

	var chunks []string
	for start := 0; start < totalTokens; start += stride {
		end := start + chunkSize
		if end > totalTokens {
			end = totalTokens
		}
		startChar := s.counter.TokenToChar(content, start)
		endChar := s.counter.TokenToChar(content, end)
		chunks = append(chunks, content[startChar:endChar])
		if end == totalTokens {
			break
		}
	}
	return chunks
}

// rebuildContext replaces the entire working sequence with exactly three
// messages: a minimal system message, the truncated original request, and
// the summarized tool output. Deliberately lossy: once summarized, the
// verbose framing is discarded so the rebuilt context is guaranteed to fit.
func (s *OverflowService) rebuildContext(msgs []chat.Message, toolCallID, summary string) []chat.Message {
	request := originalRequest(msgs)
	if max := s.cfg.MessageTruncTokens; max > 0 {
		request = s.counter.Truncate(request, max)
	}
	request = s.prompt.TruncateRequest(request)

	rebuilt := []chat.Message{
		chat.System(minimalSystemPrompt),
		chat.User(request),
		chat.ToolResult(toolCallID, summary),
	}

	// Safety valve: if even the minimal context exceeds the safe limit,
	// truncate the summary itself.
	if s.counter.CountMessages(rebuilt) > s.budget.SafeContextLimit {
		room := s.budget.SafeContextLimit - 2000
		if room < 1 {
			room = 1
		}
		rebuilt[2].Content = s.counter.Truncate(summary, room) + truncationNotice
	}
	return rebuilt
}

// sequenceTokens splits the working sequence's cost into system and
// history shares for the budget check.
func (s *OverflowService) sequenceTokens(msgs []chat.Message) (systemTokens, historyTokens int) {
	var system, history []chat.Message
	for i := range msgs {
		if msgs[i].Role == "system" {
			system = append(system, msgs[i])
		} else {
			history = append(history, msgs[i])
		}
	}
	return s.counter.CountMessages(system), s.counter.CountMessages(history)
}

// originalRequest extracts the most recent user turn, which summarization
// prompts use as the inferred intent.
func originalRequest(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
