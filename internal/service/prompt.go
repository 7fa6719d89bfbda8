package service

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/conversation"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/token"
)

// DefaultMode is the persona used when a conversation's mode is unknown.
const DefaultMode = "conversational"

// systemPrompts maps conversation modes to system personas. Unknown modes
// fall back to DefaultMode rather than erroring.
var systemPrompts = map[string]string{
	"conversational": "You are a warm, attentive personal assistant. Answer naturally and " +
		"concisely, using what you know about the user when it helps.",
	"professional": "You are a precise professional assistant. Keep answers structured, " +
		"factual, and free of filler.",
	"coach": "You are a supportive coach. Help the user reflect on their goals and " +
		"progress, ask clarifying questions, and encourage concrete next steps.",
	"analyst": "You are an analytical assistant. Break problems down, state assumptions " +
		"explicitly, and show your reasoning.",
}

// PromptService composes the final prompt string for a turn: mode persona,
// memory context, token-bounded history, and the current message.
type PromptService struct {
	counter *token.Counter
	cfg     config.Prompt
	log     *slog.Logger
}

// NewPromptService creates a PromptService.
func NewPromptService(counter *token.Counter, cfg config.Prompt, log *slog.Logger) *PromptService {
	if log == nil {
		log = slog.Default()
	}
	return &PromptService{counter: counter, cfg: cfg, log: log}
}

// Build assembles the prompt. Formatting failures in the memory or history
// blocks degrade that block to empty: the result always contains at least
// the system persona and the current message.
func (s *PromptService) Build(mode string, memories []memory.ScoredMemory, history []conversation.Message, current, userLabel string) string {
	historyBlock := s.safeBlock("history", func() string {
		return s.formatHistory(history, s.cfg.MaxHistoryTokens)
	})

	var b strings.Builder
	b.WriteString(s.SystemWithMemories(mode, memories, userLabel))
	if historyBlock != "" {
		b.WriteString("\n\nConversation so far:\n")
		b.WriteString(historyBlock)
	}
	b.WriteString("\n\nUser: ")
	b.WriteString(current)
	return b.String()
}

// SystemWithMemories returns the persona plus the memory block, without
// history or the current message. Agentic turns use this as the system
// message and carry history as structured messages instead.
func (s *PromptService) SystemWithMemories(mode string, memories []memory.ScoredMemory, userLabel string) string {
	memoryBlock := s.safeBlock("memory", func() string {
		return s.formatMemories(memories)
	})

	var b strings.Builder
	b.WriteString(s.SystemPrompt(mode))
	if memoryBlock != "" {
		b.WriteString("\n\nWhat you remember about ")
		if userLabel == "" {
			userLabel = "the user"
		}
		b.WriteString(userLabel)
		b.WriteString(":\n")
		b.WriteString(memoryBlock)
	}
	return b.String()
}

// SystemPrompt resolves the persona for a mode, falling back to the
// conversational default.
func (s *PromptService) SystemPrompt(mode string) string {
	if p, ok := systemPrompts[mode]; ok {
		return p
	}
	return systemPrompts[DefaultMode]
}

// formatMemories renders the top memories as short bullets, capped both in
// count and per-bullet length.
func (s *PromptService) formatMemories(memories []memory.ScoredMemory) string {
	if len(memories) == 0 {
		return ""
	}

	// Display order is (importance, recency), independent of retrieval score.
	display := make([]memory.ScoredMemory, len(memories))
	copy(display, memories)
	sort.SliceStable(display, func(i, j int) bool {
		if display[i].Importance != display[j].Importance {
			return display[i].Importance > display[j].Importance
		}
		return display[i].UpdatedAt.After(display[j].UpdatedAt)
	})

	limit := s.cfg.MemoryDisplayCap
	if limit <= 0 {
		limit = 8
	}
	if len(display) > limit {
		display = display[:limit]
	}

	var b strings.Builder
	for i := range display {
		text := display[i].Content
		if display[i].Title != "" {
			text = display[i].Title + ": " + text
		}
		if s.cfg.MemoryTruncChars > 0 && len(text) > s.cfg.MemoryTruncChars {
			text = text[:s.cfg.MemoryTruncChars] + "..."
		}
		fmt.Fprintf(&b, "- %s\n", text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatHistory walks messages newest-first, accumulating formatted lines
// under a running token budget, then re-reverses to chronological order.
// The most recent messages always survive; older ones are dropped first.
func (s *PromptService) formatHistory(history []conversation.Message, maxTokens int) string {
	if len(history) == 0 {
		return ""
	}

	var lines []string
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		line := formatHistoryLine(&history[i])
		cost := s.counter.Count(line)
		if used+cost > maxTokens {
			break
		}
		lines = append(lines, line)
		used += cost
	}

	// Reverse back to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func formatHistoryLine(m *conversation.Message) string {
	role := m.Role
	switch role {
	case "user":
		role = "User"
	case "assistant":
		role = "Assistant"
	default:
		role = strings.ToUpper(role[:1]) + role[1:]
	}
	return role + ": " + m.Content
}

// safeBlock runs a formatter and absorbs panics, degrading the block to
// empty so Build always returns a usable prompt.
func (s *PromptService) safeBlock(name string, fn func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("prompt block formatting failed", "block", name, "panic", r)
			out = ""
		}
	}()
	return fn()
}

// TruncateRequest shortens an original user request for use in rebuilt
// contexts, cutting at a character cap with ellipsis.
func (s *PromptService) TruncateRequest(text string) string {
	max := s.cfg.RequestTruncChars
	if max <= 0 || len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
