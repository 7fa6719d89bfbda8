package token

import (
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/model"
)

// Budget plans token spending for one model. All derived limits are
// computed at construction and immutable thereafter.
type Budget struct {
	counter *Counter

	// ContextLimit is the model's full context window.
	ContextLimit int
	// SafeContextLimit is the context window reduced by the safety margin,
	// absorbing tokenizer/API counting variance.
	SafeContextLimit int
	// MaxChunkTokens is the conservative per-chunk ceiling used when
	// deciding whether content must be chunked.
	MaxChunkTokens int
	// ModerateContentTokens is the threshold above which content is
	// summarized even though chunking is not yet required.
	ModerateContentTokens int

	minResponseTokens  int
	systemBufferTokens int
}

// NewBudget derives a Budget for modelID from its profile and the
// configured tunables.
func NewBudget(modelID string, profiles *model.Table, counter *Counter, cfg config.Budget) *Budget {
	profile := profiles.Lookup(modelID)

	safe := int(float64(profile.ContextWindow) * (1 - cfg.SafetyMargin))

	maxChunk := cfg.MaxChunkTokens
	if quarter := safe / 4; quarter < maxChunk {
		maxChunk = quarter
	}
	if cfg.ChunkCeiling > 0 && maxChunk > cfg.ChunkCeiling {
		maxChunk = cfg.ChunkCeiling
	}

	return &Budget{
		counter:               counter,
		ContextLimit:          profile.ContextWindow,
		SafeContextLimit:      safe,
		MaxChunkTokens:        maxChunk,
		ModerateContentTokens: cfg.ModerateTokens,
		minResponseTokens:     cfg.MinResponseTokens,
		systemBufferTokens:    cfg.SystemBufferTokens,
	}
}

// Available returns the tokens left for new content after reserving the
// system prompt, history, response minimum, and system buffer. When the
// reservation exhausts the window, a small emergency minimum is returned
// instead of zero or a negative number: callers must always get a workable
// budget, degrading to "something" rather than failing the turn outright.
func (b *Budget) Available(systemTokens, historyTokens int) int {
	available := b.SafeContextLimit - (systemTokens + historyTokens + b.minResponseTokens + b.systemBufferTokens)
	if available <= 0 {
		emergency := b.SafeContextLimit / 10
		if emergency > 5000 {
			emergency = 5000
		}
		if emergency < 1 {
			emergency = 1
		}
		return emergency
	}
	return available
}

// ShouldChunk reports whether content is too large to process whole: its
// token count exceeds either the currently available budget or the
// per-chunk ceiling.
func (b *Budget) ShouldChunk(content string, systemTokens, historyTokens int) bool {
	tokens := b.counter.Count(content)
	return tokens > b.Available(systemTokens, historyTokens) || tokens > b.MaxChunkTokens
}

// ShouldSummarizeModerate reports whether content is large enough to
// summarize even though it fits without chunking.
func (b *Budget) ShouldSummarizeModerate(content string) bool {
	return b.counter.Count(content) > b.ModerateContentTokens
}

// Counter returns the token counter this budget plans with.
func (b *Budget) Counter() *Counter {
	return b.counter
}
