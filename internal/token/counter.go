// Package token provides exact token counting and the per-model context
// budget planner that everything above it relies on.
package token

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/domain/model"
)

// messageOverheadTokens approximates the protocol framing cost per chat
// message (role markers, separators). Empirically ~4 tokens.
const messageOverheadTokens = 4

// fallbackCharsPerToken is the character heuristic used when no tokenizer
// is available: roughly 4 characters per token for English text.
const fallbackCharsPerToken = 4

// Codec is the minimal tokenizer surface the counter needs. Satisfied by
// tiktoken; tests substitute deterministic implementations.
type Codec interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenCodec struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCodec) Encode(text string) []int {
	return c.enc.Encode(text, nil, nil)
}

func (c tiktokenCodec) Decode(tokens []int) string {
	return c.enc.Decode(tokens)
}

// Counter counts, truncates, and slices text in token units for one model.
// All operations degrade to character heuristics on tokenizer failure and
// never return an error: downstream budget checks must always get a number.
type Counter struct {
	codec Codec
	log   *slog.Logger
}

// NewCounter builds a Counter for the given model id. If the model's
// encoding cannot be resolved, the default encoding is used; if no encoding
// loads at all, the counter operates purely on the character heuristic.
func NewCounter(modelID string, profiles *model.Table, log *slog.Logger) *Counter {
	if log == nil {
		log = slog.Default()
	}

	profile := profiles.Lookup(modelID)
	enc, err := tiktoken.EncodingForModel(profile.Encoding)
	if err != nil {
		log.Warn("tokenizer unavailable for model, using default encoding",
			"model", modelID, "encoding", profile.Encoding, "error", err)
		enc, err = tiktoken.EncodingForModel(model.DefaultEncoding)
	}
	if err != nil {
		log.Warn("default tokenizer unavailable, falling back to character heuristic",
			"model", modelID, "error", err)
		return &Counter{log: log}
	}

	return &Counter{codec: tiktokenCodec{enc: enc}, log: log}
}

// NewCounterWithCodec builds a Counter around an explicit codec. A nil
// codec yields the pure character-heuristic counter.
func NewCounterWithCodec(codec Codec, log *slog.Logger) *Counter {
	if log == nil {
		log = slog.Default()
	}
	return &Counter{codec: codec, log: log}
}

// Count returns the exact token count of text, or len(text)/4 when no
// tokenizer is available. Empty text is 0 tokens.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.codec == nil {
		return len(text) / fallbackCharsPerToken
	}
	return len(c.codec.Encode(text))
}

// CountMessages sums per-message content token counts plus a fixed
// structural overhead per message.
func (c *Counter) CountMessages(msgs []chat.Message) int {
	total := 0
	for i := range msgs {
		total += c.Count(msgs[i].Content) + messageOverheadTokens
	}
	return total
}

// Truncate returns text cut to at most maxTokens tokens. Text already
// within budget is returned unchanged. The cut is token-exact, not a
// character heuristic, because downstream budget checks assume exactness.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if text == "" || maxTokens <= 0 {
		return ""
	}
	if c.codec == nil {
		limit := maxTokens * fallbackCharsPerToken
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}

	tokens := c.codec.Encode(text)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.codec.Decode(tokens[:maxTokens])
}

// TokenToChar converts a token offset into a character (byte) offset by
// decoding the token prefix. Used to slice text into chunks at token-exact
// boundaries. Falls back to position*4 when no tokenizer is available.
func (c *Counter) TokenToChar(text string, tokenPos int) int {
	if tokenPos <= 0 {
		return 0
	}
	if c.codec == nil {
		pos := tokenPos * fallbackCharsPerToken
		if pos > len(text) {
			return len(text)
		}
		return pos
	}

	tokens := c.codec.Encode(text)
	if tokenPos >= len(tokens) {
		return len(text)
	}
	return len(c.codec.Decode(tokens[:tokenPos]))
}
