package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/database"
	"github.com/evermind-ai/evermind/internal/port/embedding"
	"github.com/evermind-ai/evermind/internal/port/llm"
	"github.com/evermind-ai/evermind/internal/port/messagequeue"
)

// minExtractionConfidence discards candidates the model itself is unsure
// about.
const minExtractionConfidence = 0.5

// maxCandidatesPerExchange bounds how many memories a single exchange can
// produce.
const maxCandidatesPerExchange = 5

// jobTimeout bounds one background job, model call included.
const jobTimeout = 60 * time.Second

const extractionSystemPrompt = `You extract durable facts about the user from a conversation exchange. ` +
	`Return ONLY a JSON array (no prose, no markdown fences) of objects with keys: ` +
	`"content" (one self-contained sentence), ` +
	`"type" (one of: personal, preference, goal, insight, fact, context, relationship, event), ` +
	`"importance" (0.0-1.0, how much this matters long-term), ` +
	`"confidence" (0.0-1.0, how certain you are this is true). ` +
	`Extract only information worth remembering across conversations: identity, preferences, ` +
	`goals, relationships, recurring context. Ignore pleasantries, one-off details, and ` +
	`anything the assistant said that the user did not confirm. Return [] when nothing qualifies.`

// extractionCandidate is the model's output shape for one proposed memory.
type extractionCandidate struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Importance float64 `json:"importance"`
	Confidence float64 `json:"confidence"`
}

// ExtractionService turns completed exchanges into long-term memories in
// the background. It consumes extraction jobs from the queue so a slow or
// failing model call never delays a user-facing turn.
type ExtractionService struct {
	db       database.Store
	llm      llm.Client
	embedder embedding.Embedder
	cfg      config.LLM
	log      *slog.Logger
}

// NewExtractionService creates an ExtractionService.
func NewExtractionService(db database.Store, client llm.Client, embedder embedding.Embedder, cfg config.LLM, log *slog.Logger) *ExtractionService {
	if log == nil {
		log = slog.Default()
	}
	return &ExtractionService{db: db, llm: client, embedder: embedder, cfg: cfg, log: log}
}

// Start subscribes to the extraction subject. The returned cancel stops
// consumption.
func (s *ExtractionService) Start(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	return queue.Subscribe(ctx, messagequeue.SubjectMemoryExtract, func(ctx context.Context, _ string, data []byte) error {
		var job messagequeue.ExtractionJob
		if err := json.Unmarshal(data, &job); err != nil {
			// Malformed payloads would fail forever; log and acknowledge.
			s.log.Error("malformed extraction job", "error", err)
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		return s.HandleJob(ctx, job)
	})
}

// HandleJob extracts memories from one exchange and persists them. A
// returned error requeues the job.
func (s *ExtractionService) HandleJob(ctx context.Context, job messagequeue.ExtractionJob) error {
	candidates, err := s.proposeCandidates(ctx, job)
	if err != nil {
		return fmt.Errorf("propose candidates: %w", err)
	}

	saved := 0
	for _, c := range candidates {
		m, ok := s.toMemory(c, job)
		if !ok {
			continue
		}
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			// Store without embedding: the fallback recall path still
			// surfaces it, and a later re-embed can fill the gap.
			s.log.Warn("embed extracted memory failed, storing without embedding",
				"user_id", job.UserID, "error", err)
		} else {
			m.Embedding = vec
		}
		if err := s.db.CreateMemory(ctx, m); err != nil {
			return fmt.Errorf("persist extracted memory: %w", err)
		}
		saved++
	}

	if saved > 0 {
		s.log.Info("memories extracted",
			"user_id", job.UserID,
			"conversation_id", job.ConversationID,
			"count", saved,
		)
	}
	return nil
}

// proposeCandidates runs the low-temperature extraction call and parses
// its JSON output.
func (s *ExtractionService) proposeCandidates(ctx context.Context, job messagequeue.ExtractionJob) ([]extractionCandidate, error) {
	resp, err := s.llm.Complete(ctx, chat.CompletionRequest{
		Model:       s.model(),
		Temperature: s.cfg.ExtractionTemp,
		Messages: []chat.Message{
			chat.System(extractionSystemPrompt),
			chat.User(fmt.Sprintf("User: %s\n\nAssistant: %s", job.UserMessage, job.AssistantMessage)),
		},
	})
	if err != nil {
		return nil, err
	}

	var candidates []extractionCandidate
	if err := json.Unmarshal([]byte(stripJSONFences(resp.Text)), &candidates); err != nil {
		// The model ignored the format. Not retryable; drop the job.
		s.log.Warn("unparseable extraction output",
			"conversation_id", job.ConversationID, "error", err)
		return nil, nil
	}
	if len(candidates) > maxCandidatesPerExchange {
		candidates = candidates[:maxCandidatesPerExchange]
	}
	return candidates, nil
}

// toMemory validates and converts one candidate. ok is false when the
// candidate should be discarded.
func (s *ExtractionService) toMemory(c extractionCandidate, job messagequeue.ExtractionJob) (*memory.Memory, bool) {
	content := strings.TrimSpace(c.Content)
	if content == "" || c.Confidence < minExtractionConfidence {
		return nil, false
	}

	kind := memory.Kind(c.Type)
	if !slices.Contains(memory.ValidKinds, kind) {
		kind = memory.KindFact
	}

	return &memory.Memory{
		UserID:               job.UserID,
		Content:              content,
		Kind:                 kind,
		Importance:           clamp01(c.Importance),
		AutoExtracted:        true,
		ExtractionConfidence: clamp01(c.Confidence),
		SourceMessageID:      job.UserMessageID,
		SourceConversationID: job.ConversationID,
	}, true
}

func (s *ExtractionService) model() string {
	if s.cfg.SummaryModel != "" {
		return s.cfg.SummaryModel
	}
	return s.cfg.ChatModel
}

// stripJSONFences tolerates models that wrap JSON in markdown fences
// despite instructions.
func stripJSONFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
