package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/evermind-ai/evermind/internal/adapter/ws"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/domain/conversation"
	"github.com/evermind-ai/evermind/internal/port/broadcast"
	"github.com/evermind-ai/evermind/internal/port/database"
	"github.com/evermind-ai/evermind/internal/port/llm"
	"github.com/evermind-ai/evermind/internal/port/messagequeue"
)

// titleSampleMessages is how many recent messages the titling prompt sees.
const titleSampleMessages = 6

const titleSystemPrompt = `You name conversations. Given a transcript excerpt, reply with a short ` +
	`descriptive title only: no quotes, no trailing punctuation, at most 8 words.`

// TitleService renames conversations in the background once they have
// enough content to name.
type TitleService struct {
	db  database.Store
	llm llm.Client
	hub broadcast.Broadcaster
	cfg config.Config
	log *slog.Logger
}

// NewTitleService creates a TitleService. hub is optional.
func NewTitleService(db database.Store, client llm.Client, hub broadcast.Broadcaster, cfg config.Config, log *slog.Logger) *TitleService {
	if log == nil {
		log = slog.Default()
	}
	return &TitleService{db: db, llm: client, hub: hub, cfg: cfg, log: log}
}

// Start subscribes to the titling subject. The returned cancel stops
// consumption.
func (s *TitleService) Start(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	return queue.Subscribe(ctx, messagequeue.SubjectConversationTitle, func(ctx context.Context, _ string, data []byte) error {
		var job messagequeue.TitleJob
		if err := json.Unmarshal(data, &job); err != nil {
			s.log.Error("malformed title job", "error", err)
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		return s.HandleJob(ctx, job)
	})
}

// HandleJob titles one conversation. Already-titled conversations and
// threads still below the message threshold are skipped silently, so
// duplicate or early jobs are harmless.
func (s *TitleService) HandleJob(ctx context.Context, job messagequeue.TitleJob) error {
	conv, err := s.db.GetConversation(ctx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.Title != conversation.DefaultTitle {
		return nil
	}
	count, err := s.db.CountMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count < s.cfg.Agent.TitleMinMessages {
		return nil
	}

	msgs, err := s.db.ListRecentMessages(ctx, conv.ID, titleSampleMessages)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	title, err := s.generateTitle(ctx, msgs)
	if err != nil {
		return fmt.Errorf("generate title: %w", err)
	}
	if title == "" {
		return nil
	}

	if err := s.db.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventTitleUpdated, ws.TitleUpdatedEvent{
			ConversationID: conv.ID,
			Title:          title,
		})
	}
	s.log.Info("conversation titled", "conversation_id", conv.ID, "title", title)
	return nil
}

func (s *TitleService) generateTitle(ctx context.Context, msgs []conversation.Message) (string, error) {
	var b strings.Builder
	for i := range msgs {
		if msgs[i].Role != "user" && msgs[i].Role != "assistant" {
			continue
		}
		label := "User"
		if msgs[i].Role == "assistant" {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, excerpt(msgs[i].Content, 400))
	}

	resp, err := s.llm.Complete(ctx, chat.CompletionRequest{
		Model:       s.cfg.LLM.ChatModel,
		Temperature: s.cfg.LLM.SummaryTemp,
		Messages: []chat.Message{
			chat.System(titleSystemPrompt),
			chat.User(b.String()),
		},
	})
	if err != nil {
		return "", err
	}
	return sanitizeTitle(resp.Text, s.cfg.Agent.TitleMaxWords, s.cfg.Agent.TitleMaxChars), nil
}

// sanitizeTitle enforces the word and character caps regardless of what
// the model returned.
func sanitizeTitle(raw string, maxWords, maxChars int) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.TrimRight(title, ".!?")
	if title == "" {
		return ""
	}
	if words := strings.Fields(title); maxWords > 0 && len(words) > maxWords {
		title = strings.Join(words[:maxWords], " ")
	}
	if maxChars > 0 && len(title) > maxChars {
		title = strings.TrimSpace(title[:maxChars])
	}
	return title
}

func excerpt(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "..."
}
