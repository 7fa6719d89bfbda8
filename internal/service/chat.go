package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/adapter/otel"
	"github.com/evermind-ai/evermind/internal/adapter/ws"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/domain/conversation"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/broadcast"
	"github.com/evermind-ai/evermind/internal/port/database"
	"github.com/evermind-ai/evermind/internal/port/llm"
	"github.com/evermind-ai/evermind/internal/port/messagequeue"
	"github.com/evermind-ai/evermind/internal/port/tool"
	"github.com/evermind-ai/evermind/internal/token"
)

// User-visible apologies for turns that could not complete. Stored as the
// assistant message so the conversation remains coherent.
const (
	apologyBudget = "I'm sorry, the request could not be completed because the " +
		"model's usage budget is exhausted. Please try again later."
	apologyModelUnavailable = "I'm sorry, the configured model is currently " +
		"unavailable. Please try again or switch models."
	apologyGeneric = "I'm sorry, something went wrong while generating a response. " +
		"Please try again."
)

// historyFetchLimit bounds how many persisted messages a turn loads; the
// prompt assembler trims further by tokens.
const historyFetchLimit = 50

// RunnerFactory builds a user-scoped tool runner for one agentic turn.
type RunnerFactory func(userID string) tool.Runner

// ChatService orchestrates a conversation turn end to end: persistence,
// memory recall, prompt assembly, the model call (plain or agentic), and
// the background jobs the turn leaves behind.
type ChatService struct {
	db      database.Store
	llm     llm.Client
	recall  *RecallService
	prompt  *PromptService
	agent   *AgentService
	counter *token.Counter
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	runners RunnerFactory
	metrics *otel.Metrics
	cfg     config.Config
	log     *slog.Logger
}

// NewChatService creates a ChatService. queue, hub, runners, and metrics
// are optional; absent collaborators disable the corresponding side
// effects (and an absent runner factory disables agentic turns).
func NewChatService(
	db database.Store,
	client llm.Client,
	recall *RecallService,
	prompt *PromptService,
	agent *AgentService,
	counter *token.Counter,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	runners RunnerFactory,
	metrics *otel.Metrics,
	cfg config.Config,
	log *slog.Logger,
) *ChatService {
	if log == nil {
		log = slog.Default()
	}
	return &ChatService{
		db:      db,
		llm:     client,
		recall:  recall,
		prompt:  prompt,
		agent:   agent,
		counter: counter,
		queue:   queue,
		hub:     hub,
		runners: runners,
		metrics: metrics,
		cfg:     cfg,
		log:     log,
	}
}

// CreateConversation starts a new thread for a user.
func (s *ChatService) CreateConversation(ctx context.Context, req conversation.CreateRequest) (*conversation.Conversation, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	conv := &conversation.Conversation{
		UserID: req.UserID,
		Title:  req.Title,
		Mode:   req.Mode,
	}
	if conv.Title == "" {
		conv.Title = conversation.DefaultTitle
	}
	if conv.Mode == "" {
		conv.Mode = DefaultMode
	}
	return s.db.CreateConversation(ctx, conv)
}

// GetConversation returns one conversation by id.
func (s *ChatService) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.db.GetConversation(ctx, id)
}

// ListConversations returns a user's conversations, most recent first.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	return s.db.ListConversations(ctx, userID)
}

// DeleteConversation removes a conversation and its messages.
func (s *ChatService) DeleteConversation(ctx context.Context, id string) error {
	return s.db.DeleteConversation(ctx, id)
}

// ListMessages returns a conversation's messages in chronological order.
func (s *ChatService) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	if _, err := s.db.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.db.ListMessages(ctx, conversationID)
}

// ProcessTurn handles one user message: persists it, recalls memories,
// assembles the prompt, calls the model (via the agent loop when
// requested), persists and returns the assistant's reply.
//
// Model failures still produce a persisted assistant message carrying a
// typed apology, so clients always get a readable turn outcome.
func (s *ChatService) ProcessTurn(ctx context.Context, conversationID string, req conversation.SendMessageRequest) (*conversation.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: message content is required", domain.ErrValidation)
	}

	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := otel.StartTurnSpan(ctx, conv.ID, conv.UserID)
	defer span.End()
	if s.metrics != nil {
		s.metrics.TurnsStarted.Add(ctx, 1)
	}

	userMsg, err := s.db.CreateMessage(ctx, &conversation.Message{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        req.Content,
		TokensIn:       s.counter.Count(req.Content),
	})
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	s.broadcast(ctx, ws.EventTurnStarted, ws.TurnStartedEvent{
		ConversationID: conv.ID,
		MessageID:      userMsg.ID,
	})

	memories := s.recallMemories(ctx, conv, req.Content)
	s.broadcast(ctx, ws.EventMemoryRecalled, ws.MemoryRecalledEvent{
		ConversationID: conv.ID,
		Count:          len(memories),
	})

	history, err := s.db.ListRecentMessages(ctx, conv.ID, historyFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	// The user message was just persisted; keep it out of the history block.
	history = dropMessage(history, userMsg.ID)

	text, usage, genErr := s.generate(ctx, conv, memories, history, req)

	assistantMsg := &conversation.Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        text,
		TokensIn:       usage.PromptTokens,
		TokensOut:      usage.CompletionTokens,
		Model:          s.cfg.LLM.ChatModel,
	}
	assistantMsg, err = s.db.CreateMessage(ctx, assistantMsg)
	if err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	if genErr != nil {
		s.recordFailure(ctx, conv.ID, genErr)
		// The apology is persisted and returned; the typed error travels
		// with it so transports can set a meaningful status.
		return assistantMsg, genErr
	}

	s.recordSuccess(ctx, conv.ID, assistantMsg, usage, time.Since(start))
	s.enqueueBackground(conv, userMsg, assistantMsg)
	return assistantMsg, nil
}

// generate runs the model call for a turn and maps typed failures to the
// apology text persisted in place of a real answer.
func (s *ChatService) generate(ctx context.Context, conv *conversation.Conversation, memories []memory.ScoredMemory, history []conversation.Message, req conversation.SendMessageRequest) (string, chat.Usage, error) {
	agentic := req.Agentic != nil && *req.Agentic && s.agent != nil && s.runners != nil

	if agentic {
		system := s.prompt.SystemWithMemories(conv.Mode, memories, "the user")
		onStep := func(step int, toolName string, summarized bool) {
			s.broadcast(ctx, ws.EventAgentStep, ws.AgentStepEvent{
				ConversationID: conv.ID,
				Step:           step,
				Tool:           toolName,
				Summarized:     summarized,
			})
		}
		res, err := s.agent.Run(ctx, system, toChatHistory(history), req.Content, s.runners(conv.UserID), onStep)
		if err != nil {
			return apologyFor(err), chat.Usage{}, err
		}
		return res.Text, res.Usage, nil
	}

	built := s.prompt.Build(conv.Mode, memories, history, req.Content, "the user")
	resp, err := s.llm.Complete(ctx, chat.CompletionRequest{
		Model:       s.cfg.LLM.ChatModel,
		Temperature: s.cfg.LLM.ChatTemp,
		Messages:    []chat.Message{chat.User(built)},
	})
	if err != nil {
		return apologyFor(err), chat.Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// recallMemories combines query-ranked and conversation-scoped memories.
// Recall failure degrades the turn to no memory context, never fails it.
func (s *ChatService) recallMemories(ctx context.Context, conv *conversation.Conversation, query string) []memory.ScoredMemory {
	if s.recall == nil {
		return nil
	}
	ctx, span := otel.StartRecallSpan(ctx, conv.UserID)
	defer span.End()
	start := time.Now()

	ranked, err := s.recall.Rank(ctx, conv.UserID, query, s.cfg.Recall.Limit)
	if err != nil {
		s.log.Warn("memory recall failed, continuing without memories",
			"conversation_id", conv.ID, "error", err)
	}
	scoped, err := s.recall.ConversationScoped(ctx, conv.UserID, conv.ID, s.cfg.Recall.ConversationTop)
	if err != nil {
		s.log.Warn("conversation-scoped recall failed",
			"conversation_id", conv.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.RecallDuration.Record(ctx, time.Since(start).Seconds())
	}
	return Combine(ranked, scoped)
}

func (s *ChatService) recordSuccess(ctx context.Context, conversationID string, msg *conversation.Message, usage chat.Usage, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.TurnsCompleted.Add(ctx, 1)
		s.metrics.TokensIn.Add(ctx, int64(usage.PromptTokens))
		s.metrics.TokensOut.Add(ctx, int64(usage.CompletionTokens))
		s.metrics.TurnDuration.Record(ctx, elapsed.Seconds())
	}
	s.broadcast(ctx, ws.EventTurnCompleted, ws.TurnCompletedEvent{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		TokensIn:       usage.PromptTokens,
		TokensOut:      usage.CompletionTokens,
	})
}

func (s *ChatService) recordFailure(ctx context.Context, conversationID string, err error) {
	if s.metrics != nil {
		s.metrics.TurnsFailed.Add(ctx, 1)
	}
	s.broadcast(ctx, ws.EventTurnFailed, ws.TurnFailedEvent{
		ConversationID: conversationID,
		Reason:         failureReason(err),
	})
	s.log.Error("turn failed", "conversation_id", conversationID, "error", err)
}

// enqueueBackground publishes the extraction job for the completed
// exchange and, once the thread has enough messages, the auto-title job.
// Publish failures are logged; the turn already succeeded.
func (s *ChatService) enqueueBackground(conv *conversation.Conversation, userMsg, assistantMsg *conversation.Message) {
	if s.queue == nil {
		return
	}
	// Detached from the request context: the turn is done, these jobs
	// outlive it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.publishJSON(ctx, messagequeue.SubjectMemoryExtract, messagequeue.ExtractionJob{
		UserID:           conv.UserID,
		ConversationID:   conv.ID,
		UserMessageID:    userMsg.ID,
		UserMessage:      userMsg.Content,
		AssistantMessage: assistantMsg.Content,
	})

	if conv.Title != conversation.DefaultTitle {
		return
	}
	count, err := s.db.CountMessages(ctx, conv.ID)
	if err != nil {
		s.log.Warn("count messages for auto-title", "conversation_id", conv.ID, "error", err)
		return
	}
	if count >= s.cfg.Agent.TitleMinMessages {
		s.publishJSON(ctx, messagequeue.SubjectConversationTitle, messagequeue.TitleJob{
			ConversationID: conv.ID,
		})
	}
}

func (s *ChatService) publishJSON(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.log.Warn("publish background job", "subject", subject, "error", err)
	}
}

func (s *ChatService) broadcast(ctx context.Context, eventType string, payload any) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, eventType, payload)
	}
}

// apologyFor maps a model failure to the user-visible apology persisted as
// the assistant message.
func apologyFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrBudgetExceeded):
		return apologyBudget
	case errors.Is(err, domain.ErrModelUnavailable):
		return apologyModelUnavailable
	default:
		return apologyGeneric
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrBudgetExceeded):
		return "budget"
	case errors.Is(err, domain.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "error"
	}
}

// toChatHistory converts persisted messages into the agent loop's working
// representation.
func toChatHistory(history []conversation.Message) []chat.Message {
	out := make([]chat.Message, 0, len(history))
	for i := range history {
		switch history[i].Role {
		case "user":
			out = append(out, chat.User(history[i].Content))
		case "assistant":
			out = append(out, chat.Assistant(history[i].Content))
		}
	}
	return out
}

func dropMessage(msgs []conversation.Message, id string) []conversation.Message {
	out := msgs[:0]
	for i := range msgs {
		if msgs[i].ID != id {
			out = append(out, msgs[i])
		}
	}
	return out
}
