package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/messagequeue"
	"github.com/evermind-ai/evermind/internal/service"
)

func extractionJob() messagequeue.ExtractionJob {
	return messagequeue.ExtractionJob{
		UserID:           "u1",
		ConversationID:   "c1",
		UserMessageID:    "m1",
		UserMessage:      "I just started training for a marathon in April",
		AssistantMessage: "That's exciting! How is the training going?",
	}
}

func newExtraction(store *fakeStore, reply func(chat.CompletionRequest) (*chat.CompletionResponse, error)) *service.ExtractionService {
	client := &fakeLLM{reply: reply}
	return service.NewExtractionService(store, client, &fakeEmbedder{fallbackVec: []float32{1, 0, 0}}, config.Defaults().LLM, nil)
}

func TestExtractionSavesValidCandidates(t *testing.T) {
	store := newFakeStore()
	svc := newExtraction(store, func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{Text: `[
			{"content": "Is training for a marathon in April", "type": "goal", "importance": 0.8, "confidence": 0.9},
			{"content": "Too uncertain", "type": "fact", "importance": 0.5, "confidence": 0.2},
			{"content": "Weird kind gets defaulted", "type": "banana", "importance": 1.4, "confidence": 0.8}
		]`}, nil
	})

	if err := svc.HandleJob(context.Background(), extractionJob()); err != nil {
		t.Fatalf("HandleJob() error: %v", err)
	}

	mems, err := store.ListMemories(context.Background(), "u1", memory.Filter{})
	if err != nil {
		t.Fatalf("list memories: %v", err)
	}
	if len(mems) != 2 {
		t.Fatalf("saved %d memories, want 2 (low-confidence candidate dropped)", len(mems))
	}
	for _, m := range mems {
		if !m.AutoExtracted {
			t.Fatalf("memory not flagged auto-extracted: %+v", m)
		}
		if m.SourceConversationID != "c1" || m.SourceMessageID != "m1" {
			t.Fatalf("source back-refs missing: %+v", m)
		}
		if m.Importance < 0 || m.Importance > 1 {
			t.Fatalf("importance not clamped: %f", m.Importance)
		}
		if len(m.Embedding) == 0 {
			t.Fatalf("extracted memory not embedded: %+v", m)
		}
	}

	byContent := make(map[string]memory.Memory)
	for _, m := range mems {
		byContent[m.Content] = m
	}
	if m := byContent["Weird kind gets defaulted"]; m.Kind != memory.KindFact {
		t.Fatalf("invalid kind not defaulted to fact: %q", m.Kind)
	}
	if m := byContent["Is training for a marathon in April"]; m.Kind != memory.KindGoal {
		t.Fatalf("kind lost: %q", m.Kind)
	}
}

func TestExtractionToleratesMarkdownFences(t *testing.T) {
	store := newFakeStore()
	svc := newExtraction(store, func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{Text: "```json\n[{\"content\": \"Lives in Lisbon\", \"type\": \"personal\", \"importance\": 0.7, \"confidence\": 0.9}]\n```"}, nil
	})

	if err := svc.HandleJob(context.Background(), extractionJob()); err != nil {
		t.Fatalf("HandleJob() error: %v", err)
	}
	mems, _ := store.ListMemories(context.Background(), "u1", memory.Filter{})
	if len(mems) != 1 || mems[0].Content != "Lives in Lisbon" {
		t.Fatalf("fenced JSON not parsed: %+v", mems)
	}
}

func TestExtractionDropsUnparseableOutput(t *testing.T) {
	store := newFakeStore()
	svc := newExtraction(store, func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{Text: "Sure! Here are the facts I found:"}, nil
	})

	// Prose instead of JSON is not retryable; the job must ack cleanly.
	if err := svc.HandleJob(context.Background(), extractionJob()); err != nil {
		t.Fatalf("unparseable output must not requeue: %v", err)
	}
	mems, _ := store.ListMemories(context.Background(), "u1", memory.Filter{})
	if len(mems) != 0 {
		t.Fatalf("memories saved from prose: %+v", mems)
	}
}

func TestExtractionRequeuesOnModelError(t *testing.T) {
	svc := newExtraction(newFakeStore(), func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return nil, errors.New("upstream unavailable")
	})
	if err := svc.HandleJob(context.Background(), extractionJob()); err == nil {
		t.Fatal("model failure must propagate so the job is retried")
	}
}

func TestExtractionStoresWithoutEmbeddingOnEmbedFailure(t *testing.T) {
	store := newFakeStore()
	client := &fakeLLM{reply: func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{Text: `[{"content": "Has a dog named Rex", "type": "personal", "importance": 0.6, "confidence": 0.9}]`}, nil
	}}
	svc := service.NewExtractionService(store, client,
		&fakeEmbedder{failErr: errors.New("embeddings down")}, config.Defaults().LLM, nil)

	if err := svc.HandleJob(context.Background(), extractionJob()); err != nil {
		t.Fatalf("HandleJob() error: %v", err)
	}
	mems, _ := store.ListMemories(context.Background(), "u1", memory.Filter{})
	if len(mems) != 1 {
		t.Fatalf("memory lost on embed failure: %+v", mems)
	}
	if len(mems[0].Embedding) != 0 {
		t.Fatal("embedding present despite failing embedder")
	}
}
