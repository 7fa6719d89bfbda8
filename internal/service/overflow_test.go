package service_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/chat"
	"github.com/evermind-ai/evermind/internal/domain/model"
	"github.com/evermind-ai/evermind/internal/service"
	"github.com/evermind-ai/evermind/internal/token"
)

// byteCodec maps one byte to one token so token arithmetic in tests is
// exact and independent of BPE vocabulary data.
type byteCodec struct{}

func (byteCodec) Encode(text string) []int {
	tokens := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = int(text[i])
	}
	return tokens
}

func (byteCodec) Decode(tokens []int) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte(byte(t))
	}
	return b.String()
}

type fakeLLM struct {
	mu    sync.Mutex
	calls []chat.CompletionRequest
	reply func(req chat.CompletionRequest) (*chat.CompletionResponse, error)
}

func (f *fakeLLM) Complete(_ context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.reply(req)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newOverflow(modelID string, reply func(chat.CompletionRequest) (*chat.CompletionResponse, error)) (*service.OverflowService, *fakeLLM) {
	counter := token.NewCounterWithCodec(byteCodec{}, nil)
	budget := token.NewBudget(modelID, model.NewTable(), counter, config.Defaults().Budget)
	client := &fakeLLM{reply: reply}
	prompt := service.NewPromptService(counter, config.Defaults().Prompt, nil)
	svc := service.NewOverflowService(budget, client, modelID, 0.1, config.Defaults().Agent, prompt, nil)
	return svc, client
}

func echoReply(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	return &chat.CompletionResponse{Text: "summary"}, nil
}

func baseMessages() []chat.Message {
	return []chat.Message{
		chat.System("You are a helpful assistant."),
		chat.User("find the deployment error in the logs"),
	}
}

func TestClassify(t *testing.T) {
	svc, _ := newOverflow("gpt-4o", echoReply)

	cases := []struct {
		name    string
		content string
		want    service.OverflowPath
	}{
		{"small output passes through", strings.Repeat("a", 500), service.PathPassThrough},
		{"moderate output gets focused summary", strings.Repeat("a", 9_000), service.PathFocused},
		{"huge output gets chunked", strings.Repeat("a", 30_000), service.PathChunked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := svc.Classify(tc.content, 100, 200)
			if got != tc.want {
				t.Fatalf("Classify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProcessPassThrough(t *testing.T) {
	svc, client := newOverflow("gpt-4o", echoReply)
	msgs := baseMessages()
	toolMsg := chat.ToolResult("call_1", "ok: 3 files changed")

	out, path, err := svc.Process(context.Background(), msgs, toolMsg)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if path != service.PathPassThrough {
		t.Fatalf("path = %v, want pass_through", path)
	}
	if len(out) != len(msgs)+1 {
		t.Fatalf("got %d messages, want %d", len(out), len(msgs)+1)
	}
	if out[len(out)-1].Content != toolMsg.Content {
		t.Fatalf("tool message altered: %q", out[len(out)-1].Content)
	}
	if client.callCount() != 0 {
		t.Fatalf("pass-through made %d LLM calls, want 0", client.callCount())
	}
}

func TestProcessFocusedRebuild(t *testing.T) {
	svc, client := newOverflow("gpt-4o", func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{Text: "the deploy failed at step 4: missing env var DB_URL"}, nil
	})
	msgs := baseMessages()
	toolMsg := chat.ToolResult("call_1", strings.Repeat("log line\n", 1_200))

	out, path, err := svc.Process(context.Background(), msgs, toolMsg)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if path != service.PathFocused {
		t.Fatalf("path = %v, want focused", path)
	}
	if client.callCount() != 1 {
		t.Fatalf("focused path made %d LLM calls, want 1", client.callCount())
	}
	if len(out) != 3 {
		t.Fatalf("rebuilt context has %d messages, want 3", len(out))
	}
	if out[0].Role != "system" || out[1].Role != "user" || out[2].Role != "tool" {
		t.Fatalf("rebuilt roles = %s/%s/%s", out[0].Role, out[1].Role, out[2].Role)
	}
	if !strings.Contains(out[1].Content, "deployment error") {
		t.Fatalf("rebuilt user message lost the original request: %q", out[1].Content)
	}
	if !strings.Contains(out[2].Content, "DB_URL") {
		t.Fatalf("summary not carried into rebuilt context: %q", out[2].Content)
	}
	counter := token.NewCounterWithCodec(byteCodec{}, nil)
	budget := token.NewBudget("gpt-4o", model.NewTable(), counter, config.Defaults().Budget)
	if got := counter.CountMessages(out); got > budget.SafeContextLimit {
		t.Fatalf("rebuilt context is %d tokens, exceeds safe limit %d", got, budget.SafeContextLimit)
	}
}

var partRe = regexp.MustCompile(`part (\d+) of (\d+)`)

func chunkIndex(req chat.CompletionRequest) (int, int, bool) {
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		if g := partRe.FindStringSubmatch(m.Content); g != nil {
			idx, _ := strconv.Atoi(g[1])
			total, _ := strconv.Atoi(g[2])
			return idx, total, true
		}
	}
	return 0, 0, false
}

func TestRebuildHonorsRequestCharCap(t *testing.T) {
	counter := token.NewCounterWithCodec(byteCodec{}, nil)
	budget := token.NewBudget("gpt-4o", model.NewTable(), counter, config.Defaults().Budget)
	client := &fakeLLM{reply: echoReply}

	promptCfg := config.Defaults().Prompt
	promptCfg.RequestTruncChars = 10
	prompt := service.NewPromptService(counter, promptCfg, nil)
	svc := service.NewOverflowService(budget, client, "gpt-4o", 0.1, config.Defaults().Agent, prompt, nil)

	msgs := []chat.Message{
		chat.System("You are a helpful assistant."),
		chat.User(strings.Repeat("x", 600)),
	}
	toolMsg := chat.ToolResult("call_1", strings.Repeat("log line\n", 1_200))

	out, path, err := svc.Process(context.Background(), msgs, toolMsg)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if path != service.PathFocused {
		t.Fatalf("path = %v, want focused", path)
	}
	want := strings.Repeat("x", 10) + "..."
	if out[1].Content != want {
		t.Fatalf("rebuilt request = %q (%d chars), want capped %q", out[1].Content, len(out[1].Content), want)
	}
}

func TestChunkedRecombinationOrder(t *testing.T) {
	// gpt-3.5-turbo's 16385-token window forces multiple chunks. Later
	// chunks finish first; the combined summary must still be in chunk
	// index order.
	svc, client := newOverflow("gpt-3.5-turbo", func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		idx, total, ok := chunkIndex(req)
		if !ok {
			t.Errorf("chunk prompt missing part marker")
			return &chat.CompletionResponse{Text: "?"}, nil
		}
		time.Sleep(time.Duration(total-idx) * 20 * time.Millisecond)
		return &chat.CompletionResponse{Text: fmt.Sprintf("S%d", idx)}, nil
	})
	msgs := baseMessages()
	toolMsg := chat.ToolResult("call_1", strings.Repeat("x", 40_000))

	out, path, err := svc.Process(context.Background(), msgs, toolMsg)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if path != service.PathChunked {
		t.Fatalf("path = %v, want chunked", path)
	}
	n := client.callCount()
	if n < 2 {
		t.Fatalf("expected multiple chunk calls, got %d", n)
	}
	var want []string
	for i := 1; i <= n; i++ {
		want = append(want, fmt.Sprintf("S%d", i))
	}
	if got := out[2].Content; got != strings.Join(want, "\n\n") {
		t.Fatalf("summaries out of order: %q", got)
	}
}

func TestChunkFailurePlaceholder(t *testing.T) {
	svc, _ := newOverflow("gpt-3.5-turbo", func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		idx, _, _ := chunkIndex(req)
		if idx == 2 {
			return nil, errors.New("upstream timeout")
		}
		return &chat.CompletionResponse{Text: fmt.Sprintf("S%d", idx)}, nil
	})
	msgs := baseMessages()
	toolMsg := chat.ToolResult("call_1", strings.Repeat("x", 40_000))

	out, _, err := svc.Process(context.Background(), msgs, toolMsg)
	if err != nil {
		t.Fatalf("partial chunk failure must not fail the turn: %v", err)
	}
	got := out[2].Content
	if !strings.Contains(got, "[Error processing this chunk]") {
		t.Fatalf("failed chunk not replaced with placeholder: %q", got)
	}
	if !strings.Contains(got, "S1") || !strings.Contains(got, "S3") {
		t.Fatalf("surviving chunk summaries missing: %q", got)
	}
}

func TestSafetyValveTruncatesOversizedSummary(t *testing.T) {
	// A summarizer that returns more than the model's window forces the
	// final truncation valve.
	svc, _ := newOverflow("gpt-3.5-turbo", func(req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{Text: strings.Repeat("y", 30_000)}, nil
	})
	msgs := baseMessages()
	toolMsg := chat.ToolResult("call_1", strings.Repeat("x", 9_000))

	out, _, err := svc.Process(context.Background(), msgs, toolMsg)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if !strings.Contains(out[2].Content, "[Summary truncated") {
		t.Fatal("oversized summary not truncated")
	}
	counter := token.NewCounterWithCodec(byteCodec{}, nil)
	budget := token.NewBudget("gpt-3.5-turbo", model.NewTable(), counter, config.Defaults().Budget)
	if got := counter.CountMessages(out); got > budget.SafeContextLimit {
		t.Fatalf("rebuilt context is %d tokens, exceeds safe limit %d", got, budget.SafeContextLimit)
	}
}
