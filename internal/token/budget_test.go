package token_test

import (
	"strings"
	"testing"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/model"
	"github.com/evermind-ai/evermind/internal/token"
)

func newTestBudget(t *testing.T, modelID string) *token.Budget {
	t.Helper()
	return token.NewBudget(modelID, model.NewTable(), newFallbackCounter(), config.Defaults().Budget)
}

func TestBudgetUnknownModelDefaults(t *testing.T) {
	b := newTestBudget(t, "some-model-nobody-has-heard-of")

	if b.ContextLimit != 128000 {
		t.Fatalf("ContextLimit = %d, want 128000", b.ContextLimit)
	}
	if b.SafeContextLimit != 115200 {
		t.Fatalf("SafeContextLimit = %d, want 115200", b.SafeContextLimit)
	}
	// min(75000, 115200/4) then capped at the absolute ceiling.
	if b.MaxChunkTokens != 20000 {
		t.Fatalf("MaxChunkTokens = %d, want 20000", b.MaxChunkTokens)
	}
}

func TestBudgetSmallWindow(t *testing.T) {
	b := newTestBudget(t, "gpt-3.5-turbo")

	if b.ContextLimit != 16385 {
		t.Fatalf("ContextLimit = %d, want 16385", b.ContextLimit)
	}
	// safe/4 undercuts both the configured max and the ceiling.
	if want := b.SafeContextLimit / 4; b.MaxChunkTokens != want {
		t.Fatalf("MaxChunkTokens = %d, want %d", b.MaxChunkTokens, want)
	}
}

func TestAvailableAlwaysPositive(t *testing.T) {
	b := newTestBudget(t, "gpt-4o")

	cases := []struct{ system, history int }{
		{0, 0},
		{1000, 5000},
		{50000, 60000},
		{115200, 0},
		{1000000, 1000000}, // grossly oversubscribed
	}
	for _, tc := range cases {
		if got := b.Available(tc.system, tc.history); got <= 0 {
			t.Errorf("Available(%d, %d) = %d, want > 0", tc.system, tc.history, got)
		}
	}
}

func TestAvailableEmergencyFloor(t *testing.T) {
	b := newTestBudget(t, "gpt-4o")

	// History alone fills the window: expect min(5000, safe/10).
	got := b.Available(0, b.SafeContextLimit)
	if got != 5000 {
		t.Fatalf("emergency Available = %d, want 5000", got)
	}
}

func TestAvailableReserves(t *testing.T) {
	b := newTestBudget(t, "gpt-4o")

	// safe - (system + history + 2000 response + 1000 buffer)
	got := b.Available(1500, 2500)
	want := b.SafeContextLimit - (1500 + 2500 + 2000 + 1000)
	if got != want {
		t.Fatalf("Available = %d, want %d", got, want)
	}
}

func TestShouldChunk(t *testing.T) {
	b := newTestBudget(t, "gpt-4o")

	// ~75,000 tokens under the fallback len/4 heuristic.
	huge := strings.Repeat("x", 300000)
	if !b.ShouldChunk(huge, 500, 1000) {
		t.Fatal("expected ShouldChunk for 75k-token content")
	}

	small := strings.Repeat("x", 4000) // ~1,000 tokens
	if b.ShouldChunk(small, 500, 1000) {
		t.Fatal("did not expect ShouldChunk for 1k-token content")
	}
}

func TestShouldSummarizeModerate(t *testing.T) {
	b := newTestBudget(t, "gpt-4o")

	moderate := strings.Repeat("x", 36000) // ~9,000 tokens
	if !b.ShouldSummarizeModerate(moderate) {
		t.Fatal("expected moderate summarization above 8000 tokens")
	}

	small := strings.Repeat("x", 16000) // ~4,000 tokens
	if b.ShouldSummarizeModerate(small) {
		t.Fatal("did not expect moderate summarization below threshold")
	}
}
