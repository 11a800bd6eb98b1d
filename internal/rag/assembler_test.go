package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

func testAssemblyConfig() config.AssemblyConfig {
	return config.AssemblyConfig{MaxItemsPerSection: 3, MaxItemLength: 240}
}

func newTestAssembler(t *testing.T, records []*interfaces.MemoryRecord) (*ContextAssembler, *fakeProvider) {
	t.Helper()
	provider := newFakeProvider("primary")
	cache := NewEmbeddingCache(providerList(provider), testCacheConfig(), testLogger())
	index := NewMemoryIndex()
	if err := index.WriteBatch(context.Background(), records); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	store := NewMemoryStore(index, testLogger())
	engine := NewSemanticSearchEngine(cache, store, testSearchConfig(), testLogger())
	return NewContextAssembler(engine, provider, testAssemblyConfig(), testLogger()), provider
}

func TestAssembleRequiresPrompt(t *testing.T) {
	assembler, _ := newTestAssembler(t, nil)
	_, err := assembler.Assemble(context.Background(), "  ", interfaces.MemoryContext{CampaignID: "c1"}, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAssembleZeroResultsPassesPromptThrough(t *testing.T) {
	assembler, _ := newTestAssembler(t, nil)

	prompt := "What should I do about the vega situation?"
	assembled, err := assembler.Assemble(context.Background(), prompt, interfaces.MemoryContext{CampaignID: "c1"}, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if assembled.EnhancedPrompt != prompt {
		t.Fatalf("prompt changed with zero results:\n%s", assembled.EnhancedPrompt)
	}
	if assembled.ResultCount != 0 {
		t.Fatalf("result count = %d, want 0", assembled.ResultCount)
	}
	if assembled.EstimatedPromptTokens != len(prompt)/4 {
		t.Fatalf("token estimate = %d, want %d", assembled.EstimatedPromptTokens, len(prompt)/4)
	}
}

func TestAssembleRendersSections(t *testing.T) {
	records := []*interfaces.MemoryRecord{
		memRecord("m1", "conv-old", "Platinum mining rights secured on Kepler-442.", func(r *interfaces.MemoryRecord) {
			r.ActionType = "trade"
			r.Entities = []string{"kepler_442"}
		}),
		memRecord("m2", "conv-old2", "Platinum mining convoy raided by pirates.", func(r *interfaces.MemoryRecord) {
			r.ActionType = "combat"
		}),
	}
	assembler, _ := newTestAssembler(t, records)

	assembled, err := assembler.Assemble(context.Background(), "platinum mining update",
		interfaces.MemoryContext{CampaignID: "campaign-1"},
		&AssembleOptions{IncludeEntities: true})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	out := assembled.EnhancedPrompt
	for _, want := range []string{
		"## Relevant history",
		"### Trade",
		"### Combat",
		"[kepler_442]",
		"Current request: platinum mining update",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("enhanced prompt missing %q:\n%s", want, out)
		}
	}
	if assembled.ResultCount != 2 {
		t.Fatalf("result count = %d, want 2", assembled.ResultCount)
	}
	if assembled.EstimatedPromptTokens != len(out)/4 {
		t.Fatalf("token estimate = %d, want %d", assembled.EstimatedPromptTokens, len(out)/4)
	}
}

func TestAssembleExcludesCurrentConversation(t *testing.T) {
	records := []*interfaces.MemoryRecord{
		memRecord("m1", "conv-current", "Platinum mining chatter in this conversation."),
		memRecord("m2", "conv-older", "Platinum mining history from last week."),
	}
	assembler, _ := newTestAssembler(t, records)

	assembled, err := assembler.Assemble(context.Background(), "platinum mining status",
		interfaces.MemoryContext{CampaignID: "campaign-1", ConversationID: "conv-current"}, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if strings.Contains(assembled.EnhancedPrompt, "chatter in this conversation") {
		t.Fatal("current conversation leaked into assembled context")
	}
	if !strings.Contains(assembled.EnhancedPrompt, "history from last week") {
		t.Fatal("other conversations should still be retrieved")
	}
}

func TestAssembleIncludesGameState(t *testing.T) {
	records := []*interfaces.MemoryRecord{
		memRecord("m1", "conv-old", "Platinum mining rights secured."),
	}
	assembler, _ := newTestAssembler(t, records)

	assembled, err := assembler.Assemble(context.Background(), "platinum mining plans",
		interfaces.MemoryContext{
			CampaignID: "campaign-1",
			GameState: map[string]interface{}{
				"credits":  12000,
				"location": "kepler_442",
				"ignored":  "noise",
			},
		},
		&AssembleOptions{IncludeGameState: true})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	out := assembled.EnhancedPrompt
	if !strings.Contains(out, "## Current situation") || !strings.Contains(out, "credits: 12000") {
		t.Fatalf("game state summary missing:\n%s", out)
	}
	if strings.Contains(out, "noise") {
		t.Fatal("non-allow-listed game state keys must not be rendered")
	}
}

func TestAssembleDegradesOnSearchFailure(t *testing.T) {
	assembler, provider := newTestAssembler(t, nil)
	provider.embedFn = func(string) ([]float64, error) {
		return nil, errors.New("embedding endpoint down")
	}

	prompt := "carry on without memory"
	assembled, err := assembler.Assemble(context.Background(), prompt, interfaces.MemoryContext{CampaignID: "c1"}, nil)
	if err != nil {
		t.Fatalf("retrieval failure must degrade, not error: %v", err)
	}
	if assembled.EnhancedPrompt != prompt {
		t.Fatal("degraded assembly should pass the prompt through")
	}
}

func TestAssemblePropagatesCancellation(t *testing.T) {
	assembler, provider := newTestAssembler(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	provider.embedFn = func(string) ([]float64, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := assembler.Assemble(ctx, "anything", interfaces.MemoryContext{CampaignID: "c1"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRespondDelegatesToProvider(t *testing.T) {
	records := []*interfaces.MemoryRecord{
		memRecord("m1", "conv-old", "Platinum mining rights secured."),
	}
	assembler, provider := newTestAssembler(t, records)
	provider.completeFn = func(messages []interfaces.ChatMessage) (*interfaces.Completion, error) {
		if len(messages) != 1 || !strings.Contains(messages[0].Content, "Relevant history") {
			return nil, errors.New("assembled prompt not forwarded")
		}
		return &interfaces.Completion{Text: "Proceed with the mining expansion."}, nil
	}

	completion, assembled, err := assembler.Respond(context.Background(), "platinum mining next steps",
		interfaces.MemoryContext{CampaignID: "campaign-1"}, nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if completion.Text == "" {
		t.Fatal("empty completion")
	}
	if assembled.EstimatedResponseTokens != len(completion.Text)/4 {
		t.Fatalf("response token estimate = %d", assembled.EstimatedResponseTokens)
	}
}

func TestRespondReturnsBackendError(t *testing.T) {
	records := []*interfaces.MemoryRecord{
		memRecord("m1", "conv-old", "Platinum mining rights secured.", func(r *interfaces.MemoryRecord) {
			r.Timestamp = time.Now().Add(-2 * time.Hour)
		}),
	}
	assembler, provider := newTestAssembler(t, records)
	provider.completeFn = func([]interfaces.ChatMessage) (*interfaces.Completion, error) {
		return nil, errors.New("backend overloaded")
	}

	_, assembled, err := assembler.Respond(context.Background(), "platinum mining next steps",
		interfaces.MemoryContext{CampaignID: "campaign-1"}, nil)
	if err == nil {
		t.Fatal("backend failure must surface to the caller")
	}
	if assembled == nil {
		t.Fatal("assembled prompt should still be returned for diagnostics")
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	s := "采矿权谈判"
	got := truncate(s, 7) // lands mid-rune, must back up to byte 6
	if got != "采矿..." {
		t.Fatalf("truncate(%q, 7) = %q", s, got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if truncate("short", 240) != "short" {
		t.Fatal("content under the limit must pass through unchanged")
	}
}
