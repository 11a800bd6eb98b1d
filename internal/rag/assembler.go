package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

const (
	entityBoostFactor  = 1.3
	actionBoostFactor  = 1.2
	recencyBoostFactor = 0.3
)

// importantGameStateKeys is the allow-list for the current-state summary;
// everything else in the game state is noise at prompt-assembly time.
var importantGameStateKeys = []string{
	"credits", "resources", "location", "fleet_strength", "alliances", "turn",
}

// AssembleOptions tune one assembly call. Zero values fall back to the
// configured defaults.
type AssembleOptions struct {
	Limit            int
	IncludeEntities  bool
	IncludeGameState bool
}

// AssembledPrompt is the result of context assembly plus rough token
// estimates for observability. The estimates (chars/4) are not enforced.
type AssembledPrompt struct {
	EnhancedPrompt          string `json:"enhanced_prompt"`
	ResultCount             int    `json:"result_count"`
	EstimatedPromptTokens   int    `json:"estimated_prompt_tokens"`
	EstimatedResponseTokens int    `json:"estimated_response_tokens,omitempty"`
}

// ContextAssembler turns ranked search results and live game state into a
// bounded prompt augmentation, then hands generation off to a backend.
type ContextAssembler struct {
	search   *SemanticSearchEngine
	provider interfaces.Provider
	cfg      config.AssemblyConfig
	logger   *log.Logger
}

func NewContextAssembler(search *SemanticSearchEngine, provider interfaces.Provider, cfg config.AssemblyConfig, logger *log.Logger) *ContextAssembler {
	return &ContextAssembler{search: search, provider: provider, cfg: cfg, logger: logger}
}

// Assemble retrieves relevant memories for prompt and builds the augmented
// prompt. With zero results the prompt passes through unchanged — no empty
// scaffolding is injected. Retrieval failure degrades the same way; memory
// is an enhancement, never a dependency.
func (a *ContextAssembler) Assemble(ctx context.Context, prompt string, memCtx interfaces.MemoryContext, opts *AssembleOptions) (*AssembledPrompt, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if opts == nil {
		opts = &AssembleOptions{}
	}

	resp, err := a.search.Search(ctx, &SemanticSearchQuery{
		Text:        prompt,
		Context:     memCtx,
		Limit:       opts.Limit,
		ExpandQuery: true,
		Boost: &BoostOptions{
			Entities:         memCtx.Entities,
			EntityFactor:     entityBoostFactor,
			ActionType:       memCtx.ActionType,
			ActionTypeFactor: actionBoostFactor,
			RecencyFactor:    recencyBoostFactor,
		},
		ExcludeConversationID: memCtx.ConversationID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("memory retrieval failed, responding without history", "error", err)
		resp = &SearchResponse{}
	}

	if len(resp.Results) == 0 {
		return &AssembledPrompt{
			EnhancedPrompt:        prompt,
			EstimatedPromptTokens: estimateTokens(prompt),
		}, nil
	}

	enhanced := a.render(prompt, memCtx, resp.Results, opts)
	return &AssembledPrompt{
		EnhancedPrompt:        enhanced,
		ResultCount:           len(resp.Results),
		EstimatedPromptTokens: estimateTokens(enhanced),
	}, nil
}

// Respond assembles context and delegates generation to the backend. A
// backend failure is returned as-is; fallback behavior belongs to the
// caller.
func (a *ContextAssembler) Respond(ctx context.Context, prompt string, memCtx interfaces.MemoryContext, opts *AssembleOptions) (*interfaces.Completion, *AssembledPrompt, error) {
	assembled, err := a.Assemble(ctx, prompt, memCtx, opts)
	if err != nil {
		return nil, nil, err
	}

	completion, err := a.provider.Complete(ctx, []interfaces.ChatMessage{
		{Role: "user", Content: assembled.EnhancedPrompt},
	}, nil)
	if err != nil {
		return nil, assembled, fmt.Errorf("generation backend: %w", err)
	}

	assembled.EstimatedResponseTokens = estimateTokens(completion.Text)
	return completion, assembled, nil
}

// render groups results by action type into labeled sections and appends
// the state summary and the delimited request block.
func (a *ContextAssembler) render(prompt string, memCtx interfaces.MemoryContext, results []*interfaces.ScoredResult, opts *AssembleOptions) string {
	maxItems := a.cfg.MaxItemsPerSection
	maxLen := a.cfg.MaxItemLength
	includeEntities := a.cfg.IncludeEntities || opts.IncludeEntities

	sections := make(map[string][]*interfaces.ScoredResult)
	order := make([]string, 0, 4)
	for _, result := range results {
		key := result.Record.ActionType
		if key == "" {
			key = "general"
		}
		if _, ok := sections[key]; !ok {
			order = append(order, key)
		}
		sections[key] = append(sections[key], result)
	}
	sort.Strings(order)

	var b strings.Builder
	b.WriteString("## Relevant history\n\n")
	for _, key := range order {
		b.WriteString("### " + HumanizeActionType(key) + "\n")
		items := sections[key]
		if len(items) > maxItems {
			items = items[:maxItems]
		}
		for _, item := range items {
			line := truncate(item.Record.Content, maxLen)
			if includeEntities && len(item.Record.Entities) > 0 {
				b.WriteString("- [" + strings.Join(item.Record.Entities, ", ") + "] " + line + "\n")
			} else {
				b.WriteString("- " + line + "\n")
			}
		}
		b.WriteString("\n")
	}

	if opts.IncludeGameState && len(memCtx.GameState) > 0 {
		if summary := gameStateSummary(memCtx.GameState); summary != "" {
			b.WriteString("## Current situation\n")
			b.WriteString(summary)
			b.WriteString("\n")
		}
	}

	b.WriteString("---\n")
	b.WriteString("Current request: " + prompt + "\n")
	b.WriteString("Use the history above when it is relevant to the request.\n")
	return b.String()
}

// gameStateSummary renders only the allow-listed keys, in a stable order.
func gameStateSummary(state map[string]interface{}) string {
	var b strings.Builder
	for _, key := range importantGameStateKeys {
		value, ok := state[key]
		if !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("- %s: %v\n", displayName(key), value))
	}
	return b.String()
}

// truncate cuts s to at most maxLen bytes, backing up to a rune boundary
// so multibyte content never turns into invalid UTF-8.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

// estimateTokens approximates token usage at four characters per token.
func estimateTokens(s string) int {
	return len(s) / 4
}
