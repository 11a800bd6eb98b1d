package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

const (
	maxQueryVariants   = 3
	maxSuggestions     = 5
	maxEntitySuggests  = 3
	maxActionSuggests  = 2
	suggestionTopN     = 10
	rawLimitMultiplier = 2
)

// domainSynonyms drives query expansion. The first synonym of each term is
// its primary synonym.
var domainSynonyms = map[string][]string{
	"mining":      {"resource extraction", "ore harvesting"},
	"profit":      {"earnings", "revenue"},
	"credits":     {"currency", "funds"},
	"alliance":    {"coalition", "pact"},
	"trade":       {"commerce", "exchange"},
	"attack":      {"assault", "strike"},
	"defense":     {"protection", "fortification"},
	"exploration": {"scouting", "surveying"},
	"diplomacy":   {"negotiation", "relations"},
	"research":    {"technology development", "science"},
	"fleet":       {"armada", "warships"},
	"colony":      {"settlement", "outpost"},
}

// knownActionTypes are proposed in action-qualified suggestions when the
// original query mentions no action type.
var knownActionTypes = []string{"trade", "combat", "diplomacy", "exploration"}

// SemanticSearchQuery describes one search request.
type SemanticSearchQuery struct {
	Text    string
	Context interfaces.MemoryContext

	Limit    int
	Offset   int
	MinScore float64
	MaxScore float64 // score ceiling, 0 = none

	ExpandQuery bool
	Boost       *BoostOptions

	Roles              []interfaces.MessageRole // allow-list, empty = all
	ExcludeEntities    []string
	RequireEntities    []string // require-all
	ActionTypes        []string // include-list, empty = all
	ExcludeActionTypes []string

	GroupBy    GroupBy
	GroupLimit int

	// ExcludeConversationID drops results from the conversation the caller
	// is currently in, by conversation id.
	ExcludeConversationID string

	TimeFrom time.Time
	TimeTo   time.Time
}

// GroupBy selects the diversity bucketing dimension.
type GroupBy string

const (
	GroupByNone         GroupBy = ""
	GroupByConversation GroupBy = "conversation"
	GroupByEntity       GroupBy = "entity"
	GroupByActionType   GroupBy = "action_type"
)

// SearchFacets are aggregate counts over the pre-pagination scored set.
type SearchFacets struct {
	Entities    map[string]int `json:"entities"`
	ActionTypes map[string]int `json:"action_types"`
	Roles       map[string]int `json:"roles"`
	Days        map[string]int `json:"days"`
}

// SearchResponse is the full result of a search.
type SearchResponse struct {
	Results       []*interfaces.ScoredResult `json:"results"`
	Total         int                        `json:"total"` // pre-pagination count
	Facets        *SearchFacets              `json:"facets"`
	Suggestions   []string                   `json:"suggestions,omitempty"`
	QueryVariants []string                   `json:"query_variants,omitempty"`
}

// SemanticSearchEngine runs query expansion, multi-variant retrieval,
// filtering, boosting, grouping, pagination, aggregation and suggestion
// generation over the memory store.
type SemanticSearchEngine struct {
	cache  *EmbeddingCache
	store  *MemoryStore
	cfg    config.SearchConfig
	logger *log.Logger
}

func NewSemanticSearchEngine(cache *EmbeddingCache, store *MemoryStore, cfg config.SearchConfig, logger *log.Logger) *SemanticSearchEngine {
	return &SemanticSearchEngine{cache: cache, store: store, cfg: cfg, logger: logger}
}

// Search executes the full pipeline. Embedding failure for one variant does
// not abort the search while at least one variant succeeds; total failure
// raises ErrSearchUnavailable.
func (e *SemanticSearchEngine) Search(ctx context.Context, query *SemanticSearchQuery) (*SearchResponse, error) {
	if query == nil || strings.TrimSpace(query.Text) == "" {
		return nil, fmt.Errorf("%w: search text is required", ErrValidation)
	}
	if query.Limit <= 0 {
		query.Limit = e.cfg.DefaultLimit
	}
	if query.MinScore == 0 {
		query.MinScore = e.cfg.MinScore
	}

	variants := []string{query.Text}
	if query.ExpandQuery {
		variants = ExpandQuery(query.Text)
	}

	merged, err := e.fanOutVariants(ctx, query, variants)
	if err != nil {
		return nil, err
	}

	filtered := applyFilters(merged, query)
	scored := e.scoreAndSort(filtered, query)

	grouped := scored
	if query.GroupBy != GroupByNone {
		groupLimit := query.GroupLimit
		if groupLimit <= 0 {
			groupLimit = e.cfg.GroupLimit
		}
		grouped = groupResults(scored, query.GroupBy, groupLimit)
	}

	total := len(grouped)
	facets := computeFacets(grouped)
	suggestions := buildSuggestions(query.Text, grouped)

	paged := paginate(grouped, query.Offset, query.Limit)

	return &SearchResponse{
		Results:       paged,
		Total:         total,
		Facets:        facets,
		Suggestions:   suggestions,
		QueryVariants: variants,
	}, nil
}

// fanOutVariants embeds each variant, queries the store per variant with a
// generous raw limit and low raw floor, and merges results by id keeping
// the best raw score seen.
func (e *SemanticSearchEngine) fanOutVariants(ctx context.Context, query *SemanticSearchQuery, variants []string) (map[string]*interfaces.ScoredResult, error) {
	filter := &interfaces.SearchFilter{
		CampaignID:            query.Context.CampaignID,
		CharacterID:           query.Context.UserID,
		ExcludeConversationID: query.ExcludeConversationID,
		From:                  query.TimeFrom,
		To:                    query.TimeTo,
	}
	rawLimit := (query.Limit + query.Offset) * rawLimitMultiplier
	rawFloor := query.MinScore / 2

	merged := make(map[string]*interfaces.ScoredResult)
	var lastErr error
	succeeded := 0

	for _, variant := range variants {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		vector, err := e.cache.Embed(ctx, variant)
		if err != nil {
			e.logger.Warn("query variant embedding failed", "variant", variant, "error", err)
			lastErr = err
			continue
		}

		results, err := e.store.Query(ctx, vector, filter, rawLimit, rawFloor)
		if err != nil {
			e.logger.Warn("query variant search failed", "variant", variant, "error", err)
			lastErr = err
			continue
		}

		succeeded++
		for _, result := range results {
			existing, ok := merged[result.Record.ID]
			if !ok || result.Factors.Semantic > existing.Factors.Semantic {
				merged[result.Record.ID] = result
			}
		}
	}

	if succeeded == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, lastErr)
		}
		return nil, ErrSearchUnavailable
	}
	return merged, nil
}

// applyFilters enforces the constraints the store's filter language cannot
// express: role allow-list, entity exclude/require-all, action-type
// include/exclude, the min score after merging, and the score ceiling.
func applyFilters(merged map[string]*interfaces.ScoredResult, query *SemanticSearchQuery) []*interfaces.ScoredResult {
	out := make([]*interfaces.ScoredResult, 0, len(merged))
	for _, result := range merged {
		record := &result.Record

		if result.Factors.Semantic < query.MinScore {
			continue
		}
		if query.MaxScore > 0 && result.Factors.Semantic > query.MaxScore {
			continue
		}
		if len(query.Roles) > 0 && !roleAllowed(record.Role, query.Roles) {
			continue
		}
		if len(query.ExcludeEntities) > 0 && containsAny(record.Entities, query.ExcludeEntities) {
			continue
		}
		if len(query.RequireEntities) > 0 && !containsAll(record.Entities, query.RequireEntities) {
			continue
		}
		if len(query.ActionTypes) > 0 && !stringIn(record.ActionType, query.ActionTypes) {
			continue
		}
		if len(query.ExcludeActionTypes) > 0 && stringIn(record.ActionType, query.ExcludeActionTypes) {
			continue
		}
		out = append(out, result)
	}
	return out
}

func (e *SemanticSearchEngine) scoreAndSort(results []*interfaces.ScoredResult, query *SemanticSearchQuery) []*interfaces.ScoredResult {
	now := time.Now()
	for _, result := range results {
		result.Factors = ScoreRecord(&result.Record, result.Factors.Semantic, query.Boost, now)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Factors.Final != results[j].Factors.Final {
			return results[i].Factors.Final > results[j].Factors.Final
		}
		if !results[i].Record.Timestamp.Equal(results[j].Record.Timestamp) {
			return results[i].Record.Timestamp.After(results[j].Record.Timestamp)
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	return results
}

// groupResults buckets results and keeps at most groupLimit per bucket,
// re-flattening in score order so one chatty conversation cannot crowd out
// diversity.
func groupResults(results []*interfaces.ScoredResult, by GroupBy, groupLimit int) []*interfaces.ScoredResult {
	counts := make(map[string]int)
	out := make([]*interfaces.ScoredResult, 0, len(results))
	for _, result := range results {
		key := groupKey(&result.Record, by)
		if counts[key] >= groupLimit {
			continue
		}
		counts[key]++
		out = append(out, result)
	}
	return out
}

func groupKey(record *interfaces.MemoryRecord, by GroupBy) string {
	switch by {
	case GroupByConversation:
		if record.ConversationID != "" {
			return record.ConversationID
		}
	case GroupByEntity:
		if len(record.Entities) > 0 {
			return record.Entities[0]
		}
	case GroupByActionType:
		if record.ActionType != "" {
			return record.ActionType
		}
	}
	return "ungrouped"
}

func paginate(results []*interfaces.ScoredResult, offset, limit int) []*interfaces.ScoredResult {
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func computeFacets(results []*interfaces.ScoredResult) *SearchFacets {
	facets := &SearchFacets{
		Entities:    make(map[string]int),
		ActionTypes: make(map[string]int),
		Roles:       make(map[string]int),
		Days:        make(map[string]int),
	}
	for _, result := range results {
		for _, entity := range result.Record.Entities {
			facets.Entities[entity]++
		}
		if result.Record.ActionType != "" {
			facets.ActionTypes[result.Record.ActionType]++
		}
		facets.Roles[string(result.Record.Role)]++
		facets.Days[result.Record.Timestamp.Format("2006-01-02")]++
	}
	return facets
}

// ExpandQuery builds up to three query variants: the original, one with all
// known domain terms replaced by their primary synonym, and single-term
// substitutions until the cap is reached.
func ExpandQuery(text string) []string {
	variants := []string{text}
	seen := map[string]bool{text: true}

	lower := strings.ToLower(text)
	matched := make([]string, 0, 4)
	for term := range domainSynonyms {
		if strings.Contains(lower, term) {
			matched = append(matched, term)
		}
	}
	sort.Strings(matched) // deterministic variant order

	// All matched terms replaced at once.
	all := lower
	for _, term := range matched {
		all = strings.ReplaceAll(all, term, domainSynonyms[term][0])
	}
	if !seen[all] {
		variants = append(variants, all)
		seen[all] = true
	}

	// Then single-term substitutions, bounded by the variant cap.
	for _, term := range matched {
		if len(variants) >= maxQueryVariants {
			break
		}
		single := strings.ReplaceAll(lower, term, domainSynonyms[term][0])
		if !seen[single] {
			variants = append(variants, single)
			seen[single] = true
		}
	}
	return variants
}

// buildSuggestions mines the top results for entities and action types the
// query does not already mention and proposes expanded queries, capped at
// five.
func buildSuggestions(queryText string, results []*interfaces.ScoredResult) []string {
	top := results
	if len(top) > suggestionTopN {
		top = top[:suggestionTopN]
	}
	lowerQuery := strings.ToLower(queryText)

	entityCounts := make(map[string]int)
	for _, result := range top {
		for _, entity := range result.Record.Entities {
			if strings.Contains(lowerQuery, strings.ToLower(displayName(entity))) {
				continue
			}
			entityCounts[entity]++
		}
	}

	type freq struct {
		value string
		count int
	}
	ranked := make([]freq, 0, len(entityCounts))
	for entity, count := range entityCounts {
		ranked = append(ranked, freq{entity, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].value < ranked[j].value
	})

	suggestions := make([]string, 0, maxSuggestions)
	for _, f := range ranked {
		if len(suggestions) >= maxEntitySuggests {
			break
		}
		suggestions = append(suggestions, queryText+" "+displayName(f.value))
	}

	if !mentionsActionType(lowerQuery) {
		actionAdded := 0
		for _, action := range knownActionTypes {
			if actionAdded >= maxActionSuggests || len(suggestions) >= maxSuggestions {
				break
			}
			suggestions = append(suggestions, queryText+" "+displayName(action))
			actionAdded++
		}
	}

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

func mentionsActionType(lowerQuery string) bool {
	for _, action := range knownActionTypes {
		if strings.Contains(lowerQuery, action) {
			return true
		}
	}
	return false
}

// displayName turns an entity or action id like "kepler_442" into a
// human-readable form.
func displayName(id string) string {
	return strings.ReplaceAll(id, "_", " ")
}

func roleAllowed(role interfaces.MessageRole, allowed []interfaces.MessageRole) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func stringIn(s string, list []string) bool {
	for _, item := range list {
		if s == item {
			return true
		}
	}
	return false
}
