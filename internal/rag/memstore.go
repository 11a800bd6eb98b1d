package rag

import (
	"context"
	"sort"
	"sync"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

// MemoryIndex is an in-memory VectorIndex doing exact cosine search. It
// backs development setups without a qdrant server and the test suite.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]*interfaces.MemoryRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]*interfaces.MemoryRecord)}
}

func (m *MemoryIndex) Write(ctx context.Context, record *interfaces.MemoryRecord) error {
	return m.WriteBatch(ctx, []*interfaces.MemoryRecord{record})
}

// WriteBatch upserts by record id, so retries never duplicate.
func (m *MemoryIndex) WriteBatch(ctx context.Context, records []*interfaces.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		clone := *record
		m.points[record.ID] = &clone
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float64, filter *interfaces.SearchFilter, limit int, minScore float64) ([]*interfaces.ScoredResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	results := make([]*interfaces.ScoredResult, 0, limit)
	for _, point := range m.points {
		if !matchesFilter(point, filter) {
			continue
		}
		score, err := CosineSimilarity(vector, point.Vector)
		if err != nil || score < minScore {
			continue
		}
		clone := *point
		results = append(results, &interfaces.ScoredResult{
			Record:  clone,
			Factors: interfaces.RelevanceFactors{Semantic: score, Entity: 1, ActionType: 1, Recency: 1, Role: 1, Final: score},
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Factors.Semantic > results[j].Factors.Semantic
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	return nil
}

func (m *MemoryIndex) Health(ctx context.Context) (*interfaces.IndexHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &interfaces.IndexHealth{Available: true, PointCount: int64(len(m.points))}, nil
}

func matchesFilter(record *interfaces.MemoryRecord, filter *interfaces.SearchFilter) bool {
	if filter == nil {
		return true
	}
	if filter.CampaignID != "" && record.CampaignID != filter.CampaignID {
		return false
	}
	if filter.CharacterID != "" && record.CharacterID != filter.CharacterID {
		return false
	}
	if filter.ExcludeConversationID != "" && record.ConversationID == filter.ExcludeConversationID {
		return false
	}
	if len(filter.Entities) > 0 && !containsAny(record.Entities, filter.Entities) {
		return false
	}
	if !filter.From.IsZero() && record.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && record.Timestamp.After(filter.To) {
		return false
	}
	return true
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
