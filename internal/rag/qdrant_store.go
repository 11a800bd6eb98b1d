package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

// QdrantIndex is the production VectorIndex backed by a qdrant server.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	vectorSize int
}

func NewQdrantIndex(cfg config.QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
	}, nil
}

// EnsureCollection creates the memory collection if it does not exist yet.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Write(ctx context.Context, record *interfaces.MemoryRecord) error {
	return q.WriteBatch(ctx, []*interfaces.MemoryRecord{record})
}

// WriteBatch upserts points keyed by record id, so retried writes never
// create duplicates.
func (q *QdrantIndex) WriteBatch(ctx context.Context, records []*interfaces.MemoryRecord) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		point, err := recordToPoint(record)
		if err != nil {
			return err
		}
		points = append(points, point)
	}
	if len(points) == 0 {
		return nil
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, vector []float64, filter *interfaces.SearchFilter, limit int, minScore float64) ([]*interfaces.ScoredResult, error) {
	if limit <= 0 {
		limit = 10
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(toFloat32(vector)...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		req.ScoreThreshold = qdrant.PtrOf(float32(minScore))
	}
	if f := buildQdrantFilter(filter); f != nil {
		req.Filter = f
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStoreUnavailable, err)
	}

	results := make([]*interfaces.ScoredResult, 0, len(points))
	for _, point := range points {
		record, err := pointToRecord(point)
		if err != nil {
			continue // skip malformed payloads
		}
		score := float64(point.GetScore())
		results = append(results, &interfaces.ScoredResult{
			Record:  *record,
			Factors: interfaces.RelevanceFactors{Semantic: score, Entity: 1, ActionType: 1, Recency: 1, Role: 1, Final: score},
		})
	}
	return results, nil
}

func (q *QdrantIndex) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, id, err)
	}
	return nil
}

func (q *QdrantIndex) Health(ctx context.Context) (*interfaces.IndexHealth, error) {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return &interfaces.IndexHealth{Available: false}, nil
	}

	count, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection})
	if err != nil {
		return &interfaces.IndexHealth{Available: true}, nil
	}
	return &interfaces.IndexHealth{Available: true, PointCount: int64(count)}, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func recordToPoint(record *interfaces.MemoryRecord) (*qdrant.PointStruct, error) {
	payload := map[string]any{
		"campaign_id":  record.CampaignID,
		"character_id": record.CharacterID,
		"role":         string(record.Role),
		"content":      record.Content,
		"timestamp":    record.Timestamp.Unix(),
	}
	if record.ConversationID != "" {
		payload["conversation_id"] = record.ConversationID
	}
	if record.ActionType != "" {
		payload["action_type"] = record.ActionType
	}
	if len(record.Entities) > 0 {
		entities := make([]any, len(record.Entities))
		for i, e := range record.Entities {
			entities[i] = e
		}
		payload["entities"] = entities
	}
	if record.ReceivedAs != "" {
		payload["received_as"] = string(record.ReceivedAs)
	}
	if record.GameState != nil {
		state, err := json.Marshal(record.GameState)
		if err != nil {
			return nil, fmt.Errorf("marshal game state for %s: %w", record.ID, err)
		}
		payload["game_state"] = string(state)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(record.ID),
		Vectors: qdrant.NewVectors(toFloat32(record.Vector)...),
		Payload: qdrant.NewValueMap(payload),
	}, nil
}

func pointToRecord(point *qdrant.ScoredPoint) (*interfaces.MemoryRecord, error) {
	payload := point.GetPayload()
	content := payload["content"].GetStringValue()
	if content == "" {
		return nil, fmt.Errorf("point %s has no content", point.GetId().GetUuid())
	}

	record := &interfaces.MemoryRecord{
		ID:             point.GetId().GetUuid(),
		CampaignID:     payload["campaign_id"].GetStringValue(),
		ConversationID: payload["conversation_id"].GetStringValue(),
		CharacterID:    payload["character_id"].GetStringValue(),
		Role:           interfaces.MessageRole(payload["role"].GetStringValue()),
		Content:        content,
		ActionType:     payload["action_type"].GetStringValue(),
		Timestamp:      time.Unix(payload["timestamp"].GetIntegerValue(), 0),
		ReceivedAs:     interfaces.ReceivedAs(payload["received_as"].GetStringValue()),
	}

	if list := payload["entities"].GetListValue(); list != nil {
		for _, v := range list.GetValues() {
			if s := v.GetStringValue(); s != "" {
				record.Entities = append(record.Entities, s)
			}
		}
	}
	if state := payload["game_state"].GetStringValue(); state != "" {
		var gameState map[string]interface{}
		if err := json.Unmarshal([]byte(state), &gameState); err == nil {
			record.GameState = gameState
		}
	}
	return record, nil
}

func buildQdrantFilter(filter *interfaces.SearchFilter) *qdrant.Filter {
	if filter == nil {
		return nil
	}

	var must, mustNot []*qdrant.Condition
	if filter.CampaignID != "" {
		must = append(must, qdrant.NewMatch("campaign_id", filter.CampaignID))
	}
	if filter.CharacterID != "" {
		must = append(must, qdrant.NewMatch("character_id", filter.CharacterID))
	}
	if len(filter.Entities) > 0 {
		must = append(must, qdrant.NewMatchKeywords("entities", filter.Entities...))
	}
	if filter.ExcludeConversationID != "" {
		mustNot = append(mustNot, qdrant.NewMatch("conversation_id", filter.ExcludeConversationID))
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		r := &qdrant.Range{}
		if !filter.From.IsZero() {
			r.Gte = qdrant.PtrOf(float64(filter.From.Unix()))
		}
		if !filter.To.IsZero() {
			r.Lte = qdrant.PtrOf(float64(filter.To.Unix()))
		}
		must = append(must, qdrant.NewRange("timestamp", r))
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
