package rag

import (
	"context"
	"testing"
	"time"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

func TestFanOutSenderOnly(t *testing.T) {
	record := &interfaces.MemoryRecord{ID: "m1", CharacterID: "char-a"}

	records := FanOut(record, nil)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID != "m1" || records[0].ReceivedAs != interfaces.ReceivedAsSender {
		t.Fatalf("sender copy wrong: %+v", records[0])
	}
}

func TestFanOutParticipants(t *testing.T) {
	record := &interfaces.MemoryRecord{ID: "m1", CharacterID: "char-a", Content: "hello"}

	records := FanOut(record, []string{"char-a", "char-b", "char-c", ""})
	if len(records) != 3 {
		t.Fatalf("expected sender + 2 participants, got %d", len(records))
	}

	ids := make(map[string]bool)
	for _, r := range records {
		if ids[r.ID] {
			t.Fatalf("duplicate fan-out id %s", r.ID)
		}
		ids[r.ID] = true
		if r.Content != "hello" {
			t.Fatalf("fan-out copy lost content: %+v", r)
		}
	}

	if records[0].CharacterID != "char-a" || records[0].ReceivedAs != interfaces.ReceivedAsSender {
		t.Fatalf("first record should be the sender copy: %+v", records[0])
	}
	for _, r := range records[1:] {
		if r.ReceivedAs != interfaces.ReceivedAsParticipant {
			t.Fatalf("participant copy tagged %q", r.ReceivedAs)
		}
		if r.CharacterID == "char-a" {
			t.Fatal("sender must not get a participant copy")
		}
	}
}

func TestFanOutDeterministicIDs(t *testing.T) {
	record := &interfaces.MemoryRecord{ID: "m1", CharacterID: "char-a"}

	first := FanOut(record, []string{"char-b"})
	second := FanOut(record, []string{"char-b"})
	if first[1].ID != second[1].ID {
		t.Fatal("participant copy id must be deterministic so retries upsert")
	}
}

func TestWriteFanOutUpsertsOnRetry(t *testing.T) {
	index := NewMemoryIndex()
	store := NewMemoryStore(index, testLogger())

	record := &interfaces.MemoryRecord{
		ID:          "m1",
		Vector:      keywordEmbed("platinum mining"),
		CharacterID: "char-a",
		Timestamp:   time.Now(),
	}
	for i := 0; i < 2; i++ {
		if err := store.WriteFanOut(context.Background(), record, []string{"char-b"}); err != nil {
			t.Fatalf("fan-out %d: %v", i, err)
		}
	}

	health, err := store.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.PointCount != 2 {
		t.Fatalf("retried fan-out duplicated records: %d", health.PointCount)
	}
}

func TestMemoryIndexFilters(t *testing.T) {
	index := NewMemoryIndex()
	now := time.Now()
	seed := []*interfaces.MemoryRecord{
		{ID: "a", Vector: keywordEmbed("platinum"), CampaignID: "c1", CharacterID: "char-a", ConversationID: "conv-1", Entities: []string{"kepler_442"}, Timestamp: now},
		{ID: "b", Vector: keywordEmbed("platinum"), CampaignID: "c1", CharacterID: "char-b", ConversationID: "conv-2", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "c", Vector: keywordEmbed("platinum"), CampaignID: "c2", CharacterID: "char-a", ConversationID: "conv-3", Timestamp: now},
	}
	if err := index.WriteBatch(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	probe := keywordEmbed("platinum")

	query := func(filter *interfaces.SearchFilter) []string {
		results, err := index.Query(context.Background(), probe, filter, 10, 0.5)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		ids := make([]string, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.Record.ID)
		}
		return ids
	}

	if ids := query(&interfaces.SearchFilter{CampaignID: "c1"}); len(ids) != 2 {
		t.Fatalf("campaign filter: %v", ids)
	}
	if ids := query(&interfaces.SearchFilter{CharacterID: "char-a"}); len(ids) != 2 {
		t.Fatalf("character filter: %v", ids)
	}
	if ids := query(&interfaces.SearchFilter{ExcludeConversationID: "conv-1"}); len(ids) != 2 {
		t.Fatalf("conversation exclusion: %v", ids)
	}
	if ids := query(&interfaces.SearchFilter{Entities: []string{"kepler_442"}}); len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("entity filter: %v", ids)
	}
	if ids := query(&interfaces.SearchFilter{From: now.Add(-time.Hour)}); len(ids) != 2 {
		t.Fatalf("time filter: %v", ids)
	}
}
