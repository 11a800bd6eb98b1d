package rag

import (
	"math"
	"testing"
	"time"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

func TestScoreRecordNoBoost(t *testing.T) {
	record := &interfaces.MemoryRecord{
		Entities:   []string{"kepler_442"},
		ActionType: "trade",
		Timestamp:  time.Now().Add(-48 * time.Hour),
	}

	factors := ScoreRecord(record, 0.8, nil, time.Now())

	if factors.Semantic != 0.8 {
		t.Fatalf("semantic = %f, want 0.8", factors.Semantic)
	}
	for name, factor := range map[string]float64{
		"entity":      factors.Entity,
		"action_type": factors.ActionType,
		"recency":     factors.Recency,
		"role":        factors.Role,
	} {
		if factor != 1 {
			t.Fatalf("%s factor = %f, want 1 when no boost is configured", name, factor)
		}
	}
	if factors.Final != 0.8 {
		t.Fatalf("final = %f, want semantic score unchanged", factors.Final)
	}
}

func TestScoreRecordEntityBoost(t *testing.T) {
	record := &interfaces.MemoryRecord{Entities: []string{"kepler_442", "platinum"}}
	boost := &BoostOptions{Entities: []string{"platinum"}, EntityFactor: 1.3}

	factors := ScoreRecord(record, 0.5, boost, time.Now())
	if factors.Entity != 1.3 {
		t.Fatalf("entity factor = %f, want 1.3", factors.Entity)
	}
	if math.Abs(factors.Final-0.65) > 1e-9 {
		t.Fatalf("final = %f, want 0.65", factors.Final)
	}

	// No overlap, no boost.
	miss := ScoreRecord(&interfaces.MemoryRecord{Entities: []string{"vega_3"}}, 0.5, boost, time.Now())
	if miss.Entity != 1 {
		t.Fatalf("entity factor = %f, want 1 without overlap", miss.Entity)
	}
}

func TestScoreRecordActionTypeBoost(t *testing.T) {
	boost := &BoostOptions{ActionType: "trade", ActionTypeFactor: 1.2}

	hit := ScoreRecord(&interfaces.MemoryRecord{ActionType: "trade"}, 0.5, boost, time.Now())
	if hit.ActionType != 1.2 {
		t.Fatalf("action factor = %f, want 1.2", hit.ActionType)
	}

	miss := ScoreRecord(&interfaces.MemoryRecord{ActionType: "combat"}, 0.5, boost, time.Now())
	if miss.ActionType != 1 {
		t.Fatalf("action factor = %f, want 1 on mismatch", miss.ActionType)
	}
}

func TestRecencyBoostDecaysLinearly(t *testing.T) {
	now := time.Now()
	boost := &BoostOptions{RecencyFactor: 0.3}

	fresh := ScoreRecord(&interfaces.MemoryRecord{Timestamp: now}, 0.5, boost, now)
	if math.Abs(fresh.Recency-1.3) > 1e-9 {
		t.Fatalf("fresh recency = %f, want 1.3", fresh.Recency)
	}

	halfway := ScoreRecord(&interfaces.MemoryRecord{Timestamp: now.Add(-84 * time.Hour)}, 0.5, boost, now)
	if math.Abs(halfway.Recency-1.15) > 1e-9 {
		t.Fatalf("halfway recency = %f, want 1.15", halfway.Recency)
	}

	ancient := ScoreRecord(&interfaces.MemoryRecord{Timestamp: now.Add(-400 * time.Hour)}, 0.5, boost, now)
	if ancient.Recency != 1 {
		t.Fatalf("ancient recency = %f, want 1 past the age window", ancient.Recency)
	}

	// Newer records never score lower than older ones.
	if fresh.Final < halfway.Final || halfway.Final < ancient.Final {
		t.Fatal("recency boost must be monotonic in age")
	}
}

func TestRecencyBoostCustomWindow(t *testing.T) {
	now := time.Now()
	boost := &BoostOptions{RecencyFactor: 0.5, MaxAgeHours: 24}

	factors := ScoreRecord(&interfaces.MemoryRecord{Timestamp: now.Add(-12 * time.Hour)}, 1, boost, now)
	if math.Abs(factors.Recency-1.25) > 1e-9 {
		t.Fatalf("recency = %f, want 1.25 at half the custom window", factors.Recency)
	}
}

func TestScoreRecordRoleWeight(t *testing.T) {
	boost := &BoostOptions{Roles: map[interfaces.MessageRole]float64{interfaces.RoleAssistant: 0.5}}

	weighted := ScoreRecord(&interfaces.MemoryRecord{Role: interfaces.RoleAssistant}, 0.8, boost, time.Now())
	if weighted.Role != 0.5 {
		t.Fatalf("role factor = %f, want 0.5", weighted.Role)
	}
	if math.Abs(weighted.Final-0.4) > 1e-9 {
		t.Fatalf("final = %f, want 0.4", weighted.Final)
	}

	unweighted := ScoreRecord(&interfaces.MemoryRecord{Role: interfaces.RoleUser}, 0.8, boost, time.Now())
	if unweighted.Role != 1 {
		t.Fatalf("role factor = %f, want 1 for unlisted role", unweighted.Role)
	}
}

func TestScoreRecordFactorsMultiply(t *testing.T) {
	now := time.Now()
	record := &interfaces.MemoryRecord{
		Entities:   []string{"platinum"},
		ActionType: "trade",
		Timestamp:  now,
	}
	boost := &BoostOptions{
		Entities:         []string{"platinum"},
		EntityFactor:     1.3,
		ActionType:       "trade",
		ActionTypeFactor: 1.2,
		RecencyFactor:    0.3,
	}

	factors := ScoreRecord(record, 0.5, boost, now)
	want := 0.5 * 1.3 * 1.2 * 1.3
	if math.Abs(factors.Final-want) > 1e-9 {
		t.Fatalf("final = %f, want %f", factors.Final, want)
	}
}

func TestScoreRecordClampsNegativeSemantic(t *testing.T) {
	factors := ScoreRecord(&interfaces.MemoryRecord{}, -0.2, nil, time.Now())
	if factors.Semantic != 0 || factors.Final != 0 {
		t.Fatalf("negative semantic should clamp to zero, got %f / %f", factors.Semantic, factors.Final)
	}
}
