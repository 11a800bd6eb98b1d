package rag

import (
	"time"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

// DefaultMaxAgeHours bounds the recency decay window at one week.
const DefaultMaxAgeHours = 168.0

// BoostOptions configure multiplicative scoring adjustments. A zero factor
// means "no boost configured" and contributes 1.0.
type BoostOptions struct {
	Entities         []string
	EntityFactor     float64
	ActionType       string
	ActionTypeFactor float64
	RecencyFactor    float64
	MaxAgeHours      float64
	Roles            map[interfaces.MessageRole]float64
}

// ScoreRecord computes the full relevance breakdown for one record. It is a
// pure function of its inputs so the boost formula can be tested without
// any I/O.
func ScoreRecord(record *interfaces.MemoryRecord, semantic float64, boost *BoostOptions, now time.Time) interfaces.RelevanceFactors {
	factors := interfaces.RelevanceFactors{
		Semantic:   clampNonNegative(semantic),
		Entity:     1,
		ActionType: 1,
		Recency:    1,
		Role:       1,
	}

	if boost != nil {
		if boost.EntityFactor > 0 && hasAnyEntity(record.Entities, boost.Entities) {
			factors.Entity = boost.EntityFactor
		}
		if boost.ActionTypeFactor > 0 && boost.ActionType != "" && record.ActionType == boost.ActionType {
			factors.ActionType = boost.ActionTypeFactor
		}
		if boost.RecencyFactor > 0 {
			factors.Recency = recencyBoost(record.Timestamp, boost.RecencyFactor, boost.MaxAgeHours, now)
		}
		if roleFactor, ok := boost.Roles[record.Role]; ok && roleFactor > 0 {
			factors.Role = roleFactor
		}
	}

	factors.Final = factors.Semantic * factors.Entity * factors.ActionType * factors.Recency * factors.Role
	return factors
}

// recencyBoost decays linearly toward 1.0 as the record ages:
// 1 + factor * max(0, 1 - ageHours/maxAgeHours).
func recencyBoost(timestamp time.Time, factor, maxAgeHours float64, now time.Time) float64 {
	if maxAgeHours <= 0 {
		maxAgeHours = DefaultMaxAgeHours
	}
	ageHours := now.Sub(timestamp).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	freshness := 1 - ageHours/maxAgeHours
	if freshness < 0 {
		freshness = 0
	}
	return 1 + factor*freshness
}

func hasAnyEntity(have, boosted []string) bool {
	for _, b := range boosted {
		for _, h := range have {
			if h == b {
				return true
			}
		}
	}
	return false
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
