package rag

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

const storeCallTimeout = 10 * time.Second

// MemoryStore is the narrow facade over the external vector index. It owns
// the fan-out rule for channel conversations: one logical message becomes N
// records, one per participant, so later retrieval is personalized without
// a join at query time.
type MemoryStore struct {
	index  interfaces.VectorIndex
	logger *log.Logger
}

func NewMemoryStore(index interfaces.VectorIndex, logger *log.Logger) *MemoryStore {
	return &MemoryStore{index: index, logger: logger}
}

func (s *MemoryStore) Write(ctx context.Context, record *interfaces.MemoryRecord) error {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()
	return s.index.Write(ctx, record)
}

func (s *MemoryStore) WriteBatch(ctx context.Context, records []*interfaces.MemoryRecord) error {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()
	return s.index.WriteBatch(ctx, records)
}

// WriteFanOut stores record once per participant. The sender's copy keeps
// the original record id (exactly-once under capture retries); each
// participant copy gets a deterministic id derived from the record id and
// the participant, so retried fan-outs upsert instead of duplicating.
func (s *MemoryStore) WriteFanOut(ctx context.Context, record *interfaces.MemoryRecord, participants []string) error {
	records := FanOut(record, participants)
	return s.WriteBatch(ctx, records)
}

func (s *MemoryStore) Query(ctx context.Context, vector []float64, filter *interfaces.SearchFilter, limit int, minScore float64) ([]*interfaces.ScoredResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()
	return s.index.Query(ctx, vector, filter, limit, minScore)
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()
	return s.index.Delete(ctx, id)
}

func (s *MemoryStore) Health(ctx context.Context) (*interfaces.IndexHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, storeCallTimeout)
	defer cancel()
	return s.index.Health(ctx)
}

// FanOut expands one logical record into per-participant copies. With no
// participants beyond the sender it returns just the sender's record.
func FanOut(record *interfaces.MemoryRecord, participants []string) []*interfaces.MemoryRecord {
	sender := *record
	sender.ReceivedAs = interfaces.ReceivedAsSender
	records := []*interfaces.MemoryRecord{&sender}

	for _, participant := range participants {
		if participant == "" || participant == record.CharacterID {
			continue
		}
		dup := *record
		dup.ID = fanOutID(record.ID, participant)
		dup.CharacterID = participant
		dup.ReceivedAs = interfaces.ReceivedAsParticipant
		records = append(records, &dup)
	}
	return records
}

func fanOutID(recordID, participant string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID+":"+participant)).String()
}
