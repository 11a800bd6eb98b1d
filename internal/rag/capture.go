package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

const (
	captureFlushTimeout = 30 * time.Second
	maxTitleLength      = 60
)

// CapturedMessage is the explicit, typed contract at the capture boundary.
// Shape-guessing of arbitrary request payloads belongs to the web layer,
// not here.
type CapturedMessage struct {
	// ID is the message id assigned by the caller. It is reused as the
	// vector id so a retried capture never embeds the same message twice.
	// Left empty, the queue assigns one.
	ID       string
	Role     interfaces.MessageRole
	SenderID string
	Content  string
	Context  interfaces.MemoryContext
}

// CaptureDeduper is an optional guard against reprocessing a message id.
// FirstCapture reports whether this id is seen for the first time.
type CaptureDeduper interface {
	FirstCapture(ctx context.Context, messageID string) (bool, error)
}

// RecentMessageCache is an optional capability of a CaptureDeduper: newly
// persisted messages are mirrored into a short per-campaign rolling window.
type RecentMessageCache interface {
	PushRecentMessage(ctx context.Context, campaignID string, msg *interfaces.Message) error
}

// QueueStats is a snapshot of capture counters.
type QueueStats struct {
	Enqueued  int64 `json:"enqueued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Pending   int   `json:"pending"`
}

// CaptureQueue buffers inbound and outbound messages and drives asynchronous
// vectorization. A single worker flushes every interval or when the batch
// size threshold is reached, whichever comes first. Persistence to the
// relational store is durable; vectorization is best-effort.
type CaptureQueue struct {
	conversations interfaces.ConversationStore
	cache         *EmbeddingCache
	store         *MemoryStore
	dedup         CaptureDeduper // may be nil
	cfg           config.CaptureConfig
	logger        *log.Logger

	ch        chan *CapturedMessage
	wg        sync.WaitGroup
	closeOnce sync.Once

	enqueued  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

func NewCaptureQueue(conversations interfaces.ConversationStore, cache *EmbeddingCache, store *MemoryStore, dedup CaptureDeduper, cfg config.CaptureConfig, logger *log.Logger) *CaptureQueue {
	q := &CaptureQueue{
		conversations: conversations,
		cache:         cache,
		store:         store,
		dedup:         dedup,
		cfg:           cfg,
		logger:        logger,
		ch:            make(chan *CapturedMessage, cfg.QueueSize),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue hands a message to the background worker. It never blocks; when
// the queue is full the message is rejected so the caller can decide what
// to do with it.
func (q *CaptureQueue) Enqueue(msg *CapturedMessage) error {
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("%w: message content is required", ErrValidation)
	}
	if msg.Context.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	select {
	case q.ch <- msg:
		q.enqueued.Inc()
		return nil
	default:
		q.rejected.Inc()
		return fmt.Errorf("capture queue full, message %s rejected", msg.ID)
	}
}

// Close flushes remaining items and stops the worker.
func (q *CaptureQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
	q.wg.Wait()
}

func (q *CaptureQueue) Stats() QueueStats {
	return QueueStats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Rejected:  q.rejected.Load(),
		Pending:   len(q.ch),
	}
}

func (q *CaptureQueue) run() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.FlushInterval.Std())
	defer ticker.Stop()

	batch := make([]*CapturedMessage, 0, q.cfg.BatchSize)
	for {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				q.flush(batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= q.cfg.BatchSize {
				q.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				q.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush processes one batch. A caller cancellation never reaches here: the
// flush runs under its own timeout so an in-progress batch always finishes.
func (q *CaptureQueue) flush(batch []*CapturedMessage) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), captureFlushTimeout)
	defer cancel()

	for _, msg := range batch {
		if err := q.process(ctx, msg); err != nil {
			// One bad message never blocks the rest of the batch.
			q.failed.Inc()
			q.logger.Error("capture failed", "message", msg.ID, "error", err)
			continue
		}
		q.processed.Inc()
	}
}

func (q *CaptureQueue) process(ctx context.Context, msg *CapturedMessage) error {
	conversationID, conv, err := q.ensureConversation(ctx, msg)
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	// Durable persistence first. This write is never rolled back, even when
	// vectorization fails below.
	persisted := &interfaces.Message{
		ID:             msg.ID,
		ConversationID: conversationID,
		Role:           msg.Role,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Entities:       msg.Context.Entities,
		ActionType:     msg.Context.ActionType,
		Timestamp:      time.Now(),
	}
	if _, err := q.conversations.AddMessage(ctx, persisted); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	if recent, ok := q.dedup.(RecentMessageCache); ok {
		if err := recent.PushRecentMessage(ctx, msg.Context.CampaignID, persisted); err != nil {
			q.logger.Warn("recent-message cache write failed", "message", msg.ID, "error", err)
		}
	}

	if q.dedup != nil {
		first, err := q.dedup.FirstCapture(ctx, msg.ID)
		if err != nil {
			q.logger.Warn("capture dedup check failed, continuing", "message", msg.ID, "error", err)
		} else if !first {
			return nil // already vectorized
		}
	}

	vector, err := q.cache.Embed(ctx, msg.Content)
	if err != nil {
		// Best-effort: the message stays durably persisted without a vector.
		q.logger.Warn("vectorization failed, message kept without memory",
			"message", msg.ID, "error", err)
		return nil
	}

	record := &interfaces.MemoryRecord{
		ID:             msg.ID, // vector id == message id
		Vector:         vector,
		CampaignID:     msg.Context.CampaignID,
		ConversationID: conversationID,
		CharacterID:    msg.Context.UserID,
		Role:           msg.Role,
		Content:        msg.Content,
		Entities:       msg.Context.Entities,
		ActionType:     msg.Context.ActionType,
		Timestamp:      time.Now(),
		GameState:      msg.Context.GameState,
	}

	var participants []string
	if conv != nil && conv.Type == interfaces.ConversationChannel {
		participants, err = q.conversations.Participants(ctx, conversationID)
		if err != nil {
			q.logger.Warn("failed to load channel participants, storing sender copy only",
				"conversation", conversationID, "error", err)
			participants = nil
		}
	}

	if err := q.store.WriteFanOut(ctx, record, participants); err != nil {
		q.logger.Warn("memory write failed, message kept without memory",
			"message", msg.ID, "error", err)
		return nil
	}

	if err := q.conversations.LinkVector(ctx, msg.ID, record.ID); err != nil {
		q.logger.Warn("failed to link vector id", "message", msg.ID, "error", err)
	}
	return nil
}

// ensureConversation resolves or creates the conversation for a message.
func (q *CaptureQueue) ensureConversation(ctx context.Context, msg *CapturedMessage) (string, *interfaces.Conversation, error) {
	if msg.Context.ConversationID != "" {
		conv, err := q.conversations.GetConversation(ctx, msg.Context.ConversationID)
		if err != nil {
			return "", nil, err
		}
		return msg.Context.ConversationID, conv, nil
	}

	conv := &interfaces.Conversation{
		ID:          uuid.NewString(),
		CampaignID:  msg.Context.CampaignID,
		CharacterID: msg.Context.UserID,
		Type:        interfaces.ConversationIndividual,
		Title:       BuildConversationTitle(msg.Context.ActionType, msg.Content),
	}
	id, err := q.conversations.CreateConversation(ctx, conv)
	if err != nil {
		return "", nil, err
	}
	conv.ID = id
	return id, conv, nil
}

// BuildConversationTitle derives a short human-readable title from the first
// sentence of the content, prefixed by a humanized action-type label when
// one is known.
func BuildConversationTitle(actionType, content string) string {
	sentence := truncate(firstSentence(content), maxTitleLength)
	if actionType == "" {
		return sentence
	}
	return HumanizeActionType(actionType) + ": " + sentence
}

// HumanizeActionType turns "trade_negotiation" into "Trade Negotiation".
func HumanizeActionType(actionType string) string {
	words := strings.FieldsFunc(actionType, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func firstSentence(content string) string {
	content = strings.TrimSpace(content)
	for i, r := range content {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return strings.TrimSpace(content[:i])
		}
	}
	return content
}
