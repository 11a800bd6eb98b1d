package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

const (
	snippetLength = 100

	contextMemoryLimit        = 5
	contextMemoryMinScore     = 0.7
	participantMemoryLimit    = 3
	participantMemoryMinScore = 0.6

	defaultHistoryDepth = 10
)

// ConversationHit maps a memory search hit back to the conversation it
// came from.
type ConversationHit struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	Relevance      float64   `json:"relevance"`
	Snippet        string    `json:"snippet"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// MemorySnippet is one relevant memory attached to a conversation context.
// Source is "self" for the character's own memories, or the participant id
// a channel memory came from.
type MemorySnippet struct {
	Content   string    `json:"content"`
	Relevance float64   `json:"relevance"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// ConversationContext bundles recent history and relevant memories for a
// character entering a conversation.
type ConversationContext struct {
	CharacterID    string                `json:"character_id"`
	ConversationID string                `json:"conversation_id"`
	History        []*interfaces.Message `json:"history"`
	Memories       []*MemorySnippet      `json:"memories"`
}

// ConversationService joins the relational conversation store with the
// semantic search engine: content search across a character's
// conversations, and context building for response generation.
type ConversationService struct {
	conversations interfaces.ConversationStore
	search        *SemanticSearchEngine
	logger        *log.Logger
}

func NewConversationService(conversations interfaces.ConversationStore, search *SemanticSearchEngine, logger *log.Logger) *ConversationService {
	return &ConversationService{conversations: conversations, search: search, logger: logger}
}

// SearchConversations finds the conversations whose memories best match the
// query text, each carrying its best-scoring snippet. One hit per
// conversation, ordered by relevance.
func (s *ConversationService) SearchConversations(ctx context.Context, characterID, campaignID, text string, limit int) ([]*ConversationHit, error) {
	if limit <= 0 {
		limit = 10
	}

	resp, err := s.search.Search(ctx, &SemanticSearchQuery{
		Text: text,
		Context: interfaces.MemoryContext{
			CampaignID: campaignID,
			UserID:     characterID,
		},
		Limit:   limit,
		GroupBy: GroupByConversation,
		// One result per conversation; re-flattening keeps score order.
		GroupLimit: 1,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]*ConversationHit, 0, len(resp.Results))
	for _, result := range resp.Results {
		record := &result.Record
		if record.ConversationID == "" {
			continue
		}

		hit := &ConversationHit{
			ConversationID: record.ConversationID,
			Relevance:      result.Factors.Final,
			Snippet:        snippet(record.Content),
		}
		conv, err := s.conversations.GetConversation(ctx, record.ConversationID)
		if err != nil {
			// A memory can outlive its conversation row; the hit still
			// stands on its own.
			s.logger.Warn("conversation lookup failed for search hit",
				"conversation", record.ConversationID, "error", err)
		} else {
			hit.Title = conv.Title
			hit.LastMessageAt = conv.LastMessageAt
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// BuildContext assembles the last maxHistory messages plus the memories
// most relevant to them. For channel conversations the character must be a
// participant, and the other participants' perspectives are mixed in with
// a lower floor.
func (s *ConversationService) BuildContext(ctx context.Context, characterID, conversationID string, maxHistory int) (*ConversationContext, error) {
	if maxHistory <= 0 {
		maxHistory = defaultHistoryDepth
	}

	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", conversationID, err)
	}

	isChannel := conv.Type == interfaces.ConversationChannel
	if isChannel && !stringIn(characterID, conv.Participants) {
		return nil, fmt.Errorf("%w: character %s is not a participant in channel %s",
			ErrValidation, characterID, conversationID)
	}

	// Last maxHistory messages. The store lists in ascending order, so the
	// tail starts at count-maxHistory.
	offset := conv.MessageCount - maxHistory
	if offset < 0 {
		offset = 0
	}
	history, err := s.conversations.GetMessages(ctx, &interfaces.MessageQuery{
		ConversationID: conversationID,
		Limit:          maxHistory,
		Offset:         offset,
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	out := &ConversationContext{
		CharacterID:    characterID,
		ConversationID: conversationID,
		History:        history,
	}
	if len(history) == 0 {
		return out, nil
	}

	queryText := historyText(history)
	out.Memories = s.relevantMemories(ctx, characterID, conv.CampaignID, queryText,
		contextMemoryLimit, contextMemoryMinScore, "self")

	if isChannel {
		for _, participant := range conv.Participants {
			if participant == characterID {
				continue
			}
			out.Memories = append(out.Memories,
				s.relevantMemories(ctx, participant, conv.CampaignID, queryText,
					participantMemoryLimit, participantMemoryMinScore, participant)...)
		}
	}
	return out, nil
}

// relevantMemories is best-effort: a search failure degrades to no
// memories rather than failing context building.
func (s *ConversationService) relevantMemories(ctx context.Context, characterID, campaignID, text string, limit int, minScore float64, source string) []*MemorySnippet {
	resp, err := s.search.Search(ctx, &SemanticSearchQuery{
		Text: text,
		Context: interfaces.MemoryContext{
			CampaignID: campaignID,
			UserID:     characterID,
		},
		Limit:    limit,
		MinScore: minScore,
	})
	if err != nil {
		s.logger.Warn("memory lookup failed for conversation context",
			"character", characterID, "error", err)
		return nil
	}

	snippets := make([]*MemorySnippet, 0, len(resp.Results))
	for _, result := range resp.Results {
		snippets = append(snippets, &MemorySnippet{
			Content:   result.Record.Content,
			Relevance: result.Factors.Final,
			Timestamp: result.Record.Timestamp,
			Source:    source,
		})
	}
	return snippets
}

func historyText(history []*interfaces.Message) string {
	parts := make([]string, 0, len(history))
	for _, msg := range history {
		parts = append(parts, msg.Content)
	}
	return strings.Join(parts, " ")
}

func snippet(content string) string {
	return truncate(content, snippetLength)
}
