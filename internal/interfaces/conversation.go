package interfaces

import (
	"context"
	"time"
)

// ConversationType distinguishes one-on-one, group and channel conversations.
// Channel conversations fan memories out to every participant.
type ConversationType string

const (
	ConversationIndividual ConversationType = "individual"
	ConversationGroup      ConversationType = "group"
	ConversationChannel    ConversationType = "channel"
)

// Conversation is the relational view of a conversation.
type Conversation struct {
	ID            string           `json:"id"`
	CampaignID    string           `json:"campaign_id"`
	CharacterID   string           `json:"character_id"`
	Type          ConversationType `json:"type"`
	Participants  []string         `json:"participants,omitempty"`
	Title         string           `json:"title,omitempty"`
	MessageCount  int              `json:"message_count"`
	StartedAt     time.Time        `json:"started_at"`
	LastMessageAt time.Time        `json:"last_message_at"`
}

// Message is a durably persisted conversation message. VectorID is set once
// vectorization succeeds; it stays empty when vectorization fails, which is
// accepted (memory is best-effort, persistence is not).
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	SenderID       string      `json:"sender_id,omitempty"`
	Content        string      `json:"content"`
	Entities       []string    `json:"entities,omitempty"`
	ActionType     string      `json:"action_type,omitempty"`
	VectorID       string      `json:"vector_id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// MessageQuery selects messages for listing.
type MessageQuery struct {
	ConversationID string
	Limit          int
	Offset         int
}

// ConversationStore is the relational persistence collaborator.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) (string, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	AddMessage(ctx context.Context, msg *Message) (string, error)
	LinkVector(ctx context.Context, messageID, vectorID string) error
	GetMessages(ctx context.Context, q *MessageQuery) ([]*Message, error)

	// Channel membership management.
	Participants(ctx context.Context, conversationID string) ([]string, error)
	AddParticipant(ctx context.Context, conversationID, characterID string) error
	RemoveParticipant(ctx context.Context, conversationID, characterID string) error

	// Listings for the web layer.
	RecentConversations(ctx context.Context, characterID string, limit int) ([]*Conversation, error)
	ChannelConversations(ctx context.Context, characterID string, limit int) ([]*Conversation, error)
}
