package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

// Conversation is the relational record of a conversation.
type Conversation struct {
	ID            string         `gorm:"primaryKey;size:64" json:"id"`
	CampaignID    string         `gorm:"index;size:64" json:"campaign_id"`
	CharacterID   string         `gorm:"index;size:64" json:"character_id"`
	Type          string         `gorm:"size:32" json:"type"` // "individual", "group", "channel"
	Participants  string         `gorm:"type:text" json:"-"`  // JSON-encoded participant ids
	Title         string         `gorm:"size:255" json:"title"`
	MessageCount  int            `json:"message_count"`
	LastMessageAt time.Time      `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Message is a durably persisted conversation message. VectorID stays empty
// when vectorization failed; conversation history never depends on the
// vector store.
type Message struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	ConversationID string    `gorm:"index;size:64" json:"conversation_id"`
	Role           string    `gorm:"size:16" json:"role"`
	SenderID       string    `gorm:"size:64" json:"sender_id"`
	Content        string    `gorm:"type:text" json:"content"`
	Entities       string    `gorm:"type:text" json:"-"` // JSON-encoded entity list
	ActionType     string    `gorm:"size:64" json:"action_type"`
	VectorID       string    `gorm:"index;size:64" json:"vector_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// ParticipantList returns the deserialized participant ids.
func (c *Conversation) ParticipantList() []string {
	if c.Participants == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(c.Participants), &out); err != nil {
		return nil
	}
	return out
}

// SetParticipants serializes the participant ids.
func (c *Conversation) SetParticipants(ids []string) {
	if len(ids) == 0 {
		c.Participants = ""
		return
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	c.Participants = string(data)
}

// ToInterface converts to the collaborator-facing view.
func (c *Conversation) ToInterface() *interfaces.Conversation {
	return &interfaces.Conversation{
		ID:            c.ID,
		CampaignID:    c.CampaignID,
		CharacterID:   c.CharacterID,
		Type:          interfaces.ConversationType(c.Type),
		Participants:  c.ParticipantList(),
		Title:         c.Title,
		MessageCount:  c.MessageCount,
		StartedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
	}
}

// EntityList returns the deserialized entity list.
func (m *Message) EntityList() []string {
	if m.Entities == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(m.Entities), &out); err != nil {
		return nil
	}
	return out
}

// ToInterface converts to the collaborator-facing view.
func (m *Message) ToInterface() *interfaces.Message {
	return &interfaces.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           interfaces.MessageRole(m.Role),
		SenderID:       m.SenderID,
		Content:        m.Content,
		Entities:       m.EntityList(),
		ActionType:     m.ActionType,
		VectorID:       m.VectorID,
		Timestamp:      m.CreatedAt,
	}
}
