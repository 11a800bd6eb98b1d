package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
	"github.com/aspired-future/startales-sub005/internal/models"
)

// MySQLStore is the relational persistence collaborator. Conversation
// history lives here durably; the vector index only ever holds best-effort
// copies.
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())

	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}); err != nil {
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside a transaction.
func (s *MySQLStore) WithTx(fn func(*gorm.DB) error) error {
	return s.db.Transaction(fn)
}

func (s *MySQLStore) CreateConversation(ctx context.Context, conv *interfaces.Conversation) (string, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	row := &models.Conversation{
		ID:            conv.ID,
		CampaignID:    conv.CampaignID,
		CharacterID:   conv.CharacterID,
		Type:          string(conv.Type),
		Title:         conv.Title,
		LastMessageAt: time.Now(),
	}
	row.SetParticipants(conv.Participants)

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return row.ID, nil
}

func (s *MySQLStore) GetConversation(ctx context.Context, id string) (*interfaces.Conversation, error) {
	var row models.Conversation
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return row.ToInterface(), nil
}

// AddMessage inserts a message row. A duplicate id is a no-op, so retried
// captures never double-insert or double-count.
func (s *MySQLStore) AddMessage(ctx context.Context, msg *interfaces.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	entities := ""
	if len(msg.Entities) > 0 {
		data, err := json.Marshal(msg.Entities)
		if err != nil {
			return "", fmt.Errorf("marshal entities: %w", err)
		}
		entities = string(data)
	}

	row := &models.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Entities:       entities,
		ActionType:     msg.ActionType,
		VectorID:       msg.VectorID,
	}

	err := s.WithTx(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil // duplicate, counters already bumped
		}
		return tx.WithContext(ctx).Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]interface{}{
				"message_count":   gorm.Expr("message_count + 1"),
				"last_message_at": time.Now(),
			}).Error
	})
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return row.ID, nil
}

func (s *MySQLStore) LinkVector(ctx context.Context, messageID, vectorID string) error {
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Update("vector_id", vectorID).Error
	if err != nil {
		return fmt.Errorf("link vector %s to message %s: %w", vectorID, messageID, err)
	}
	return nil
}

func (s *MySQLStore) GetMessages(ctx context.Context, q *interfaces.MessageQuery) ([]*interfaces.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", q.ConversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(q.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	out := make([]*interfaces.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToInterface())
	}
	return out, nil
}

func (s *MySQLStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

func (s *MySQLStore) AddParticipant(ctx context.Context, conversationID, characterID string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		var row models.Conversation
		if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", conversationID).Error; err != nil {
			return fmt.Errorf("get conversation %s: %w", conversationID, err)
		}
		if row.Type != string(interfaces.ConversationChannel) {
			return fmt.Errorf("conversation %s is not a channel", conversationID)
		}

		participants := row.ParticipantList()
		for _, p := range participants {
			if p == characterID {
				return nil // already a member
			}
		}
		row.SetParticipants(append(participants, characterID))
		return tx.WithContext(ctx).Model(&row).Update("participants", row.Participants).Error
	})
}

func (s *MySQLStore) RemoveParticipant(ctx context.Context, conversationID, characterID string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		var row models.Conversation
		if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", conversationID).Error; err != nil {
			return fmt.Errorf("get conversation %s: %w", conversationID, err)
		}

		participants := row.ParticipantList()
		kept := make([]string, 0, len(participants))
		for _, p := range participants {
			if p != characterID {
				kept = append(kept, p)
			}
		}
		row.SetParticipants(kept)
		return tx.WithContext(ctx).Model(&row).Update("participants", row.Participants).Error
	})
}

func (s *MySQLStore) RecentConversations(ctx context.Context, characterID string, limit int) ([]*interfaces.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []models.Conversation
	err := s.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("last_message_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}

	out := make([]*interfaces.Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToInterface())
	}
	return out, nil
}

// ChannelConversations lists channels the character participates in. The
// participant list is stored as JSON text, so membership matches on the
// quoted id.
func (s *MySQLStore) ChannelConversations(ctx context.Context, characterID string, limit int) ([]*interfaces.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []models.Conversation
	err := s.db.WithContext(ctx).
		Where("type = ? AND participants LIKE ?", string(interfaces.ConversationChannel), "%\""+characterID+"\"%").
		Order("last_message_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("channel conversations: %w", err)
	}

	out := make([]*interfaces.Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToInterface())
	}
	return out, nil
}
