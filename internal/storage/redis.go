package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

const (
	captureDedupPrefix = "capture:dedup:"
	captureDedupTTL    = 24 * time.Hour

	recentPrefix      = "recent:campaign:"
	recentMaxListSize = 500
	recentListTTL     = 24 * time.Hour
)

// FirstCapture reports whether this message id has not been vectorized
// before. It claims the id atomically, so two workers racing on the same
// message see exactly one true.
func (s *RedisStore) FirstCapture(ctx context.Context, messageID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, captureDedupPrefix+messageID, "1", captureDedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("capture dedup check: %w", err)
	}
	return ok, nil
}

// PushRecentMessage keeps a short rolling window of recent messages per
// campaign for fast context loading without touching MySQL.
func (s *RedisStore) PushRecentMessage(ctx context.Context, campaignID string, msg *interfaces.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal recent message: %w", err)
	}

	key := recentPrefix + campaignID
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(recentMaxListSize-1))
	pipe.Expire(ctx, key, recentListTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push recent message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit of the newest cached messages for a
// campaign, newest first. Entries that fail to decode are skipped.
func (s *RedisStore) RecentMessages(ctx context.Context, campaignID string, limit int64) ([]*interfaces.Message, error) {
	if limit <= 0 || limit > recentMaxListSize {
		limit = 50
	}

	results, err := s.client.LRange(ctx, recentPrefix+campaignID, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	msgs := make([]*interfaces.Message, 0, len(results))
	for _, result := range results {
		var msg interfaces.Message
		if err := json.Unmarshal([]byte(result), &msg); err != nil {
			continue
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}
