package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quantumflow/scribe/internal/models"
)

// RedisConfig configures the Redis action log
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string // list key holding serialized actions
	MaxLen   int    // list is trimmed to the newest MaxLen entries
	TTL      time.Duration
}

// RedisActionLog mirrors agent actions into a capped Redis list so a
// restarted process can warm its pool
type RedisActionLog struct {
	client *redis.Client
	key    string
	maxLen int64
	ttl    time.Duration
}

// NewRedisActionLog connects to Redis and verifies the connection
func NewRedisActionLog(cfg RedisConfig) (*RedisActionLog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisActionLog(client, cfg), nil
}

func newRedisActionLog(client *redis.Client, cfg RedisConfig) *RedisActionLog {
	if cfg.Key == "" {
		cfg.Key = "scribe:actions"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultConfig().Capacity
	}
	return &RedisActionLog{
		client: client,
		key:    cfg.Key,
		maxLen: int64(cfg.MaxLen),
		ttl:    cfg.TTL,
	}
}

// Append implements ActionSink
func (s *RedisActionLog) Append(ctx context.Context, action models.AgentAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, -s.maxLen, -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store action: %w", err)
	}
	return nil
}

// LoadRecent implements ActionSource
func (s *RedisActionLog) LoadRecent(ctx context.Context, n int) ([]models.AgentAction, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.key, -int64(n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load actions: %w", err)
	}

	actions := make([]models.AgentAction, 0, len(raw))
	for _, item := range raw {
		var a models.AgentAction
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue // Skip malformed entries
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Count returns the number of mirrored actions
func (s *RedisActionLog) Count(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

// Clear removes the mirrored log
func (s *RedisActionLog) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close closes the Redis connection
func (s *RedisActionLog) Close() error {
	return s.client.Close()
}
