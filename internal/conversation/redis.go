package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "welli:session"

// RedisStore keeps each session as a redis list of JSON-encoded turns. When
// ttl is positive every write refreshes the key's expiry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, rawURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, redisKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	return decodeTurns(sessionID, raw)
}

func (s *RedisStore) Replace(ctx context.Context, sessionID string, turns []Turn) error {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, b)
	}

	key := redisKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := s.client.LLen(ctx, redisKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, sessionID)
}

func decodeTurns(sessionID string, raw []string) ([]Turn, error) {
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn for session %s: %w", sessionID, err)
		}
		if !validRole(t.Role) {
			return nil, fmt.Errorf("session %s: %w %q", sessionID, ErrInvalidRole, t.Role)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
