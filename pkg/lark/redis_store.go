package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTokenStore shares the service token between replicas through Redis
type RedisTokenStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisTokenStore creates a store keyed by app id
func NewRedisTokenStore(client *redis.Client, appID string) *RedisTokenStore {
	return &RedisTokenStore{
		client: client,
		key:    fmt.Sprintf("larkbridge:service-token:%s", appID),
		now:    time.Now,
	}
}

// Load returns the stored token, or nil on a cache miss
func (s *RedisTokenStore) Load(ctx context.Context) (*ServiceToken, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var token ServiceToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		// Corrupt entry, drop it
		s.client.Del(ctx, s.key)
		return nil, fmt.Errorf("failed to unmarshal service token: %w", err)
	}

	return &token, nil
}

// Save stores the token until it expires
func (s *RedisTokenStore) Save(ctx context.Context, token *ServiceToken) error {
	ttl := token.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal service token: %w", err)
	}

	return s.client.Set(ctx, s.key, data, ttl).Err()
}

// Clear removes the stored token
func (s *RedisTokenStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
