package webhooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultDedupeTTL covers the platform's redelivery window
const DefaultDedupeTTL = 6 * time.Hour

// Deduper remembers delivered event ids. The platform redelivers events it did not see
// acknowledged, so the same id can arrive more than once.
type Deduper interface {
	// MarkSeen records id and reports whether this is its first delivery
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	// Forget removes id so a redelivery is processed again
	Forget(ctx context.Context, eventID string) error
}

// LRUDeduper keeps recent event ids in process memory
type LRUDeduper struct {
	mu   sync.Mutex
	seen *lru.LRU[string, struct{}]
}

// NewLRUDeduper creates an in-memory deduper holding up to size ids for ttl
func NewLRUDeduper(size int, ttl time.Duration) *LRUDeduper {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &LRUDeduper{seen: lru.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *LRUDeduper) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(eventID) {
		return false, nil
	}
	d.seen.Add(eventID, struct{}{})
	return true, nil
}

func (d *LRUDeduper) Forget(ctx context.Context, eventID string) error {
	d.seen.Remove(eventID)
	return nil
}

// RedisDeduper shares seen event ids between replicas with SETNX
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: "larkbridge:event:", ttl: ttl}
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	first, err := d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return first, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, d.prefix+eventID).Err()
}
