package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReplyTTL is how long a reply stays available for redelivered requests.
const DefaultReplyTTL = 10 * time.Minute

// ReplyCache stores encoded replies by "action:correlationId".
type ReplyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, reply []byte) error
}

// RedisReplyCache keeps replies in Redis so that every responder replica
// answers a redelivery the same way.
type RedisReplyCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisReplyCache creates a Redis-backed reply cache. A non-positive ttl
// selects DefaultReplyTTL.
func NewRedisReplyCache(client redis.Cmdable, ttl time.Duration) *RedisReplyCache {
	if ttl <= 0 {
		ttl = DefaultReplyTTL
	}
	return &RedisReplyCache{
		client: client,
		prefix: "rpc:reply:",
		ttl:    ttl,
	}
}

func (c *RedisReplyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	reply, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached reply: %w", err)
	}
	return reply, true, nil
}

func (c *RedisReplyCache) Put(ctx context.Context, key string, reply []byte) error {
	if err := c.client.Set(ctx, c.prefix+key, reply, c.ttl).Err(); err != nil {
		return fmt.Errorf("store reply: %w", err)
	}
	return nil
}

type cachedReply struct {
	body      []byte
	expiresAt time.Time
}

// MemoryReplyCache is a process-local ReplyCache for tests and single-replica
// deployments.
type MemoryReplyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedReply
}

// NewMemoryReplyCache creates an in-process reply cache.
func NewMemoryReplyCache(ttl time.Duration) *MemoryReplyCache {
	if ttl <= 0 {
		ttl = DefaultReplyTTL
	}
	return &MemoryReplyCache{
		ttl:     ttl,
		entries: make(map[string]cachedReply),
	}
}

func (c *MemoryReplyCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.body, true, nil
}

func (c *MemoryReplyCache) Put(_ context.Context, key string, reply []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedReply{body: reply, expiresAt: now.Add(c.ttl)}
	return nil
}
