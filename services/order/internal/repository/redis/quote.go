package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bedive-215/tech-store-sub000/pkg/messages"
)

const keyPrefix = "order:quote:"

// QuoteCache keeps catalog price quotes per product in Redis. Entries expire
// after the configured TTL and are dropped early when the catalog announces
// a change.
type QuoteCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewQuoteCache creates a new Redis-backed quote cache.
func NewQuoteCache(client redis.Cmdable, ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		client: client,
		ttl:    ttl,
	}
}

// GetQuotes returns the cached quotes among productIDs. Products without an
// entry are absent from the result.
func (c *QuoteCache) GetQuotes(ctx context.Context, productIDs []string) (map[string]messages.ProductQuote, error) {
	quotes := make(map[string]messages.ProductQuote, len(productIDs))
	if len(productIDs) == 0 {
		return quotes, nil
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = keyPrefix + id
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget quotes: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var q messages.ProductQuote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("unmarshal quote: %w", err)
		}
		quotes[q.ID] = q
	}
	return quotes, nil
}

// PutQuotes stores quotes with the configured TTL. Quotes of products that do
// not exist are not cached.
func (c *QuoteCache) PutQuotes(ctx context.Context, quotes []messages.ProductQuote) error {
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, q := range quotes {
			if !q.Exists {
				continue
			}
			data, err := json.Marshal(q)
			if err != nil {
				return fmt.Errorf("marshal quote: %w", err)
			}
			pipe.Set(ctx, keyPrefix+q.ID, data, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set quotes: %w", err)
	}
	return nil
}

// Invalidate drops the cached quote of a product.
func (c *QuoteCache) Invalidate(ctx context.Context, productID string) error {
	if err := c.client.Del(ctx, keyPrefix+productID).Err(); err != nil {
		return fmt.Errorf("redis del quote: %w", err)
	}
	return nil
}
