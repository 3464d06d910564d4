package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/adapter/in/httpapi"
)

const keyPrefix = "idempotency:"

// ResponseCache implements the HTTP idempotency response cache on Redis.
type ResponseCache struct {
	client *redis.Client
}

func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

func (c *ResponseCache) Get(ctx context.Context, key string) (*httpapi.CachedResponse, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}

	var resp httpapi.CachedResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal cached response: %w", err)
	}
	return &resp, nil
}

func (c *ResponseCache) Save(ctx context.Context, key string, response httpapi.CachedResponse, ttl time.Duration) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal cached response: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}

var _ httpapi.ResponseCache = (*ResponseCache)(nil)
