package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores rendered invoices. Orders never change, so entries only
// expire to bound memory.
type Cache interface {
	Get(ctx context.Context, orderID string) (*View, error)
	Set(ctx context.Context, orderID string, view *View) error
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = time.Hour
	}
	return &RedisCache{client: client, baseTTL: baseTTL}
}

func (r *RedisCache) Get(ctx context.Context, orderID string) (*View, error) {
	data, err := r.client.Get(ctx, cacheKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var view View
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("unmarshal invoice failed: %w", err)
	}
	return &view, nil
}

// Set stores view with the base TTL plus up to a tenth of it as jitter.
func (r *RedisCache) Set(ctx context.Context, orderID string, view *View) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal invoice failed: %w", err)
	}

	ttl := r.baseTTL + rand.N(r.baseTTL/10+1)
	if err := r.client.Set(ctx, cacheKey(orderID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func cacheKey(orderID string) string {
	return fmt.Sprintf("invoice:%s", orderID)
}
