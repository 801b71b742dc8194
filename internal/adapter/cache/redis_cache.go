package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.Cache = (*RedisCache)(nil)

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type RedisCache struct {
	client Client
	ttl    time.Duration
}

func NewRedisCache(addr string, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(rdb, ttl)
}

func NewRedisCacheWithClient(client Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func depthKey(symbol string) string  { return "exchange:depth:" + symbol }
func marketKey(symbol string) string { return "exchange:market:" + symbol }

func (c *RedisCache) SetDepth(ctx context.Context, symbol string, d *domain.Depth) error {
	return c.set(ctx, depthKey(symbol), d)
}

// GetDepth returns nil, nil on a miss.
func (c *RedisCache) GetDepth(ctx context.Context, symbol string) (*domain.Depth, error) {
	var d domain.Depth
	ok, err := c.get(ctx, depthKey(symbol), &d)
	if err != nil || !ok {
		return nil, err
	}
	return &d, nil
}

func (c *RedisCache) SetMarketData(ctx context.Context, symbol string, md *domain.MarketData) error {
	return c.set(ctx, marketKey(symbol), md)
}

func (c *RedisCache) GetMarketData(ctx context.Context, symbol string) (*domain.MarketData, error) {
	var md domain.MarketData
	ok, err := c.get(ctx, marketKey(symbol), &md)
	if err != nil || !ok {
		return nil, err
	}
	return &md, nil
}

func (c *RedisCache) set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis cache: encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, b, c.ttl).Err()
}

func (c *RedisCache) get(ctx context.Context, key string, v any) (bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("redis cache: decode %s: %w", key, err)
	}
	return true, nil
}
