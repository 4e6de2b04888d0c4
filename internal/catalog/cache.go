// Package catalog keeps short-lived copies of the back-office catalogs in
// Redis so that opening many drafts does not hammer the API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

const (
	productsKey  = "orderdesk:catalog:products"
	customersKey = "orderdesk:catalog:customers"
)

type ProductSource interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type CustomerSource interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
}

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Cache struct {
	rdb    Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(rdb Store, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) Products(next ProductSource) ProductSource {
	return &cachedProducts{cache: c, next: next}
}

func (c *Cache) Customers(next CustomerSource) CustomerSource {
	return &cachedCustomers{cache: c, next: next}
}

// InvalidateProducts drops the cached product catalog so the next read goes
// to the API.
func (c *Cache) InvalidateProducts(ctx context.Context) error {
	if err := c.rdb.Del(ctx, productsKey).Err(); err != nil {
		return fmt.Errorf("invalidate product catalog: %w", err)
	}
	return nil
}

type cachedProducts struct {
	cache *Cache
	next  ProductSource
}

func (s *cachedProducts) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return readThrough(ctx, s.cache, productsKey, s.next.ListProducts)
}

type cachedCustomers struct {
	cache *Cache
	next  CustomerSource
}

func (s *cachedCustomers) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return readThrough(ctx, s.cache, customersKey, s.next.ListCustomers)
}

// readThrough serves key from Redis when present. Redis failures degrade to
// a direct fetch; only fetch errors reach the caller.
func readThrough[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var items []T
		decodeErr := json.Unmarshal(data, &items)
		if decodeErr == nil {
			return items, nil
		}
		c.logger.Warn("discarding unreadable catalog cache entry", "key", key, "error", decodeErr)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog cache read failed", "key", key, "error", err)
	}

	items, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(items)
	if err != nil {
		c.logger.Warn("failed to encode catalog for cache", "key", key, "error", err)
		return items, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write failed", "key", key, "error", err)
	}

	return items, nil
}
