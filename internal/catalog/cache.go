package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront-client/internal/api"
	"storefront-client/internal/models"
	"storefront-client/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const productsKey = "catalog:products"

// Cache fronts the catalog endpoint with a TTL-bounded Redis snapshot,
// so kiosks keep showing products across backend blips.
type Cache struct {
	rdb    *redis.Client
	api    *api.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a catalog cache and verifies the Redis connection
func NewCache(addr, password string, db int, apiClient *api.Client, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Cache{
		rdb:    rdb,
		api:    apiClient,
		ttl:    ttl,
		logger: util.GetLogger(),
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Products returns the catalog, preferring the cached snapshot. On a
// cache miss the API is consulted and the snapshot refreshed; on an API
// failure a stale-but-present snapshot is still served.
func (c *Cache) Products(ctx context.Context) ([]models.Product, error) {
	cached, err := c.rdb.Get(ctx, productsKey).Bytes()
	if err == nil {
		var products []models.Product
		if err := json.Unmarshal(cached, &products); err == nil {
			return products, nil
		}
		c.logger.Warn("Dropping corrupt catalog snapshot", zap.Error(err))
		_ = c.rdb.Del(ctx, productsKey).Err()
	} else if err != redis.Nil {
		c.logger.Warn("Catalog cache read failed, falling back to API", zap.Error(err))
	}

	products, err := c.api.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store(ctx, products); err != nil {
		c.logger.Warn("Failed to refresh catalog snapshot", zap.Error(err))
	}

	return products, nil
}

// Refresh forces a snapshot refresh from the API
func (c *Cache) Refresh(ctx context.Context) error {
	products, err := c.api.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch catalog: %w", err)
	}
	return c.store(ctx, products)
}

// Invalidate drops the cached snapshot
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, productsKey).Err()
}

func (c *Cache) store(ctx context.Context, products []models.Product) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return c.rdb.Set(ctx, productsKey, payload, c.ttl).Err()
}
