package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/go-redis/redis/v8"
)

// Cache TTLs for catalog reads.
const (
	productTTL     = 30 * time.Minute
	productListTTL = 10 * time.Minute
)

const productListKey = "products:all"

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

// Client caches catalog products so price revalidation at checkout does not
// hit Postgres for every line item. All cache operations are best-effort.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetProduct returns a cached product, or (nil, false) on miss or error.
func (c *Client) GetProduct(ctx context.Context, id int64) (*models.Product, bool) {
	data, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		return nil, false
	}

	var product models.Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, false
	}
	return &product, true
}

// SetProduct caches a product with TTL.
func (c *Client) SetProduct(ctx context.Context, product *models.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, productKey(product.ID), data, productTTL).Err()
}

// SetProducts caches a batch of products in one pipeline round trip.
func (c *Client) SetProducts(ctx context.Context, products []models.Product) error {
	pipe := c.rdb.Pipeline()
	for i := range products {
		data, err := json.Marshal(&products[i])
		if err != nil {
			return err
		}
		pipe.Set(ctx, productKey(products[i].ID), data, productTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetProductList returns the cached full catalog, or (nil, false) on miss.
func (c *Client) GetProductList(ctx context.Context) ([]models.Product, bool) {
	data, err := c.rdb.Get(ctx, productListKey).Bytes()
	if err != nil {
		return nil, false
	}

	var products []models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, false
	}
	return products, true
}

// SetProductList caches the full catalog with TTL.
func (c *Client) SetProductList(ctx context.Context, products []models.Product) error {
	data, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, productListKey, data, productListTTL).Err()
}

// InvalidateProduct drops a product and the catalog list from the cache.
func (c *Client) InvalidateProduct(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, productKey(id), productListKey).Err()
}
