package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fulfillment-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/sync_stock.lua
var syncStockScript string

// Client wraps Redis for the stock mirror and the order-ref cache.
// Postgres stays authoritative for both: a miss here is never an answer.
type Client struct {
	rdb        *redis.Client
	syncScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return NewClientWithRedis(rdb), nil
}

// NewClientWithRedis wraps an existing connection
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:        rdb,
		syncScript: redis.NewScript(syncStockScript),
	}
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(productID int64) string {
	return fmt.Sprintf("inventory:%d", productID)
}

func orderRefKey(ref string) string {
	return fmt.Sprintf("order_ref:%s", ref)
}

// SetStock writes a ledger stock level into the mirror unless the mirror
// already holds the same or a newer version. Returns whether it was written.
func (c *Client) SetStock(ctx context.Context, level models.StockLevel) (bool, error) {
	result, err := c.syncScript.Run(ctx, c.rdb,
		[]string{inventoryKey(level.ProductID)}, level.Available, level.Version).Result()
	if err != nil {
		return false, fmt.Errorf("sync stock script failed: %w", err)
	}

	written, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}

	return written == 1, nil
}

// GetStock reads the mirrored available quantity. ok is false on a miss.
func (c *Client) GetStock(ctx context.Context, productID int64) (available int, ok bool, err error) {
	raw, err := c.rdb.HGet(ctx, inventoryKey(productID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	available, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock mirror for product %d: %w", productID, err)
	}
	return available, true, nil
}

// InitInventory overwrites the mirror for a product regardless of version
func (c *Client) InitInventory(ctx context.Context, level models.StockLevel) error {
	return c.rdb.HSet(ctx, inventoryKey(level.ProductID),
		"available", level.Available,
		"version", level.Version).Err()
}

// CacheOrderRef remembers which order a payment session materialized into
func (c *Client) CacheOrderRef(ctx context.Context, ref string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, orderRefKey(ref), orderID, ttl).Err()
}

// GetCachedOrderRef returns the cached order id for a session ref. ok is false on a miss.
func (c *Client) GetCachedOrderRef(ctx context.Context, ref string) (orderID int64, ok bool, err error) {
	orderID, err = c.rdb.Get(ctx, orderRefKey(ref)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return orderID, true, nil
}
