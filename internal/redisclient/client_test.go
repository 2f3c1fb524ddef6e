package redisclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to REDIS_ADDR (default localhost:6379) on a scratch DB
// and skips the test when no server is reachable.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return NewClientWithRedis(rdb)
}

func TestSetStock_IgnoresStaleVersions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	written, err := c.SetStock(ctx, models.StockLevel{ProductID: 7, Available: 5, Version: 3})
	require.NoError(t, err)
	assert.True(t, written)

	written, err = c.SetStock(ctx, models.StockLevel{ProductID: 7, Available: 9, Version: 2})
	require.NoError(t, err)
	assert.False(t, written)

	available, ok, err := c.GetStock(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, available)

	written, err = c.SetStock(ctx, models.StockLevel{ProductID: 7, Available: 4, Version: 4})
	require.NoError(t, err)
	assert.True(t, written)

	available, _, err = c.GetStock(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, available)
}

func TestGetStock_Miss(t *testing.T) {
	c := newTestClient(t)

	_, ok, err := c.GetStock(context.Background(), 424242)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderRefCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	ref := fmt.Sprintf("cs_test_%d", time.Now().UnixNano())

	_, ok, err := c.GetCachedOrderRef(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.CacheOrderRef(ctx, ref, 99, time.Minute))

	orderID, ok, err := c.GetCachedOrderRef(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(99), orderID)
}
