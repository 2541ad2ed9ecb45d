package redis

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/repository/memory"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to REDIS_TEST_ADDR and skips when it is unset
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return Wrap(rdb)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "flowgraph:clinic", graphKey("clinic"))
	window := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "ratelimit:clinic:u1:1791964800", rateKey("clinic:u1", window))
	assert.Equal(t, "delivery:wamid.1", deliveryKey("wamid.1"))
}

type countingSource struct {
	inner domain.GraphSource
	calls atomic.Int32
}

func (c *countingSource) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	c.calls.Add(1)
	return c.inner.ActiveGraph(ctx, tenantID)
}

func TestGraphCache(t *testing.T) {
	ctx := context.Background()
	client := testClient(t)

	graphs := memory.NewGraphSource()
	g, err := domain.ParseGraph([]byte(`{"nodes":[{"id":"start","type":"start"},{"id":"hi","type":"message","data":{"text":"Hi"}}],"edges":[{"source":"start","target":"hi"}]}`))
	require.NoError(t, err)
	graphs.Publish("T", "act-1", g)
	src := &countingSource{inner: graphs}
	cache := NewGraphCache(client, src, time.Minute)

	first, err := cache.ActiveGraph(ctx, "T")
	require.NoError(t, err)
	second, err := cache.ActiveGraph(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, first.ActivationID, second.ActivationID)
	assert.Equal(t, 2, second.Graph.Len())

	require.NoError(t, cache.Invalidate(ctx, "T"))
	_, err = cache.ActiveGraph(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())

	n, err := cache.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = cache.ActiveGraph(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)
}

func TestSessionLock(t *testing.T) {
	client := testClient(t)
	lock := NewSessionLock(client, 5*time.Second)

	unlock, err := lock.Lock(context.Background(), "T:webchat:U")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = lock.Lock(ctx, "T:webchat:U")
	assert.True(t, errors.Is(err, domain.ErrLockTimeout))

	unlock()
	again, err := lock.Lock(context.Background(), "T:webchat:U")
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	client := testClient(t)
	limiter := NewRateLimiter(client, 2, 1)
	limiter.now = func() time.Time { return time.Date(2026, 10, 14, 8, 0, 30, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(context.Background(), "T:U")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := limiter.Allow(context.Background(), "T:U")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Date(2026, 10, 14, 8, 1, 0, 0, time.UTC), d.ResetAt)
}

func TestDeliveryDeduper(t *testing.T) {
	ctx := context.Background()
	dedup := NewDeliveryDeduper(testClient(t), time.Minute)

	first, err := dedup.FirstDelivery(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := dedup.FirstDelivery(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := dedup.FirstDelivery(ctx, "wamid.2")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, dedup.Forget(ctx, "wamid.1"))
	retried, err := dedup.FirstDelivery(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, retried)
}
