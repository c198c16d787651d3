package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(10, time.Hour)

	key := "demo.myshopify.com:orders/create:42"
	has, err := store.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.Set(ctx, key))

	has, err = store.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.Has(ctx, "demo.myshopify.com:orders/create:43")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryIdempotencyStore_Expires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(10, 20*time.Millisecond)
	require.NoError(t, store.Set(ctx, "k"))

	assert.Eventually(t, func() bool {
		has, err := store.Has(ctx, "k")
		return err == nil && !has
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryIdempotencyStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(2, time.Hour)
	require.NoError(t, store.Set(ctx, "a"))
	require.NoError(t, store.Set(ctx, "b"))
	require.NoError(t, store.Set(ctx, "c"))

	has, _ := store.Has(ctx, "a")
	assert.False(t, has)
	has, _ = store.Has(ctx, "c")
	assert.True(t, has)
}

func TestRedisIdempotencyStore_RejectsEmptyKey(t *testing.T) {
	store := NewRedisIdempotencyStore(nil, "", time.Hour)

	_, err := store.Has(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, store.Set(context.Background(), ""))
}

func TestRedisIdempotencyStore_Integration(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := ConnectRedis(ctx, redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "test:idem:" + uuid.NewString() + ":"
	store := NewRedisIdempotencyStore(client, prefix, time.Minute)

	has, err := store.Has(ctx, "42")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.Set(ctx, "42"))
	has, err = store.Has(ctx, "42")
	require.NoError(t, err)
	assert.True(t, has)

	ttl, err := client.TTL(ctx, prefix+"42").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	t.Cleanup(func() { client.Del(context.Background(), prefix+"42") })
}
