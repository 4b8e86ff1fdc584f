//go:build integration

package indexer

import (
	"context"
	"testing"
	"time"

	"orgregistry/internal/platform/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := config.Redis{
		URL:          url,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	admin, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	suite.Run(t, &StoreSuite{newStore: func() Store {
		require.NoError(t, admin.FlushAll(ctx).Err())
		client, err := NewRedisClient(ctx, cfg)
		require.NoError(t, err)
		return NewRedisStore(client, "orgregistry-test:")
	}})
}

func TestRedisStoreConcurrentApply(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })
	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	store := NewRedisStore(redis.NewClient(opts), "")
	t.Cleanup(func() { _ = store.Close() })

	// Same transaction delivered to several consumers at once: exactly one applies it.
	const workers = 8
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			changed, err := store.Apply(ctx, identityEvent("tx-dup", alice, "aa"))
			if err != nil {
				results <- false
				return
			}
			results <- changed
		}()
	}
	applied := 0
	for i := 0; i < workers; i++ {
		if <-results {
			applied++
		}
	}
	require.Equal(t, 1, applied)

	got, err := store.Commitments(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, []string{"aa"}, got)
}
