//go:build integration

package content

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisIndex_Lifecycle(t *testing.T) {
	idx := NewRedisIndex(setupRedis(t), time.Minute, time.Hour)
	ctx := context.Background()

	token, ok, err := idx.Reserve(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = idx.Reserve(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok, "reserved fingerprint is a duplicate")

	require.NoError(t, idx.Release(ctx, "fp-1", "someone-else"))
	_, ok, err = idx.Reserve(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok, "a foreign token does not free the reservation")

	require.NoError(t, idx.Release(ctx, "fp-1", token))
	token, ok, err = idx.Reserve(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, ok, "released fingerprint can be reserved again")

	require.NoError(t, idx.Commit(ctx, "fp-1"))
	require.NoError(t, idx.Release(ctx, "fp-1", token))
	_, ok, err = idx.Reserve(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok, "release never drops a committed fingerprint")

	require.NoError(t, idx.Seed(ctx, []string{"fp-2", "fp-3"}))
	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, idx.Ping(ctx))
}

func TestRedisIndex_ConcurrentReserve(t *testing.T) {
	idx := NewRedisIndex(setupRedis(t), time.Minute, time.Hour)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := idx.Reserve(ctx, "contested")
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
