package content

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
)

func TestMemoryIndex_ReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(MemoryIndexConfig{ReservationTTL: time.Minute})

	token, ok, err := idx.Reserve(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, _ = idx.Reserve(ctx, "fp")
	assert.False(t, ok, "reserved fingerprint is a duplicate")

	require.NoError(t, idx.Release(ctx, "fp", token))
	token, ok, _ = idx.Reserve(ctx, "fp")
	assert.True(t, ok, "released fingerprint can be reserved again")

	require.NoError(t, idx.Commit(ctx, "fp"))
	require.NoError(t, idx.Release(ctx, "fp", token))
	_, ok, _ = idx.Reserve(ctx, "fp")
	assert.False(t, ok, "release never drops a committed fingerprint")
}

func TestMemoryIndex_StaleReleaseKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	idx := NewMemoryIndex(MemoryIndexConfig{ReservationTTL: time.Second})
	idx.now = func() time.Time { return now }

	first, ok, _ := idx.Reserve(ctx, "fp")
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	second, ok, _ := idx.Reserve(ctx, "fp")
	require.True(t, ok, "expired reservation is taken over")
	require.NotEqual(t, first, second)

	require.NoError(t, idx.Release(ctx, "fp", first))
	_, ok, _ = idx.Reserve(ctx, "fp")
	assert.False(t, ok, "the expired owner cannot free the new reservation")

	require.NoError(t, idx.Release(ctx, "fp", second))
	_, ok, _ = idx.Reserve(ctx, "fp")
	assert.True(t, ok)
}

func TestMemoryIndex_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(MemoryIndexConfig{ReservationTTL: time.Minute})

	var winners atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := idx.Reserve(ctx, "same"); ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())
}

func TestMemoryIndex_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	idx := NewMemoryIndex(MemoryIndexConfig{ReservationTTL: time.Minute, TTL: time.Hour})
	idx.now = func() time.Time { return now }

	_, ok, _ := idx.Reserve(ctx, "orphan")
	require.True(t, ok)
	require.NoError(t, idx.Seed(ctx, []string{"old"}))

	now = now.Add(2 * time.Minute)
	_, ok, _ = idx.Reserve(ctx, "orphan")
	assert.True(t, ok, "orphaned reservation is reclaimed after its TTL")

	_, ok, _ = idx.Reserve(ctx, "old")
	assert.False(t, ok)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 2, idx.Sweep())
	size, _ := idx.Len(ctx)
	assert.Equal(t, 0, size)
}

type failingIndex struct {
	MemoryIndex
	err error
}

func (f *failingIndex) Reserve(context.Context, string) (string, bool, error) {
	return "", false, f.err
}

func TestCircuitBreakerIndex_Fallback(t *testing.T) {
	ctx := context.Background()
	broken := &failingIndex{err: errors.New("connection refused")}
	cbCfg := config.CircuitBreakerConfig{Enabled: false}

	allow := NewCircuitBreakerIndex(broken, cbCfg, "allow", logger.NopLogger())
	_, ok, err := allow.Reserve(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)

	deny := NewCircuitBreakerIndex(broken, cbCfg, "deny", logger.NopLogger())
	_, ok, err = deny.Reserve(ctx, "fp")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCircuitBreakerIndex_PassThrough(t *testing.T) {
	ctx := context.Background()
	idx := NewCircuitBreakerIndex(NewMemoryIndex(MemoryIndexConfig{}),
		config.CircuitBreakerConfig{Enabled: true}, "deny", logger.NopLogger())

	_, ok, err := idx.Reserve(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, idx.Commit(ctx, "fp"))
	_, ok, err = idx.Reserve(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "closed", idx.State())
}
