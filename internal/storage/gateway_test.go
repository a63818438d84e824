package storage

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
	"fraudwatch/pkg/circuitbreaker"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func record(fp string) models.MessageRecord {
	return models.MessageRecord{
		Fingerprint: fp,
		ChatID:      "100",
		UserID:      "7",
		Timestamp:   time.Now().UTC(),
		Content:     "hello",
		Kind:        models.KindText,
		Verdict:     models.FraudVerdict{MatchedRules: []string{}},
	}
}

// flakyStore fails the first failures upserts.
type flakyStore struct {
	*MemoryStore
	failures int32
	calls    atomic.Int32
	block    bool
}

func (f *flakyStore) UpsertIfAbsent(ctx context.Context, rec models.MessageRecord) (UpsertResult, error) {
	n := f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if n <= f.failures {
		return 0, errors.New("connection reset by peer")
	}
	return f.MemoryStore.UpsertIfAbsent(ctx, rec)
}

func TestGateway_PersistIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	g := NewGateway(store, fastPolicy(), nil, time.Second, logger.NopLogger())

	created, err := g.Persist(context.Background(), record("fp-1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = g.Persist(context.Background(), record("fp-1"))
	require.NoError(t, err, "duplicate fingerprint is a no-op success")
	assert.False(t, created)

	assert.Len(t, store.Messages(), 1)
}

func TestGateway_ConcurrentPersistCreatesOnce(t *testing.T) {
	store := NewMemoryStore()
	g := NewGateway(store, fastPolicy(), nil, time.Second, logger.NopLogger())

	var createdCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := g.Persist(context.Background(), record("same"))
			assert.NoError(t, err)
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount.Load())
	assert.Len(t, store.Messages(), 1)
}

func TestGateway_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	g := NewGateway(store, fastPolicy(), nil, time.Second, logger.NopLogger())

	created, err := g.Persist(context.Background(), record("fp"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestGateway_ExhaustedRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	g := NewGateway(store, fastPolicy(), nil, time.Second, logger.NopLogger())

	_, err := g.Persist(context.Background(), record("fp"))
	require.Error(t, err)
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Empty(t, store.Messages())
}

func TestGateway_AttemptTimeoutIsRetried(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), block: true}
	g := NewGateway(store, fastPolicy(), nil, 10*time.Millisecond, logger.NopLogger())

	start := time.Now()
	_, err := g.Persist(context.Background(), record("fp"))
	require.Error(t, err)
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateway_OpenBreakerStopsRetrying(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 100}
	breaker := circuitbreaker.NewFromConfig("storage-test", config.CircuitBreakerConfig{
		Enabled:      true,
		MinRequests:  1,
		FailureRatio: 0.1,
		Timeout:      time.Minute,
	})
	g := NewGateway(store, fastPolicy(), breaker, time.Second, logger.NopLogger())

	_, err := g.Persist(context.Background(), record("a"))
	require.Error(t, err)
	require.True(t, breaker.IsOpen())

	calls := store.calls.Load()
	_, err = g.Persist(context.Background(), record("b"))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, calls, store.calls.Load(), "open breaker short-circuits the store")
}

type seeder struct{ seeded []string }

func (s *seeder) Seed(_ context.Context, fps []string) error {
	s.seeded = append(s.seeded, fps...)
	return nil
}

func TestRehydrate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := record("old")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	_, err := store.UpsertIfAbsent(ctx, old)
	require.NoError(t, err)
	_, err = store.UpsertIfAbsent(ctx, record("recent"))
	require.NoError(t, err)

	s := &seeder{}
	n, err := Rehydrate(ctx, store, s, 24*time.Hour, 100, logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"recent"}, s.seeded)
}

func TestMemoryStore_SecurityEventsAndRules(t *testing.T) {
	store := NewMemoryStore(config.RuleConfig{ID: "db-rule", Kind: "literal", Patterns: []string{"x"}})
	ctx := context.Background()

	ev := models.SecurityEvent{ID: "1", Type: models.SecurityFraudDetected, ChatID: "1"}
	require.NoError(t, store.AppendSecurityEvent(ctx, ev))
	assert.Equal(t, []models.SecurityEvent{ev}, store.SecurityEvents())

	rules, err := store.LoadRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	exists, err := store.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}
