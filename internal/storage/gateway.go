package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fraudwatch/internal/logger"
	"fraudwatch/pkg/circuitbreaker"
	"fraudwatch/pkg/logging"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/retry"
)

// Gateway is the persistence boundary of the pipeline: every write goes
// through the retry policy, the circuit breaker and a per-attempt timeout.
type Gateway struct {
	store   Store
	policy  retry.Policy
	breaker *circuitbreaker.Wrapper
	timeout time.Duration
	logger  logger.Logger
}

func NewGateway(store Store, policy retry.Policy, breaker *circuitbreaker.Wrapper, timeout time.Duration, log logger.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		store:   store,
		policy:  policy,
		breaker: breaker,
		timeout: timeout,
		logger:  log,
	}
}

// Persist writes rec once. created is false when the fingerprint was already
// stored, which is a success.
func (g *Gateway) Persist(ctx context.Context, rec models.MessageRecord) (bool, error) {
	start := time.Now()

	var result UpsertResult
	err := retry.RetryWithCallback(ctx, g.policy, func() error {
		r, err := g.write(ctx, rec)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetry("storage")
		g.logger.WarnwCtx(ctx, "Retrying message write",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		metrics.ObserveStorageWrite(time.Since(start), "error")
		g.logger.ErrorwCtx(ctx, "Failed to persist message",
			"error", err,
			"fingerprint", rec.Fingerprint,
		)
		return false, err
	}

	metrics.ObserveStorageWrite(time.Since(start), result.String())
	if result == AlreadyExisted {
		g.logger.DebugwCtx(ctx, "Message already persisted", "fingerprint", rec.Fingerprint)
	}
	return result == Created, nil
}

func (g *Gateway) write(ctx context.Context, rec models.MessageRecord) (UpsertResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := circuitbreaker.Execute(attemptCtx, g.breaker, func() (UpsertResult, error) {
		return g.store.UpsertIfAbsent(attemptCtx, rec)
	})
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return 0, retry.NewFatalError(err)
	case ctx.Err() == nil && attemptCtx.Err() != nil:
		// The attempt timed out but the caller is still waiting.
		return 0, retry.NewRetryableError(fmt.Errorf("storage write timed out after %s: %v", g.timeout, err))
	default:
		return 0, err
	}
}

// AppendSecurityEvent writes ev with the same timeout and breaker as Persist
// but without retries.
func (g *Gateway) AppendSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := circuitbreaker.Execute(attemptCtx, g.breaker, func() (struct{}, error) {
		return struct{}{}, g.store.AppendSecurityEvent(attemptCtx, ev)
	})
	return err
}

func (g *Gateway) Store() Store {
	return g.store
}

// Seeder is the part of the dedup index that rehydration needs.
type Seeder interface {
	Seed(ctx context.Context, fingerprints []string) error
}

// Rehydrate seeds index with fingerprints persisted within window so a
// restart does not reprocess recent content.
func Rehydrate(ctx context.Context, store Store, index Seeder, window time.Duration, limit int, log logger.Logger) (int, error) {
	since := time.Now().Add(-window)
	fps, err := store.RecentFingerprints(ctx, since, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load recent fingerprints: %w", err)
	}
	if len(fps) == 0 {
		return 0, nil
	}
	if err := index.Seed(ctx, fps); err != nil {
		return 0, fmt.Errorf("failed to seed dedup index: %w", err)
	}

	log.InfowCtx(logging.WithServiceName(ctx, "storage"), "Dedup index rehydrated",
		"fingerprints", len(fps),
		"window", window,
	)
	return len(fps), nil
}
