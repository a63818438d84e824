package content

import (
	"context"
	"fmt"

	"fraudwatch/internal/config"
	"fraudwatch/internal/constants"
	"fraudwatch/internal/logger"
	"fraudwatch/pkg/circuitbreaker"
	"fraudwatch/pkg/metrics"
)

// CircuitBreakerIndex guards a remote Index. When Reserve fails and the
// fallback is "allow" the event is treated as unseen; with "deny" the error
// propagates and the event fails.
type CircuitBreakerIndex struct {
	index    Index
	cb       *circuitbreaker.Wrapper
	fallback string
	logger   logger.Logger
}

func NewCircuitBreakerIndex(index Index, cfg config.CircuitBreakerConfig, fallback string, log logger.Logger) *CircuitBreakerIndex {
	return &CircuitBreakerIndex{
		index:    index,
		cb:       circuitbreaker.NewFromConfig("redis-dedup", cfg),
		fallback: fallback,
		logger:   log,
	}
}

type reservation struct {
	token string
	ok    bool
}

func (c *CircuitBreakerIndex) Reserve(ctx context.Context, fingerprint string) (string, bool, error) {
	res, err := circuitbreaker.Execute(ctx, c.cb, func() (reservation, error) {
		token, ok, err := c.index.Reserve(ctx, fingerprint)
		return reservation{token: token, ok: ok}, err
	})
	if err == nil {
		return res.token, res.ok, nil
	}
	if ctx.Err() != nil {
		return "", false, err
	}

	if c.fallback == constants.FallbackAllow {
		metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error").Inc()
		c.logger.WarnwCtx(ctx, "Dedup index unavailable, treating content as unseen (fallback: allow)",
			"error", err,
		)
		return "", true, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("dedup", "deny_on_error").Inc()
	return "", false, fmt.Errorf("dedup reserve failed: %w", err)
}

func (c *CircuitBreakerIndex) Commit(ctx context.Context, fingerprint string) error {
	_, err := circuitbreaker.Execute(ctx, c.cb, func() (struct{}, error) {
		return struct{}{}, c.index.Commit(ctx, fingerprint)
	})
	return err
}

func (c *CircuitBreakerIndex) Release(ctx context.Context, fingerprint, token string) error {
	_, err := circuitbreaker.Execute(ctx, c.cb, func() (struct{}, error) {
		return struct{}{}, c.index.Release(ctx, fingerprint, token)
	})
	return err
}

func (c *CircuitBreakerIndex) Seed(ctx context.Context, fingerprints []string) error {
	_, err := circuitbreaker.Execute(ctx, c.cb, func() (struct{}, error) {
		return struct{}{}, c.index.Seed(ctx, fingerprints)
	})
	return err
}

func (c *CircuitBreakerIndex) Len(ctx context.Context) (int, error) {
	return circuitbreaker.Execute(ctx, c.cb, func() (int, error) {
		return c.index.Len(ctx)
	})
}

func (c *CircuitBreakerIndex) State() string {
	if c.cb == nil {
		return "disabled"
	}
	return c.cb.State().String()
}
