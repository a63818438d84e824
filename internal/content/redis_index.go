package content

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fraudwatch/internal/constants"
)

// releaseScript deletes the key only while it still holds the caller's
// reservation, so a late release never drops a committed fingerprint or a
// reservation taken over after expiry.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisIndex struct {
	client         redis.UniversalClient
	reservationTTL time.Duration
	ttl            time.Duration
}

func NewRedisIndex(client redis.UniversalClient, reservationTTL, ttl time.Duration) *RedisIndex {
	return &RedisIndex{
		client:         client,
		reservationTTL: reservationTTL,
		ttl:            ttl,
	}
}

func (r *RedisIndex) Reserve(ctx context.Context, fingerprint string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key(fingerprint), reservationValue(token), r.reservationTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisIndex) Commit(ctx context.Context, fingerprint string) error {
	if err := r.client.Set(ctx, key(fingerprint), constants.DedupStateCommitted, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis commit failed: %w", err)
	}
	return nil
}

func (r *RedisIndex) Release(ctx context.Context, fingerprint, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{key(fingerprint)}, reservationValue(token)).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

func (r *RedisIndex) Seed(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, fp := range fingerprints {
			p.SetNX(ctx, key(fp), constants.DedupStateCommitted, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis seed failed: %w", err)
	}
	return nil
}

func (r *RedisIndex) Len(ctx context.Context) (int, error) {
	iter := r.client.Scan(ctx, 0, constants.CacheKeyPrefixDedup+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

func (r *RedisIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func reservationValue(token string) string {
	return constants.DedupStateReserved + ":" + token
}

func key(fingerprint string) string {
	return constants.CacheKeyPrefixDedup + fingerprint
}
