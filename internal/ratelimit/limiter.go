// Package ratelimit implements the per-origin fixed window limiter.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"fraudwatch/internal/constants"
	"fraudwatch/internal/logger"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
)

type Config struct {
	MaxPerWindow    int
	Window          time.Duration
	RetentionFactor int
	KeyMode         string
}

type rateWindow struct {
	count    int
	start    time.Time
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

// Limiter keeps one window per origin key. Each key hashes to one of a
// fixed number of shards; the shard mutex is held only for the counter
// update, so different origins never contend on a global lock.
type Limiter struct {
	cfg       Config
	retention time.Duration
	shards    [constants.RateLimitShards]shard
	logger    logger.Logger
}

func NewLimiter(cfg Config, log logger.Logger) *Limiter {
	if cfg.RetentionFactor < 1 {
		cfg.RetentionFactor = 1
	}
	if cfg.KeyMode == "" {
		cfg.KeyMode = constants.RateKeyChat
	}
	l := &Limiter{
		cfg:       cfg,
		retention: cfg.Window * time.Duration(cfg.RetentionFactor),
		logger:    log,
	}
	for i := range l.shards {
		l.shards[i].windows = make(map[string]*rateWindow)
	}
	return l
}

// Key derives the origin key for an event according to the configured mode.
func (l *Limiter) Key(ev models.InboundEvent) string {
	if l.cfg.KeyMode == constants.RateKeyChatUser {
		return ev.ChatID + ":" + ev.UserID
	}
	return ev.ChatID
}

// Allow counts one event for key at now. The event that pushes the count
// past MaxPerWindow is itself rejected. The returned count includes it.
func (l *Limiter) Allow(key string, now time.Time) (bool, int) {
	s := l.shardFor(key)

	s.mu.Lock()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.lastSeen) > l.retention {
		w = &rateWindow{start: now}
		s.windows[key] = w
	}
	if now.Sub(w.start) >= l.cfg.Window {
		w.count = 0
		w.start = now
	}
	w.count++
	w.lastSeen = now
	count := w.count
	s.mu.Unlock()

	allowed := count <= l.cfg.MaxPerWindow
	if allowed {
		metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
	}
	return allowed, count
}

// Sweep drops windows idle for longer than window × retention factor and
// returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	tracked := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, w := range s.windows {
			if now.Sub(w.lastSeen) > l.retention {
				delete(s.windows, key)
				removed++
			}
		}
		tracked += len(s.windows)
		s.mu.Unlock()
	}
	metrics.SetTrackedOrigins(tracked)
	return removed
}

// Run sweeps on every tick until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.cfg.Window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := l.Sweep(now); removed > 0 {
				l.logger.DebugwCtx(ctx, "Rate windows swept", "removed", removed, "tracked", l.Len())
			}
		}
	}
}

func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%constants.RateLimitShards]
}
