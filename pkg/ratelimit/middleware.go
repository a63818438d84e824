// Package ratelimit throttles HTTP API clients by IP with a token bucket.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"fraudwatch/internal/config"
	"fraudwatch/pkg/metrics"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// FromConfig fills unset fields from DefaultConfig. Interval fields in the
// file are seconds.
func FromConfig(cfg config.HTTPLimitConfig) RateLimitConfig {
	c := DefaultConfig()
	if cfg.RPS > 0 {
		c.RPS = cfg.RPS
	}
	if cfg.Burst > 0 {
		c.Burst = cfg.Burst
	}
	if cfg.CleanupInterval > 0 {
		c.CleanupInterval = time.Duration(cfg.CleanupInterval) * time.Second
	}
	if cfg.MaxAge > 0 {
		c.MaxAge = time.Duration(cfg.MaxAge) * time.Second
	}
	return c
}

// Clients holds one limiter per client IP.
type Clients struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*client
}

func NewClients(cfg RateLimitConfig) *Clients {
	return &Clients{cfg: cfg, clients: make(map[string]*client)}
}

func (c *Clients) get(ip string, now time.Time) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.clients[ip]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rate.Limit(c.cfg.RPS), c.cfg.Burst)}
		c.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// Cleanup drops clients idle for longer than MaxAge and returns how many
// were removed.
func (c *Clients) Cleanup(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for ip, cl := range c.clients {
		if now.Sub(cl.lastSeen) > c.cfg.MaxAge {
			delete(c.clients, ip)
			removed++
		}
	}
	return removed
}

func (c *Clients) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Run calls Cleanup every CleanupInterval until ctx is done.
func (c *Clients) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Cleanup(now)
		}
	}
}

func (c *Clients) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		clientIP := ctx.ClientIP()
		if clientIP == "" {
			clientIP = ctx.RemoteIP()
		}

		limiter := c.get(clientIP, time.Now())
		ctx.Header("X-RateLimit-Limit", formatRate(c.cfg.RPS))

		if !limiter.Allow() {
			metrics.HTTPRateLimitedTotal.WithLabelValues("limited").Inc()
			ctx.Header("X-RateLimit-Remaining", "0")
			ctx.Header("Retry-After", "1")
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMITED",
			})
			return
		}

		metrics.HTTPRateLimitedTotal.WithLabelValues("allowed").Inc()
		remaining := int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		ctx.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		ctx.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
