package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window request counter backed by Redis, shared by every
// API replica pointing at the same instance.
type Limiter struct {
	rdb    *redis.Client
	limit  int           // max requests per window
	window time.Duration // window for limit
	prefix string
}

// New returns a new Limiter. limit is the maximum number of requests per window.
// prefix namespaces keys in Redis so multiple limiters can coexist.
func New(rdb *redis.Client, limit int, window time.Duration, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl:"
	} else if !strings.HasPrefix(prefix, "rl:") {
		prefix = "rl:" + prefix
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Allow counts a request for key and reports whether it is within the limit.
// The window starts with the first request for the key and expires in Redis.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return true, nil
	}
	k := l.prefix + key
	// The expiry is created with the key in the same MULTI, so a counter can
	// never outlive its window.
	var incr *redis.IntCmd
	if _, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, k, 0, l.window)
		incr = p.Incr(ctx, k)
		return nil
	}); err != nil {
		return false, err
	}
	n := incr.Val()
	return n <= int64(l.limit), nil
}

// Middleware rate limits by keyFunc and calls reject for requests over the
// limit or when Redis cannot be reached. reject must abort the context.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string, reject func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), keyFunc(c))
		if err != nil || !ok {
			reject(c, err)
			return
		}
		c.Next()
	}
}
