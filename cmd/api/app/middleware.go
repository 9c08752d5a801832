package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	metrics "github.com/mark3748/jobdesk-go/cmd/api/metrics"
	"github.com/mark3748/jobdesk-go/internal/ratelimit"
)

// RequestID assigns a UUID to each request unless the caller sent one, and
// stores it in the context, the request logger and the response headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		logger := log.With().Str("request_id", id).Logger()
		ctx := logger.WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit applies a token bucket limiter to incoming requests.
func RateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			AbortError(c, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		c.Next()
	}
}

// Limit applies a shared redis limiter to one route and counts rejections
// under that route's label.
func Limit(l *ratelimit.Limiter, key func(*gin.Context) string, route string) gin.HandlerFunc {
	return l.Middleware(key, func(c *gin.Context, err error) {
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Str("route", route).Msg("rate limiter unavailable")
		}
		metrics.RateLimitRejectionsTotal.WithLabelValues(route).Inc()
		AbortError(c, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
	})
}

// Logger emits a structured log entry for each request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Ctx(c.Request.Context()).Info().
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
