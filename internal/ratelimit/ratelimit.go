package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"filetoolsgo/internal/logging"
)

// Counter is the shared-counter surface the limiter needs; redis.Client
// satisfies it in production.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Limiter applies a fixed-window per-client cap on tool requests, backed by
// redis so multiple instances share one budget. A nil Limiter is a no-op.
type Limiter struct {
	cache  Counter
	limit  int
	window time.Duration
}

func New(cache Counter, limit int, window time.Duration) *Limiter {
	if cache == nil || limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{cache: cache, limit: limit, window: window}
}

// Middleware rejects clients over their window budget with 429. Redis
// failures fail open: a broken cache must not take the tools down.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), time.Now().Unix()/int64(l.window.Seconds()))
		n, err := l.cache.Incr(c.Request.Context(), key)
		if err != nil {
			logging.Warn("rate limit check failed", "error", err)
			c.Next()
			return
		}
		if n == 1 {
			if err := l.cache.Expire(c.Request.Context(), key, l.window); err != nil {
				logging.Warn("rate limit expire failed", "error", err)
			}
		}
		if n > int64(l.limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}
