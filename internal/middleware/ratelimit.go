package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter limits requests per key with a fixed window counter kept in
// Redis. Webhooks and sweeps run as independent stateless invocations, so the
// counter must live in shared storage with an explicit expiry; a process-local
// map would reset on every invocation.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

// Allow increments the key's window counter and reports whether it is within
// the limit. Redis being unreachable fails open: throttling is protection, not
// a correctness dependency.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := "ratelimit:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		r.client.Expire(ctx, redisKey, r.window)
	}
	return count <= int64(r.limit)
}

// RateLimit returns a middleware that limits by client IP.
func RateLimit(limiter *RedisRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.Request.Context(), c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
