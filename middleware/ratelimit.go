package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ariebrainware/incident-watch/config"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	// Rate limiting defaults
	defaultRateLimit  = 5                // 5 attempts
	defaultRateWindow = 15 * time.Minute // per 15 minutes
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

func rateLimitKey(endpoint, clientIP string) string {
	return fmt.Sprintf("ratelimit:%s:%s", endpoint, clientIP)
}

// localLimiter is the in-process fallback used while Redis is unavailable. Each key gets a
// token bucket of Limit tokens refilled over Window; idle buckets expire after Window.
type localLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	every    rate.Limit
	burst    int
}

func newLocalLimiter(cfg RateLimitConfig) *localLimiter {
	return &localLimiter{
		limiters: cache.New(cfg.Window, cfg.Window),
		every:    rate.Every(cfg.Window / time.Duration(cfg.Limit)),
		burst:    cfg.Limit,
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	var lim *rate.Limiter
	if v, ok := l.limiters.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(l.every, l.burst)
	}
	l.limiters.Set(key, lim, cache.DefaultExpiration)
	return lim.Allow()
}

// RateLimiter creates a rate limiting middleware keyed by path and client IP.
func RateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultRateLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRateWindow
	}
	local := newLocalLimiter(cfg)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		endpoint := c.Request.URL.Path
		key := rateLimitKey(endpoint, clientIP)

		allowed, err := checkRateLimit(c.Request.Context(), key, cfg.Limit, cfg.Window)
		if err != nil {
			if !errors.Is(err, errRedisUnavailable) {
				log.Printf("[RateLimit] redis check failed, using local limiter: %v", err)
			}
			allowed = local.allow(key)
		}

		if !allowed {
			util.LogRateLimitExceeded(clientIP, endpoint)
			util.CallTooManyRequests(c, util.APIErrorParams{
				Msg: "Too many requests. Please try again later.",
				Err: fmt.Errorf("rate limit exceeded"),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

var errRedisUnavailable = errors.New("redis not available")

// checkRateLimit counts the request in Redis and reports whether it is within limit.
func checkRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return false, errRedisUnavailable
	}

	pipe := rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	return incrCmd.Val() <= int64(limit), nil
}

// ResetRateLimit resets the Redis counter for a client and endpoint.
func ResetRateLimit(ctx context.Context, clientIP, endpoint string) error {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return errRedisUnavailable
	}
	return rdb.Del(ctx, rateLimitKey(endpoint, clientIP)).Err()
}
