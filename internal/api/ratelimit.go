package api

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
)

const rateLimitKeyPrefix = "doctor:ratelimit:"

// RateLimiter is a fixed-window request counter per caller. Counters live in
// Redis when a client is given so every replica shares them, otherwise in
// process memory.
type RateLimiter struct {
	limit  int
	window time.Duration
	redis  *redis.Client
	logger *logging.Logger
	now    func() time.Time

	local sync.Map
}

type windowCounter struct {
	mu     sync.Mutex
	count  int
	window time.Time
}

// NewRateLimiter creates a limiter. client may be nil.
func NewRateLimiter(cfg config.LimitsConfig, client *redis.Client, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &RateLimiter{
		limit:  cfg.Requests,
		window: cfg.Window,
		redis:  client,
		logger: logger,
		now:    time.Now,
	}
}

// Allow counts one request for key and reports whether it fits the window
func (rl *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int, reset time.Time, err error) {
	windowStart := rl.now().Truncate(rl.window)
	reset = windowStart.Add(rl.window)
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, key, windowStart.Unix())

	var count int
	if rl.redis != nil {
		count, err = rl.incrRedis(ctx, fullKey, reset)
		if err != nil {
			return true, 0, reset, err
		}
	} else {
		count = rl.incrLocal(key, windowStart)
	}

	remaining = rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.limit, remaining, reset, nil
}

func (rl *RateLimiter) incrRedis(ctx context.Context, key string, reset time.Time) (int, error) {
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, reset)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis pipeline failed: %w", err)
	}
	return int(incr.Val()), nil
}

func (rl *RateLimiter) incrLocal(key string, windowStart time.Time) int {
	value, _ := rl.local.LoadOrStore(key, &windowCounter{window: windowStart})
	c := value.(*windowCounter)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window.Before(windowStart) {
		c.count = 0
		c.window = windowStart
	}
	c.count++
	return c.count
}

// Middleware rejects callers over the limit with 429. Callers are keyed by
// token subject when authenticated and by client IP otherwise. A counter
// backend failure lets the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if subject := c.GetString("subject"); subject != "" {
			key = "sub:" + subject
		}

		allowed, remaining, reset, err := rl.Allow(c.Request.Context(), key)
		if err != nil {
			rl.logger.Warn("Rate limit check failed", "key", key, "error", err.Error())
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			retryAfter := int(reset.Sub(rl.now()).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			ErrorResponseFromError(c, errors.NewRateLimitError("event rate limit exceeded").
				WithDetail("retry_after", strconv.Itoa(retryAfter)))
			c.Abort()
			return
		}

		c.Next()
	}
}
