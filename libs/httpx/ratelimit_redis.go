package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimitConfig configures a RedisRateLimiter. Zero values take defaults:
// 60 requests per minute under "missionwindow:rl", keyed by client.
type RedisLimitConfig struct {
	Limit  int
	Window time.Duration
	Prefix string
	// Key picks the bucket for a request; nil means ClientKey.
	Key KeyFunc
	// FailOpen lets requests through while Redis is unreachable.
	FailOpen bool
}

// RedisRateLimiter is a fixed-window limiter shared by every replica through
// Redis. Buckets are named prefix:key:window so each window starts clean.
type RedisRateLimiter struct {
	rdb *redis.Client
	cfg RedisLimitConfig
}

// PEXPIRE only on the first hit keeps the window fixed rather than sliding.
var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisRateLimiter(rdb *redis.Client, cfg RedisLimitConfig) *RedisRateLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window < time.Millisecond {
		cfg.Window = time.Minute
	}
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix == "" {
		cfg.Prefix = "missionwindow:rl"
	}
	if cfg.Key == nil {
		cfg.Key = ClientKey
	}
	return &RedisRateLimiter{rdb: rdb, cfg: cfg}
}

// bucket names the counter for r at now.
func (rl *RedisRateLimiter) bucket(r *http.Request, now time.Time) string {
	window := now.UnixMilli() / rl.cfg.Window.Milliseconds()
	return rl.cfg.Prefix + ":" + rl.cfg.Key(r) + ":" + strconv.FormatInt(window, 10)
}

func (rl *RedisRateLimiter) Middleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, err := rl.incr(r.Context(), rl.bucket(r, time.Now()))
			if err != nil {
				if logger != nil {
					logger.Warn("redis rate limiter error", "err", err)
				}
				if rl.cfg.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if !writeLimitHeaders(w, rl.cfg.Limit, count, rl.cfg.Window) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeLimitHeaders reports the bucket state and whether count is within limit.
func writeLimitHeaders(w http.ResponseWriter, limit int, count int64, window time.Duration) bool {
	remaining := max(int64(limit)-count, 0)
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	if count > int64(limit) {
		h.Set("Retry-After", strconv.Itoa(int(window.Seconds())))
		return false
	}
	return true
}

func (rl *RedisRateLimiter) incr(ctx context.Context, key string) (int64, error) {
	return redisFixedWindowScript.Run(ctx, rl.rdb, []string{key}, rl.cfg.Window.Milliseconds()).Int64()
}
