package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/noteauth/internal/handlers/render"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

// Fixed window in-process limiter
type RateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*rateBucket
}

type rateBucket struct {
	count     int
	windowEnd time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now, buckets: make(map[string]*rateBucket)}
}

func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[key]
	if !ok || !now.Before(bucket.windowEnd) {
		l.evict(now)
		l.buckets[key] = &rateBucket{count: 1, windowEnd: now.Add(window)}
		return true
	}
	if bucket.count >= limit {
		return false
	}
	bucket.count++
	return true
}

// Drop finished windows, so map does not grow with every client ever seen
func (l *RateLimiter) evict(now time.Time) {
	for key, bucket := range l.buckets {
		if !now.Before(bucket.windowEnd) {
			delete(l.buckets, key)
		}
	}
}

const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// Fixed window limiter shared by every service replica
type RedisLimiter struct {
	client redis.Scripter
	script *redis.Script
	prefix string
	logger logger
}

func NewRedisLimiter(client redis.Scripter, prefix string, l logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(rateLimitScript),
		prefix: prefix,
		logger: l,
	}
}

// Allow request if redis not available: limiter must not take the service down
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()

	allowed, err := l.script.Run(ctx, l.client, []string{l.prefix + key}, ttl, limit).Int64()
	if err != nil {
		l.logger.Info("rate limiter unavailable, request allowed", "error", err)
		return true
	}
	return allowed == 1
}

func RateLimit(limiter Limiter, keyFn func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if limiter == nil || key == "" || limit <= 0 || window <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(r.Context(), key, limit, window) {
				w.Header().Set("Retry-After", retryAfter(window))
				render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(window time.Duration) string {
	seconds := int(window.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// Client address the connection came from. Forwarded headers are not trusted
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
