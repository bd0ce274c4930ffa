package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wangyingjie930/nexus-commerce/internal/httpx"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/redis"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter keeps a token bucket per key in process. It is the
// fallback when no redis is configured, and the wrong choice for a
// multi-instance gateway.
type LocalLimiter struct {
	rps   float64
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		rps:     rps,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

const slidingWindowScript = "rate_limit_sliding_window"

// slidingWindowLua counts requests in the trailing window atomically.
// KEYS[1] the limit key, ARGV[1] window millis, ARGV[2] max requests,
// ARGV[3] now millis. Returns 1 when admitted.
const slidingWindowLua = `
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
    return 0
end
redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
redis.call('PEXPIRE', key, window)
return 1
`

// RedisLimiter enforces a shared sliding window across gateway instances.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	limit  int
}

// NewRedisLimiter allows `burst` requests per key in any trailing second
// window scaled by rps. The window is sized so steady-state throughput
// matches rps, with burst as the ceiling inside one window.
func NewRedisLimiter(client *redis.Client, rps float64, burst int) (*RedisLimiter, error) {
	if err := client.LoadScriptFromContent(slidingWindowScript, slidingWindowLua); err != nil {
		return nil, err
	}
	window := time.Second
	limit := burst
	if float64(limit) < rps {
		limit = int(rps)
	}
	return &RedisLimiter{client: client, window: window, limit: limit}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.client.RunScript(ctx, slidingWindowScript,
		[]string{"ratelimit:" + key},
		l.window.Milliseconds(), l.limit, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	admitted, ok := res.(int64)
	if !ok {
		return false, nil
	}
	return admitted == 1, nil
}

// RateLimit rejects over-limit clients with 429 before any routing work.
// Limiter errors fail open: a broken redis must not take the gateway down
// with it.
func RateLimit(limiter Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		allowed, err := limiter.Allow(r.Context(), key)
		if err != nil {
			logger.Ctx(r.Context()).Warn().Err(err).Msg("rate limiter unavailable, admitting request")
			allowed = true
		}
		if !allowed {
			httpx.RespondJSON(w, http.StatusTooManyRequests, httpx.ErrorBody{
				Error: httpx.ErrorDetail{Code: "rate-limited", Message: "too many requests"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
