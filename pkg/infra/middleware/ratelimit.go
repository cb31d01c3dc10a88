package middleware

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/utils/id"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if a request with the given key is allowed.
	// Returns true if allowed, false if rate limit exceeded.
	Allow(ctx context.Context, key string) (bool, error)

	// Reset resets the rate limit counter for the given key.
	Reset(ctx context.Context, key string) error
}

// RateLimitConfig defines the configuration for rate limiting middleware.
type RateLimitConfig struct {
	// Name scopes the limiter keys, so that several routes can share one
	// backend while keeping separate budgets.
	Name string

	// KeyFunc is a function to extract the rate limit key from the context.
	// Default: uses client IP address
	KeyFunc func(c *gin.Context) string

	// OnLimitReached is called when rate limit is exceeded.
	OnLimitReached func(c *gin.Context, key string)

	// Limiter is the rate limiter implementation to use.
	Limiter RateLimiter

	// TrustedProxies is a list of trusted proxy IP addresses or CIDR ranges.
	// When empty, proxy headers (X-Forwarded-For, X-Real-IP) are not trusted.
	// Example: []string{"127.0.0.1", "10.0.0.0/8", "172.16.0.0/12"}
	TrustedProxies []string
}

// RateLimit returns a rate limiting middleware. Limiter errors are logged
// and the request is let through.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.Limiter == nil {
		panic("ratelimit: Limiter is required")
	}
	if config.KeyFunc == nil {
		trusted := config.TrustedProxies
		config.KeyFunc = func(c *gin.Context) string {
			return ExtractClientIP(c, trusted)
		}
	}

	return func(c *gin.Context) {
		key := config.KeyFunc(c)
		if key == "" {
			key = remoteIP(c)
		}
		if config.Name != "" {
			key = config.Name + ":" + key
		}

		allowed, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Errorw("rate limiter error",
				"error", err.Error(),
				"key", key,
			)
			c.Next()
			return
		}

		if !allowed {
			if config.OnLimitReached != nil {
				config.OnLimitReached(c, key)
			}
			logger.Warnw("rate limit exceeded", "key", key, "path", c.Request.URL.Path)
			abortWithError(c, errors.ErrRateLimitExceeded)
			return
		}

		c.Next()
	}
}

// ============================================================================
// Key Extraction
// ============================================================================

// ExtractClientIP extracts the real client IP from the request.
// Proxy headers are trusted only when the direct peer is listed in
// trustedProxies, which prevents IP spoofing via forged headers.
func ExtractClientIP(c *gin.Context, trustedProxies []string) string {
	peer := remoteIP(c)

	if isTrustedProxy(peer, trustedProxies) {
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			// 第一个地址是原始客户端
			ip := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xri := strings.TrimSpace(c.GetHeader("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	return peer
}

func remoteIP(c *gin.Context) string {
	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return ip
}

// isTrustedProxy checks if the given IP is in the list of trusted proxies.
// Supports both individual IPs and CIDR ranges.
func isTrustedProxy(ip string, trustedCIDRs []string) bool {
	if len(trustedCIDRs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, cidr := range trustedCIDRs {
		if !strings.Contains(cidr, "/") {
			if cidr == ip {
				return true
			}
			continue
		}

		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warnw("invalid CIDR in trusted proxies",
				"cidr", cidr,
				"error", err.Error(),
			)
			continue
		}
		if network.Contains(parsedIP) {
			return true
		}
	}

	return false
}

// ============================================================================
// Memory Rate Limiter Implementation
// ============================================================================

// MemoryRateLimiter implements a sliding window limiter in process memory.
// Idle keys are evicted by the go-cache janitor after two windows.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	store  *gocache.Cache
	mu     sync.Mutex
	now    func() time.Time
}

// rateLimitEntry stores rate limit data for a single key.
type rateLimitEntry struct {
	mu       sync.Mutex
	requests []time.Time
}

// NewMemoryRateLimiter creates a new memory-based rate limiter.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:  limit,
		window: window,
		store:  gocache.New(window*2, window),
		now:    time.Now,
	}
}

// Allow checks if a request with the given key is allowed.
func (m *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	var entry *rateLimitEntry
	if v, ok := m.store.Get(key); ok {
		entry = v.(*rateLimitEntry)
	} else {
		entry = &rateLimitEntry{requests: make([]time.Time, 0, m.limit)}
	}
	// 刷新过期时间
	m.store.SetDefault(key, entry)
	m.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// 持锁后取时间，保证 requests 按时间升序追加
	now := m.now()
	entry.requests = filterExpiredRequests(entry.requests, now.Add(-m.window))
	if len(entry.requests) >= m.limit {
		return false, nil
	}
	entry.requests = append(entry.requests, now)
	return true, nil
}

// Reset resets the rate limit counter for the given key.
func (m *MemoryRateLimiter) Reset(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// filterExpiredRequests drops timestamps at or before cutoff. requests is
// sorted ascending.
func filterExpiredRequests(requests []time.Time, cutoff time.Time) []time.Time {
	for i, t := range requests {
		if t.After(cutoff) {
			return requests[i:]
		}
	}
	return requests[:0]
}

// ============================================================================
// Token Bucket Rate Limiter Implementation
// ============================================================================

// TokenBucketRateLimiter gives every key a golang.org/x/time/rate limiter
// refilling limit tokens per window with a burst of limit.
type TokenBucketRateLimiter struct {
	limit  int
	window time.Duration
	store  *gocache.Cache
	mu     sync.Mutex
}

// NewTokenBucketRateLimiter creates a token bucket limiter.
func NewTokenBucketRateLimiter(limit int, window time.Duration) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		limit:  limit,
		window: window,
		store:  gocache.New(window*2, window),
	}
}

// Allow consumes one token for key.
func (t *TokenBucketRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	var lim *rate.Limiter
	if v, ok := t.store.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(rate.Every(t.window/time.Duration(t.limit)), t.limit)
	}
	t.store.SetDefault(key, lim)
	t.mu.Unlock()

	return lim.Allow(), nil
}

// Reset refills the bucket of key.
func (t *TokenBucketRateLimiter) Reset(_ context.Context, key string) error {
	t.store.Delete(key)
	return nil
}

// ============================================================================
// Redis Rate Limiter Implementation
// ============================================================================

// RedisRateLimiter implements rate limiting using Redis.
// It uses Redis sorted sets for accurate sliding window rate limiting.
type RedisRateLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
}

// slidingWindowScript 在一次调用内完成清理、计数和记录，多个实例并发时不会超额放行。
// KEYS[1] 限流键；ARGV: 窗口起点、当前时间、上限、成员、过期毫秒数。
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '0', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "docqa:ratelimit:",
	}
}

// Allow checks if a request with the given key is allowed using Redis.
// Rejected requests are not recorded.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	allowed, err := slidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		now.Add(-r.window).UnixNano(),
		now.UnixNano(),
		r.limit,
		id.NewULID(),
		(r.window * 2).Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit script error: %w", err)
	}
	return allowed == 1, nil
}

// Reset resets the rate limit counter for the given key in Redis.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
