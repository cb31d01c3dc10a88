package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMemoryRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryRateLimiter(3, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := limiter.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	// other keys have their own budget
	ok, _ = limiter.Allow(ctx, "5.6.7.8")
	assert.True(t, ok)

	now = now.Add(time.Minute + time.Second)
	ok, _ = limiter.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)

	require.NoError(t, limiter.Reset(ctx, "5.6.7.8"))
}

func TestMemoryRateLimiterConcurrent(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		requests int
	}{
		{"under limit", 100, 50},
		{"over limit", 10, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewMemoryRateLimiter(tt.limit, time.Hour)
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			var tick atomic.Int64
			limiter.now = func() time.Time {
				return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
			}

			var (
				wg      sync.WaitGroup
				allowed atomic.Int64
			)
			for i := 0; i < tt.requests; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, _ := limiter.Allow(context.Background(), "k"); ok {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.EqualValues(t, min(tt.limit, tt.requests), allowed.Load())

			v, ok := limiter.store.Get("k")
			require.True(t, ok)
			entry := v.(*rateLimitEntry)
			assert.True(t, sort.SliceIsSorted(entry.requests, func(i, j int) bool {
				return entry.requests[i].Before(entry.requests[j])
			}))
		})
	}
}

func TestTokenBucketRateLimiter(t *testing.T) {
	ctx := context.Background()
	limiter := NewTokenBucketRateLimiter(2, time.Hour)

	ok, _ := limiter.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, limiter.Reset(ctx, "k"))
	ok, _ = limiter.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	limiter := NewRedisRateLimiter(client, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, limiter.Reset(ctx, "client"))
	ok, err = limiter.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRateLimiterConcurrent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// 两个实例共用同一个 Redis
	limiters := []*RedisRateLimiter{
		NewRedisRateLimiter(client, 5, time.Minute),
		NewRedisRateLimiter(client, 5, time.Minute),
	}

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(l *RedisRateLimiter) {
			defer wg.Done()
			ok, err := l.Allow(context.Background(), "client")
			assert.NoError(t, err)
			if ok {
				allowed.Add(1)
			}
		}(limiters[i%2])
	}
	wg.Wait()

	assert.EqualValues(t, 5, allowed.Load())
	members, err := mr.ZMembers("docqa:ratelimit:client")
	require.NoError(t, err)
	assert.Len(t, members, 5)
	assert.Equal(t, 2*time.Minute, mr.TTL("docqa:ratelimit:client"))
}

func TestRedisRateLimiterErrorLetsRequestThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{Limiter: NewRedisRateLimiter(client, 1, time.Minute)}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	limiter := NewMemoryRateLimiter(1, time.Minute)
	r.GET("/a", RateLimit(RateLimitConfig{Name: "a", Limiter: limiter}), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/b", RateLimit(RateLimitConfig{Name: "b", Limiter: limiter}), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.1.1.1:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("/a").Code)
	assert.Equal(t, http.StatusOK, do("/b").Code)

	w := do("/a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, errors.ErrRateLimitExceeded.Code, body["code"])
	assert.Equal(t, "Rate limit exceeded", body["detail"])
	assert.NotEmpty(t, body["request_id"])
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trusted    []string
		want       string
	}{
		{"no proxies trusted", "10.0.0.1:1234", "9.9.9.9", "", nil, "10.0.0.1"},
		{"trusted single ip", "10.0.0.1:1234", "9.9.9.9, 10.0.0.1", "", []string{"10.0.0.1"}, "9.9.9.9"},
		{"trusted cidr", "172.16.3.4:1234", "8.8.8.8", "", []string{"172.16.0.0/12"}, "8.8.8.8"},
		{"untrusted peer", "192.168.1.1:1234", "8.8.8.8", "", []string{"10.0.0.0/8"}, "192.168.1.1"},
		{"x-real-ip fallback", "10.0.0.1:1234", "", "7.7.7.7", []string{"10.0.0.0/8"}, "7.7.7.7"},
		{"invalid forwarded ip", "10.0.0.1:1234", "not-an-ip", "", []string{"10.0.0.0/8"}, "10.0.0.1"},
		{"invalid cidr ignored", "10.0.0.1:1234", "8.8.8.8", "", []string{"bad/cidr"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				c.Request.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				c.Request.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, ExtractClientIP(c, tt.trusted))
		})
	}
}

func TestFilterExpiredRequests(t *testing.T) {
	base := time.Unix(100, 0)
	reqs := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}

	assert.Len(t, filterExpiredRequests(reqs, base), 2)
	assert.Len(t, filterExpiredRequests(reqs, base.Add(-time.Second)), 3)
	assert.Empty(t, filterExpiredRequests(reqs, base.Add(5*time.Second)))
}
