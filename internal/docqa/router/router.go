// Package router provides document QA service routing.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/internal/docqa/handler"
	"github.com/kart-io/docqa/internal/docqa/metrics"
	"github.com/kart-io/docqa/pkg/infra/middleware"
	ratelimitopts "github.com/kart-io/docqa/pkg/options/ratelimit"
)

// multipartOverhead 上传请求中文件以外的表单开销。
const multipartOverhead = 1 << 20

// LimiterFactory 按窗口内的请求数创建限流器。
type LimiterFactory func(limit int, window time.Duration) middleware.RateLimiter

// Options 路由配置。
type Options struct {
	// CORSAllowOrigins 允许的跨域来源。
	CORSAllowOrigins []string
	// MaxFileSize 上传文件大小上限，决定请求体上限。
	MaxFileSize int64
	// QueryTimeout 单次查询的处理期限，0 表示不限制。
	QueryTimeout time.Duration
	// RateLimit 限流配置，nil 或未启用时不限流。
	RateLimit *ratelimitopts.Options
	// NewLimiter 创建限流器，为 nil 时使用内存滑动窗口。
	NewLimiter LimiterFactory
	// Health 健康检查管理器。
	Health *middleware.HealthManager
}

// NewEngine builds the gin engine serving the document QA API.
func NewEngine(h *handler.DocQAHandler, opts *Options) *gin.Engine {
	if opts == nil {
		opts = &Options{}
	}
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		metrics.Middleware(),
		corsMiddleware(opts.CORSAllowOrigins),
		middleware.BodyLimit(opts.MaxFileSize+multipartOverhead),
	)

	limit := rateLimiter(opts)

	engine.GET("/", limit("root", opts.rootLimit()), h.Index)
	engine.POST("/upload-pdf/", limit("upload", opts.uploadLimit()), h.Upload)
	engine.POST("/query", limit("query", opts.queryLimit()), middleware.Timeout(opts.QueryTimeout), h.Query)
	engine.GET("/history", h.History)
	engine.GET("/session-info", h.SessionInfo)
	engine.POST("/cleanup-session", h.Cleanup)
	engine.GET("/session-stats", h.Stats)

	health := opts.Health
	if health == nil {
		health = middleware.NewHealthManager("")
	}
	engine.GET("/healthz", health.Handler())
	engine.GET("/metrics", metrics.Handler())

	logger.Info("HTTP routes registered")
	return engine
}

func (o *Options) rootLimit() int {
	if o.RateLimit == nil {
		return 0
	}
	return o.RateLimit.RootLimit
}

func (o *Options) uploadLimit() int {
	if o.RateLimit == nil {
		return 0
	}
	return o.RateLimit.UploadLimit
}

func (o *Options) queryLimit() int {
	if o.RateLimit == nil {
		return 0
	}
	return o.RateLimit.QueryLimit
}

// rateLimiter 返回按路由创建限流中间件的函数。未启用时中间件直接放行。
func rateLimiter(opts *Options) func(name string, limit int) gin.HandlerFunc {
	rl := opts.RateLimit
	if rl == nil || !rl.Enabled {
		return func(string, int) gin.HandlerFunc {
			return func(c *gin.Context) { c.Next() }
		}
	}

	factory := opts.NewLimiter
	if factory == nil {
		factory = func(limit int, window time.Duration) middleware.RateLimiter {
			return middleware.NewMemoryRateLimiter(limit, window)
		}
	}

	return func(name string, limit int) gin.HandlerFunc {
		return middleware.RateLimit(middleware.RateLimitConfig{
			Name:           name,
			Limiter:        factory(limit, rl.Window),
			TrustedProxies: rl.TrustedProxies,
		})
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg := middleware.DefaultCORSConfig
	cfg.AllowOrigins = origins
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}

	// 通配来源不能携带凭证
	cfg.AllowCredentials = true
	for _, o := range origins {
		if o == "*" {
			cfg.AllowCredentials = false
			break
		}
	}
	return middleware.CORSWithConfig(cfg)
}
