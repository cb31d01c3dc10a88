// Package docqasvc provides the document QA server implementation.
package docqasvc

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/docqa/internal/docqa/biz"
	"github.com/kart-io/docqa/internal/docqa/blob"
	"github.com/kart-io/docqa/internal/docqa/handler"
	"github.com/kart-io/docqa/internal/docqa/router"
	"github.com/kart-io/docqa/internal/docqa/store"
	"github.com/kart-io/docqa/pkg/component/milvus"
	"github.com/kart-io/docqa/pkg/component/redis"
	"github.com/kart-io/docqa/pkg/infra/app"
	"github.com/kart-io/docqa/pkg/infra/middleware"
	"github.com/kart-io/docqa/pkg/infra/pool"
	"github.com/kart-io/docqa/pkg/infra/server"
	"github.com/kart-io/docqa/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/docqa/pkg/llm/gemini"
	_ "github.com/kart-io/docqa/pkg/llm/openai"
	"github.com/kart-io/docqa/pkg/llm/resilience"
	cacheopts "github.com/kart-io/docqa/pkg/options/cache"
	docqaopts "github.com/kart-io/docqa/pkg/options/docqa"
	llmopts "github.com/kart-io/docqa/pkg/options/llm"
	logopts "github.com/kart-io/docqa/pkg/options/logger"
	milvusopts "github.com/kart-io/docqa/pkg/options/milvus"
	ratelimitopts "github.com/kart-io/docqa/pkg/options/ratelimit"
	redisopts "github.com/kart-io/docqa/pkg/options/redis"
	s3opts "github.com/kart-io/docqa/pkg/options/s3"
	httpopts "github.com/kart-io/docqa/pkg/options/server/http"
)

// Name is the name of the application.
const Name = "docqa"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	DocQAOptions     *docqaopts.Options
	MilvusOptions    *milvusopts.Options
	RedisOptions     *redisopts.Options
	S3Options        *s3opts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	CacheOptions     *cacheopts.Options
	RateLimitOptions *ratelimitopts.Options
	PoolOptions      *pool.Config
}

// Server represents the document QA server.
type Server struct {
	mgr *server.Manager
}

// NewServer initializes and returns a new Server instance. Resources opened
// before a failure are released again.
func (cfg *Config) NewServer(ctx context.Context) (_ *Server, err error) {
	printBanner(cfg)

	// 1. 初始化日志
	if err := cfg.LogOptions.Init(Name, app.GetVersion()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting docqa service...")

	mgr := server.NewManager(cfg.HTTPOptions.ShutdownTimeout)
	defer func() {
		if err != nil {
			_ = mgr.Close(context.Background())
		}
	}()
	health := middleware.NewHealthManager(app.GetVersion())

	// 2. 初始化 Redis（限流与向量缓存共用）
	var redisClient goredis.UniversalClient
	if cfg.RedisOptions.Enabled {
		client, rerr := redis.New(ctx, cfg.RedisOptions)
		if rerr != nil {
			logger.Warnw("failed to connect to redis, falling back to in-memory components", "error", rerr.Error())
		} else {
			redisClient = client.Universal()
			mgr.AddCloser("redis", func(context.Context) error { return client.Close() })
			health.RegisterChecker("redis", client.HealthChecker())
			logger.Infow("Redis client initialized", "addr", cfg.RedisOptions.Addr())
		}
	}

	// 3. 初始化 LLM 供应商
	embedProvider, chatProvider, err := cfg.newProviders(redisClient)
	if err != nil {
		return nil, err
	}

	// 4. 初始化向量存储
	vectorStore, err := cfg.newVectorStore(ctx, health)
	if err != nil {
		return nil, err
	}
	mgr.AddCloser("vector-store", vectorStore.Close)

	// 5. 初始化对象存储
	blobs, err := cfg.newBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	// 6. 初始化嵌入工作池
	workers, err := pool.NewPool("embedding", cfg.PoolOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker pool: %w", err)
	}
	mgr.AddCloser("embedding-pool", func(context.Context) error {
		return workers.ReleaseTimeout(5 * time.Second)
	})

	// 7. 初始化 Biz 层
	service := biz.NewDocQAService(
		vectorStore,
		store.NewMemorySessionStore(),
		blobs,
		embedProvider,
		chatProvider,
		workers,
		cfg.serviceConfig(),
	)
	logger.Infow("DocQA service initialized",
		"vector_backend", cfg.DocQAOptions.VectorBackend,
		"collection", cfg.DocQAOptions.Collection,
		"guard", cfg.DocQAOptions.GuardEnabled,
	)

	// 8. 初始化 Handler 与路由
	docqaHandler := handler.NewDocQAHandler(service, cfg.DocQAOptions.MaxFileSize)
	engine := router.NewEngine(docqaHandler, &router.Options{
		CORSAllowOrigins: cfg.HTTPOptions.CORSAllowOrigins,
		MaxFileSize:      cfg.DocQAOptions.MaxFileSize,
		QueryTimeout:     cfg.DocQAOptions.QueryTimeout,
		RateLimit:        cfg.RateLimitOptions,
		NewLimiter:       newLimiterFactory(cfg.RateLimitOptions.Backend, redisClient),
		Health:           health,
	})
	mgr.AddServer(server.NewHTTPServer(cfg.HTTPOptions, engine))

	logger.Infow("DocQA service is ready", "addr", cfg.HTTPOptions.Addr)
	return &Server{mgr: mgr}, nil
}

// Run starts the server and blocks until ctx is done or a termination
// signal arrives.
func (s *Server) Run(ctx context.Context) error {
	return s.mgr.Run(ctx)
}

func (cfg *Config) newProviders(redisClient goredis.UniversalClient) (llm.EmbeddingProvider, llm.ChatProvider, error) {
	eo, co := cfg.EmbeddingOptions, cfg.ChatOptions

	embedder, err := llm.NewEmbeddingProvider(eo.Provider, eo.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	embedder = resilience.NewResilientEmbeddingProvider(embedder, retryConfig(eo), breakerConfig(eo))

	if cfg.CacheOptions.Enabled {
		var cache llm.EmbeddingCache
		if redisClient != nil {
			cache = llm.NewRedisEmbeddingCache(redisClient)
		} else {
			cache = llm.NewMemoryEmbeddingCache(cfg.CacheOptions.TTL, 10*time.Minute)
		}
		embedder = llm.NewCachedEmbeddingProvider(embedder, cache, &llm.EmbeddingCacheConfig{
			Enabled:   true,
			TTL:       cfg.CacheOptions.TTL,
			KeyPrefix: cfg.CacheOptions.KeyPrefix,
			Namespace: fmt.Sprintf("%s/%d", eo.Model, eo.Dimensions),
		})
	}
	logger.Infow("Embedding provider initialized",
		"provider", eo.Provider,
		"model", eo.Model,
		"dimensions", eo.Dimensions,
		"cache", cfg.CacheOptions.Enabled,
	)

	chat, err := llm.NewChatProvider(co.Provider, co.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	chat = resilience.NewResilientChatProvider(chat, retryConfig(co), breakerConfig(co))
	logger.Infow("Chat provider initialized", "provider", co.Provider, "model", co.Model)

	return embedder, chat, nil
}

func retryConfig(o *llmopts.ProviderOptions) *resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = o.MaxRetries + 1
	return rc
}

func breakerConfig(o *llmopts.ProviderOptions) *resilience.CircuitBreakerConfig {
	bc := resilience.DefaultCircuitBreakerConfig()
	if o.BreakerThreshold > 0 {
		bc.MaxFailures = o.BreakerThreshold
	}
	if o.BreakerTimeout > 0 {
		bc.Timeout = o.BreakerTimeout
	}
	return bc
}

func (cfg *Config) newVectorStore(ctx context.Context, health *middleware.HealthManager) (store.VectorStore, error) {
	if cfg.DocQAOptions.VectorBackend == docqaopts.VectorBackendChromem {
		s, err := store.NewChromemStore(cfg.DocQAOptions.ChromemPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize chromem store: %w", err)
		}
		logger.Infow("Chromem vector store initialized", "path", cfg.DocQAOptions.ChromemPath)
		return s, nil
	}

	client, err := milvus.New(ctx, cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	health.RegisterChecker("milvus", client.Ping)
	logger.Infow("Milvus client initialized", "address", cfg.MilvusOptions.Address)
	return store.NewMilvusStore(client), nil
}

func (cfg *Config) newBlobStore(ctx context.Context) (blob.Store, error) {
	if !cfg.S3Options.Enabled() {
		logger.Warn("No bucket configured, uploaded PDFs are kept in memory")
		return blob.NewMemoryStore(), nil
	}
	s, err := blob.NewS3Store(ctx, cfg.S3Options)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 store: %w", err)
	}
	logger.Infow("S3 blob store initialized", "bucket", cfg.S3Options.Bucket, "region", cfg.S3Options.Region)
	return s, nil
}

func (cfg *Config) serviceConfig() *biz.ServiceConfig {
	o := cfg.DocQAOptions
	gen := biz.DefaultGeneratorConfig()
	if o.SystemPrompt != "" {
		gen.SystemPrompt = o.SystemPrompt
	}
	return &biz.ServiceConfig{
		IndexerConfig: &biz.IndexerConfig{
			ChunkSize:      o.ChunkSize,
			ChunkOverlap:   o.ChunkOverlap,
			Collection:     o.Collection,
			EmbeddingDim:   cfg.EmbeddingOptions.Dimensions,
			EmbedBatchSize: o.EmbedBatchSize,
		},
		RetrieverConfig: &biz.RetrieverConfig{
			TopK:           o.TopK,
			ScoreThreshold: o.ScoreThreshold,
			Collection:     o.Collection,
		},
		MemoryConfig:    &biz.MemoryConfig{CompactThreshold: o.CompactThreshold},
		GeneratorConfig: gen,
		SessionConfig: &biz.SessionConfig{
			MaxMessages: o.MaxMessages,
			TTL:         o.SessionTTL,
			Collection:  o.Collection,
		},
		UploadConfig: &biz.UploadConfig{
			MaxFileSize: o.MaxFileSize,
			BlobPrefix:  o.BlobPrefix,
			Timeout:     o.UploadTimeout,
		},
		GuardEnabled: o.GuardEnabled,
	}
}

// newLimiterFactory 根据后端选择限流器实现。redis 不可用时退回内存实现。
func newLimiterFactory(backend string, client goredis.UniversalClient) router.LimiterFactory {
	switch {
	case backend == ratelimitopts.BackendRedis && client != nil:
		return func(limit int, window time.Duration) middleware.RateLimiter {
			return middleware.NewRedisRateLimiter(client, limit, window)
		}
	case backend == ratelimitopts.BackendTokenBucket:
		return func(limit int, window time.Duration) middleware.RateLimiter {
			return middleware.NewTokenBucketRateLimiter(limit, window)
		}
	default:
		if backend == ratelimitopts.BackendRedis {
			logger.Warn("Redis rate limiter requested without redis, using in-memory limiter")
		}
		return func(limit int, window time.Duration) middleware.RateLimiter {
			return middleware.NewMemoryRateLimiter(limit, window)
		}
	}
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Embedding: %s (%s, %d dims)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model, cfg.EmbeddingOptions.Dimensions)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  Vector store: %s\n", cfg.DocQAOptions.VectorBackend)
}
