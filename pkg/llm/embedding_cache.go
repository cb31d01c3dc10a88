package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/kart-io/logger"
	gocache "github.com/patrickmn/go-cache"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/docqa/pkg/utils/json"
)

// EmbeddingCacheConfig Embedding 缓存配置。
type EmbeddingCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
	// Namespace 参与键计算，通常为 "模型名/维度"，避免不同模型的向量互相污染。
	Namespace string
}

// DefaultEmbeddingCacheConfig 返回默认的 Embedding 缓存配置。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		Enabled:   true,
		TTL:       24 * time.Hour, // Embedding 结果相对稳定，可以缓存更长时间
		KeyPrefix: "docqa:emb:",
	}
}

// EmbeddingCache 向量缓存后端。
type EmbeddingCache interface {
	// Get 返回缓存的向量，未命中时 ok 为 false。
	Get(ctx context.Context, key string) (vec []float32, ok bool, err error)
	// Set 写入向量。
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error
	// Clear 删除 prefix 下的所有缓存，返回删除数量。
	Clear(ctx context.Context, prefix string) (int, error)
}

// CachedEmbeddingProvider 提供 Embedding 缓存功能的包装器。
// 缓存故障只记录日志，不影响向量生成。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    EmbeddingCache
	config   *EmbeddingCacheConfig
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding Provider。
func NewCachedEmbeddingProvider(
	provider EmbeddingProvider,
	cache EmbeddingCache,
	config *EmbeddingCacheConfig,
) *CachedEmbeddingProvider {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	return &CachedEmbeddingProvider{
		provider: provider,
		cache:    cache,
		config:   config,
	}
}

func (c *CachedEmbeddingProvider) enabled() bool {
	return c.config.Enabled && c.cache != nil
}

// generateCacheKey 基于文本生成缓存键（使用 SHA256 哈希）。
func (c *CachedEmbeddingProvider) generateCacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.config.Namespace))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return c.config.KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// EmbedSingle 生成单个文本的 Embedding（带缓存）。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if !c.enabled() {
		return c.provider.EmbedSingle(ctx, text)
	}

	key := c.generateCacheKey(text)
	if vec, ok := c.lookup(ctx, key); ok {
		logger.Debugw("embedding cache hit", "text_length", len(text))
		return vec, nil
	}

	embedding, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, embedding)
	return embedding, nil
}

// Embed 批量生成 Embedding（带缓存），只为未命中的文本调用底层 provider。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.enabled() {
		return c.provider.Embed(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var uncachedIndices []int
	var uncachedTexts []string

	for i, text := range texts {
		keys[i] = c.generateCacheKey(text)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			embeddings[i] = vec
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}

	if len(uncachedTexts) == 0 {
		logger.Debugw("all embeddings from cache", "total", len(texts))
		return embeddings, nil
	}

	logger.Debugw("embedding cache miss (batch)", "total", len(texts), "uncached", len(uncachedTexts))
	fresh, err := c.provider.Embed(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(uncachedTexts) {
		return nil, errors.New("embedding provider returned a mismatched number of vectors")
	}

	for i, idx := range uncachedIndices {
		embeddings[idx] = fresh[i]
		c.store(ctx, keys[idx], fresh[i])
	}
	return embeddings, nil
}

func (c *CachedEmbeddingProvider) lookup(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.Warnw("embedding cache get failed, falling back to provider", "error", err.Error())
		return nil, false
	}
	return vec, ok
}

func (c *CachedEmbeddingProvider) store(ctx context.Context, key string, vec []float32) {
	if err := c.cache.Set(ctx, key, vec, c.config.TTL); err != nil {
		logger.Warnw("failed to cache embedding", "error", err.Error())
	}
}

// Name 返回底层 provider 的名称。
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name()
}

// ClearCache 清除所有 Embedding 缓存。
func (c *CachedEmbeddingProvider) ClearCache(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	n, err := c.cache.Clear(ctx, c.config.KeyPrefix)
	if err != nil {
		logger.Warnw("error during embedding cache clear", "error", err.Error())
		return err
	}
	logger.Infow("cleared embedding cache", "deleted_count", n)
	return nil
}

// 确保 CachedEmbeddingProvider 实现了 EmbeddingProvider 接口。
var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)

// RedisEmbeddingCache 基于 Redis 的向量缓存，多实例共享。
type RedisEmbeddingCache struct {
	client goredis.UniversalClient
}

// NewRedisEmbeddingCache 创建 Redis 向量缓存。
func NewRedisEmbeddingCache(client goredis.UniversalClient) *RedisEmbeddingCache {
	return &RedisEmbeddingCache{client: client}
}

// Get 实现 EmbeddingCache。损坏的缓存值会被删除并视为未命中。
func (r *RedisEmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		logger.Warnw("failed to unmarshal cached embedding, deleting", "error", err.Error(), "key", key)
		_ = r.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return vec, true, nil
}

// Set 实现 EmbeddingCache。
func (r *RedisEmbeddingCache) Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// Clear 使用 SCAN 删除前缀下的所有键。
func (r *RedisEmbeddingCache) Clear(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	return deleted, iter.Err()
}

// MemoryEmbeddingCache 基于 go-cache 的进程内向量缓存。
type MemoryEmbeddingCache struct {
	store *gocache.Cache
}

// NewMemoryEmbeddingCache 创建进程内向量缓存。
func NewMemoryEmbeddingCache(defaultTTL, cleanupInterval time.Duration) *MemoryEmbeddingCache {
	return &MemoryEmbeddingCache{store: gocache.New(defaultTTL, cleanupInterval)}
}

// Get 实现 EmbeddingCache。
func (m *MemoryEmbeddingCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	vec, ok := v.([]float32)
	return vec, ok, nil
}

// Set 实现 EmbeddingCache。
func (m *MemoryEmbeddingCache) Set(_ context.Context, key string, vec []float32, ttl time.Duration) error {
	m.store.Set(key, vec, ttl)
	return nil
}

// Clear 实现 EmbeddingCache。
func (m *MemoryEmbeddingCache) Clear(_ context.Context, prefix string) (int, error) {
	deleted := 0
	for key := range m.store.Items() {
		if strings.HasPrefix(key, prefix) {
			m.store.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}
