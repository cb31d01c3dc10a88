package biz

import (
	"context"
	"sort"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/internal/docqa/metrics"
	"github.com/kart-io/docqa/internal/docqa/store"
	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/llm"
)

// RetrieverConfig 检索器配置。
type RetrieverConfig struct {
	// TopK 最多返回的结果数量。
	TopK int
	// ScoreThreshold 结果分数必须严格大于该阈值。
	ScoreThreshold float32
	// Collection 集合名称。
	Collection string
}

// DefaultRetrieverConfig 返回默认检索器配置。
func DefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		TopK:           10,
		ScoreThreshold: 0.4,
		Collection:     "docqa",
	}
}

// Retriever 负责会话内的文档检索。
type Retriever struct {
	store         store.VectorStore
	embedProvider llm.EmbeddingProvider
	config        *RetrieverConfig
}

// NewRetriever 创建检索器实例。
func NewRetriever(vectorStore store.VectorStore, embedProvider llm.EmbeddingProvider, config *RetrieverConfig) *Retriever {
	if config == nil {
		config = DefaultRetrieverConfig()
	}
	return &Retriever{
		store:         vectorStore,
		embedProvider: embedProvider,
		config:        config,
	}
}

// Retrieve 返回会话内与 query 相关的文档块文本，按相似度降序排列。
// 没有结果时返回空切片。
func (r *Retriever) Retrieve(ctx context.Context, query, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, errors.ErrInvalidSessionID
	}

	start := time.Now()
	defer metrics.ObserveStage("retrieve", start)

	embedding, err := r.embedProvider.EmbedSingle(ctx, query)
	if err != nil {
		return nil, errors.ErrUpstream.WithCause(err)
	}

	results, err := r.store.Search(ctx, r.config.Collection, embedding, store.SearchOptions{
		TopK:           r.config.TopK,
		ScoreThreshold: r.config.ScoreThreshold,
		SessionID:      sessionID,
	})
	if err != nil {
		return nil, errors.ErrUpstream.WithCause(err)
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	contexts := make([]string, 0, len(results))
	for _, res := range results {
		if res.SessionID != "" && res.SessionID != sessionID {
			logger.Errorw("search returned a chunk of another session", "session_id", sessionID, "chunk_id", res.ID)
			continue
		}
		contexts = append(contexts, res.Content)
	}

	logger.Debugw("Context retrieved", "session_id", sessionID, "candidates", len(results), "contexts", len(contexts))
	return contexts, nil
}
