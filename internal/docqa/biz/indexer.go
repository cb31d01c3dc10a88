package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/internal/docqa/blob"
	"github.com/kart-io/docqa/internal/docqa/metrics"
	"github.com/kart-io/docqa/internal/docqa/store"
	"github.com/kart-io/docqa/internal/pkg/docqa/pdfutil"
	"github.com/kart-io/docqa/internal/pkg/docqa/textutil"
	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/infra/pool"
	"github.com/kart-io/docqa/pkg/llm"
	"github.com/kart-io/docqa/pkg/utils/id"
)

// IndexerConfig 索引器配置。
type IndexerConfig struct {
	// ChunkSize 文本块大小（字符）。
	ChunkSize int
	// ChunkOverlap 相邻块重叠大小（字符）。
	ChunkOverlap int
	// Collection 集合名称。
	Collection string
	// EmbeddingDim 嵌入向量维度。
	EmbeddingDim int
	// EmbedBatchSize 每次嵌入请求的文本数。
	EmbedBatchSize int
}

// DefaultIndexerConfig 返回默认索引器配置。
func DefaultIndexerConfig() *IndexerConfig {
	return &IndexerConfig{
		ChunkSize:      1000,
		ChunkOverlap:   200,
		Collection:     "docqa",
		EmbeddingDim:   1536,
		EmbedBatchSize: 64,
	}
}

// DocumentRef 引用对象存储中的文档。
type DocumentRef struct {
	// ID 对象 ID。
	ID string
	// URL 对象访问地址。
	URL string
}

// DocumentLoader 读取文档的纯文本内容。
type DocumentLoader interface {
	Load(ctx context.Context, ref DocumentRef) (string, error)
}

// BlobPDFLoader 从对象存储读取 PDF 并抽取文本。
type BlobPDFLoader struct {
	blobs blob.Store
}

// NewBlobPDFLoader 创建 PDF 加载器。
func NewBlobPDFLoader(blobs blob.Store) *BlobPDFLoader {
	return &BlobPDFLoader{blobs: blobs}
}

// Load 读取并解析 PDF。
func (l *BlobPDFLoader) Load(ctx context.Context, ref DocumentRef) (string, error) {
	data, err := l.blobs.Get(ctx, ref.ID)
	if err != nil {
		return "", errors.ErrBlobFetch.WithCause(err)
	}
	doc, err := pdfutil.ExtractText(data)
	if err != nil {
		return "", errors.ErrContentExtraction.WithCause(err)
	}
	logger.Debugw("PDF text extracted", "id", ref.ID, "pages", doc.PageCount, "text_pages", doc.Pages)
	return doc.Text, nil
}

// Indexer 负责文档索引。
type Indexer struct {
	store         store.VectorStore
	embedProvider llm.EmbeddingProvider
	loader        DocumentLoader
	pool          *pool.Pool
	config        *IndexerConfig
}

// NewIndexer 创建索引器实例。workers 为 nil 时按批次顺序嵌入。
func NewIndexer(
	vectorStore store.VectorStore,
	embedProvider llm.EmbeddingProvider,
	loader DocumentLoader,
	workers *pool.Pool,
	config *IndexerConfig,
) *Indexer {
	if config == nil {
		config = DefaultIndexerConfig()
	}
	return &Indexer{
		store:         vectorStore,
		embedProvider: embedProvider,
		loader:        loader,
		pool:          workers,
		config:        config,
	}
}

// IndexDocument 读取文档、分块并写入会话标记的向量索引，返回写入的块数。
// 任一批次失败都会使整个调用失败，已写入的部分不会回滚。
func (i *Indexer) IndexDocument(ctx context.Context, sessionID string, ref DocumentRef) (n int, err error) {
	defer func() { metrics.RecordIndex(n, err) }()

	if !IsValidSessionID(sessionID) {
		return 0, errors.ErrInvalidSessionID
	}

	start := time.Now()
	text, err := i.loader.Load(ctx, ref)
	if err != nil {
		return 0, asErrno(err, errors.ErrContentExtraction)
	}
	if strings.TrimSpace(text) == "" {
		return 0, errors.ErrContentExtraction
	}

	pieces := textutil.SplitWithOffsets(text, i.config.ChunkSize, i.config.ChunkOverlap)
	if len(pieces) == 0 {
		return 0, errors.ErrContentExtraction
	}

	ids := id.NewULIDs(len(pieces))
	chunks := make([]*store.Chunk, len(pieces))
	for idx, p := range pieces {
		chunks[idx] = &store.Chunk{
			ID:         ids[idx],
			Content:    p.Text,
			StartIndex: p.Start,
			SessionID:  sessionID,
			Source:     ref.ID,
		}
	}
	metrics.ObserveStage("load", start)

	if err := i.store.EnsureCollection(ctx, &store.CollectionConfig{
		Name:        i.config.Collection,
		Description: "session scoped document chunks",
		Dimension:   i.config.EmbeddingDim,
	}); err != nil {
		return 0, errors.ErrIndexFailed.WithCause(err)
	}

	start = time.Now()
	if err := i.embed(ctx, chunks); err != nil {
		return 0, errors.ErrUpstream.WithCause(err)
	}
	metrics.ObserveStage("embed", start)

	start = time.Now()
	if err := i.store.Insert(ctx, i.config.Collection, chunks); err != nil {
		return 0, errors.ErrIndexFailed.WithCause(err)
	}
	metrics.ObserveStage("insert", start)

	logger.Infow("Document indexed",
		"session_id", sessionID,
		"source", ref.ID,
		"chunks", len(chunks),
		"chars", len([]rune(text)),
	)
	return len(chunks), nil
}

// embed 分批生成嵌入向量，批次并发提交到工作池。
func (i *Indexer) embed(ctx context.Context, chunks []*store.Chunk) error {
	size := i.config.EmbedBatchSize
	if size <= 0 {
		size = len(chunks)
	}

	var tasks []func(ctx context.Context) error
	for lo := 0; lo < len(chunks); lo += size {
		batch := chunks[lo:min(lo+size, len(chunks))]
		tasks = append(tasks, func(ctx context.Context) error {
			return i.embedBatch(ctx, batch)
		})
	}

	if i.pool == nil || len(tasks) == 1 {
		for _, task := range tasks {
			if err := task(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return i.pool.RunAll(ctx, tasks)
}

func (i *Indexer) embedBatch(ctx context.Context, batch []*store.Chunk) error {
	texts := make([]string, len(batch))
	for idx, c := range batch {
		texts[idx] = c.Content
	}
	vectors, err := i.embedProvider.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(batch) {
		return errors.ErrUpstream.WithMessagef("embedding provider returned %d vectors for %d texts", len(vectors), len(batch))
	}
	for idx, c := range batch {
		if i.config.EmbeddingDim > 0 && len(vectors[idx]) != i.config.EmbeddingDim {
			return errors.ErrUpstream.WithMessagef("embedding dimension %d, want %d", len(vectors[idx]), i.config.EmbeddingDim)
		}
		c.Embedding = vectors[idx]
	}
	return nil
}
