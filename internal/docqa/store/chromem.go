package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemStore 实现基于 chromem-go 的进程内向量存储，用于本地运行和测试。
type ChromemStore struct {
	db *chromem.DB

	mu   sync.Mutex
	dims map[string]int
}

// NewChromemStore 创建 chromem 存储。path 为空时数据只保存在内存中。
func NewChromemStore(path string) (*ChromemStore, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		if db, err = chromem.NewPersistentDB(path, true); err != nil {
			return nil, fmt.Errorf("failed to open chromem db: %w", err)
		}
	}
	return &ChromemStore{db: db, dims: make(map[string]int)}, nil
}

// EnsureCollection 创建集合（已存在时跳过）。
func (s *ChromemStore) EnsureCollection(_ context.Context, config *CollectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dims[config.Name]; ok {
		return nil
	}
	meta := map[string]string{
		"description": config.Description,
		"dimension":   strconv.Itoa(config.Dimension),
	}
	if _, err := s.db.GetOrCreateCollection(config.Name, meta, nil); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	s.dims[config.Name] = config.Dimension
	return nil
}

// Insert 批量插入文档块。
func (s *ChromemStore) Insert(ctx context.Context, collection string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// 写操作串行执行，保证 DeleteBySession 的计数准确
	s.mu.Lock()
	defer s.mu.Unlock()

	col, dim, err := s.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		if chunk.SessionID == "" {
			return fmt.Errorf("chunk %s: %w", chunk.ID, ErrSessionRequired)
		}
		if dim > 0 && len(chunk.Embedding) != dim {
			return fmt.Errorf("chunk %s: embedding dimension %d, want %d", chunk.ID, len(chunk.Embedding), dim)
		}
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Content,
			Embedding: chunk.Embedding,
			Metadata: map[string]string{
				fieldSessionID:  chunk.SessionID,
				fieldStartIndex: strconv.Itoa(chunk.StartIndex),
				fieldSource:     chunk.Source,
			},
		}
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to insert into chromem: %w", err)
	}
	return nil
}

// Search 执行带会话过滤的向量相似度搜索。
func (s *ChromemStore) Search(ctx context.Context, collection string, embedding []float32, opts SearchOptions) ([]*SearchResult, error) {
	if opts.SessionID == "" {
		return nil, ErrSessionRequired
	}
	col := s.db.GetCollection(collection, nil)
	if col == nil || opts.TopK <= 0 {
		return []*SearchResult{}, nil
	}

	n := min(opts.TopK, col.Count())
	if n == 0 {
		return []*SearchResult{}, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, map[string]string{fieldSessionID: opts.SessionID}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search chromem: %w", err)
	}

	searchResults := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity <= opts.ScoreThreshold {
			continue
		}
		start, _ := strconv.Atoi(r.Metadata[fieldStartIndex])
		searchResults = append(searchResults, &SearchResult{
			ID:         r.ID,
			Content:    r.Content,
			StartIndex: start,
			SessionID:  r.Metadata[fieldSessionID],
			Source:     r.Metadata[fieldSource],
			Score:      r.Similarity,
		})
	}
	return searchResults, nil
}

// DeleteBySession 删除会话的全部文档块。
func (s *ChromemStore) DeleteBySession(ctx context.Context, collection, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, ErrSessionRequired
	}
	col := s.db.GetCollection(collection, nil)
	if col == nil {
		return 0, nil
	}

	// chromem 不返回删除数量，按删除前后的差值计算
	s.mu.Lock()
	defer s.mu.Unlock()
	before := col.Count()
	if err := col.Delete(ctx, map[string]string{fieldSessionID: sessionID}, nil); err != nil {
		return 0, fmt.Errorf("failed to delete from chromem: %w", err)
	}
	return int64(before - col.Count()), nil
}

// Stats 获取集合统计信息。
func (s *ChromemStore) Stats(_ context.Context, collection string) (*IndexStats, error) {
	stats := &IndexStats{IndexName: collection}
	if col := s.db.GetCollection(collection, nil); col != nil {
		stats.TotalVectors = int64(col.Count())
	}
	return stats, nil
}

// Close 无需释放资源。
func (s *ChromemStore) Close(context.Context) error {
	return nil
}

// collection 调用方需持有 s.mu。
func (s *ChromemStore) collection(name string) (*chromem.Collection, int, error) {
	dim := s.dims[name]
	col := s.db.GetCollection(name, nil)
	if col == nil {
		return nil, 0, fmt.Errorf("collection %s does not exist", name)
	}
	return col, dim, nil
}

var _ VectorStore = (*ChromemStore)(nil)
