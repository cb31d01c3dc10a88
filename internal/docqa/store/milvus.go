package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/docqa/pkg/component/milvus"
)

// Milvus 元数据字段。
const (
	fieldSessionID  = "session_id"
	fieldContent    = "content"
	fieldStartIndex = "start_index"
	fieldSource     = "source"
)

var outputFields = []string{fieldSessionID, fieldContent, fieldStartIndex, fieldSource}

// milvusClient 是 MilvusStore 用到的 milvus.Client 方法集。
type milvusClient interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema *milvus.CollectionSchema) error
	Insert(ctx context.Context, collectionName string, data *milvus.InsertData) error
	Search(ctx context.Context, collectionName string, vector []float32, topK int, filter string, outputFields []string) ([]milvus.SearchResult, error)
	DeleteByFilter(ctx context.Context, collectionName, filter string) (int64, error)
	GetCollectionStats(ctx context.Context, collectionName string) (int64, error)
	Close(ctx context.Context) error
}

var _ milvusClient = (*milvus.Client)(nil)

// MilvusStore 实现基于 Milvus 的向量存储。
type MilvusStore struct {
	client milvusClient

	mu      sync.Mutex
	ensured map[string]bool
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client) *MilvusStore {
	return newMilvusStore(client)
}

func newMilvusStore(client milvusClient) *MilvusStore {
	return &MilvusStore{client: client, ensured: make(map[string]bool)}
}

// EnsureCollection 创建 Milvus 集合（已存在时跳过）。
func (s *MilvusStore) EnsureCollection(ctx context.Context, config *CollectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured[config.Name] {
		return nil
	}

	schema := &milvus.CollectionSchema{
		Name:        config.Name,
		Description: config.Description,
		Dimension:   config.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: fieldSessionID, DataType: entity.FieldTypeVarChar, MaxLen: 128},
			{Name: fieldContent, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: fieldStartIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldSource, DataType: entity.FieldTypeVarChar, MaxLen: 512},
		},
	}
	if err := s.client.CreateCollection(ctx, schema); err != nil {
		return err
	}
	s.ensured[config.Name] = true
	return nil
}

// Insert 批量插入文档块到 Milvus。
func (s *MilvusStore) Insert(ctx context.Context, collection string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	metadata := map[string][]any{
		fieldSessionID:  make([]any, len(chunks)),
		fieldContent:    make([]any, len(chunks)),
		fieldStartIndex: make([]any, len(chunks)),
		fieldSource:     make([]any, len(chunks)),
	}

	for i, chunk := range chunks {
		if chunk.SessionID == "" {
			return fmt.Errorf("chunk %s: %w", chunk.ID, ErrSessionRequired)
		}
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		metadata[fieldSessionID][i] = chunk.SessionID
		metadata[fieldContent][i] = chunk.Content
		metadata[fieldStartIndex][i] = int64(chunk.StartIndex)
		metadata[fieldSource][i] = chunk.Source
	}

	data := &milvus.InsertData{
		IDs:        ids,
		Embeddings: embeddings,
		Metadata:   metadata,
	}
	if err := s.client.Insert(ctx, collection, data); err != nil {
		return fmt.Errorf("failed to insert into milvus: %w", err)
	}
	return nil
}

// Search 执行带会话过滤的向量相似度搜索。
func (s *MilvusStore) Search(ctx context.Context, collection string, embedding []float32, opts SearchOptions) ([]*SearchResult, error) {
	if opts.SessionID == "" {
		return nil, ErrSessionRequired
	}
	if opts.TopK <= 0 {
		return []*SearchResult{}, nil
	}

	results, err := s.client.Search(ctx, collection, embedding, opts.TopK, sessionFilter(opts.SessionID), outputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	searchResults := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score <= opts.ScoreThreshold {
			continue
		}
		result := &SearchResult{ID: r.ID, Score: r.Score}
		result.SessionID, _ = r.Metadata[fieldSessionID].(string)
		result.Content, _ = r.Metadata[fieldContent].(string)
		result.Source, _ = r.Metadata[fieldSource].(string)
		if v, ok := r.Metadata[fieldStartIndex].(int64); ok {
			result.StartIndex = int(v)
		}
		// 过滤表达式之外再校验一次，避免跨会话泄露
		if result.SessionID != opts.SessionID {
			continue
		}
		searchResults = append(searchResults, result)
	}
	return searchResults, nil
}

// DeleteBySession 删除会话的全部文档块。集合不存在时返回 0。
func (s *MilvusStore) DeleteBySession(ctx context.Context, collection, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, ErrSessionRequired
	}
	exists, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	return s.client.DeleteByFilter(ctx, collection, sessionFilter(sessionID))
}

// Stats 获取集合统计信息。集合不存在时向量数为 0。
func (s *MilvusStore) Stats(ctx context.Context, collection string) (*IndexStats, error) {
	stats := &IndexStats{IndexName: collection}
	exists, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return stats, nil
	}
	total, err := s.client.GetCollectionStats(ctx, collection)
	if err != nil {
		return nil, err
	}
	stats.TotalVectors = total
	return stats, nil
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// sessionFilter 构造 session_id 等值过滤表达式。
func sessionFilter(sessionID string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return fieldSessionID + ` == "` + r.Replace(sessionID) + `"`
}

// 确保 MilvusStore 实现了 VectorStore 接口。
var _ VectorStore = (*MilvusStore)(nil)
