package store

import (
	"context"
	"errors"
	"time"
)

// ErrSessionRequired 表示检索或删除时缺少会话过滤条件。
var ErrSessionRequired = errors.New("session id is required")

// Chunk 表示带会话标记的文档块。
type Chunk struct {
	// ID 文档块 ID。
	ID string
	// Content 文档块文本。
	Content string
	// StartIndex 文档块在抽取文本中的起始位置（按字符计）。
	StartIndex int
	// SessionID 所属会话。
	SessionID string
	// Source 文档块来源的对象 ID。
	Source string
	// Embedding 嵌入向量。
	Embedding []float32
}

// SearchResult 表示检索结果。
type SearchResult struct {
	ID         string
	Content    string
	StartIndex int
	SessionID  string
	Source     string
	// Score 余弦相似度。
	Score float32
}

// SearchOptions 检索参数。
type SearchOptions struct {
	// TopK 最多返回的结果数。
	TopK int
	// ScoreThreshold 结果分数必须严格大于该值。
	ScoreThreshold float32
	// SessionID 必填的会话过滤条件。
	SessionID string
}

// CollectionConfig 集合配置。
type CollectionConfig struct {
	// Name 集合名称。
	Name string
	// Description 集合描述。
	Description string
	// Dimension 向量维度。
	Dimension int
}

// IndexStats 索引统计信息。
type IndexStats struct {
	TotalVectors int64  `json:"total_vectors"`
	IndexName    string `json:"index_name"`
}

// VectorStore 定义向量存储接口。
type VectorStore interface {
	// EnsureCollection 在集合不存在时创建集合，可并发调用。
	EnsureCollection(ctx context.Context, config *CollectionConfig) error

	// Insert 批量插入文档块。
	Insert(ctx context.Context, collection string, chunks []*Chunk) error

	// Search 在指定会话内按相似度降序检索。
	Search(ctx context.Context, collection string, embedding []float32, opts SearchOptions) ([]*SearchResult, error)

	// DeleteBySession 删除会话的全部文档块，返回删除数量。
	DeleteBySession(ctx context.Context, collection, sessionID string) (int64, error)

	// Stats 获取集合统计信息。
	Stats(ctx context.Context, collection string) (*IndexStats, error)

	// Close 关闭连接。
	Close(ctx context.Context) error
}

// Turn 是客户端可见的一轮问答。
type Turn struct {
	UserQuery   string `json:"user_query"`
	RAGResponse string `json:"rag_response"`
}

// Session 是一个会话的全部状态。
type Session struct {
	ID string
	// MemoryLog 供模型使用的对话记录，可能被压缩为摘要。
	MemoryLog []string
	// VisibleHistory 完整的问答历史，从不压缩。
	VisibleHistory []Turn
	// MessageCount 已回答的问题数。
	MessageCount int
	LastAccessed time.Time
	CreatedAt    time.Time
}

// Clone 返回会话的深拷贝。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.MemoryLog = append([]string(nil), s.MemoryLog...)
	c.VisibleHistory = append([]Turn(nil), s.VisibleHistory...)
	return &c
}

// SessionStore 定义会话存储接口。返回的会话都是拷贝，修改后需调用 Put 写回。
type SessionStore interface {
	// Get 返回会话，不存在时 ok 为 false。
	Get(id string) (*Session, bool)

	// Put 创建或替换会话。
	Put(s *Session)

	// Touch 更新会话的 LastAccessed 并返回更新后的拷贝，不存在时 ok 为 false。
	Touch(id string, at time.Time) (*Session, bool)

	// Delete 删除会话，返回会话是否存在。
	Delete(id string) bool

	// EvictIdle 删除 LastAccessed 早于 before 的会话，返回被删除的 ID。
	EvictIdle(before time.Time) []string

	// Len 返回会话数量。
	Len() int
}
