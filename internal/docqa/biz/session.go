package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/internal/docqa/blob"
	"github.com/kart-io/docqa/internal/docqa/metrics"
	"github.com/kart-io/docqa/internal/docqa/store"
	"github.com/kart-io/docqa/pkg/errors"
)

// SessionConfig 会话配置。
type SessionConfig struct {
	// MaxMessages 每个会话最多回答的问题数。
	MaxMessages int
	// TTL 会话空闲超过该时间后过期。
	TTL time.Duration
	// Collection 向量集合名称。
	Collection string
}

// DefaultSessionConfig 返回默认会话配置。
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxMessages: 100,
		TTL:         24 * time.Hour,
		Collection:  "docqa",
	}
}

// SessionInfo 会话概要。
type SessionInfo struct {
	SessionID         string `json:"session_id"`
	MessageCount      int    `json:"message_count"`
	LastAccessed      string `json:"last_accessed"`
	MessagesRemaining int    `json:"messages_remaining"`
}

// CleanupResult 会话清理结果。
type CleanupResult struct {
	Message           string `json:"message"`
	PineconeDeleted   bool   `json:"pinecone_deleted"`
	CloudinaryDeleted bool   `json:"cloudinary_deleted"`
	// VectorsDeleted 删除的文档块数量，只用于日志。
	VectorsDeleted int64 `json:"-"`
}

// SessionManager 管理会话的生命周期。
// 同一会话的变更通过按会话的 FIFO 锁串行执行，不同会话完全并发。
type SessionManager struct {
	sessions store.SessionStore
	vectors  store.VectorStore
	blobs    blob.Store
	locks    *keyedLocker
	config   *SessionConfig
	now      func() time.Time
}

// SessionOption 配置 SessionManager。
type SessionOption func(*SessionManager)

// WithClock 替换时钟，用于测试过期逻辑。
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// NewSessionManager 创建会话管理器。
func NewSessionManager(
	sessions store.SessionStore,
	vectors store.VectorStore,
	blobs blob.Store,
	config *SessionConfig,
	opts ...SessionOption,
) *SessionManager {
	if config == nil {
		config = DefaultSessionConfig()
	}
	m := &SessionManager{
		sessions: sessions,
		vectors:  vectors,
		blobs:    blobs,
		locks:    newKeyedLocker(),
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle 持有一个会话的锁，直到 Release。
type Handle struct {
	m        *SessionManager
	session  *store.Session
	released bool
}

// SessionID 返回会话 ID。
func (h *Handle) SessionID() string {
	return h.session.ID
}

// MemoryLog 返回对话记录的拷贝。
func (h *Handle) MemoryLog() []string {
	return append([]string(nil), h.session.MemoryLog...)
}

// SetMemoryLog 替换对话记录。
func (h *Handle) SetMemoryLog(log []string) {
	h.session.MemoryLog = append([]string(nil), log...)
	h.save()
}

// RecordTurn 追加一轮可见历史并增加消息计数。
func (h *Handle) RecordTurn(query, response string) {
	h.session.VisibleHistory = append(h.session.VisibleHistory, store.Turn{UserQuery: query, RAGResponse: response})
	h.session.MessageCount++
	h.save()
}

// Release 释放会话锁，可重复调用。
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.m.locks.Unlock(h.session.ID)
}

func (h *Handle) save() {
	h.session.LastAccessed = h.m.now()
	h.m.sessions.Put(h.session)
}

// Admit 校验请求并获取会话锁，会话不存在时创建。
// 调用方必须在结束时调用 Handle.Release。
func (m *SessionManager) Admit(ctx context.Context, sessionID, query string) (*Handle, error) {
	if !IsValidSessionID(sessionID) {
		return nil, errors.ErrInvalidSessionID
	}
	if err := ValidateQuery(query); err != nil {
		return nil, err
	}

	m.sweep()

	if err := m.locks.Lock(ctx, sessionID); err != nil {
		return nil, errors.ErrRequestTimeout.WithCause(err)
	}

	now := m.now()
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		s = &store.Session{ID: sessionID, CreatedAt: now}
		logger.Infow("Session created", "session_id", sessionID)
	}
	s.LastAccessed = now
	m.sessions.Put(s)
	metrics.ActiveSessions.Set(float64(m.sessions.Len()))

	if s.MessageCount >= m.config.MaxMessages {
		m.locks.Unlock(sessionID)
		return nil, errors.ErrQuotaExceeded
	}
	return &Handle{m: m, session: s}, nil
}

// RecordTurn 在未持有 Handle 时记录一轮问答。
func (m *SessionManager) RecordTurn(ctx context.Context, sessionID, query, response string) error {
	if !IsValidSessionID(sessionID) {
		return errors.ErrInvalidSessionID
	}
	if err := m.locks.Lock(ctx, sessionID); err != nil {
		return errors.ErrRequestTimeout.WithCause(err)
	}
	defer m.locks.Unlock(sessionID)

	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return errors.ErrSessionNotFound
	}
	h := &Handle{m: m, session: s, released: true}
	h.RecordTurn(query, response)
	return nil
}

// History 返回会话的完整问答历史。
func (m *SessionManager) History(sessionID string) ([]store.Turn, error) {
	if !IsValidSessionID(sessionID) {
		return nil, errors.ErrInvalidSessionID
	}
	m.sweep()

	s, ok := m.sessions.Touch(sessionID, m.now())
	if !ok {
		return nil, errors.ErrSessionNotFound.WithMessage("No history found for this session.")
	}
	if s.VisibleHistory == nil {
		return []store.Turn{}, nil
	}
	return s.VisibleHistory, nil
}

// Info 返回会话概要。
func (m *SessionManager) Info(sessionID string) (*SessionInfo, error) {
	m.sweep()

	s, ok := m.sessions.Touch(sessionID, m.now())
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return &SessionInfo{
		SessionID:         s.ID,
		MessageCount:      s.MessageCount,
		LastAccessed:      s.LastAccessed.Format(time.RFC3339),
		MessagesRemaining: max(m.config.MaxMessages-s.MessageCount, 0),
	}, nil
}

// Touch 刷新会话的最后访问时间，会话不存在时创建。
func (m *SessionManager) Touch(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func() error {
		m.touchLocked(sessionID)
		return nil
	})
}

// WithLock 持有会话锁执行 fn，同一会话的写操作由此串行化。
func (m *SessionManager) WithLock(ctx context.Context, sessionID string, fn func() error) error {
	if !IsValidSessionID(sessionID) {
		return errors.ErrInvalidSessionID
	}
	if err := m.locks.Lock(ctx, sessionID); err != nil {
		return errors.ErrRequestTimeout.WithCause(err)
	}
	defer m.locks.Unlock(sessionID)
	return fn()
}

// touchLocked 调用方须持有会话锁。
func (m *SessionManager) touchLocked(sessionID string) {
	now := m.now()
	if _, ok := m.sessions.Touch(sessionID, now); ok {
		return
	}
	m.sessions.Put(&store.Session{ID: sessionID, CreatedAt: now, LastAccessed: now})
	metrics.ActiveSessions.Set(float64(m.sessions.Len()))
	logger.Infow("Session created", "session_id", sessionID)
}

// Cleanup 删除会话的文档块和会话状态，blobID 非空时尽力删除原始文件。
// 会话不存在时同样返回成功。
func (m *SessionManager) Cleanup(ctx context.Context, sessionID, blobID string) (*CleanupResult, error) {
	if !IsValidSessionID(sessionID) {
		return nil, errors.ErrInvalidSessionID
	}
	if err := m.locks.Lock(ctx, sessionID); err != nil {
		return nil, errors.ErrRequestTimeout.WithCause(err)
	}
	defer m.locks.Unlock(sessionID)

	deleted, err := m.vectors.DeleteBySession(ctx, m.config.Collection, sessionID)
	if err != nil {
		return nil, errors.ErrCleanupFailed.WithCause(err)
	}

	if m.sessions.Delete(sessionID) {
		metrics.SessionsRemoved.WithLabelValues("cleanup").Inc()
		metrics.ActiveSessions.Set(float64(m.sessions.Len()))
	}

	result := &CleanupResult{
		Message:         fmt.Sprintf("Session %s cleaned up successfully", sessionID),
		PineconeDeleted: true,
		VectorsDeleted:  deleted,
	}
	if blobID != "" && m.blobs != nil {
		if err := m.blobs.Delete(context.WithoutCancel(ctx), blobID); err != nil {
			logger.Warnw("Failed to delete uploaded file", "session_id", sessionID, "blob_id", blobID, "error", err.Error())
		} else {
			result.CloudinaryDeleted = true
		}
	}

	logger.Infow("Session cleaned up",
		"session_id", sessionID,
		"vectors_deleted", deleted,
		"blob_deleted", result.CloudinaryDeleted,
	)
	return result, nil
}

// Stats 返回向量索引的统计信息。
func (m *SessionManager) Stats(ctx context.Context) (*store.IndexStats, error) {
	stats, err := m.vectors.Stats(ctx, m.config.Collection)
	if err != nil {
		return nil, errors.ErrStatsUnavailable.WithCause(err)
	}
	return stats, nil
}

// sweep 删除空闲超过 TTL 的会话。
func (m *SessionManager) sweep() {
	if m.config.TTL <= 0 {
		return
	}
	expired := m.sessions.EvictIdle(m.now().Add(-m.config.TTL))
	if len(expired) == 0 {
		return
	}
	metrics.SessionsRemoved.WithLabelValues("expired").Add(float64(len(expired)))
	metrics.ActiveSessions.Set(float64(m.sessions.Len()))
	for _, id := range expired {
		logger.Infow("Expired session cleaned up", "session_id", id)
	}
}
