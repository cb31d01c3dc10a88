package biz

import (
	"context"
	"fmt"
	"path/filepath"
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
)

// Service 定义文档问答服务接口。
type Service interface {
	// Upload 保存并索引一个 PDF。
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	// Query 在会话范围内回答问题。
	Query(ctx context.Context, sessionID, query string) (*QueryResult, error)
	// History 返回会话的问答历史。
	History(ctx context.Context, sessionID string) ([]store.Turn, error)
	// SessionInfo 返回会话概要。
	SessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error)
	// Cleanup 删除会话的全部数据。
	Cleanup(ctx context.Context, sessionID, blobID string) (*CleanupResult, error)
	// Stats 返回索引统计。
	Stats(ctx context.Context) (*store.IndexStats, error)
}

// UploadConfig 上传配置。
type UploadConfig struct {
	// MaxFileSize 单个文件的最大字节数。
	MaxFileSize int64
	// BlobPrefix 对象名前缀。
	BlobPrefix string
	// Timeout 保存原始文件的超时时间。
	Timeout time.Duration
}

// DefaultUploadConfig 返回默认上传配置。
func DefaultUploadConfig() *UploadConfig {
	return &UploadConfig{
		MaxFileSize: 10 << 20,
		BlobPrefix:  "pdfs/",
		Timeout:     60 * time.Second,
	}
}

// UploadRequest 上传请求。
type UploadRequest struct {
	SessionID   string
	FileName    string
	ContentType string
	Data        []byte
}

// UploadResult 上传结果。
type UploadResult struct {
	Message            string `json:"message"`
	CloudinaryURL      string `json:"cloudinary_url"`
	CloudinaryPublicID string `json:"cloudinary_public_id"`
	ChunkCount         int    `json:"chunk_count"`
	EmbeddingResult    string `json:"embedding_result"`
	SessionID          string `json:"session_id"`
}

// QueryResult 查询结果。
type QueryResult struct {
	RAGResponse string `json:"rag_response"`
}

// ServiceConfig 文档问答服务配置。
type ServiceConfig struct {
	IndexerConfig   *IndexerConfig
	RetrieverConfig *RetrieverConfig
	MemoryConfig    *MemoryConfig
	GeneratorConfig *GeneratorConfig
	SessionConfig   *SessionConfig
	UploadConfig    *UploadConfig
	GuardEnabled    bool
}

// DefaultServiceConfig 返回默认服务配置。
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		IndexerConfig:   DefaultIndexerConfig(),
		RetrieverConfig: DefaultRetrieverConfig(),
		MemoryConfig:    DefaultMemoryConfig(),
		GeneratorConfig: DefaultGeneratorConfig(),
		SessionConfig:   DefaultSessionConfig(),
		UploadConfig:    DefaultUploadConfig(),
		GuardEnabled:    true,
	}
}

// DocQAService 组合索引、检索、对话记录、生成和会话管理。
type DocQAService struct {
	indexer   *Indexer
	retriever *Retriever
	memory    *Memory
	generator *Generator
	guard     *Guard
	sessions  *SessionManager
	blobs     blob.Store
	upload    *UploadConfig
}

var _ Service = (*DocQAService)(nil)

// NewDocQAService 创建文档问答服务。workers 为 nil 时顺序嵌入。
func NewDocQAService(
	vectorStore store.VectorStore,
	sessionStore store.SessionStore,
	blobs blob.Store,
	embedProvider llm.EmbeddingProvider,
	chatProvider llm.ChatProvider,
	workers *pool.Pool,
	config *ServiceConfig,
	opts ...SessionOption,
) *DocQAService {
	if config == nil {
		config = DefaultServiceConfig()
	}
	upload := config.UploadConfig
	if upload == nil {
		upload = DefaultUploadConfig()
	}

	return &DocQAService{
		indexer:   NewIndexer(vectorStore, embedProvider, NewBlobPDFLoader(blobs), workers, config.IndexerConfig),
		retriever: NewRetriever(vectorStore, embedProvider, config.RetrieverConfig),
		memory:    NewMemory(NewLLMSummarizer(chatProvider), config.MemoryConfig),
		generator: NewGenerator(chatProvider, config.GeneratorConfig),
		guard:     NewGuard(config.GuardEnabled),
		sessions:  NewSessionManager(sessionStore, vectorStore, blobs, config.SessionConfig, opts...),
		blobs:     blobs,
		upload:    upload,
	}
}

// Sessions 返回会话管理器。
func (s *DocQAService) Sessions() *SessionManager {
	return s.sessions
}

// Upload 校验文件，保存原始文件并建立会话索引。
// 索引失败时尽力删除已保存的文件。
func (s *DocQAService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if err := s.validateUpload(req); err != nil {
		return nil, err
	}

	logger.Infow("Uploading PDF", "session_id", req.SessionID, "size", len(req.Data))

	name := s.upload.BlobPrefix + req.SessionID + "_" + textutil.SanitizeFileName(req.FileName, "document")
	putCtx := ctx
	if s.upload.Timeout > 0 {
		var cancel context.CancelFunc
		putCtx, cancel = context.WithTimeout(ctx, s.upload.Timeout)
		defer cancel()
	}
	obj, err := s.blobs.Put(putCtx, name, pdfutil.ContentType, req.Data)
	if err != nil {
		return nil, errors.ErrBlobUpload.WithCause(err)
	}
	logger.Infow("PDF stored", "session_id", req.SessionID, "blob_id", obj.ID, "url", obj.URL)

	// 索引与会话创建在会话锁内完成，避免与 Cleanup 交错
	var n int
	err = s.sessions.WithLock(ctx, req.SessionID, func() error {
		var ierr error
		if n, ierr = s.indexer.IndexDocument(ctx, req.SessionID, DocumentRef{ID: obj.ID, URL: obj.URL}); ierr != nil {
			return ierr
		}
		s.sessions.touchLocked(req.SessionID)
		return nil
	})
	if err != nil {
		logger.Errorw("Failed to index PDF", "session_id", req.SessionID, "blob_id", obj.ID, "error", err.Error())
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), obj.ID); derr != nil {
			logger.Errorw("Failed to cleanup stored PDF", "blob_id", obj.ID, "error", derr.Error())
		} else {
			logger.Infow("Cleaned up stored PDF", "blob_id", obj.ID)
		}
		return nil, err
	}

	return &UploadResult{
		Message:            "PDF uploaded and embedded successfully",
		CloudinaryURL:      obj.URL,
		CloudinaryPublicID: obj.ID,
		ChunkCount:         n,
		EmbeddingResult:    fmt.Sprintf("Processed %d chunks from %s", n, obj.URL),
		SessionID:          req.SessionID,
	}, nil
}

func (s *DocQAService) validateUpload(req *UploadRequest) error {
	switch {
	case req == nil || !IsValidSessionID(req.SessionID):
		return errors.ErrInvalidSessionID
	case req.ContentType != pdfutil.ContentType:
		return errors.ErrInvalidFile.WithMessage("Only PDF files are allowed")
	case !strings.EqualFold(filepath.Ext(req.FileName), ".pdf"):
		return errors.ErrInvalidFile.WithMessage("File must have .pdf extension")
	case s.upload.MaxFileSize > 0 && int64(len(req.Data)) > s.upload.MaxFileSize:
		return errors.ErrInvalidFile.WithMessagef("File size exceeds %gMB limit", float64(s.upload.MaxFileSize)/(1<<20))
	case len(req.Data) == 0:
		return errors.ErrInvalidFile.WithMessage("File is empty")
	}
	return nil
}

// Query 在会话范围内回答问题。同一会话的请求按到达顺序串行执行。
func (s *DocQAService) Query(ctx context.Context, sessionID, query string) (result *QueryResult, err error) {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() {
		metrics.QueriesTotal.WithLabelValues(outcome).Inc()
		metrics.ObserveStage("query", start)
	}()

	h, err := s.sessions.Admit(ctx, sessionID, query)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if refusal, blocked := s.guard.CheckQuery(query); blocked {
		h.RecordTurn(query, refusal)
		outcome = metrics.OutcomeGuarded
		return &QueryResult{RAGResponse: refusal}, nil
	}

	contexts, err := s.retriever.Retrieve(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	if len(contexts) == 0 {
		h.RecordTurn(query, RefusalMessage)
		outcome = metrics.OutcomeRefused
		logger.Infow("No relevant context found", "session_id", sessionID)
		return &QueryResult{RAGResponse: RefusalMessage}, nil
	}

	log, err := s.memory.Prepare(ctx, h.MemoryLog(), query)
	if err != nil {
		return nil, err
	}

	answer, err := s.generator.Generate(ctx, contexts, query, log)
	if err != nil {
		return nil, err
	}

	if filtered, leaked := s.guard.FilterResponse(answer); leaked {
		h.RecordTurn(query, filtered)
		outcome = metrics.OutcomeGuarded
		return &QueryResult{RAGResponse: filtered}, nil
	}

	h.SetMemoryLog(s.memory.Commit(log, answer))
	h.RecordTurn(query, answer)
	if answer == RefusalMessage {
		outcome = metrics.OutcomeRefused
	} else {
		outcome = metrics.OutcomeAnswered
	}

	logger.Infow("Query answered",
		"session_id", sessionID,
		"contexts", len(contexts),
		"memory_entries", len(log)+1,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &QueryResult{RAGResponse: answer}, nil
}

// History 返回会话的问答历史。
func (s *DocQAService) History(_ context.Context, sessionID string) ([]store.Turn, error) {
	return s.sessions.History(sessionID)
}

// SessionInfo 返回会话概要。
func (s *DocQAService) SessionInfo(_ context.Context, sessionID string) (*SessionInfo, error) {
	return s.sessions.Info(sessionID)
}

// Cleanup 删除会话的文档块、会话状态和可选的原始文件。
func (s *DocQAService) Cleanup(ctx context.Context, sessionID, blobID string) (*CleanupResult, error) {
	return s.sessions.Cleanup(ctx, sessionID, blobID)
}

// Stats 返回索引统计。
func (s *DocQAService) Stats(ctx context.Context) (*store.IndexStats, error) {
	return s.sessions.Stats(ctx)
}
