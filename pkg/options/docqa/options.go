// Package docqa provides document question answering configuration options.
package docqa

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docqa/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 向量存储后端
const (
	VectorBackendMilvus  = "milvus"
	VectorBackendChromem = "chromem"
)

// Options contains the session-scoped retrieval pipeline configuration.
type Options struct {
	// VectorBackend selects the vector index: milvus or chromem.
	VectorBackend string `json:"vector-backend" mapstructure:"vector-backend"`

	// ChromemPath persists the chromem index to disk, empty keeps it in memory.
	ChromemPath string `json:"chromem-path" mapstructure:"chromem-path"`

	// Collection is the name of the shared vector collection.
	Collection string `json:"collection" mapstructure:"collection"`

	// ChunkSize is the size of text chunks in characters.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between neighbouring chunks.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// EmbedBatchSize is the number of chunks per embedding request.
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// TopK is the number of candidates fetched per query.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// ScoreThreshold drops matches scoring at or below it.
	ScoreThreshold float32 `json:"score-threshold" mapstructure:"score-threshold"`

	// CompactThreshold 对话记录超过该条数时压缩。
	CompactThreshold int `json:"compact-threshold" mapstructure:"compact-threshold"`

	// MaxMessages 每个会话允许回答的问题数。
	MaxMessages int `json:"max-messages" mapstructure:"max-messages"`

	// SessionTTL 会话空闲过期时间。
	SessionTTL time.Duration `json:"session-ttl" mapstructure:"session-ttl"`

	// MaxFileSize 上传文件大小上限（字节）。
	MaxFileSize int64 `json:"max-file-size" mapstructure:"max-file-size"`

	// BlobPrefix 上传文件的对象名前缀。
	BlobPrefix string `json:"blob-prefix" mapstructure:"blob-prefix"`

	// UploadTimeout 保存上传文件的超时时间。
	UploadTimeout time.Duration `json:"upload-timeout" mapstructure:"upload-timeout"`

	// QueryTimeout 单次查询的超时时间。
	QueryTimeout time.Duration `json:"query-timeout" mapstructure:"query-timeout"`

	// GuardEnabled 是否拦截提示词注入并过滤泄露的回答。
	GuardEnabled bool `json:"guard-enabled" mapstructure:"guard-enabled"`

	// SystemPrompt 覆盖默认的系统提示词。
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		VectorBackend:    VectorBackendMilvus,
		Collection:       "docqa",
		ChunkSize:        1000,
		ChunkOverlap:     200,
		EmbedBatchSize:   64,
		TopK:             10,
		ScoreThreshold:   0.4,
		CompactThreshold: 10,
		MaxMessages:      100,
		SessionTTL:       24 * time.Hour,
		MaxFileSize:      10 << 20,
		BlobPrefix:       "pdfs/",
		UploadTimeout:    60 * time.Second,
		QueryTimeout:     60 * time.Second,
		GuardEnabled:     true,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "docqa."
	fs.StringVar(&o.VectorBackend, p+"vector-backend", o.VectorBackend, "Vector index backend (milvus, chromem).")
	fs.StringVar(&o.ChromemPath, p+"chromem-path", o.ChromemPath, "Directory persisting the chromem index, empty for memory only.")
	fs.StringVar(&o.Collection, p+"collection", o.Collection, "Vector collection shared by all sessions.")
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Size of text chunks in characters.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Overlap between chunks in characters.")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Chunks per embedding request.")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Number of candidates from similarity search.")
	fs.Float32Var(&o.ScoreThreshold, p+"score-threshold", o.ScoreThreshold, "Minimum similarity score (exclusive).")
	fs.IntVar(&o.CompactThreshold, p+"compact-threshold", o.CompactThreshold, "Conversation entries kept before summarizing.")
	fs.IntVar(&o.MaxMessages, p+"max-messages", o.MaxMessages, "Questions answered per session.")
	fs.DurationVar(&o.SessionTTL, p+"session-ttl", o.SessionTTL, "Idle time after which a session expires.")
	fs.Int64Var(&o.MaxFileSize, p+"max-file-size", o.MaxFileSize, "Maximum upload size in bytes.")
	fs.StringVar(&o.BlobPrefix, p+"blob-prefix", o.BlobPrefix, "Object name prefix of uploaded files.")
	fs.DurationVar(&o.UploadTimeout, p+"upload-timeout", o.UploadTimeout, "Timeout for storing an uploaded file.")
	fs.DurationVar(&o.QueryTimeout, p+"query-timeout", o.QueryTimeout, "Timeout of a single query.")
	fs.BoolVar(&o.GuardEnabled, p+"guard-enabled", o.GuardEnabled, "Refuse prompt injection attempts and filter leaked instructions.")
	fs.StringVar(&o.SystemPrompt, p+"system-prompt", o.SystemPrompt, "Override the system prompt.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.VectorBackend {
	case VectorBackendMilvus, VectorBackendChromem:
	default:
		errs = append(errs, fmt.Errorf("docqa.vector-backend %q is not supported", o.VectorBackend))
	}
	if o.Collection == "" {
		errs = append(errs, errors.New("docqa.collection is required"))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, errors.New("docqa.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, errors.New("docqa.chunk-overlap must be in [0, chunk-size)"))
	}
	if o.EmbedBatchSize <= 0 {
		errs = append(errs, errors.New("docqa.embed-batch-size must be positive"))
	}
	if o.TopK <= 0 {
		errs = append(errs, errors.New("docqa.top-k must be positive"))
	}
	if o.ScoreThreshold < 0 || o.ScoreThreshold >= 1 {
		errs = append(errs, errors.New("docqa.score-threshold must be in [0, 1)"))
	}
	if o.CompactThreshold <= 0 {
		errs = append(errs, errors.New("docqa.compact-threshold must be positive"))
	}
	if o.MaxMessages <= 0 {
		errs = append(errs, errors.New("docqa.max-messages must be positive"))
	}
	if o.SessionTTL <= 0 {
		errs = append(errs, errors.New("docqa.session-ttl must be positive"))
	}
	if o.MaxFileSize <= 0 {
		errs = append(errs, errors.New("docqa.max-file-size must be positive"))
	}
	if o.QueryTimeout <= 0 {
		errs = append(errs, errors.New("docqa.query-timeout must be positive"))
	}
	return errs
}
