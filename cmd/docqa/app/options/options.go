// Package options contains flags and options for initializing the docqa server.
package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	docqasvc "github.com/kart-io/docqa/internal/docqa"
	"github.com/kart-io/docqa/pkg/infra/app"
	"github.com/kart-io/docqa/pkg/infra/pool"
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

var _ app.CliOptions = (*ServerOptions)(nil)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// DocQAOptions contains ingestion, retrieval and session configuration.
	DocQAOptions *docqaopts.Options `json:"docqa" mapstructure:"docqa"`

	// MilvusOptions contains Milvus database configuration.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// RedisOptions contains Redis configuration.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// S3Options contains blob storage configuration.
	S3Options *s3opts.Options `json:"s3" mapstructure:"s3"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// CacheOptions contains embedding cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// RateLimitOptions contains per-route rate limit configuration.
	RateLimitOptions *ratelimitopts.Options `json:"ratelimit" mapstructure:"ratelimit"`

	// PoolOptions contains the embedding worker pool configuration.
	PoolOptions *pool.Config `json:"pool" mapstructure:"pool"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		DocQAOptions:     docqaopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		S3Options:        s3opts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		CacheOptions:     cacheopts.NewOptions(),
		RateLimitOptions: ratelimitopts.NewOptions(),
		PoolOptions:      pool.DefaultPoolConfig(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.DocQAOptions.AddFlags(fss.FlagSet("docqa"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	o.RateLimitOptions.AddFlags(fss.FlagSet("ratelimit"))
	o.PoolOptions.AddFlags(fss.FlagSet("pool"))
	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	o.EmbeddingOptions.Complete()
	o.ChatOptions.Complete()
	o.RedisOptions.Complete()
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.DocQAOptions.Validate()...)
	if o.DocQAOptions.VectorBackend == docqaopts.VectorBackendMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.RateLimitOptions.Validate()...)
	errs = append(errs, o.PoolOptions.Validate()...)

	return utilerrors.NewAggregate(errs)
}

// Config builds a docqasvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*docqasvc.Config, error) {
	return &docqasvc.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		DocQAOptions:     o.DocQAOptions,
		MilvusOptions:    o.MilvusOptions,
		RedisOptions:     o.RedisOptions,
		S3Options:        o.S3Options,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		CacheOptions:     o.CacheOptions,
		RateLimitOptions: o.RateLimitOptions,
		PoolOptions:      o.PoolOptions,
	}, nil
}
