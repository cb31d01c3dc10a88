package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docqaopts "github.com/kart-io/docqa/pkg/options/docqa"
)

func TestFlagSections(t *testing.T) {
	fss := NewServerOptions().Flags()
	assert.Equal(t, []string{
		"http", "log", "docqa", "milvus", "redis", "s3",
		"embedding", "chat", "cache", "ratelimit", "pool",
	}, fss.Order)

	fs := fss.FlagSets["docqa"]
	require.NotNil(t, fs)
	assert.NotNil(t, fs.Lookup("docqa.chunk-size"))
	assert.NotNil(t, fss.FlagSets["embedding"].Lookup("embedding.model"))
}

func TestCompleteReadsAPIKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("REDIS_PASSWORD", "secret")

	o := NewServerOptions()
	o.EmbeddingOptions.Provider = "gemini"
	o.EmbeddingOptions.APIKey = ""
	require.NoError(t, o.Complete())

	assert.Equal(t, "gm-key", o.EmbeddingOptions.APIKey)
	assert.Equal(t, "secret", o.RedisOptions.Password)
}

func TestValidate(t *testing.T) {
	o := NewServerOptions()
	o.EmbeddingOptions.APIKey = "k"
	o.ChatOptions.APIKey = "k"
	o.DocQAOptions.VectorBackend = docqaopts.VectorBackendChromem
	o.MilvusOptions.Address = ""
	assert.NoError(t, o.Validate())

	o.DocQAOptions.ChunkOverlap = o.DocQAOptions.ChunkSize
	o.ChatOptions.APIKey = ""
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat.api-key")
}

func TestConfig(t *testing.T) {
	o := NewServerOptions()
	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.DocQAOptions, cfg.DocQAOptions)
	assert.Same(t, o.PoolOptions, cfg.PoolOptions)
}
