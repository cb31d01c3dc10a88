package biz

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docqa/internal/docqa/store"
	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/infra/pool"
)

type textLoader struct {
	text string
	err  error
}

func (l textLoader) Load(context.Context, DocumentRef) (string, error) {
	return l.text, l.err
}

// recordingStore 记录写入的文档块。
type recordingStore struct {
	store.VectorStore
	ensured  int
	inserted []*store.Chunk
}

func (r *recordingStore) EnsureCollection(context.Context, *store.CollectionConfig) error {
	r.ensured++
	return nil
}

func (r *recordingStore) Insert(_ context.Context, _ string, chunks []*store.Chunk) error {
	r.inserted = append(r.inserted, chunks...)
	return nil
}

func TestIndexDocument(t *testing.T) {
	text := strings.Repeat("alpha word ", 60) + "\n\n" + strings.Repeat("beta word ", 60)
	rec := &recordingStore{}
	workers, err := pool.NewPool("embed-test", pool.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(workers.Release)

	idx := NewIndexer(rec, &fakeEmbedder{}, textLoader{text: text}, workers, &IndexerConfig{
		ChunkSize:      200,
		ChunkOverlap:   40,
		Collection:     "test",
		EmbeddingDim:   testDim,
		EmbedBatchSize: 2,
	})

	n, err := idx.IndexDocument(context.Background(), "abc12", DocumentRef{ID: "pdfs/abc12_doc", URL: "memory://pdfs/abc12_doc"})
	require.NoError(t, err)
	require.Greater(t, n, 3)
	assert.Len(t, rec.inserted, n)
	assert.Equal(t, 1, rec.ensured)

	seen := map[string]bool{}
	for _, c := range rec.inserted {
		assert.Equal(t, "abc12", c.SessionID)
		assert.Equal(t, "pdfs/abc12_doc", c.Source)
		assert.Len(t, c.Embedding, testDim)
		assert.LessOrEqual(t, len([]rune(c.Content)), 200)
		assert.True(t, strings.HasPrefix(text[c.StartIndex:], c.Content))
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}

func TestIndexDocumentErrors(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		loader    DocumentLoader
		embedder  *fakeEmbedder
		want      *errors.Errno
	}{
		{"无效会话", "ab", textLoader{text: "alpha"}, &fakeEmbedder{}, errors.ErrInvalidSessionID},
		{"空白文本", "abc12", textLoader{text: " \n\t "}, &fakeEmbedder{}, errors.ErrContentExtraction},
		{"读取失败", "abc12", textLoader{err: errors.ErrBlobFetch}, &fakeEmbedder{}, errors.ErrBlobFetch},
		{"嵌入失败", "abc12", textLoader{text: "alpha"}, &fakeEmbedder{err: assert.AnError}, errors.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingStore{}
			idx := NewIndexer(rec, tt.embedder, tt.loader, nil, &IndexerConfig{
				ChunkSize: 100, ChunkOverlap: 10, Collection: "test", EmbeddingDim: testDim, EmbedBatchSize: 8,
			})
			_, err := idx.IndexDocument(context.Background(), tt.sessionID, DocumentRef{ID: "x"})
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, rec.inserted)
		})
	}
}

func TestIndexDocumentDimensionMismatch(t *testing.T) {
	rec := &recordingStore{}
	idx := NewIndexer(rec, &fakeEmbedder{}, textLoader{text: "alpha"}, nil, &IndexerConfig{
		ChunkSize: 100, Collection: "test", EmbeddingDim: 1536, EmbedBatchSize: 8,
	})
	_, err := idx.IndexDocument(context.Background(), "abc12", DocumentRef{ID: "x"})
	assert.ErrorIs(t, err, errors.ErrUpstream)
	assert.Empty(t, rec.inserted)
}
