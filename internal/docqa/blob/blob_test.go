package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3opts "github.com/kart-io/docqa/pkg/options/s3"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	obj, err := m.Put(ctx, "pdfs/abc12_report", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, &Object{ID: "pdfs/abc12_report", URL: "memory://pdfs/abc12_report", Size: 4}, obj)

	data, err := m.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	require.NoError(t, m.Delete(ctx, obj.ID))
	assert.ErrorIs(t, m.Delete(ctx, obj.ID), ErrNotFound)
	_, err = m.Get(ctx, obj.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Put(ctx, "", "application/pdf", nil)
	assert.Error(t, err)
}

// fakeS3 implements the path style object endpoints used by S3Store.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	opts := s3opts.NewOptions()
	opts.Bucket = "docs"
	opts.Endpoint = srv.URL
	opts.UsePathStyle = true
	opts.AccessKeyID = "test"
	opts.SecretAccessKey = "secret"
	opts.PresignExpiry = time.Hour

	s, err := NewS3Store(ctx, opts)
	require.NoError(t, err)

	obj, err := s.Put(ctx, "pdfs/abc12_report", "application/pdf", []byte("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.Equal(t, "pdfs/abc12_report", obj.ID)
	assert.Equal(t, int64(13), obj.Size)
	assert.True(t, strings.HasPrefix(obj.URL, srv.URL+"/docs/pdfs/abc12_report?"), obj.URL)
	assert.Contains(t, obj.URL, "X-Amz-Expires=3600")
	assert.Equal(t, "application/pdf", fake.types["docs/pdfs/abc12_report"])

	data, err := s.Get(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 body"), data)

	require.NoError(t, s.Delete(ctx, obj.ID))
	_, err = s.Get(ctx, obj.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), s3opts.NewOptions())
	assert.Error(t, err)
}
