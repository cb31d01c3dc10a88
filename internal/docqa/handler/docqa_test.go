package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docqa/internal/docqa/biz"
	"github.com/kart-io/docqa/internal/docqa/store"
	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/infra/middleware"
)

// stubService 记录调用参数并返回预设结果。
type stubService struct {
	upload    *biz.UploadRequest
	uploadErr error

	querySession string
	queryText    string
	queryErr     error
	queryWait    bool

	historyErr error
	cleanupArgs []string
}

func (s *stubService) Upload(_ context.Context, req *biz.UploadRequest) (*biz.UploadResult, error) {
	s.upload = req
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return &biz.UploadResult{
		Message:            "PDF uploaded and embedded successfully",
		CloudinaryURL:      "memory://pdfs/" + req.SessionID + "_report",
		CloudinaryPublicID: "pdfs/" + req.SessionID + "_report",
		ChunkCount:         3,
		EmbeddingResult:    "Processed 3 chunks",
		SessionID:          req.SessionID,
	}, nil
}

func (s *stubService) Query(ctx context.Context, sessionID, query string) (*biz.QueryResult, error) {
	s.querySession, s.queryText = sessionID, query
	if s.queryWait {
		<-ctx.Done()
		return nil, errors.ErrUpstream.WithCause(ctx.Err())
	}
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &biz.QueryResult{RAGResponse: "answer to " + query}, nil
}

func (s *stubService) History(_ context.Context, sessionID string) ([]store.Turn, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return []store.Turn{{UserQuery: "q1", RAGResponse: "a1"}}, nil
}

func (s *stubService) SessionInfo(_ context.Context, sessionID string) (*biz.SessionInfo, error) {
	if sessionID != "abc12" {
		return nil, errors.ErrSessionNotFound
	}
	return &biz.SessionInfo{SessionID: sessionID, MessageCount: 2, LastAccessed: "2026-01-02T03:04:05Z", MessagesRemaining: 98}, nil
}

func (s *stubService) Cleanup(_ context.Context, sessionID, blobID string) (*biz.CleanupResult, error) {
	s.cleanupArgs = []string{sessionID, blobID}
	return &biz.CleanupResult{
		Message:           "Session " + sessionID + " cleaned up successfully",
		PineconeDeleted:   true,
		CloudinaryDeleted: blobID != "",
	}, nil
}

func (s *stubService) Stats(context.Context) (*store.IndexStats, error) {
	return &store.IndexStats{TotalVectors: 42, IndexName: "docqa"}, nil
}

func newTestEngine(svc biz.Service, timeout time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDocQAHandler(svc, 64)
	r := gin.New()
	r.GET("/", h.Index)
	r.POST("/upload-pdf/", h.Upload)
	r.POST("/query", middleware.Timeout(timeout), h.Query)
	r.GET("/history", h.History)
	r.GET("/session-info", h.SessionInfo)
	r.POST("/cleanup-session", h.Cleanup)
	r.GET("/session-stats", h.Stats)
	return r
}

func multipartBody(t *testing.T, sessionID, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if sessionID != "" {
		require.NoError(t, w.WriteField("session_id", sessionID))
	}
	if fileName != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		hdr.Set("Content-Type", contentType)
		part, err := w.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func assertErrno(t *testing.T, w *httptest.ResponseRecorder, want *errors.Errno) map[string]any {
	t.Helper()
	assert.Equal(t, want.HTTPStatus(), w.Code)
	body := decode(t, w)
	assert.EqualValues(t, want.Code, body["code"])
	return body
}

func TestIndex(t *testing.T) {
	w := serve(newTestEngine(&stubService{}, 0), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Greeting, decode(t, w)["response"])
}

func TestUpload(t *testing.T) {
	svc := &stubService{}
	body, ct := multipartBody(t, "abc12", "Report.pdf", "application/pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/upload-pdf/", body)
	req.Header.Set("Content-Type", ct)

	w := serve(newTestEngine(svc, 0), req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NotNil(t, svc.upload)
	assert.Equal(t, "abc12", svc.upload.SessionID)
	assert.Equal(t, "Report.pdf", svc.upload.FileName)
	assert.Equal(t, "application/pdf", svc.upload.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), svc.upload.Data)

	got := decode(t, w)
	assert.Equal(t, "pdfs/abc12_report", got["cloudinary_public_id"])
	assert.EqualValues(t, 3, got["chunk_count"])
	assert.Equal(t, "abc12", got["session_id"])
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		fileName  string
		want      *errors.Errno
	}{
		{"缺少会话", "", "a.pdf", errors.ErrInvalidSessionID},
		{"会话过短", "ab", "a.pdf", errors.ErrInvalidSessionID},
		{"缺少文件", "abc12", "", errors.ErrInvalidFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			body, ct := multipartBody(t, tt.sessionID, tt.fileName, "application/pdf", []byte("x"))
			req := httptest.NewRequest(http.MethodPost, "/upload-pdf/", body)
			req.Header.Set("Content-Type", ct)

			w := serve(newTestEngine(svc, 0), req)
			assertErrno(t, w, tt.want)
			assert.Nil(t, svc.upload)
		})
	}
}

func TestUploadReadsOneByteBeyondLimit(t *testing.T) {
	svc := &stubService{uploadErr: errors.ErrInvalidFile.WithMessage("File size exceeds limit")}
	body, ct := multipartBody(t, "abc12", "big.pdf", "application/pdf", bytes.Repeat([]byte("a"), 200))
	req := httptest.NewRequest(http.MethodPost, "/upload-pdf/", body)
	req.Header.Set("Content-Type", ct)

	w := serve(newTestEngine(svc, 0), req)
	got := assertErrno(t, w, errors.ErrInvalidFile)
	assert.Equal(t, "File size exceeds limit", got["message"])
	require.NotNil(t, svc.upload)
	assert.Len(t, svc.upload.Data, 65)
}

func TestQuery(t *testing.T) {
	svc := &stubService{}
	req := httptest.NewRequest(http.MethodPost, "/query?session_id=abc12", strings.NewReader(`{"user_query":"what is alpha?"}`))
	req.Header.Set("Content-Type", "application/json")

	w := serve(newTestEngine(svc, time.Second), req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"rag_response": "answer to what is alpha?"}, decode(t, w))
	assert.Equal(t, "abc12", svc.querySession)
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		body string
		svc  *stubService
		want *errors.Errno
	}{
		{"非法 JSON", "/query?session_id=abc12", `{`, &stubService{}, errors.ErrInvalidQuery},
		{"缺少会话", "/query", `{"user_query":"q"}`, &stubService{}, errors.ErrInvalidSessionID},
		{"会话只在请求体", "/query", `{"user_query":"q","session_id":"abc12"}`, &stubService{}, errors.ErrInvalidSessionID},
		{"空查询", "/query?session_id=abc12", `{"user_query":""}`, &stubService{}, errors.ErrInvalidQuery},
		{"超出配额", "/query?session_id=abc12", `{"user_query":"q"}`, &stubService{queryErr: errors.ErrQuotaExceeded}, errors.ErrQuotaExceeded},
		{"上游失败", "/query?session_id=abc12", `{"user_query":"q"}`, &stubService{queryErr: errors.ErrUpstream.WithCause(assert.AnError)}, errors.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := serve(newTestEngine(tt.svc, time.Second), req)
			assertErrno(t, w, tt.want)
		})
	}
}

func TestQueryTimeout(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/query?session_id=abc12", strings.NewReader(`{"user_query":"q"}`))
	req.Header.Set("Content-Type", "application/json")

	w := serve(newTestEngine(&stubService{queryWait: true}, 20*time.Millisecond), req)
	assertErrno(t, w, errors.ErrRequestTimeout)
}

func TestHistory(t *testing.T) {
	r := newTestEngine(&stubService{}, 0)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/history?session_id=abc12", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"user_query":"q1","rag_response":"a1"}]`, w.Body.String())

	missing := errors.ErrSessionNotFound.WithMessage("No history found for this session.")
	w = serve(newTestEngine(&stubService{historyErr: missing}, 0), httptest.NewRequest(http.MethodGet, "/history?session_id=zzz99", nil))
	got := assertErrno(t, w, errors.ErrSessionNotFound)
	assert.Equal(t, "No history found for this session.", got["message"])
}

func TestSessionInfo(t *testing.T) {
	r := newTestEngine(&stubService{}, 0)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/session-info?session_id=abc12", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_id":"abc12","message_count":2,"last_accessed":"2026-01-02T03:04:05Z","messages_remaining":98}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/session-info?session_id=nope1", nil))
	assertErrno(t, w, errors.ErrSessionNotFound)
}

func TestCleanup(t *testing.T) {
	svc := &stubService{}
	r := newTestEngine(svc, 0)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/cleanup-session?session_id=abc12&cloudinary_public_id=pdfs/abc12_report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"abc12", "pdfs/abc12_report"}, svc.cleanupArgs)
	assert.JSONEq(t, `{"message":"Session abc12 cleaned up successfully","pinecone_deleted":true,"cloudinary_deleted":true}`, w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/cleanup-session", strings.NewReader("session_id=xyz99"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"xyz99", ""}, svc.cleanupArgs)
	assert.Equal(t, false, decode(t, w)["cloudinary_deleted"])
}

func TestStats(t *testing.T) {
	w := serve(newTestEngine(&stubService{}, 0), httptest.NewRequest(http.MethodGet, "/session-stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_vectors":42,"index_name":"docqa"}`, w.Body.String())
}
