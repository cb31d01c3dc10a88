package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIndex(t *testing.T) {
	successBefore := testutil.ToFloat64(DocumentsIndexed.WithLabelValues("success"))
	errorBefore := testutil.ToFloat64(DocumentsIndexed.WithLabelValues("error"))
	chunksBefore := testutil.ToFloat64(ChunksIndexed)

	RecordIndex(3, nil)
	RecordIndex(0, errors.New("boom"))

	assert.Equal(t, successBefore+1, testutil.ToFloat64(DocumentsIndexed.WithLabelValues("success")))
	assert.Equal(t, errorBefore+1, testutil.ToFloat64(DocumentsIndexed.WithLabelValues("error")))
	assert.Equal(t, chunksBefore+3, testutil.ToFloat64(ChunksIndexed))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", Handler())

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/ping", "204"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/ping", "204")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "docqa_http_requests_total"))
}
