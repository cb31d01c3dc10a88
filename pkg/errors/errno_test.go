package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestMakeCode(t *testing.T) {
	tests := []struct {
		service  int
		category int
		sequence int
		expected int
	}{
		{0, 0, 0, 0},
		{0, 1, 1, 1001},
		{21, 4, 1, 2104001},
		{21, 10, 1, 2110001},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.service, tt.category, tt.sequence), func(t *testing.T) {
			assert.Equal(t, tt.expected, MakeCode(tt.service, tt.category, tt.sequence))
			s, c, q := ParseCode(tt.expected)
			assert.Equal(t, []int{tt.service, tt.category, tt.sequence}, []int{s, c, q})
		})
	}
}

func TestTaxonomyHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *Errno
		want int
	}{
		{"invalid session id", ErrInvalidSessionID, http.StatusBadRequest},
		{"invalid query", ErrInvalidQuery, http.StatusBadRequest},
		{"invalid file", ErrInvalidFile, http.StatusBadRequest},
		{"session not found", ErrSessionNotFound, http.StatusNotFound},
		{"quota exceeded", ErrQuotaExceeded, http.StatusTooManyRequests},
		{"rate limit", ErrRateLimitExceeded, http.StatusTooManyRequests},
		{"content extraction", ErrContentExtraction, http.StatusInternalServerError},
		{"upstream", ErrUpstream, http.StatusInternalServerError},
		{"summarization", ErrSummarization, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestErrnoError(t *testing.T) {
	assert.Equal(t, "errno 1001: Invalid parameter", ErrInvalidParam.Error())

	cause := fmt.Errorf("dial tcp: refused")
	err := ErrUpstream.WithCause(cause)
	assert.Equal(t, "errno 2110001: Upstream service error: dial tcp: refused", err.Error())
	assert.Same(t, cause, err.Unwrap())
	assert.Equal(t, ErrUpstream.Code, err.Code)
}

func TestErrnoWithMessageDoesNotMutateBase(t *testing.T) {
	err := ErrInvalidQuery.WithMessagef("Query too long (max %d characters)", 1000)

	assert.Equal(t, "Query too long (max 1000 characters)", err.MessageEN)
	assert.Equal(t, "Invalid query", ErrInvalidQuery.MessageEN)
	assert.Equal(t, ErrInvalidQuery.Code, err.Code)
}

func TestErrnoMessage(t *testing.T) {
	assert.Equal(t, "Session not found", ErrSessionNotFound.Message("en"))
	assert.Equal(t, "会话不存在", ErrSessionNotFound.Message("zh-CN"))
}

func TestErrnoGRPCStatus(t *testing.T) {
	assert.Equal(t, codes.InvalidArgument, ErrInvalidSessionID.GRPCStatus())
	assert.Equal(t, codes.ResourceExhausted, ErrQuotaExceeded.GRPCStatus())
	assert.Equal(t, codes.Internal, (&Errno{}).GRPCStatus())
}

func TestErrnoIs(t *testing.T) {
	wrapped := fmt.Errorf("admit: %w", ErrQuotaExceeded.WithMessage("custom"))

	assert.True(t, stderrors.Is(wrapped, ErrQuotaExceeded))
	assert.False(t, stderrors.Is(wrapped, ErrSessionNotFound))
	assert.True(t, IsCode(wrapped, ErrQuotaExceeded.Code))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	err := ErrInvalidFile.WithMessage("Only PDF files are allowed")
	assert.Same(t, err, FromError(err))
	assert.Same(t, err, FromError(fmt.Errorf("upload: %w", err)))

	plain := fmt.Errorf("plain error")
	got := FromError(plain)
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Same(t, plain, got.Unwrap())
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(New(ErrSessionNotFound.Code, 404, codes.NotFound, "dup", "重复"))
	})

	e, ok := Lookup(ErrSessionNotFound.Code)
	assert.True(t, ok)
	assert.Same(t, ErrSessionNotFound, e)
}
