// Package handler provides HTTP handlers for the document QA service.
package handler

import (
	"context"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/internal/docqa/biz"
	"github.com/kart-io/docqa/internal/pkg/httputils"
	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/utils/validator"
)

// Greeting is the body returned by the root route.
const Greeting = "Hi! there is nothing here"

// DocQAHandler handles document QA HTTP requests.
type DocQAHandler struct {
	service     biz.Service
	maxFileSize int64
}

// NewDocQAHandler creates a new DocQAHandler.
func NewDocQAHandler(service biz.Service, maxFileSize int64) *DocQAHandler {
	return &DocQAHandler{
		service:     service,
		maxFileSize: maxFileSize,
	}
}

// Index 根路由。
func (h *DocQAHandler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"response": Greeting})
}

// UploadForm upload-pdf 表单。
type UploadForm struct {
	SessionID string                `form:"session_id" json:"session_id" validate:"sessionid"`
	File      *multipart.FileHeader `form:"file" json:"-"`
}

// Upload 保存并索引上传的 PDF。
func (h *DocQAHandler) Upload(c *gin.Context) {
	var form UploadForm
	if err := c.ShouldBind(&form); err != nil {
		httputils.WriteError(c, errors.ErrInvalidFile.WithMessage("Invalid upload form").WithCause(err))
		return
	}
	if err := validate(&form); err != nil {
		httputils.WriteError(c, err)
		return
	}
	if form.File == nil {
		httputils.WriteError(c, errors.ErrInvalidFile.WithMessage("File is required"))
		return
	}

	data, err := h.readFile(form.File)
	if err != nil {
		httputils.WriteError(c, err)
		return
	}

	result, err := h.service.Upload(c.Request.Context(), &biz.UploadRequest{
		SessionID:   form.SessionID,
		FileName:    form.File.Filename,
		ContentType: form.File.Header.Get("Content-Type"),
		Data:        data,
	})
	httputils.WriteResponse(c, err, result)
}

// readFile 读取上传文件，最多读取 maxFileSize+1 字节以便识别超限文件。
func (h *DocQAHandler) readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.ErrInvalidFile.WithMessage("Failed to read file").WithCause(err)
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxFileSize > 0 {
		r = io.LimitReader(f, h.maxFileSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.ErrInvalidFile.WithMessage("Failed to read file").WithCause(err)
	}
	return data, nil
}

// QueryRequest 查询请求。session_id 来自 URL 查询参数。
type QueryRequest struct {
	SessionID string `json:"session_id" validate:"sessionid"`
	UserQuery string `json:"user_query" validate:"required"`
}

// Query 在会话范围内回答问题。请求期限由路由上的 Timeout 中间件设置，
// 超时返回 504。
func (h *DocQAHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteError(c, errors.ErrInvalidQuery.WithMessage("Invalid request body").WithCause(err))
		return
	}
	req.SessionID = c.Query("session_id")
	if err := validate(&req); err != nil {
		httputils.WriteError(c, err)
		return
	}

	ctx := c.Request.Context()
	result, err := h.service.Query(ctx, req.SessionID, req.UserQuery)
	if err != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warnw("Query timed out", "session_id", req.SessionID)
		err = errors.ErrRequestTimeout.WithCause(err)
	}
	httputils.WriteResponse(c, err, result)
}

// History 返回会话的问答历史。
func (h *DocQAHandler) History(c *gin.Context) {
	history, err := h.service.History(c.Request.Context(), c.Query("session_id"))
	httputils.WriteResponse(c, err, history)
}

// SessionInfo 返回会话概要。
func (h *DocQAHandler) SessionInfo(c *gin.Context) {
	info, err := h.service.SessionInfo(c.Request.Context(), c.Query("session_id"))
	httputils.WriteResponse(c, err, info)
}

// Cleanup 删除会话的全部数据。参数可以放在查询串或表单中。
func (h *DocQAHandler) Cleanup(c *gin.Context) {
	sessionID := param(c, "session_id")
	blobID := param(c, "cloudinary_public_id")

	result, err := h.service.Cleanup(c.Request.Context(), sessionID, blobID)
	httputils.WriteResponse(c, err, result)
}

// Stats 返回索引统计。
func (h *DocQAHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	httputils.WriteResponse(c, err, stats)
}

func param(c *gin.Context, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return c.PostForm(key)
}

// validate 将校验错误转换为对应的业务错误。
func validate(req any) error {
	verrs := validator.Global().Validate(req)
	if verrs == nil {
		return nil
	}
	for _, fe := range verrs.Errors {
		switch fe.Field {
		case "session_id":
			return errors.ErrInvalidSessionID
		case "user_query":
			return errors.ErrInvalidQuery.WithMessage("Query cannot be empty")
		}
	}
	_, msg := verrs.First()
	return errors.ErrInvalidParam.WithMessage(msg)
}
