// Package httputils provides HTTP utility functions.
package httputils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/pkg/infra/middleware"
	"github.com/kart-io/docqa/pkg/utils/response"
)

// WriteResponse writes the response to the client. Successful responses
// carry data as-is, errors are written as a response.Response envelope.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// WriteError writes err as an error envelope and aborts the chain.
func WriteError(c *gin.Context, err error) {
	resp := response.FromError(err).WithRequestID(middleware.GetRequestID(c))
	defer response.Release(resp)

	status := resp.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", resp.Code,
			"error", err.Error(),
			"request_id", resp.RequestID,
		)
	}
	c.AbortWithStatusJSON(status, resp)
}
