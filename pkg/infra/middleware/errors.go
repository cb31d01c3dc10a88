package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/utils/response"
)

// abortWithError writes the error envelope for e and stops the chain.
func abortWithError(c *gin.Context, e *errors.Errno) {
	resp := response.Err(e).WithRequestID(GetRequestID(c))
	defer response.Release(resp)
	c.AbortWithStatusJSON(resp.HTTPStatus(), resp)
}
