package biz

import (
	stderrors "errors"
	"strings"
	"unicode/utf8"

	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/utils/validator"
)

// MinSessionIDLength 会话 ID 的最小长度。
const MinSessionIDLength = validator.MinSessionIDLength

// MaxQueryLength 查询的最大字符数。
const MaxQueryLength = 1000

// IsValidSessionID 判断会话 ID 是否可以被接受。
func IsValidSessionID(sessionID string) bool {
	return validator.IsSessionID(sessionID)
}

// ValidateQuery 校验查询内容：非空且不超过 MaxQueryLength 个字符。
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.ErrInvalidQuery.WithMessage("Query cannot be empty")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return errors.ErrInvalidQuery.WithMessagef("Query too long (max %d characters)", MaxQueryLength)
	}
	return nil
}

// asErrno 保留错误链中已有的 Errno，否则用 fallback 包装。
func asErrno(err error, fallback *errors.Errno) error {
	var e *errors.Errno
	if stderrors.As(err, &e) {
		return err
	}
	return fallback.WithCause(err)
}
