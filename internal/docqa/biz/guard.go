package biz

import (
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/internal/pkg/docqa/textutil"
)

// 拦截后的固定回答。
const (
	GuardRefusal = "I can only answer questions about the uploaded document. Please ask about the document content."
	LeakRefusal  = "I can only answer questions about the uploaded document."

	// 日志中记录的问题最多保留的字符数
	logQueryMaxLen = 80
)

var (
	injectionPatterns = []string{
		"ignore previous", "ignore all", "disregard", "forget", "new instructions",
		"you are now", "act as", "pretend", "roleplay", "system prompt",
		"reveal your", "show your instructions", "what are your rules",
	}
	leakMarkers = []string{"system prompt", "i am programmed", "my role is"}
)

// Guard 拦截提示词注入，过滤泄露系统信息的回答。
type Guard struct {
	enabled bool
}

// NewGuard 创建 Guard，enabled 为 false 时不做任何处理。
func NewGuard(enabled bool) *Guard {
	return &Guard{enabled: enabled}
}

// CheckQuery 检查问题，命中注入模式时返回固定回答和 true。
func (g *Guard) CheckQuery(query string) (string, bool) {
	if g == nil || !g.enabled {
		return "", false
	}
	lower := strings.ToLower(query)
	for _, p := range injectionPatterns {
		if strings.Contains(lower, p) {
			logger.Warnw("Prompt injection attempt blocked",
				"pattern", p,
				"query", textutil.TruncateString(query, logQueryMaxLen),
			)
			return GuardRefusal, true
		}
	}
	return "", false
}

// FilterResponse 检查回答，泄露系统信息时替换为固定回答并返回 true。
func (g *Guard) FilterResponse(response string) (string, bool) {
	if g == nil || !g.enabled {
		return response, false
	}
	lower := strings.ToLower(response)
	for _, m := range leakMarkers {
		if strings.Contains(lower, m) {
			logger.Warnw("Response filtered for leaking system details", "marker", m)
			return LeakRefusal, true
		}
	}
	return response, false
}
