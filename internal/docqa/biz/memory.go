package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docqa/internal/docqa/metrics"
	"github.com/kart-io/docqa/pkg/errors"
	"github.com/kart-io/docqa/pkg/llm"
)

// 对话记录前缀。
const (
	UserPrefix  = "User: "
	ModelPrefix = "Model: "
	// SummaryPreamble 压缩后唯一一条记录的前缀。
	SummaryPreamble = "Here is the summary of the previous conversation:"
)

const summarizerPrompt = `You are a conversation summarizer. Summarize the chat history concisely, focusing on the key questions asked and answers provided about the document. Keep it brief and factual.
The last user message is a follow-up question. End the summary with that question rephrased as a standalone question that can be understood without the rest of the conversation.
Only output the summary, nothing else.`

// Summarizer 将对话记录压缩为摘要文本。
type Summarizer interface {
	Summarize(ctx context.Context, log []string) (string, error)
}

// LLMSummarizer 使用 Chat 模型生成对话摘要。
type LLMSummarizer struct {
	chatProvider llm.ChatProvider
}

// NewLLMSummarizer 创建摘要生成器。
func NewLLMSummarizer(chatProvider llm.ChatProvider) *LLMSummarizer {
	return &LLMSummarizer{chatProvider: chatProvider}
}

// Summarize 生成对话摘要。
func (s *LLMSummarizer) Summarize(ctx context.Context, log []string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: summarizerPrompt},
		{Role: llm.RoleUser, Content: "Summarize this conversation:\n\n" + strings.Join(log, "\n")},
	}
	return s.chatProvider.Chat(ctx, messages)
}

// MemoryConfig 对话记录配置。
type MemoryConfig struct {
	// CompactThreshold 记录条数超过该值时压缩。
	CompactThreshold int
}

// DefaultMemoryConfig 返回默认配置。
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{CompactThreshold: 10}
}

// Memory 管理会话的对话记录。所有方法都不修改传入的切片。
type Memory struct {
	summarizer Summarizer
	config     *MemoryConfig
}

// NewMemory 创建对话记录管理器。
func NewMemory(summarizer Summarizer, config *MemoryConfig) *Memory {
	if config == nil {
		config = DefaultMemoryConfig()
	}
	return &Memory{summarizer: summarizer, config: config}
}

// Prepare 追加用户问题，记录过长时压缩为一条摘要记录。
// 摘要失败或为空时返回 ErrSummarization，不保留超长记录。
func (m *Memory) Prepare(ctx context.Context, log []string, query string) ([]string, error) {
	next := make([]string, 0, len(log)+1)
	next = append(next, log...)
	next = append(next, UserPrefix+query)

	if len(next) <= m.config.CompactThreshold {
		return next, nil
	}

	start := time.Now()
	summary, err := m.summarizer.Summarize(ctx, next)
	metrics.ObserveStage("summarize", start)
	switch {
	case err != nil:
		// 上游错误码作为 cause 保留，对外统一为 ErrSummarization
		err = errors.ErrSummarization.WithCause(err)
	case strings.TrimSpace(summary) == "":
		err = errors.ErrSummarization.WithMessage("Conversation summarization returned empty text")
	}
	metrics.RecordCompaction(err)
	if err != nil {
		return nil, err
	}

	logger.Debugw("Memory log compacted", "entries", len(next), "summary_length", len(summary))
	return []string{SummaryPreamble + " " + strings.TrimSpace(summary)}, nil
}

// Commit 追加模型回答。
func (m *Memory) Commit(log []string, response string) []string {
	next := make([]string, 0, len(log)+1)
	next = append(next, log...)
	return append(next, ModelPrefix+response)
}
