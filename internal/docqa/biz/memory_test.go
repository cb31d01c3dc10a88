package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docqa/pkg/errors"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
	last    []string
}

func (s *stubSummarizer) Summarize(_ context.Context, log []string) (string, error) {
	s.calls++
	s.last = log
	return s.summary, s.err
}

func TestMemoryPrepare(t *testing.T) {
	sum := &stubSummarizer{summary: "  earlier turns  "}
	m := NewMemory(sum, &MemoryConfig{CompactThreshold: 3})

	log := []string{"User: q1", "Model: a1"}
	next, err := m.Prepare(context.Background(), log, "q2")
	require.NoError(t, err)
	assert.Equal(t, []string{"User: q1", "Model: a1", "User: q2"}, next)
	assert.Len(t, log, 2)
	assert.Zero(t, sum.calls)

	next, err = m.Prepare(context.Background(), m.Commit(next, "a2"), "q3")
	require.NoError(t, err)
	assert.Equal(t, []string{SummaryPreamble + " earlier turns"}, next)
	assert.Equal(t, 1, sum.calls)
	assert.Equal(t, "User: q3", sum.last[len(sum.last)-1])
}

func TestMemoryCompactionIdempotent(t *testing.T) {
	sum := &stubSummarizer{summary: "summary"}
	m := NewMemory(sum, &MemoryConfig{CompactThreshold: 0})

	once, err := m.Prepare(context.Background(), nil, "q1")
	require.NoError(t, err)
	require.Len(t, once, 1)

	twice, err := m.Prepare(context.Background(), nil, "q1")
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestMemoryPrepareSummarizationFailure(t *testing.T) {
	tests := []struct {
		name  string
		sum   *stubSummarizer
		cause error
	}{
		{"模型错误", &stubSummarizer{err: stderrors.New("boom")}, nil},
		{"空摘要", &stubSummarizer{summary: "   "}, nil},
		{"上游错误", &stubSummarizer{err: errors.ErrUpstream.WithCause(fmt.Errorf("503"))}, errors.ErrUpstream},
		{"请求超时", &stubSummarizer{err: errors.ErrRequestTimeout}, errors.ErrRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(tt.sum, &MemoryConfig{CompactThreshold: 1})
			_, err := m.Prepare(context.Background(), []string{"User: q1"}, "q2")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrSummarization.Code))
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestMemoryCommit(t *testing.T) {
	m := NewMemory(&stubSummarizer{}, nil)
	log := []string{"User: q1"}
	next := m.Commit(log, "a1")
	assert.Equal(t, []string{"User: q1", "Model: a1"}, next)
	assert.Len(t, log, 1)
}

func TestLLMSummarizer(t *testing.T) {
	chat := newFakeChat("")
	s := NewLLMSummarizer(chat)

	got, err := s.Summarize(context.Background(), []string{"User: q1", "Model: a1"})
	require.NoError(t, err)
	assert.Equal(t, chat.summary, got)
	assert.Equal(t, 1, chat.summaries)
	assert.True(t, strings.Contains(summarizerPrompt, "standalone question"))
}
