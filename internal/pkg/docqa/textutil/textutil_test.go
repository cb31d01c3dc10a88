package textutil_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docqa/internal/pkg/docqa/textutil"
)

// assertOffsets 校验每个块都能按记录的偏移在原文中找到，且不超过块大小。
func assertOffsets(t *testing.T, text string, chunks []textutil.Chunk, size int) {
	t.Helper()
	runes := []rune(text)
	for i, c := range chunks {
		n := utf8.RuneCountInString(c.Text)
		assert.LessOrEqual(t, n, size, "chunk %d too long", i)
		require.LessOrEqual(t, c.Start+n, len(runes), "chunk %d out of range", i)
		assert.Equal(t, c.Text, string(runes[c.Start:c.Start+n]), "chunk %d offset mismatch", i)
		if i > 0 {
			assert.Greater(t, c.Start, chunks[i-1].Start, "chunk %d not advancing", i)
		}
	}
}

func TestSplitWithOffsetsShortText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []textutil.Chunk
	}{
		{"空文本", "", []textutil.Chunk{}},
		{"仅空白", "  \n\n  ", []textutil.Chunk{}},
		{"短文本", "hello world", []textutil.Chunk{{Text: "hello world", Start: 0}}},
		{"前导空白", "\n\n  hello", []textutil.Chunk{{Text: "hello", Start: 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, textutil.SplitWithOffsets(tt.text, 1000, 200))
		})
	}
}

func TestSplitWithOffsetsParagraphs(t *testing.T) {
	paras := []string{
		strings.Repeat("a", 600),
		strings.Repeat("b", 600),
		strings.Repeat("c", 600),
	}
	text := strings.Join(paras, "\n\n")

	chunks := textutil.SplitWithOffsets(text, 1000, 200)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, paras[i], c.Text)
	}
	assert.Equal(t, []int{0, 602, 1204}, []int{chunks[0].Start, chunks[1].Start, chunks[2].Start})
	assertOffsets(t, text, chunks, 1000)
}

func TestSplitWithOffsetsWordOverlap(t *testing.T) {
	words := make([]string, 0, 400)
	for i := 0; i < 400; i++ {
		words = append(words, fmt.Sprintf("word%03d", i))
	}
	text := strings.Join(words, " ")

	chunks := textutil.SplitWithOffsets(text, 100, 20)
	require.Greater(t, len(chunks), 1)
	assertOffsets(t, text, chunks, 100)

	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].Start + utf8.RuneCountInString(chunks[i-1].Text)
		assert.Less(t, chunks[i].Start, prevEnd, "chunk %d should overlap its predecessor", i)
	}

	// 所有单词都被覆盖
	joined := ""
	for _, c := range chunks {
		joined += c.Text + " "
	}
	for _, w := range words {
		assert.Contains(t, joined, w)
	}
}

func TestSplitWithOffsetsSentences(t *testing.T) {
	sentences := []string{
		"Alpha reactors convert sunlight into stored power.",
		"Beta modules route the stored power to the grid.",
		"Gamma sensors report the grid load every minute.",
	}
	text := strings.Join(sentences, " ")

	tests := []struct {
		name     string
		size     int
		overlap  int
		expected []string
	}{
		{"每句一块", 55, 0, sentences},
		{"两句一块", 110, 0, []string{sentences[0] + " " + sentences[1], sentences[2]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := textutil.SplitWithOffsets(text, tt.size, tt.overlap)
			got := make([]string, 0, len(chunks))
			for _, c := range chunks {
				got = append(got, c.Text)
			}
			assert.Equal(t, tt.expected, got)
			assertOffsets(t, text, chunks, tt.size)
		})
	}
}

func TestSplitWithOffsetsHardSplit(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		size     int
		overlap  int
		expected []textutil.Chunk
	}{
		{
			name:    "无重叠",
			text:    "abcdefghij",
			size:    5,
			overlap: 0,
			expected: []textutil.Chunk{
				{Text: "abcde", Start: 0},
				{Text: "fghij", Start: 5},
			},
		},
		{
			name:    "有重叠",
			text:    "abcdefghij",
			size:    5,
			overlap: 2,
			expected: []textutil.Chunk{
				{Text: "abcde", Start: 0},
				{Text: "defgh", Start: 3},
				{Text: "ghij", Start: 6},
			},
		},
		{
			name:    "中文字符",
			text:    "你好世界你好世界",
			size:    4,
			overlap: 0,
			expected: []textutil.Chunk{
				{Text: "你好世界", Start: 0},
				{Text: "你好世界", Start: 4},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := textutil.SplitWithOffsets(tt.text, tt.size, tt.overlap)
			assert.Equal(t, tt.expected, chunks)
			assertOffsets(t, tt.text, chunks, tt.size)
		})
	}
}

func TestSplitWithOffsetsMixedDocument(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Section %d\n", i)
		for j := 0; j < 8; j++ {
			fmt.Fprintf(&b, "Line %d of section %d explains something useful about the topic.\n", j, i)
		}
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("x", 2500))
	text := b.String()

	chunks := textutil.SplitWithOffsets(text, 1000, 200)
	require.NotEmpty(t, chunks)
	assertOffsets(t, text, chunks, 1000)
}

func TestSplitWithOffsetsInvalidSize(t *testing.T) {
	assert.Nil(t, textutil.SplitWithOffsets("hello", 0, 0))
	// overlap 不小于 size 时被截断为 size-1
	chunks := textutil.SplitWithOffsets("abcdef", 3, 5)
	assertOffsets(t, "abcdef", chunks, 3)
	assert.Len(t, chunks, 4)
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"短于限制", "hello", 10, "hello"},
		{"等于限制", "hello", 5, "hello"},
		{"超过限制", "hello world", 5, "hello"},
		{"中文字符", "你好世界", 2, "你好"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, textutil.TruncateString(tt.input, tt.maxLen))
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"report.pdf", "report"},
		{"My Report (final).pdf", "My_Report_final"},
		{"__a  b__.PDF", "a_b"},
		{"v1.2.pdf", "v1"},
		{"résumé v2.pdf", "résumé_v2"},
		{"keep-dash_and_underscore.pdf", "keep-dash_and_underscore"},
		{"!!!.pdf", "document"},
		{".pdf", "document"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, textutil.SanitizeFileName(tt.input, "document"))
		})
	}
}
