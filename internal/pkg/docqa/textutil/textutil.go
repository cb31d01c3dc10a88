// Package textutil 提供文档切分与文件名处理等文本工具函数。
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSeparators 递归切分使用的默认分隔符，从大到小依次为段落、行、句子、单词，最后按字符切分。
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk 切分得到的文本块。
type Chunk struct {
	// Text 块内容（已去除首尾空白）。
	Text string
	// Start 块在原文中的起始位置（Unicode 字符偏移）。
	Start int
}

// span 原文中的半开区间 [start, end)，单位为 rune。
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

type splitter struct {
	runes   []rune
	size    int
	overlap int
}

// SplitWithOffsets 将文本递归切分为有重叠的块，并记录每块的起始偏移。
//
// 优先在段落、行、句子、单词边界处切分；单个片段仍超过 chunkSize 时退化为按字符切分。
// chunkSize 和 overlap 的单位都是 Unicode 字符。
func SplitWithOffsets(text string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}

	s := &splitter{runes: []rune(text), size: chunkSize, overlap: overlap}
	spans := s.split(span{0, len(s.runes)}, DefaultSeparators)

	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		raw := s.runes[sp.start:sp.end]
		lead := 0
		for lead < len(raw) && unicode.IsSpace(raw[lead]) {
			lead++
		}
		trimmed := strings.TrimRightFunc(string(raw[lead:]), unicode.IsSpace)
		if trimmed == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: trimmed, Start: sp.start + lead})
	}
	return chunks
}

// split 选择区间内出现的第一个分隔符切分，再把相邻片段合并到不超过 size 的窗口。
func (s *splitter) split(sp span, separators []string) []span {
	if sp.len() <= s.size {
		return []span{sp}
	}

	sep, rest := s.pickSeparator(sp, separators)
	if sep == "" {
		return s.window(sp)
	}

	var (
		out    []span
		cur    []span
		curLen int
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, span{cur[0].start, cur[len(cur)-1].end})
		}
	}

	for _, p := range s.pieces(sp, []rune(sep)) {
		if p.len() > s.size {
			flush()
			cur, curLen = nil, 0
			out = append(out, s.split(p, rest)...)
			continue
		}
		if len(cur) > 0 && curLen+p.len() > s.size {
			flush()
			// 保留尾部不超过 overlap 的片段作为下一块的开头
			for len(cur) > 0 && (curLen > s.overlap || curLen+p.len() > s.size) {
				curLen -= cur[0].len()
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		curLen += p.len()
	}
	flush()
	return out
}

func (s *splitter) pickSeparator(sp span, separators []string) (string, []string) {
	text := string(s.runes[sp.start:sp.end])
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

// pieces 按分隔符切开区间，分隔符保留在前一片段末尾，使片段首尾相接。
func (s *splitter) pieces(sp span, sep []rune) []span {
	var out []span
	pos := sp.start
	for pos < sp.end {
		i := indexRunes(s.runes[pos:sp.end], sep)
		if i < 0 {
			out = append(out, span{pos, sp.end})
			break
		}
		end := pos + i + len(sep)
		out = append(out, span{pos, end})
		pos = end
	}
	return out
}

// window 按固定窗口切分，步长为 size-overlap。
func (s *splitter) window(sp span) []span {
	var out []span
	step := s.size - s.overlap
	for i := sp.start; i < sp.end; i += step {
		end := i + s.size
		if end > sp.end {
			end = sp.end
		}
		out = append(out, span{i, end})
		if end == sp.end {
			break
		}
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		match := true
		for j := 0; j < n; j++ {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// SanitizeFileName 取文件名第一个 "." 之前的部分，将字母数字、"-"、"_" 以外的字符替换为 "_"，
// 并合并连续的 "_"、去掉首尾的 "_"。结果为空时返回 fallback。
func SanitizeFileName(name, fallback string) string {
	base, _, _ := strings.Cut(name, ".")

	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, base)

	parts := strings.FieldsFunc(mapped, func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, "_")
}
