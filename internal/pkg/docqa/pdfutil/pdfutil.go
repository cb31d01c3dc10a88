// Package pdfutil 提供基于 github.com/ledongthuc/pdf 的 PDF 文本提取。
package pdfutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ContentType 是上传 PDF 时接受的 MIME 类型。
const ContentType = "application/pdf"

// Document 提取结果。
type Document struct {
	// Text 全部页面文本，页与页之间以空行分隔。
	Text string
	// PageCount 文档总页数。
	PageCount int
	// Pages 成功提取出文本的页数。
	Pages int
}

// ExtractText 解析 PDF 并提取全部文本。无法解析的页面会被跳过。
func ExtractText(data []byte) (doc *Document, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty pdf data")
	}

	// 底层库在遇到损坏的对象树时会 panic
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	doc = &Document{PageCount: reader.NumPage()}
	var content strings.Builder

	for i := 1; i <= doc.PageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, perr := page.GetPlainText(nil)
		if perr != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if content.Len() > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(text)
		doc.Pages++
	}

	doc.Text = content.String()
	return doc, nil
}
