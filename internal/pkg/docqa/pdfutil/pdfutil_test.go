package pdfutil

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF 生成一个每页包含一行文本的最小 PDF，空字符串表示空白页。
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	n := len(pages)
	fontID := 3 + 2*n
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>", 4+2*i, fontID))
		content := ""
		if text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestExtractText(t *testing.T) {
	doc, err := ExtractText(buildPDF("Hello PDF World", "", "Second page text"))
	require.NoError(t, err)

	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, 2, doc.Pages)
	assert.Contains(t, doc.Text, "Hello PDF World")
	assert.Contains(t, doc.Text, "Second page text")
	assert.Contains(t, doc.Text, "\n\n")
}

func TestExtractTextBlankDocument(t *testing.T) {
	doc, err := ExtractText(buildPDF(""))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount)
	assert.Empty(t, doc.Text)
}

func TestExtractTextInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"空数据", nil},
		{"非 PDF", []byte("definitely not a pdf")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractText(tt.data)
			assert.Error(t, err)
		})
	}
}
