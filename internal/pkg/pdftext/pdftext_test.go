package pdftext

import (
	"archive/zip"
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := map[string]string{
		"[Content_Types].xml":          `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
		"word/document.xml":            `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// buildPDF 生成每页一行文本的最小 PDF，偏移量按实际写入位置计算
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()

	n := len(pages)
	fontID := 3 + 2*n
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
	}

	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))

	for i := range pages {
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			fontID, 3+n+i))
	}
	for _, text := range pages {
		content := ""
		if text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}

func TestExtractor_PDF(t *testing.T) {
	require.False(t, Licensed())
	e := New()
	data := buildPDF(t, "Jane Doe Senior Go Engineer", "Skills Go Redis MySQL")

	text, err := e.Extract(data, MimePDF, "cv.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe Senior Go Engineer")
	assert.Contains(t, text, "Skills Go Redis MySQL")

	// 按扩展名识别，结果稳定
	again, err := e.Extract(data, "", "cv.pdf")
	require.NoError(t, err)
	assert.Equal(t, text, again)
}

func TestExtractor_PDFWithoutText(t *testing.T) {
	e := New()

	_, err := e.Extract(buildPDF(t, ""), MimePDF, "scan.pdf")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestExtractor_PlainText(t *testing.T) {
	e := New()

	text, err := e.Extract([]byte("  Jane Doe\r\nSenior Go Engineer\r\n"), "text/plain; charset=utf-8", "cv.txt")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nSenior Go Engineer", text)
}

func TestExtractor_Deterministic(t *testing.T) {
	e := New()
	data := []byte("Experience: 5 years\nSkills: Go, Redis")

	first, err := e.Extract(data, MimeText, "cv.txt")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Extract(data, MimeText, "cv.txt")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExtractor_EmptyText(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"whitespace", []byte(" \n\t \r\n ")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.data, MimeText, "cv.txt")
			assert.ErrorIs(t, err, ErrNoText)
		})
	}
}

func TestExtractor_DOCX(t *testing.T) {
	e := New()
	data := buildDOCX(t, `<w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p><w:p><w:r><w:t>R&amp;D Engineer</w:t></w:r></w:p>`)

	text, err := e.Extract(data, MimeDOCX, "cv.docx")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nR&D Engineer", text)
}

func TestExtractor_InvalidPDF(t *testing.T) {
	e := New()

	_, err := e.Extract([]byte("not a pdf"), MimePDF, "cv.pdf")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoText)
}

func TestExtractor_Unsupported(t *testing.T) {
	e := New()

	_, err := e.Extract([]byte("data"), "image/png", "scan.png")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestKind(t *testing.T) {
	assert.Equal(t, MimePDF, kind("application/pdf", ""))
	assert.Equal(t, MimePDF, kind("", "Resume.PDF"))
	assert.Equal(t, MimeDOCX, kind("application/octet-stream", "cv.docx"))
	assert.Equal(t, MimeText, kind("TEXT/PLAIN", "x"))
	assert.Equal(t, "", kind("image/png", "scan.png"))
}

func TestSetLicense_Empty(t *testing.T) {
	assert.NoError(t, SetLicense(""))
	assert.False(t, Licensed())
}
