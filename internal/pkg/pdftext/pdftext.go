package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

const (
	MimePDF   = "application/pdf"
	MimeText  = "text/plain"
	MimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	extPDF    = ".pdf"
	extText   = ".txt"
	extDOCX   = ".docx"
	pageBreak = "\n\n"
)

var (
	ErrNoText          = errors.New("no extractable text")
	ErrUnsupportedType = errors.New("unsupported file type")
)

var (
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

var licensed atomic.Bool

// SetLicense 设置 unipdf 的计量授权；key 为空时 PDF 改用无需授权的解析器
func SetLicense(key string) error {
	if key == "" {
		return nil
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("failed to set pdf license: %w", err)
	}
	licensed.Store(true)
	return nil
}

// Licensed 是否已启用 unipdf
func Licensed() bool {
	return licensed.Load()
}

// Extractor 把上传的文件转换为纯文本
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract 根据 MIME 类型（缺失时按扩展名）抽取文本，结果为空白时返回 ErrNoText
func (e *Extractor) Extract(data []byte, mimeType, filename string) (string, error) {
	var (
		text string
		err  error
	)

	switch kind(mimeType, filename) {
	case MimePDF:
		text, err = extractPDF(data)
	case MimeDOCX:
		text, err = extractDOCX(data)
	case MimeText:
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	if err != nil {
		return "", err
	}

	text = normalize(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func kind(mimeType, filename string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case MimePDF, MimeDOCX, MimeText:
		return mimeType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case extPDF:
		return MimePDF
	case extDOCX:
		return MimeDOCX
	case extText:
		return MimeText
	}
	return ""
}

func extractPDF(data []byte) (string, error) {
	if licensed.Load() {
		return extractPDFUnidoc(data)
	}
	return extractPDFPlain(data)
}

// extractPDFPlain 逐页读取文本，解析器在损坏的文件上可能 panic
func extractPDFPlain(data []byte) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("failed to read PDF: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			pages = append(pages, pageText)
		}
	}

	return strings.Join(pages, pageBreak), nil
}

func extractPDFUnidoc(data []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("failed to get page count: %w", err)
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("failed to get page %d: %w", i, err)
		}

		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("failed to create extractor for page %d: %w", i, err)
		}

		pageText, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}

		if pageText = strings.TrimSpace(pageText); pageText != "" {
			pages = append(pages, pageText)
		}
	}

	return strings.Join(pages, pageBreak), nil
}

func extractDOCX(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read DOCX: %w", err)
	}
	defer doc.Close()

	content := paragraphEnd.ReplaceAllString(doc.Editable().GetContent(), "\n")
	content = xmlTag.ReplaceAllString(content, "")
	return unescapeXML(content), nil
}

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}

// normalize 统一换行并去掉首尾空白，保证同一文件多次抽取结果一致
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
