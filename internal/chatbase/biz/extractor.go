package biz

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"

	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
)

// 文件内容魔数。内容嗅探优先于扩展名判断，两者不一致时以嗅探结果为准。
var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
)

// Extractor 从原始字节中提取 UTF-8 文本。无副作用，可并发使用。
type Extractor struct{}

// NewExtractor 创建文本提取器。
func NewExtractor() *Extractor {
	return &Extractor{}
}

// DetectType 探测文档类型：先做内容魔数嗅探，失败后回退到扩展名映射。
func (e *Extractor) DetectType(data []byte, filename string) string {
	if bytes.HasPrefix(data, pdfMagic) {
		return model.DocumentTypePDF
	}
	if bytes.HasPrefix(data, zipMagic) && isDOCXArchive(data) {
		return model.DocumentTypeDOCX
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return model.DocumentTypePDF
	case ".docx":
		return model.DocumentTypeDOCX
	case ".md", ".markdown":
		return model.DocumentTypeMarkdown
	case ".txt", ".text", ".log":
		return model.DocumentTypeText
	}
	return model.DocumentTypeOther
}

// Extract 按类型提取文本。返回的文本保证为合法 UTF-8。
// 不支持的类型返回 ErrUnsupportedFormat，提取结果为空返回 ErrEmptyContent。
func (e *Extractor) Extract(data []byte, docType string) (string, error) {
	if len(data) == 0 {
		return "", errors.ErrEmptyContent.WithMessage("document is empty")
	}

	var text string
	var err error
	switch docType {
	case model.DocumentTypePDF:
		text, err = extractPDF(data)
	case model.DocumentTypeDOCX:
		text, err = extractDOCX(data)
	case model.DocumentTypeText, model.DocumentTypeMarkdown:
		text = decodeText(data)
	default:
		return "", errors.ErrUnsupportedFormat.WithMessagef("unsupported document type: %s", docType)
	}
	if err != nil {
		return "", err
	}

	text = normalizeText(text)
	if text == "" {
		return "", errors.ErrEmptyContent
	}
	return text, nil
}

// extractPDF 提取 PDF 文本。主策略整体提取；失败后退化为逐页提取，
// 跳过无法解析的页面。
func extractPDF(data []byte) (string, error) {
	reader, err := openPDF(data)
	if err != nil {
		return "", errors.ErrExtraction.WithMessagef("failed to open pdf: %v", err)
	}

	if text, err := readPDFPlainText(reader); err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	return readPDFByPage(reader), nil
}

func openPDF(data []byte) (reader *pdf.Reader, err error) {
	// NewReader 解析交叉引用表时对畸形输入可能 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf open panicked: %v", r)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func readPDFPlainText(reader *pdf.Reader) (text string, err error) {
	// GetPlainText 对损坏的对象可能 panic，转换为错误以触发逐页退化
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf text extraction panicked: %v", r)
		}
	}()

	body, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func readPDFByPage(reader *pdf.Reader) string {
	var content strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := extractPageText(page)
		if err != nil {
			// 跳过无法解析的页面
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
	}
	return content.String()
}

func extractPageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf page extraction panicked: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

// word/document.xml 中的文本节点与段落结束标记。
var (
	docxTextRegexp = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	docxParaEnd    = []byte("</w:p>")
	xmlEntities    = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'",
	)
)

// extractDOCX 提取 DOCX 文本：读取 word/document.xml，收集 w:t 节点文本，
// 段落之间以换行分隔。
func extractDOCX(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.ErrExtraction.WithMessagef("failed to open docx archive: %v", err)
	}

	var docXML []byte
	for _, f := range archive.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", errors.ErrExtraction.WithMessagef("failed to read docx body: %v", err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", errors.ErrExtraction.WithMessagef("failed to read docx body: %v", err)
		}
		break
	}
	if docXML == nil {
		return "", errors.ErrExtraction.WithMessage("docx archive has no word/document.xml")
	}

	var content strings.Builder
	for _, para := range bytes.Split(docXML, docxParaEnd) {
		matches := docxTextRegexp.FindAllSubmatch(para, -1)
		if len(matches) == 0 {
			continue
		}
		var line strings.Builder
		for _, m := range matches {
			line.Write(m[1])
		}
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(xmlEntities.Replace(line.String()))
	}
	return content.String(), nil
}

// isDOCXArchive 判断 zip 包中是否包含 DOCX 的文档主体。
func isDOCXArchive(data []byte) bool {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// textEncodings 纯文本解码候选编码，按顺序尝试。
// UTF-16 要求存在 BOM，否则任意字节流都可能被当作合法码元误判。
var textEncodings = []encoding.Encoding{
	unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM),
	simplifiedchinese.GB18030,
	traditionalchinese.Big5,
	charmap.Windows1252,
}

// decodeText 对纯文本依次尝试候选编码，全部失败时做有损 UTF-8 兜底，
// 因此纯文本格式的解码永不报错。
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}

	for _, enc := range textEncodings {
		decoded, err := enc.NewDecoder().Bytes(data)
		// x/text 解码器遇到非法字节时替换为 U+FFFD 而非报错，
		// 出现替换符即视为该编码不匹配
		if err == nil && utf8.Valid(decoded) && !bytes.ContainsRune(decoded, utf8.RuneError) {
			return string(decoded)
		}
	}

	// 有损兜底：无效字节替换为 U+FFFD
	return strings.ToValidUTF8(string(data), "�")
}

// normalizeText 统一换行符并去除首尾空白。
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
