package document

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
)

// Parser 文档解析器接口
// 负责将不同格式的源文件规范化为带小节结构的纯文本
type Parser interface {
	// Parse 解析文件
	Parse(filePath string) (*models.NormalizedDocument, error)

	// ParseReader 从Reader解析文档
	// filename用于日志和错误信息
	ParseReader(r io.Reader, filename string) (*models.NormalizedDocument, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// LaTeX 源文件
	LaTeX ContentType = "latex"
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// ParserOption 解析器选项
type ParserOption func(*parserOptions)

type parserOptions struct {
	logger       *logrus.Logger
	expandMacros bool
}

// WithParserLogger 设置解析器日志
func WithParserLogger(logger *logrus.Logger) ParserOption {
	return func(o *parserOptions) {
		o.logger = logger
	}
}

// WithMacroExpansion 设置是否展开LaTeX自定义宏
func WithMacroExpansion(enabled bool) ParserOption {
	return func(o *parserOptions) {
		o.expandMacros = enabled
	}
}

func buildParserOptions(opts []ParserOption) parserOptions {
	o := parserOptions{
		logger:       logrus.StandardLogger(),
		expandMacros: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
func ParserFactory(filePath string, opts ...ParserOption) (Parser, error) {
	switch DetectContentType(filePath) {
	case LaTeX:
		return NewLatexParser(opts...), nil
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	default:
		return nil, fmt.Errorf("unsupported document type: %s", filepath.Ext(filePath))
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".tex", ".ltx", ".latex":
		return LaTeX
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt", ".text":
		return PlainText
	default:
		return Unknown
	}
}

// finishDocument 检查文档是否有可用正文
func finishDocument(doc *models.NormalizedDocument, filename string) (*models.NormalizedDocument, error) {
	if doc == nil || !doc.HasContent() {
		return nil, models.NewError(models.KindExtraction,
			fmt.Sprintf("no textual content in %s", filepath.Base(filename)), nil)
	}
	return doc, nil
}
