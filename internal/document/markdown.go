package document

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件
func (p *MarkdownParser) Parse(filePath string) (*models.NormalizedDocument, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open markdown file: %w", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
// 标题开启新小节，代码块、表格、图片和HTML块被丢弃
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (*models.NormalizedDocument, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown content: %w", err)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	root := parser.NewWithExtensions(extensions).Parse(content)

	b := &sectionBuilder{}
	var (
		docTitle string
		heading  *strings.Builder
	)

	ast.WalkFunc(root, func(node ast.Node, entering bool) ast.WalkStatus {
		switch n := node.(type) {
		case *ast.Heading:
			if entering {
				heading = &strings.Builder{}
				return ast.GoToNext
			}
			title := strings.Join(strings.Fields(heading.String()), " ")
			heading = nil
			if n.Level == 1 && docTitle == "" {
				docTitle = title
			}
			b.open(title)
		case *ast.CodeBlock, *ast.Table, *ast.Image, *ast.HTMLBlock, *ast.HTMLSpan:
			return ast.SkipChildren
		case *ast.Text:
			writeMarkdownText(b, heading, n.Literal)
		case *ast.Code:
			writeMarkdownText(b, heading, n.Literal)
		case *ast.Softbreak:
			writeMarkdownText(b, heading, []byte(" "))
		case *ast.Hardbreak:
			writeMarkdownText(b, heading, []byte("\n"))
		case *ast.Paragraph:
			if !entering {
				b.body.WriteString("\n\n")
			}
		case *ast.ListItem:
			if entering {
				b.body.WriteString("\n\n- ")
			}
		}
		return ast.GoToNext
	})

	return finishDocument(b.build(docTitle), filename)
}

func writeMarkdownText(b *sectionBuilder, heading *strings.Builder, text []byte) {
	if heading != nil {
		heading.Write(text)
		return
	}
	b.body.Write(text)
}
