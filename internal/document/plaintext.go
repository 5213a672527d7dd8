package document

import (
	"fmt"
	"io"
	"os"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

// PlainTextParser 纯文本解析器
type PlainTextParser struct{}

// NewPlainTextParser 创建一个新的纯文本解析器
func NewPlainTextParser() Parser {
	return &PlainTextParser{}
}

// Parse 解析纯文本文件
func (p *PlainTextParser) Parse(filePath string) (*models.NormalizedDocument, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open text file: %w", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 整个文件作为一个无标题小节
func (p *PlainTextParser) ParseReader(r io.Reader, filename string) (*models.NormalizedDocument, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text content: %w", err)
	}

	b := &sectionBuilder{}
	b.body.Write(content)
	return finishDocument(b.build(""), filename)
}
