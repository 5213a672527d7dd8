package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFParser PDF文档解析器
// 每页作为一个无标题小节
type PDFParser struct{}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser() Parser {
	return &PDFParser{}
}

var pageNumberPattern = regexp.MustCompile(`(\d+)\.txt$`)

// Parse 解析PDF文件并提取其文本内容
func (p *PDFParser) Parse(filePath string) (*models.NormalizedDocument, error) {
	// 创建临时目录用于存放提取的内容流
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(filePath, tmpDir, nil, conf); err != nil {
		return nil, models.NewError(models.KindExtraction, "failed to extract content from PDF", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted content dir: %w", err)
	}

	pages := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".txt") {
			pages = append(pages, e.Name())
		}
	}
	// 按页码排序
	sort.Slice(pages, func(i, j int) bool {
		return pageNumber(pages[i]) < pageNumber(pages[j])
	})

	b := &sectionBuilder{}
	for _, name := range pages {
		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			continue
		}
		b.open("")
		b.body.WriteString(extractShownText(string(data)))
	}

	return finishDocument(b.build(""), filePath)
}

// ParseReader 先写入临时文件再解析
func (p *PDFParser) ParseReader(r io.Reader, filename string) (*models.NormalizedDocument, error) {
	tmp, err := os.CreateTemp("", "pdf_source_*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to buffer PDF content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to buffer PDF content: %w", err)
	}

	doc, err := p.Parse(tmp.Name())
	if err != nil && models.KindOf(err) == models.KindExtraction {
		return nil, models.NewError(models.KindExtraction, fmt.Sprintf("no textual content in %s", filepath.Base(filename)), err)
	}
	return doc, err
}

func pageNumber(name string) int {
	m := pageNumberPattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// extractShownText 从内容流中取出文本显示操作符（Tj TJ ' "）的字符串
func extractShownText(stream string) string {
	var (
		out     strings.Builder
		pending []string
	)

	i := 0
	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '(':
			s, next := readPDFString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '[' || c == ']' || c == '>' || isPDFSpace(c):
			i++
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case c == '<':
			// 十六进制字符串依赖字体编码，跳过
			end := strings.IndexByte(stream[i+1:], '>')
			if end < 0 {
				return out.String()
			}
			i += end + 2
		case c == '/':
			i++
			for i < len(stream) && !isPDFSpace(stream[i]) && !isPDFDelimiter(stream[i]) {
				i++
			}
		default:
			j := i
			for j < len(stream) && !isPDFSpace(stream[j]) && !isPDFDelimiter(stream[j]) {
				j++
			}
			if j == i {
				i++
				continue
			}
			tok := stream[i:j]
			i = j
			if isPDFNumber(tok) {
				continue
			}
			switch tok {
			case "'", `"`:
				out.WriteByte('\n')
				fallthrough
			case "Tj", "TJ":
				for _, s := range pending {
					out.WriteString(s)
				}
			case "Td", "TD", "Tm":
				out.WriteByte(' ')
			case "T*", "ET":
				out.WriteByte('\n')
			}
			pending = pending[:0]
		}
	}
	return out.String()
}

// readPDFString 读取 (...) 字符串，处理转义和嵌套括号
func readPDFString(stream string, i int) (string, int) {
	var b strings.Builder
	depth := 0
	for j := i; j < len(stream); j++ {
		c := stream[j]
		switch c {
		case '\\':
			if j+1 >= len(stream) {
				return b.String(), j + 1
			}
			j++
			switch e := stream[j]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\n', '\r':
			default:
				if e >= '0' && e <= '7' {
					k := j
					for k < len(stream) && k < j+3 && stream[k] >= '0' && stream[k] <= '7' {
						k++
					}
					v, _ := strconv.ParseUint(stream[j:k], 8, 8)
					b.WriteByte(byte(v))
					j = k - 1
				} else {
					b.WriteByte(e)
				}
			}
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), j + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), len(stream)
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isPDFNumber(tok string) bool {
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}
