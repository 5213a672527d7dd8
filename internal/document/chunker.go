package document

import (
	"iter"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

// ChunkerConfig 分块器配置
type ChunkerConfig struct {
	MaxChars     int // 每块最大字符数（按rune计）
	OverlapChars int // 与同一小节前一块重叠的字符数
	MaxChunks    int // 最大分块数量（0表示不限制）
}

// DefaultChunkerConfig 返回默认分块配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxChars:     2000,
		OverlapChars: 0,
		MaxChunks:    0,
	}
}

// Chunker 按句子贪心累积的分块器
// 块不跨越小节，超长句子在空白处强制切分
type Chunker struct {
	config ChunkerConfig
}

// NewChunker 创建分块器
func NewChunker(config ChunkerConfig) *Chunker {
	if config.MaxChars <= 0 {
		config.MaxChars = DefaultChunkerConfig().MaxChars
	}
	if config.OverlapChars < 0 {
		config.OverlapChars = 0
	}
	if config.OverlapChars > config.MaxChars/2 {
		config.OverlapChars = config.MaxChars / 2
	}
	return &Chunker{config: config}
}

// Chunks 返回惰性的块序列
// 每次遍历都从头重新计算，结果确定
func (c *Chunker) Chunks(doc *models.NormalizedDocument) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		if doc == nil {
			return
		}
		index := 0
		for _, sec := range doc.Sections {
			ok := c.chunkSection(sec.Body, func(text string) bool {
				if c.config.MaxChunks > 0 && index >= c.config.MaxChunks {
					return false
				}
				chunk := models.Chunk{
					Index:        index,
					Text:         text,
					SectionTitle: sec.Title,
					CharCount:    utf8.RuneCountInString(text),
				}
				index++
				return yield(chunk)
			})
			if !ok {
				return
			}
		}
	}
}

// Split 一次性返回全部块
func (c *Chunker) Split(doc *models.NormalizedDocument) []models.Chunk {
	return slices.Collect(c.Chunks(doc))
}

// chunkSection 切分单个小节，emit返回false时停止
func (c *Chunker) chunkSection(body string, emit func(string) bool) bool {
	limit := c.config.MaxChars
	// budget 为当前块留给新内容的字符数
	budget := limit
	var (
		cur    string // 当前块已累积的原文
		prefix string // 来自前一块的重叠文本
	)

	flush := func(content string) bool {
		content = strings.TrimSpace(content)
		if content == "" {
			return true
		}
		text := content
		if prefix != "" {
			text = prefix + " " + content
		}
		if !emit(text) {
			return false
		}
		prefix = overlapTail(content, c.config.OverlapChars)
		budget = limit
		if prefix != "" {
			budget = limit - utf8.RuneCountInString(prefix) - 1
			if budget < 1 {
				prefix = ""
				budget = limit
			}
		}
		return true
	}

	for _, unit := range sentenceUnits(body) {
		if runeLen(strings.TrimSpace(cur+unit)) <= budget {
			cur += unit
			continue
		}
		if !flush(cur) {
			return false
		}
		cur = ""

		// 单句超长，强制切分
		rest := strings.TrimLeftFunc(unit, unicode.IsSpace)
		for runeLen(strings.TrimSpace(rest)) > budget {
			cut := cutIndex(rest, budget)
			if !flush(rest[:cut]) {
				return false
			}
			rest = strings.TrimLeftFunc(rest[cut:], unicode.IsSpace)
		}
		cur = rest
	}
	return flush(cur)
}

// sentenceUnits 把正文切成句子，每个句子带上其后的空白
// 拼接所有句子即为原文
func sentenceUnits(body string) []string {
	var units []string
	start := 0
	for i, r := range body {
		if i < start {
			continue
		}
		boundary := -1
		switch {
		case r == '。' || r == '！' || r == '？' || r == '；':
			boundary = i + utf8.RuneLen(r)
		case r == '.' || r == '!' || r == '?':
			j := i + 1
			if j >= len(body) {
				boundary = j
			} else if next, _ := utf8.DecodeRuneInString(body[j:]); unicode.IsSpace(next) {
				boundary = j
			}
		case r == '\n' && strings.HasPrefix(body[i+1:], "\n"):
			boundary = i
		}
		if boundary < 0 {
			continue
		}
		end := skipWhitespace(body, boundary)
		if end > start {
			units = append(units, body[start:end])
			start = end
		}
	}
	if start < len(body) {
		units = append(units, body[start:])
	}
	return units
}

// cutIndex 返回切分位置（字节），保证前半部分不超过limit个字符
// 优先在最后一个空白处切分，没有空白时在第limit个字符处切分
func cutIndex(s string, limit int) int {
	lastSpace := -1
	count := 0
	for i, r := range s {
		if count == limit {
			if unicode.IsSpace(r) {
				return i
			}
			if lastSpace > 0 {
				return lastSpace
			}
			return i
		}
		if unicode.IsSpace(r) && i > 0 {
			lastSpace = i
		}
		count++
	}
	return len(s)
}

// overlapTail 取前一块末尾约n个字符，从词边界开始
func overlapTail(content string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(content)
	if len(runes) <= n {
		return ""
	}
	tail := string(runes[len(runes)-n:])
	if unicode.IsSpace(runes[len(runes)-n-1]) {
		return strings.TrimSpace(tail)
	}
	if idx := strings.IndexFunc(tail, unicode.IsSpace); idx >= 0 {
		return strings.TrimSpace(tail[idx:])
	}
	return tail
}

func skipWhitespace(s string, i int) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
