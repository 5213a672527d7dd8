package document

import (
	"regexp"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

var blankLinePattern = regexp.MustCompile(`\n[ \t\r]*\n\s*`)

// normalizeParagraphs 规范化空白
// 段落之间保留一个空行，段落内部的连续空白合并为一个空格
func normalizeParagraphs(text string) string {
	parts := blankLinePattern.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// sectionBuilder 按顺序收集小节
type sectionBuilder struct {
	sections []models.Section
	title    string
	body     strings.Builder
}

// open 结束当前小节并开始新小节
func (b *sectionBuilder) open(title string) {
	b.flush()
	b.title = title
}

func (b *sectionBuilder) flush() {
	body := normalizeParagraphs(b.body.String())
	if body != "" || b.title != "" {
		b.sections = append(b.sections, models.Section{Title: b.title, Body: body})
	}
	b.title = ""
	b.body.Reset()
}

func (b *sectionBuilder) build(title string) *models.NormalizedDocument {
	b.flush()
	return &models.NormalizedDocument{
		Title:    title,
		Sections: b.sections,
	}
}
