package models

import "strings"

// Section 文档小节
type Section struct {
	Title string `json:"title,omitempty"` // 标题，可为空
	Body  string `json:"body"`            // 规范化后的纯文本
}

// NormalizedDocument 去掉标记后的文档
type NormalizedDocument struct {
	Title    string    `json:"title,omitempty"`
	Sections []Section `json:"sections"`
}

// TextLength 所有小节正文的字节数
func (d *NormalizedDocument) TextLength() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Body)
	}
	return n
}

// HasContent 是否至少有一个非空小节
func (d *NormalizedDocument) HasContent() bool {
	for _, s := range d.Sections {
		if strings.TrimSpace(s.Body) != "" {
			return true
		}
	}
	return false
}

// Chunk 文本块
type Chunk struct {
	Index        int    `json:"index"`                   // 在文档中的顺序，从0开始
	Text         string `json:"text"`                    // 文本内容
	SectionTitle string `json:"section_title,omitempty"` // 所属小节标题
	CharCount    int    `json:"char_count"`              // 字符数（按rune计）
}
