package models

import "time"

// PaperReference 解析后的论文引用
// Identifier 为 arXiv ID（如 2301.12345v2），非 arXiv 的 URL 则为 URL 本身
type PaperReference struct {
	Identifier string `json:"identifier"`
	ArchiveURL string `json:"archive_url"`
	IsArxiv    bool   `json:"is_arxiv"`
}

// PaperMetadata arXiv 元数据
type PaperMetadata struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Abstract   string    `json:"abstract"`
	Published  time.Time `json:"published"`
	Categories []string  `json:"categories"`
}

// ArchiveFile 压缩包中解出的文件
type ArchiveFile struct {
	Name string `json:"name"` // 相对路径
	Size int64  `json:"size"`
}

// RawDocument 获取到的原始论文包
type RawDocument struct {
	Ref         PaperReference
	Content     []byte        // 下载的原始字节
	ContentType string        // 响应头中的类型
	Files       []ArchiveFile // 解包后的文件列表，解包前为空
}

// SourceFile 选出的主源文件
type SourceFile struct {
	Name    string // 相对路径，用于选择解析器
	Path    string // 工作目录中的绝对路径
	Content []byte // 内容（已内联 \input）
}
