package model

import "github.com/fyerfyer/paper-dataset/internal/models"

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为20，最大为200
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 20
	}
	if p.PageSize > 200 {
		return 200
	}
	return p.PageSize
}

// RunRequest 开始运行请求
// 未填写的字段使用服务端配置的默认值
type RunRequest struct {
	Paper           string `json:"paper" binding:"required"`                    // arXiv编号或URL
	Format          string `json:"format" binding:"omitempty"`                  // 导出格式
	Output          string `json:"output" binding:"omitempty"`                  // 导出路径
	MaxChars        int    `json:"max_chars" binding:"omitempty,min=1"`         // 每块最大字符数
	OverlapChars    *int   `json:"overlap_chars" binding:"omitempty,min=0"`     // 块重叠字符数
	SamplesPerChunk int    `json:"samples_per_chunk" binding:"omitempty,min=1"` // 每块样本数
	Workers         int    `json:"workers" binding:"omitempty,min=1,max=64"`    // 并发数
	Model           string `json:"model" binding:"omitempty"`                   // 模型名称
	MaxChunks       *int   `json:"max_chunks" binding:"omitempty,min=0"`        // 最大块数，0不限制
}

// Apply 把请求中填写的字段覆盖到默认配置上
func (r RunRequest) Apply(defaults models.RunConfig) models.RunConfig {
	cfg := defaults
	if r.Format != "" {
		cfg.Format = r.Format
	}
	if r.Output != "" {
		cfg.OutputPath = r.Output
	}
	if r.MaxChars > 0 {
		cfg.MaxChars = r.MaxChars
	}
	if r.OverlapChars != nil {
		cfg.OverlapChars = *r.OverlapChars
	}
	if r.SamplesPerChunk > 0 {
		cfg.SamplesPerChunk = r.SamplesPerChunk
	}
	if r.Workers > 0 {
		cfg.Workers = r.Workers
	}
	if r.Model != "" {
		cfg.Model = r.Model
	}
	if r.MaxChunks != nil {
		cfg.MaxChunks = *r.MaxChunks
	}
	return cfg
}

// SamplesRequest 样本列表请求
type SamplesRequest struct {
	PaginationRequest
	Chunk *int `form:"chunk" json:"chunk" binding:"omitempty,min=0"` // 只返回某个块的样本
}
