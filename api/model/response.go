package model

import (
	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/fyerfyer/paper-dataset/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// RunStartResponse 开始运行响应
type RunStartResponse struct {
	RunID  string               `json:"run_id"` // 运行ID
	Paper  string               `json:"paper"`  // 论文标识
	State  models.PipelineState `json:"state"`  // 当前状态
	Format string               `json:"format"` // 导出格式
	Output string               `json:"output"` // 导出路径
}

// RunCancelResponse 取消运行响应
type RunCancelResponse struct {
	RunID     string `json:"run_id"`    // 运行ID
	Cancelled bool   `json:"cancelled"` // 是否已发出取消
}

// SamplesResponse 样本列表响应
type SamplesResponse struct {
	PaginationResponse
	RunID   string                     `json:"run_id"`  // 运行ID
	Samples []models.SynthesizedSample `json:"samples"` // 样本列表
}

// ModelsResponse 模型列表响应
type ModelsResponse struct {
	Models []llm.ModelInfo `json:"models"`
}

// FormatsResponse 导出格式列表响应
type FormatsResponse struct {
	Formats []string `json:"formats"`
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int `json:"total"`     // 总记录数
	Page     int `json:"page"`      // 当前页码
	PageSize int `json:"page_size"` // 每页大小
}
