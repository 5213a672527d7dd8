package models

import (
	"errors"
	"fmt"
)

// ErrorKind 流水线错误类别
type ErrorKind string

const (
	// KindInvalidReference 论文标识无法识别
	KindInvalidReference ErrorKind = "InvalidReference"
	// KindNotFound 远端不存在该论文
	KindNotFound ErrorKind = "NotFound"
	// KindNetwork 网络或上游服务错误
	KindNetwork ErrorKind = "NetworkError"
	// KindUnpack 压缩包损坏或没有可识别的源文件
	KindUnpack ErrorKind = "UnpackError"
	// KindExtraction 源文件中没有可用的正文
	KindExtraction ErrorKind = "ExtractionError"
	// KindMalformedGeneration 模型输出无法解析为合法对话
	KindMalformedGeneration ErrorKind = "MalformedGeneration"
	// KindUnsupportedFormat 不支持的导出格式
	KindUnsupportedFormat ErrorKind = "UnsupportedFormat"
	// KindExportIO 导出写入失败
	KindExportIO ErrorKind = "ExportIOError"
	// KindCancelled 运行被取消
	KindCancelled ErrorKind = "Cancelled"
	// KindInvalidConfig 运行配置不合法
	KindInvalidConfig ErrorKind = "InvalidConfig"
	// KindInternal 流水线自身的错误，例如非法的状态迁移
	KindInternal ErrorKind = "InternalError"
)

// Retryable 该类错误是否值得重试
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork
}

// Fatal 该类错误是否终止整个流水线
// 只有 MalformedGeneration 是样本级别的，记录后继续
func (k ErrorKind) Fatal() bool {
	return k != KindMalformedGeneration
}

// PipelineError 流水线错误
type PipelineError struct {
	Kind    ErrorKind // 错误类别
	Message string    // 错误描述
	Err     error     // 原始错误
}

// Error 实现error接口
func (e *PipelineError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap 返回原始错误
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is 按错误类别比较，使 errors.Is(err, ErrNotFound) 可用
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// 各类别的哨兵错误，仅用于 errors.Is 比较
var (
	ErrInvalidReference    = &PipelineError{Kind: KindInvalidReference}
	ErrNotFound            = &PipelineError{Kind: KindNotFound}
	ErrNetwork             = &PipelineError{Kind: KindNetwork}
	ErrUnpack              = &PipelineError{Kind: KindUnpack}
	ErrExtraction          = &PipelineError{Kind: KindExtraction}
	ErrMalformedGeneration = &PipelineError{Kind: KindMalformedGeneration}
	ErrUnsupportedFormat   = &PipelineError{Kind: KindUnsupportedFormat}
	ErrExportIO            = &PipelineError{Kind: KindExportIO}
	ErrCancelled           = &PipelineError{Kind: KindCancelled}
	ErrInvalidConfig       = &PipelineError{Kind: KindInvalidConfig}
	ErrInternal            = &PipelineError{Kind: KindInternal}
)

// NewError 创建流水线错误
func NewError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// KindOf 取出错误链中的流水线错误类别
// 不是流水线错误时返回空字符串
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
