package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// PipelineState 流水线状态
type PipelineState string

const (
	// StateIdle 未开始
	StateIdle PipelineState = "idle"
	// StateFetching 下载论文
	StateFetching PipelineState = "fetching"
	// StateExtracting 解包并抽取正文
	StateExtracting PipelineState = "extracting"
	// StateChunking 分块
	StateChunking PipelineState = "chunking"
	// StateGenerating 生成对话样本
	StateGenerating PipelineState = "generating"
	// StateExporting 导出数据集
	StateExporting PipelineState = "exporting"
	// StateCompleted 完成
	StateCompleted PipelineState = "completed"
	// StateFailed 失败
	StateFailed PipelineState = "failed"
	// StateCancelled 已取消
	StateCancelled PipelineState = "cancelled"
)

// Terminal 是否为终止状态
func (s PipelineState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Progress 当前阶段的进度
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Diagnostic 失败或取消时的诊断信息
type Diagnostic struct {
	Stage     PipelineState `json:"stage"`
	Kind      ErrorKind     `json:"kind"`
	Message   string        `json:"message"`
	Succeeded int           `json:"succeeded"` // 已成功处理的块数
	Failed    int           `json:"failed"`    // 放弃的样本数
	Time      time.Time     `json:"time"`
}

// DatasetStats 数据集统计
type DatasetStats struct {
	Samples        int            `json:"samples"`
	Chunks         int            `json:"chunks"`
	AverageTurns   float64        `json:"average_turns"`
	TotalWords     int            `json:"total_words"`
	TurnsBySpeaker map[string]int `json:"turns_by_speaker"`
}

// RunConfig 一次运行的配置
type RunConfig struct {
	MaxChars        int    `json:"max_chars" validate:"required,gt=0"`
	OverlapChars    int    `json:"overlap_chars" validate:"gte=0,ltefield=MaxChars"`
	SamplesPerChunk int    `json:"samples_per_chunk" validate:"required,gt=0"`
	Workers         int    `json:"workers" validate:"required,gt=0"`
	MaxChunks       int    `json:"max_chunks" validate:"gte=0"`
	Model           string `json:"model" validate:"required"`
	Format          string `json:"format" validate:"required"`
	OutputPath      string `json:"output_path" validate:"required"`
}

var runConfigValidator = validator.New()

// Validate 校验运行配置
// 重叠长度不超过块长度的一半
func (c RunConfig) Validate() error {
	if err := runConfigValidator.Struct(c); err != nil {
		return NewError(KindInvalidConfig, "run config", err)
	}
	if c.OverlapChars > 0 && c.OverlapChars*2 > c.MaxChars {
		return NewError(KindInvalidConfig, "overlap_chars must be at most half of max_chars", nil)
	}
	return nil
}

// Snapshot 运行状态快照
type Snapshot struct {
	RunID      string                 `json:"run_id"`
	Paper      string                 `json:"paper"`
	State      PipelineState          `json:"state"`
	Progress   Progress               `json:"progress"`
	Diagnostic *Diagnostic            `json:"diagnostic,omitempty"`
	Generation []GenerationDiagnostic `json:"generation_diagnostics,omitempty"`
	Stats      DatasetStats           `json:"stats"`
	Metadata   *PaperMetadata         `json:"metadata,omitempty"`
	OutputPath string                 `json:"output_path,omitempty"`
	ArtifactID string                 `json:"artifact_id,omitempty"`
	PublishErr string                 `json:"publish_error,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}
