package repository

import (
	"context"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

// SampleRepository 样本仓储接口
// 负责sqlite导出中样本和发言的读写
type SampleRepository interface {
	// SaveSamples 在一个事务中批量保存样本及其发言
	SaveSamples(ctx context.Context, samples []*models.SampleRecord) error

	// ListSamples 按块序号和样本序号列出全部样本，包含发言
	ListSamples(ctx context.Context) ([]*models.SampleRecord, error)

	// GetBySampleID 根据样本标识获取样本
	GetBySampleID(ctx context.Context, sampleID string) (*models.SampleRecord, error)

	// CountSamples 统计样本数量
	CountSamples(ctx context.Context) (int64, error)

	// CountTurns 统计发言数量
	CountTurns(ctx context.Context) (int64, error)
}
