package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"gorm.io/gorm"
)

const saveBatchSize = 200

// sampleRepository 样本仓储实现
type sampleRepository struct {
	db *gorm.DB // 数据库连接
}

// NewSampleRepository 使用指定的数据库连接创建样本仓储实例
func NewSampleRepository(db *gorm.DB) SampleRepository {
	return &sampleRepository{db: db}
}

// SaveSamples 批量保存样本，发言随样本一起写入
func (r *sampleRepository) SaveSamples(ctx context.Context, samples []*models.SampleRecord) error {
	if len(samples) == 0 {
		return nil
	}
	for _, s := range samples {
		if s.SampleID == "" {
			return errors.New("sample ID cannot be empty")
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(samples, saveBatchSize).Error; err != nil {
			return fmt.Errorf("failed to save samples: %w", err)
		}
		return nil
	})
}

// ListSamples 按块序号和样本序号列出全部样本
func (r *sampleRepository) ListSamples(ctx context.Context) ([]*models.SampleRecord, error) {
	var samples []*models.SampleRecord
	err := r.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order("turn_index ASC")
		}).
		Order("chunk_index ASC, sample_index ASC, id ASC").
		Find(&samples).Error
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// GetBySampleID 根据样本标识获取样本
func (r *sampleRepository) GetBySampleID(ctx context.Context, sampleID string) (*models.SampleRecord, error) {
	var sample models.SampleRecord
	err := r.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order("turn_index ASC")
		}).
		Where("sample_id = ?", sampleID).
		First(&sample).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("sample not found: %s", sampleID)
		}
		return nil, err
	}
	return &sample, nil
}

// CountSamples 统计样本数量
func (r *sampleRepository) CountSamples(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SampleRecord{}).Count(&count).Error
	return count, err
}

// CountTurns 统计发言数量
func (r *sampleRepository) CountTurns(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TurnRecord{}).Count(&count).Error
	return count, err
}
