package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SampleRecord sqlite导出中的样本表
type SampleRecord struct {
	ID           uint           `gorm:"primaryKey"`                   // 自增主键
	SampleID     string         `gorm:"size:64;not null;uniqueIndex"` // 稳定的样本标识
	ChunkIndex   int            `gorm:"not null;index"`               // 所属块
	SampleIndex  int            `gorm:"not null"`                     // 块内序号
	SectionTitle string         `gorm:"type:text"`                    // 所属小节
	Model        string         `gorm:"size:100"`                     // 生成模型
	Conversation datatypes.JSON `gorm:"type:json"`                    // 完整对话，JSON格式
	CreatedAt    time.Time      `gorm:"not null"`                     // 写入时间
	Turns        []TurnRecord   `gorm:"foreignKey:SampleID;references:SampleID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (s *SampleRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (SampleRecord) TableName() string {
	return "samples"
}

// TurnRecord sqlite导出中的发言表，每轮一行
type TurnRecord struct {
	ID        uint    `gorm:"primaryKey"`
	SampleID  string  `gorm:"size:64;not null;index:idx_turn_order,priority:1"`
	TurnIndex int     `gorm:"not null;index:idx_turn_order,priority:2"`
	Speaker   Speaker `gorm:"size:20;not null"`
	Text      string  `gorm:"type:text;not null"`
}

// TableName 明确指定表名
func (TurnRecord) TableName() string {
	return "turns"
}
