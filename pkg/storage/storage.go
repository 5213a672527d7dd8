package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrNotFound 产物不存在
var ErrNotFound = errors.New("artifact not found")

// FileInfo 产物元数据
type FileInfo struct {
	ID       string // 产物唯一标识符
	Name     string // 原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // MIME类型
	Path     string // 内部存储路径(实现相关)
}

// Storage 导出产物存储接口
// 数据集导出完成后发布到这里，可以有不同实现(本地文件系统、MinIO)
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error)

	// Get 获取文件内容
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, id string) error

	// List 列出所有文件
	List(ctx context.Context) ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(ctx context.Context, id string) (bool, error)
}

// 存储类型
const (
	TypeLocal = "local"
	TypeMinio = "minio"
	TypeNone  = "none"
)

// Config 存储配置
type Config struct {
	Type  string      // local / minio / none
	Local LocalConfig // 本地存储配置
	Minio MinioConfig // MinIO配置
}

// New 根据配置创建存储实现
// Type 为 none 或空时返回 nil，表示不发布产物
func New(cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return nil, nil
	case TypeLocal:
		return NewLocalStorage(cfg.Local)
	case TypeMinio:
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// getMimeType 根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".db", ".sqlite", ".sqlite3":
		return "application/vnd.sqlite3"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// idFromName 从存储文件名中取出ID
func idFromName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
