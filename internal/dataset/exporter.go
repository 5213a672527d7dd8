package dataset

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
)

// 支持的导出格式
const (
	FormatParquet = "parquet"
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatXLSX    = "xlsx"
	FormatSQLite  = "sqlite"
)

var formatAliases = map[string]string{
	"ndjson":  FormatJSONL,
	"db":      FormatSQLite,
	"sqlite3": FormatSQLite,
}

// Encoder 把样本写入指定路径的文件
type Encoder func(ctx context.Context, path string, samples []models.SynthesizedSample) error

// Exporter 数据集导出器
type Exporter struct {
	encoders map[string]Encoder
	logger   *logrus.Logger
}

// Option 导出器配置选项
type Option func(*Exporter)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// WithEncoder 注册或覆盖某个格式的编码器
func WithEncoder(format string, enc Encoder) Option {
	return func(e *Exporter) {
		e.encoders[strings.ToLower(format)] = enc
	}
}

// NewExporter 创建导出器并注册内置格式
func NewExporter(opts ...Option) *Exporter {
	e := &Exporter{
		encoders: make(map[string]Encoder),
		logger:   logrus.StandardLogger(),
	}
	e.encoders[FormatParquet] = encodeParquet
	e.encoders[FormatJSONL] = encodeJSONL
	e.encoders[FormatCSV] = encodeCSV
	e.encoders[FormatXLSX] = encodeXLSX
	e.encoders[FormatSQLite] = func(ctx context.Context, path string, samples []models.SynthesizedSample) error {
		return encodeSQLite(ctx, path, samples, e.logger)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Formats 返回支持的格式
func (e *Exporter) Formats() []string {
	formats := make([]string, 0, len(e.encoders))
	for f := range e.encoders {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// Supports 是否支持该格式
func (e *Exporter) Supports(format string) bool {
	_, ok := e.encoders[NormalizeFormat(format)]
	return ok
}

// NormalizeFormat 统一格式名称
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if alias, ok := formatAliases[f]; ok {
		return alias
	}
	return f
}

// Export 冻结数据集并导出到path
// 先写同目录的临时文件再重命名，失败时删除临时文件，目标文件不会处于半写状态
func (e *Exporter) Export(ctx context.Context, ds *Dataset, format, path string) error {
	name := NormalizeFormat(format)
	enc, ok := e.encoders[name]
	if !ok {
		return models.NewError(models.KindUnsupportedFormat,
			fmt.Sprintf("unsupported export format %q (supported: %s)", format, strings.Join(e.Formats(), ", ")), nil)
	}
	if path == "" {
		return models.NewError(models.KindExportIO, "output path is empty", nil)
	}

	ds.Freeze()
	samples := ds.Samples()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.NewError(models.KindExportIO, "failed to create output directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return models.NewError(models.KindExportIO, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	cleanup := func() {
		_ = os.Remove(tmpPath)
		_ = os.Remove(tmpPath + "-journal")
	}

	if err := enc(ctx, tmpPath, samples); err != nil {
		cleanup()
		return models.NewError(models.KindExportIO, fmt.Sprintf("failed to write %s export", name), err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return models.NewError(models.KindExportIO, "failed to set file mode", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return models.NewError(models.KindExportIO, "failed to move export into place", err)
	}

	e.logger.WithFields(logrus.Fields{
		"format":  name,
		"path":    path,
		"samples": len(samples),
	}).Info("Dataset exported")
	return nil
}

// writeFile 以缓冲方式写入已存在的临时文件并落盘
func writeFile(path string, fn func(w io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if err := fn(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
