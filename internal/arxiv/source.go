package arxiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyerfyer/paper-dataset/internal/cache"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultEPrintBase 源码包下载地址
	DefaultEPrintBase = "https://arxiv.org/e-print"
	// DefaultAPIBase 元数据查询接口
	DefaultAPIBase = "http://export.arxiv.org/api/query"

	defaultMaxAttempts     = 3
	defaultBackoff         = 500 * time.Millisecond
	defaultMaxArchiveBytes = 100 << 20
	defaultMaxUnpackBytes  = 500 << 20
	metadataTTL            = 7 * 24 * time.Hour
	userAgent              = "paper-dataset/1.0 (+https://github.com/fyerfyer/paper-dataset)"
)

// Source 论文获取器
// 负责解析标识、下载源码包、解包和选取主源文件
type Source struct {
	httpClient      *http.Client
	eprintBase      string
	apiBase         string
	maxAttempts     int
	backoff         time.Duration
	maxArchiveBytes int64
	maxUnpackBytes  int64
	maxInputDepth   int
	cache           cache.Cache
	logger          *logrus.Logger
}

// Option Source配置选项
type Option func(*Source)

// WithHTTPClient 设置HTTP客户端
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		s.httpClient = c
	}
}

// WithEPrintBase 设置源码包下载地址
func WithEPrintBase(base string) Option {
	return func(s *Source) {
		s.eprintBase = base
	}
}

// WithAPIBase 设置元数据接口地址
func WithAPIBase(base string) Option {
	return func(s *Source) {
		s.apiBase = base
	}
}

// WithRetry 设置下载的总尝试次数和退避基数
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Source) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithLimits 设置下载和解包的大小上限
func WithLimits(maxArchiveBytes, maxUnpackBytes int64) Option {
	return func(s *Source) {
		if maxArchiveBytes > 0 {
			s.maxArchiveBytes = maxArchiveBytes
		}
		if maxUnpackBytes > 0 {
			s.maxUnpackBytes = maxUnpackBytes
		}
	}
}

// WithCache 设置元数据缓存
func WithCache(c cache.Cache) Option {
	return func(s *Source) {
		s.cache = c
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource 创建论文获取器
func NewSource(opts ...Option) *Source {
	s := &Source{
		httpClient:      &http.Client{Timeout: 2 * time.Minute},
		eprintBase:      DefaultEPrintBase,
		apiBase:         DefaultAPIBase,
		maxAttempts:     defaultMaxAttempts,
		backoff:         defaultBackoff,
		maxArchiveBytes: defaultMaxArchiveBytes,
		maxUnpackBytes:  defaultMaxUnpackBytes,
		maxInputDepth:   8,
		logger:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve 把 arXiv 编号或URL解析为论文引用
func (s *Source) Resolve(identifier string) (models.PaperReference, error) {
	return resolve(identifier, s.eprintBase)
}

// Fetch 下载论文源码包
// 网络错误和可重试状态码按指数退避最多尝试 maxAttempts 次，404/410 直接返回 NotFound
func (s *Source) Fetch(ctx context.Context, ref models.PaperReference) (*models.RawDocument, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := s.backoff * time.Duration(1<<(attempt-2))
			s.logger.WithFields(logrus.Fields{
				"paper":   ref.Identifier,
				"attempt": attempt,
				"wait":    wait.String(),
			}).Warn("Retrying archive download")

			select {
			case <-ctx.Done():
				return nil, models.NewError(models.KindCancelled, "download cancelled", ctx.Err())
			case <-time.After(wait):
			}
		}

		doc, retry, err := s.fetchOnce(ctx, ref)
		if err == nil {
			s.logger.WithFields(logrus.Fields{
				"paper": ref.Identifier,
				"bytes": len(doc.Content),
			}).Info("Archive downloaded")
			return doc, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (s *Source) fetchOnce(ctx context.Context, ref models.PaperReference) (*models.RawDocument, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.ArchiveURL, nil)
	if err != nil {
		return nil, false, models.NewError(models.KindInvalidReference, "failed to build request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, false, models.NewError(models.KindCancelled, "download cancelled", err)
		}
		return nil, true, models.NewError(models.KindNetwork, "failed to download "+ref.ArchiveURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, false, models.NewError(models.KindNotFound,
			fmt.Sprintf("paper %s not found (status %d)", ref.Identifier, resp.StatusCode), nil)
	case retryableStatus(resp.StatusCode):
		return nil, true, models.NewError(models.KindNetwork,
			fmt.Sprintf("server returned status %d for %s", resp.StatusCode, ref.ArchiveURL), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, models.NewError(models.KindNetwork,
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, ref.ArchiveURL), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxArchiveBytes+1))
	if err != nil {
		return nil, true, models.NewError(models.KindNetwork, "failed to read archive body", err)
	}
	if int64(len(body)) > s.maxArchiveBytes {
		return nil, false, models.NewError(models.KindUnpack,
			fmt.Sprintf("archive exceeds %d bytes", s.maxArchiveBytes), nil)
	}

	return &models.RawDocument{
		Ref:         ref,
		Content:     body,
		ContentType: resp.Header.Get("Content-Type"),
	}, false, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
