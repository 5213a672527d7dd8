package synth

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/fyerfyer/paper-dataset/internal/cache"
	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxAttempts 每个样本的总尝试次数（首次加2次重试）
	DefaultMaxAttempts = 3
	// DefaultMaxTurnChars 单轮发言的字符上限
	DefaultMaxTurnChars = 4000
	// DefaultWorkers 并发处理的块数
	DefaultWorkers = 4
	// DefaultRequestTimeout 单次生成请求的超时
	DefaultRequestTimeout = 5 * time.Minute

	generationTTL = 30 * 24 * time.Hour
)

// Config 样本生成配置
type Config struct {
	MaxAttempts    int
	MaxTurnChars   int
	Workers        int
	RequestTimeout time.Duration
	Temperature    float32
	MaxTokens      int
	SystemPrompt   string
	UserTemplate   string
	PaperTitle     string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		MaxTurnChars:   DefaultMaxTurnChars,
		Workers:        DefaultWorkers,
		RequestTimeout: DefaultRequestTimeout,
		Temperature:    0.7,
		MaxTokens:      2048,
		SystemPrompt:   DefaultSystemPrompt,
		UserTemplate:   DefaultUserTemplate,
	}
}

// Option 生成器配置选项
type Option func(*Synthesizer)

// WithWorkers 设置并发处理的块数
func WithWorkers(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.config.Workers = n
		}
	}
}

// WithMaxAttempts 设置每个样本的总尝试次数
func WithMaxAttempts(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.config.MaxAttempts = n
		}
	}
}

// WithMaxTurnChars 设置单轮发言的字符上限
func WithMaxTurnChars(n int) Option {
	return func(s *Synthesizer) {
		s.config.MaxTurnChars = n
	}
}

// WithRequestTimeout 设置单次请求超时
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.config.RequestTimeout = d
		}
	}
}

// WithTemperature 设置采样温度
func WithTemperature(temp float32) Option {
	return func(s *Synthesizer) {
		s.config.Temperature = temp
	}
}

// WithMaxTokens 设置单次生成的最大Token数
func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) {
		s.config.MaxTokens = n
	}
}

// WithPrompts 设置自定义提示词，空字符串保留默认值
func WithPrompts(system, userTemplate string) Option {
	return func(s *Synthesizer) {
		if system != "" {
			s.config.SystemPrompt = system
		}
		if userTemplate != "" {
			s.config.UserTemplate = userTemplate
		}
	}
}

// WithPaperTitle 设置论文标题，写入提示词
func WithPaperTitle(title string) Option {
	return func(s *Synthesizer) {
		s.config.PaperTitle = title
	}
}

// WithParsers 设置输出解析器
func WithParsers(parsers ...ResponseParser) Option {
	return func(s *Synthesizer) {
		if len(parsers) > 0 {
			s.parsers = parsers
		}
	}
}

// WithCache 缓存模型原始输出
func WithCache(c cache.Cache) Option {
	return func(s *Synthesizer) {
		s.cache = c
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// Synthesizer 调用大模型把文本块转换为对话样本
type Synthesizer struct {
	client  llm.Client
	config  Config
	parsers []ResponseParser
	cache   cache.Cache
	logger  *logrus.Logger
}

// NewSynthesizer 创建样本生成器
func NewSynthesizer(client llm.Client, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client:  client,
		config:  DefaultConfig(),
		parsers: DefaultParsers(),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChunkResult 一个块的生成结果
type ChunkResult struct {
	Chunk       models.Chunk
	Samples     []models.SynthesizedSample
	Diagnostics []models.GenerationDiagnostic
	Err         error
}

// Synthesize 为一个块生成sampleCount个样本
// 解析或校验失败的样本顺序重试，用尽后记为 MalformedGeneration 诊断
// 请求失败返回 NetworkError；取消后完成的结果被丢弃并返回 Cancelled
func (s *Synthesizer) Synthesize(ctx context.Context, chunk models.Chunk, model string, sampleCount int) ([]models.SynthesizedSample, []models.GenerationDiagnostic, error) {
	var (
		samples []models.SynthesizedSample
		diags   []models.GenerationDiagnostic
	)

	for i := 0; i < sampleCount; i++ {
		var (
			turns  []models.Turn
			reason string
			tries  int
		)

		for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, nil, models.NewError(models.KindCancelled, "generation cancelled", err)
			}
			tries = attempt

			gen, err := s.generate(ctx, promptInput{
				Title:           s.config.PaperTitle,
				Chunk:           chunk,
				SampleIndex:     i,
				SampleCount:     sampleCount,
				PreviousFailure: reason,
			}, model, attempt)
			if ctx.Err() != nil {
				return nil, nil, models.NewError(models.KindCancelled, "generation cancelled", ctx.Err())
			}
			if err != nil {
				return samples, diags, models.NewError(models.KindNetwork,
					fmt.Sprintf("generation request for chunk %d failed", chunk.Index), err)
			}

			parsed, err := ParseTurns(s.parsers, gen.text)
			if err == nil {
				err = ValidateTurns(parsed, s.config.MaxTurnChars)
			}
			if err == nil {
				s.remember(ctx, gen)
				turns = parsed
				reason = ""
				break
			}

			reason = errorReason(err)
			s.logger.WithFields(logrus.Fields{
				"chunk_index":  chunk.Index,
				"sample_index": i,
				"attempt":      attempt,
				"reason":       reason,
			}).Warn("Discarding malformed generation")
		}

		if turns == nil {
			diags = append(diags, models.GenerationDiagnostic{
				ChunkIndex:  chunk.Index,
				SampleIndex: i,
				Attempts:    tries,
				Kind:        models.KindMalformedGeneration,
				Reason:      reason,
			})
			continue
		}

		samples = append(samples, models.SynthesizedSample{
			ChunkIndex:   chunk.Index,
			SampleIndex:  i,
			SectionTitle: chunk.SectionTitle,
			Model:        model,
			Turns:        turns,
			Valid:        true,
		})
	}

	return samples, diags, nil
}

// generation 一次请求的原始输出
type generation struct {
	text   string
	key    string // 缓存键，未启用缓存时为空
	cached bool   // 是否来自缓存
}

// generate 发送一次请求，命中缓存时直接返回缓存的原始输出
// 请求不随ctx取消，由调用方在返回后检查并丢弃结果
func (s *Synthesizer) generate(ctx context.Context, in promptInput, model string, attempt int) (generation, error) {
	messages := buildMessages(s.config.SystemPrompt, s.config.UserTemplate, in)
	detached := context.WithoutCancel(ctx)

	var gen generation
	if s.cache != nil {
		gen.key = cache.GenerateCacheKey("synth", cache.HashKey(model, messages[0].Content, messages[1].Content, fmt.Sprint(attempt)))
		if text, found, err := s.cache.Get(detached, gen.key); err != nil {
			s.logger.WithError(err).Warn("Failed to read generation cache")
		} else if found {
			gen.text, gen.cached = text, true
			return gen, nil
		}
	}

	reqCtx, cancel := context.WithTimeout(detached, s.config.RequestTimeout)
	defer cancel()

	opts := []llm.ChatOption{
		llm.WithChatModel(model),
		llm.WithChatTemperature(s.config.Temperature),
	}
	if s.config.MaxTokens > 0 {
		opts = append(opts, llm.WithChatMaxTokens(s.config.MaxTokens))
	}

	resp, err := s.client.Chat(reqCtx, messages, opts...)
	if err != nil {
		return gen, err
	}
	gen.text = resp.Text
	return gen, nil
}

// remember 缓存通过解析和校验的输出，格式错误的输出不缓存
func (s *Synthesizer) remember(ctx context.Context, gen generation) {
	if s.cache == nil || gen.cached || gen.key == "" {
		return
	}
	if err := s.cache.Set(context.WithoutCancel(ctx), gen.key, gen.text, generationTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to write generation cache")
	}
}

// Stream 并发处理块序列，每个块的结果写入返回的通道
// 并发数由 Workers 限制；出现致命错误或ctx取消后不再开始新的块
func (s *Synthesizer) Stream(ctx context.Context, chunks iter.Seq[models.Chunk], model string, sampleCount int) <-chan ChunkResult {
	out := make(chan ChunkResult, s.config.Workers)

	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.config.Workers)

		for chunk := range chunks {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				samples, diags, err := s.Synthesize(gctx, chunk, model, sampleCount)
				if err != nil && errors.Is(err, models.ErrCancelled) {
					return nil
				}

				res := ChunkResult{Chunk: chunk, Samples: samples, Diagnostics: diags, Err: err}
				select {
				case out <- res:
				default:
					select {
					case out <- res:
					case <-ctx.Done():
					}
				}
				return err
			})
		}

		if err := g.Wait(); err != nil {
			s.logger.WithError(err).Debug("Generation stopped early")
		}
	}()

	return out
}

func errorReason(err error) string {
	var pe *models.PipelineError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}
