package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyerfyer/paper-dataset/internal/arxiv"
	"github.com/fyerfyer/paper-dataset/internal/dataset"
	"github.com/fyerfyer/paper-dataset/internal/document"
	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/fyerfyer/paper-dataset/internal/synth"
	"github.com/fyerfyer/paper-dataset/pkg/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Orchestrator 流水线编排器
// 负责协调论文获取、正文抽取、分块、样本生成和导出，同一时间只有一个运行
type Orchestrator struct {
	source     *arxiv.Source           // 论文获取
	client     llm.Client              // 大模型客户端
	exporter   *dataset.Exporter       // 数据集导出
	store      storage.Storage         // 导出产物存储，可为空
	synthOpts  []synth.Option          // 生成器的公共选项
	parserOpts []document.ParserOption // 解析器选项
	workRoot   string                  // 工作目录的父目录
	logger     *logrus.Logger          // 日志记录器

	mu      sync.Mutex
	current *runStatus
}

// Option 编排器配置选项
type Option func(*Orchestrator)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStorage 设置导出产物存储
func WithStorage(store storage.Storage) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithExporter 设置导出器
func WithExporter(exporter *dataset.Exporter) Option {
	return func(o *Orchestrator) {
		if exporter != nil {
			o.exporter = exporter
		}
	}
}

// WithWorkRoot 设置工作目录的父目录，默认系统临时目录
func WithWorkRoot(dir string) Option {
	return func(o *Orchestrator) {
		o.workRoot = dir
	}
}

// WithSynthOptions 追加生成器选项
func WithSynthOptions(opts ...synth.Option) Option {
	return func(o *Orchestrator) {
		o.synthOpts = append(o.synthOpts, opts...)
	}
}

// WithParserOptions 追加解析器选项
func WithParserOptions(opts ...document.ParserOption) Option {
	return func(o *Orchestrator) {
		o.parserOpts = append(o.parserOpts, opts...)
	}
}

// NewOrchestrator 创建流水线编排器
func NewOrchestrator(source *arxiv.Source, client llm.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source: source,
		client: client,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.exporter == nil {
		o.exporter = dataset.NewExporter(dataset.WithLogger(o.logger))
	}
	return o
}

// Formats 支持的导出格式
func (o *Orchestrator) Formats() []string {
	return o.exporter.Formats()
}

// Start 异步开始一次运行，返回运行ID
// 运行不随ctx取消，使用 Cancel 停止
func (o *Orchestrator) Start(ctx context.Context, identifier string, cfg models.RunConfig) (string, error) {
	r, runCtx, err := o.begin(context.WithoutCancel(ctx), identifier, cfg)
	if err != nil {
		return "", err
	}

	o.launch(runCtx, r)
	return r.id, nil
}

// Run 同步执行一次运行，ctx取消时运行进入 Cancelled
func (o *Orchestrator) Run(ctx context.Context, identifier string, cfg models.RunConfig) (models.Snapshot, error) {
	r, runCtx, err := o.begin(ctx, identifier, cfg)
	if err != nil {
		return models.Snapshot{}, err
	}

	o.launch(runCtx, r)

	<-r.done
	return r.snapshot(), r.err
}

// Wait 等待当前运行结束
func (o *Orchestrator) Wait(ctx context.Context) (models.Snapshot, error) {
	r := o.currentRun()
	if r == nil {
		return models.Snapshot{}, ErrNoRun
	}

	select {
	case <-r.done:
		return r.snapshot(), r.err
	case <-ctx.Done():
		return r.snapshot(), ctx.Err()
	}
}

// Cancel 取消当前运行
// 已完成块的样本保留，进行中的请求被放弃
func (o *Orchestrator) Cancel() error {
	r := o.currentRun()
	if r == nil {
		return ErrNoRun
	}
	if r.stage().Terminal() {
		return ErrNotActive
	}

	r.logger.Info("Cancelling pipeline run")
	r.cancel()
	return nil
}

// Snapshot 当前运行的状态快照
func (o *Orchestrator) Snapshot() (models.Snapshot, bool) {
	r := o.currentRun()
	if r == nil {
		return models.Snapshot{}, false
	}
	return r.snapshot(), true
}

// Samples 当前运行已收集的样本，运行中返回部分结果
func (o *Orchestrator) Samples() []models.SynthesizedSample {
	r := o.currentRun()
	if r == nil {
		return nil
	}
	return r.dataset.Samples()
}

func (o *Orchestrator) currentRun() *runStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// begin 校验配置并登记新的运行，返回运行使用的ctx
func (o *Orchestrator) begin(parent context.Context, identifier string, cfg models.RunConfig) (*runStatus, context.Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if !o.exporter.Supports(cfg.Format) {
		return nil, nil, models.NewError(models.KindUnsupportedFormat,
			fmt.Sprintf("unsupported export format %q", cfg.Format), nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		if err := ValidateStateTransition(o.current.stage(), models.StateIdle); err != nil {
			return nil, nil, ErrRunActive
		}
	}

	runCtx, cancel := context.WithCancel(parent)
	r := newRunStatus(uuid.New().String(), identifier, cfg, o.logger)
	r.cancel = cancel
	o.current = r
	return r, runCtx, nil
}

func (o *Orchestrator) launch(ctx context.Context, r *runStatus) {
	go func() {
		defer r.cancel()
		defer close(r.done)

		err := o.execute(ctx, r)
		if err != nil && ctx.Err() != nil && models.KindOf(err) != models.KindCancelled {
			err = models.NewError(models.KindCancelled, "run cancelled", err)
		}
		r.finish(err)
	}()
}

// execute 依次执行各阶段，返回第一个致命错误
func (o *Orchestrator) execute(ctx context.Context, r *runStatus) error {
	if err := ctx.Err(); err != nil {
		return models.NewError(models.KindCancelled, "run cancelled before start", err)
	}

	// 获取
	if err := r.enter(models.StateFetching, 1); err != nil {
		return err
	}
	ref, err := o.source.Resolve(r.paper)
	if err != nil {
		return err
	}

	ws, err := arxiv.NewWorkspace(o.workRoot)
	if err != nil {
		return models.NewError(models.KindUnpack, "failed to create work directory", err)
	}
	defer func() {
		if err := ws.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to remove work directory")
		}
	}()

	title := o.loadMetadata(ctx, r, ref)

	raw, err := o.source.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	r.advance(1)

	// 抽取
	if err := r.enter(models.StateExtracting, 2); err != nil {
		return err
	}
	src, err := o.source.ExtractPrimarySource(ctx, raw, ws.Dir())
	if err != nil {
		return err
	}
	r.advance(1)

	doc, err := o.parse(src)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return models.NewError(models.KindCancelled, "run cancelled", err)
	}
	if title == "" {
		title = doc.Title
	}
	r.advance(1)

	// 分块
	if err := r.enter(models.StateChunking, 0); err != nil {
		return err
	}
	chunker := document.NewChunker(document.ChunkerConfig{
		MaxChars:     r.config.MaxChars,
		OverlapChars: r.config.OverlapChars,
		MaxChunks:    r.config.MaxChunks,
	})
	chunks := chunker.Chunks(doc)
	total := 0
	for range chunks {
		if err := ctx.Err(); err != nil {
			return models.NewError(models.KindCancelled, "run cancelled", err)
		}
		total++
		r.advance(1)
	}
	if total == 0 {
		return models.NewError(models.KindExtraction, "document produced no chunks", nil)
	}
	r.logger.WithField("chunks", total).Info("Document chunked")

	// 生成
	if err := r.enter(models.StateGenerating, total); err != nil {
		return err
	}
	if err := o.generate(ctx, r, chunks, title); err != nil {
		return err
	}

	// 导出
	if err := ctx.Err(); err != nil {
		return models.NewError(models.KindCancelled, "run cancelled", err)
	}
	if err := r.enter(models.StateExporting, 1); err != nil {
		return err
	}
	if err := o.exporter.Export(ctx, r.dataset, r.config.Format, r.config.OutputPath); err != nil {
		return err
	}
	r.advance(1)

	o.publish(ctx, r)
	return nil
}

// loadMetadata 读取论文元数据，失败只记录警告
func (o *Orchestrator) loadMetadata(ctx context.Context, r *runStatus, ref models.PaperReference) string {
	if !ref.IsArxiv {
		return ""
	}
	meta, err := o.source.FetchMetadata(ctx, ref)
	if err != nil {
		r.logger.WithError(err).Warn("Paper metadata unavailable")
		return ""
	}
	r.setMetadata(meta)
	return meta.Title
}

// parse 按主源文件的扩展名选择解析器
func (o *Orchestrator) parse(src *models.SourceFile) (*models.NormalizedDocument, error) {
	parser, err := document.ParserFactory(src.Name, o.parserOpts...)
	if err != nil {
		return nil, models.NewError(models.KindExtraction, "no parser for primary source", err)
	}
	doc, err := parser.ParseReader(bytes.NewReader(src.Content), src.Name)
	if err != nil {
		if models.KindOf(err) != "" {
			return nil, err
		}
		return nil, models.NewError(models.KindExtraction, "failed to parse "+src.Name, err)
	}
	return doc, nil
}

// generate 并发生成样本并收集到数据集
// 出现致命错误或取消时停止，已经送达的块结果会被保留
func (o *Orchestrator) generate(ctx context.Context, r *runStatus, chunks iter.Seq[models.Chunk], title string) error {
	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()

	opts := append([]synth.Option{}, o.synthOpts...)
	opts = append(opts,
		synth.WithWorkers(r.config.Workers),
		synth.WithPaperTitle(title),
		synth.WithLogger(o.logger),
	)
	synthesizer := synth.NewSynthesizer(o.client, opts...)
	results := synthesizer.Stream(genCtx, chunks, r.config.Model, r.config.SamplesPerChunk)

	var fatal error
	collect := func(res synth.ChunkResult) {
		r.addChunkResult(res.Samples, res.Diagnostics, res.Err == nil)
		if res.Err != nil && fatal == nil {
			fatal = res.Err
			r.logger.WithFields(logrus.Fields{
				"chunk_index": res.Chunk.Index,
				"kind":        models.KindOf(res.Err),
			}).WithError(res.Err).Error("Chunk generation failed")
		}
	}

	for fatal == nil {
		select {
		case res, ok := <-results:
			if !ok {
				return nil
			}
			collect(res)
		case <-genCtx.Done():
			drain(results, collect)
			if fatal != nil {
				return fatal
			}
			return models.NewError(models.KindCancelled, "generation cancelled", ctx.Err())
		}
	}

	cancelGen()
	drain(results, collect)
	return fatal
}

// drain 非阻塞地取出已经送达的结果
func drain(results <-chan synth.ChunkResult, fn func(synth.ChunkResult)) {
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			fn(res)
		default:
			return
		}
	}
}

// publish 把导出文件发布到存储，失败只记录
func (o *Orchestrator) publish(ctx context.Context, r *runStatus) {
	if o.store == nil {
		return
	}

	path := r.config.OutputPath
	f, err := os.Open(path)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to open export for publishing")
		r.setArtifact("", err)
		return
	}
	defer f.Close()

	info, err := o.store.Save(ctx, f, filepath.Base(path))
	if err != nil {
		r.logger.WithError(err).Warn("Failed to publish dataset")
		r.setArtifact("", err)
		return
	}

	r.logger.WithFields(logrus.Fields{
		"artifact_id": info.ID,
		"size":        info.Size,
	}).Info("Dataset published")
	r.setArtifact(info.ID, nil)
}

// IsConflict 是否为运行冲突错误
func IsConflict(err error) bool {
	return errors.Is(err, ErrRunActive)
}
