package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/paper-dataset/api"
	"github.com/fyerfyer/paper-dataset/api/handler"
	"github.com/fyerfyer/paper-dataset/api/middleware"
	"github.com/fyerfyer/paper-dataset/config"
	"github.com/fyerfyer/paper-dataset/internal/arxiv"
	"github.com/fyerfyer/paper-dataset/internal/cache"
	"github.com/fyerfyer/paper-dataset/internal/document"
	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/fyerfyer/paper-dataset/internal/services"
	"github.com/fyerfyer/paper-dataset/internal/synth"
	"github.com/fyerfyer/paper-dataset/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 命令行参数
type options struct {
	Paper      string // arXiv编号或URL
	Format     string // 导出格式
	Output     string // 导出路径
	ConfigFile string // 配置文件路径
	Serve      bool   // 启动HTTP控制服务
	LogLevel   string // 日志级别，覆盖配置文件
	Model      string // 模型名称，覆盖配置文件
	Workers    int    // 并发数，覆盖配置文件
}

func main() {
	os.Exit(run())
}

func run() int {
	// .env 不存在时忽略
	_ = godotenv.Load()

	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	logger, closeLog := setupLogger(cfg, opts.LogLevel)
	defer closeLog()

	orch, lister, err := buildOrchestrator(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize pipeline")
		return 1
	}

	defaults := applyFlags(cfg.RunConfig(), opts)

	if opts.Serve {
		return serve(cfg, orch, defaults, lister, logger)
	}

	if opts.Paper == "" {
		fmt.Fprintln(os.Stderr, "usage: paper-dataset -paper <arxiv id or url> [-format parquet] [-out path] [-config config.yaml] [-serve]")
		return 2
	}
	return runOnce(orch, opts.Paper, defaults, logger)
}

// parseFlags 解析命令行参数
func parseFlags() options {
	var opts options
	flag.StringVar(&opts.Paper, "paper", "", "arXiv identifier or URL")
	flag.StringVar(&opts.Format, "format", "", "Export format (parquet/jsonl/csv/xlsx/sqlite)")
	flag.StringVar(&opts.Output, "out", "", "Output path of the dataset")
	flag.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.BoolVar(&opts.Serve, "serve", false, "Start the HTTP control server")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	flag.StringVar(&opts.Model, "model", "", "LLM model name")
	flag.IntVar(&opts.Workers, "workers", 0, "Number of chunks generated concurrently")
	flag.Parse()
	return opts
}

// applyFlags 命令行参数覆盖配置文件中的运行默认值
func applyFlags(cfg models.RunConfig, opts options) models.RunConfig {
	if opts.Format != "" {
		cfg.Format = opts.Format
	}
	if opts.Output != "" {
		cfg.OutputPath = opts.Output
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	return cfg
}

// setupLogger 配置共享日志，指定日志文件时同时写入滚动文件
func setupLogger(cfg *config.Config, level string) (*logrus.Logger, func()) {
	if level == "" {
		level = cfg.Log.Level
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closeFn = func() { _ = rotating.Close() }
	}

	middleware.Configure(level, out)
	return middleware.GetLogger(), closeFn
}

// buildOrchestrator 组装缓存、论文获取器、大模型客户端和产物存储
func buildOrchestrator(cfg *config.Config, logger *logrus.Logger) (*services.Orchestrator, llm.ModelLister, error) {
	sourceOpts := append(cfg.SourceOptions(), arxiv.WithLogger(logger))
	synthOpts := append(cfg.SynthOptions(), synth.WithLogger(logger))

	if cfg.Cache.Enable {
		c, err := cache.NewCache(cfg.CacheConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		sourceOpts = append(sourceOpts, arxiv.WithCache(c))
		synthOpts = append(synthOpts, synth.WithCache(c))
		logger.WithField("type", cfg.Cache.Type).Info("Cache enabled")
	}

	client, err := llm.NewClient(cfg.LLM.Provider, cfg.LLMOptions()...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	lister, _ := client.(llm.ModelLister)

	store, err := storage.New(cfg.StorageConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	orchOpts := []services.Option{
		services.WithLogger(logger),
		services.WithSynthOptions(synthOpts...),
		services.WithParserOptions(
			document.WithParserLogger(logger),
			document.WithMacroExpansion(cfg.Source.ExpandMacros),
		),
	}
	if store != nil {
		orchOpts = append(orchOpts, services.WithStorage(store))
		logger.WithField("type", cfg.Storage.Type).Info("Artifact storage enabled")
	}
	if cfg.Source.WorkRoot != "" {
		orchOpts = append(orchOpts, services.WithWorkRoot(cfg.Source.WorkRoot))
	}

	logger.WithFields(logrus.Fields{
		"provider": cfg.LLM.Provider,
		"model":    cfg.LLM.Model,
	}).Info("LLM client initialized")

	return services.NewOrchestrator(arxiv.NewSource(sourceOpts...), client, orchOpts...), lister, nil
}

// runOnce 执行一次运行并打印统计，SIGINT 协作式取消
func runOnce(orch *services.Orchestrator, paper string, cfg models.RunConfig, logger *logrus.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := orch.Run(ctx, paper, cfg)
	if snap.RunID != "" {
		printSummary(os.Stdout, snap)
	}
	if err != nil {
		logger.WithError(err).WithField("state", snap.State).Error("Pipeline run did not complete")
		return 1
	}
	return 0
}

func printSummary(w io.Writer, snap models.Snapshot) {
	fmt.Fprintf(w, "run:      %s\n", snap.RunID)
	fmt.Fprintf(w, "paper:    %s\n", snap.Paper)
	if snap.Metadata != nil && snap.Metadata.Title != "" {
		fmt.Fprintf(w, "title:    %s\n", snap.Metadata.Title)
	}
	fmt.Fprintf(w, "state:    %s\n", snap.State)
	fmt.Fprintf(w, "samples:  %d from %d chunk(s), avg %.1f turns, %d words\n",
		snap.Stats.Samples, snap.Stats.Chunks, snap.Stats.AverageTurns, snap.Stats.TotalWords)
	if len(snap.Generation) > 0 {
		fmt.Fprintf(w, "skipped:  %d chunk(s) after failed generation\n", len(snap.Generation))
	}
	if snap.OutputPath != "" && snap.State == models.StateCompleted {
		fmt.Fprintf(w, "output:   %s\n", snap.OutputPath)
	}
	if snap.ArtifactID != "" {
		fmt.Fprintf(w, "artifact: %s\n", snap.ArtifactID)
	}
	if snap.Diagnostic != nil {
		fmt.Fprintf(w, "error:    [%s/%s] %s\n", snap.Diagnostic.Stage, snap.Diagnostic.Kind, snap.Diagnostic.Message)
	}
}

// serve 启动HTTP控制服务，收到终止信号后优雅关闭
func serve(cfg *config.Config, orch *services.Orchestrator, defaults models.RunConfig, lister llm.ModelLister, logger *logrus.Logger) int {
	gin.SetMode(cfg.Server.Mode)

	var extra []gin.HandlerFunc
	if cfg.Server.CORS {
		extra = append(extra, api.Cors())
	}
	r := api.SetupRouter(handler.NewRunHandler(orch, defaults, lister, cfg.Pipeline.ExportDir), extra...)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.WithError(err).Error("Failed to start server")
		return 1
	}
	logger.Info("Shutting down server...")

	// 停止正在进行的运行
	if err := orch.Cancel(); err == nil {
		logger.Info("Cancelled active pipeline run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return 1
	}
	if _, err := orch.Wait(ctx); err != nil && !errors.Is(err, services.ErrNoRun) {
		logger.WithError(err).Debug("Pipeline run ended during shutdown")
	}

	logger.Info("Server exited")
	return 0
}
