package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/paper-dataset/internal/arxiv"
	"github.com/fyerfyer/paper-dataset/internal/cache"
	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/fyerfyer/paper-dataset/internal/synth"
	"github.com/fyerfyer/paper-dataset/pkg/storage"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Source   SourceConfig   `mapstructure:"source"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`                                     // 服务器主机
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`          // 服务器端口
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"` // gin运行模式
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`            // 读取超时
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`           // 写入超时
	CORS         bool          `mapstructure:"cors"`                                     // 是否允许跨域
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"` // 日志级别
	File       string `mapstructure:"file"`                                         // 日志文件，为空时只输出到终端
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`                 // 单个日志文件大小上限
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`                 // 保留的旧日志数量
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`                // 旧日志保留天数
}

// SourceConfig 论文获取配置
type SourceConfig struct {
	EPrintBase   string        `mapstructure:"eprint_base" validate:"required,url"` // 源码包下载地址
	APIBase      string        `mapstructure:"api_base" validate:"required,url"`    // 元数据接口地址
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"min=1"`       // 下载最大尝试次数
	Backoff      time.Duration `mapstructure:"backoff" validate:"gte=0"`            // 重试退避基数
	MaxArchiveMB int64         `mapstructure:"max_archive_mb" validate:"min=1"`     // 源码包大小上限
	MaxUnpackMB  int64         `mapstructure:"max_unpack_mb" validate:"min=1"`      // 解包后大小上限
	WorkRoot     string        `mapstructure:"work_root"`                           // 临时工作目录，为空时使用系统目录
	ExpandMacros bool          `mapstructure:"expand_macros"`                       // 是否展开LaTeX自定义宏
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider       string        `mapstructure:"provider" validate:"oneof=ollama openai"` // 提供商
	Model          string        `mapstructure:"model" validate:"required"`               // 模型名称
	APIKey         string        `mapstructure:"api_key"`                                 // API密钥，支持 ${VAR}
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`       // API端点
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`                 // 单次HTTP请求超时
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`            // 网络层重试次数
	MaxTokens      int           `mapstructure:"max_tokens" validate:"gt=0"`              // 最大生成token数量
	Temperature    float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`      // 采样温度
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1"`           // 每块生成最大尝试次数
	MaxTurnChars   int           `mapstructure:"max_turn_chars" validate:"gte=0"`         // 单轮对话最大字符数
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`         // 单块生成超时
}

// PipelineConfig 运行默认配置
type PipelineConfig struct {
	MaxChars        int    `mapstructure:"max_chars"`
	OverlapChars    int    `mapstructure:"overlap_chars"`
	SamplesPerChunk int    `mapstructure:"samples_per_chunk"`
	Workers         int    `mapstructure:"workers"`
	MaxChunks       int    `mapstructure:"max_chunks"`
	Format          string `mapstructure:"format"`
	Output          string `mapstructure:"output"`
	ExportDir       string `mapstructure:"export_dir" validate:"required"` // HTTP请求指定的导出路径必须位于该目录下
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool          `mapstructure:"enable"`                                    // 是否启用缓存
	Type     string        `mapstructure:"type" validate:"oneof=memory redis"`        // 缓存类型：memory 或 redis
	Address  string        `mapstructure:"address" validate:"required_if=Type redis"` // Redis地址
	Password string        `mapstructure:"password"`                                  // Redis密码，支持 ${VAR}
	DB       int           `mapstructure:"db" validate:"gte=0"`                       // Redis数据库
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`                      // 缓存TTL
}

// StorageConfig 数据集产物存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=none local minio"`     // 存储类型
	Path      string `mapstructure:"path" validate:"required_if=Type local"`     // 本地存储路径
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Type minio"` // MinIO端点
	Bucket    string `mapstructure:"bucket" validate:"required_if=Type minio"`   // MinIO桶名称
	Prefix    string `mapstructure:"prefix"`                                     // 对象名前缀
	AccessKey string `mapstructure:"access_key"`                                 // 支持 ${VAR}
	SecretKey string `mapstructure:"secret_key"`                                 // 支持 ${VAR}
	UseSSL    bool   `mapstructure:"use_ssl"`                                    // 是否使用SSL
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	// 设置默认配置路径
	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		// 找不到配置文件时写入一份默认配置
		logrus.WithField("path", configPath).Warn("Config file not found, using defaults")
		if dir := filepath.Dir(configPath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					logrus.WithError(err).WithField("path", configPath).Warn("Could not write default config")
				}
			}
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	} else {
		logrus.WithField("path", v.ConfigFileUsed()).Info("Using config file")
	}

	// 支持环境变量覆盖，如 LLM_MODEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	processEnvironmentVariables(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// processEnvironmentVariables 展开密钥类配置中的 ${VAR}
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.LLM.APIKey,
		&cfg.Cache.Password,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
	} {
		*field = expandEnv(*field)
	}
}

func expandEnv(value string) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}
	if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
		return envVal
	}
	return value
}

var configValidator = validator.New()

// Validate 校验配置，运行默认值按 RunConfig 的规则校验
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.RunConfig().Validate(); err != nil {
		return fmt.Errorf("invalid pipeline defaults: %w", err)
	}
	return nil
}

// RunConfig 返回运行默认配置
func (c *Config) RunConfig() models.RunConfig {
	return models.RunConfig{
		MaxChars:        c.Pipeline.MaxChars,
		OverlapChars:    c.Pipeline.OverlapChars,
		SamplesPerChunk: c.Pipeline.SamplesPerChunk,
		Workers:         c.Pipeline.Workers,
		MaxChunks:       c.Pipeline.MaxChunks,
		Model:           c.LLM.Model,
		Format:          c.Pipeline.Format,
		OutputPath:      c.Pipeline.Output,
	}
}

// CacheConfig 转换为缓存组件配置
func (c *Config) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Type = c.Cache.Type
	cfg.RedisAddr = c.Cache.Address
	cfg.RedisPassword = c.Cache.Password
	cfg.RedisDB = c.Cache.DB
	if c.Cache.TTL > 0 {
		cfg.DefaultTTL = c.Cache.TTL
	}
	return cfg
}

// StorageConfig 转换为产物存储配置
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type: c.Storage.Type,
		Local: storage.LocalConfig{
			Path: c.Storage.Path,
		},
		Minio: storage.MinioConfig{
			Endpoint:  c.Storage.Endpoint,
			AccessKey: c.Storage.AccessKey,
			SecretKey: c.Storage.SecretKey,
			UseSSL:    c.Storage.UseSSL,
			Bucket:    c.Storage.Bucket,
			Prefix:    c.Storage.Prefix,
		},
	}
}

// LLMOptions 转换为大模型客户端选项
func (c *Config) LLMOptions() []llm.Option {
	opts := []llm.Option{
		llm.WithModel(c.LLM.Model),
		llm.WithTimeout(c.LLM.Timeout),
		llm.WithMaxRetries(c.LLM.MaxRetries),
		llm.WithMaxTokens(c.LLM.MaxTokens),
		llm.WithTemperature(c.LLM.Temperature),
	}
	if c.LLM.APIKey != "" {
		opts = append(opts, llm.WithAPIKey(c.LLM.APIKey))
	}
	if c.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(c.LLM.BaseURL))
	}
	return opts
}

// SourceOptions 转换为论文获取器选项
func (c *Config) SourceOptions() []arxiv.Option {
	return []arxiv.Option{
		arxiv.WithEPrintBase(c.Source.EPrintBase),
		arxiv.WithAPIBase(c.Source.APIBase),
		arxiv.WithRetry(c.Source.MaxAttempts, c.Source.Backoff),
		arxiv.WithLimits(c.Source.MaxArchiveMB<<20, c.Source.MaxUnpackMB<<20),
	}
}

// SynthOptions 转换为样本生成器选项
func (c *Config) SynthOptions() []synth.Option {
	return []synth.Option{
		synth.WithMaxAttempts(c.LLM.MaxAttempts),
		synth.WithMaxTurnChars(c.LLM.MaxTurnChars),
		synth.WithRequestTimeout(c.LLM.RequestTimeout),
		synth.WithTemperature(c.LLM.Temperature),
		synth.WithMaxTokens(c.LLM.MaxTokens),
	}
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cors", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	// 论文获取默认配置
	v.SetDefault("source.eprint_base", arxiv.DefaultEPrintBase)
	v.SetDefault("source.api_base", arxiv.DefaultAPIBase)
	v.SetDefault("source.max_attempts", 3)
	v.SetDefault("source.backoff", "500ms")
	v.SetDefault("source.max_archive_mb", 100)
	v.SetDefault("source.max_unpack_mb", 500)
	v.SetDefault("source.work_root", "")
	v.SetDefault("source.expand_macros", true)

	// LLM默认配置
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", llm.ModelLlama32)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_attempts", synth.DefaultMaxAttempts)
	v.SetDefault("llm.max_turn_chars", synth.DefaultMaxTurnChars)
	v.SetDefault("llm.request_timeout", synth.DefaultRequestTimeout.String())

	// 运行默认配置
	v.SetDefault("pipeline.max_chars", 2000)
	v.SetDefault("pipeline.overlap_chars", 0)
	v.SetDefault("pipeline.samples_per_chunk", 1)
	v.SetDefault("pipeline.workers", synth.DefaultWorkers)
	v.SetDefault("pipeline.max_chunks", 0)
	v.SetDefault("pipeline.format", "parquet")
	v.SetDefault("pipeline.output", "data/dataset.parquet")
	v.SetDefault("pipeline.export_dir", "data")

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "24h")

	// 存储默认配置
	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.path", "./data/artifacts")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.bucket", "paper-dataset")
	v.SetDefault("storage.prefix", "datasets")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)
}
