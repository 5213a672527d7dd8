package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, llm.ModelLlama32, cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Source.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Source.Backoff)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "none", cfg.Storage.Type)
	assert.Equal(t, "data", cfg.Pipeline.ExportDir)

	run := cfg.RunConfig()
	assert.Equal(t, 2000, run.MaxChars)
	assert.Equal(t, "parquet", run.Format)
	assert.Equal(t, llm.ModelLlama32, run.Model)
	assert.NoError(t, run.Validate())

	// 第二次加载读取刚写入的文件
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Pipeline, again.Pipeline)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: ${PAPERDS_TEST_KEY}
pipeline:
  max_chars: 1200
  overlap_chars: 100
  format: jsonl
  output: out/ds.jsonl
storage:
  type: local
  path: ./artifacts
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("PAPERDS_TEST_KEY", "sk-test")
	t.Setenv("PIPELINE_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 8, cfg.Pipeline.Workers)

	run := cfg.RunConfig()
	assert.Equal(t, 1200, run.MaxChars)
	assert.Equal(t, 100, run.OverlapChars)
	assert.Equal(t, "gpt-4o-mini", run.Model)
	assert.Equal(t, "out/ds.jsonl", run.OutputPath)

	store := cfg.StorageConfig()
	assert.Equal(t, "local", store.Type)
	assert.Equal(t, "./artifacts", store.Local.Path)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown provider", "llm:\n  provider: bedrock\n"},
		{"bad log level", "log:\n  level: verbose\n"},
		{"overlap too large", "pipeline:\n  max_chars: 100\n  overlap_chars: 80\n"},
		{"redis without address", "cache:\n  type: redis\n  address: \"\"\n"},
		{"minio without endpoint", "storage:\n  type: minio\n"},
		{"zero workers", "pipeline:\n  workers: 0\n"},
		{"empty export dir", "pipeline:\n  export_dir: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("PAPERDS_SECRET", "value")

	assert.Equal(t, "value", expandEnv("${PAPERDS_SECRET}"))
	assert.Equal(t, "${PAPERDS_MISSING}", expandEnv("${PAPERDS_MISSING}"))
	assert.Equal(t, "plain", expandEnv("plain"))
}

func TestComponentOptions(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	cacheCfg := cfg.CacheConfig()
	assert.Equal(t, "memory", cacheCfg.Type)
	assert.Equal(t, 24*time.Hour, cacheCfg.DefaultTTL)

	assert.NotEmpty(t, cfg.LLMOptions())
	assert.Len(t, cfg.SourceOptions(), 4)
	assert.NotEmpty(t, cfg.SynthOptions())

	llmCfg := llm.NewConfig(cfg.LLMOptions()...)
	assert.Equal(t, cfg.LLM.Model, llmCfg.Model)
	assert.Equal(t, 120*time.Second, llmCfg.Timeout)
}
