package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "test-key"
	cfg.Storage.AccessKey = "minio"
	cfg.Storage.SecretKey = "minio123"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "resume_extractor_queue", cfg.Broker.Queue)
	assert.Equal(t, 10, cfg.Broker.Prefetch)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 10, cfg.Worker.QueueSize)
	assert.Equal(t, 50, cfg.Worker.FileConcurrency)
	assert.Equal(t, 5, cfg.Worker.DocConcurrency)
	assert.Equal(t, 10, cfg.LLM.Concurrency)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 8, cfg.Storage.DownloadConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Registry.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Worker.ShutdownGracePeriod)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing broker url", func(c *Config) { c.Broker.URL = "" }, true},
		{"missing queue", func(c *Config) { c.Broker.Queue = "" }, true},
		{"missing registry url", func(c *Config) { c.Registry.BaseURL = "" }, true},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, true},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }, true},
		{"zero queue size", func(c *Config) { c.Worker.QueueSize = 0 }, true},
		{"zero llm concurrency", func(c *Config) { c.LLM.Concurrency = 0 }, true},
		{"missing work dir", func(c *Config) { c.WorkDir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	other := &Config{}
	other.Broker.URL = "amqp://other:5672"
	other.LLM.Model = "gemini-2.5-pro"
	other.Worker.Count = 8

	base.Merge(other)

	assert.Equal(t, "amqp://other:5672", base.Broker.URL)
	assert.Equal(t, "gemini-2.5-pro", base.LLM.Model)
	assert.Equal(t, 8, base.Worker.Count)
	// Untouched fields keep defaults.
	assert.Equal(t, "resume_extractor_queue", base.Broker.Queue)
	assert.Equal(t, 10, base.Worker.QueueSize)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WORKER_COUNT", "12")
	t.Setenv("LLM_RETRY_DELAY", "2.5")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("SHUTDOWN_GRACE_PERIOD", "90s")

	cfg := DefaultConfig()
	require.NoError(t, applyEnv(cfg))

	assert.Equal(t, 12, cfg.Worker.Count)
	assert.Equal(t, 2500*time.Millisecond, cfg.LLM.RetryDelay)
	assert.True(t, cfg.Storage.UseSSL)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Worker.ShutdownGracePeriod)
}

func TestApplyEnvInvalidInt(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg := DefaultConfig()
	err := applyEnv(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_COUNT")
}

func TestLoaderReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("worker:\n  count: 6\nllm:\n  model: gemini-test\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), content, 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("GEMINI_API_KEY", "file-test-key")

	cfg, err := NewLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Worker.Count)
	assert.Equal(t, "gemini-test", cfg.LLM.Model)
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg := validConfig()
	dump := cfg.Dump()
	assert.NotContains(t, dump, "test-key")
	assert.NotContains(t, dump, "minio123")
}
