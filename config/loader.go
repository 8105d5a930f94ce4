package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the optional YAML config file name looked up in the
// working directory.
const ConfigFile = "resume-extractor.yaml"

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. YAML config file (resume-extractor.yaml, if present)
// 3. Environment variables (.env loaded first, if present)
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if fileConfig, err := loadFromFile(ConfigFile); err == nil {
		l.logger.Debug("Loaded config file", "path", ConfigFile)
		config.Merge(fileConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load config file", "path", ConfigFile, "error", err)
	}

	// .env is a development convenience; a missing file is not an error.
	if err := godotenv.Load(); err == nil {
		l.logger.Debug("Loaded .env file")
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// applyEnv overrides config fields from environment variables. The
// variable names match the original service deployment.
func applyEnv(c *Config) error {
	var err error

	setString(&c.Broker.URL, "RABBITMQ_URL")
	setString(&c.Broker.Queue, "QUEUE_NAME")
	setInt(&c.Broker.Prefetch, "CONCURRENCY", &err)

	setString(&c.Registry.BaseURL, "NEXT_API_URL")
	setDuration(&c.Registry.Timeout, "REGISTRY_TIMEOUT", &err)

	setString(&c.Storage.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "S3_SECRET_KEY")
	setBool(&c.Storage.UseSSL, "S3_USE_SSL", &err)
	setInt(&c.Storage.DownloadConcurrency, "DOWNLOAD_CONCURRENCY", &err)

	setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	setString(&c.LLM.Model, "GEMINI_MODEL")
	setInt(&c.LLM.Concurrency, "LLM_CONCURRENCY", &err)
	setInt(&c.LLM.MaxRetries, "LLM_MAX_RETRIES", &err)
	setDuration(&c.LLM.RetryDelay, "LLM_RETRY_DELAY", &err)

	setInt(&c.Worker.Count, "WORKER_COUNT", &err)
	setInt(&c.Worker.QueueSize, "QUEUE_SIZE", &err)
	setInt(&c.Worker.FileConcurrency, "FILE_PROCESSING_CONCURRENCY", &err)
	setInt(&c.Worker.DocConcurrency, "DOC_CONVERSION_CONCURRENCY", &err)
	setInt(&c.Worker.ProgressBatchSize, "PROGRESS_UPDATE_BATCH_SIZE", &err)
	setDuration(&c.Worker.ShutdownGracePeriod, "SHUTDOWN_GRACE_PERIOD", &err)

	setString(&c.Metrics.Addr, "METRICS_ADDR")
	setString(&c.WorkDir, "WORK_DIR")

	return err
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string, errOut *error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if *errOut == nil {
			*errOut = fmt.Errorf("invalid %s: %w", key, err)
		}
		return
	}
	*dst = n
}

func setBool(dst *bool, key string, errOut *error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		if *errOut == nil {
			*errOut = fmt.Errorf("invalid %s: %w", key, err)
		}
		return
	}
	*dst = b
}

// setDuration accepts either a Go duration string ("1.5s") or a bare
// number of seconds, matching the original deployment's env values.
func setDuration(dst *time.Duration, key string, errOut *error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	if *errOut == nil {
		*errOut = fmt.Errorf("invalid %s: %q", key, v)
	}
}
