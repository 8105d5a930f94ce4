package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yash91989201/bulk-resume-parser/aggregate"
	"github.com/yash91989201/bulk-resume-parser/blobstore"
	"github.com/yash91989201/bulk-resume-parser/broker"
	"github.com/yash91989201/bulk-resume-parser/config"
	"github.com/yash91989201/bulk-resume-parser/convert"
	"github.com/yash91989201/bulk-resume-parser/llm"
	"github.com/yash91989201/bulk-resume-parser/metrics"
	"github.com/yash91989201/bulk-resume-parser/pipeline"
	"github.com/yash91989201/bulk-resume-parser/registry"
)

// run wires the service and blocks until a termination signal. The consumer
// stops first; workers drain the handoff channel and finish in-flight
// pipelines within the grace period.
func run(logLevel string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(logLevel),
	}))
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Debug("Configuration loaded", "config", cfg.Dump())

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}

	// Consumer context: cancelled on the first signal.
	consumerCtx, stopConsumer := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stopConsumer()

	// Worker context: outlives the consumer by the grace period so
	// in-flight pipelines can finish.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	store, err := blobstore.New(blobstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	}, blobstore.WithLogger(logger))
	if err != nil {
		return err
	}

	reg := registry.NewClient(cfg.Registry.BaseURL,
		registry.WithLogger(logger),
		registry.WithMaxRetries(cfg.Registry.MaxRetries),
		registry.WithHTTPClient(newHTTPClient(cfg.Registry.Timeout)))

	extractor, err := llm.NewExtractor(workerCtx, llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Concurrency: cfg.LLM.Concurrency,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
	}, llm.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create extraction client: %w", err)
	}
	defer extractor.Close()

	converter := convert.New(cfg.Worker.FileConcurrency, cfg.Worker.DocConcurrency,
		convert.WithLogger(logger))
	publisher := aggregate.NewPublisher(store, logger)

	pipe := pipeline.New(reg, store, converter, extractor, publisher, pipeline.Config{
		WorkDir:             cfg.WorkDir,
		DownloadConcurrency: cfg.Storage.DownloadConcurrency,
		ProgressBatchSize:   cfg.Worker.ProgressBatchSize,
	}, logger)

	pool := pipeline.NewPool(pipe, cfg.Worker.Count, logger)
	consumer := broker.NewConsumer(broker.Config{
		URL:       cfg.Broker.URL,
		QueueName: cfg.Broker.Queue,
		Prefetch:  cfg.Broker.Prefetch,
	}, cfg.Worker.QueueSize, logger)

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(workerCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(consumerCtx)
	}()

	workersDone := make(chan struct{})
	go func() {
		pool.Run(workerCtx, consumer.Units())
		close(workersDone)
	}()

	logger.Info("Resume extractor started",
		"workers", cfg.Worker.Count,
		"queue", cfg.Broker.Queue,
		"queue_size", cfg.Worker.QueueSize)

	select {
	case err := <-consumerDone:
		// The consumer only exits unprompted on a fatal startup failure;
		// its channel is closed, so workers drain and stop on their own.
		<-workersDone
		if err != nil {
			return fmt.Errorf("broker unavailable: %w", err)
		}
		return nil
	case <-consumerCtx.Done():
	}

	logger.Info("Shutdown signal received, draining workers",
		"grace_period", cfg.Worker.ShutdownGracePeriod)

	if err := <-consumerDone; err != nil {
		logger.Warn("Consumer exited with error", "error", err)
	}

	select {
	case <-workersDone:
		logger.Info("All workers drained")
	case <-time.After(cfg.Worker.ShutdownGracePeriod):
		logger.Warn("Grace period expired, cancelling in-flight pipelines")
		cancelWorkers()
		<-workersDone
	}

	logger.Info("Shutdown complete")
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
