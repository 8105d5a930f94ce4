// Package metrics exposes process-wide Prometheus collectors for the
// extraction pipeline. Collectors are registered once at package load; an
// HTTP listener is started only when an address is configured.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksProcessed counts pipelines that reached a terminal state,
	// labelled by outcome (completed, failed, skipped).
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resume_extractor",
		Name:      "tasks_processed_total",
		Help:      "Pipelines run to a terminal state, by outcome.",
	}, []string{"outcome"})

	// TasksInFlight tracks pipelines currently executing.
	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "resume_extractor",
		Name:      "tasks_in_flight",
		Help:      "Pipelines currently executing.",
	})

	// FilesConverted counts per-file conversion outcomes (text, empty).
	FilesConverted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resume_extractor",
		Name:      "files_converted_total",
		Help:      "Files run through the conversion chains, by outcome.",
	}, []string{"outcome"})

	// LLMRequests counts extraction attempts against the model, by result
	// (ok, rate_limited, parse_failure, error).
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resume_extractor",
		Name:      "llm_requests_total",
		Help:      "LLM extraction attempts, by result.",
	}, []string{"result"})

	// MessagesConsumed counts broker deliveries, by disposition
	// (accepted, rejected).
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resume_extractor",
		Name:      "messages_consumed_total",
		Help:      "Broker deliveries, by disposition.",
	}, []string{"disposition"})
)

// Serve runs a /metrics endpoint on addr until ctx is cancelled. It blocks,
// so callers run it in a goroutine. A closed listener is a normal return.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown", "error", err)
		}
	}()

	logger.Info("Metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
