// Package llm provides the structured-extraction client for resume texts.
// A process-wide semaphore caps in-flight Gemini requests; per-request
// failures degrade to an empty record, never to a task failure.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/sync/semaphore"
	"google.golang.org/api/option"

	"github.com/yash91989201/bulk-resume-parser/metrics"
)

// Record is one structured extraction result. Values are whatever JSON the
// model produced; nil marks an absent field.
type Record = map[string]any

// generator is the minimal surface of the underlying model used by the
// extractor. The Gemini implementation lives in geminiGenerator; tests
// substitute fakes.
type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds extraction client settings.
type Config struct {
	APIKey      string
	Model       string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// Extractor runs structured extraction over resume texts.
type Extractor struct {
	gen        generator
	sem        *semaphore.Weighted
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// withGenerator substitutes the model backend. Used by tests.
func withGenerator(g generator) Option {
	return func(e *Extractor) {
		e.gen = g
	}
}

// NewExtractor creates an Extractor backed by the Gemini API.
func NewExtractor(ctx context.Context, cfg Config, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		sem:        semaphore.NewWeighted(int64(max(cfg.Concurrency, 1))),
		maxRetries: max(cfg.MaxRetries, 1),
		retryDelay: cfg.RetryDelay,
		logger:     slog.Default(),
	}
	if e.retryDelay <= 0 {
		e.retryDelay = time.Second
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.gen == nil {
		client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		model := client.GenerativeModel(cfg.Model)
		model.SetTemperature(0)
		model.ResponseMIMEType = "application/json"
		e.gen = &geminiGenerator{client: client, model: model}
	}

	return e, nil
}

// Close releases the underlying model client.
func (e *Extractor) Close() error {
	if g, ok := e.gen.(*geminiGenerator); ok {
		return g.client.Close()
	}
	return nil
}

// Extract runs one structured extraction. Empty or whitespace-only text
// short-circuits to an empty record without a request. Exhausted retries
// also yield an empty record; this method never returns an error.
func (e *Extractor) Extract(ctx context.Context, prompt, text string) Record {
	if strings.TrimSpace(text) == "" {
		return Record{}
	}

	fullPrompt := prompt + "\n\nResume Text:\n" + text

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Record{}
	}
	defer e.sem.Release(1)

	return e.extractWithRetry(ctx, fullPrompt)
}

func (e *Extractor) extractWithRetry(ctx context.Context, prompt string) Record {
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		record, err := e.tryExtract(ctx, prompt)
		if err == nil {
			metrics.LLMRequests.WithLabelValues("ok").Inc()
			return record
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		switch {
		case IsParseFailure(err):
			metrics.LLMRequests.WithLabelValues("parse_failure").Inc()
			// Malformed output is usually a one-off; retry immediately.
			e.logger.Warn("Model returned unusable JSON, retrying",
				"attempt", attempt+1,
				"error", err)
		case IsRateLimited(err):
			metrics.LLMRequests.WithLabelValues("rate_limited").Inc()
			wait := e.backoff(attempt)
			e.logger.Warn("Rate limited, backing off",
				"attempt", attempt+1,
				"wait", wait)
			if !sleep(ctx, wait) {
				return Record{}
			}
		default:
			metrics.LLMRequests.WithLabelValues("error").Inc()
			e.logger.Warn("Extraction attempt failed",
				"attempt", attempt+1,
				"max_attempts", e.maxRetries,
				"error", err)
			if !sleep(ctx, e.retryDelay) {
				return Record{}
			}
		}
	}

	e.logger.Error("All extraction attempts failed",
		"attempts", e.maxRetries,
		"error", lastErr)
	return Record{}
}

func (e *Extractor) tryExtract(ctx context.Context, prompt string) (Record, error) {
	text, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{err: fmt.Errorf("empty model response")}
	}

	raw := ExtractJSON(text)
	if raw == "" {
		return nil, &ParseError{err: fmt.Errorf("no JSON object in model response")}
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, &ParseError{err: fmt.Errorf("decode model response: %w", err)}
	}
	return record, nil
}

// backoff computes the rate-limit wait: base * 2^attempt with +/- 25%
// jitter to avoid synchronized retries across the batch.
func (e *Extractor) backoff(attempt int) time.Duration {
	wait := e.retryDelay << attempt
	jitter := float64(wait) * 0.25 * (rand.Float64()*2 - 1)
	return wait + time.Duration(jitter)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// ProgressFunc is invoked after each item completes, in completion order.
type ProgressFunc func(completed, total int)

// ExtractBatch runs extraction over all texts concurrently through the
// semaphore. The result slice preserves input order.
func (e *Extractor) ExtractBatch(ctx context.Context, prompt string, texts []string, progress ProgressFunc) []Record {
	results := make([]Record, len(texts))
	total := len(texts)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			results[i] = e.Extract(ctx, prompt, text)

			if progress != nil {
				mu.Lock()
				completed++
				done := completed
				mu.Unlock()
				progress(done, total)
			}
		}(i, text)
	}

	wg.Wait()
	return results
}

// geminiGenerator adapts the Gemini SDK to the generator interface.
type geminiGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func (g *geminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}
