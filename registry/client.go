// Package registry provides a thin HTTP client for the task registry API.
// Fetch and completion operations retry with exponential backoff; count and
// progress updates are best-effort.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxResponseSize limits registry response bodies.
const maxResponseSize = 16 * 1024 * 1024

// emptyFileListRetries is how often an empty parseable-file list is
// re-requested before it is treated as final. The upstream web app inserts
// records asynchronously, so the first reads can race the insert.
const (
	emptyFileListRetries = 5
	emptyFileListSpacing = 2 * time.Second
)

// Client talks to the task registry HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithMaxRetries bounds retries for fetch and completion operations.
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates a registry client for the given API base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiEnvelope is the registry's uniform response wrapper.
type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FetchTask returns the current task snapshot. It retries transient
// failures up to the configured bound and fails otherwise.
func (c *Client) FetchTask(ctx context.Context, taskID string) (*Task, error) {
	var task *Task
	err := c.retry(ctx, func() error {
		data, err := c.get(ctx, "/parsing-task", url.Values{"taskId": {taskID}})
		if err != nil {
			return err
		}
		var payload struct {
			ParsingTask *Task `json:"parsingTask"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("decode task: %w", err))
		}
		if payload.ParsingTask == nil {
			return backoff.Permanent(fmt.Errorf("task %s not found", taskID))
		}
		task = payload.ParsingTask
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch task %s: %w", taskID, err)
	}
	return task, nil
}

// FetchPrompt returns the extraction prompt configured for the task.
func (c *Client) FetchPrompt(ctx context.Context, taskID string) (string, error) {
	var prompt string
	err := c.retry(ctx, func() error {
		data, err := c.get(ctx, "/parsing-task/extraction-prompt", url.Values{"taskId": {taskID}})
		if err != nil {
			return err
		}
		var payload struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("decode prompt: %w", err))
		}
		prompt = payload.Prompt
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch prompt for task %s: %w", taskID, err)
	}
	return prompt, nil
}

// FetchParseableFiles returns the declared file list for direct-mode tasks.
// An empty list is re-requested with fixed spacing; empty after all retries
// returns an empty slice and nil error, the caller decides whether that is
// fatal. When every attempt fails at the transport level the last error is
// returned, so the caller can tell "registry down" from "nothing declared".
func (c *Client) FetchParseableFiles(ctx context.Context, taskID string) ([]ParseableFile, error) {
	var lastErr error
	for attempt := 1; attempt <= emptyFileListRetries; attempt++ {
		data, err := c.get(ctx, "/parseable-files", url.Values{"taskId": {taskID}})
		if err != nil {
			lastErr = err
			c.logger.Warn("Failed to fetch parseable files",
				"task_id", taskID,
				"attempt", attempt,
				"error", err)
		} else {
			lastErr = nil
			var payload struct {
				ParseableFiles []ParseableFile `json:"parseableFiles"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, fmt.Errorf("decode parseable files: %w", err)
			}
			if len(payload.ParseableFiles) > 0 {
				return payload.ParseableFiles, nil
			}
			c.logger.Info("No parseable files yet, retrying",
				"task_id", taskID,
				"attempt", attempt)
		}

		if attempt == emptyFileListRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(emptyFileListSpacing):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("fetch parseable files for task %s: %w", taskID, lastErr)
	}
	return nil, nil
}

// UpdateFileCounts sets the task's total and invalid file counts.
// Best-effort: failures are logged, never returned as fatal.
func (c *Client) UpdateFileCounts(ctx context.Context, taskID string, total, invalid int) error {
	return c.patchTask(ctx, taskID, map[string]any{
		"totalFiles":   total,
		"invalidFiles": invalid,
	})
}

// UpdateProgress sets the task's processed file count.
func (c *Client) UpdateProgress(ctx context.Context, taskID string, processed int) error {
	return c.patchTask(ctx, taskID, map[string]any{
		"processedFiles": processed,
	})
}

// MarkCompleted transitions the task to completed with both artifact paths
// in one atomic update. Retries before giving up; a persistent failure here
// is fatal for the pipeline.
func (c *Client) MarkCompleted(ctx context.Context, taskID, jsonPath, sheetPath string) error {
	err := c.retry(ctx, func() error {
		return c.patchTask(ctx, taskID, map[string]any{
			"taskStatus":    string(StatusCompleted),
			"jsonFilePath":  jsonPath,
			"sheetFilePath": sheetPath,
		})
	})
	if err != nil {
		return fmt.Errorf("mark task %s completed: %w", taskID, err)
	}
	return nil
}

// MarkFailed transitions the task to failed with a one-line reason.
func (c *Client) MarkFailed(ctx context.Context, taskID, reason string) error {
	return c.patchTask(ctx, taskID, map[string]any{
		"taskStatus":   string(StatusFailed),
		"errorMessage": reason,
	})
}

// InsertParseableFiles records archive-mode materialization results.
func (c *Client) InsertParseableFiles(ctx context.Context, files []ParseableFile) error {
	if len(files) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{"parseableFiles": files})
	if err != nil {
		return fmt.Errorf("encode parseable files: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/parseable-files", nil, body)
	return err
}

func (c *Client) patchTask(ctx context.Context, taskID string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode task update: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, "/parsing-task", url.Values{"taskId": {taskID}}, body)
	return err
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read registry response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry %s %s: HTTP %d", method, path, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	if envelope.Status != "SUCCESS" {
		return nil, fmt.Errorf("registry %s %s: %s", method, path, envelope.Message)
	}
	return envelope.Data, nil
}

// retry runs op with exponential backoff, bounded by the client's retry
// configuration. Wrapping an error with backoff.Permanent stops early.
func (c *Client) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	return backoff.Retry(op, policy)
}
