package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/yash91989201/bulk-resume-parser/blobstore"
	"github.com/yash91989201/bulk-resume-parser/llm"
)

// uploader is the slice of the blob store the publisher needs.
type uploader interface {
	Upload(ctx context.Context, bucket, key, localPath, contentType string) (int64, error)
}

// Publisher writes the aggregated artifacts to scratch and uploads both to
// the results bucket.
type Publisher struct {
	store  uploader
	logger *slog.Logger
}

// NewPublisher creates a Publisher over the given blob store.
func NewPublisher(store uploader, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger}
}

// Artifacts names the published object keys.
type Artifacts struct {
	JSONKey  string
	SheetKey string
}

// Publish assembles, writes and uploads both artifacts. Both uploads must
// succeed; a partial publish returns an error and the task must not be
// marked completed.
func (p *Publisher) Publish(ctx context.Context, scratchDir, userID, taskID, taskName string, records []llm.Record) (*Artifacts, error) {
	jsonPath := filepath.Join(scratchDir, taskName+"-result.json")
	sheetPath := filepath.Join(scratchDir, taskName+"-result.xlsx")

	if err := WriteJSON(jsonPath, records); err != nil {
		return nil, err
	}
	if err := WriteSheet(sheetPath, records); err != nil {
		return nil, err
	}

	prefix := path.Join(userID, taskID)
	artifacts := &Artifacts{
		JSONKey:  path.Join(prefix, taskName+"-result.json"),
		SheetKey: path.Join(prefix, taskName+"-result.xlsx"),
	}

	jsonSize, err := p.store.Upload(ctx, blobstore.BucketAggregatedResults,
		artifacts.JSONKey, jsonPath, "application/json")
	if err != nil {
		return nil, fmt.Errorf("upload json artifact: %w", err)
	}

	sheetSize, err := p.store.Upload(ctx, blobstore.BucketAggregatedResults,
		artifacts.SheetKey, sheetPath,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err != nil {
		return nil, fmt.Errorf("upload sheet artifact: %w", err)
	}

	p.logger.Info("Published artifacts",
		"task_id", taskID,
		"records", len(records),
		"json_bytes", jsonSize,
		"sheet_bytes", sheetSize)
	return artifacts, nil
}
