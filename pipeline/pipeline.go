// Package pipeline orchestrates one resume-extraction task end to end:
// materialize the working set from object storage, convert files to text,
// run structured extraction, publish the aggregated artifacts and report
// terminal state to the registry. A worker pool drains work units from the
// broker handoff channel; per-task state lives on the stack of the owning
// pipeline run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"path/filepath"

	"github.com/yash91989201/bulk-resume-parser/aggregate"
	"github.com/yash91989201/bulk-resume-parser/blobstore"
	"github.com/yash91989201/bulk-resume-parser/convert"
	"github.com/yash91989201/bulk-resume-parser/llm"
	"github.com/yash91989201/bulk-resume-parser/metrics"
	"github.com/yash91989201/bulk-resume-parser/registry"
)

// WorkUnit is one validated unit of input from the broker.
type WorkUnit struct {
	UserID      string
	TaskID      string
	FromArchive bool
}

// taskRegistry is the slice of the registry client the pipeline needs.
type taskRegistry interface {
	FetchTask(ctx context.Context, taskID string) (*registry.Task, error)
	FetchPrompt(ctx context.Context, taskID string) (string, error)
	FetchParseableFiles(ctx context.Context, taskID string) ([]registry.ParseableFile, error)
	UpdateFileCounts(ctx context.Context, taskID string, total, invalid int) error
	UpdateProgress(ctx context.Context, taskID string, processed int) error
	MarkCompleted(ctx context.Context, taskID, jsonPath, sheetPath string) error
	MarkFailed(ctx context.Context, taskID, reason string) error
	InsertParseableFiles(ctx context.Context, files []registry.ParseableFile) error
}

// objectStore is the slice of the blob store the pipeline needs.
type objectStore interface {
	List(ctx context.Context, bucket, prefix string) ([]blobstore.ObjectInfo, error)
	Download(ctx context.Context, bucket, key, localPath string) error
	Remove(ctx context.Context, bucket, key string) error
}

// textConverter turns files into text, concurrently, never erroring on
// content.
type textConverter interface {
	ConvertBatch(ctx context.Context, paths []string) map[string]string
}

// recordExtractor runs the LLM over a batch of texts.
type recordExtractor interface {
	ExtractBatch(ctx context.Context, prompt string, texts []string, progress llm.ProgressFunc) []llm.Record
}

// artifactPublisher uploads the aggregated outputs.
type artifactPublisher interface {
	Publish(ctx context.Context, scratchDir, userID, taskID, taskName string, records []llm.Record) (*aggregate.Artifacts, error)
}

// Config holds pipeline tunables.
type Config struct {
	WorkDir             string
	DownloadConcurrency int
	// ProgressBatchSize overrides the derived progress cadence when > 0.
	ProgressBatchSize int
}

// Pipeline runs resume-extraction tasks. Safe for concurrent use; all
// per-task state is local to Run.
type Pipeline struct {
	registry  taskRegistry
	store     objectStore
	converter textConverter
	extractor recordExtractor
	publisher artifactPublisher
	cfg       Config
	logger    *slog.Logger
}

// New wires a Pipeline from its collaborators.
func New(reg taskRegistry, store objectStore, converter textConverter, extractor recordExtractor, publisher artifactPublisher, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DownloadConcurrency < 1 {
		cfg.DownloadConcurrency = 8
	}
	return &Pipeline{
		registry:  reg,
		store:     store,
		converter: converter,
		extractor: extractor,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// workingSet is the materialized input for one task.
type workingSet struct {
	// valid maps local path to the record's source filename.
	valid   []string
	sources []string
	invalid int
	// sourceObjects are the origin objects to delete once the task
	// reaches a terminal state.
	sourceObjects []blobstore.ObjectInfo
}

// Run executes one work unit to a terminal outcome. Per-file failures
// never fail the task; only registry, object-store and publish failures
// do. The returned error is for logging, the registry carries the
// authoritative outcome.
func (p *Pipeline) Run(ctx context.Context, unit WorkUnit) error {
	logger := p.logger.With("task_id", unit.TaskID, "user_id", unit.UserID)

	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	task, err := p.registry.FetchTask(ctx, unit.TaskID)
	if err != nil {
		p.failTask(ctx, unit.TaskID, "task lookup failed", logger)
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return err
	}
	if task.Status == registry.StatusCompleted {
		logger.Info("Task already completed, skipping")
		metrics.TasksProcessed.WithLabelValues("skipped").Inc()
		return nil
	}

	prompt, err := p.registry.FetchPrompt(ctx, unit.TaskID)
	if err != nil {
		p.failTask(ctx, unit.TaskID, "extraction prompt unavailable", logger)
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return err
	}

	rm, err := NewResourceManager(p.cfg.WorkDir, unit.TaskID, logger)
	if err != nil {
		p.failTask(ctx, unit.TaskID, "scratch directory unavailable", logger)
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return err
	}
	defer rm.Dispose()

	set, err := p.materialize(ctx, unit, rm, logger)
	if err != nil {
		p.failTask(ctx, unit.TaskID, err.Error(), logger)
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return err
	}

	if err := p.registry.UpdateFileCounts(ctx, unit.TaskID, len(set.valid), set.invalid); err != nil {
		logger.Warn("File count update failed", "error", err)
	}

	records := p.extract(ctx, unit, prompt, set, logger)

	artifacts, err := p.publisher.Publish(ctx, rm.Root(), unit.UserID, unit.TaskID, task.Name, records)
	if err != nil {
		if p.failTask(ctx, unit.TaskID, "artifact publish failed", logger) {
			p.deleteSourceObjects(ctx, set.sourceObjects, logger)
		}
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return err
	}

	if err := p.registry.MarkCompleted(ctx, unit.TaskID, artifacts.JSONKey, artifacts.SheetKey); err != nil {
		// Artifacts are uploaded but the task is not completed; a retry
		// re-runs the pipeline and overwrites them.
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return err
	}

	p.deleteSourceObjects(ctx, set.sourceObjects, logger)

	logger.Info("Task completed",
		"records", len(records),
		"invalid_files", set.invalid,
		"json_key", artifacts.JSONKey,
		"sheet_key", artifacts.SheetKey)
	metrics.TasksProcessed.WithLabelValues("completed").Inc()
	return nil
}

// materialize downloads and classifies the working set.
func (p *Pipeline) materialize(ctx context.Context, unit WorkUnit, rm *ResourceManager, logger *slog.Logger) (*workingSet, error) {
	if unit.FromArchive {
		return p.materializeArchive(ctx, unit, rm, logger)
	}
	return p.materializeDirect(ctx, unit, rm, logger)
}

func (p *Pipeline) materializeArchive(ctx context.Context, unit WorkUnit, rm *ResourceManager, logger *slog.Logger) (*workingSet, error) {
	prefix := path.Join(unit.UserID, unit.TaskID) + "/"
	objects, err := p.store.List(ctx, blobstore.BucketArchiveFiles, prefix)
	if err != nil {
		return nil, fmt.Errorf("list source archives: %w", err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no source files")
	}

	downloadDir, err := rm.Subdir("downloads")
	if err != nil {
		return nil, err
	}
	extractDir, err := rm.Subdir("extracted")
	if err != nil {
		return nil, err
	}

	items := make([]fetchItem, len(objects))
	for i, obj := range objects {
		items[i] = fetchItem{
			Bucket:    obj.Bucket,
			Key:       obj.Key,
			LocalName: fmt.Sprintf("%d-%s", i, path.Base(obj.Key)),
		}
	}
	f := newFetcher(p.store, p.cfg.DownloadConcurrency, logger)
	archivePaths, err := f.downloadAll(ctx, items, downloadDir)
	if err != nil {
		return nil, fmt.Errorf("download source archives: %w", err)
	}

	if err := extractArchives(archivePaths, extractDir, logger); err != nil {
		return nil, fmt.Errorf("extract archives: %w", err)
	}

	files, err := enumerateFiles(extractDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no source files")
	}

	set := &workingSet{sourceObjects: objects}
	var parseable []registry.ParseableFile
	for _, file := range files {
		if !convert.IsSupported(filepath.Ext(file)) {
			set.invalid++
			continue
		}
		rel, err := filepath.Rel(extractDir, file)
		if err != nil {
			rel = filepath.Base(file)
		}
		set.valid = append(set.valid, file)
		set.sources = append(set.sources, filepath.ToSlash(rel))
		parseable = append(parseable, registry.ParseableFile{
			BucketName:    blobstore.BucketParseableFiles,
			FileName:      filepath.Base(file),
			FilePath:      path.Join(unit.UserID, unit.TaskID, filepath.ToSlash(rel)),
			OriginalName:  filepath.Base(file),
			ContentType:   mime.TypeByExtension(filepath.Ext(file)),
			Status:        registry.FilePending,
			ParsingTaskID: unit.TaskID,
		})
	}

	if err := p.registry.InsertParseableFiles(ctx, parseable); err != nil {
		logger.Warn("Parseable file records not inserted", "error", err)
	}
	return set, nil
}

func (p *Pipeline) materializeDirect(ctx context.Context, unit WorkUnit, rm *ResourceManager, logger *slog.Logger) (*workingSet, error) {
	files, err := p.registry.FetchParseableFiles(ctx, unit.TaskID)
	if err != nil {
		return nil, fmt.Errorf("fetch declared file list: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no source files")
	}

	downloadDir, err := rm.Subdir("downloads")
	if err != nil {
		return nil, err
	}

	set := &workingSet{}
	var items []fetchItem
	var itemSources []string
	for i, file := range files {
		name := file.OriginalName
		if name == "" {
			name = path.Base(file.FilePath)
		}
		set.sourceObjects = append(set.sourceObjects, blobstore.ObjectInfo{
			Bucket: file.BucketName,
			Key:    file.FilePath,
		})
		if !convert.IsSupported(filepath.Ext(name)) {
			set.invalid++
			continue
		}
		items = append(items, fetchItem{
			Bucket:    file.BucketName,
			Key:       file.FilePath,
			LocalName: fmt.Sprintf("%d-%s", i, name),
		})
		itemSources = append(itemSources, name)
	}

	f := newFetcher(p.store, p.cfg.DownloadConcurrency, logger)
	paths, err := f.downloadAll(ctx, items, downloadDir)
	if err != nil {
		return nil, fmt.Errorf("download declared files: %w", err)
	}
	set.valid = paths
	set.sources = itemSources
	return set, nil
}

// extract converts the valid files and runs the LLM over the texts.
// Conversion and extraction failures degrade to empty or all-null records,
// they never fail the task.
func (p *Pipeline) extract(ctx context.Context, unit WorkUnit, prompt string, set *workingSet, logger *slog.Logger) []llm.Record {
	if len(set.valid) == 0 {
		return nil
	}

	texts := p.converter.ConvertBatch(ctx, set.valid)
	ordered := make([]string, len(set.valid))
	for i, path := range set.valid {
		ordered[i] = texts[path]
		if ordered[i] == "" {
			metrics.FilesConverted.WithLabelValues("empty").Inc()
		} else {
			metrics.FilesConverted.WithLabelValues("text").Inc()
		}
	}

	tracker := newProgressTracker(p.registry, unit.TaskID, len(ordered), p.cfg.ProgressBatchSize, logger)
	records := p.extractor.ExtractBatch(ctx, prompt, ordered, func(completed, _ int) {
		tracker.observe(ctx, completed)
	})

	return aggregate.Assemble(records, set.sources)
}

// failTask records a terminal failure, best effort. It reports whether the
// failed status actually reached the registry: source objects may only be
// deleted once the task is terminal, otherwise a retry has nothing to
// work with.
func (p *Pipeline) failTask(ctx context.Context, taskID, reason string, logger *slog.Logger) bool {
	logger.Error("Task failed", "reason", reason)
	if err := p.registry.MarkFailed(ctx, taskID, reason); err != nil {
		logger.Warn("Could not mark task failed", "error", err)
		return false
	}
	return true
}

// deleteSourceObjects removes the origin objects after the task reached a
// terminal state. Best effort: leftovers cost storage, not correctness.
func (p *Pipeline) deleteSourceObjects(ctx context.Context, objects []blobstore.ObjectInfo, logger *slog.Logger) {
	for _, obj := range objects {
		if err := p.store.Remove(ctx, obj.Bucket, obj.Key); err != nil {
			logger.Warn("Source object not deleted",
				"bucket", obj.Bucket,
				"key", obj.Key,
				"error", err)
		}
	}
}
