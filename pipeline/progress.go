package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// progressReporter is the slice of the registry client the tracker needs.
type progressReporter interface {
	UpdateProgress(ctx context.Context, taskID string, processed int) error
}

// batchSize derives the progress update cadence from the total file count:
// a quarter of the total, clamped to [25, 150]. Small batches still get a
// final update because the tracker always reports processed == total.
func batchSize(total int) int {
	b := total / 4
	if b > 150 {
		b = 150
	}
	if b < 25 {
		b = 25
	}
	return b
}

// progressTracker throttles registry progress updates. Updates go out only
// at batch multiples or at completion; repeated registry failures are
// logged once and then suppressed for the rest of the task.
type progressTracker struct {
	reporter progressReporter
	taskID   string
	total    int
	batch    int
	logger   *slog.Logger

	mu         sync.Mutex
	reported   int
	suppressed bool
}

func newProgressTracker(reporter progressReporter, taskID string, total, batchOverride int, logger *slog.Logger) *progressTracker {
	batch := batchOverride
	if batch <= 0 {
		batch = batchSize(total)
	}
	return &progressTracker{
		reporter: reporter,
		taskID:   taskID,
		total:    total,
		batch:    batch,
		logger:   logger,
	}
}

// observe is the extraction progress callback. Callbacks fire concurrently
// from the extraction goroutines, so the send itself stays under the lock:
// two batch-boundary updates issued in parallel could otherwise land at the
// registry out of order and make the processed count regress. The batch
// cadence keeps contention negligible.
func (t *progressTracker) observe(ctx context.Context, completed int) {
	if completed%t.batch != 0 && completed != t.total {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if completed <= t.reported || t.suppressed {
		return
	}
	t.reported = completed

	if err := t.reporter.UpdateProgress(ctx, t.taskID, completed); err != nil {
		t.suppressed = true
		t.logger.Warn("Progress update failed, suppressing further updates",
			"task_id", t.taskID,
			"processed", completed,
			"error", err)
	}
}
