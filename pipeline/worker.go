package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// runner is what a worker executes per unit; satisfied by *Pipeline.
type runner interface {
	Run(ctx context.Context, unit WorkUnit) error
}

// Pool is a fixed set of workers draining work units from the broker
// handoff channel. Workers never share per-task state.
type Pool struct {
	pipeline runner
	count    int
	logger   *slog.Logger
}

// NewPool creates a Pool of count workers over the given pipeline.
func NewPool(pipeline runner, count int, logger *slog.Logger) *Pool {
	if count < 1 {
		count = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{pipeline: pipeline, count: count, logger: logger}
}

// Run drains units until the channel closes, then returns. ctx bounds the
// execution of in-flight pipelines during shutdown; closing the channel is
// the signal to stop accepting new work.
func (p *Pool) Run(ctx context.Context, units <-chan WorkUnit) {
	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			logger := p.logger.With("worker", worker)
			for unit := range units {
				logger.Info("Starting task",
					"task_id", unit.TaskID,
					"user_id", unit.UserID,
					"from_archive", unit.FromArchive)
				if err := p.pipeline.Run(ctx, unit); err != nil {
					logger.Error("Task pipeline failed",
						"task_id", unit.TaskID,
						"error", err)
				}
			}
		}(i)
	}
	wg.Wait()
}
