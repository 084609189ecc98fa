// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/executor"
	"github.com/shelfwatch/shelfwatch/internal/metrics"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// ExecuteFunc runs a single scrape task to a (possibly non-terminal) result.
type ExecuteFunc func(ctx context.Context, task tracker.Task) (executor.Result, error)

// CompletionFunc receives every item that reached a terminal status.
type CompletionFunc func(ctx context.Context, item tracker.Item)

// Dispatcher fans out queued tasks to a bounded pool of workers.
type Dispatcher struct {
	queue      tracker.Queue
	execute    ExecuteFunc
	onTerminal CompletionFunc
	workers    int
	logger     *zap.Logger
}

// New creates a Dispatcher running n workers.
func New(queue tracker.Queue, execute ExecuteFunc, onTerminal CompletionFunc, n int, logger *zap.Logger) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:      queue,
		execute:    execute,
		onTerminal: onTerminal,
		workers:    n,
		logger:     logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		d.logger.Debug("dequeued task",
			zap.String("run_id", task.RunID),
			zap.String("item_id", task.ItemID),
			zap.Int("attempt", task.Attempt),
		)
		d.process(ctx, task)
	}
}

func (d *Dispatcher) process(ctx context.Context, task tracker.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	res, err := d.execute(ctx, task)
	if err != nil {
		d.logger.Error("task execution failed",
			zap.String("run_id", task.RunID),
			zap.String("item_id", task.ItemID),
			zap.Error(err),
		)
		return
	}
	if res.Terminal && d.onTerminal != nil {
		d.onTerminal(ctx, res.Item)
	}
}
