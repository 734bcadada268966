package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/firmdesk/firmdesk/internal/observability/metrics"
)

// Task is one periodic maintenance job. Sweep returns how many items it
// removed or repaired.
type Task interface {
	Name() string
	Sweep(ctx context.Context) (int, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) (int, error)
}

func (t TaskFunc) Name() string                           { return t.TaskName }
func (t TaskFunc) Sweep(ctx context.Context) (int, error) { return t.Fn(ctx) }

// MaintenanceWorker runs registered tasks on a fixed interval. Failing tasks
// are retried with quadratic backoff inside the tick.
type MaintenanceWorker struct {
	tasks      []Task
	logger     *slog.Logger
	interval   time.Duration
	maxRetries int
}

// NewMaintenanceWorker creates a maintenance worker.
func NewMaintenanceWorker(logger *slog.Logger, interval time.Duration, tasks ...Task) *MaintenanceWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MaintenanceWorker{
		tasks:      tasks,
		logger:     logger,
		interval:   interval,
		maxRetries: 3,
	}
}

// Start runs the worker loop until the context is cancelled.
func (w *MaintenanceWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("maintenance worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("maintenance worker stopped")
			return
		case <-ticker.C:
			w.runTasks(ctx)
		}
	}
}

func (w *MaintenanceWorker) runTasks(ctx context.Context) {
	for _, task := range w.tasks {
		w.runTask(ctx, task)
	}
}

func (w *MaintenanceWorker) runTask(ctx context.Context, task Task) {
	logger := w.logger.With(slog.String("task", task.Name()))

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt*attempt) * time.Second
			logger.Warn("retrying maintenance task",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		swept, err := task.Sweep(ctx)
		if err == nil {
			if swept > 0 {
				logger.Info("maintenance task completed", slog.Int("swept", swept))
			}
			metrics.ObserveMaintenance(task.Name(), "success")
			return
		}
		logger.Error("maintenance task failed", slog.String("error", err.Error()))
	}

	logger.Error("maintenance task failed after retries", slog.Int("max_retries", w.maxRetries))
	metrics.ObserveMaintenance(task.Name(), "error")
}
