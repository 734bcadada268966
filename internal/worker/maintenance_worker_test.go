package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerRunsTasksOnInterval(t *testing.T) {
	var sweeps atomic.Int32
	task := TaskFunc{
		TaskName: "idempotency_sweep",
		Fn: func(ctx context.Context) (int, error) {
			sweeps.Add(1)
			return 1, nil
		},
	}

	w := NewMaintenanceWorker(testLogger(), 10*time.Millisecond, task)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sweeps.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("task never ran twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}

func TestWorkerRunsAllTasks(t *testing.T) {
	var first, second atomic.Int32
	w := NewMaintenanceWorker(testLogger(), time.Hour,
		TaskFunc{TaskName: "a", Fn: func(ctx context.Context) (int, error) { first.Add(1); return 0, nil }},
		TaskFunc{TaskName: "b", Fn: func(ctx context.Context) (int, error) { second.Add(1); return 0, nil }},
	)
	w.runTasks(context.Background())

	if first.Load() != 1 || second.Load() != 1 {
		t.Errorf("sweeps = %d, %d", first.Load(), second.Load())
	}
}

func TestWorkerStopsRetryingOnCancel(t *testing.T) {
	var attempts atomic.Int32
	task := TaskFunc{
		TaskName: "flaky",
		Fn: func(ctx context.Context) (int, error) {
			attempts.Add(1)
			return 0, context.DeadlineExceeded
		},
	}
	w := NewMaintenanceWorker(testLogger(), time.Hour, task)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.runTask(ctx, task)

	// The first attempt runs; the backoff before the retry observes the
	// cancelled context and gives up.
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}
