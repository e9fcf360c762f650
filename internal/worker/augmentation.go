package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/planlearn/internal/memory"
)

// Extractor analyzes a conversation and stores what it learns.
type Extractor interface {
	Extract(ctx context.Context, job memory.Job) error
}

// AugmentationWorker drains a bounded queue of conversations and runs fact
// extraction on each. It implements memory.Queue.
type AugmentationWorker struct {
	extractor Extractor
	jobs      chan memory.Job
	timeout   time.Duration
}

// NewAugmentationWorker creates a worker with room for size pending jobs.
func NewAugmentationWorker(extractor Extractor, size int) *AugmentationWorker {
	if size <= 0 {
		size = 1
	}
	return &AugmentationWorker{
		extractor: extractor,
		jobs:      make(chan memory.Job, size),
		timeout:   2 * time.Minute,
	}
}

// Enqueue adds a job without blocking. It reports false when the queue is
// full.
func (w *AugmentationWorker) Enqueue(job memory.Job) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued jobs.
func (w *AugmentationWorker) Pending() int {
	return len(w.jobs)
}

// Run processes jobs until ctx is cancelled. Jobs still queued at shutdown
// are dropped.
func (w *AugmentationWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "augmentation",
		"capacity", cap(w.jobs),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "augmentation",
				"dropped", len(w.jobs),
			)
			return
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

func (w *AugmentationWorker) process(ctx context.Context, job memory.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	if err := w.extractor.Extract(jobCtx, job); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("augmentation failed",
			"component", "worker",
			"action", "augment",
			"user_id", job.UserID,
			"error", err,
		)
		return
	}
	slog.Debug("augmentation complete",
		"component", "worker",
		"action", "augment",
		"user_id", job.UserID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
