package worker

import (
	"context"
	"log/slog"
	"time"
)

// Pruner removes stale memory facts.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// RetentionWorker periodically prunes facts that were mentioned once and
// not since the retention window.
type RetentionWorker struct {
	pruner   Pruner
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

// DefaultRetentionInterval is used when NewRetentionWorker gets a
// non-positive interval.
const DefaultRetentionInterval = 24 * time.Hour

// NewRetentionWorker creates a retention worker. A zero window disables
// pruning.
func NewRetentionWorker(pruner Pruner, interval, window time.Duration) *RetentionWorker {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	return &RetentionWorker{
		pruner:   pruner,
		interval: interval,
		window:   window,
		now:      time.Now,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.window <= 0 {
		slog.Info("worker disabled",
			"component", "worker",
			"worker", "retention",
		)
		return
	}

	slog.Info("worker started",
		"component", "worker",
		"worker", "retention",
		"interval", w.interval.String(),
		"window", w.window.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "retention",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *RetentionWorker) prune(ctx context.Context) {
	start := w.now()
	cutoff := start.Add(-w.window)

	removed, err := w.pruner.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("retention prune failed",
			"component", "worker",
			"action", "prune_failed",
			"error", err,
		)
		return
	}

	slog.Info("retention cycle completed",
		"component", "worker",
		"action", "prune_complete",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
