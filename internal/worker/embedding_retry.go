package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
)

// EmbeddingStore is the slice of the fact store the retry worker needs.
type EmbeddingStore interface {
	GetPendingEmbeddings(ctx context.Context, limit int) ([]types.Fact, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, id string) error
}

// Embedder embeds a batch of texts in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
}

// EmbeddingRetryWorker embeds memory facts that were stored while the
// embedding service was unavailable. A fact that keeps failing is marked
// failed after maxAttempts batches so recall stops waiting for it.
type EmbeddingRetryWorker struct {
	store       EmbeddingStore
	embedder    Embedder
	interval    time.Duration
	maxAttempts int
	batchSize   int
	onEmbedded  func(ctx context.Context, fact types.Fact)

	attempts map[string]int
}

// DefaultEmbeddingRetryInterval is used when NewEmbeddingRetryWorker gets
// a non-positive interval.
const DefaultEmbeddingRetryInterval = 5 * time.Minute

// NewEmbeddingRetryWorker creates the worker. onEmbedded may be nil; when
// set it receives each fact once its vector is stored.
func NewEmbeddingRetryWorker(
	s EmbeddingStore,
	e Embedder,
	interval time.Duration,
	maxAttempts int,
	batchSize int,
	onEmbedded func(ctx context.Context, fact types.Fact),
) *EmbeddingRetryWorker {
	if interval <= 0 {
		interval = DefaultEmbeddingRetryInterval
	}
	return &EmbeddingRetryWorker{
		store:       s,
		embedder:    e,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		onEmbedded:  onEmbedded,
		attempts:    make(map[string]int),
	}
}

// Run embeds pending facts right away and then on every tick. Blocks until
// ctx is cancelled.
func (w *EmbeddingRetryWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "embedding-retry",
		"interval", w.interval.String(),
		"batch_size", w.batchSize,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.embedPending(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "embedding-retry",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.embedPending(ctx)
		}
	}
}

func (w *EmbeddingRetryWorker) embedPending(ctx context.Context) {
	facts, err := w.store.GetPendingEmbeddings(ctx, w.batchSize)
	if err != nil {
		slog.Error("pending embeddings lookup failed",
			"component", "worker",
			"action", "embed_retry",
			"error", err,
		)
		return
	}

	batch := w.retryable(ctx, facts)
	if len(batch) == 0 {
		return
	}

	vectors, err := w.embed(ctx, batch)
	if err != nil {
		slog.Warn("embedding batch failed",
			"component", "worker",
			"action", "embed_retry",
			"count", len(batch),
			"error", err,
		)
		for _, f := range batch {
			w.attempts[f.ID]++
		}
		return
	}

	stored := 0
	for i, fact := range batch {
		if err := w.store.UpdateEmbedding(ctx, fact.ID, vectors[i]); err != nil {
			slog.Error("embedding update failed",
				"component", "worker",
				"action", "embed_retry",
				"fact_id", fact.ID,
				"user_id", fact.UserID,
				"error", err,
			)
			w.attempts[fact.ID]++
			continue
		}
		delete(w.attempts, fact.ID)
		stored++

		if w.onEmbedded != nil {
			fact.Embedding = vectors[i]
			fact.EmbeddingStatus = types.EmbeddingComplete
			w.onEmbedded(ctx, fact)
		}
	}

	if stored > 0 {
		slog.Info("pending embeddings stored",
			"component", "worker",
			"action", "embed_retry",
			"count", stored,
		)
	}
}

// retryable drops facts that used up their attempts, marking them failed.
func (w *EmbeddingRetryWorker) retryable(ctx context.Context, facts []types.Fact) []types.Fact {
	var out []types.Fact
	for _, f := range facts {
		if w.attempts[f.ID] >= w.maxAttempts {
			w.giveUp(ctx, f)
			continue
		}
		out = append(out, f)
	}
	return out
}

func (w *EmbeddingRetryWorker) embed(ctx context.Context, facts []types.Fact) ([][]float32, error) {
	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Content
	}
	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(facts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d facts", len(vectors), len(facts))
	}
	return vectors, nil
}

func (w *EmbeddingRetryWorker) giveUp(ctx context.Context, fact types.Fact) {
	if err := w.store.MarkEmbeddingFailed(ctx, fact.ID); err != nil {
		slog.Error("embedding failure not recorded",
			"component", "worker",
			"action", "embed_retry",
			"fact_id", fact.ID,
			"error", err,
		)
		return
	}
	slog.Warn("embedding abandoned",
		"component", "worker",
		"action", "embed_retry",
		"fact_id", fact.ID,
		"user_id", fact.UserID,
		"attempts", w.attempts[fact.ID],
	)
	delete(w.attempts, fact.ID)
}
