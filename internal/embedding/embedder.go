package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no embedding backend is configured.
var ErrUnavailable = errors.New("embedding service unavailable")

// Embedder defines the interface contract for embedding generation services.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
	ModelName() string
}

// Noop is the Embedder used when no API key is configured.
// Every call fails with ErrUnavailable so callers fall back to recency.
type Noop struct{}

var _ Embedder = Noop{}

func (Noop) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

func (Noop) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrUnavailable
}

func (Noop) ModelName() string {
	return "none"
}
