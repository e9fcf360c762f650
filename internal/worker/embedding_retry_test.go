package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
)

type mockFactStore struct {
	mu            sync.Mutex
	pending       []types.Fact
	getPendingErr error
	updateErr     error
	updated       []string
	failed        []string
}

func (m *mockFactStore) GetPendingEmbeddings(_ context.Context, limit int) ([]types.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getPendingErr != nil {
		return nil, m.getPendingErr
	}
	if limit > len(m.pending) {
		limit = len(m.pending)
	}
	return append([]types.Fact{}, m.pending[:limit]...), nil
}

func (m *mockFactStore) remove(id string) {
	for i, f := range m.pending {
		if f.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *mockFactStore) UpdateEmbedding(_ context.Context, id string, _ []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = append(m.updated, id)
	m.remove(id)
	return nil
}

func (m *mockFactStore) MarkEmbeddingFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, id)
	m.remove(id)
	return nil
}

type mockBatchEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *mockBatchEmbedder) EmbedBatch(_ context.Context, contents []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(contents))
	for i := range contents {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (m *mockBatchEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func pendingFacts(ids ...string) []types.Fact {
	facts := make([]types.Fact, len(ids))
	for i, id := range ids {
		facts[i] = types.Fact{ID: id, UserID: "alice", Content: "fact " + id, EmbeddingStatus: types.EmbeddingPending}
	}
	return facts
}

func TestEmbeddingRetryWorker_EmbedsPendingAndNotifies(t *testing.T) {
	// Given
	store := &mockFactStore{pending: pendingFacts("f1", "f2")}
	embedder := &mockBatchEmbedder{}
	var notified []types.Fact
	w := NewEmbeddingRetryWorker(store, embedder, time.Hour, 10, 50, func(_ context.Context, f types.Fact) {
		notified = append(notified, f)
	})

	// When
	w.embedPending(context.Background())

	// Then
	if embedder.callCount() != 1 {
		t.Errorf("embed calls = %d, want 1", embedder.callCount())
	}
	if len(store.updated) != 2 {
		t.Errorf("updated = %v", store.updated)
	}
	if len(notified) != 2 {
		t.Fatalf("notified = %d, want 2", len(notified))
	}
	if notified[1].EmbeddingStatus != types.EmbeddingComplete || len(notified[1].Embedding) != 2 {
		t.Errorf("notified fact = %+v", notified[1])
	}
}

func TestEmbeddingRetryWorker_CountsRetriesOnFailure(t *testing.T) {
	store := &mockFactStore{pending: pendingFacts("f1")}
	w := NewEmbeddingRetryWorker(store, &mockBatchEmbedder{err: errors.New("API unavailable")}, time.Hour, 10, 50, nil)

	w.embedPending(context.Background())
	w.embedPending(context.Background())

	if w.attempts["f1"] != 2 {
		t.Errorf("attempt count = %d, want 2", w.attempts["f1"])
	}
	if len(store.failed) != 0 {
		t.Errorf("marked failed too early: %v", store.failed)
	}
}

func TestEmbeddingRetryWorker_MarksFailedAfterMaxAttempts(t *testing.T) {
	// Given
	store := &mockFactStore{pending: pendingFacts("f1")}
	w := NewEmbeddingRetryWorker(store, &mockBatchEmbedder{}, time.Hour, 3, 50, nil)
	w.attempts["f1"] = 3

	// When
	w.embedPending(context.Background())

	// Then
	if len(store.failed) != 1 || store.failed[0] != "f1" {
		t.Errorf("failed = %v", store.failed)
	}
	if _, ok := w.attempts["f1"]; ok {
		t.Error("attempt count should be cleared after marking failed")
	}
}

func TestEmbeddingRetryWorker_UpdateErrorKeepsRetrying(t *testing.T) {
	store := &mockFactStore{pending: pendingFacts("f1"), updateErr: errors.New("locked")}
	called := false
	w := NewEmbeddingRetryWorker(store, &mockBatchEmbedder{}, time.Hour, 10, 50, func(context.Context, types.Fact) {
		called = true
	})

	w.embedPending(context.Background())

	if w.attempts["f1"] != 1 {
		t.Errorf("attempt count = %d, want 1", w.attempts["f1"])
	}
	if called {
		t.Error("onEmbedded called for a fact that was not stored")
	}
}

func TestEmbeddingRetryWorker_ClearsRetryCountOnSuccess(t *testing.T) {
	store := &mockFactStore{pending: pendingFacts("f1")}
	w := NewEmbeddingRetryWorker(store, &mockBatchEmbedder{}, time.Hour, 10, 50, nil)
	w.attempts["f1"] = 5

	w.embedPending(context.Background())

	if _, ok := w.attempts["f1"]; ok {
		t.Error("attempt count should be cleared after success")
	}
}

func TestEmbeddingRetryWorker_StoreErrorSkipsEmbedding(t *testing.T) {
	embedder := &mockBatchEmbedder{}
	w := NewEmbeddingRetryWorker(&mockFactStore{getPendingErr: errors.New("db down")}, embedder, time.Hour, 10, 50, nil)

	w.embedPending(context.Background())

	if embedder.callCount() != 0 {
		t.Errorf("embed calls = %d, want 0", embedder.callCount())
	}
}

func TestEmbeddingRetryWorker_ProcessesOnStartAndStops(t *testing.T) {
	// Given
	store := &mockFactStore{pending: pendingFacts("f1")}
	embedder := &mockBatchEmbedder{}
	w := NewEmbeddingRetryWorker(store, embedder, time.Hour, 10, 50, nil)
	ctx, cancel := context.WithCancel(context.Background())

	// When
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	// Then
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	if embedder.callCount() < 1 {
		t.Error("expected processing before the first tick")
	}
}

type shortEmbedder struct{}

func (shortEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

func TestEmbeddingRetryWorker_VectorCountMismatchRetries(t *testing.T) {
	// Given: an embedder that answers two facts with one vector
	store := &mockFactStore{pending: pendingFacts("f1", "f2")}
	w := NewEmbeddingRetryWorker(store, shortEmbedder{}, time.Hour, 10, 50, nil)

	// When
	w.embedPending(context.Background())

	// Then
	if len(store.updated) != 0 {
		t.Errorf("updated = %v, want none", store.updated)
	}
	if w.attempts["f1"] != 1 || w.attempts["f2"] != 1 {
		t.Errorf("attempts = %v", w.attempts)
	}
}
