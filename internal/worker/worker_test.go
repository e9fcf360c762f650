package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/planlearn/internal/memory"
	"github.com/hyperengineering/planlearn/internal/types"
)

// --- Retention ---

type mockPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (m *mockPruner) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, olderThan)
	return 3, m.err
}

func (m *mockPruner) calls() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time{}, m.cutoffs...)
}

func TestRetentionWorker_PrunesOnSchedule(t *testing.T) {
	pruner := &mockPruner{}
	w := NewRetentionWorker(pruner, 50*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	go w.Run(ctx)
	time.Sleep(130 * time.Millisecond)
	cancel()

	if got := len(pruner.calls()); got < 2 {
		t.Errorf("prune calls = %d, want at least 2", got)
	}
}

func TestRetentionWorker_CutoffIsWindowAgo(t *testing.T) {
	// Given
	pruner := &mockPruner{}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	w := NewRetentionWorker(pruner, time.Hour, 48*time.Hour)
	w.now = func() time.Time { return now }

	// When
	w.prune(context.Background())

	// Then
	calls := pruner.calls()
	if len(calls) != 1 || !calls[0].Equal(now.Add(-48*time.Hour)) {
		t.Errorf("cutoffs = %v", calls)
	}
}

func TestRetentionWorker_ZeroWindowDisables(t *testing.T) {
	pruner := &mockPruner{}
	w := NewRetentionWorker(pruner, 10*time.Millisecond, 0)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should return immediately")
	}
	if len(pruner.calls()) != 0 {
		t.Error("disabled worker pruned")
	}
}

func TestRetentionWorker_ContinuesAfterError(t *testing.T) {
	pruner := &mockPruner{err: errors.New("db locked")}
	w := NewRetentionWorker(pruner, 40*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	go w.Run(ctx)
	time.Sleep(110 * time.Millisecond)
	cancel()

	if got := len(pruner.calls()); got < 2 {
		t.Errorf("prune calls = %d, want at least 2", got)
	}
}

// --- Augmentation ---

type mockExtractor struct {
	mu   sync.Mutex
	jobs []memory.Job
	err  error
	done chan struct{}
}

func (m *mockExtractor) Extract(_ context.Context, job memory.Job) error {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.err
}

func TestAugmentationWorker_EnqueueIsBounded(t *testing.T) {
	w := NewAugmentationWorker(&mockExtractor{}, 2)

	if !w.Enqueue(memory.Job{UserID: "a"}) || !w.Enqueue(memory.Job{UserID: "b"}) {
		t.Fatal("enqueue within capacity failed")
	}
	if w.Enqueue(memory.Job{UserID: "c"}) {
		t.Error("enqueue beyond capacity should report false")
	}
	if w.Pending() != 2 {
		t.Errorf("pending = %d, want 2", w.Pending())
	}
}

func TestAugmentationWorker_ProcessesJobs(t *testing.T) {
	// Given
	ex := &mockExtractor{done: make(chan struct{}, 2), err: errors.New("bad output")}
	w := NewAugmentationWorker(ex, 4)
	w.Enqueue(memory.Job{UserID: "alice"})
	w.Enqueue(memory.Job{UserID: "bob"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// When
	go w.Run(ctx)

	// Then
	for i := 0; i < 2; i++ {
		select {
		case <-ex.done:
		case <-time.After(time.Second):
			t.Fatalf("job %d not processed", i)
		}
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.jobs[0].UserID != "alice" || ex.jobs[1].UserID != "bob" {
		t.Errorf("jobs = %+v", ex.jobs)
	}
}

var _ memory.Queue = (*AugmentationWorker)(nil)

// --- Alert watcher ---

type mockAlertSource struct {
	mu     sync.Mutex
	alerts []types.Alert
	since  []time.Time
}

func (m *mockAlertSource) ListAlertsSince(_ context.Context, _ string, since time.Time) ([]types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = append(m.since, since)
	var out []types.Alert
	for _, a := range m.alerts {
		if a.CreatedAt.After(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockHub struct {
	users      []string
	subscribed map[string]time.Time
	published  []types.Alert
}

func (m *mockHub) Users() []string { return m.users }

func (m *mockHub) SubscribedSince(userID string) (time.Time, bool) {
	since, ok := m.subscribed[userID]
	return since, ok
}

func (m *mockHub) Publish(a types.Alert) int {
	m.published = append(m.published, a)
	return 1
}

func TestAlertWatcher_PublishesNewAlertsOnce(t *testing.T) {
	// Given
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	src := &mockAlertSource{}
	hub := &mockHub{users: []string{"alice"}}
	w := NewAlertWatcher(src, hub, 5*time.Second)
	w.now = func() time.Time { return clock }

	// When: the first poll registers the subscriber
	w.poll(context.Background())
	src.alerts = append(src.alerts, types.Alert{ID: "a1", CreatedAt: base.Add(2 * time.Second)})
	clock = base.Add(5 * time.Second)
	w.poll(context.Background())
	clock = base.Add(10 * time.Second)
	w.poll(context.Background())

	// Then
	if len(hub.published) != 1 || hub.published[0].ID != "a1" {
		t.Fatalf("published = %+v", hub.published)
	}
	if hub.published[0].UserID != "alice" {
		t.Errorf("user id = %q", hub.published[0].UserID)
	}
}

func TestAlertWatcher_ForgetsUnsubscribedUsers(t *testing.T) {
	src := &mockAlertSource{}
	hub := &mockHub{users: []string{"alice"}}
	w := NewAlertWatcher(src, hub, time.Second)

	w.poll(context.Background())
	hub.users = nil
	w.poll(context.Background())

	if len(w.lastCheck) != 0 || len(w.seen) != 0 {
		t.Error("state kept for a user without subscribers")
	}
}

func TestAlertWatcher_SkipsAlertsOlderThanSubscription(t *testing.T) {
	// Given: one alert from before alice connected and one from after,
	// both created before the watcher first sees her
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &mockAlertSource{alerts: []types.Alert{
		{ID: "old", CreatedAt: base.Add(-2 * time.Second)},
		{ID: "new", CreatedAt: base.Add(500 * time.Millisecond)},
	}}
	hub := &mockHub{users: []string{"alice"}, subscribed: map[string]time.Time{"alice": base}}
	w := NewAlertWatcher(src, hub, 5*time.Second)
	w.now = func() time.Time { return base.Add(time.Second) }

	// When
	w.poll(context.Background())
	w.poll(context.Background())

	// Then
	if len(hub.published) != 1 || hub.published[0].ID != "new" {
		t.Errorf("published = %+v, want only the alert created after subscribing", hub.published)
	}
}

func TestWorkers_NonPositiveIntervalUsesDefault(t *testing.T) {
	if w := NewAlertWatcher(&mockAlertSource{}, &mockHub{}, 0); w.interval != DefaultAlertPollInterval {
		t.Errorf("alert watcher interval = %s", w.interval)
	}
	if w := NewRetentionWorker(&mockPruner{}, -time.Second, time.Hour); w.interval != DefaultRetentionInterval {
		t.Errorf("retention interval = %s", w.interval)
	}
	if w := NewEmbeddingRetryWorker(&mockFactStore{}, &mockBatchEmbedder{}, 0, 3, 10, nil); w.interval != DefaultEmbeddingRetryInterval {
		t.Errorf("embedding retry interval = %s", w.interval)
	}
}

func TestAlertWatcher_ZeroIntervalRunsAndStops(t *testing.T) {
	w := NewAlertWatcher(&mockAlertSource{}, &mockHub{}, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
