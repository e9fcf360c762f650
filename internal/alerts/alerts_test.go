package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/types"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSpendingSpike(t *testing.T) {
	tests := []struct {
		name     string
		recent   []float64
		baseline []float64
		fires    bool
	}{
		{"empty recent", nil, []float64{1}, false},
		{"empty baseline", []float64{1}, nil, false},
		{"exactly at threshold", []float64{120}, []float64{100}, false},
		{"above threshold", []float64{130, 110}, []float64{100, 90}, true},
		{"below baseline", []float64{50}, []float64{100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SpendingSpike("alice", tt.recent, tt.baseline)
			if (got != nil) != tt.fires {
				t.Fatalf("fired = %v, want %v", got != nil, tt.fires)
			}
			if got == nil {
				return
			}
			if got.AlertType != TypeSpendingSpike || got.Severity != types.SeverityMedium {
				t.Errorf("alert = %+v", got)
			}
			if got.Metadata["recent_avg"] != 120.0 || got.Metadata["baseline_avg"] != 95.0 {
				t.Errorf("metadata = %v", got.Metadata)
			}
		})
	}
}

func TestPipeline_PersistsDetectedAlerts(t *testing.T) {
	// Given
	st := newTestStore(t)
	p := NewPipeline(st, nil)

	// When
	created, err := p.Run(context.Background(), DetectInput{UserID: "alice", Recent: []float64{200}, Baseline: []float64{100}})

	// Then
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}
	stored, _ := st.ListAlerts(context.Background(), "alice")
	if len(stored) != 1 || stored[0].Title != "Spending spike detected" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestPipeline_NothingDetected(t *testing.T) {
	st := newTestStore(t)

	created, err := NewPipeline(st, nil).Run(context.Background(), DetectInput{UserID: "alice"})

	if err != nil || len(created) != 0 {
		t.Errorf("created = %v, err = %v", created, err)
	}
}

type replyProvider struct {
	text string
	err  error
	req  llm.Request
}

func (p *replyProvider) Stream(ctx context.Context, req llm.Request, _ func(llm.Delta) error) (*llm.Response, error) {
	return p.Complete(ctx, req)
}

func (p *replyProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.req = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Text: p.text}, nil
}

func (p *replyProvider) Name() string  { return "openai" }
func (p *replyProvider) Model() string { return "gpt-test" }

func TestSuggester_StoresSuggestions(t *testing.T) {
	// Given
	st := newTestStore(t)
	provider := &replyProvider{text: `[{"alert_type":"suggestion","severity":"success","title":"Keep going","message":"Nice streak"},{"message":"Try planning first"}]`}
	s := NewSuggester(st, nil)

	// When
	created, err := s.Generate(context.Background(), "alice", provider)

	// Then
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	if created[1].Title != "Suggestion" || created[1].Severity != types.SeverityInfo || created[1].AlertType != TypeSuggestion {
		t.Errorf("defaults not applied: %+v", created[1])
	}
	var meta map[string]any
	if err := json.Unmarshal(created[0].Metadata, &meta); err != nil || meta["ai_generated"] != true {
		t.Errorf("metadata = %s", created[0].Metadata)
	}
	if provider.req.Temperature != 0.7 || provider.req.System != suggestionSystemPrompt {
		t.Errorf("request = %+v", provider.req)
	}
	if !strings.Contains(provider.req.Messages[0].Content, "Engagement level: New user") {
		t.Error("prompt is missing the engagement level")
	}
}

func TestSuggester_UnparseableReplyFallsBackToWelcome(t *testing.T) {
	st := newTestStore(t)

	created, err := NewSuggester(st, nil).Generate(context.Background(), "alice", &replyProvider{text: "Here are some tips!"})

	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(created) != 1 || created[0].Title != "Welcome!" {
		t.Errorf("created = %+v", created)
	}
}

func TestSuggester_ProviderError(t *testing.T) {
	st := newTestStore(t)

	_, err := NewSuggester(st, nil).Generate(context.Background(), "alice", &replyProvider{err: llm.ErrInvalidAPIKey})

	if !errors.Is(err, llm.ErrInvalidAPIKey) {
		t.Errorf("err = %v", err)
	}
}

func TestProfile_Engagement(t *testing.T) {
	tests := []struct {
		messages int
		want     string
	}{
		{0, "New user"},
		{2, "New user"},
		{3, "Active user"},
		{9, "Active user"},
		{10, "Power user"},
	}
	for _, tt := range tests {
		if got := (Profile{Messages: tt.messages}).Engagement(); got != tt.want {
			t.Errorf("Engagement(%d) = %q, want %q", tt.messages, got, tt.want)
		}
	}
}

func TestHub_PublishReachesOnlyUserSubscribers(t *testing.T) {
	// Given
	h := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alice := h.Subscribe(ctx, "alice")
	bob := h.Subscribe(ctx, "bob")

	// When
	n := h.Publish(types.Alert{ID: "a1", UserID: "alice"})

	// Then
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := <-alice; got.ID != "a1" {
		t.Errorf("alice got %+v", got)
	}
	select {
	case got := <-bob:
		t.Errorf("bob got %+v", got)
	default:
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx, "alice")

	h.Publish(types.Alert{ID: "a1", UserID: "alice"})
	n := h.Publish(types.Alert{ID: "a2", UserID: "alice"})

	if n != 0 {
		t.Errorf("second publish delivered %d", n)
	}
	if got := <-ch; got.ID != "a1" {
		t.Errorf("got %s, want a1", got.ID)
	}
}

func TestHub_UnsubscribeOnCancel(t *testing.T) {
	h := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, "alice")

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if h.Subscribers("alice") != 0 || len(h.Users()) != 0 {
		t.Error("subscriber not removed")
	}
}

func TestHub_SubscribedSinceTracksFirstSubscriber(t *testing.T) {
	// Given
	h := NewHub(0)
	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return first }
	ctx1, cancel1 := context.WithCancel(context.Background())
	h.Subscribe(ctx1, "alice")

	// When: a second subscriber joins later
	h.now = func() time.Time { return first.Add(time.Minute) }
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	h.Subscribe(ctx2, "alice")

	// Then
	if since, ok := h.SubscribedSince("alice"); !ok || !since.Equal(first) {
		t.Errorf("SubscribedSince = %v, %v; want %v", since, ok, first)
	}
	if _, ok := h.SubscribedSince("bob"); ok {
		t.Error("bob has no subscribers")
	}

	// When: everyone leaves
	cancel1()
	cancel2()

	// Then
	deadline := time.Now().Add(time.Second)
	for h.Subscribers("alice") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := h.SubscribedSince("alice"); ok {
		t.Error("subscription time kept after the last subscriber left")
	}
}
