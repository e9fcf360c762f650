package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
)

// newTestStore opens an in-memory SQLite store with a clock that advances
// one second per call so ordering assertions are deterministic.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		dsn  string
		want Dialect
	}{
		{"postgres://user:pw@localhost/db", DialectPostgres},
		{"postgresql://localhost/db?sslmode=disable", DialectPostgres},
		{"POSTGRES://localhost/db", DialectPostgres},
		{"data/planlearn.db", DialectSQLite},
		{":memory:", DialectSQLite},
	}
	for _, tt := range tests {
		if got := DetectDialect(tt.dsn); got != tt.want {
			t.Errorf("DetectDialect(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite := &SQLStore{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestLikePattern_EscapesMetacharacters(t *testing.T) {
	if got := likePattern("100%_Done"); got != `%100\%\_done%` {
		t.Errorf("likePattern = %q", got)
	}
}

func TestEmbeddingPackRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out := unpackEmbedding(packEmbedding(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if packEmbedding(nil) != nil {
		t.Error("packEmbedding(nil) should be nil")
	}
}

func TestStore_CreateAndListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: two tasks, one with an explicit outcome
	created, err := s.CreateTasks(ctx, "user-1", []types.NewTask{
		{Date: "2026-02-01", Name: "Research REST API best practices", Score: 8, TaskType: "research"},
		{Date: "2026-02-02", Name: "Draft technical spec", Score: 6, TaskType: "writing", Outcome: types.OutcomeLearned, Notes: "scope drifted"},
	})
	if err != nil {
		t.Fatalf("CreateTasks failed: %v", err)
	}

	// Then: outcome is derived when missing
	if created[0].Outcome != types.OutcomeCompleted {
		t.Errorf("created[0].Outcome = %q, want completed", created[0].Outcome)
	}
	if created[1].Outcome != types.OutcomeLearned {
		t.Errorf("created[1].Outcome = %q, want learned", created[1].Outcome)
	}

	// When: listing
	tasks, err := s.ListTasks(ctx, "user-1", 20)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}

	// Then: newest first, notes preserved
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	if tasks[0].Name != "Draft technical spec" {
		t.Errorf("tasks[0].Name = %q, want newest task first", tasks[0].Name)
	}
	if tasks[0].Notes != "scope drifted" {
		t.Errorf("tasks[0].Notes = %q", tasks[0].Notes)
	}
	if tasks[1].Score != 8 {
		t.Errorf("tasks[1].Score = %v, want 8", tasks[1].Score)
	}

	other, _ := s.ListTasks(ctx, "user-2", 20)
	if len(other) != 0 {
		t.Errorf("other user sees %d tasks", len(other))
	}
}

func TestStore_ListTasksRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := make([]types.NewTask, 5)
	for i := range batch {
		batch[i] = types.NewTask{Date: "2026-02-01", Name: "task", Score: 7, TaskType: "coding"}
	}
	if _, err := s.CreateTasks(ctx, "user-1", batch); err != nil {
		t.Fatalf("CreateTasks failed: %v", err)
	}

	tasks, err := s.ListTasks(ctx, "user-1", 3)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("len(tasks) = %d, want 3", len(tasks))
	}
}

func TestStore_UsageCounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []types.UsageEvent{
		{UserID: "u", Endpoint: "/api/chat", Provider: "openai", Model: "gpt-4.1-mini", PromptTokens: 10, CompletionTokens: 5},
		{UserID: "u", Endpoint: "/api/chat", Provider: "openai", Model: "gpt-4.1-mini", PromptTokens: 20, CompletionTokens: 5},
		{UserID: "u", Endpoint: "/api/chat", Provider: "openai", Model: "gpt-4.1-mini", PromptTokens: 1, CompletionTokens: 1, BYOAPIKey: true},
	}
	for _, ev := range events {
		rec, err := s.RecordUsage(ctx, ev)
		if err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
		if rec.TotalTokens != ev.PromptTokens+ev.CompletionTokens {
			t.Errorf("TotalTokens = %d, want %d", rec.TotalTokens, ev.PromptTokens+ev.CompletionTokens)
		}
	}

	free, err := s.CountFreeUsage(ctx, "u")
	if err != nil {
		t.Fatalf("CountFreeUsage failed: %v", err)
	}
	if free != 2 {
		t.Errorf("free uses = %d, want 2 (BYO-key events excluded)", free)
	}

	summary, err := s.GetUsageSummary(ctx, "u")
	if err != nil {
		t.Fatalf("GetUsageSummary failed: %v", err)
	}
	if summary.Events != 3 || summary.TotalTokens != 42 {
		t.Errorf("summary = %+v, want 3 events / 42 tokens", summary)
	}
}

func TestStore_AlertLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateAlert(ctx, types.NewAlert{
		UserID: "u", AlertType: "suggestion", Severity: types.SeverityInfo,
		Title: "Welcome!", Message: "Start by completing some tasks.",
		Metadata: map[string]any{"ai_generated": true},
	})
	if err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	second, err := s.CreateAlert(ctx, types.NewAlert{
		UserID: "u", AlertType: "spending_spike", Severity: types.SeverityMedium,
		Title: "Spending spike detected", Message: "m",
	})
	if err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	alerts, err := s.ListAlerts(ctx, "u")
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 2 || alerts[0].ID != second.ID {
		t.Fatalf("ListAlerts order wrong: %+v", alerts)
	}
	var meta map[string]any
	if err := json.Unmarshal(alerts[1].Metadata, &meta); err != nil || meta["ai_generated"] != true {
		t.Errorf("metadata = %s", alerts[1].Metadata)
	}
	if string(alerts[0].Metadata) != "{}" {
		t.Errorf("nil metadata stored as %s, want {}", alerts[0].Metadata)
	}

	since, err := s.ListAlertsSince(ctx, "u", first.CreatedAt)
	if err != nil {
		t.Fatalf("ListAlertsSince failed: %v", err)
	}
	if len(since) != 1 || since[0].ID != second.ID {
		t.Errorf("ListAlertsSince = %+v, want only the second alert", since)
	}

	count, _ := s.CountAlerts(ctx, "u")
	if count != 2 {
		t.Errorf("CountAlerts = %d, want 2", count)
	}

	acked, err := s.AcknowledgeAlert(ctx, first.ID)
	if err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}
	if acked.AcknowledgedAt == nil {
		t.Error("AcknowledgedAt not set")
	}

	if _, err := s.AcknowledgeAlert(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AcknowledgeAlert(missing) err = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteUserData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateAlert(ctx, types.NewAlert{UserID: "u", AlertType: "a", Severity: "info", Title: "t", Message: "m"})
	s.RecordUsage(ctx, types.UsageEvent{UserID: "u", Endpoint: "/api/chat", Provider: "openai", Model: "m"})
	s.CreateTasks(ctx, "u", []types.NewTask{{Date: "2026-01-01", Name: "n", Score: 9, TaskType: "coding"}})
	s.CreateTasks(ctx, "keep", []types.NewTask{{Date: "2026-01-01", Name: "n", Score: 9, TaskType: "coding"}})

	res, err := s.DeleteUserData(ctx, "u")
	if err != nil {
		t.Fatalf("DeleteUserData failed: %v", err)
	}
	if res.Alerts != 1 || res.Usage != 1 || res.Tasks != 1 {
		t.Errorf("DeleteUserData = %+v, want 1/1/1", res)
	}

	kept, _ := s.ListTasks(ctx, "keep", 10)
	if len(kept) != 1 {
		t.Error("DeleteUserData removed another user's tasks")
	}
}

func TestStore_UpsertFactCountsRepeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertFact(ctx, "u", "Prefers a breadth-first research strategy", nil)
	if err != nil {
		t.Fatalf("UpsertFact failed: %v", err)
	}
	if first.NumTimes != 1 || first.EmbeddingStatus != types.EmbeddingPending {
		t.Errorf("first = %+v", first)
	}

	// Same content, different case and spacing
	again, err := s.UpsertFact(ctx, "u", "  prefers a breadth-first   RESEARCH strategy ", nil)
	if err != nil {
		t.Fatalf("UpsertFact failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("repeat created a new fact: %s != %s", again.ID, first.ID)
	}
	if again.NumTimes != 2 {
		t.Errorf("NumTimes = %d, want 2", again.NumTimes)
	}
	if !again.DateLastTime.After(first.DateLastTime) {
		t.Error("date_last_time not refreshed")
	}

	if _, err := s.UpsertFact(ctx, "u", "   ", nil); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("empty content err = %v, want ErrEmptyContent", err)
	}
}

func TestStore_QueryFactsFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertFact(ctx, "u", "Research strategy: read surveys first", nil)
	s.UpsertFact(ctx, "u", "Coding approach: write tests first", nil)
	s.UpsertFact(ctx, "u", "Coding approach: write tests first", nil)
	s.UpsertFact(ctx, "u", "User lives in Lisbon", nil)
	s.UpsertFact(ctx, "other", "Coding strategy owned by someone else", nil)

	// Recent order, no filters
	recent, err := s.QueryFacts(ctx, FactQuery{UserID: "u", Order: OrderRecent, Limit: 10})
	if err != nil {
		t.Fatalf("QueryFacts failed: %v", err)
	}
	if len(recent) != 3 || recent[0].Content != "User lives in Lisbon" {
		t.Errorf("recent = %+v", recent)
	}

	// Pattern keywords, frequency order
	patterns, err := s.QueryFacts(ctx, FactQuery{
		UserID:   "u",
		Keywords: []string{"strategy", "pattern", "approach", "steps"},
		Order:    OrderFrequent,
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("QueryFacts failed: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("len(patterns) = %d, want 2", len(patterns))
	}
	if patterns[0].Content != "Coding approach: write tests first" || patterns[0].NumTimes != 2 {
		t.Errorf("patterns[0] = %+v, want most frequent first", patterns[0])
	}

	// Keywords and terms combine with AND
	coding, _ := s.QueryFacts(ctx, FactQuery{
		UserID:   "u",
		Keywords: []string{"strategy", "approach"},
		Terms:    []string{"CODING"},
		Order:    OrderFrequent,
	})
	if len(coding) != 1 {
		t.Errorf("len(coding) = %d, want 1", len(coding))
	}

	count, err := s.CountFacts(ctx, FactQuery{UserID: "u", Keywords: []string{"strategy", "approach"}})
	if err != nil {
		t.Fatalf("CountFacts failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountFacts = %d, want 2", count)
	}
}

func TestStore_EmbeddingLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pending, _ := s.UpsertFact(ctx, "u", "needs embedding", nil)
	embedded, _ := s.UpsertFact(ctx, "u", "already embedded", []float32{1, 0})
	if embedded.EmbeddingStatus != types.EmbeddingComplete {
		t.Errorf("EmbeddingStatus = %q, want complete", embedded.EmbeddingStatus)
	}

	list, err := s.GetPendingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingEmbeddings failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != pending.ID {
		t.Fatalf("pending = %+v", list)
	}
	if list[0].UserID != "u" {
		t.Errorf("UserID = %q, want u", list[0].UserID)
	}

	if err := s.UpdateEmbedding(ctx, pending.ID, []float32{0, 1}); err != nil {
		t.Fatalf("UpdateEmbedding failed: %v", err)
	}
	withEmb, _ := s.FactsWithEmbeddings(ctx, "u")
	if len(withEmb) != 2 {
		t.Errorf("FactsWithEmbeddings = %d, want 2", len(withEmb))
	}

	failing, _ := s.UpsertFact(ctx, "u", "will fail", nil)
	if err := s.MarkEmbeddingFailed(ctx, failing.ID); err != nil {
		t.Fatalf("MarkEmbeddingFailed failed: %v", err)
	}
	list, _ = s.GetPendingEmbeddings(ctx, 10)
	if len(list) != 0 {
		t.Errorf("failed fact still pending: %+v", list)
	}

	if err := s.UpdateEmbedding(ctx, "missing", []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEmbedding(missing) err = %v, want ErrNotFound", err)
	}
}

func TestStore_PruneFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertFact(ctx, "u", "one-off", nil)
	s.UpsertFact(ctx, "u", "repeated", nil)
	s.UpsertFact(ctx, "u", "repeated", nil)

	n, err := s.PruneFacts(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PruneFacts failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	left, _ := s.QueryFacts(ctx, FactQuery{UserID: "u"})
	if len(left) != 1 || left[0].Content != "repeated" {
		t.Errorf("left = %+v", left)
	}
}

func TestStore_ConversationsAndSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.RecordConversation(ctx, "u", []types.ChatMessage{
			{Role: types.RoleUser, Content: "Give me a strategy to learn NeoVim"},
			{Role: types.RoleAssistant, Content: "Step 1: vimtutor"},
		})
		if err != nil {
			t.Fatalf("RecordConversation failed: %v", err)
		}
	}

	info, err := s.GetSessionInfo(ctx, "u")
	if err != nil {
		t.Fatalf("GetSessionInfo failed: %v", err)
	}
	if info.TotalSessions != 2 || info.TotalMessages != 4 {
		t.Errorf("info = %+v, want 2 sessions / 4 messages", info)
	}

	sessions, _ := s.ListSessions(ctx, "u", 10)
	if len(sessions) != 2 {
		t.Errorf("len(sessions) = %d", len(sessions))
	}

	messages, err := s.RecentMessages(ctx, "u", 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(messages) != 3 || messages[0].Role != types.RoleAssistant {
		t.Errorf("messages = %+v", messages)
	}

	convs, _ := s.CountConversations(ctx, "u")
	if convs != 2 {
		t.Errorf("CountConversations = %d, want 2", convs)
	}

	empty, _ := s.GetSessionInfo(ctx, "nobody")
	if empty.TotalSessions != 0 || empty.TotalMessages != 0 {
		t.Errorf("unknown user info = %+v", empty)
	}
}

func TestStore_ProcessAttributesAndTriples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, attr := range []string{"research planning", "Research Planning", "code review"} {
		if err := s.UpsertProcessAttribute(ctx, types.ProcessID, attr); err != nil {
			t.Fatalf("UpsertProcessAttribute failed: %v", err)
		}
	}
	attrs, err := s.ListProcessAttributes(ctx, types.ProcessID, 10)
	if err != nil {
		t.Fatalf("ListProcessAttributes failed: %v", err)
	}
	if len(attrs) != 2 || attrs[0].NumTimes != 2 {
		t.Errorf("attrs = %+v", attrs)
	}

	triple := types.Triple{Subject: "user", Predicate: "is learning", Object: "NeoVim"}
	if err := s.AddTriple(ctx, "u", triple); err != nil {
		t.Fatalf("AddTriple failed: %v", err)
	}
	if err := s.AddTriple(ctx, "u", triple); err != nil {
		t.Fatalf("duplicate AddTriple failed: %v", err)
	}
	triples, _ := s.ListTriples(ctx, "u", 10)
	if len(triples) != 1 || triples[0].Object != "NeoVim" {
		t.Errorf("triples = %+v", triples)
	}

	if err := s.AddTriple(ctx, "u", types.Triple{Subject: "x"}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("incomplete triple err = %v, want ErrEmptyContent", err)
	}
}
