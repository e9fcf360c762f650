// Package e2e runs the whole server in-process: real store, memory,
// agent, workers and router, with a scripted model behind them.
package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/planlearn/internal/agent"
	"github.com/hyperengineering/planlearn/internal/alerts"
	"github.com/hyperengineering/planlearn/internal/api"
	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/memory"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/worker"
	"github.com/hyperengineering/planlearn/pkg/client"
)

// --- Scripted model ---

// scriptedModel answers streamed chat calls and background completions
// from separate queues, since the augmentation worker runs concurrently
// with chat turns. An exhausted completion queue answers with an empty
// extraction.
type scriptedModel struct {
	mu          sync.Mutex
	streams     []llm.Response
	completions []string
}

func (m *scriptedModel) Stream(_ context.Context, _ llm.Request, onDelta func(llm.Delta) error) (*llm.Response, error) {
	m.mu.Lock()
	if len(m.streams) == 0 {
		m.mu.Unlock()
		return nil, errors.New("no scripted stream left")
	}
	resp := m.streams[0]
	m.streams = m.streams[1:]
	m.mu.Unlock()

	if resp.Text != "" {
		if err := onDelta(llm.Delta{Text: resp.Text}); err != nil {
			return nil, err
		}
	}
	resp.Usage = llm.Usage{PromptTokens: 20, CompletionTokens: 10}
	return &resp, nil
}

func (m *scriptedModel) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text := `{"facts":[],"attributes":[],"triples":[]}`
	if len(m.completions) > 0 {
		text = m.completions[0]
		m.completions = m.completions[1:]
	}
	return &llm.Response{Text: text}, nil
}

func (m *scriptedModel) Name() string  { return "openai" }
func (m *scriptedModel) Model() string { return "gpt-e2e" }

func (m *scriptedModel) addStreams(rs ...llm.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = append(m.streams, rs...)
}

func (m *scriptedModel) addCompletions(texts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, texts...)
}

// --- Stack ---

type stack struct {
	model  *scriptedModel
	store  *store.SQLStore
	server *httptest.Server
	client *client.Client
}

type stackOptions struct {
	freeLimit int
}

// startStack wires the server the way cmd/planlearn does and starts its
// background workers. Everything is torn down with the test.
func startStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	if opts.freeLimit == 0 {
		opts.freeLimit = 3
	}

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "planlearn.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	mem, err := memory.NewManager(db, nil, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	model := &scriptedModel{}
	providers := llm.NewStaticFactory(model)
	hub := alerts.NewHub(alerts.DefaultBuffer)
	interval := 20 * time.Millisecond

	handler := api.NewHandler(api.Deps{
		Store:        db,
		Memory:       mem,
		Providers:    providers,
		Chat:         agent.NewOrchestrator(providers, mem, agent.NewTools(mem, nil, nil), db, agent.Options{}, nil),
		Suggester:    alerts.NewSuggester(db, nil),
		Detector:     alerts.NewPipeline(db, nil),
		Hub:          hub,
		FreeLimit:    opts.freeLimit,
		PollInterval: time.Second,
		Version:      "e2e",
	})
	srv := httptest.NewServer(api.NewRouter(handler))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	augmentation := worker.NewAugmentationWorker(memory.NewAugmenter(mem, model, nil), 16)
	mem.AttachQueue(augmentation)
	for _, run := range []func(context.Context){
		augmentation.Run,
		worker.NewAlertWatcher(db, hub, interval).Run,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		cancel()
		wg.Wait()
		mem.Close()
		db.Close()
	})

	c, err := client.New(client.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return &stack{model: model, store: db, server: srv, client: c}
}

// getJSON fetches path from the stack and decodes the body into out.
func (s *stack) getJSON(t *testing.T, path string, out any) {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func toolCall(id, name string, args map[string]any) llm.ToolCall {
	raw, _ := json.Marshal(args)
	return llm.ToolCall{ID: id, Name: name, Arguments: string(raw)}
}
