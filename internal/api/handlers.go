package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/planlearn/internal/alerts"
	"github.com/hyperengineering/planlearn/internal/export"
	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/memory"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/types"
	"github.com/hyperengineering/planlearn/internal/validation"
	"github.com/hyperengineering/planlearn/internal/workflow"
)

// maxBodyBytes caps request bodies. Chat history makes chat the largest.
const maxBodyBytes = 1 << 20

// Chatter runs one streamed chat turn.
type Chatter interface {
	Chat(ctx context.Context, req types.ChatRequest, w io.Writer) error
}

// Deps are the collaborators a Handler serves requests with.
type Deps struct {
	Store     store.Store
	Memory    *memory.Manager
	Providers *llm.Factory
	Chat      Chatter
	Suggester *alerts.Suggester
	Detector  *alerts.Pipeline
	Hub       *alerts.Hub
	Exporter  export.Uploader

	FreeLimit    int
	PollInterval time.Duration
	FrontendURL  string
	Version      string
}

// Handler implements the API handlers
type Handler struct {
	store     store.Store
	memory    *memory.Manager
	providers *llm.Factory
	chat      Chatter
	suggester *alerts.Suggester
	detector  *alerts.Pipeline
	hub       *alerts.Hub
	exporter  export.Uploader

	freeLimit    int
	pollInterval time.Duration
	frontendURL  string
	version      string

	// Alert streams outlive ordinary requests, so shutdown ends them
	// explicitly through CloseStreams.
	streams       context.Context
	closeStreams  context.CancelFunc
	streamMu      sync.Mutex
	streamsClosed bool
	streamWG      sync.WaitGroup
}

// NewHandler creates a new Handler
func NewHandler(d Deps) *Handler {
	h := &Handler{
		store:        d.Store,
		memory:       d.Memory,
		providers:    d.Providers,
		chat:         d.Chat,
		suggester:    d.Suggester,
		detector:     d.Detector,
		hub:          d.Hub,
		exporter:     d.Exporter,
		freeLimit:    d.FreeLimit,
		pollInterval: d.PollInterval,
		frontendURL:  d.FrontendURL,
		version:      d.Version,
	}
	if h.exporter == nil {
		h.exporter = export.NoopUploader{}
	}
	if h.hub == nil {
		h.hub = alerts.NewHub(alerts.DefaultBuffer)
	}
	if h.detector == nil {
		h.detector = alerts.NewPipeline(d.Store, nil)
	}
	if h.suggester == nil {
		h.suggester = alerts.NewSuggester(d.Store, nil)
	}
	if h.pollInterval <= 0 {
		h.pollInterval = 5 * time.Second
	}
	h.streams, h.closeStreams = context.WithCancel(context.Background())
	return h
}

// CloseStreams ends every open alert stream, refuses new ones and waits
// for the stream handlers to return. It is safe to call more than once.
func (h *Handler) CloseStreams() {
	h.streamMu.Lock()
	h.streamsClosed = true
	h.streamMu.Unlock()

	h.closeStreams()
	h.streamWG.Wait()
}

// openStream registers an alert stream. It reports false once
// CloseStreams was called.
func (h *Handler) openStream() bool {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()
	if h.streamsClosed {
		return false
	}
	h.streamWG.Add(1)
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// decodeJSON reads a JSON body into v, writing a 400 problem on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// userIDParam returns the validated {user_id} path parameter, writing a
// 422 problem when it is unusable.
func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "user_id")
	if errs := validation.ValidateUserID("user_id", userID); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Invalid user id", errs)
		return "", false
	}
	return userID, true
}

// limitParam parses the optional ?limit= query parameter.
func limitParam(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", max))
		return 0, false
	}
	return n, true
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	provider := h.providers.Default()
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Provider: provider.Name(),
		Model:    provider.Model(),
	})
}

// Usage handles GET /api/usage/{user_id}
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	used, err := h.store.CountFreeUsage(r.Context(), userID)
	if err != nil {
		slog.Error("usage lookup failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.UsageResponse{
		UserID:      userID,
		FreeUses:    used,
		Limit:       h.freeLimit,
		NeedsAPIKey: used >= h.freeLimit,
	})
}

// IngestTasks handles POST /api/tasks
func (h *Handler) IngestTasks(w http.ResponseWriter, r *http.Request) {
	var req types.IngestTasksRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateIngestTasksRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	tasks, err := h.store.CreateTasks(r.Context(), req.UserID, req.Tasks)
	if err != nil {
		slog.Error("task ingest failed", "component", "api", "user_id", req.UserID, "error", err)
		MapError(w, r, err)
		return
	}

	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
		// Learning extraction runs in the background; a failure here only
		// costs the learnings of this task.
		if err := h.memory.LearnFromTask(r.Context(), req.UserID, task); err != nil {
			slog.Warn("task learning failed",
				"component", "api",
				"action", "learn_from_task",
				"user_id", req.UserID,
				"task_id", task.ID,
				"error", err,
			)
		}
	}

	slog.Info("tasks ingested",
		"component", "api",
		"action", "ingest_tasks",
		"user_id", req.UserID,
		"count", len(tasks),
	)

	writeJSON(w, http.StatusOK, types.IngestTasksResponse{
		Status:   "ok",
		Ingested: len(tasks),
		TaskIDs:  ids,
		Tasks:    tasks,
	})
}

// ListTasks handles GET /api/tasks/{user_id}
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, 20, 100)
	if !ok {
		return
	}

	tasks, err := h.store.ListTasks(r.Context(), userID, limit)
	if err != nil {
		slog.Error("task list failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Insights handles POST /api/insights by running the Plan & Learn workflow
// on the question.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	var req types.InsightsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateInsightsRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	wf := workflow.New(h.providers.Default(), h.memory, slog.Default())
	result, err := wf.Run(r.Context(), req.UserID, req.Question)
	if err != nil {
		slog.Error("insights failed", "component", "api", "user_id", req.UserID, "error", err)
		MapError(w, r, err)
		return
	}

	resp := types.InsightsResponse{
		Learnings:          result.Learnings,
		PatternsDiscovered: result.PatternsDiscovered,
		Success:            result.Success,
	}
	if resp.Learnings == nil {
		resp.Learnings = []string{}
	}
	if resp.PatternsDiscovered == nil {
		resp.PatternsDiscovered = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}
