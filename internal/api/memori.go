package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/planlearn/internal/memory"
	"github.com/hyperengineering/planlearn/internal/types"
)

type factsResponse struct {
	EntityID string                `json:"entity_id"`
	Facts    []memory.RecalledFact `json:"facts"`
	Count    int                   `json:"count"`
}

type triplesResponse struct {
	EntityID string         `json:"entity_id"`
	Triples  []types.Triple `json:"triples"`
	Count    int            `json:"count"`
}

type attributesResponse struct {
	ProcessID  string                   `json:"process_id"`
	Attributes []types.ProcessAttribute `json:"attributes"`
	Count      int                      `json:"count"`
}

type patternsResponse struct {
	EntityID string          `json:"entity_id"`
	TaskType *string         `json:"task_type"`
	Patterns []types.Pattern `json:"patterns"`
	Count    int             `json:"count"`
}

type taskStatsResponse struct {
	EntityID string            `json:"entity_id"`
	Stats    *memory.TaskStats `json:"stats"`
}

type exportResponse struct {
	EntityID  string    `json:"entity_id"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MemoryState handles GET /api/memori/state/{user_id}
func (h *Handler) MemoryState(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	state, err := h.memory.State(r.Context(), userID)
	if err != nil {
		slog.Error("memory state failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// MemoryFacts handles GET /api/memori/facts/{user_id}
func (h *Handler) MemoryFacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, 10, 100)
	if !ok {
		return
	}

	facts, err := h.memory.Facts(r.Context(), userID, limit)
	if err != nil {
		slog.Error("fact list failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	if facts == nil {
		facts = []memory.RecalledFact{}
	}
	writeJSON(w, http.StatusOK, factsResponse{EntityID: userID, Facts: facts, Count: len(facts)})
}

// KnowledgeGraph handles GET /api/memori/knowledge-graph/{user_id}
func (h *Handler) KnowledgeGraph(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, 20, 200)
	if !ok {
		return
	}

	triples, err := h.memory.KnowledgeGraph(r.Context(), userID, limit)
	if err != nil {
		slog.Error("knowledge graph failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	if triples == nil {
		triples = []types.Triple{}
	}
	writeJSON(w, http.StatusOK, triplesResponse{EntityID: userID, Triples: triples, Count: len(triples)})
}

// ProcessAttributes handles GET /api/memori/process-attributes
func (h *Handler) ProcessAttributes(w http.ResponseWriter, r *http.Request) {
	processID := r.URL.Query().Get("process_id")
	if processID == "" {
		processID = types.ProcessID
	}
	limit, ok := limitParam(w, r, 10, 100)
	if !ok {
		return
	}

	attrs, err := h.memory.ProcessAttributes(r.Context(), processID, limit)
	if err != nil {
		slog.Error("process attributes failed", "component", "api", "process_id", processID, "error", err)
		MapError(w, r, err)
		return
	}
	if attrs == nil {
		attrs = []types.ProcessAttribute{}
	}
	writeJSON(w, http.StatusOK, attributesResponse{ProcessID: processID, Attributes: attrs, Count: len(attrs)})
}

// Patterns handles GET /api/memori/patterns/{user_id}
func (h *Handler) Patterns(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, 20, 100)
	if !ok {
		return
	}
	taskType := r.URL.Query().Get("task_type")

	patterns, err := h.memory.Patterns(r.Context(), userID, taskType, limit)
	if err != nil {
		slog.Error("pattern list failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	if patterns == nil {
		patterns = []types.Pattern{}
	}

	resp := patternsResponse{EntityID: userID, Patterns: patterns, Count: len(patterns)}
	if taskType != "" {
		resp.TaskType = &taskType
	}
	writeJSON(w, http.StatusOK, resp)
}

// TaskStats handles GET /api/memori/task-stats/{user_id}
func (h *Handler) TaskStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	stats, err := h.memory.TaskStats(r.Context(), userID)
	if err != nil {
		slog.Error("task stats failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskStatsResponse{EntityID: userID, Stats: stats})
}

// ExportMemory handles POST /api/memori/export/{user_id}. The export is
// uploaded to object storage and a presigned download link returned.
func (h *Handler) ExportMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	doc, err := h.memory.Export(r.Context(), userID)
	if err != nil {
		slog.Error("memory export failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}

	link, err := h.exporter.Upload(r.Context(), userID, doc)
	if err != nil {
		slog.Error("memory export upload failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}

	slog.Info("memory exported",
		"component", "api",
		"action", "export",
		"user_id", userID,
		"key", link.Key,
	)
	writeJSON(w, http.StatusOK, exportResponse{
		EntityID:  userID,
		Key:       link.Key,
		URL:       link.URL,
		ExpiresAt: link.ExpiresAt,
	})
}
