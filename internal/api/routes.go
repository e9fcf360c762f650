package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(CORSMiddleware(h.frontendURL))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/usage/{user_id}", h.Usage)

		r.With(
			RateLimit(ChatLimitPerMinute, time.Minute),
			RateLimit(ChatLimitPerDay, 24*time.Hour),
		).Post("/chat", h.Chat)

		r.With(
			RateLimit(TasksLimitPerMinute, time.Minute),
			RateLimit(TasksLimitPerDay, 24*time.Hour),
		).Post("/tasks", h.IngestTasks)
		r.Get("/tasks/{user_id}", h.ListTasks)

		r.Post("/insights", h.Insights)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/{user_id}", h.ListAlerts)
			r.Get("/{user_id}/stream", h.StreamAlerts)
			r.Get("/{user_id}/ws", h.AlertsWebSocket)
			r.Post("/{user_id}/generate", h.GenerateAlerts)
			r.Post("/{user_id}/detect", h.DetectAlerts)
			r.Post("/{alert_id}/acknowledge", h.AcknowledgeAlert)
		})

		r.Get("/sample-tasks", h.SampleTasks)
		r.Post("/sample-data/{user_id}", h.LoadSampleData)
		r.Delete("/sample-data/{user_id}", h.ClearSampleData)

		r.Route("/memori", func(r chi.Router) {
			r.Get("/state/{user_id}", h.MemoryState)
			r.Get("/facts/{user_id}", h.MemoryFacts)
			r.Get("/knowledge-graph/{user_id}", h.KnowledgeGraph)
			r.Get("/process-attributes", h.ProcessAttributes)
			r.Get("/patterns/{user_id}", h.Patterns)
			r.Get("/task-stats/{user_id}", h.TaskStats)
			r.Post("/export/{user_id}", h.ExportMemory)
		})
	})

	return r
}
