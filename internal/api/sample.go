package api

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"time"
)

type sampleTemplate struct {
	name     string
	score    float64
	taskType string
}

var sampleTemplates = []sampleTemplate{
	{"Research REST API best practices", 8, "research"},
	{"Analyze competitor products", 7, "research"},
	{"Study machine learning fundamentals", 6, "research"},
	{"Create project roadmap", 9, "planning"},
	{"Design system architecture", 8, "planning"},
	{"Plan sprint backlog", 7, "planning"},
	{"Analyze user feedback", 8, "analysis"},
	{"Review performance metrics", 7, "analysis"},
	{"Debug authentication issue", 9, "analysis"},
	{"Write API documentation", 8, "writing"},
	{"Create user guide", 7, "writing"},
	{"Draft technical spec", 6, "writing"},
	{"Implement user authentication", 9, "coding"},
	{"Build data pipeline", 8, "coding"},
	{"Create API endpoints", 8, "coding"},
	{"Refactor legacy code", 7, "coding"},
}

// SampleTask is a demo task offered to new users.
type SampleTask struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	TaskType string  `json:"task_type"`
}

// SampleTaskList dates every demo task on a random day of the 30 days before
// now and returns them newest first.
func SampleTaskList(now time.Time, rng *rand.Rand) []SampleTask {
	tasks := make([]SampleTask, len(sampleTemplates))
	for i, t := range sampleTemplates {
		date := now.AddDate(0, 0, -rng.IntN(31))
		tasks[i] = SampleTask{
			ID:       fmt.Sprintf("sample-%d", i),
			Date:     date.Format(time.DateOnly),
			Name:     t.name,
			Score:    t.score,
			TaskType: t.taskType,
		}
	}
	slices.SortStableFunc(tasks, func(a, b SampleTask) int {
		return strings.Compare(b.Date, a.Date)
	})
	return tasks
}

// SampleTasks handles GET /api/sample-tasks
func (h *Handler) SampleTasks(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	rng := rand.New(rand.NewPCG(uint64(now.UnixNano()), 0))
	writeJSON(w, http.StatusOK, SampleTaskList(now, rng))
}

type sampleDataResponse struct {
	TasksLoaded int    `json:"tasks_loaded"`
	Message     string `json:"message"`
}

// LoadSampleData handles POST /api/sample-data/{user_id}
func (h *Handler) LoadSampleData(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sampleDataResponse{
		TasksLoaded: len(sampleTemplates),
		Message:     fmt.Sprintf("Sample tasks available for user %s. Use 'Extract Patterns' to discover learnings.", userID),
	})
}

type clearDataResponse struct {
	Message string `json:"message"`
	Alerts  int64  `json:"alerts_deleted"`
	Usage   int64  `json:"usage_deleted"`
	Tasks   int64  `json:"tasks_deleted"`
}

// ClearSampleData handles DELETE /api/sample-data/{user_id}. It removes
// the user's alerts, usage and tasks.
func (h *Handler) ClearSampleData(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	res, err := h.store.DeleteUserData(r.Context(), userID)
	if err != nil {
		slog.Error("data reset failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	h.memory.Forget(userID)

	slog.Info("user data cleared",
		"component", "api",
		"action", "clear_data",
		"user_id", userID,
		"alerts", res.Alerts,
		"usage", res.Usage,
		"tasks", res.Tasks,
	)

	writeJSON(w, http.StatusOK, clearDataResponse{
		Message: fmt.Sprintf("All data cleared for user %s", userID),
		Alerts:  res.Alerts,
		Usage:   res.Usage,
		Tasks:   res.Tasks,
	})
}
