package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperengineering/planlearn/internal/export"
	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/validation"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response as RFC 7807: %v (body %s)", err, w.Body.String())
	}
	return p
}

func TestProblem_JSONSerialization(t *testing.T) {
	p := Problem{
		Type:     "https://planlearn.dev/errors/usage-limit",
		Title:    "Payment Required",
		Status:   402,
		Detail:   "Free usage limit (3) exceeded.",
		Instance: "/api/chat",
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("failed to marshal Problem: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal Problem JSON: %v", err)
	}

	// Verify all RFC 7807 fields present
	for field, want := range map[string]interface{}{
		"type":     "https://planlearn.dev/errors/usage-limit",
		"title":    "Payment Required",
		"status":   float64(402),
		"detail":   "Free usage limit (3) exceeded.",
		"instance": "/api/chat",
	} {
		if decoded[field] != want {
			t.Errorf("%s = %v, want %v", field, decoded[field], want)
		}
	}
}

func TestWriteProblem_ContentTypeAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/usage/alice", nil)

	WriteProblem(w, r, http.StatusNotFound, "Resource not found")

	if got := w.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("Content-Type = %v, want application/problem+json", got)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	p := decodeProblem(t, w)
	if p.Instance != "/api/usage/alice" {
		t.Errorf("instance = %q", p.Instance)
	}
}

func TestWriteProblem_UnknownStatus(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)

	WriteProblem(w, r, http.StatusTeapot, "short and stout")

	p := decodeProblem(t, w)
	if p.Type != "https://planlearn.dev/errors/unknown" {
		t.Errorf("type = %v", p.Type)
	}
	if p.Title != http.StatusText(http.StatusTeapot) {
		t.Errorf("title = %v", p.Title)
	}
}

func TestWriteProblemWithErrors_422(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)

	WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
		{Field: "tasks[0].score", Message: "must be between 0 and 10"},
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Type != "https://planlearn.dev/errors/validation-error" {
		t.Errorf("type = %v", p.Type)
	}
	if len(p.Errors) != 1 || p.Errors[0].Field != "tasks[0].score" {
		t.Errorf("errors = %+v", p.Errors)
	}
}

func TestWriteProblemUsageLimit(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)

	WriteProblemUsageLimit(w, r, 3)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	p := decodeProblem(t, w)
	want := "Free usage limit (3) exceeded. Please provide your OpenAI API key to continue."
	if p.Detail != want {
		t.Errorf("detail = %q, want %q", p.Detail, want)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		typeName string
	}{
		{"not found", fmt.Errorf("get alert: %w", store.ErrNotFound), http.StatusNotFound, "not-found"},
		{"invalid key", fmt.Errorf("%w: 401", llm.ErrInvalidAPIKey), http.StatusUnauthorized, "invalid-api-key"},
		{"provider rate limit", fmt.Errorf("%w: 429", llm.ErrRateLimited), http.StatusTooManyRequests, "rate-limit"},
		{"provider down", fmt.Errorf("%w: 502", llm.ErrProviderUnavailable), http.StatusServiceUnavailable, "service-unavailable"},
		{"export off", export.ErrNotConfigured, http.StatusServiceUnavailable, "service-unavailable"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal-error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)

			MapError(w, r, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			p := decodeProblem(t, w)
			if p.Type != "https://planlearn.dev/errors/"+tt.typeName {
				t.Errorf("type = %v, want suffix %s", p.Type, tt.typeName)
			}
		})
	}
}

func TestMapError_NoInternalDetailLeak(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/tasks/alice", nil)

	MapError(w, r, errors.New("pq: password authentication failed for user admin"))

	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
	if p := decodeProblem(t, w); p.Detail != "Internal Server Error" {
		t.Errorf("detail = %q", p.Detail)
	}
}
