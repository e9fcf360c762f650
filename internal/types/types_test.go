package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestOutcomeFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  TaskOutcome
	}{
		{10, OutcomeCompleted},
		{8, OutcomeCompleted},
		{7.9, OutcomeAdapted},
		{5, OutcomeAdapted},
		{4.5, OutcomeLearned},
		{0, OutcomeLearned},
	}
	for _, tt := range tests {
		if got := OutcomeFromScore(tt.score); got != tt.want {
			t.Errorf("OutcomeFromScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestAlert_JSONShape(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	alert := Alert{
		ID:        "a-1",
		UserID:    "user-1",
		AlertType: "suggestion",
		Severity:  SeverityInfo,
		Title:     "Welcome!",
		Message:   "hello",
		Metadata:  json.RawMessage(`{"ai_generated":true}`),
		CreatedAt: created,
	}

	data, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)

	// user_id is implied by the route and never serialized
	if strings.Contains(s, "user-1") {
		t.Errorf("alert JSON leaked user id: %s", s)
	}
	if !strings.Contains(s, `"acknowledged_at":null`) {
		t.Errorf("alert JSON missing null acknowledged_at: %s", s)
	}
	if !strings.Contains(s, `"metadata":{"ai_generated":true}`) {
		t.Errorf("alert JSON metadata = %s", s)
	}
}

func TestSession_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Session{ID: "s1"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"session_id":"s1"`) {
		t.Errorf("session JSON = %s", data)
	}
}
