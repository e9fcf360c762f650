package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/plan"
	"github.com/hyperengineering/planlearn/internal/types"
)

const suggestionSystemPrompt = "You are a helpful task planning assistant. Return only valid JSON."

const suggestionTemperature = 0.7

const suggestionPrompt = `Based on this user's activity profile, generate 2-3 insights about their task completion patterns.

User Profile:
- Tasks discussed: %d
- Patterns discovered: %d
- Engagement level: %s

Generate insights that are:
1. Actionable and specific to improving task completion
2. Encouraging but realistic
3. Relevant to their engagement level

For new users, suggest ways to start building their pattern library.
For active users, suggest ways to leverage learned patterns.
For power users, suggest advanced learning strategies.

Return as JSON array with objects containing: alert_type, severity (info/warning/success), title, message
Example: [{"alert_type": "suggestion", "severity": "info", "title": "Pattern Insight", "message": "Your insight here"}]

Return ONLY the JSON array, no other text.`

// SuggestionStore is what the suggester reads the profile from and writes
// suggestions to.
type SuggestionStore interface {
	Creator
	CountAlerts(ctx context.Context, userID string) (int, error)
	GetUsageSummary(ctx context.Context, userID string) (*types.UsageSummary, error)
}

// Profile summarizes a user's engagement for suggestion prompts.
type Profile struct {
	Messages int
	Patterns int
}

// Engagement labels the profile by activity.
func (p Profile) Engagement() string {
	switch {
	case p.Messages < 3:
		return "New user"
	case p.Messages < 10:
		return "Active user"
	default:
		return "Power user"
	}
}

type suggestion struct {
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
	Message   string `json:"message"`
}

func welcomeSuggestion() []suggestion {
	return []suggestion{{
		AlertType: TypeSuggestion,
		Severity:  types.SeverityInfo,
		Title:     "Welcome!",
		Message:   "Start by completing some tasks to build your pattern library.",
	}}
}

// Suggester turns a user's activity profile into AI-written suggestions.
type Suggester struct {
	store  SuggestionStore
	logger *slog.Logger
}

// NewSuggester creates a suggester.
func NewSuggester(store SuggestionStore, logger *slog.Logger) *Suggester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suggester{store: store, logger: logger}
}

// Profile loads the engagement profile for a user.
func (s *Suggester) Profile(ctx context.Context, userID string) (Profile, error) {
	patterns, err := s.store.CountAlerts(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	usage, err := s.store.GetUsageSummary(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Messages: usage.Events, Patterns: patterns}, nil
}

// Generate asks provider for suggestions and stores each as an alert. An
// unparseable reply stores a single welcome suggestion instead.
func (s *Suggester) Generate(ctx context.Context, userID string, provider llm.Provider) ([]types.Alert, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	resp, err := provider.Complete(ctx, llm.Request{
		System: suggestionSystemPrompt,
		Messages: []llm.Message{llm.UserMessage(
			fmt.Sprintf(suggestionPrompt, profile.Messages, profile.Patterns, profile.Engagement()),
		)},
		Temperature: suggestionTemperature,
	})
	if err != nil {
		return nil, err
	}

	var suggestions []suggestion
	if err := json.Unmarshal([]byte(plan.StripFence(resp.Text)), &suggestions); err != nil {
		s.logger.Debug("suggestions unparseable, using welcome",
			"component", "alerts",
			"user_id", userID,
			"error", err,
		)
		suggestions = welcomeSuggestion()
	}

	created := make([]types.Alert, 0, len(suggestions))
	for _, sg := range suggestions {
		alert, err := s.store.CreateAlert(ctx, types.NewAlert{
			UserID:    userID,
			AlertType: orDefault(sg.AlertType, TypeSuggestion),
			Severity:  orDefault(sg.Severity, types.SeverityInfo),
			Title:     orDefault(sg.Title, "Suggestion"),
			Message:   sg.Message,
			Metadata:  map[string]any{"ai_generated": true},
		})
		if err != nil {
			return created, fmt.Errorf("store suggestion: %w", err)
		}
		created = append(created, *alert)
	}

	s.logger.Info("suggestions generated",
		"component", "alerts",
		"action", "generate",
		"user_id", userID,
		"engagement", profile.Engagement(),
		"count", len(created),
	)
	return created, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
