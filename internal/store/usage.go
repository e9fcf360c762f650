package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperengineering/planlearn/internal/types"
)

// RecordUsage stores a usage event. TotalTokens defaults to prompt + completion.
func (s *SQLStore) RecordUsage(ctx context.Context, event types.UsageEvent) (*types.UsageEvent, error) {
	event.ID = uuid.NewString()
	event.CreatedAt = s.now()
	if event.TotalTokens == 0 {
		event.TotalTokens = event.PromptTokens + event.CompletionTokens
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO usage_event (id, user_id, endpoint, provider, model, prompt_tokens, completion_tokens, total_tokens, byo_api_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), event.ID, event.UserID, event.Endpoint, event.Provider, event.Model,
		event.PromptTokens, event.CompletionTokens, event.TotalTokens, event.BYOAPIKey, formatTime(event.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert usage event: %w", err)
	}
	return &event, nil
}

// CountFreeUsage counts usage events made without a caller-supplied API key.
func (s *SQLStore) CountFreeUsage(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*) FROM usage_event WHERE user_id = ? AND byo_api_key = ?",
	), userID, false).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count free usage: %w", err)
	}
	return count, nil
}

// GetUsageSummary returns the event count and token total for a user.
func (s *SQLStore) GetUsageSummary(ctx context.Context, userID string) (*types.UsageSummary, error) {
	var summary types.UsageSummary
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*), COALESCE(SUM(total_tokens), 0) FROM usage_event WHERE user_id = ?",
	), userID).Scan(&summary.Events, &summary.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	return &summary, nil
}
