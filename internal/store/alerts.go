package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/planlearn/internal/types"
)

const alertColumns = "id, user_id, alert_type, severity, title, message, metadata, created_at, acknowledged_at"

// CreateAlert stores an alert. Nil metadata is stored as {}.
func (s *SQLStore) CreateAlert(ctx context.Context, alert types.NewAlert) (*types.Alert, error) {
	metadata := alert.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal alert metadata: %w", err)
	}

	created := types.Alert{
		ID:        uuid.NewString(),
		UserID:    alert.UserID,
		AlertType: alert.AlertType,
		Severity:  alert.Severity,
		Title:     alert.Title,
		Message:   alert.Message,
		Metadata:  metaJSON,
		CreatedAt: s.now(),
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO alert_event (id, user_id, alert_type, severity, title, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), created.ID, created.UserID, created.AlertType, created.Severity, created.Title,
		created.Message, string(metaJSON), formatTime(created.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return &created, nil
}

// ListAlerts returns all of a user's alerts, newest first.
func (s *SQLStore) ListAlerts(ctx context.Context, userID string) ([]types.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+`
		FROM alert_event
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
}

// ListAlertsSince returns alerts created strictly after since, oldest first.
func (s *SQLStore) ListAlertsSince(ctx context.Context, userID string, since time.Time) ([]types.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+`
		FROM alert_event
		WHERE user_id = ? AND created_at > ?
		ORDER BY created_at ASC`, userID, formatTime(since))
}

// CountAlerts returns how many alerts a user has.
func (s *SQLStore) CountAlerts(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*) FROM alert_event WHERE user_id = ?",
	), userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

// AcknowledgeAlert stamps acknowledged_at and returns the updated alert.
// Returns ErrNotFound when no alert has the given id.
func (s *SQLStore) AcknowledgeAlert(ctx context.Context, id string) (*types.Alert, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE alert_event SET acknowledged_at = ? WHERE id = ?",
	), formatTime(s.now()), id)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+alertColumns+" FROM alert_event WHERE id = ?"), id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

func (s *SQLStore) queryAlerts(ctx context.Context, query string, args ...any) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []types.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// scanAlert scans a row selected with alertColumns.
func scanAlert(scanner interface{ Scan(...any) error }) (*types.Alert, error) {
	var (
		alert          types.Alert
		metadata       []byte
		createdAt      string
		acknowledgedAt sql.NullString
	)
	err := scanner.Scan(&alert.ID, &alert.UserID, &alert.AlertType, &alert.Severity,
		&alert.Title, &alert.Message, &metadata, &createdAt, &acknowledgedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	alert.Metadata = json.RawMessage(metadata)
	alert.CreatedAt = parseTime(createdAt)
	alert.AcknowledgedAt = parseNullTime(acknowledgedAt)
	return &alert, nil
}
