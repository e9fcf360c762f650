package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/planlearn/internal/types"
)

// CreateTasks stores a batch of tasks in one transaction, in input order.
// A missing outcome is derived from the score.
func (s *SQLStore) CreateTasks(ctx context.Context, userID string, tasks []types.NewTask) ([]types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO task_event (id, user_id, date, name, score, task_type, outcome, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	created := make([]types.Task, 0, len(tasks))
	for i, t := range tasks {
		createdAt := now.Add(time.Duration(i) * time.Microsecond)
		task := types.Task{
			ID:        uuid.NewString(),
			UserID:    userID,
			Date:      t.Date,
			Name:      t.Name,
			Score:     t.Score,
			TaskType:  t.TaskType,
			Outcome:   t.Outcome,
			Notes:     t.Notes,
			CreatedAt: createdAt,
		}
		if task.Outcome == "" {
			task.Outcome = types.OutcomeFromScore(t.Score)
		}

		var notes sql.NullString
		if task.Notes != "" {
			notes = sql.NullString{String: task.Notes, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, task.ID, userID, task.Date, task.Name, task.Score,
			task.TaskType, string(task.Outcome), notes, formatTime(createdAt)); err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		created = append(created, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// ListTasks returns a user's most recent tasks, newest first.
func (s *SQLStore) ListTasks(ctx context.Context, userID string, limit int) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, date, name, score, task_type, outcome, notes, created_at
		FROM task_event
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []types.Task{}
	for rows.Next() {
		var (
			task      types.Task
			score     sql.NullFloat64
			notes     sql.NullString
			outcome   string
			createdAt string
		)
		if err := rows.Scan(&task.ID, &task.UserID, &task.Date, &task.Name, &score,
			&task.TaskType, &outcome, &notes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.Score = score.Float64
		task.Outcome = types.TaskOutcome(outcome)
		task.Notes = notes.String
		task.CreatedAt = parseTime(createdAt)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
