package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"justmemory/internal/errs"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskTriggered TaskStatus = "triggered"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// ScheduledTask is a natural-language or cron scheduled action.
type ScheduledTask struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Schedule       string         `json:"schedule"`
	CronExpression *string        `json:"cron_expression,omitempty"`
	NextRun        time.Time      `json:"next_run"`
	Status         TaskStatus     `json:"status"`
	Recurring      bool           `json:"recurring"`
	ActionType     string         `json:"action_type"`
	ActionData     map[string]any `json:"action_data"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

const taskColumns = `id, project_id, title, description, schedule, cron_expression, next_run,
	status, recurring, action_type, action_data, created_at, updated_at`

func scanTask(row interface{ Scan(dest ...any) error }) (ScheduledTask, error) {
	var t ScheduledTask
	var actionData string
	var recurring int
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Schedule, &t.CronExpression,
		&t.NextRun, &t.Status, &recurring, &t.ActionType, &actionData, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Recurring = recurring != 0
	t.ActionData = map[string]any{}
	_ = json.Unmarshal([]byte(actionData), &t.ActionData)
	return t, nil
}

// InsertScheduledTask creates a new task.
func (s *Store) InsertScheduledTask(ctx context.Context, t ScheduledTask) error {
	data, _ := json.Marshal(t.ActionData)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO scheduled_tasks
			(id, project_id, title, description, schedule, cron_expression, next_run, status, recurring, action_type, action_data, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.ProjectID, t.Title, t.Description, t.Schedule, t.CronExpression, t.NextRun,
			t.Status, boolToInt(t.Recurring), t.ActionType, string(data), t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "insert scheduled task")
		}
		return nil
	})
}

func (s *Store) insertScheduledTaskIgnore(ctx context.Context, t ScheduledTask) error {
	data, _ := json.Marshal(t.ActionData)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO scheduled_tasks
			(id, project_id, title, description, schedule, cron_expression, next_run, status, recurring, action_type, action_data, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.ProjectID, t.Title, t.Description, t.Schedule, t.CronExpression, t.NextRun,
			t.Status, boolToInt(t.Recurring), t.ActionType, string(data), t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "restore scheduled task")
		}
		return nil
	})
}

// GetScheduledTask fetches a task by id.
func (s *Store) GetScheduledTask(ctx context.Context, id string) (ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return ScheduledTask{}, errs.New(errs.NotFound, "scheduled task %s not found", id)
	}
	if err != nil {
		return ScheduledTask{}, errs.Wrap(errs.StorageBusy, err, "get scheduled task")
	}
	return t, nil
}

// DueTasks returns pending tasks whose next_run <= now.
func (s *Store) DueTasks(ctx context.Context, project string) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE (project_id = ? OR project_id = ?) AND status = ? AND next_run <= ? ORDER BY next_run`,
		project, GlobalProject, TaskPending, now())
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "query due tasks")
	}
	defer rows.Close()
	var out []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListScheduledTasks returns every task in project.
func (s *Store) ListScheduledTasks(ctx context.Context, project string) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE project_id = ? OR project_id = ? ORDER BY next_run`, project, GlobalProject)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list scheduled tasks")
	}
	defer rows.Close()
	var out []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkTriggered transitions pending -> triggered, and for recurring tasks
// also advances next_run while leaving status pending instead.
func (s *Store) MarkTriggered(ctx context.Context, id string, recurringNextRun *time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		if recurringNextRun != nil {
			_, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET next_run = ?, updated_at = ? WHERE id = ? AND status = ?`,
				*recurringNextRun, now(), id, TaskPending)
			if err != nil {
				return errs.Wrap(errs.StorageBusy, err, "advance recurring task")
			}
			return nil
		}
		res, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			TaskTriggered, now(), id, TaskPending)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "mark task triggered")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.InvariantViolation, "task %s not pending", id)
		}
		return nil
	})
}

// CompleteTask transitions triggered -> completed; other transitions are rejected.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			TaskCompleted, now(), id, TaskTriggered)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "complete task")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.InvariantViolation, "task %s not in triggered state", id)
		}
		return nil
	})
}

// CancelTask transitions any non-terminal state to cancelled.
func (s *Store) CancelTask(ctx context.Context, id string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			TaskCancelled, now(), id, TaskPending, TaskTriggered)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "cancel task")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.InvariantViolation, "task %s already terminal", id)
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
