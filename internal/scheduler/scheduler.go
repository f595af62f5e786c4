// Package scheduler implements the Scheduler component: natural-language
// and cron-driven scheduled tasks, due-task polling, and the
// triggered/completed/cancelled lifecycle.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"justmemory/internal/errs"
	"justmemory/internal/logging"
	"justmemory/internal/store"
)

// Service is the Scheduler component.
type Service struct {
	db *store.Store
}

// New builds a Scheduler bound to db.
func New(db *store.Store) *Service {
	return &Service{db: db}
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func now() time.Time { return time.Now().UTC() }

// Create schedules a new task. schedule is either a cron expression or a
// natural-language phrase; exactly one of them determines next_run, and a
// cron expression also makes the task recurring.
func (s *Service) Create(ctx context.Context, project, title, description, schedule, actionType string, actionData map[string]any) (store.ScheduledTask, error) {
	if strings.TrimSpace(title) == "" {
		return store.ScheduledTask{}, errs.New(errs.ValidationError, "task title must not be empty")
	}

	var cronExpr *string
	var nextRun time.Time
	recurring := false

	if spec, err := parseCron(schedule); err == nil {
		occ, err := spec.next(now())
		if err != nil {
			return store.ScheduledTask{}, err
		}
		nextRun = occ
		cronExpr = &schedule
		recurring = true
	} else {
		occ, err := ParseSchedule(schedule, now())
		if err != nil {
			return store.ScheduledTask{}, err
		}
		nextRun = occ
	}

	t := store.ScheduledTask{
		ID: newID(), ProjectID: project, Title: title, Description: description,
		Schedule: schedule, CronExpression: cronExpr, NextRun: nextRun, Status: store.TaskPending,
		Recurring: recurring, ActionType: actionType, ActionData: actionData,
		CreatedAt: now(), UpdatedAt: now(),
	}
	if err := s.db.InsertScheduledTask(ctx, t); err != nil {
		return store.ScheduledTask{}, err
	}
	logging.Get(logging.CategoryScheduler).Info("scheduled task %s due %s (recurring=%v)", t.ID, t.NextRun, t.Recurring)
	return t, nil
}

// Get fetches a scheduled task by id.
func (s *Service) Get(ctx context.Context, id string) (store.ScheduledTask, error) {
	return s.db.GetScheduledTask(ctx, id)
}

// List returns every scheduled task visible to project.
func (s *Service) List(ctx context.Context, project string) ([]store.ScheduledTask, error) {
	return s.db.ListScheduledTasks(ctx, project)
}

// CheckDue finds pending tasks whose next_run has arrived, marks them
// triggered, and returns them. Recurring tasks instead advance next_run to
// their next cron occurrence and stay pending.
func (s *Service) CheckDue(ctx context.Context, project string) ([]store.ScheduledTask, error) {
	due, err := s.db.DueTasks(ctx, project)
	if err != nil {
		return nil, err
	}

	triggered := make([]store.ScheduledTask, 0, len(due))
	for _, t := range due {
		if t.Recurring && t.CronExpression != nil {
			spec, err := parseCron(*t.CronExpression)
			if err != nil {
				logging.Get(logging.CategoryScheduler).Warn("recurring task %s has invalid cron %q: %v", t.ID, *t.CronExpression, err)
				continue
			}
			nextRun, err := spec.next(now())
			if err != nil {
				logging.Get(logging.CategoryScheduler).Warn("recurring task %s has no further occurrences: %v", t.ID, err)
				continue
			}
			if err := s.db.MarkTriggered(ctx, t.ID, &nextRun); err != nil {
				return triggered, err
			}
			t.NextRun = nextRun
			triggered = append(triggered, t)
			continue
		}
		if err := s.db.MarkTriggered(ctx, t.ID, nil); err != nil {
			return triggered, err
		}
		t.Status = store.TaskTriggered
		triggered = append(triggered, t)
	}
	return triggered, nil
}

// Complete transitions a triggered task to completed.
func (s *Service) Complete(ctx context.Context, id string) error {
	return s.db.CompleteTask(ctx, id)
}

// Cancel transitions any non-terminal task to cancelled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.db.CancelTask(ctx, id)
}
