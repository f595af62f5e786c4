package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/store"
)

func newTestScheduler(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	_, err := parseCron("* * *")
	assert.Error(t, err)
}

func TestCronNextFindsNextMinuteMark(t *testing.T) {
	spec, err := parseCron("*/15 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 10, 3, 0, 0, time.UTC)
	next, err := spec.next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), next)
}

func TestCronNextHonorsDayOfWeek(t *testing.T) {
	spec, err := parseCron("0 9 * * 1") // every Monday at 09:00
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) // a Sunday
	next, err := spec.next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
}

func TestParseScheduleEndOfDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := ParseSchedule("end of day", now)
	require.NoError(t, err)
	assert.Equal(t, 18, got.Hour())
	assert.Equal(t, now.Day(), got.Day())
}

func TestParseScheduleEndOfWeek(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday
	got, err := ParseSchedule("end of week", now)
	require.NoError(t, err)
	assert.Equal(t, time.Friday, got.Weekday())
	assert.Equal(t, 17, got.Hour())
}

func TestParseScheduleNextWeekday(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday
	got, err := ParseSchedule("next friday", now)
	require.NoError(t, err)
	assert.Equal(t, time.Friday, got.Weekday())
	assert.Equal(t, 9, got.Hour())
	assert.True(t, got.After(now))
}

func TestParseScheduleISO8601(t *testing.T) {
	got, err := ParseSchedule("2026-04-01T09:00:00Z", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.April, got.Month())
}

func TestCreateAndCheckDueNonRecurring(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	task, err := s.Create(ctx, "proj", "ship release", "", "2020-01-01T00:00:00Z", "notify", nil)
	require.NoError(t, err)
	assert.False(t, task.Recurring)

	due, err := s.CheckDue(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, store.TaskTriggered, due[0].Status)

	require.NoError(t, s.Complete(ctx, task.ID))
	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, got.Status)
}

func TestCreateRecurringStaysPendingAfterTrigger(t *testing.T) {
	ctx := context.Background()
	s, db := newTestScheduler(t)

	cron := "* * * * *"
	past := time.Now().UTC().Add(-time.Hour)
	task := store.ScheduledTask{
		ID: "t1", ProjectID: "proj", Title: "heartbeat check", Schedule: cron,
		CronExpression: &cron, NextRun: past, Status: store.TaskPending, Recurring: true,
		ActionType: "check", ActionData: map[string]any{}, CreatedAt: past, UpdatedAt: past,
	}
	require.NoError(t, db.InsertScheduledTask(ctx, task))

	due, err := s.CheckDue(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, store.TaskPending, due[0].Status)
	assert.True(t, due[0].NextRun.After(past))
}

func TestCancelNonTerminalTask(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	task, err := s.Create(ctx, "proj", "reminder", "", "end of day", "notify", nil)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, task.ID))
	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCancelled, got.Status)
}
