package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/store"
)

func newTestSession(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func TestHeartbeatThenCheckCrashIsFalseForSelf(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)
	require.NoError(t, s.Heartbeat(ctx, "proj"))
	assert.False(t, s.CheckCrash(ctx, "proj").Crashed)
}

func TestCheckCrashDetectsStaleOtherSession(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSession(t)

	stale, _ := timeMarshal(time.Now().UTC().Add(-2 * time.Minute))
	require.NoError(t, db.SetScratchpad(ctx, "proj", keyLastHeartbeat, `{"session_id":"other","timestamp":"`+stale+`"}`, nil))

	report := s.CheckCrash(ctx, "proj")
	assert.True(t, report.Crashed)
}

func timeMarshal(t time.Time) (string, error) {
	return t.Format(time.RFC3339Nano), nil
}

func TestRecordToolCallTracksWorkingFiles(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	require.NoError(t, s.RecordToolCall(ctx, "proj", "edit_file", map[string]any{"file_path": "a.go"}, true))
	require.NoError(t, s.RecordToolCall(ctx, "proj", "edit_file", map[string]any{"file_path": "a.go"}, true))
	require.NoError(t, s.RecordToolCall(ctx, "proj", "edit_file", map[string]any{"file_path": "b.go"}, true))

	files, err := s.WorkingFiles(ctx, "proj")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, files)
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	_, err := s.SetTask(ctx, "proj", "migrate schema", 3)
	require.NoError(t, err)

	task, err := s.UpdateTask(ctx, "proj", 1, "added column")
	require.NoError(t, err)
	assert.Equal(t, 1, task.CurrentStep)
	assert.Len(t, task.Steps, 1)

	require.NoError(t, s.ClearTask(ctx, "proj"))
	_, err = s.GetTask(ctx, "proj")
	assert.Error(t, err)
}

func TestBriefingSeqIncrementsMonotonically(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	a, err := s.IncrementBriefingSeq(ctx, "proj")
	require.NoError(t, err)
	b, err := s.IncrementBriefingSeq(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, a+1, b)
}

func TestClearSessionStateRemovesReservedKeys(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSession(t)

	require.NoError(t, s.Heartbeat(ctx, "proj"))
	require.NoError(t, s.ClearSessionState(ctx, "proj"))

	_, err := db.GetScratchpad(ctx, "proj", keyLastHeartbeat)
	assert.Error(t, err)

	report := s.CheckCrash(ctx, "proj")
	assert.False(t, report.Crashed)
}
