package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSnapshotAndRestoreMergeRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, db.InsertMemory(ctx, Memory{
		ID: "m1", ProjectID: "proj", Content: "hello", Type: "fact",
		Importance: 0.5, Confidence: 0.5, Strength: 1.0, SourceCount: 1,
		LastAccessed: now, CreatedAt: now, UpdatedAt: now,
	}))
	_, err := db.UpsertEntity(ctx, Entity{
		ID: "e1", ProjectID: "proj", Name: "acme", EntityType: "organization",
		Observations: []string{"makes widgets"}, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	backupDir := filepath.Join(t.TempDir(), "backups")
	path, err := db.Snapshot(ctx, backupDir, "proj")
	require.NoError(t, err)
	assert.FileExists(t, path)

	other := newTestStore(t)
	artifact, err := other.Restore(ctx, backupDir, path, RestoreMerge)
	require.NoError(t, err)
	wantCounts := map[string]int{
		"memories": 1, "entities": 1, "edges": 0, "relations": 0,
		"contradiction_resolutions": 0, "scheduled_tasks": 0, "scratchpad": 0,
	}
	if diff := cmp.Diff(wantCounts, artifact.Counts); diff != "" {
		t.Errorf("backup counts mismatch (-want +got):\n%s", diff)
	}

	got, err := other.GetMemory(ctx, "m1", "proj", false)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
}

func TestRestoreReplaceClearsExistingProjectRows(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, db.InsertMemory(ctx, Memory{
		ID: "old", ProjectID: "proj", Content: "stale", Type: "fact",
		Importance: 0.5, Confidence: 0.5, Strength: 1.0, SourceCount: 1,
		LastAccessed: now, CreatedAt: now, UpdatedAt: now,
	}))

	backupDir := filepath.Join(t.TempDir(), "backups")
	artifact := BackupArtifact{
		Version:   backupFormatVersion,
		ProjectID: "proj",
		CreatedAt: now,
		Data: BackupData{
			Memories: []Memory{{
				ID: "new", ProjectID: "proj", Content: "fresh", Type: "fact",
				Importance: 0.5, Confidence: 0.5, Strength: 1.0, SourceCount: 1,
				LastAccessed: now, CreatedAt: now, UpdatedAt: now,
			}},
		},
	}
	require.NoError(t, os.MkdirAll(backupDir, 0755))
	raw, err := json.Marshal(artifact)
	require.NoError(t, err)
	path := filepath.Join(backupDir, "proj_manual.json")
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = db.Restore(ctx, backupDir, path, RestoreReplace)
	require.NoError(t, err)

	_, err = db.GetMemory(ctx, "old", "proj", false)
	assert.Error(t, err)
	got, err := db.GetMemory(ctx, "new", "proj", false)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Content)
}

func TestRestoreRejectsPathOutsideBackupDir(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	backupDir := filepath.Join(t.TempDir(), "backups")

	_, err := db.Restore(ctx, backupDir, filepath.Join(t.TempDir(), "elsewhere.json"), RestoreMerge)
	assert.Error(t, err)
}

func TestRestoreRejectsArtifactMissingDataSection(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	backupDir := filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0755))

	path := filepath.Join(backupDir, "proj_nodata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"project_id":"proj"}`), 0644))

	_, err := db.Restore(ctx, backupDir, path, RestoreMerge)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestRestoreRejectsArtifactMissingVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	backupDir := filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0755))

	path := filepath.Join(backupDir, "proj_noversion.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"project_id":"proj","data":{}}`), 0644))

	_, err := db.Restore(ctx, backupDir, path, RestoreMerge)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}
