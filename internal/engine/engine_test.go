package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/config"
	"justmemory/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Vector.Backend = "exact"
	cfg.Consolidator.Interval = 0

	e, err := Boot(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCallMemoryStoreAndRecallRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	stored, err := e.Call(ctx, "memory_store", map[string]any{
		"content": "the build server lives at 10.0.0.5",
		"project": "proj",
	})
	require.NoError(t, err)
	mem, ok := stored.(store.Memory)
	require.True(t, ok)
	assert.NotEmpty(t, mem.ID)

	recalled, err := e.Call(ctx, "memory_recall", map[string]any{
		"id":      mem.ID,
		"project": "proj",
	})
	require.NoError(t, err)
	assert.Equal(t, mem.Content, recalled.(store.Memory).Content)
}

func TestCallUnknownToolReturnsValidationError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Call(ctx, "memory_teleport", nil)
	require.Error(t, err)
	resp := AsErrorResponse(err)
	assert.Equal(t, "ValidationError", resp.Error)
}

func TestCallMissingRequiredParamReturnsValidationError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Call(ctx, "memory_recall", map[string]any{"project": "proj"})
	require.Error(t, err)
	assert.Equal(t, "ValidationError", AsErrorResponse(err).Error)
}

func TestCallEntityAndHierarchyFlow(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Call(ctx, "memory_entity_type_define", map[string]any{"name": "database"})
	require.NoError(t, err)

	created, err := e.Call(ctx, "memory_entity_create", map[string]any{
		"name":        "postgres",
		"entity_type": "database",
		"project":     "proj",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres", created.(store.Entity).Name)

	hierarchy, err := e.Call(ctx, "memory_entity_type_hierarchy", map[string]any{"name": "database"})
	require.NoError(t, err)
	assert.NotNil(t, hierarchy)
}

func TestCallProjectSetChangesDefaultProject(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Call(ctx, "memory_project_set", map[string]any{"project": "scratch-proj"})
	require.NoError(t, err)
	assert.Equal(t, "scratch-proj", e.CurrentProject())

	got, err := e.Call(ctx, "memory_project_get", nil)
	require.NoError(t, err)
	assert.Equal(t, "scratch-proj", got.(map[string]any)["project"])
}

func TestCallBackupCreateAndListRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Call(ctx, "memory_store", map[string]any{
		"content": "remember this",
		"project": "proj",
	})
	require.NoError(t, err)

	_, err = e.Call(ctx, "memory_backup_create", map[string]any{"project": "proj"})
	require.NoError(t, err)

	listed, err := e.Call(ctx, "memory_backup_list", nil)
	require.NoError(t, err)
	files, ok := listed.([]string)
	require.True(t, ok)
	assert.Len(t, files, 1)
}
