package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/config"
	"justmemory/internal/gateway"
	"justmemory/internal/store"
	"justmemory/internal/vectorstore"
)

type recordingHook struct {
	calls []string
}

func (h *recordingHook) OnContentChanged(ctx context.Context, project, memoryID, content string) {
	h.calls = append(h.calls, memoryID)
}

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Vector.Backend = "exact"

	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	vs, err := vectorstore.New(ctx, db, cfg)
	require.NoError(t, err)

	gw := gateway.New(ctx, cfg) // no local model server in tests; embeds report NotAvailable

	return NewService(db, vs, gw), db
}

func TestStoreThenRecallIncrementsAccessCount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	m, err := svc.Store(ctx, "water boils at 100C at sea level", "fact", nil, 0.5, 0.5, "proj")
	require.NoError(t, err)
	assert.Equal(t, 0, m.AccessCount)
	assert.Equal(t, 1.0, m.Strength)

	recalled, err := svc.Recall(ctx, m.ID, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, recalled.AccessCount)
	assert.Greater(t, recalled.Strength, 1.0)
}

func TestStoreRejectsInvalidType(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Store(ctx, "hello", "not-a-type", nil, 0.5, 0.5, "proj")
	assert.Error(t, err)
}

func TestStoreRejectsTooManyTags(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tags := make([]string, maxTags+1)
	for i := range tags {
		tags[i] = "t"
	}
	_, err := svc.Store(ctx, "hello", "note", tags, 0.5, 0.5, "proj")
	assert.Error(t, err)
}

func TestUpdateEmptyIsError(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	m, err := svc.Store(ctx, "content", "note", nil, 0.5, 0.5, "proj")
	require.NoError(t, err)

	_, err = svc.Update(ctx, m.ID, "proj", map[string]any{})
	assert.Error(t, err)
}

func TestUpdateContentTriggersHook(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	hook := &recordingHook{}
	svc.SetContradictionHook(hook)

	m, err := svc.Store(ctx, "initial content", "note", nil, 0.5, 0.5, "proj")
	require.NoError(t, err)
	require.Len(t, hook.calls, 1)

	_, err = svc.Update(ctx, m.ID, "proj", map[string]any{"content": "updated content"})
	require.NoError(t, err)
	assert.Len(t, hook.calls, 2)
}

func TestConfirmAndContradictClampToUnitInterval(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	m, err := svc.Store(ctx, "content", "note", nil, 0.5, 0.95, "proj")
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, m.ID, "proj")
	require.NoError(t, err)
	assert.LessOrEqual(t, confirmed.Confidence, 1.0)

	for i := 0; i < 20; i++ {
		_, err = svc.Contradict(ctx, m.ID, "proj")
		require.NoError(t, err)
	}
	final, err := svc.Get(ctx, m.ID, "proj")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, final.Confidence, 0.0)
}

func TestSoftDeleteExcludesFromDefaultGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	m, err := svc.Store(ctx, "content", "note", nil, 0.5, 0.5, "proj")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, m.ID, "proj", false))

	_, err = svc.Get(ctx, m.ID, "proj")
	assert.Error(t, err)
}
