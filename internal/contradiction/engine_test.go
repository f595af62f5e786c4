package contradiction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/config"
	"justmemory/internal/gateway"
	"justmemory/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	gw := gateway.New(context.Background(), cfg) // no local model server in tests
	return New(db, gw), db
}

func insertMemory(t *testing.T, db *store.Store, id, project, content string, createdAt time.Time) store.Memory {
	t.Helper()
	m := store.Memory{
		ID: id, ProjectID: project, Content: content, Type: "fact",
		Importance: 0.5, Confidence: 0.5, Strength: 1.0,
		SourceCount: 1, LastAccessed: createdAt, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	require.NoError(t, db.InsertMemory(context.Background(), m))
	return m
}

func TestDetectNegationRequiresSharedContext(t *testing.T) {
	_, ok := detectNegation("the deploy pipeline is not working today", "the deploy pipeline is working today")
	assert.True(t, ok)

	_, ok = detectNegation("the sky is not blue", "bananas are yellow")
	assert.False(t, ok)
}

func TestDetectAntonymFindsOppositeTerms(t *testing.T) {
	f, ok := detectAntonym("the staging database is currently online and healthy", "the staging database is currently offline and healthy")
	require.True(t, ok)
	assert.Equal(t, TypeAntonym, f.Type)
}

func TestDetectFactualNumericDisagreement(t *testing.T) {
	f, ok := detectFactual("the retry limit of the worker queue is 3", "the retry limit of the worker queue is 5")
	require.True(t, ok)
	assert.Equal(t, TypeFactual, f.Type)
}

func TestDetectTemporalRequiresBothDatesAndDisagreement(t *testing.T) {
	_, ok := detectTemporal("on 2024-06-01 the api latency is 200ms", "on 2024-07-01 the api latency is 900ms")
	assert.True(t, ok)

	_, ok = detectTemporal("the api latency is 200ms", "on 2024-07-01 the api latency is 900ms")
	assert.False(t, ok)
}

func TestAutoResolveVersionUpdateIgnoresDifferingVersions(t *testing.T) {
	a := store.Memory{ID: "a", Content: "the cli tool is at v1.2.0 and supports plugins"}
	b := store.Memory{ID: "b", Content: "the cli tool is at v1.3.0 and supports plugins"}
	r, ok := autoResolveVersionUpdate("proj", a, b)
	require.True(t, ok)
	assert.Equal(t, store.ResolutionKeepBoth, r.Status)
}

func TestAutoResolveTemporalSupersessionPicksNewer(t *testing.T) {
	older := store.Memory{ID: "a", Content: "the production deployment region is us-east", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := store.Memory{ID: "b", Content: "the production deployment region is eu-west", CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	r, dropID, ok := autoResolveTemporalSupersession("proj", older, newer)
	require.True(t, ok)
	assert.Equal(t, store.ResolutionKeepSecond, r.Status)
	assert.Equal(t, "a", dropID)
}

func TestOnContentChangedCreatesEdgeForSymbolicContradiction(t *testing.T) {
	ctx := context.Background()
	eng, db := newTestEngine(t)

	t0 := time.Now().UTC()
	existing := insertMemory(t, db, "m1", "proj", "the build pipeline is not working after the migration", t0)
	insertMemory(t, db, "m2", "proj", "the build pipeline is working after the migration", t0)

	eng.OnContentChanged(ctx, "proj", "m2", "the build pipeline is working after the migration")

	edges, err := db.QueryEdges(ctx, existing.ID, "proj", store.DirectionBoth, false)
	require.NoError(t, err)
	require.NotEmpty(t, edges)

	refreshed, err := db.GetMemory(ctx, "m2", "proj", false)
	require.NoError(t, err)
	_ = refreshed
}

func TestResolveKeepFirstSoftDeletesSecond(t *testing.T) {
	ctx := context.Background()
	eng, db := newTestEngine(t)

	t0 := time.Now().UTC()
	insertMemory(t, db, "m1", "proj", "first", t0)
	insertMemory(t, db, "m2", "proj", "second", t0)
	require.NoError(t, db.InsertResolution(ctx, store.ContradictionResolution{
		ID: "r1", ProjectID: "proj", MemoryID1: "m1", MemoryID2: "m2",
		Status: store.ResolutionPending, CreatedAt: t0,
	}))

	r, err := eng.Resolve(ctx, "r1", store.ResolutionKeepFirst, "", "")
	require.NoError(t, err)
	assert.NotNil(t, r.ResolvedAt)

	_, err = db.GetMemory(ctx, "m2", "proj", false)
	assert.Error(t, err)
}

func TestResolveMissingMemoryIsReferentialIntegrityError(t *testing.T) {
	ctx := context.Background()
	eng, db := newTestEngine(t)

	t0 := time.Now().UTC()
	insertMemory(t, db, "m1", "proj", "first", t0)
	require.NoError(t, db.InsertResolution(ctx, store.ContradictionResolution{
		ID: "r2", ProjectID: "proj", MemoryID1: "m1", MemoryID2: "does-not-exist",
		Status: store.ResolutionPending, CreatedAt: t0,
	}))

	_, err := eng.Resolve(ctx, "r2", store.ResolutionKeepFirst, "", "")
	assert.Error(t, err)
}
