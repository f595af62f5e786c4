package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/config"
	"justmemory/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Vector.Backend = "exact"
	cfg.Embedding.Provider = "small" // dim 384
	return cfg
}

func unitVec(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestUpsertAndKNNExactBackend(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	cfg := testConfig()

	vs, err := New(ctx, db, cfg)
	require.NoError(t, err)

	dim := cfg.Embedding.Dimension()
	require.NoError(t, vs.Upsert(ctx, "mem-1", "proj", unitVec(dim, 0)))
	require.NoError(t, vs.Upsert(ctx, "mem-2", "proj", unitVec(dim, 1)))

	results, err := vs.KNN(ctx, "proj", unitVec(dim, 0), 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "mem-1", results[0].MemoryID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	vs, err := New(ctx, db, testConfig())
	require.NoError(t, err)

	err = vs.Upsert(ctx, "mem-1", "proj", []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestCountAndDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	cfg := testConfig()
	vs, err := New(ctx, db, cfg)
	require.NoError(t, err)

	dim := cfg.Embedding.Dimension()
	require.NoError(t, vs.Upsert(ctx, "mem-1", "proj", unitVec(dim, 0)))

	n, err := vs.Count(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, vs.Delete(ctx, "mem-1"))

	n, err = vs.Count(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
