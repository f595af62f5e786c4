package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/config"
	"justmemory/internal/gateway"
	"justmemory/internal/store"
	"justmemory/internal/vectorstore"
)

func newTestSearch(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Vector.Backend = "exact"

	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	vs, err := vectorstore.New(ctx, db, cfg)
	require.NoError(t, err)
	gw := gateway.New(ctx, cfg)

	return New(db, vs, gw), db
}

func insertMemory(t *testing.T, db *store.Store, id, content string) store.Memory {
	t.Helper()
	t0 := time.Now().UTC()
	m := store.Memory{
		ID: id, ProjectID: "proj", Content: content, Type: "fact",
		Importance: 0.5, Confidence: 0.5, Strength: 1.0,
		SourceCount: 1, LastAccessed: t0, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, db.InsertMemory(context.Background(), m))
	return m
}

func TestKeywordSearchFindsMatch(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestSearch(t)
	insertMemory(t, db, "m1", "the deploy pipeline runs on kubernetes")
	insertMemory(t, db, "m2", "bananas are a good source of potassium")

	results, err := svc.Keyword(ctx, "proj", "kubernetes", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Memory.ID)
}

func TestFuseRRFCombinesRankedLists(t *testing.T) {
	a := []Result{{Memory: store.Memory{ID: "x"}}, {Memory: store.Memory{ID: "y"}}}
	b := []Result{{Memory: store.Memory{ID: "y"}}, {Memory: store.Memory{ID: "z"}}}
	fused := fuseRRF(a, b, 10)
	require.NotEmpty(t, fused)
	assert.Equal(t, "y", fused[0].Memory.ID) // appears in both lists, ranks highest
}

func TestSpreadActivationDecaysWithHops(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestSearch(t)
	insertMemory(t, db, "a", "root")
	insertMemory(t, db, "b", "one hop away")
	insertMemory(t, db, "c", "two hops away")

	require.NoError(t, db.InsertEdge(ctx, store.Edge{
		ID: "e1", ProjectID: "proj", FromID: "a", ToID: "b", RelationType: "relates_to",
		Confidence: 1.0, ValidFrom: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, db.InsertEdge(ctx, store.Edge{
		ID: "e2", ProjectID: "proj", FromID: "b", ToID: "c", RelationType: "relates_to",
		Confidence: 1.0, ValidFrom: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}))

	activations, err := svc.Spread(ctx, "proj", []string{"a"}, DefaultActivationParams())
	require.NoError(t, err)

	byID := make(map[string]Activation)
	for _, a := range activations {
		byID[a.MemoryID] = a
	}
	require.Contains(t, byID, "b")
	assert.Greater(t, byID["a"].Score, byID["b"].Score)
}
