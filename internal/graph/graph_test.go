package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/store"
)

func newTestGraph(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	g, err := New(db)
	require.NoError(t, err)
	return g
}

func TestSeedDefaultEntityTypesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	require.NoError(t, g.SeedDefaultEntityTypes(ctx))
	require.NoError(t, g.SeedDefaultEntityTypes(ctx))

	for _, name := range DefaultEntityTypes {
		_, err := g.db.GetEntityType(ctx, name)
		assert.NoError(t, err)
	}
}

func TestCreateEntityMergesObservations(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	_, err := g.CreateEntity(ctx, "acme-corp", "organization", []string{"makes widgets"}, "proj")
	require.NoError(t, err)

	e, err := g.CreateEntity(ctx, "acme-corp", "organization", []string{"makes widgets", "hq in reno"}, "proj")
	require.NoError(t, err)
	assert.Len(t, e.Observations, 2)
}

func TestDefineEntityTypeRejectsCycle(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	require.NoError(t, g.DefineEntityType(ctx, "a", nil, ""))
	b := "a"
	require.NoError(t, g.DefineEntityType(ctx, "b", &b, ""))

	bParent := "b"
	err := g.DefineEntityType(ctx, "a", &bParent, "")
	assert.Error(t, err)
}

func TestHierarchyOfReturnsAncestorsAndDescendants(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	require.NoError(t, g.DefineEntityType(ctx, "animal", nil, ""))
	animal := "animal"
	require.NoError(t, g.DefineEntityType(ctx, "mammal", &animal, ""))
	mammal := "mammal"
	require.NoError(t, g.DefineEntityType(ctx, "dog", &mammal, ""))

	h, err := g.HierarchyOf(ctx, "mammal")
	require.NoError(t, err)
	assert.Equal(t, []string{"animal"}, h.Ancestors)
	assert.Equal(t, []string{"dog"}, h.Descendants)
}

func TestSearchByTypeHierarchyExpandsToDescendants(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	require.NoError(t, g.DefineEntityType(ctx, "technology", nil, ""))
	tech := "technology"
	require.NoError(t, g.DefineEntityType(ctx, "database", &tech, ""))

	_, err := g.CreateEntity(ctx, "postgres", "database", []string{"relational"}, "proj")
	require.NoError(t, err)

	results, err := g.SearchByTypeHierarchy(ctx, "proj", "technology", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "postgres", results[0].Name)
}
