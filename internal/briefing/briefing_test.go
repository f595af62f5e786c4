package briefing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/session"
	"justmemory/internal/store"
)

func newTestBriefing(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sess := session.New(db)
	return New(db, sess), db
}

func insertMemory(t *testing.T, db *store.Store, m store.Memory) {
	t.Helper()
	require.NoError(t, db.InsertMemory(context.Background(), m))
}

func TestBriefingIncludesCrashStateAndIncrementsSeq(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestBriefing(t)

	b1, err := s.Briefing(ctx, "proj")
	require.NoError(t, err)
	assert.False(t, b1.Crashed)
	assert.Equal(t, int64(1), b1.BriefingSeq)

	b2, err := s.Briefing(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, int64(2), b2.BriefingSeq)
}

func TestBriefingOrdersCoreMemoriesByEffectiveConfidence(t *testing.T) {
	ctx := context.Background()
	s, db := newTestBriefing(t)
	now := time.Now().UTC()

	insertMemory(t, db, store.Memory{
		ID: "low", ProjectID: "proj", Content: "low confidence", Type: "fact",
		Importance: 0.2, Confidence: 0.2, Strength: 1.0, SourceCount: 1,
		LastAccessed: now, CreatedAt: now, UpdatedAt: now,
	})
	insertMemory(t, db, store.Memory{
		ID: "high", ProjectID: "proj", Content: "high confidence core fact", Type: "fact",
		Importance: 0.9, Confidence: 0.95, Strength: 1.0, SourceCount: 3,
		LastAccessed: now, CreatedAt: now, UpdatedAt: now,
	})

	b, err := s.Briefing(ctx, "proj")
	require.NoError(t, err)
	require.NotEmpty(t, b.CoreMemories)
	assert.Equal(t, "high", b.CoreMemories[0].ID)
}

func TestStatsCountsByTypeAndContradictionEdges(t *testing.T) {
	ctx := context.Background()
	s, db := newTestBriefing(t)
	now := time.Now().UTC()

	insertMemory(t, db, store.Memory{ID: "m1", ProjectID: "proj", Content: "a", Type: "fact", Confidence: 0.5, LastAccessed: now, CreatedAt: now, UpdatedAt: now})
	insertMemory(t, db, store.Memory{ID: "m2", ProjectID: "proj", Content: "b", Type: "preference", Confidence: 0.7, LastAccessed: now, CreatedAt: now, UpdatedAt: now})

	require.NoError(t, db.InsertEdge(ctx, store.Edge{
		ID: "e1", ProjectID: "proj", FromID: "m1", ToID: "m2", RelationType: "contradiction_factual",
		Confidence: 1.0, ValidFrom: now, CreatedAt: now,
	}))

	st, err := s.Stats(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 2, st.MemoriesNonDeleted)
	assert.Equal(t, 1, st.ByType["fact"])
	assert.Equal(t, 1, st.ByType["preference"])
	assert.Equal(t, 1, st.EdgesContradiction)
}

func TestSuggestFromContextEmptyOnNoLongWords(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestBriefing(t)

	hits, err := s.SuggestFromContext(ctx, "is a to", "proj", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSuggestFromContextMatchesKeywords(t *testing.T) {
	ctx := context.Background()
	s, db := newTestBriefing(t)
	now := time.Now().UTC()

	insertMemory(t, db, store.Memory{
		ID: "m1", ProjectID: "proj", Content: "deploy pipeline uses kubernetes", Type: "fact",
		LastAccessed: now, CreatedAt: now, UpdatedAt: now,
	})
	insertMemory(t, db, store.Memory{
		ID: "m2", ProjectID: "proj", Content: "bananas and oranges", Type: "fact",
		LastAccessed: now, CreatedAt: now, UpdatedAt: now,
	})

	hits, err := s.SuggestFromContext(ctx, "debugging the kubernetes deploy pipeline", "proj", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].Memory.ID)
}
