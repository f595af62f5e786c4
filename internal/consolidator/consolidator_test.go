package consolidator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"justmemory/internal/config"
	"justmemory/internal/contradiction"
	"justmemory/internal/gateway"
	"justmemory/internal/store"
)

func newTestConsolidator(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	gw := gateway.New(context.Background(), cfg)
	contra := contradiction.New(db, gw)

	return New(db, contra, cfg.Consolidator), db
}

func insertMemory(t *testing.T, db *store.Store, m store.Memory) {
	t.Helper()
	require.NoError(t, db.InsertMemory(context.Background(), m))
}

func TestApplyMemoryDecayWeakensStaleLowImportanceMemories(t *testing.T) {
	ctx := context.Background()
	s, db := newTestConsolidator(t)

	stale := time.Now().UTC().Add(-10 * 24 * time.Hour)
	insertMemory(t, db, store.Memory{
		ID: "m1", ProjectID: "proj", Content: "old low priority note", Type: "fact",
		Importance: 0.3, Confidence: 0.5, Strength: 1.0, LastAccessed: stale, CreatedAt: stale, UpdatedAt: stale,
	})
	insertMemory(t, db, store.Memory{
		ID: "m2", ProjectID: "proj", Content: "important recent fact", Type: "fact",
		Importance: 0.9, Confidence: 0.5, Strength: 1.0,
		LastAccessed: time.Now().UTC(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})

	decayed, err := s.ApplyMemoryDecay(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, decayed)

	m1, err := db.GetMemory(ctx, "m1", "proj", false)
	require.NoError(t, err)
	assert.Less(t, m1.Strength, 1.0)

	m2, err := db.GetMemory(ctx, "m2", "proj", false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m2.Strength)
}

func TestStrengthenActiveMemoriesBoostsFrequentlyAccessed(t *testing.T) {
	ctx := context.Background()
	s, db := newTestConsolidator(t)

	now := time.Now().UTC()
	insertMemory(t, db, store.Memory{
		ID: "m1", ProjectID: "proj", Content: "heavily used fact", Type: "fact",
		Importance: 0.5, Confidence: 0.5, Strength: 1.0, AccessCount: 20,
		LastAccessed: now, CreatedAt: now, UpdatedAt: now,
	})

	strengthened, err := s.StrengthenActiveMemories(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, strengthened)

	m1, err := db.GetMemory(ctx, "m1", "proj", false)
	require.NoError(t, err)
	assert.Greater(t, m1.Confidence, 0.5)
}

func TestFindSimilarMemoriesReportsWithoutMerging(t *testing.T) {
	ctx := context.Background()
	s, db := newTestConsolidator(t)

	now := time.Now().UTC()
	insertMemory(t, db, store.Memory{ID: "m1", ProjectID: "proj", Content: "a", Type: "fact", LastAccessed: now, CreatedAt: now, UpdatedAt: now})
	insertMemory(t, db, store.Memory{ID: "m2", ProjectID: "proj", Content: "b", Type: "fact", LastAccessed: now, CreatedAt: now, UpdatedAt: now})

	vec := []float32{1, 0, 0}
	require.NoError(t, db.UpsertVectorRow(ctx, "m1", "proj", vec))
	require.NoError(t, db.UpsertVectorRow(ctx, "m2", "proj", vec))

	pairs, err := s.FindSimilarMemories(ctx, "proj", 0.85)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.InDelta(t, 1.0, pairs[0].Similarity, 1e-9)

	m1, err := db.GetMemory(ctx, "m1", "proj", false)
	require.NoError(t, err)
	m2, err := db.GetMemory(ctx, "m2", "proj", false)
	require.NoError(t, err)
	assert.False(t, m1.DeletedAt != nil || m2.DeletedAt != nil)
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := newTestConsolidator(t)
	s.cfg.Interval = time.Millisecond
	s.cfg.IdleThreshold = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestCleanExpiredScratchpadDeletesPastExpiry(t *testing.T) {
	ctx := context.Background()
	s, db := newTestConsolidator(t)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.SetScratchpad(ctx, "proj", "stale_key", "v", &past))

	n, err := s.CleanExpiredScratchpad(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
