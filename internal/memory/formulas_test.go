package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"justmemory/internal/store"
)

func TestRetentionDecaysOverTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := retention(now, 1.0, now)
	assert.InDelta(t, 1.0, fresh, 1e-9)

	aged := retention(now.Add(-48*time.Hour), 1.0, now)
	assert.Less(t, aged, fresh)
	assert.Greater(t, aged, 0.0)
}

func TestRetentionHigherStrengthDecaysSlower(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	last := now.Add(-48 * time.Hour)
	weak := retention(last, 1.0, now)
	strong := retention(last, 5.0, now)
	assert.Greater(t, strong, weak)
}

func TestNextStrengthCapsAtTen(t *testing.T) {
	s := nextStrength(9.99, 1_000_000)
	assert.LessOrEqual(t, s, 10.0)
}

func TestNextStrengthIncreasesWithAccess(t *testing.T) {
	s1 := nextStrength(1.0, 2)
	s2 := nextStrength(1.0, 10)
	assert.Greater(t, s2, s1)
}

func TestEffectiveConfidenceFloorByImportance(t *testing.T) {
	now := time.Now().UTC()
	base := store.Memory{Confidence: 0, SourceCount: 1, ContradictionCount: 0, Strength: 1, LastAccessed: now}

	high := base
	high.Importance = 0.9
	assert.GreaterOrEqual(t, effectiveConfidence(high, now), 0.4)

	mid := base
	mid.Importance = 0.6
	assert.GreaterOrEqual(t, effectiveConfidence(mid, now), 0.2)

	low := base
	low.Importance = 0.1
	assert.GreaterOrEqual(t, effectiveConfidence(low, now), 0.1)
}

func TestEffectiveConfidenceContradictionPenaltySaturates(t *testing.T) {
	now := time.Now().UTC()
	m := store.Memory{Confidence: 0.9, SourceCount: 1, Strength: 1, LastAccessed: now, Importance: 0.5}

	m.ContradictionCount = 3
	atCap := effectiveConfidence(m, now)

	m.ContradictionCount = 10
	beyondCap := effectiveConfidence(m, now)

	assert.InDelta(t, atCap, beyondCap, 1e-9)
}

func TestEffectiveConfidenceClampedToUnitInterval(t *testing.T) {
	now := time.Now().UTC()
	m := store.Memory{Confidence: 1.0, SourceCount: 50, ContradictionCount: 0, Strength: 10, LastAccessed: now, Importance: 1.0}
	assert.LessOrEqual(t, effectiveConfidence(m, now), 1.0)
}
