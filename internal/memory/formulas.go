package memory

import (
	"math"
	"time"

	"justmemory/internal/store"
)

// retentionDecayConstant is K in exp(-hours_since * K / (strength * 24)).
const retentionDecayConstant = 0.5

// retention returns an informational decay score in (0, 1], used for
// display and decay triggers. It is never stored on the row.
func retention(lastAccessed time.Time, strength float64, now time.Time) float64 {
	if strength <= 0 {
		strength = 0.01
	}
	hoursSince := now.Sub(lastAccessed).Hours()
	if hoursSince < 0 {
		hoursSince = 0
	}
	return math.Exp(-hoursSince * retentionDecayConstant / (strength * 24))
}

// nextStrength applies the strengthening rule triggered by a recall,
// bounded at 10.
func nextStrength(currentStrength float64, accessCountAfter int) float64 {
	next := currentStrength + 0.2*math.Log(float64(accessCountAfter)+1)
	if next > 10 {
		return 10
	}
	return next
}

// sourceBoostCap is the source count past which the multiplicative boost
// stops growing.
const sourceBoostCap = 5

// contradictionPenaltyCap is the number of contradictions past which the
// penalty no longer increases, per spec's saturation requirement.
const contradictionPenaltyCap = 3

// effectiveConfidence composes the base confidence with source-count boost,
// contradiction penalty, a small recency term, and an importance-dependent
// floor. The shape (monotone, bounded, floored, penalty-capped) is fixed by
// spec; the coefficients below are this implementation's calibration.
func effectiveConfidence(m store.Memory, now time.Time) float64 {
	sources := m.SourceCount
	if sources > sourceBoostCap {
		sources = sourceBoostCap
	}
	sourceBoost := 1.0 + 0.08*float64(sources-1)

	contradictions := m.ContradictionCount
	if contradictions > contradictionPenaltyCap {
		contradictions = contradictionPenaltyCap
	}
	penalty := 0.06 * float64(contradictions)

	recency := 0.05 * retention(m.LastAccessed, m.Strength, now)

	raw := m.Confidence*sourceBoost - penalty + recency

	floor := 0.1
	switch {
	case m.Importance >= 0.8:
		floor = 0.4
	case m.Importance >= 0.5:
		floor = 0.2
	}
	if raw < floor {
		raw = floor
	}
	return clamp01(raw)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// EffectiveConfidence is the exported entry point used by Search & other
// components that rank by this derived score without owning a Memory row's
// lifecycle.
func EffectiveConfidence(m store.Memory, now time.Time) float64 {
	return effectiveConfidence(m, now)
}

// Retention is the exported entry point for the informational decay score.
func Retention(lastAccessed time.Time, strength float64, now time.Time) float64 {
	return retention(lastAccessed, strength, now)
}
