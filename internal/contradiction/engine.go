package contradiction

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"justmemory/internal/errs"
	"justmemory/internal/gateway"
	"justmemory/internal/logging"
	"justmemory/internal/store"
)

// Thresholds calibrate the detection pipeline, per spec Section 4.5's
// "≈" values; they are tunable constants, not algorithm shape.
const (
	semanticSimThreshold  = 0.75
	nliSimThreshold       = 0.85
	nliConfidenceThresh   = 0.85
	temporalSupersedeDays = 30
)

// Engine is the Contradiction Engine: it detects disagreements between
// memory contents, records them as graph edges, and resolves them.
type Engine struct {
	db *store.Store
	gw *gateway.Gateway
}

// New builds the Contradiction Engine over the shared storage layer and
// model gateway.
func New(db *store.Store, gw *gateway.Gateway) *Engine {
	return &Engine{db: db, gw: gw}
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func newResolutionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func now() time.Time { return time.Now().UTC() }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Compare runs the full detection pipeline over a (new, existing) pair of
// contents and returns every contradiction found. A strong entailment from
// the NLI step short-circuits the remaining checks with no finding.
func (e *Engine) Compare(ctx context.Context, newContent, existingContent string) []Finding {
	sim, haveSim := e.semanticSimilarity(ctx, newContent, existingContent)
	if haveSim && sim < semanticSimThreshold {
		return nil
	}

	var findings []Finding
	if f, ok := detectNegation(newContent, existingContent); ok {
		f.Similarity = sim
		findings = append(findings, f)
	}
	if f, ok := detectAntonym(newContent, existingContent); ok {
		f.Similarity = sim
		findings = append(findings, f)
	}
	if f, ok := detectFactual(newContent, existingContent); ok {
		f.Similarity = sim
		findings = append(findings, f)
	}
	if f, ok := detectTemporal(newContent, existingContent); ok {
		f.Similarity = sim
		findings = append(findings, f)
	}

	if !haveSim || sim >= nliSimThreshold {
		verdict, ok := e.classifyNLI(ctx, newContent, existingContent)
		if ok {
			if verdict.Label == gateway.NLIEntailment && verdict.Score >= nliConfidenceThresh {
				return nil
			}
			if verdict.Label == gateway.NLIContradiction && verdict.Score >= nliConfidenceThresh {
				findings = append(findings, Finding{
					Type:        TypeNLI,
					Similarity:  sim,
					Explanation: "the model gateway's NLI classifier judged these statements contradictory",
					Suggested:   ActionReview,
				})
			}
		}
	}
	return findings
}

func (e *Engine) semanticSimilarity(ctx context.Context, a, b string) (float64, bool) {
	ra := e.gw.Embed(ctx, a)
	if !ra.Ok() {
		return 0, false
	}
	rb := e.gw.Embed(ctx, b)
	if !rb.Ok() {
		return 0, false
	}
	return cosineSimilarity(ra.Value, rb.Value), true
}

func (e *Engine) classifyNLI(ctx context.Context, premise, hypothesis string) (gateway.NLIVerdict, bool) {
	r := e.gw.ClassifyNLI(ctx, premise, hypothesis)
	if !r.Ok() {
		return gateway.NLIVerdict{}, false
	}
	return r.Value, true
}

// OnContentChanged implements memory.ContradictionHook: it compares the
// just-changed memory's content against every other live memory in its
// project and records a contradiction_<type> edge for each finding. This
// runs synchronously so edges for a just-stored memory are observable no
// later than the completion of the triggering store/update call.
func (e *Engine) OnContentChanged(ctx context.Context, project, memoryID, content string) {
	candidates, err := e.db.AllMemoriesForProject(ctx, project)
	if err != nil {
		logging.Get(logging.CategoryContradiction).Warn("contradiction scan: list memories for %s: %v", project, err)
		return
	}
	for _, other := range candidates {
		if other.ID == memoryID {
			continue
		}
		findings := e.Compare(ctx, content, other.Content)
		for _, f := range findings {
			if err := e.recordEdge(ctx, project, memoryID, other.ID, f); err != nil {
				logging.Get(logging.CategoryContradiction).Warn("contradiction edge %s<->%s: %v", memoryID, other.ID, err)
				continue
			}
			if err := e.db.AdjustContradictionCount(ctx, memoryID, 1); err != nil {
				logging.Get(logging.CategoryContradiction).Warn("adjust contradiction_count for %s: %v", memoryID, err)
			}
			logging.Contradiction("detected %s contradiction between %s and %s (sim=%.2f)", f.Type, memoryID, other.ID, f.Similarity)
		}
	}
}

func (e *Engine) recordEdge(ctx context.Context, project, from, to string, f Finding) error {
	existing, err := e.db.QueryEdges(ctx, from, project, store.DirectionBoth, true)
	if err != nil {
		return err
	}
	relation := "contradiction_" + string(f.Type)
	for _, edge := range existing {
		if edge.RelationType == relation && ((edge.FromID == from && edge.ToID == to) || (edge.FromID == to && edge.ToID == from)) {
			return nil
		}
	}
	edge := store.Edge{
		ID:           newID(),
		ProjectID:    project,
		FromID:       from,
		ToID:         to,
		RelationType: relation,
		Confidence:   f.Similarity,
		Metadata: map[string]any{
			"explanation": f.Explanation,
			"suggested":   string(f.Suggested),
		},
		ValidFrom: now(),
		CreatedAt: now(),
	}
	return e.db.InsertEdge(ctx, edge)
}

// Scan walks contradiction edges lacking a resolution, applies the two
// auto-resolution heuristics, and creates a pending resolution for
// everything else.
func (e *Engine) Scan(ctx context.Context, project string, auto bool) (int, error) {
	edges, err := e.db.EdgesByRelationPrefix(ctx, project, "contradiction_", false)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, edge := range edges {
		_, found, err := e.db.FindResolutionForPair(ctx, project, edge.FromID, edge.ToID)
		if err != nil {
			return created, err
		}
		if found {
			continue
		}
		m1, err1 := e.db.GetMemory(ctx, edge.FromID, project, true)
		m2, err2 := e.db.GetMemory(ctx, edge.ToID, project, true)
		if err1 != nil || err2 != nil {
			continue
		}
		if auto {
			if r, ok := autoResolveVersionUpdate(project, m1, m2); ok {
				if err := e.db.InsertAutoResolution(ctx, r); err != nil {
					return created, err
				}
				created++
				continue
			}
			if r, skip, ok := autoResolveTemporalSupersession(project, m1, m2); ok {
				if err := e.db.InsertAutoResolution(ctx, r); err != nil {
					return created, err
				}
				if err := e.db.SoftDeleteMemory(ctx, skip); err != nil {
					return created, err
				}
				created++
				continue
			}
		}
		pending := store.ContradictionResolution{
			ID:        newResolutionID(),
			ProjectID: project,
			MemoryID1: edge.FromID,
			MemoryID2: edge.ToID,
			Status:    store.ResolutionPending,
			CreatedAt: now(),
		}
		if err := e.db.InsertResolution(ctx, pending); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// autoResolveVersionUpdate implements the version-update false-positive
// heuristic: both contents carry version tokens that differ but otherwise
// describe the same thing.
func autoResolveVersionUpdate(project string, a, b store.Memory) (store.ContradictionResolution, bool) {
	va, vb, ok := versionTokensDiffer(a.Content, b.Content)
	if !ok {
		return store.ContradictionResolution{}, false
	}
	if sharedContentWordsExcludingVersion(a.Content, b.Content, va, vb) < minSharedContentWords {
		return store.ContradictionResolution{}, false
	}
	return store.ContradictionResolution{
		ID:        newResolutionID(),
		ProjectID: project,
		MemoryID1: a.ID,
		MemoryID2: b.ID,
		Status:    store.ResolutionKeepBoth,
		Note:      "version update",
		CreatedAt: now(),
	}, true
}

// autoResolveTemporalSupersession implements the temporal-supersession
// heuristic: created_at timestamps differ by ≥30 days over shared context,
// so the older memory is superseded. Returns the id to soft-delete.
func autoResolveTemporalSupersession(project string, a, b store.Memory) (store.ContradictionResolution, string, bool) {
	diff := a.CreatedAt.Sub(b.CreatedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff < temporalSupersedeDays*24*time.Hour {
		return store.ContradictionResolution{}, "", false
	}
	if sharedWords(contentWords(a.Content, nil), contentWords(b.Content, nil)) < minSharedContentWords {
		return store.ContradictionResolution{}, "", false
	}
	newer, older := a, b
	status := store.ResolutionKeepFirst
	if b.CreatedAt.After(a.CreatedAt) {
		newer, older = b, a
		status = store.ResolutionKeepSecond
	}
	chosen := newer.ID
	return store.ContradictionResolution{
		ID:           newResolutionID(),
		ProjectID:    project,
		MemoryID1:    a.ID,
		MemoryID2:    b.ID,
		Status:       status,
		ChosenMemory: &chosen,
		Note:         "temporal supersession",
		CreatedAt:    now(),
	}, older.ID, true
}

// Resolve applies a resolution decision, per Section 4.5's per-kind
// semantics. A resolution that is no longer pending is rejected before any
// memory is changed. The memory changes and the status update are separate
// writes, not one transaction: a failure part-way leaves the earlier writes
// in place.
func (e *Engine) Resolve(ctx context.Context, id string, kind store.ResolutionStatus, note string, mergedContent string) (store.ContradictionResolution, error) {
	r, err := e.db.GetResolution(ctx, id)
	if err != nil {
		return store.ContradictionResolution{}, err
	}
	if r.Status != store.ResolutionPending {
		return store.ContradictionResolution{}, errs.New(errs.InvariantViolation, "resolution %s already resolved as %s", id, r.Status)
	}

	m1, err := e.db.GetMemory(ctx, r.MemoryID1, r.ProjectID, true)
	if err != nil {
		return store.ContradictionResolution{}, errs.Wrap(errs.ReferentialIntegrityError, err, "resolve %s: memory_id_1 missing", id)
	}
	m2, err := e.db.GetMemory(ctx, r.MemoryID2, r.ProjectID, true)
	if err != nil {
		return store.ContradictionResolution{}, errs.Wrap(errs.ReferentialIntegrityError, err, "resolve %s: memory_id_2 missing", id)
	}

	var chosen *string
	switch kind {
	case store.ResolutionKeepFirst:
		if err := e.db.SoftDeleteMemory(ctx, m2.ID); err != nil {
			return store.ContradictionResolution{}, err
		}
		chosen = &m1.ID
	case store.ResolutionKeepSecond:
		if err := e.db.SoftDeleteMemory(ctx, m1.ID); err != nil {
			return store.ContradictionResolution{}, err
		}
		chosen = &m2.ID
	case store.ResolutionMerge:
		content := mergedContent
		if content == "" {
			content = m1.Content
		}
		confidence := m1.Confidence
		if confidence < 0.7 {
			confidence = 0.7
		}
		t := now()
		merged := store.Memory{
			ID:           newID(),
			ProjectID:    m1.ProjectID,
			Content:      content,
			Type:         m1.Type,
			Tags:         m1.Tags,
			Importance:   m1.Importance,
			Confidence:   confidence,
			Strength:     1.0,
			SourceCount:  m1.SourceCount + m2.SourceCount,
			LastAccessed: t,
			CreatedAt:    t,
			UpdatedAt:    t,
		}
		if err := e.db.InsertMemory(ctx, merged); err != nil {
			return store.ContradictionResolution{}, err
		}
		if err := e.db.SoftDeleteMemory(ctx, m1.ID); err != nil {
			return store.ContradictionResolution{}, err
		}
		if err := e.db.SoftDeleteMemory(ctx, m2.ID); err != nil {
			return store.ContradictionResolution{}, err
		}
		chosen = &merged.ID
	case store.ResolutionDeleteBoth:
		if err := e.db.SoftDeleteMemory(ctx, m1.ID); err != nil {
			return store.ContradictionResolution{}, err
		}
		if err := e.db.SoftDeleteMemory(ctx, m2.ID); err != nil {
			return store.ContradictionResolution{}, err
		}
	case store.ResolutionKeepBoth:
		// no-op on the memories themselves.
	default:
		return store.ContradictionResolution{}, errs.New(errs.ValidationError, "unknown resolution kind %q", kind)
	}

	if err := e.db.ResolveResolution(ctx, id, kind, chosen, note); err != nil {
		return store.ContradictionResolution{}, err
	}
	return e.db.GetResolution(ctx, id)
}

// Pending lists resolutions awaiting action in project.
func (e *Engine) Pending(ctx context.Context, project string) ([]store.ContradictionResolution, error) {
	return e.db.PendingResolutions(ctx, project)
}

// nonDecrementingResolutions are the statuses recalibrate treats as having
// actually resolved the contradiction, so edges in these states no longer
// count toward contradiction_count.
var nonDecrementingResolutions = map[store.ResolutionStatus]bool{
	store.ResolutionKeepFirst:  true,
	store.ResolutionKeepSecond: true,
	store.ResolutionMerge:      true,
	store.ResolutionDeleteBoth: true,
}

// Recalibrate recomputes every memory's contradiction_count in project from
// the set of incident contradiction edges whose resolution does not fall
// in nonDecrementingResolutions, correcting drift from partial updates.
func (e *Engine) Recalibrate(ctx context.Context, project string) error {
	edges, err := e.db.EdgesByRelationPrefix(ctx, project, "contradiction_", true)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, edge := range edges {
		r, found, err := e.db.FindResolutionForPair(ctx, project, edge.FromID, edge.ToID)
		if err != nil {
			return err
		}
		if found && nonDecrementingResolutions[r.Status] {
			continue
		}
		counts[edge.FromID]++
		counts[edge.ToID]++
	}
	memories, err := e.db.AllMemoriesForProject(ctx, project)
	if err != nil {
		return err
	}
	for _, m := range memories {
		if err := e.db.SetContradictionCount(ctx, m.ID, counts[m.ID]); err != nil {
			return err
		}
	}
	return nil
}
