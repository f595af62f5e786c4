// Package memory implements the Memory Core: the component that exclusively
// owns memory rows and their embeddings, and the pure retention/strength/
// confidence formulas everything else reads by (Search & Activation, the
// Briefing component).
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"justmemory/internal/errs"
	"justmemory/internal/gateway"
	"justmemory/internal/logging"
	"justmemory/internal/store"
	"justmemory/internal/vectorstore"
)

const (
	maxContentLength = 100_000
	maxTags          = 20
	maxTagLength     = 100

	confirmBoost      = 0.1
	contradictPenalty = 0.1
)

var validTypes = map[string]bool{
	"fact": true, "event": true, "observation": true, "preference": true,
	"note": true, "decision": true, "procedure": true,
}

// ContradictionHook is invoked proactively after a memory is stored or its
// content changes, so the Memory Core never imports the Contradiction
// Engine directly (the engine facade wires the two together).
type ContradictionHook interface {
	OnContentChanged(ctx context.Context, project, memoryID, content string)
}

// Service is the Memory Core.
type Service struct {
	db   *store.Store
	vec  *vectorstore.Store
	gw   *gateway.Gateway
	hook ContradictionHook
}

// NewService constructs the Memory Core. hook may be nil during early boot
// before the Contradiction Engine is wired; SetContradictionHook attaches
// it once it exists.
func NewService(db *store.Store, vec *vectorstore.Store, gw *gateway.Gateway) *Service {
	return &Service{db: db, vec: vec, gw: gw}
}

// SetContradictionHook attaches the Contradiction Engine callback.
func (s *Service) SetContradictionHook(h ContradictionHook) {
	s.hook = h
}

func newMemoryID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func now() time.Time { return time.Now().UTC() }

// Store validates and inserts a new memory, then asynchronously embeds and
// upserts it into the Vector Store, and proactively runs contradiction
// detection. Ingestion is durable before embedding completes.
func (s *Service) Store(ctx context.Context, content, memType string, tags []string, importance, confidence float64, project string) (store.Memory, error) {
	if err := validateContent(content); err != nil {
		return store.Memory{}, err
	}
	if !validTypes[memType] {
		return store.Memory{}, errs.New(errs.ValidationError, "invalid memory type %q", memType)
	}
	if err := validateTags(tags); err != nil {
		return store.Memory{}, err
	}
	if importance < 0 || importance > 1 {
		return store.Memory{}, errs.New(errs.ValidationError, "importance must be in [0,1]")
	}
	if confidence < 0 || confidence > 1 {
		return store.Memory{}, errs.New(errs.ValidationError, "confidence must be in [0,1]")
	}

	t := now()
	m := store.Memory{
		ID:                 newMemoryID(),
		ProjectID:          project,
		Content:            content,
		Type:               memType,
		Tags:               tags,
		Importance:         importance,
		Confidence:         confidence,
		Strength:           1.0,
		AccessCount:        0,
		SourceCount:        1,
		ContradictionCount: 0,
		LastAccessed:       t,
		CreatedAt:          t,
		UpdatedAt:          t,
	}
	if err := s.db.InsertMemory(ctx, m); err != nil {
		return store.Memory{}, err
	}
	logging.Memory("stored memory %s (project=%s, type=%s)", m.ID, project, memType)

	s.embedAndIndexAsync(project, m.ID, content)

	if s.hook != nil {
		s.hook.OnContentChanged(ctx, project, m.ID, content)
	}

	return m, nil
}

// embedAndIndexAsync runs the embed+upsert off the caller's goroutine so
// store() returns as soon as the row is durable.
func (s *Service) embedAndIndexAsync(project, memoryID, content string) {
	go func() {
		bgCtx := context.Background()
		result := s.gw.Embed(bgCtx, content)
		if !result.Ok() {
			logging.MemoryDebug("embedding not available for memory %s (status=%v), retrieval will tolerate missing embedding", memoryID, result.Status)
			return
		}
		if err := s.vec.Upsert(bgCtx, memoryID, project, result.Value); err != nil {
			logging.Get(logging.CategoryMemory).Warn("failed to upsert embedding for memory %s: %v", memoryID, err)
		}
	}()
}

// Recall fetches a memory, records an access, and recomputes strength.
func (s *Service) Recall(ctx context.Context, id, project string) (store.Memory, error) {
	m, err := s.db.GetMemory(ctx, id, project, false)
	if err != nil {
		return store.Memory{}, err
	}
	nextAccessCount := m.AccessCount + 1
	nextStr := nextStrength(m.Strength, nextAccessCount)
	if err := s.db.TouchMemory(ctx, id, nextStr); err != nil {
		return store.Memory{}, err
	}
	m.AccessCount = nextAccessCount
	m.Strength = nextStr
	m.LastAccessed = now()
	return m, nil
}

// updatableFields is the whitelist accepted by Update.
var updatableFields = map[string]bool{
	"content": true, "type": true, "tags": true, "importance": true, "confidence": true,
}

// Update applies a whitelisted partial update. A content change re-embeds
// and re-runs contradiction detection.
func (s *Service) Update(ctx context.Context, id, project string, updates map[string]any) (store.Memory, error) {
	if len(updates) == 0 {
		return store.Memory{}, errs.New(errs.ValidationError, "update must specify at least one field")
	}
	for k := range updates {
		if !updatableFields[k] {
			return store.Memory{}, errs.New(errs.ValidationError, "field %q is not updatable", k)
		}
	}
	if content, ok := updates["content"].(string); ok {
		if err := validateContent(content); err != nil {
			return store.Memory{}, err
		}
	}
	if memType, ok := updates["type"].(string); ok && !validTypes[memType] {
		return store.Memory{}, errs.New(errs.ValidationError, "invalid memory type %q", memType)
	}
	if tags, ok := updates["tags"].([]string); ok {
		if err := validateTags(tags); err != nil {
			return store.Memory{}, err
		}
	}

	if err := s.db.UpdateMemoryFields(ctx, id, updates); err != nil {
		return store.Memory{}, err
	}
	m, err := s.db.GetMemory(ctx, id, project, false)
	if err != nil {
		return store.Memory{}, err
	}

	if newContent, changed := updates["content"].(string); changed {
		s.embedAndIndexAsync(project, id, newContent)
		if s.hook != nil {
			s.hook.OnContentChanged(ctx, project, id, newContent)
		}
	}
	return m, nil
}

// Delete soft-deletes (default) or permanently removes a memory.
func (s *Service) Delete(ctx context.Context, id, project string, permanent bool) error {
	if permanent {
		if err := s.vec.Delete(ctx, id); err != nil {
			logging.Get(logging.CategoryMemory).Warn("failed to delete embedding for memory %s: %v", id, err)
		}
		return s.db.HardDeleteMemory(ctx, id)
	}
	return s.db.SoftDeleteMemory(ctx, id)
}

// List returns memories in project ordered by most recently updated.
func (s *Service) List(ctx context.Context, project string, limit int, includeDeleted bool) ([]store.Memory, error) {
	return s.db.ListMemories(ctx, project, limit, includeDeleted)
}

// Confirm boosts base confidence by a fixed amount, clamped to [0,1].
func (s *Service) Confirm(ctx context.Context, id, project string) (store.Memory, error) {
	return s.adjustConfidence(ctx, id, project, confirmBoost)
}

// Contradict penalizes base confidence by a fixed amount, clamped to [0,1].
func (s *Service) Contradict(ctx context.Context, id, project string) (store.Memory, error) {
	return s.adjustConfidence(ctx, id, project, -contradictPenalty)
}

func (s *Service) adjustConfidence(ctx context.Context, id, project string, delta float64) (store.Memory, error) {
	m, err := s.db.GetMemory(ctx, id, project, false)
	if err != nil {
		return store.Memory{}, err
	}
	next := clamp01(m.Confidence + delta)
	if err := s.db.SetConfidence(ctx, id, next); err != nil {
		return store.Memory{}, err
	}
	m.Confidence = next
	return m, nil
}

// Get fetches a memory without recording an access (used by other
// components that need a row without touching recall semantics).
func (s *Service) Get(ctx context.Context, id, project string) (store.Memory, error) {
	return s.db.GetMemory(ctx, id, project, false)
}

func validateContent(content string) error {
	if content == "" {
		return errs.New(errs.ValidationError, "content must not be empty")
	}
	if len(content) > maxContentLength {
		return errs.New(errs.ValidationError, "content exceeds %d characters", maxContentLength)
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > maxTags {
		return errs.New(errs.ValidationError, "at most %d tags allowed", maxTags)
	}
	for _, t := range tags {
		if len(t) > maxTagLength {
			return errs.New(errs.ValidationError, "tag %q exceeds %d characters", t, maxTagLength)
		}
	}
	return nil
}
