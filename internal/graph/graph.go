// Package graph implements the Graph Layer: edges between memories,
// named entities independent of any single memory, and the entity-type
// hierarchy those entities are classified under.
package graph

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"justmemory/internal/errs"
	"justmemory/internal/logging"
	"justmemory/internal/reasoning"
	"justmemory/internal/store"
)

const (
	maxEntityNameLength     = 200
	maxObservations         = 500
	maxObservationLength    = 2000
	maxEntityTypeNameLength = 100
)

// DefaultEntityTypes are seeded on first boot, per spec Section 4.6.
var DefaultEntityTypes = []string{
	"concept", "person", "project", "technology",
	"organization", "location", "event", "document",
}

// Service is the Graph Layer.
type Service struct {
	db     *store.Store
	reason *reasoning.Engine
}

// New builds the Graph Layer over the shared storage layer. It compiles
// its own Datalog engine for the entity-type hierarchy closure, so
// callers never need to wire that separately.
func New(db *store.Store) (*Service, error) {
	r, err := reasoning.New()
	if err != nil {
		return nil, err
	}
	return &Service{db: db, reason: r}, nil
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func now() time.Time { return time.Now().UTC() }

// SeedDefaultEntityTypes registers the eight built-in entity types if they
// are not already defined, idempotently. Safe to call on every boot.
func (s *Service) SeedDefaultEntityTypes(ctx context.Context) error {
	for _, name := range DefaultEntityTypes {
		if _, err := s.db.GetEntityType(ctx, name); err == nil {
			continue
		}
		if err := s.db.DefineEntityType(ctx, store.EntityType{Name: name, Description: "built-in"}); err != nil {
			return err
		}
	}
	logging.Get(logging.CategoryGraph).Info("seeded %d default entity types", len(DefaultEntityTypes))
	return nil
}

// --- Edges ---------------------------------------------------------------

// CreateEdge records a new relation between two memories with open
// validity (valid_to=null).
func (s *Service) CreateEdge(ctx context.Context, from, to, relationType string, confidence float64, metadata map[string]any, project string) (store.Edge, error) {
	if from == "" || to == "" {
		return store.Edge{}, errs.New(errs.ValidationError, "edge requires both endpoints")
	}
	if relationType == "" {
		return store.Edge{}, errs.New(errs.ValidationError, "edge requires a relation_type")
	}
	e := store.Edge{
		ID:           newID(),
		ProjectID:    project,
		FromID:       from,
		ToID:         to,
		RelationType: relationType,
		Confidence:   confidence,
		Metadata:     metadata,
		ValidFrom:    now(),
		CreatedAt:    now(),
	}
	if err := s.db.InsertEdge(ctx, e); err != nil {
		return store.Edge{}, err
	}
	return e, nil
}

// QueryEdges returns edges incident to memory, respecting project scope
// (matching project or "global").
func (s *Service) QueryEdges(ctx context.Context, memory, project string, direction store.EdgeDirection, includeInvalidated bool) ([]store.Edge, error) {
	return s.db.QueryEdges(ctx, memory, project, direction, includeInvalidated)
}

// InvalidateEdge closes an edge's validity interval at now.
func (s *Service) InvalidateEdge(ctx context.Context, edgeID string) error {
	return s.db.InvalidateEdge(ctx, edgeID)
}

// --- Entities --------------------------------------------------------------

// CreateEntity is upsert-by-name with set-union merge of observations.
func (s *Service) CreateEntity(ctx context.Context, name, entityType string, observations []string, project string) (store.Entity, error) {
	if err := validateEntityName(name); err != nil {
		return store.Entity{}, err
	}
	if err := validateObservations(observations); err != nil {
		return store.Entity{}, err
	}
	t := now()
	return s.db.UpsertEntity(ctx, store.Entity{
		ID: newID(), ProjectID: project, Name: name, EntityType: entityType,
		Observations: observations, CreatedAt: t, UpdatedAt: t,
	})
}

// GetEntity fetches an entity by its (project, name) key.
func (s *Service) GetEntity(ctx context.Context, project, name string) (store.Entity, error) {
	return s.db.GetEntityByName(ctx, project, name)
}

// SearchEntities matches name substring and observation content, optionally
// filtered by entity type.
func (s *Service) SearchEntities(ctx context.Context, project, query string, types []string) ([]store.Entity, error) {
	return s.db.SearchEntities(ctx, project, query, types)
}

// Observe appends new observations to an existing (or newly created) entity.
func (s *Service) Observe(ctx context.Context, name, entityType string, observations []string, project string) (store.Entity, error) {
	return s.CreateEntity(ctx, name, entityType, observations, project)
}

// Link creates a directed relation between two entities, dropping exact
// duplicates.
func (s *Service) Link(ctx context.Context, from, relationType, to, project string) error {
	return s.db.LinkEntities(ctx, store.EntityRelation{
		ID: newID(), ProjectID: project, FromEntity: from, RelationType: relationType, ToEntity: to, CreatedAt: now(),
	})
}

// DeleteEntity removes an entity and cascades only to its own incident
// relations within the project.
func (s *Service) DeleteEntity(ctx context.Context, project, name string) error {
	return s.db.DeleteEntity(ctx, project, name)
}

func validateEntityName(name string) error {
	if name == "" {
		return errs.New(errs.ValidationError, "entity name must not be empty")
	}
	if len(name) > maxEntityNameLength {
		return errs.New(errs.ValidationError, "entity name exceeds %d characters", maxEntityNameLength)
	}
	return nil
}

func validateObservations(observations []string) error {
	if len(observations) > maxObservations {
		return errs.New(errs.ValidationError, "at most %d observations allowed", maxObservations)
	}
	for _, o := range observations {
		if len(o) > maxObservationLength {
			return errs.New(errs.ValidationError, "observation exceeds %d characters", maxObservationLength)
		}
	}
	return nil
}

// --- Entity type hierarchy ---------------------------------------------

// DefineEntityType normalizes the name, verifies the parent exists (if
// given), and refuses a definition that would create a cycle.
func (s *Service) DefineEntityType(ctx context.Context, name string, parent *string, description string) error {
	name = normalizeTypeName(name)
	if name == "" {
		return errs.New(errs.ValidationError, "entity type name must not be empty")
	}
	if len(name) > maxEntityTypeNameLength {
		return errs.New(errs.ValidationError, "entity type name exceeds %d characters", maxEntityTypeNameLength)
	}
	if parent != nil {
		p := normalizeTypeName(*parent)
		if _, err := s.db.GetEntityType(ctx, p); err != nil {
			return errs.New(errs.ValidationError, "parent type %q does not exist", p)
		}
		existing, err := s.parentEdges(ctx)
		if err != nil {
			return err
		}
		cyclic, err := s.reason.HasCycle(existing, name, p)
		if err != nil {
			return err
		}
		if cyclic {
			return errs.New(errs.InvariantViolation, "defining %q under %q would create a cycle", name, p)
		}
		parent = &p
	}
	return s.db.DefineEntityType(ctx, store.EntityType{Name: name, ParentType: parent, Description: description})
}

// parentEdges loads every defined type's parent link as a child→parent map
// for the reasoning engine.
func (s *Service) parentEdges(ctx context.Context) (map[string]string, error) {
	all, err := s.db.ListEntityTypes(ctx)
	if err != nil {
		return nil, err
	}
	edges := make(map[string]string, len(all))
	for _, t := range all {
		if t.ParentType != nil {
			edges[t.Name] = *t.ParentType
		}
	}
	return edges, nil
}

// Hierarchy describes a type's position in the DAG.
type Hierarchy struct {
	Ancestors   []string
	Descendants []string
	Depth       int
}

// HierarchyOf returns the ancestors, descendants, and depth of a type,
// derived by the Datalog closure over every defined parent edge.
func (s *Service) HierarchyOf(ctx context.Context, name string) (Hierarchy, error) {
	name = normalizeTypeName(name)
	if _, err := s.db.GetEntityType(ctx, name); err != nil {
		return Hierarchy{}, errs.New(errs.NotFound, "entity type %s not found", name)
	}

	edges, err := s.parentEdges(ctx)
	if err != nil {
		return Hierarchy{}, err
	}
	closure, err := s.reason.Compute(edges)
	if err != nil {
		return Hierarchy{}, err
	}

	return Hierarchy{
		Ancestors:   closure.Ancestors[name],
		Descendants: closure.Descendants[name],
		Depth:       len(closure.Ancestors[name]),
	}, nil
}

// SearchByTypeHierarchy expands type to {type} ∪ descendants(type) and
// searches entities within that expanded set.
func (s *Service) SearchByTypeHierarchy(ctx context.Context, project, entityType, query string) ([]store.Entity, error) {
	h, err := s.HierarchyOf(ctx, entityType)
	if err != nil {
		return nil, err
	}
	types := append([]string{normalizeTypeName(entityType)}, h.Descendants...)
	return s.db.SearchEntities(ctx, project, query, types)
}

func normalizeTypeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
