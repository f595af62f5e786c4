package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"justmemory/internal/errs"
)

// Entity is a named node in the knowledge graph, separate from memories.
type Entity struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	EntityType   string    `json:"entity_type"`
	Observations []string  `json:"observations"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func scanEntity(row interface{ Scan(dest ...any) error }) (Entity, error) {
	var e Entity
	var obs string
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.EntityType, &obs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	_ = json.Unmarshal([]byte(obs), &e.Observations)
	return e, nil
}

const entityColumns = `id, project_id, name, entity_type, observations, created_at, updated_at`

// GetEntityByName looks up an entity by its unique (project, name) key.
func (s *Store) GetEntityByName(ctx context.Context, project, name string) (Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE project_id = ? AND name = ?`, project, name)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return Entity{}, errs.New(errs.NotFound, "entity %s not found", name)
	}
	if err != nil {
		return Entity{}, errs.Wrap(errs.StorageBusy, err, "get entity")
	}
	return e, nil
}

// UpsertEntity inserts an entity, or merges observations as a set union if
// (project, name) already exists.
func (s *Store) UpsertEntity(ctx context.Context, e Entity) (Entity, error) {
	var result Entity
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE project_id = ? AND name = ?`, e.ProjectID, e.Name)
		existing, err := scanEntity(row)
		if err == sql.ErrNoRows {
			obs, _ := json.Marshal(dedupeStrings(e.Observations))
			_, err := tx.ExecContext(ctx, `INSERT INTO entities
				(id, project_id, name, entity_type, observations, created_at, updated_at)
				VALUES (?,?,?,?,?,?,?)`, e.ID, e.ProjectID, e.Name, e.EntityType, string(obs), e.CreatedAt, e.UpdatedAt)
			if err != nil {
				return errs.Wrap(errs.StorageBusy, err, "insert entity")
			}
			result = e
			result.Observations = dedupeStrings(e.Observations)
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "lookup entity for merge")
		}

		merged := dedupeStrings(append(append([]string{}, existing.Observations...), e.Observations...))
		obs, _ := json.Marshal(merged)
		updatedAt := now()
		_, err = tx.ExecContext(ctx, `UPDATE entities SET observations = ?, updated_at = ? WHERE id = ?`, string(obs), updatedAt, existing.ID)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "merge entity observations")
		}
		existing.Observations = merged
		existing.UpdatedAt = updatedAt
		result = existing
		return nil
	})
	return result, err
}

func (s *Store) insertEntityIgnore(ctx context.Context, e Entity) error {
	obs, _ := json.Marshal(e.Observations)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entities
			(id, project_id, name, entity_type, observations, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?)`, e.ID, e.ProjectID, e.Name, e.EntityType, string(obs), e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "restore entity")
		}
		return nil
	})
}

// SearchEntities matches name substring or observation content, optionally
// filtered by a set of entity types (used to expand a type to its
// descendants).
func (s *Store) SearchEntities(ctx context.Context, project, query string, types []string) ([]Entity, error) {
	sqlQuery := `SELECT ` + entityColumns + ` FROM entities WHERE (project_id = ? OR project_id = ?)`
	args := []any{project, GlobalProject}
	if query != "" {
		sqlQuery += ` AND (name LIKE ? OR observations LIKE ?)`
		like := "%" + sanitizeLike(query) + "%"
		args = append(args, like, like)
	}
	if len(types) > 0 {
		sqlQuery += ` AND entity_type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	sqlQuery += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "search entities")
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEntities returns every entity in project, used by backup snapshots.
func (s *Store) ListEntities(ctx context.Context, project string) ([]Entity, error) {
	return s.SearchEntities(ctx, project, "", nil)
}

// DeleteEntity removes the entity and its incoming/outgoing relations within
// its project.
func (s *Store) DeleteEntity(ctx context.Context, project, name string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE project_id = ? AND name = ?`, project, name)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "delete entity")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.NotFound, "entity %s not found", name)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_relations WHERE project_id = ? AND (from_entity = ? OR to_entity = ?)`, project, name, name); err != nil {
			return errs.Wrap(errs.StorageBusy, err, "cascade delete entity relations")
		}
		return nil
	})
}

// EntityRelation is a directed triple scoped by project.
type EntityRelation struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	FromEntity   string    `json:"from_entity"`
	RelationType string    `json:"relation_type"`
	ToEntity     string    `json:"to_entity"`
	CreatedAt    time.Time `json:"created_at"`
}

// LinkEntities creates a directed relation, dropping exact duplicates.
func (s *Store) LinkEntities(ctx context.Context, r EntityRelation) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entity_relations
			(id, project_id, from_entity, relation_type, to_entity, created_at) VALUES (?,?,?,?,?,?)`,
			r.ID, r.ProjectID, r.FromEntity, r.RelationType, r.ToEntity, r.CreatedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "link entities")
		}
		return nil
	})
}

func (s *Store) insertEntityRelationIgnore(ctx context.Context, r EntityRelation) error {
	return s.LinkEntities(ctx, r)
}

// ListEntityRelations returns every relation in project.
func (s *Store) ListEntityRelations(ctx context.Context, project string) ([]EntityRelation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, from_entity, relation_type, to_entity, created_at
		FROM entity_relations WHERE project_id = ? OR project_id = ?`, project, GlobalProject)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list entity relations")
	}
	defer rows.Close()
	var out []EntityRelation
	for rows.Next() {
		var r EntityRelation
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FromEntity, &r.RelationType, &r.ToEntity, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EntityType is a node in the entity-type DAG.
type EntityType struct {
	Name        string  `json:"name"`
	ParentType  *string `json:"parent_type,omitempty"`
	Description string  `json:"description"`
}

// DefineEntityType inserts or replaces a type definition. Cycle rejection is
// the caller's responsibility (internal/graph walks ancestors before
// calling this).
func (s *Store) DefineEntityType(ctx context.Context, t EntityType) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO entity_types (name, parent_type, description)
			VALUES (?,?,?)
			ON CONFLICT(name) DO UPDATE SET parent_type = excluded.parent_type, description = excluded.description`,
			t.Name, t.ParentType, t.Description)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "define entity type")
		}
		return nil
	})
}

// GetEntityType fetches a single type definition.
func (s *Store) GetEntityType(ctx context.Context, name string) (EntityType, error) {
	var t EntityType
	err := s.db.QueryRowContext(ctx, `SELECT name, parent_type, description FROM entity_types WHERE name = ?`, name).
		Scan(&t.Name, &t.ParentType, &t.Description)
	if err == sql.ErrNoRows {
		return EntityType{}, errs.New(errs.NotFound, "entity type %s not found", name)
	}
	if err != nil {
		return EntityType{}, errs.Wrap(errs.StorageBusy, err, "get entity type")
	}
	return t, nil
}

// ListEntityTypes returns every defined type.
func (s *Store) ListEntityTypes(ctx context.Context) ([]EntityType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, parent_type, description FROM entity_types ORDER BY name`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list entity types")
	}
	defer rows.Close()
	var out []EntityType
	for rows.Next() {
		var t EntityType
		if err := rows.Scan(&t.Name, &t.ParentType, &t.Description); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}
