package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"justmemory/internal/errs"
)

// Memory is the durable row for a stored memory. Embeddings live in the
// vector store, keyed by the same id; a memory row never blocks on one
// being present.
type Memory struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	Content            string     `json:"content"`
	Type               string     `json:"type"`
	Tags               []string   `json:"tags"`
	Importance         float64    `json:"importance"`
	Confidence         float64    `json:"confidence"`
	Strength           float64    `json:"strength"`
	AccessCount        int        `json:"access_count"`
	SourceCount        int        `json:"source_count"`
	ContradictionCount int        `json:"contradiction_count"`
	LastAccessed       time.Time  `json:"last_accessed"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

func scanMemory(row interface {
	Scan(dest ...any) error
}) (Memory, error) {
	var m Memory
	var tags string
	var deletedAt sql.NullTime
	err := row.Scan(&m.ID, &m.ProjectID, &m.Content, &m.Type, &tags, &m.Importance,
		&m.Confidence, &m.Strength, &m.AccessCount, &m.SourceCount, &m.ContradictionCount,
		&m.LastAccessed, &m.CreatedAt, &m.UpdatedAt, &deletedAt)
	if err != nil {
		return m, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	_ = json.Unmarshal([]byte(tags), &m.Tags)
	return m, nil
}

const memoryColumns = `id, project_id, content, type, tags, importance, confidence, strength,
	access_count, source_count, contradiction_count, last_accessed, created_at, updated_at, deleted_at`

// InsertMemory writes a brand new memory row.
func (s *Store) InsertMemory(ctx context.Context, m Memory) error {
	tags, _ := json.Marshal(m.Tags)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO memories
			(id, project_id, content, type, tags, importance, confidence, strength,
			 access_count, source_count, contradiction_count, last_accessed, created_at, updated_at, deleted_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.ID, m.ProjectID, m.Content, m.Type, string(tags), m.Importance, m.Confidence, m.Strength,
			m.AccessCount, m.SourceCount, m.ContradictionCount, m.LastAccessed, m.CreatedAt, m.UpdatedAt, m.DeletedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "insert memory")
		}
		return nil
	})
}

func (s *Store) insertMemoryIgnore(ctx context.Context, m Memory) error {
	tags, _ := json.Marshal(m.Tags)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memories
			(id, project_id, content, type, tags, importance, confidence, strength,
			 access_count, source_count, contradiction_count, last_accessed, created_at, updated_at, deleted_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.ID, m.ProjectID, m.Content, m.Type, string(tags), m.Importance, m.Confidence, m.Strength,
			m.AccessCount, m.SourceCount, m.ContradictionCount, m.LastAccessed, m.CreatedAt, m.UpdatedAt, m.DeletedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "restore memory")
		}
		return nil
	})
}

// GetMemory fetches a memory by id, scoped to project or "global". Returns
// NotFound if missing or soft-deleted and includeDeleted is false.
func (s *Store) GetMemory(ctx context.Context, id, project string, includeDeleted bool) (Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE id = ? AND (project_id = ? OR project_id = ?)`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	row := s.db.QueryRowContext(ctx, query, id, project, GlobalProject)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return Memory{}, errs.New(errs.NotFound, "memory %s not found", id)
	}
	if err != nil {
		return Memory{}, errs.Wrap(errs.StorageBusy, err, "get memory")
	}
	return m, nil
}

// UpdateMemoryFields applies a partial update by column name; used by the
// Memory Core's content/type/tags/importance/confidence whitelist.
func (s *Store) UpdateMemoryFields(ctx context.Context, id string, set map[string]any) error {
	if len(set) == 0 {
		return errs.New(errs.ValidationError, "update requires at least one field")
	}
	set["updated_at"] = now()

	cols := make([]string, 0, len(set))
	args := make([]any, 0, len(set)+1)
	for k, v := range set {
		cols = append(cols, k+" = ?")
		args = append(args, v)
	}
	args = append(args, id)

	query := "UPDATE memories SET "
	for i, c := range cols {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	query += " WHERE id = ?"

	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "update memory")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.NotFound, "memory %s not found", id)
		}
		return nil
	})
}

// TouchMemory increments access_count, updates last_accessed to now, and
// sets strength to the caller-computed next value (the strengthening rule is
// a pure function owned by internal/memory).
func (s *Store) TouchMemory(ctx context.Context, id string, nextStrength float64) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE memories SET
			access_count = access_count + 1, last_accessed = ?, strength = ? WHERE id = ?`,
			now(), nextStrength, id)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "touch memory")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.NotFound, "memory %s not found", id)
		}
		return nil
	})
}

// SoftDeleteMemory sets deleted_at to now.
func (s *Store) SoftDeleteMemory(ctx context.Context, id string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE memories SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now(), now(), id)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "soft delete memory")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.NotFound, "memory %s not found", id)
		}
		return nil
	})
}

// HardDeleteMemory removes the row permanently.
func (s *Store) HardDeleteMemory(ctx context.Context, id string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "hard delete memory")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.NotFound, "memory %s not found", id)
		}
		return nil
	})
}

// ListMemories returns memories for project (or global), newest updated
// first. limit <= 0 means unbounded.
func (s *Store) ListMemories(ctx context.Context, project string, limit int, includeDeleted bool) ([]Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE (project_id = ? OR project_id = ?)`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY updated_at DESC`
	args := []any{project, GlobalProject}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list memories")
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageBusy, err, "scan memory row")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetConfidence overwrites the base confidence column (used by confirm/contradict).
func (s *Store) SetConfidence(ctx context.Context, id string, confidence float64) error {
	return s.UpdateMemoryFields(ctx, id, map[string]any{"confidence": confidence})
}

// AdjustContradictionCount applies a signed delta to contradiction_count,
// clamped at zero.
func (s *Store) AdjustContradictionCount(ctx context.Context, id string, delta int) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE memories SET
			contradiction_count = MAX(0, contradiction_count + ?), updated_at = ? WHERE id = ?`,
			delta, now(), id)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "adjust contradiction count")
		}
		return nil
	})
}

// SetContradictionCount overwrites contradiction_count directly, used by
// recalibration.
func (s *Store) SetContradictionCount(ctx context.Context, id string, count int) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE memories SET contradiction_count = ? WHERE id = ?`, count, id)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "set contradiction count")
		}
		return nil
	})
}

// AllMemoriesForProject returns every non-deleted memory across the project
// scope, used by consolidation sweeps that need the full set rather than a
// capped list.
func (s *Store) AllMemoriesForProject(ctx context.Context, project string) ([]Memory, error) {
	return s.ListMemories(ctx, project, 0, false)
}

// ListDistinctProjects returns every project id that owns at least one
// non-deleted memory, excluding the global scope. Used by the background
// consolidation loop to discover which projects need sweeping without the
// caller having to track that list itself.
func (s *Store) ListDistinctProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM memories
		WHERE deleted_at IS NULL AND project_id != ?`, GlobalProject)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list distinct projects")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errs.Wrap(errs.StorageBusy, err, "scan project id")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
