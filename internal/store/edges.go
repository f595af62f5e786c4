package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"justmemory/internal/errs"
)

// EdgeDirection selects which side of an edge to query for incidence.
type EdgeDirection string

const (
	DirectionIn   EdgeDirection = "in"
	DirectionOut  EdgeDirection = "out"
	DirectionBoth EdgeDirection = "both"
)

// Edge is a bi-temporal relation between two memories.
type Edge struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	FromID       string         `json:"from_id"`
	ToID         string         `json:"to_id"`
	RelationType string         `json:"relation_type"`
	Confidence   float64        `json:"confidence"`
	Metadata     map[string]any `json:"metadata"`
	ValidFrom    time.Time      `json:"valid_from"`
	ValidTo      *time.Time     `json:"valid_to,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func scanEdge(row interface{ Scan(dest ...any) error }) (Edge, error) {
	var e Edge
	var metadata string
	var validTo sql.NullTime
	err := row.Scan(&e.ID, &e.ProjectID, &e.FromID, &e.ToID, &e.RelationType, &e.Confidence,
		&metadata, &e.ValidFrom, &validTo, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	if validTo.Valid {
		t := validTo.Time
		e.ValidTo = &t
	}
	e.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(metadata), &e.Metadata)
	return e, nil
}

const edgeColumns = `id, project_id, from_id, to_id, relation_type, confidence, metadata, valid_from, valid_to, created_at`

// InsertEdge creates a new edge with valid_to = null.
func (s *Store) InsertEdge(ctx context.Context, e Edge) error {
	metadata, _ := json.Marshal(e.Metadata)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO edges
			(id, project_id, from_id, to_id, relation_type, confidence, metadata, valid_from, valid_to, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.ProjectID, e.FromID, e.ToID, e.RelationType, e.Confidence, string(metadata), e.ValidFrom, e.ValidTo, e.CreatedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "insert edge")
		}
		return nil
	})
}

func (s *Store) insertEdgeIgnore(ctx context.Context, e Edge) error {
	metadata, _ := json.Marshal(e.Metadata)
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO edges
			(id, project_id, from_id, to_id, relation_type, confidence, metadata, valid_from, valid_to, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.ProjectID, e.FromID, e.ToID, e.RelationType, e.Confidence, string(metadata), e.ValidFrom, e.ValidTo, e.CreatedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "restore edge")
		}
		return nil
	})
}

// QueryEdges returns edges incident to memory in the given direction,
// scoped to project or global, optionally including invalidated edges.
func (s *Store) QueryEdges(ctx context.Context, memory, project string, direction EdgeDirection, includeInvalidated bool) ([]Edge, error) {
	var where string
	switch direction {
	case DirectionIn:
		where = "to_id = ?"
	case DirectionOut:
		where = "from_id = ?"
	default:
		where = "(from_id = ? OR to_id = ?)"
	}

	query := `SELECT ` + edgeColumns + ` FROM edges WHERE ` + where + ` AND (project_id = ? OR project_id = ?)`
	args := []any{memory}
	if direction == DirectionBoth {
		args = append(args, memory)
	}
	args = append(args, project, GlobalProject)
	if !includeInvalidated {
		query += ` AND valid_to IS NULL`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "query edges")
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageBusy, err, "scan edge")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEdges returns every edge in project, used by backup snapshots.
func (s *Store) ListEdges(ctx context.Context, project string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE project_id = ? OR project_id = ?`, project, GlobalProject)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list edges")
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEdge fetches a single edge by id.
func (s *Store) GetEdge(ctx context.Context, id string) (Edge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return Edge{}, errs.New(errs.NotFound, "edge %s not found", id)
	}
	if err != nil {
		return Edge{}, errs.Wrap(errs.StorageBusy, err, "get edge")
	}
	return e, nil
}

// InvalidateEdge sets valid_to to now. Monotonic: once set it is never
// cleared, and re-invalidating is a no-op.
func (s *Store) InvalidateEdge(ctx context.Context, id string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE edges SET valid_to = ? WHERE id = ? AND valid_to IS NULL`, now(), id)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "invalidate edge")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			if _, err := s.GetEdge(ctx, id); err != nil {
				return errs.New(errs.NotFound, "edge %s not found", id)
			}
			// already invalidated: idempotent no-op
		}
		return nil
	})
}

// EdgesByRelationPrefix returns edges whose relation_type starts with
// prefix, used by recalibration and contradiction scans.
func (s *Store) EdgesByRelationPrefix(ctx context.Context, project, prefix string, includeInvalidated bool) ([]Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE relation_type LIKE ? AND (project_id = ? OR project_id = ?)`
	if !includeInvalidated {
		query += ` AND valid_to IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, query, prefix+"%", project, GlobalProject)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "query edges by prefix")
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
