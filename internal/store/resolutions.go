package store

import (
	"context"
	"database/sql"
	"time"

	"justmemory/internal/errs"
)

// ResolutionStatus is the terminal or pending state of a contradiction
// resolution record.
type ResolutionStatus string

const (
	ResolutionPending     ResolutionStatus = "pending"
	ResolutionKeepFirst   ResolutionStatus = "keep_first"
	ResolutionKeepSecond  ResolutionStatus = "keep_second"
	ResolutionKeepBoth    ResolutionStatus = "keep_both"
	ResolutionMerge       ResolutionStatus = "merge"
	ResolutionDeleteBoth  ResolutionStatus = "delete_both"
)

// ContradictionResolution tracks the disposition of a pair of contradicting
// memories.
type ContradictionResolution struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	MemoryID1     string           `json:"memory_id_1"`
	MemoryID2     string           `json:"memory_id_2"`
	Status        ResolutionStatus `json:"status"`
	ChosenMemory  *string          `json:"chosen_memory,omitempty"`
	Note          string           `json:"note"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

const resolutionColumns = `id, project_id, memory_id_1, memory_id_2, status, chosen_memory, note, created_at, resolved_at`

func scanResolution(row interface{ Scan(dest ...any) error }) (ContradictionResolution, error) {
	var r ContradictionResolution
	var resolvedAt sql.NullTime
	err := row.Scan(&r.ID, &r.ProjectID, &r.MemoryID1, &r.MemoryID2, &r.Status, &r.ChosenMemory, &r.Note, &r.CreatedAt, &resolvedAt)
	if err != nil {
		return r, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	return r, nil
}

// InsertResolution creates a new pending (or pre-resolved, for auto-resolution) record.
func (s *Store) InsertResolution(ctx context.Context, r ContradictionResolution) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO contradiction_resolutions
			(id, project_id, memory_id_1, memory_id_2, status, chosen_memory, note, created_at, resolved_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			r.ID, r.ProjectID, r.MemoryID1, r.MemoryID2, r.Status, r.ChosenMemory, r.Note, r.CreatedAt, r.ResolvedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "insert resolution")
		}
		return nil
	})
}

func (s *Store) insertResolutionIgnore(ctx context.Context, r ContradictionResolution) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO contradiction_resolutions
			(id, project_id, memory_id_1, memory_id_2, status, chosen_memory, note, created_at, resolved_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			r.ID, r.ProjectID, r.MemoryID1, r.MemoryID2, r.Status, r.ChosenMemory, r.Note, r.CreatedAt, r.ResolvedAt)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "restore resolution")
		}
		return nil
	})
}

// GetResolution fetches a resolution by id.
func (s *Store) GetResolution(ctx context.Context, id string) (ContradictionResolution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resolutionColumns+` FROM contradiction_resolutions WHERE id = ?`, id)
	r, err := scanResolution(row)
	if err == sql.ErrNoRows {
		return ContradictionResolution{}, errs.New(errs.NotFound, "resolution %s not found", id)
	}
	if err != nil {
		return ContradictionResolution{}, errs.Wrap(errs.StorageBusy, err, "get resolution")
	}
	return r, nil
}

// FindResolutionForPair returns an existing resolution (any status) for a
// pair of memories, regardless of id order.
func (s *Store) FindResolutionForPair(ctx context.Context, project, m1, m2 string) (ContradictionResolution, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resolutionColumns+` FROM contradiction_resolutions
		WHERE project_id = ? AND ((memory_id_1 = ? AND memory_id_2 = ?) OR (memory_id_1 = ? AND memory_id_2 = ?))
		ORDER BY created_at DESC LIMIT 1`, project, m1, m2, m2, m1)
	r, err := scanResolution(row)
	if err == sql.ErrNoRows {
		return ContradictionResolution{}, false, nil
	}
	if err != nil {
		return ContradictionResolution{}, false, errs.Wrap(errs.StorageBusy, err, "find resolution for pair")
	}
	return r, true, nil
}

// PendingResolutions lists resolutions awaiting action.
func (s *Store) PendingResolutions(ctx context.Context, project string) ([]ContradictionResolution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resolutionColumns+` FROM contradiction_resolutions
		WHERE (project_id = ? OR project_id = ?) AND status = ? ORDER BY created_at`, project, GlobalProject, ResolutionPending)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list pending resolutions")
	}
	defer rows.Close()
	var out []ContradictionResolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListResolutions returns every resolution in project, used by backups.
func (s *Store) ListResolutions(ctx context.Context, project string) ([]ContradictionResolution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resolutionColumns+` FROM contradiction_resolutions
		WHERE project_id = ? OR project_id = ? ORDER BY created_at`, project, GlobalProject)
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list resolutions")
	}
	defer rows.Close()
	var out []ContradictionResolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveResolution stamps a resolution as resolved. Terminal states are
// absorbing: re-resolving an already-resolved record fails.
func (s *Store) ResolveResolution(ctx context.Context, id string, status ResolutionStatus, chosenMemory *string, note string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		var currentStatus ResolutionStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM contradiction_resolutions WHERE id = ?`, id).Scan(&currentStatus); err != nil {
			if err == sql.ErrNoRows {
				return errs.New(errs.NotFound, "resolution %s not found", id)
			}
			return errs.Wrap(errs.StorageBusy, err, "read resolution status")
		}
		if currentStatus != ResolutionPending {
			return errs.New(errs.InvariantViolation, "resolution %s already resolved as %s", id, currentStatus)
		}
		_, err := tx.ExecContext(ctx, `UPDATE contradiction_resolutions
			SET status = ?, chosen_memory = ?, note = ?, resolved_at = ? WHERE id = ?`,
			status, chosenMemory, note, now(), id)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "resolve resolution")
		}
		return nil
	})
}

// InsertAutoResolution writes an already-resolved record in one step, used
// by the auto-resolution heuristics.
func (s *Store) InsertAutoResolution(ctx context.Context, r ContradictionResolution) error {
	r.ResolvedAt = &r.CreatedAt
	resolvedAt := now()
	r.ResolvedAt = &resolvedAt
	return s.InsertResolution(ctx, r)
}
