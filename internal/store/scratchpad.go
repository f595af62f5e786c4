package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"justmemory/internal/errs"
)

// ScratchpadEntry is a key/value side-channel entry, optionally expiring.
type ScratchpadEntry struct {
	ProjectID string     `json:"project_id"`
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SessionKeyPrefix marks keys owned by the Session component; these survive
// scratch_clear. SystemKeyPrefix marks keys hidden from listings.
const (
	SessionKeyPrefix = "_jm_"
	SystemKeyPrefix  = "__system_"
)

// SetScratchpad upserts a scratchpad entry.
func (s *Store) SetScratchpad(ctx context.Context, project, key, value string, expiresAt *time.Time) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO scratchpad (project_id, key, value, expires_at, updated_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT(project_id, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
			project, key, value, expiresAt, now())
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "set scratchpad")
		}
		return nil
	})
}

// GetScratchpad fetches a single entry. Returns NotFound if missing or
// expired.
func (s *Store) GetScratchpad(ctx context.Context, project, key string) (ScratchpadEntry, error) {
	var e ScratchpadEntry
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT project_id, key, value, expires_at, updated_at
		FROM scratchpad WHERE project_id = ? AND key = ?`, project, key).
		Scan(&e.ProjectID, &e.Key, &e.Value, &expiresAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return ScratchpadEntry{}, errs.New(errs.NotFound, "scratchpad key %s not found", key)
	}
	if err != nil {
		return ScratchpadEntry{}, errs.Wrap(errs.StorageBusy, err, "get scratchpad")
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
		if t.Before(now()) {
			return ScratchpadEntry{}, errs.New(errs.NotFound, "scratchpad key %s expired", key)
		}
	}
	return e, nil
}

// ListScratchpad returns every non-expired entry for project.
// hideReserved filters out `_jm_`/`__system_` prefixed keys.
func (s *Store) ListScratchpad(ctx context.Context, project string, hideReserved bool) ([]ScratchpadEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_id, key, value, expires_at, updated_at
		FROM scratchpad WHERE project_id = ? AND (expires_at IS NULL OR expires_at > ?) ORDER BY key`, project, now())
	if err != nil {
		return nil, errs.Wrap(errs.StorageBusy, err, "list scratchpad")
	}
	defer rows.Close()

	var out []ScratchpadEntry
	for rows.Next() {
		var e ScratchpadEntry
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.ProjectID, &e.Key, &e.Value, &expiresAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			e.ExpiresAt = &t
		}
		if hideReserved && (strings.HasPrefix(e.Key, SessionKeyPrefix) || strings.HasPrefix(e.Key, SystemKeyPrefix)) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteScratchpad removes a single key.
func (s *Store) DeleteScratchpad(ctx context.Context, project, key string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM scratchpad WHERE project_id = ? AND key = ?`, project, key)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "delete scratchpad")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.NotFound, "scratchpad key %s not found", key)
		}
		return nil
	})
}

// ClearScratchpad removes every key in project except those with a reserved
// prefix (used by scratch_clear). Always excludes `_jm_*`.
func (s *Store) ClearScratchpad(ctx context.Context, project string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM scratchpad WHERE project_id = ? AND key NOT LIKE ?`, project, SessionKeyPrefix+"%")
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "clear scratchpad")
		}
		return nil
	})
}

// ClearSessionState removes every `_jm_*` key for project.
func (s *Store) ClearSessionState(ctx context.Context, project string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM scratchpad WHERE project_id = ? AND key LIKE ?`, project, SessionKeyPrefix+"%")
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "clear session state")
		}
		return nil
	})
}

// PruneExpiredScratchpad deletes rows with expires_at < now, excluding
// `_jm_*` keys.
func (s *Store) PruneExpiredScratchpad(ctx context.Context) (int64, error) {
	var affected int64
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM scratchpad WHERE expires_at IS NOT NULL AND expires_at < ? AND key NOT LIKE ?`, now(), SessionKeyPrefix+"%")
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "prune expired scratchpad")
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}
