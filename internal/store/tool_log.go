package store

import (
	"context"
	"database/sql"
	"time"

	"justmemory/internal/errs"
)

// ToolCallLog is a purely observational record of a tool invocation.
type ToolCallLog struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ToolName  string    `json:"tool_name"`
	Arguments string    `json:"arguments"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordToolCall appends a log entry. Truncation of the arguments string is
// the caller's responsibility.
func (s *Store) RecordToolCall(ctx context.Context, l ToolCallLog) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tool_call_log (id, project_id, tool_name, arguments, success, timestamp)
			VALUES (?,?,?,?,?,?)`, l.ID, l.ProjectID, l.ToolName, l.Arguments, boolToInt(l.Success), l.Timestamp)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "record tool call")
		}
		return nil
	})
}

// PruneToolLogs drops rows older than retainDays.
func (s *Store) PruneToolLogs(ctx context.Context, retainDays int) (int64, error) {
	cutoff := now().AddDate(0, 0, -retainDays)
	var affected int64
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tool_call_log WHERE timestamp < ?`, cutoff)
		if err != nil {
			return errs.Wrap(errs.StorageBusy, err, "prune tool logs")
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}
