package store

import (
	"database/sql"
	"fmt"

	"justmemory/internal/logging"
)

// CurrentSchemaVersion is the schema version this binary expects.
//
// v1: initial memories/edges/entities/entity_types/contradiction_resolutions/
//     scratchpad/scheduled_tasks/tool_call_log/vectors tables.
// v2: added FTS5 keyword index over memories.content, kept in sync by
//     insert/update/soft-delete triggers.
const CurrentSchemaVersion = 2

// columnMigration is an additive "add this column if missing" step, in the
// style of the teacher's ALTER TABLE migrations.
type columnMigration struct {
	Table  string
	Column string
	Def    string
}

var pendingColumnMigrations = []columnMigration{
	{"memories", "contradiction_count", "INTEGER NOT NULL DEFAULT 0"},
}

func (s *Store) runMigrations() error {
	timer := logging.StartTimer(logging.CategoryStorage, "runMigrations")
	defer timer.Stop()

	version := s.schemaVersion()
	logging.Storage("schema at version %d, target %d", version, CurrentSchemaVersion)

	if version >= CurrentSchemaVersion {
		s.applyColumnMigrations()
		return nil
	}

	if version < 1 {
		if err := s.setSchemaVersion(1); err != nil {
			return err
		}
		version = 1
	}
	if version < 2 {
		if err := s.migrateToFTS(); err != nil {
			logging.Get(logging.CategoryStorage).Warn("FTS5 migration skipped: %v", err)
		}
		if err := s.setSchemaVersion(2); err != nil {
			return err
		}
	}

	s.applyColumnMigrations()
	return nil
}

func (s *Store) applyColumnMigrations() {
	for _, m := range pendingColumnMigrations {
		if s.columnExists(m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(stmt); err != nil {
			logging.Get(logging.CategoryStorage).Warn("column migration failed %s.%s: %v", m.Table, m.Column, err)
		}
	}
}

func (s *Store) columnExists(table, column string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func (s *Store) tableExists(table string) bool {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

func (s *Store) schemaVersion() int {
	if !s.tableExists("schema_migrations") {
		return 0
	}
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil || !version.Valid {
		return 0
	}
	return int(version.Int64)
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)", version)
	if err != nil {
		return err
	}
	logging.Storage("schema migrated to version %d", version)
	return nil
}

// migrateToFTS creates the full-text index and the triggers that keep it in
// sync with memories.content. It is a best-effort step: if the linked
// SQLite build lacks FTS5, keyword search transparently falls back to LIKE.
func (s *Store) migrateToFTS() error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content, content='memories', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
