package store

import "justmemory/internal/logging"

// createSchema creates every table idempotently. Additive changes after the
// first release belong in migrations.go, not here.
func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS kv_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			importance REAL NOT NULL DEFAULT 0.5,
			confidence REAL NOT NULL DEFAULT 0.5,
			strength REAL NOT NULL DEFAULT 1.0,
			access_count INTEGER NOT NULL DEFAULT 0,
			source_count INTEGER NOT NULL DEFAULT 1,
			contradiction_count INTEGER NOT NULL DEFAULT 0,
			last_accessed DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(deleted_at)`,

		`CREATE TABLE IF NOT EXISTS edges (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			metadata TEXT NOT NULL DEFAULT '{}',
			valid_from DATETIME NOT NULL,
			valid_to DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_project ON edges(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation_type)`,

		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			observations TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(project_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type)`,

		`CREATE TABLE IF NOT EXISTS entity_relations (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			from_entity TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			to_entity TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(project_id, from_entity, relation_type, to_entity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_relations_from ON entity_relations(project_id, from_entity)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_relations_to ON entity_relations(project_id, to_entity)`,

		`CREATE TABLE IF NOT EXISTS entity_types (
			name TEXT PRIMARY KEY,
			parent_type TEXT,
			description TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS contradiction_resolutions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			memory_id_1 TEXT NOT NULL,
			memory_id_2 TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			chosen_memory TEXT,
			note TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_project ON contradiction_resolutions(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_status ON contradiction_resolutions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_memories ON contradiction_resolutions(memory_id_1, memory_id_2)`,

		`CREATE TABLE IF NOT EXISTS scratchpad (
			project_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			expires_at DATETIME,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (project_id, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scratchpad_expires ON scratchpad(expires_at)`,

		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			schedule TEXT NOT NULL,
			cron_expression TEXT,
			next_run DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			recurring INTEGER NOT NULL DEFAULT 0,
			action_type TEXT NOT NULL DEFAULT '',
			action_data TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_project ON scheduled_tasks(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_status_next ON scheduled_tasks(status, next_run)`,

		`CREATE TABLE IF NOT EXISTS tool_call_log (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			arguments TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 1,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_log_timestamp ON tool_call_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_log_project ON tool_call_log(project_id)`,

		`CREATE TABLE IF NOT EXISTS vectors (
			memory_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			dims INTEGER NOT NULL,
			embedding TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_project ON vectors(project_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			logging.StorageError("schema statement failed: %v (%s)", err, stmt)
			return err
		}
	}
	return nil
}
