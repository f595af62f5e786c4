package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"justmemory/internal/errs"
	"justmemory/internal/logging"
)

// BackupArtifact is the versioned JSON snapshot format written by Snapshot
// and accepted by Restore.
type BackupArtifact struct {
	Version   int            `json:"version"`
	ProjectID string         `json:"project_id"`
	CreatedAt time.Time      `json:"created_at"`
	Counts    map[string]int `json:"counts"`
	Data      BackupData     `json:"data"`
}

// BackupData carries the collections a backup snapshots. ScheduledTasks and
// Scratchpad are included when present for forward compatibility; restore
// ignores unknown top-level arrays.
type BackupData struct {
	Memories                 []Memory                  `json:"memories"`
	Entities                 []Entity                  `json:"entities"`
	Edges                    []Edge                    `json:"edges"`
	Relations                []EntityRelation          `json:"relations"`
	ContradictionResolutions []ContradictionResolution `json:"contradiction_resolutions"`
	ScheduledTasks           []ScheduledTask           `json:"scheduled_tasks,omitempty"`
	Scratchpad               []ScratchpadEntry         `json:"scratchpad,omitempty"`
}

const backupFormatVersion = 1

// Snapshot serializes the non-deleted rows for project into a versioned JSON
// artifact under backupDir, and returns the artifact's path.
func (s *Store) Snapshot(ctx context.Context, backupDir, project string) (string, error) {
	timer := logging.StartTimer(logging.CategoryStorage, "Snapshot")
	defer timer.Stop()

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", errs.Wrap(errs.SchemaError, err, "create backup directory")
	}

	memories, err := s.ListMemories(ctx, project, 0, false)
	if err != nil {
		return "", err
	}
	entities, err := s.ListEntities(ctx, project)
	if err != nil {
		return "", err
	}
	edges, err := s.ListEdges(ctx, project)
	if err != nil {
		return "", err
	}
	relations, err := s.ListEntityRelations(ctx, project)
	if err != nil {
		return "", err
	}
	resolutions, err := s.ListResolutions(ctx, project)
	if err != nil {
		return "", err
	}
	tasks, err := s.ListScheduledTasks(ctx, project)
	if err != nil {
		return "", err
	}
	scratch, err := s.ListScratchpad(ctx, project, false)
	if err != nil {
		return "", err
	}

	artifact := BackupArtifact{
		Version:   backupFormatVersion,
		ProjectID: project,
		CreatedAt: now(),
		Counts: map[string]int{
			"memories":                  len(memories),
			"entities":                  len(entities),
			"edges":                     len(edges),
			"relations":                 len(relations),
			"contradiction_resolutions": len(resolutions),
			"scheduled_tasks":           len(tasks),
			"scratchpad":                len(scratch),
		},
		Data: BackupData{
			Memories:                 memories,
			Entities:                 entities,
			Edges:                    edges,
			Relations:                relations,
			ContradictionResolutions: resolutions,
			ScheduledTasks:           tasks,
			Scratchpad:               scratch,
		},
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.SchemaError, err, "marshal backup artifact")
	}

	filename := fmt.Sprintf("%s_%s.json", project, now().Format("20060102_150405"))
	path := filepath.Join(backupDir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errs.Wrap(errs.SchemaError, err, "write backup file")
	}

	logging.Storage("backup snapshot written: %s", path)
	return path, nil
}

// RestoreMode selects how Restore reconciles the artifact with existing rows.
type RestoreMode string

const (
	RestoreMerge   RestoreMode = "merge"
	RestoreReplace RestoreMode = "replace"
)

// Restore loads a backup artifact from path and applies it in the given
// mode. path must resolve inside backupDir; the artifact must carry a
// version and data section.
func (s *Store) Restore(ctx context.Context, backupDir, path string, mode RestoreMode) (*BackupArtifact, error) {
	timer := logging.StartTimer(logging.CategoryStorage, "Restore")
	defer timer.Stop()

	absBackupDir, err := filepath.Abs(backupDir)
	if err != nil {
		return nil, errs.Wrap(errs.ValidationError, err, "resolve backup directory")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Wrap(errs.ValidationError, err, "resolve backup path")
	}
	rel, err := filepath.Rel(absBackupDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, errs.New(errs.ValidationError, "backup path %s escapes backup directory", path)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "read backup file %s", path)
	}

	// BackupData is unmarshaled as a plain struct, so a payload with no
	// "data" key at all produces the same zero value as an explicit empty
	// "data":{} and would otherwise restore silently as a no-op. Probe the
	// raw object for key presence before committing to the typed decode.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errs.Wrap(errs.ValidationError, err, "parse backup artifact")
	}
	if _, ok := probe["version"]; !ok {
		return nil, errs.New(errs.ValidationError, "backup artifact missing version")
	}
	if _, ok := probe["data"]; !ok {
		return nil, errs.New(errs.ValidationError, "backup artifact missing data")
	}

	var artifact BackupArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, errs.Wrap(errs.ValidationError, err, "parse backup artifact")
	}
	if artifact.Version == 0 {
		return nil, errs.New(errs.ValidationError, "backup artifact missing version")
	}
	if artifact.ProjectID == "" {
		return nil, errs.New(errs.ValidationError, "backup artifact missing project_id")
	}

	project := artifact.ProjectID

	if mode == RestoreReplace {
		if err := s.deleteProjectRows(ctx, project); err != nil {
			return nil, err
		}
	}

	for _, m := range artifact.Data.Memories {
		if err := s.insertMemoryIgnore(ctx, m); err != nil {
			return nil, err
		}
	}
	for _, e := range artifact.Data.Entities {
		if err := s.insertEntityIgnore(ctx, e); err != nil {
			return nil, err
		}
	}
	for _, e := range artifact.Data.Edges {
		if err := s.insertEdgeIgnore(ctx, e); err != nil {
			return nil, err
		}
	}
	for _, r := range artifact.Data.Relations {
		if err := s.insertEntityRelationIgnore(ctx, r); err != nil {
			return nil, err
		}
	}
	for _, r := range artifact.Data.ContradictionResolutions {
		if err := s.insertResolutionIgnore(ctx, r); err != nil {
			return nil, err
		}
	}
	for _, t := range artifact.Data.ScheduledTasks {
		if err := s.insertScheduledTaskIgnore(ctx, t); err != nil {
			return nil, err
		}
	}
	for _, sc := range artifact.Data.Scratchpad {
		if err := s.SetScratchpad(ctx, project, sc.Key, sc.Value, sc.ExpiresAt); err != nil {
			return nil, err
		}
	}

	logging.Storage("restored backup %s into project %s (mode=%s)", path, project, mode)
	return &artifact, nil
}

func (s *Store) deleteProjectRows(ctx context.Context, project string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"memories", "edges", "entities", "entity_relations",
			"contradiction_resolutions", "scheduled_tasks",
		} {
			if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE project_id = ?", table), project); err != nil {
				return errs.Wrap(errs.StorageBusy, err, "clear %s for replace restore", table)
			}
		}
		return nil
	})
}
