package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justmemory/internal/errs"
)

func TestExitCodeForMapsKindsToSpecExitCodes(t *testing.T) {
	assert.Equal(t, exitBadConfig, exitCodeFor(errs.New(errs.SchemaError, "bad")))
	assert.Equal(t, exitBadConfig, exitCodeFor(errs.New(errs.ValidationError, "bad")))
	assert.Equal(t, exitInternal, exitCodeFor(errs.New(errs.NotAvailable, "bad")))
	assert.Equal(t, exitInternal, exitCodeFor(assert.AnError))
}

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "data_dir: " + dataDir + "\nvector:\n  backend: exact\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestMigrateCmdReportsSchemaVersion(t *testing.T) {
	configPath = writeConfig(t, t.TempDir())
	defer func() { configPath = "" }()

	require.NoError(t, migrateCmd.RunE(migrateCmd, nil))
}

func TestBackupCreateAndListRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	configPath = writeConfig(t, dataDir)
	defer func() { configPath = "" }()

	require.NoError(t, migrateCmd.RunE(migrateCmd, nil))

	backupProject = "proj"
	defer func() { backupProject = "" }()
	require.NoError(t, backupCreateCmd.RunE(backupCreateCmd, nil))

	entries, err := os.ReadDir(filepath.Join(dataDir, "backups"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, backupListCmd.RunE(backupListCmd, nil))
}
