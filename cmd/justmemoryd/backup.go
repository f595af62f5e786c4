package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"justmemory/internal/errs"
	"justmemory/internal/store"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "create, restore, or list backup artifacts",
}

var backupProject string
var backupRestoreMode string

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "snapshot a project's non-deleted rows to a JSON artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "load config")
		}
		if backupProject == "" {
			return errs.New(errs.ValidationError, "--project is required")
		}

		db, err := store.OpenWithConcurrency(cfg.DBPath(), cfg.Writer.MaxConcurrency)
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "open storage layer")
		}
		defer db.Close()

		path, err := db.Snapshot(context.Background(), cfg.BackupDir(), backupProject)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "restore a backup artifact in merge or replace mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "load config")
		}

		mode := store.RestoreMode(backupRestoreMode)
		if mode != store.RestoreMerge && mode != store.RestoreReplace {
			return errs.New(errs.ValidationError, "--mode must be %q or %q", store.RestoreMerge, store.RestoreReplace)
		}

		db, err := store.OpenWithConcurrency(cfg.DBPath(), cfg.Writer.MaxConcurrency)
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "open storage layer")
		}
		defer db.Close()

		artifact, err := db.Restore(context.Background(), cfg.BackupDir(), args[0], mode)
		if err != nil {
			return err
		}
		fmt.Printf("restored project %s (mode=%s): %v\n", artifact.ProjectID, mode, artifact.Counts)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "list backup artifacts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "load config")
		}

		entries, err := os.ReadDir(cfg.BackupDir())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errs.Wrap(errs.NotAvailable, err, "list backup directory")
		}
		var names []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupProject, "project", "", "project to snapshot")
	backupRestoreCmd.Flags().StringVar(&backupRestoreMode, "mode", string(store.RestoreMerge), "restore mode: merge or replace")
	backupCmd.AddCommand(backupCreateCmd, backupRestoreCmd, backupListCmd)
}
