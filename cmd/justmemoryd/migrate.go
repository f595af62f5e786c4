package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"justmemory/internal/errs"
	"justmemory/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "open the database, applying any pending schema migrations, and report its version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "load config")
		}

		db, err := store.OpenWithConcurrency(cfg.DBPath(), cfg.Writer.MaxConcurrency)
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "open storage layer")
		}
		defer db.Close()

		fmt.Printf("schema version %d at %s\n", store.CurrentSchemaVersion, cfg.DBPath())
		return nil
	},
}
