// Command justmemoryd is the justmemory process entrypoint: a cobra CLI
// exposing serve (the framed stdin/stdout protocol server), migrate, and
// backup create|restore|list, per spec Section 6's minimal CLI/process
// surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"justmemory/internal/config"
	"justmemory/internal/errs"
)

const (
	exitOK        = 0
	exitBadConfig = 2
	exitInternal  = 70
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "justmemoryd",
	Short:         "justmemory — a persistent, project-scoped memory engine for LLM agents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to the built-in defaults plus JUSTMEMORY_* env overrides)")
	rootCmd.AddCommand(serveCmd, migrateCmd, backupCmd)
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return exitOK
}

// exitCodeFor maps an error's kind to the process exit codes spec Section 6
// defines: SchemaError and ValidationError mean the process never reached a
// usable state (bad config), everything else is an internal failure.
func exitCodeFor(err error) int {
	switch errs.KindOf(err) {
	case errs.SchemaError, errs.ValidationError:
		return exitBadConfig
	default:
		return exitInternal
	}
}
