// Package cmd provides the CLI commands for catalog-guard.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/catalogguard/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "catalog-guard",
	Short: "catalog-guard - catalog access control",
	Long: `catalog-guard decides whether a user may perform a catalog operation
(create, drop or rename a table, select, insert, delete, manage views,
set session properties) under the policy configured for each catalog.

Quick start:
  1. Create a config file: catalog-guard.yaml
  2. Run: catalog-guard check select_from_table sales.orders --user alice

Configuration:
  Config is loaded from catalog-guard.yaml in the current directory,
  $HOME/.catalog-guard/, or /etc/catalog-guard/.

  Environment variables can override config values with the CATALOG_GUARD_ prefix.
  Example: CATALOG_GUARD_CHECK_TIMEOUT=250ms

Commands:
  check       Run one access check
  validate    Validate the configuration and rules
  import      Load a YAML rules file into a SQLite store
  version     Print version information`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// exitError carries a process exit code. Its message has already been
// printed by the command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./catalog-guard.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
