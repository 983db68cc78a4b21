package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/file"
	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/catalogguard/internal/service"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a YAML rules file into a SQLite store",
	Long: `Validate a YAML rules file and save its policies into a SQLite policy
store. Policies carrying an id replace the stored policy with that id;
the others are added.

Example:
  catalog-guard import --rules ./rules.yaml --sqlite /var/lib/catalog-guard/hive.db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return importRules(ctx, importRulesFile, importSQLitePath, cmd.OutOrStdout(), logger)
	},
}

var (
	importRulesFile  string
	importSQLitePath string
)

func init() {
	importCmd.Flags().StringVar(&importRulesFile, "rules", "", "YAML rules file to import")
	importCmd.Flags().StringVar(&importSQLitePath, "sqlite", "", "SQLite database to import into")
	_ = importCmd.MarkFlagRequired("rules")
	_ = importCmd.MarkFlagRequired("sqlite")
	rootCmd.AddCommand(importCmd)
}

// importRules saves every policy of rulesPath into the SQLite store at
// dbPath. Nothing is written unless the whole file validates.
func importRules(ctx context.Context, rulesPath, dbPath string, out io.Writer, logger *slog.Logger) error {
	policies, err := file.Load(rulesPath)
	if err != nil {
		return err
	}
	// Checked before the database is opened so a bad file leaves no trace.
	if err := validatePolicies(policies); err != nil {
		return fmt.Errorf("%s: %w", rulesPath, err)
	}

	store, err := sqlite.Open(ctx, dbPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc, err := service.NewPolicyService(ctx, store, logger)
	if err != nil {
		return fmt.Errorf("existing policies in %s: %w", dbPath, err)
	}
	if err := service.NewPolicyAdminService(store, svc, logger).Import(ctx, policies); err != nil {
		return err
	}

	rules := 0
	for _, p := range policies {
		rules += len(p.Rules)
	}
	fmt.Fprintf(out, "imported %d policies (%d rules) into %s\n", len(policies), rules, dbPath)
	return nil
}
