package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/file"
	"github.com/Sentinel-Gate/catalogguard/internal/config"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
	"github.com/Sentinel-Gate/catalogguard/internal/service"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and rules",
	Long: `Validate the configuration file, every inline policy and every rules
file it references. Rule conditions are compiled, so CEL errors are
reported here rather than at the first check.

Examples:
  catalog-guard validate
  catalog-guard validate --rules ./rules.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var validateRulesFile string

func init() {
	validateCmd.Flags().StringVar(&validateRulesFile, "rules", "", "also validate this YAML rules file")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if err := validateCatalogRules(cfg, out); err != nil {
		return err
	}
	if validateRulesFile != "" {
		if err := validateRulesPath(validateRulesFile, out); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "configuration OK (%d catalogs)\n", len(cfg.Catalogs))
	return nil
}

// validateCatalogRules validates the inline policies and rules files of
// every rules-mode catalog.
func validateCatalogRules(cfg *config.Config, out io.Writer) error {
	for _, cat := range cfg.Catalogs {
		if cat.Mode != config.ModeRules {
			continue
		}
		if err := validatePolicies(cat.ToPolicies()); err != nil {
			return fmt.Errorf("catalog %s: %w", cat.Name, err)
		}
		if cat.Store == config.StoreFile {
			if _, err := os.Stat(cat.RulesFile); os.IsNotExist(err) {
				fmt.Fprintf(out, "catalog %s: rules file %s does not exist yet\n", cat.Name, cat.RulesFile)
				continue
			}
			if err := validateRulesPath(cat.RulesFile, io.Discard); err != nil {
				return fmt.Errorf("catalog %s: %w", cat.Name, err)
			}
		}
	}
	return nil
}

func validateRulesPath(path string, out io.Writer) error {
	policies, err := file.Load(path)
	if err != nil {
		return err
	}
	if err := validatePolicies(policies); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(out, "%s: %d policies OK\n", path, len(policies))
	return nil
}

func validatePolicies(policies []policy.Policy) error {
	for _, p := range policies {
		if err := service.ValidateRuleSet(p.Rules); err != nil {
			return fmt.Errorf("policy %q: %w", p.Name, err)
		}
	}
	return nil
}
