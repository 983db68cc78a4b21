package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/catalogguard/internal/config"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
)

// Exit codes of the check command. Allowed exits 0.
const (
	exitFailure = 1
	exitDenied  = 2
)

var checkCmd = &cobra.Command{
	Use:   "check <action> <schema.table | property>",
	Short: "Run one access check",
	Long: `Run one access check through the configured catalog policy.

Prints ALLOWED, or the denial message. Exit status is 0 when allowed,
2 when denied and 1 when the policy could not be evaluated.

Actions:
  create_table, drop_table, rename_table, select_from_table,
  insert_into_table, delete_from_table, create_view, drop_view,
  select_from_view, set_catalog_session_property

Examples:
  catalog-guard check select_from_table sales.orders --user alice --role analyst
  catalog-guard check rename_table sales.orders --new-name sales.orders_archive --user bob
  catalog-guard check set_catalog_session_property query_max_memory --user etl`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

var (
	checkCatalog string
	checkUser    string
	checkRoles   []string
	checkNewName string
	checkMetrics bool
)

func init() {
	checkCmd.Flags().StringVar(&checkCatalog, "catalog", config.DefaultCatalog, "catalog to check against")
	checkCmd.Flags().StringVar(&checkUser, "user", "", "user the check runs as")
	checkCmd.Flags().StringSliceVar(&checkRoles, "role", nil, "role of the user (repeatable)")
	checkCmd.Flags().StringVar(&checkNewName, "new-name", "", "destination schema.table for rename_table")
	checkCmd.Flags().BoolVar(&checkMetrics, "metrics", false, "print check metrics to stderr afterwards")
	_ = checkCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Debug("loaded config", "file", configFile)
	}

	c, err := buildCheck(args[0], args[1], checkUser, checkRoles, checkNewName)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	g, err := newGuard(ctx, cfg, os.Stderr, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(context.Background()); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
	}()

	checkErr := runAccessCheck(ctx, g, checkCatalog, c, cmd.OutOrStdout())
	if checkMetrics {
		if err := writeMetrics(cmd.ErrOrStderr(), g.registry); err != nil {
			logger.Warn("failed to gather metrics", "error", err)
		}
	}
	return checkErr
}

// buildCheck turns command-line arguments into a Check. target is a
// schema.table name, or the property name for set_catalog_session_property.
func buildCheck(token, target, user string, roles []string, newName string) (access.Check, error) {
	action, err := access.ParseAction(token)
	if err != nil {
		return access.Check{}, err
	}
	c := access.Check{Action: action, Identity: access.NewIdentity(user, roles...)}

	if action == access.ActionSetCatalogSessionProperty {
		c.Property = target
		return c, nil
	}

	if c.Resource, err = access.ParseSchemaTableName(target); err != nil {
		return access.Check{}, err
	}
	if action == access.ActionRenameTable {
		if newName == "" {
			return access.Check{}, errors.New("rename_table requires --new-name")
		}
		if c.NewResource, err = access.ParseSchemaTableName(newName); err != nil {
			return access.Check{}, fmt.Errorf("--new-name: %w", err)
		}
	} else if newName != "" {
		return access.Check{}, fmt.Errorf("--new-name only applies to rename_table, not %s", action)
	}
	return c, nil
}

// runAccessCheck runs c and reports the outcome on out. Denials and
// evaluation failures come back as *exitError.
func runAccessCheck(ctx context.Context, g *guard, catalog string, c access.Check, out io.Writer) error {
	err := g.gate.Check(ctx, catalog, c)
	switch {
	case err == nil:
		fmt.Fprintln(out, "ALLOWED")
		return nil
	case access.IsAccessDenied(err):
		fmt.Fprintln(out, err.Error())
		return &exitError{code: exitDenied, err: err}
	case errors.Is(err, access.ErrEvaluationFailed):
		fmt.Fprintf(out, "ERROR: %v\n", err)
		return &exitError{code: exitFailure, err: err}
	default:
		return err
	}
}

// writeMetrics prints every gathered sample as "name{labels} value".
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "%s%s %s\n", mf.GetName(), formatLabels(m.GetLabel()), formatSample(mf.GetType(), m))
		}
	}
	return nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, lp := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

func formatSample(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	default:
		return "?"
	}
}
