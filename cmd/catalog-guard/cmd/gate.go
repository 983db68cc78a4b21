package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/file"
	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/catalogguard/internal/config"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
	"github.com/Sentinel-Gate/catalogguard/internal/service"
	"github.com/Sentinel-Gate/catalogguard/internal/telemetry"
)

// guard is a CatalogGate wired from configuration, together with the
// resources it holds open.
type guard struct {
	gate     *service.CatalogGate
	registry *prometheus.Registry
	closers  []func(context.Context) error
}

// Close releases stores and flushes spans. All closers run; the first error
// is returned.
func (g *guard) Close(ctx context.Context) error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newGuard builds the gate for cfg. spans receives exported spans when
// tracing is enabled.
func newGuard(ctx context.Context, cfg *config.Config, spans io.Writer, logger *slog.Logger) (*guard, error) {
	g := &guard{
		gate:     service.NewCatalogGate(logger, service.WithCheckTimeout(cfg.CheckTimeoutDuration())),
		registry: prometheus.NewRegistry(),
	}
	metrics := telemetry.NewMetrics(g.registry)

	tp, shutdown, err := telemetry.NewTracerProvider(cfg.Tracing.Enabled, spans, "catalog-guard")
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, shutdown)
	tracer := tp.Tracer(telemetry.TracerName)

	for _, cat := range cfg.Catalogs {
		catLogger := logger.With("catalog", cat.Name)

		ac, err := g.buildAccessControl(ctx, cat, metrics, catLogger)
		if err != nil {
			_ = g.Close(ctx)
			return nil, fmt.Errorf("catalog %s: %w", cat.Name, err)
		}
		instrumented := service.NewInstrumentedAccessControl(cat.Name, ac, metrics, tracer, catLogger)
		if err := g.gate.Register(cat.Name, instrumented); err != nil {
			_ = g.Close(ctx)
			return nil, err
		}
		catLogger.Debug("catalog configured", "mode", cat.Mode)
	}
	return g, nil
}

func (g *guard) buildAccessControl(ctx context.Context, cat config.CatalogConfig, metrics *telemetry.Metrics, logger *slog.Logger) (access.ConnectorAccessControl, error) {
	switch cat.Mode {
	case config.ModeAllowAll:
		return access.AllowAll{}, nil
	case config.ModeDenyAll:
		return access.DenyAll{}, nil
	case config.ModeReadOnly:
		return access.ReadOnly{}, nil
	case config.ModeRules:
	default:
		return nil, fmt.Errorf("unknown mode %q", cat.Mode)
	}

	store, err := g.openStore(ctx, cat, logger)
	if err != nil {
		return nil, err
	}
	for _, p := range cat.ToPolicies() {
		if err := store.SavePolicy(ctx, &p); err != nil {
			return nil, fmt.Errorf("save policy %q: %w", p.Name, err)
		}
	}
	if cat.SeedDefaultPolicy {
		if err := service.SeedDefaultPolicy(ctx, store, logger); err != nil {
			return nil, err
		}
	}

	svc, err := service.NewPolicyService(ctx, store, logger,
		service.WithCacheSize(cat.CacheSize),
		service.WithDefaultEffect(policy.Effect(cat.DefaultEffect)),
		service.WithReloadHook(metrics.PolicyReloads.Inc),
	)
	if err != nil {
		return nil, err
	}
	return service.NewRuleBasedAccessControl(cat.Name, svc), nil
}

func (g *guard) openStore(ctx context.Context, cat config.CatalogConfig, logger *slog.Logger) (policy.PolicyStore, error) {
	switch cat.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cat.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case config.StoreFile:
		return file.Open(ctx, cat.RulesFile, logger)
	default:
		return memory.NewPolicyStore(), nil
	}
}

// newLogger writes text logs to stderr; stdout carries command output.
func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
