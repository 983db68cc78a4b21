package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/telemetry"
)

// InstrumentedAccessControl decorates a ConnectorAccessControl with metrics,
// one span per check and structured logs. Outcomes pass through unchanged.
type InstrumentedAccessControl struct {
	catalog string
	next    access.ConnectorAccessControl
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewInstrumentedAccessControl wraps next. metrics and tracer may be nil.
func NewInstrumentedAccessControl(catalog string, next access.ConnectorAccessControl, metrics *telemetry.Metrics, tracer trace.Tracer, logger *slog.Logger) *InstrumentedAccessControl {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(telemetry.TracerName)
	}
	return &InstrumentedAccessControl{
		catalog: catalog,
		next:    next,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}
}

func (ic *InstrumentedAccessControl) observe(action access.Action, identity access.Identity, target string, check func() error) error {
	start := time.Now()
	_, span := ic.tracer.Start(context.Background(), "access."+action.String(),
		trace.WithAttributes(
			attribute.String("catalog", ic.catalog),
			attribute.String("action", action.String()),
			attribute.String("user", identity.User),
			attribute.String("target", target),
		),
	)
	defer span.End()

	err := check()
	elapsed := time.Since(start)

	result := telemetry.ResultAllowed
	switch {
	case err == nil:
		ic.logger.Debug("access allowed",
			"catalog", ic.catalog, "action", action.String(), "user", identity.User, "target", target)
	case access.IsAccessDenied(err):
		result = telemetry.ResultDenied
		ic.logger.Info("access denied",
			"catalog", ic.catalog, "action", action.String(), "user", identity.User, "target", target,
			"error", err)
	default:
		result = telemetry.ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ic.logger.Error("access check failed",
			"catalog", ic.catalog, "action", action.String(), "user", identity.User, "target", target,
			"error", err)
	}
	span.SetAttributes(attribute.String("result", result))

	if ic.metrics != nil {
		ic.metrics.ChecksTotal.WithLabelValues(ic.catalog, action.String(), result).Inc()
		ic.metrics.CheckDuration.WithLabelValues(ic.catalog, action.String()).Observe(elapsed.Seconds())
	}
	return err
}

func (ic *InstrumentedAccessControl) CheckCanCreateTable(identity access.Identity, table access.SchemaTableName) error {
	return ic.observe(access.ActionCreateTable, identity, table.String(), func() error {
		return ic.next.CheckCanCreateTable(identity, table)
	})
}

func (ic *InstrumentedAccessControl) CheckCanDropTable(identity access.Identity, table access.SchemaTableName) error {
	return ic.observe(access.ActionDropTable, identity, table.String(), func() error {
		return ic.next.CheckCanDropTable(identity, table)
	})
}

func (ic *InstrumentedAccessControl) CheckCanRenameTable(identity access.Identity, table, newTable access.SchemaTableName) error {
	return ic.observe(access.ActionRenameTable, identity, table.String()+" -> "+newTable.String(), func() error {
		return ic.next.CheckCanRenameTable(identity, table, newTable)
	})
}

func (ic *InstrumentedAccessControl) CheckCanSelectFromTable(identity access.Identity, table access.SchemaTableName) error {
	return ic.observe(access.ActionSelectFromTable, identity, table.String(), func() error {
		return ic.next.CheckCanSelectFromTable(identity, table)
	})
}

func (ic *InstrumentedAccessControl) CheckCanInsertIntoTable(identity access.Identity, table access.SchemaTableName) error {
	return ic.observe(access.ActionInsertIntoTable, identity, table.String(), func() error {
		return ic.next.CheckCanInsertIntoTable(identity, table)
	})
}

func (ic *InstrumentedAccessControl) CheckCanDeleteFromTable(identity access.Identity, table access.SchemaTableName) error {
	return ic.observe(access.ActionDeleteFromTable, identity, table.String(), func() error {
		return ic.next.CheckCanDeleteFromTable(identity, table)
	})
}

func (ic *InstrumentedAccessControl) CheckCanCreateView(identity access.Identity, view access.SchemaTableName) error {
	return ic.observe(access.ActionCreateView, identity, view.String(), func() error {
		return ic.next.CheckCanCreateView(identity, view)
	})
}

func (ic *InstrumentedAccessControl) CheckCanDropView(identity access.Identity, view access.SchemaTableName) error {
	return ic.observe(access.ActionDropView, identity, view.String(), func() error {
		return ic.next.CheckCanDropView(identity, view)
	})
}

func (ic *InstrumentedAccessControl) CheckCanSelectFromView(identity access.Identity, view access.SchemaTableName) error {
	return ic.observe(access.ActionSelectFromView, identity, view.String(), func() error {
		return ic.next.CheckCanSelectFromView(identity, view)
	})
}

func (ic *InstrumentedAccessControl) CheckCanSetCatalogSessionProperty(identity access.Identity, propertyName string) error {
	return ic.observe(access.ActionSetCatalogSessionProperty, identity, propertyName, func() error {
		return ic.next.CheckCanSetCatalogSessionProperty(identity, propertyName)
	})
}

// Compile-time interface verification.
var _ access.ConnectorAccessControl = (*InstrumentedAccessControl)(nil)
