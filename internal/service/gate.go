package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
)

var (
	// ErrCatalogNotFound is returned for checks against an unregistered catalog.
	ErrCatalogNotFound = errors.New("catalog not found")
	// ErrCatalogRegistered is returned when a catalog is registered twice.
	ErrCatalogRegistered = errors.New("catalog already registered")
	// ErrInvalidCheck is returned for checks whose arguments failed resolution.
	// No policy is consulted for them.
	ErrInvalidCheck = errors.New("invalid access check")
)

// deadlineReason is the denial reason when a check outlives its deadline.
const deadlineReason = "authorization check did not complete in time"

// CatalogGate is the engine-facing entry point: it routes checks to the policy
// registered for each catalog and enforces the per-check deadline the
// contract itself cannot express. A check that outlives its deadline is
// reported as a denial.
type CatalogGate struct {
	mu       sync.RWMutex
	catalogs map[string]access.ConnectorAccessControl

	timeout time.Duration
	logger  *slog.Logger
}

// GateOption configures CatalogGate.
type GateOption func(*CatalogGate)

// WithCheckTimeout bounds every check. Zero means only the caller's context
// bounds it.
func WithCheckTimeout(d time.Duration) GateOption {
	return func(g *CatalogGate) {
		g.timeout = d
	}
}

// NewCatalogGate creates a gate with no catalogs.
func NewCatalogGate(logger *slog.Logger, opts ...GateOption) *CatalogGate {
	g := &CatalogGate{
		catalogs: make(map[string]access.ConnectorAccessControl),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register installs the policy for catalog.
func (g *CatalogGate) Register(catalog string, ac access.ConnectorAccessControl) error {
	if catalog == "" {
		return errors.New("catalog name is empty")
	}
	if ac == nil {
		return fmt.Errorf("catalog %s: access control is nil", catalog)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.catalogs[catalog]; ok {
		return fmt.Errorf("%w: %s", ErrCatalogRegistered, catalog)
	}
	g.catalogs[catalog] = ac
	g.logger.Debug("catalog registered", "catalog", catalog)
	return nil
}

// AccessControl returns the policy registered for catalog.
func (g *CatalogGate) AccessControl(catalog string) (access.ConnectorAccessControl, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ac, ok := g.catalogs[catalog]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, catalog)
	}
	return ac, nil
}

// Catalogs returns the registered catalog names, sorted.
func (g *CatalogGate) Catalogs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.catalogs))
	for name := range g.catalogs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs c against the policy of catalog.
func (g *CatalogGate) Check(ctx context.Context, catalog string, c access.Check) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCheck, err)
	}
	ac, err := g.AccessControl(catalog)
	if err != nil {
		return err
	}
	return g.await(ctx, c, ac)
}

// CheckAll runs checks in order and returns the first failure. Later checks
// are not run once one fails.
func (g *CatalogGate) CheckAll(ctx context.Context, catalog string, checks ...access.Check) error {
	for _, c := range checks {
		if err := g.Check(ctx, catalog, c); err != nil {
			return err
		}
	}
	return nil
}

// Guard runs op only if check succeeds. Otherwise the check error is returned
// and op is never invoked.
func (g *CatalogGate) Guard(ctx context.Context, catalog string, check access.Check, op func(context.Context) error) error {
	if err := g.Check(ctx, catalog, check); err != nil {
		return err
	}
	return op(ctx)
}

// await runs the check, bounded by ctx and the gate timeout. The check cannot
// be cancelled; on expiry its goroutine finishes in the background and its
// result is discarded.
func (g *CatalogGate) await(ctx context.Context, c access.Check, ac access.ConnectorAccessControl) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if ctx.Done() == nil {
		return g.run(c, ac)
	}
	if err := ctx.Err(); err != nil {
		return g.expired(c, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.run(c, ac)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return g.expired(c, ctx.Err())
	}
}

// run invokes the policy. A panicking policy reached no decision and is
// reported as an *access.EvaluationError.
func (g *CatalogGate) run(c access.Check, ac access.ConnectorAccessControl) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("access control panicked",
				"action", c.Action.String(), "user", c.Identity.User, "panic", r)
			err = &access.EvaluationError{
				Action: c.Action,
				User:   c.Identity.User,
				Err:    fmt.Errorf("policy panicked: %v", r),
			}
		}
	}()
	return c.Run(ac)
}

func (g *CatalogGate) expired(c access.Check, cause error) error {
	g.logger.Warn("access check expired",
		"action", c.Action.String(), "user", c.Identity.User, "error", cause)
	return c.Deny(deadlineReason).WithCause(cause)
}

func (g *CatalogGate) CheckCanCreateTable(ctx context.Context, catalog string, identity access.Identity, table access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.CreateTable(identity, table))
}

func (g *CatalogGate) CheckCanDropTable(ctx context.Context, catalog string, identity access.Identity, table access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.DropTable(identity, table))
}

func (g *CatalogGate) CheckCanRenameTable(ctx context.Context, catalog string, identity access.Identity, table, newTable access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.RenameTable(identity, table, newTable))
}

func (g *CatalogGate) CheckCanSelectFromTable(ctx context.Context, catalog string, identity access.Identity, table access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.SelectFromTable(identity, table))
}

func (g *CatalogGate) CheckCanInsertIntoTable(ctx context.Context, catalog string, identity access.Identity, table access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.InsertIntoTable(identity, table))
}

func (g *CatalogGate) CheckCanDeleteFromTable(ctx context.Context, catalog string, identity access.Identity, table access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.DeleteFromTable(identity, table))
}

func (g *CatalogGate) CheckCanCreateView(ctx context.Context, catalog string, identity access.Identity, view access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.CreateView(identity, view))
}

func (g *CatalogGate) CheckCanDropView(ctx context.Context, catalog string, identity access.Identity, view access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.DropView(identity, view))
}

func (g *CatalogGate) CheckCanSelectFromView(ctx context.Context, catalog string, identity access.Identity, view access.SchemaTableName) error {
	return g.Check(ctx, catalog, access.SelectFromView(identity, view))
}

func (g *CatalogGate) CheckCanSetCatalogSessionProperty(ctx context.Context, catalog string, identity access.Identity, propertyName string) error {
	return g.Check(ctx, catalog, access.SetCatalogSessionProperty(identity, propertyName))
}
