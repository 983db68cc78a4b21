package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
)

// blockingAccessControl allows everything, but select checks wait for release.
type blockingAccessControl struct {
	access.AllowAll
	release  chan struct{}
	finished chan struct{}
}

func newBlockingAccessControl() *blockingAccessControl {
	return &blockingAccessControl{
		release:  make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (b *blockingAccessControl) CheckCanSelectFromTable(access.Identity, access.SchemaTableName) error {
	<-b.release
	close(b.finished)
	return nil
}

// countingAccessControl records how many checks reached it.
type countingAccessControl struct {
	access.ConnectorAccessControl
	calls atomic.Int64
}

func (c *countingAccessControl) CheckCanSelectFromTable(id access.Identity, t access.SchemaTableName) error {
	c.calls.Add(1)
	return c.ConnectorAccessControl.CheckCanSelectFromTable(id, t)
}

func (c *countingAccessControl) CheckCanDropTable(id access.Identity, t access.SchemaTableName) error {
	c.calls.Add(1)
	return c.ConnectorAccessControl.CheckCanDropTable(id, t)
}

// panickingAccessControl allows everything except drops, where it panics.
type panickingAccessControl struct {
	access.AllowAll
}

func (panickingAccessControl) CheckCanDropTable(access.Identity, access.SchemaTableName) error {
	panic("rule store corrupted")
}

func newGate(t *testing.T, opts ...GateOption) *CatalogGate {
	t.Helper()
	return NewCatalogGate(testLogger(), opts...)
}

func TestCatalogGate_Register(t *testing.T) {
	t.Parallel()

	g := newGate(t)
	if err := g.Register("hive", access.AllowAll{}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := g.Register("hive", access.DenyAll{}); !errors.Is(err, ErrCatalogRegistered) {
		t.Errorf("duplicate Register() error = %v, want ErrCatalogRegistered", err)
	}
	if err := g.Register("", access.AllowAll{}); err == nil {
		t.Error("Register() accepted an empty catalog name")
	}
	if err := g.Register("iceberg", nil); err == nil {
		t.Error("Register() accepted a nil access control")
	}
	if err := g.Register("iceberg", access.ReadOnly{}); err != nil {
		t.Fatalf("Register(iceberg) error: %v", err)
	}

	if got := strings.Join(g.Catalogs(), ","); got != "hive,iceberg" {
		t.Errorf("Catalogs() = %s, want hive,iceberg", got)
	}
	if _, err := g.AccessControl("hive"); err != nil {
		t.Errorf("AccessControl(hive) error: %v", err)
	}
}

func TestCatalogGate_UnknownCatalog(t *testing.T) {
	t.Parallel()

	g := newGate(t)
	_, err := g.AccessControl("missing")
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("AccessControl() error = %v, want ErrCatalogNotFound", err)
	}

	err = g.CheckCanSelectFromTable(context.Background(), "missing", access.NewIdentity("u"), mustName(t, "s.t"))
	if !errors.Is(err, ErrCatalogNotFound) || access.IsAccessDenied(err) {
		t.Errorf("check against unknown catalog = %v, want ErrCatalogNotFound and not a denial", err)
	}
}

func TestCatalogGate_DenyAllNeverRunsOperation(t *testing.T) {
	t.Parallel()

	g := newGate(t)
	if err := g.Register("locked", access.DenyAll{}); err != nil {
		t.Fatal(err)
	}
	u := access.NewIdentity("u")
	name := mustName(t, "s.t")

	for _, a := range access.Actions() {
		c := access.Check{Action: a, Identity: u, Resource: name, NewResource: mustName(t, "s.t2"), Property: "p"}
		ran := false
		err := g.Guard(context.Background(), "locked", c, func(context.Context) error {
			ran = true
			return nil
		})
		if !access.IsAccessDenied(err) {
			t.Errorf("%s: Guard() = %v, want denial", a, err)
		}
		if ran {
			t.Errorf("%s: guarded operation ran after denial", a)
		}
	}
}

func TestCatalogGate_AllowAllRunsOperation(t *testing.T) {
	t.Parallel()

	g := newGate(t, WithCheckTimeout(time.Second))
	if err := g.Register("open", access.AllowAll{}); err != nil {
		t.Fatal(err)
	}
	u := access.NewIdentity("u")
	name := mustName(t, "s.t")

	for _, a := range access.Actions() {
		c := access.Check{Action: a, Identity: u, Resource: name, NewResource: mustName(t, "s.t2"), Property: "p"}
		ran := 0
		opErr := errors.New("operation failed")
		err := g.Guard(context.Background(), "open", c, func(context.Context) error {
			ran++
			return opErr
		})
		if !errors.Is(err, opErr) {
			t.Errorf("%s: Guard() = %v, want the operation's error", a, err)
		}
		if ran != 1 {
			t.Errorf("%s: operation ran %d times, want 1", a, ran)
		}
	}
}

func TestCatalogGate_PerActionMethods(t *testing.T) {
	t.Parallel()

	g := newGate(t)
	if err := g.Register("ro", access.ReadOnly{}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	u := access.NewIdentity("u")
	tbl, other := mustName(t, "s.t"), mustName(t, "s.t2")

	tests := []struct {
		name       string
		check      func() error
		wantDenied bool
	}{
		{"create table", func() error { return g.CheckCanCreateTable(ctx, "ro", u, tbl) }, true},
		{"drop table", func() error { return g.CheckCanDropTable(ctx, "ro", u, tbl) }, true},
		{"rename table", func() error { return g.CheckCanRenameTable(ctx, "ro", u, tbl, other) }, true},
		{"select from table", func() error { return g.CheckCanSelectFromTable(ctx, "ro", u, tbl) }, false},
		{"insert into table", func() error { return g.CheckCanInsertIntoTable(ctx, "ro", u, tbl) }, true},
		{"delete from table", func() error { return g.CheckCanDeleteFromTable(ctx, "ro", u, tbl) }, true},
		{"create view", func() error { return g.CheckCanCreateView(ctx, "ro", u, tbl) }, true},
		{"drop view", func() error { return g.CheckCanDropView(ctx, "ro", u, tbl) }, true},
		{"select from view", func() error { return g.CheckCanSelectFromView(ctx, "ro", u, tbl) }, false},
		{"set session property", func() error { return g.CheckCanSetCatalogSessionProperty(ctx, "ro", u, "p") }, false},
	}
	for _, tt := range tests {
		err := tt.check()
		if tt.wantDenied != access.IsAccessDenied(err) {
			t.Errorf("%s: error = %v, wantDenied %v", tt.name, err, tt.wantDenied)
		}
		if !tt.wantDenied && err != nil {
			t.Errorf("%s: error = %v, want nil", tt.name, err)
		}
	}
}

func TestCatalogGate_DeadlineExpiryIsDenial(t *testing.T) {
	t.Parallel()

	slow := newBlockingAccessControl()
	g := newGate(t, WithCheckTimeout(20*time.Millisecond))
	if err := g.Register("slow", slow); err != nil {
		t.Fatal(err)
	}

	ran := false
	err := g.Guard(context.Background(), "slow",
		access.SelectFromTable(access.NewIdentity("u"), mustName(t, "s.t")),
		func(context.Context) error {
			ran = true
			return nil
		})

	close(slow.release)
	<-slow.finished

	var denied *access.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Guard() = %v, want *DeniedError", err)
	}
	if denied.Reason != "authorization check did not complete in time" {
		t.Errorf("reason = %q", denied.Reason)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("denial does not unwrap to context.DeadlineExceeded: %v", err)
	}
	if ran {
		t.Error("guarded operation ran after expiry")
	}
}

func TestCatalogGate_CallerCancellation(t *testing.T) {
	t.Parallel()

	g := newGate(t)
	if err := g.Register("open", access.AllowAll{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.CheckCanDropTable(ctx, "open", access.NewIdentity("u"), mustName(t, "s.t"))
	if !access.IsAccessDenied(err) || !errors.Is(err, context.Canceled) {
		t.Errorf("check with cancelled context = %v, want denial wrapping context.Canceled", err)
	}

	// Without a deadline the check runs inline and completes.
	if err := g.CheckCanDropTable(context.Background(), "open", access.NewIdentity("u"), mustName(t, "s.t")); err != nil {
		t.Errorf("check without deadline = %v, want nil", err)
	}
}

func TestCatalogGate_InvalidCheckNeverReachesPolicy(t *testing.T) {
	t.Parallel()

	counting := &countingAccessControl{ConnectorAccessControl: access.AllowAll{}}
	g := newGate(t)
	if err := g.Register("hive", counting); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		check access.Check
	}{
		{"empty user", access.SelectFromTable(access.Identity{}, mustName(t, "s.t"))},
		{"empty schema", access.SelectFromTable(access.NewIdentity("u"), access.SchemaTableName{Table: "t"})},
		{"empty table", access.DropTable(access.NewIdentity("u"), access.SchemaTableName{Schema: "s"})},
		{"unknown action", access.Check{Action: 0, Identity: access.NewIdentity("u")}},
	}
	for _, tt := range tests {
		err := g.Check(context.Background(), "hive", tt.check)
		if !errors.Is(err, ErrInvalidCheck) {
			t.Errorf("%s: error = %v, want ErrInvalidCheck", tt.name, err)
		}
		if access.IsAccessDenied(err) {
			t.Errorf("%s: resolution error reported as denial", tt.name)
		}
	}
	if n := counting.calls.Load(); n != 0 {
		t.Errorf("policy consulted %d times for invalid checks", n)
	}

	err := g.Check(context.Background(), "hive", access.SelectFromTable(access.NewIdentity("u"), access.SchemaTableName{Table: "t"}))
	if !errors.Is(err, access.ErrInvalidName) {
		t.Errorf("error = %v, want wrapped ErrInvalidName", err)
	}
}

func TestCatalogGate_CheckAllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	counting := &countingAccessControl{ConnectorAccessControl: access.ReadOnly{}}
	g := newGate(t)
	if err := g.Register("ro", counting); err != nil {
		t.Fatal(err)
	}
	u := access.NewIdentity("u")
	tbl := mustName(t, "s.t")

	err := g.CheckAll(context.Background(), "ro",
		access.SelectFromTable(u, tbl),
		access.DropTable(u, tbl),
		access.SelectFromTable(u, tbl),
	)
	var denied *access.DeniedError
	if !errors.As(err, &denied) || denied.Action != access.ActionDropTable {
		t.Fatalf("CheckAll() = %v, want drop_table denial", err)
	}
	if n := counting.calls.Load(); n != 2 {
		t.Errorf("checks run = %d, want 2", n)
	}

	if err := g.CheckAll(context.Background(), "ro", access.SelectFromTable(u, tbl), access.SelectFromView(u, tbl)); err != nil {
		t.Errorf("CheckAll(all allowed) = %v", err)
	}
}

func TestCatalogGate_WithInstrumentedRuleBasedPolicy(t *testing.T) {
	t.Parallel()

	g := newGate(t, WithCheckTimeout(time.Second))
	ac := NewInstrumentedAccessControl("hive", newSalesAccessControl(t), nil, nil, testLogger())
	if err := g.Register("hive", ac); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	alice := access.NewIdentity("alice", "analyst")
	orders := mustName(t, "sales.orders")

	if err := g.CheckCanSelectFromTable(ctx, "hive", alice, orders); err != nil {
		t.Errorf("alice select = %v, want nil", err)
	}
	if err := g.CheckCanInsertIntoTable(ctx, "hive", alice, orders); !access.IsAccessDenied(err) {
		t.Errorf("alice insert = %v, want denial", err)
	}
	err := g.CheckCanRenameTable(ctx, "hive", access.NewIdentity("bob"), orders, mustName(t, "sales.orders_archive"))
	if !access.IsAccessDenied(err) || !strings.Contains(err.Error(), "source") {
		t.Errorf("bob rename = %v, want denial on the source side", err)
	}
}

func TestCatalogGate_PanickingPolicyIsEvaluationError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []GateOption
	}{
		{name: "inline", opts: nil},
		{name: "with deadline", opts: []GateOption{WithCheckTimeout(time.Second)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := newGate(t, tt.opts...)
			if err := g.Register("broken", panickingAccessControl{}); err != nil {
				t.Fatal(err)
			}

			ran := false
			err := g.Guard(context.Background(), "broken",
				access.DropTable(access.NewIdentity("u"), mustName(t, "s.t")),
				func(context.Context) error {
					ran = true
					return nil
				})

			var evalErr *access.EvaluationError
			if !errors.As(err, &evalErr) {
				t.Fatalf("Guard() = %v, want *EvaluationError", err)
			}
			if access.IsAccessDenied(err) {
				t.Error("panic reported as a denial")
			}
			if !strings.Contains(err.Error(), "rule store corrupted") {
				t.Errorf("error = %q, want the panic value", err)
			}
			if ran {
				t.Error("guarded operation ran after a panicking check")
			}

			// The gate keeps serving other checks.
			if err := g.CheckCanSelectFromTable(context.Background(), "broken", access.NewIdentity("u"), mustName(t, "s.t")); err != nil {
				t.Errorf("select after panic = %v, want nil", err)
			}
		})
	}
}
