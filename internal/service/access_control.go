package service

import (
	"context"
	"time"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// RuleBasedAccessControl implements access.ConnectorAccessControl by asking a
// policy engine about every check. Engine errors become
// *access.EvaluationError; decisions that do not allow become
// *access.DeniedError carrying the decision reason.
type RuleBasedAccessControl struct {
	catalog string
	engine  policy.PolicyEngine
	now     func() time.Time
}

// RuleBasedOption configures RuleBasedAccessControl.
type RuleBasedOption func(*RuleBasedAccessControl)

// WithClock overrides the source of Request.RequestTime.
func WithClock(now func() time.Time) RuleBasedOption {
	return func(ac *RuleBasedAccessControl) {
		ac.now = now
	}
}

// NewRuleBasedAccessControl returns the contract for catalog backed by engine.
func NewRuleBasedAccessControl(catalog string, engine policy.PolicyEngine, opts ...RuleBasedOption) *RuleBasedAccessControl {
	ac := &RuleBasedAccessControl{
		catalog: catalog,
		engine:  engine,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ac)
	}
	return ac
}

func (ac *RuleBasedAccessControl) request(identity access.Identity, action, operation access.Action) policy.Request {
	return policy.Request{
		Catalog:     ac.catalog,
		User:        identity.User,
		Roles:       identity.Roles,
		Action:      action,
		Operation:   operation,
		RequestTime: ac.now().UTC(),
	}
}

// decide returns ("", nil) when allowed, a non-empty denial reason when
// denied, or an *access.EvaluationError for op.
func (ac *RuleBasedAccessControl) decide(req policy.Request, op access.Action) (string, error) {
	decision, err := ac.engine.Evaluate(context.Background(), req)
	if err != nil {
		return "", &access.EvaluationError{Action: op, User: req.User, Err: err}
	}
	if decision.Allowed {
		return "", nil
	}
	if decision.Reason == "" {
		return "denied", nil
	}
	return decision.Reason, nil
}

func (ac *RuleBasedAccessControl) checkName(identity access.Identity, action access.Action, name access.SchemaTableName) error {
	req := ac.request(identity, action, action)
	req.Resource = name

	reason, err := ac.decide(req, action)
	if err != nil {
		return err
	}
	if reason != "" {
		return access.Deny(action, identity, name, reason)
	}
	return nil
}

func (ac *RuleBasedAccessControl) CheckCanCreateTable(identity access.Identity, table access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionCreateTable, table)
}

func (ac *RuleBasedAccessControl) CheckCanDropTable(identity access.Identity, table access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionDropTable, table)
}

// CheckCanRenameTable asks for drop_table on the source and then create_table
// on the destination, both with operation rename_table. The first side that is
// not allowed denies the rename.
func (ac *RuleBasedAccessControl) CheckCanRenameTable(identity access.Identity, table, newTable access.SchemaTableName) error {
	sides := []struct {
		action access.Action
		name   access.SchemaTableName
		label  string
	}{
		{access.ActionDropTable, table, "source"},
		{access.ActionCreateTable, newTable, "destination"},
	}

	for _, side := range sides {
		req := ac.request(identity, side.action, access.ActionRenameTable)
		req.Resource = side.name

		reason, err := ac.decide(req, access.ActionRenameTable)
		if err != nil {
			return err
		}
		if reason != "" {
			return access.DenyRenameTable(identity, table, newTable,
				side.action.Verb()+" denied on "+side.label+" "+side.name.String()+": "+reason)
		}
	}
	return nil
}

func (ac *RuleBasedAccessControl) CheckCanSelectFromTable(identity access.Identity, table access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionSelectFromTable, table)
}

func (ac *RuleBasedAccessControl) CheckCanInsertIntoTable(identity access.Identity, table access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionInsertIntoTable, table)
}

func (ac *RuleBasedAccessControl) CheckCanDeleteFromTable(identity access.Identity, table access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionDeleteFromTable, table)
}

func (ac *RuleBasedAccessControl) CheckCanCreateView(identity access.Identity, view access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionCreateView, view)
}

func (ac *RuleBasedAccessControl) CheckCanDropView(identity access.Identity, view access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionDropView, view)
}

func (ac *RuleBasedAccessControl) CheckCanSelectFromView(identity access.Identity, view access.SchemaTableName) error {
	return ac.checkName(identity, access.ActionSelectFromView, view)
}

func (ac *RuleBasedAccessControl) CheckCanSetCatalogSessionProperty(identity access.Identity, propertyName string) error {
	req := ac.request(identity, access.ActionSetCatalogSessionProperty, access.ActionSetCatalogSessionProperty)
	req.Property = propertyName

	reason, err := ac.decide(req, access.ActionSetCatalogSessionProperty)
	if err != nil {
		return err
	}
	if reason != "" {
		return access.DenySetCatalogSessionProperty(identity, propertyName, reason)
	}
	return nil
}

// Compile-time interface verification.
var _ access.ConnectorAccessControl = (*RuleBasedAccessControl)(nil)
