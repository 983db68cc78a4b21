package access

import "fmt"

// Check describes one invocation of a ConnectorAccessControl method. It lets
// call sites that decide the action at runtime (the CLI, the gate) build a check
// without a closure per action. Policies still implement one method per action.
type Check struct {
	Action   Action
	Identity Identity
	// Resource is the table or view. Unused for session property checks.
	Resource SchemaTableName
	// NewResource is the rename destination.
	NewResource SchemaTableName
	// Property is the catalog session property name.
	Property string
}

// Run invokes the method matching c.Action on ac.
func (c Check) Run(ac ConnectorAccessControl) error {
	switch c.Action {
	case ActionCreateTable:
		return ac.CheckCanCreateTable(c.Identity, c.Resource)
	case ActionDropTable:
		return ac.CheckCanDropTable(c.Identity, c.Resource)
	case ActionRenameTable:
		return ac.CheckCanRenameTable(c.Identity, c.Resource, c.NewResource)
	case ActionSelectFromTable:
		return ac.CheckCanSelectFromTable(c.Identity, c.Resource)
	case ActionInsertIntoTable:
		return ac.CheckCanInsertIntoTable(c.Identity, c.Resource)
	case ActionDeleteFromTable:
		return ac.CheckCanDeleteFromTable(c.Identity, c.Resource)
	case ActionCreateView:
		return ac.CheckCanCreateView(c.Identity, c.Resource)
	case ActionDropView:
		return ac.CheckCanDropView(c.Identity, c.Resource)
	case ActionSelectFromView:
		return ac.CheckCanSelectFromView(c.Identity, c.Resource)
	case ActionSetCatalogSessionProperty:
		return ac.CheckCanSetCatalogSessionProperty(c.Identity, c.Property)
	default:
		return fmt.Errorf("unknown action %s", c.Action)
	}
}

// Validate rejects checks whose arguments could not have come from the
// engine's resolution layer. It never reports a denial.
func (c Check) Validate() error {
	if !c.Action.Valid() {
		return fmt.Errorf("unknown action %s", c.Action)
	}
	if c.Identity.User == "" {
		return fmt.Errorf("%s: identity has no user", c.Action)
	}
	if c.Action == ActionSetCatalogSessionProperty {
		if c.Property == "" {
			return fmt.Errorf("%s: property name is empty", c.Action)
		}
		return nil
	}
	if _, err := NewSchemaTableName(c.Resource.Schema, c.Resource.Table); err != nil {
		return fmt.Errorf("%s: %w", c.Action, err)
	}
	if c.Action == ActionRenameTable {
		if _, err := NewSchemaTableName(c.NewResource.Schema, c.NewResource.Table); err != nil {
			return fmt.Errorf("%s: new name: %w", c.Action, err)
		}
	}
	return nil
}

// Deny returns the denial of c with the given reason.
func (c Check) Deny(reason string) *DeniedError {
	switch c.Action {
	case ActionRenameTable:
		return DenyRenameTable(c.Identity, c.Resource, c.NewResource, reason)
	case ActionSetCatalogSessionProperty:
		return DenySetCatalogSessionProperty(c.Identity, c.Property, reason)
	default:
		return Deny(c.Action, c.Identity, c.Resource, reason)
	}
}

// Constructors for each action. Arguments are not validated here; the gate
// rejects incomplete checks with a resolution error.

// CreateTable describes CheckCanCreateTable.
func CreateTable(id Identity, t SchemaTableName) Check {
	return Check{Action: ActionCreateTable, Identity: id, Resource: t}
}

// DropTable describes CheckCanDropTable.
func DropTable(id Identity, t SchemaTableName) Check {
	return Check{Action: ActionDropTable, Identity: id, Resource: t}
}

// RenameTable describes CheckCanRenameTable from t to newTable.
func RenameTable(id Identity, t, newTable SchemaTableName) Check {
	return Check{Action: ActionRenameTable, Identity: id, Resource: t, NewResource: newTable}
}

// SelectFromTable describes CheckCanSelectFromTable.
func SelectFromTable(id Identity, t SchemaTableName) Check {
	return Check{Action: ActionSelectFromTable, Identity: id, Resource: t}
}

// InsertIntoTable describes CheckCanInsertIntoTable.
func InsertIntoTable(id Identity, t SchemaTableName) Check {
	return Check{Action: ActionInsertIntoTable, Identity: id, Resource: t}
}

// DeleteFromTable describes CheckCanDeleteFromTable.
func DeleteFromTable(id Identity, t SchemaTableName) Check {
	return Check{Action: ActionDeleteFromTable, Identity: id, Resource: t}
}

// CreateView describes CheckCanCreateView.
func CreateView(id Identity, v SchemaTableName) Check {
	return Check{Action: ActionCreateView, Identity: id, Resource: v}
}

// DropView describes CheckCanDropView.
func DropView(id Identity, v SchemaTableName) Check {
	return Check{Action: ActionDropView, Identity: id, Resource: v}
}

// SelectFromView describes CheckCanSelectFromView.
func SelectFromView(id Identity, v SchemaTableName) Check {
	return Check{Action: ActionSelectFromView, Identity: id, Resource: v}
}

// SetCatalogSessionProperty describes CheckCanSetCatalogSessionProperty.
func SetCatalogSessionProperty(id Identity, property string) Check {
	return Check{Action: ActionSetCatalogSessionProperty, Identity: id, Property: property}
}
