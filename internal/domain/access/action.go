package access

import "fmt"

// Action enumerates the protectable catalog operations. The set is closed:
// adding an action means adding a check to ConnectorAccessControl as well.
type Action uint8

const (
	ActionCreateTable Action = iota + 1
	ActionDropTable
	ActionRenameTable
	ActionSelectFromTable
	ActionInsertIntoTable
	ActionDeleteFromTable
	ActionCreateView
	ActionDropView
	ActionSelectFromView
	ActionSetCatalogSessionProperty
)

type actionInfo struct {
	token string
	verb  string
}

var actionTable = [...]actionInfo{
	ActionCreateTable:               {"create_table", "create table"},
	ActionDropTable:                 {"drop_table", "drop table"},
	ActionRenameTable:               {"rename_table", "rename table"},
	ActionSelectFromTable:           {"select_from_table", "select from table"},
	ActionInsertIntoTable:           {"insert_into_table", "insert into table"},
	ActionDeleteFromTable:           {"delete_from_table", "delete from table"},
	ActionCreateView:                {"create_view", "create view"},
	ActionDropView:                  {"drop_view", "drop view"},
	ActionSelectFromView:            {"select_from_view", "select from view"},
	ActionSetCatalogSessionProperty: {"set_catalog_session_property", "set catalog session property"},
}

var actionsByToken = func() map[string]Action {
	m := make(map[string]Action, len(actionTable))
	for _, a := range Actions() {
		m[a.String()] = a
	}
	return m
}()

// Actions returns every defined action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, len(actionTable)-1)
	for a := ActionCreateTable; a <= ActionSetCatalogSessionProperty; a++ {
		out = append(out, a)
	}
	return out
}

// ParseAction returns the action for its snake_case token.
func ParseAction(token string) (Action, error) {
	if a, ok := actionsByToken[token]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("unknown action %q", token)
}

// Valid reports whether a is one of the defined actions.
func (a Action) Valid() bool {
	return a >= ActionCreateTable && a <= ActionSetCatalogSessionProperty
}

// String returns the snake_case token, e.g. "select_from_table".
func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", uint8(a))
	}
	return actionTable[a].token
}

// Verb returns the human readable form used in denial messages.
func (a Action) Verb() string {
	if !a.Valid() {
		return a.String()
	}
	return actionTable[a].verb
}

// TargetsView reports whether the action operates on a view.
func (a Action) TargetsView() bool {
	return a == ActionCreateView || a == ActionDropView || a == ActionSelectFromView
}

// ReadOnly reports whether the action only reads data or session state.
func (a Action) ReadOnly() bool {
	return a == ActionSelectFromTable || a == ActionSelectFromView || a == ActionSetCatalogSessionProperty
}
