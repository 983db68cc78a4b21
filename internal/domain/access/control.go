// Package access defines the authorization contract between the query engine
// and a catalog connector.
//
// The engine resolves the acting identity and the target resource, then calls
// the matching check before it plans or executes the protected operation. A
// check returns nil when the identity is authorized, a *DeniedError when it is
// not, and an *EvaluationError when the policy could not reach a decision.
package access

// ConnectorAccessControl is implemented once per catalog by the connector's
// policy. Every protectable operation has its own check so that an
// implementation has to handle each action explicitly.
//
// Implementations must be safe for concurrent use and must not mutate the
// identity or resource arguments. Checks carry no context: a caller that needs
// a deadline enforces it around the call (see service.CatalogGate).
type ConnectorAccessControl interface {
	// CheckCanCreateTable checks if identity is allowed to create the specified
	// table in this catalog.
	CheckCanCreateTable(identity Identity, table SchemaTableName) error

	// CheckCanDropTable checks if identity is allowed to drop the specified
	// table in this catalog.
	CheckCanDropTable(identity Identity, table SchemaTableName) error

	// CheckCanRenameTable checks if identity is allowed to rename table to
	// newTable in this catalog.
	CheckCanRenameTable(identity Identity, table, newTable SchemaTableName) error

	// CheckCanSelectFromTable checks if identity is allowed to select from the
	// specified table in this catalog.
	CheckCanSelectFromTable(identity Identity, table SchemaTableName) error

	// CheckCanInsertIntoTable checks if identity is allowed to insert into the
	// specified table in this catalog.
	CheckCanInsertIntoTable(identity Identity, table SchemaTableName) error

	// CheckCanDeleteFromTable checks if identity is allowed to delete from the
	// specified table in this catalog.
	CheckCanDeleteFromTable(identity Identity, table SchemaTableName) error

	// CheckCanCreateView checks if identity is allowed to create the specified
	// view in this catalog.
	CheckCanCreateView(identity Identity, view SchemaTableName) error

	// CheckCanDropView checks if identity is allowed to drop the specified
	// view in this catalog.
	CheckCanDropView(identity Identity, view SchemaTableName) error

	// CheckCanSelectFromView checks if identity is allowed to select from the
	// specified view in this catalog.
	CheckCanSelectFromView(identity Identity, view SchemaTableName) error

	// CheckCanSetCatalogSessionProperty checks if identity is allowed to set
	// the specified catalog session property.
	CheckCanSetCatalogSessionProperty(identity Identity, propertyName string) error
}
