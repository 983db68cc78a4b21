package access

// AllowAll authorizes every check. Connectors without security use it.
type AllowAll struct{}

func (AllowAll) CheckCanCreateTable(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanDropTable(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanRenameTable(Identity, SchemaTableName, SchemaTableName) error { return nil }
func (AllowAll) CheckCanSelectFromTable(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanInsertIntoTable(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanDeleteFromTable(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanCreateView(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanDropView(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanSelectFromView(Identity, SchemaTableName) error { return nil }
func (AllowAll) CheckCanSetCatalogSessionProperty(Identity, string) error { return nil }

// DenyAll denies every check.
type DenyAll struct{}

const denyAllReason = "catalog denies all access"

func (DenyAll) CheckCanCreateTable(id Identity, t SchemaTableName) error {
	return DenyCreateTable(id, t, denyAllReason)
}

func (DenyAll) CheckCanDropTable(id Identity, t SchemaTableName) error {
	return DenyDropTable(id, t, denyAllReason)
}

func (DenyAll) CheckCanRenameTable(id Identity, t, nt SchemaTableName) error {
	return DenyRenameTable(id, t, nt, denyAllReason)
}

func (DenyAll) CheckCanSelectFromTable(id Identity, t SchemaTableName) error {
	return DenySelectTable(id, t, denyAllReason)
}

func (DenyAll) CheckCanInsertIntoTable(id Identity, t SchemaTableName) error {
	return DenyInsertTable(id, t, denyAllReason)
}

func (DenyAll) CheckCanDeleteFromTable(id Identity, t SchemaTableName) error {
	return DenyDeleteTable(id, t, denyAllReason)
}

func (DenyAll) CheckCanCreateView(id Identity, v SchemaTableName) error {
	return DenyCreateView(id, v, denyAllReason)
}

func (DenyAll) CheckCanDropView(id Identity, v SchemaTableName) error {
	return DenyDropView(id, v, denyAllReason)
}

func (DenyAll) CheckCanSelectFromView(id Identity, v SchemaTableName) error {
	return DenySelectView(id, v, denyAllReason)
}

func (DenyAll) CheckCanSetCatalogSessionProperty(id Identity, p string) error {
	return DenySetCatalogSessionProperty(id, p, denyAllReason)
}

// ReadOnly allows reads and session properties and denies every statement
// that changes data or metadata.
type ReadOnly struct{}

const readOnlyReason = "catalog is read-only"

func (ReadOnly) CheckCanCreateTable(id Identity, t SchemaTableName) error {
	return DenyCreateTable(id, t, readOnlyReason)
}

func (ReadOnly) CheckCanDropTable(id Identity, t SchemaTableName) error {
	return DenyDropTable(id, t, readOnlyReason)
}

func (ReadOnly) CheckCanRenameTable(id Identity, t, nt SchemaTableName) error {
	return DenyRenameTable(id, t, nt, readOnlyReason)
}

func (ReadOnly) CheckCanSelectFromTable(Identity, SchemaTableName) error { return nil }

func (ReadOnly) CheckCanInsertIntoTable(id Identity, t SchemaTableName) error {
	return DenyInsertTable(id, t, readOnlyReason)
}

func (ReadOnly) CheckCanDeleteFromTable(id Identity, t SchemaTableName) error {
	return DenyDeleteTable(id, t, readOnlyReason)
}

func (ReadOnly) CheckCanCreateView(id Identity, v SchemaTableName) error {
	return DenyCreateView(id, v, readOnlyReason)
}

func (ReadOnly) CheckCanDropView(id Identity, v SchemaTableName) error {
	return DenyDropView(id, v, readOnlyReason)
}

func (ReadOnly) CheckCanSelectFromView(Identity, SchemaTableName) error { return nil }

func (ReadOnly) CheckCanSetCatalogSessionProperty(Identity, string) error { return nil }

var (
	_ ConnectorAccessControl = AllowAll{}
	_ ConnectorAccessControl = DenyAll{}
	_ ConnectorAccessControl = ReadOnly{}
)
