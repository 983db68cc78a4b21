package access

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidName is returned when a resource name cannot be formed. It is a
// resolution error raised before any check runs, never a denial.
var ErrInvalidName = errors.New("invalid schema table name")

// SchemaTableName identifies a table or view inside a catalog. It is a
// comparable value; two names are equal when both parts match exactly. Case
// folding is the engine's concern.
type SchemaTableName struct {
	Schema string
	Table  string
}

// NewSchemaTableName returns the name for schema and table. Both parts must be
// non-empty.
func NewSchemaTableName(schema, table string) (SchemaTableName, error) {
	if schema == "" {
		return SchemaTableName{}, fmt.Errorf("%w: schema is empty", ErrInvalidName)
	}
	if table == "" {
		return SchemaTableName{}, fmt.Errorf("%w: table is empty", ErrInvalidName)
	}
	return SchemaTableName{Schema: schema, Table: table}, nil
}

// ParseSchemaTableName parses "schema.table". The table part may itself
// contain dots; only the first dot separates the schema.
func ParseSchemaTableName(s string) (SchemaTableName, error) {
	schema, table, ok := strings.Cut(s, ".")
	if !ok {
		return SchemaTableName{}, fmt.Errorf("%w: %q is not of the form schema.table", ErrInvalidName, s)
	}
	return NewSchemaTableName(schema, table)
}

// IsZero reports whether the name is unset.
func (n SchemaTableName) IsZero() bool {
	return n.Schema == "" && n.Table == ""
}

func (n SchemaTableName) String() string {
	return n.Schema + "." + n.Table
}
