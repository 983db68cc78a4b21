package access

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied matches every *DeniedError via errors.Is.
	ErrAccessDenied = errors.New("access denied")
	// ErrEvaluationFailed matches every *EvaluationError via errors.Is.
	ErrEvaluationFailed = errors.New("access check could not be evaluated")
)

// DeniedError is returned by a check when the identity lacks the privilege for
// the requested action on the requested resource.
type DeniedError struct {
	Action Action
	// User is the principal that was denied.
	User string
	// Resource is the table or view named by the check. Zero for session
	// property checks.
	Resource SchemaTableName
	// NewResource is the rename destination.
	NewResource SchemaTableName
	// Property is the session property name for session property checks.
	Property string
	// Reason optionally explains the denial, e.g. the rule that matched.
	Reason string

	cause error
}

func (e *DeniedError) Error() string {
	var msg string
	switch e.Action {
	case ActionRenameTable:
		msg = fmt.Sprintf("Access Denied: Cannot rename table from %s to %s", e.Resource, e.NewResource)
	case ActionSetCatalogSessionProperty:
		msg = fmt.Sprintf("Access Denied: Cannot set catalog session property %s", e.Property)
	default:
		msg = fmt.Sprintf("Access Denied: Cannot %s %s", e.Action.Verb(), e.Resource)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrAccessDenied) true for any denial.
func (e *DeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// Unwrap returns the underlying cause, if the denial was derived from one.
func (e *DeniedError) Unwrap() error { return e.cause }

// WithCause returns a copy of e that unwraps to cause.
func (e *DeniedError) WithCause(cause error) *DeniedError {
	c := *e
	c.cause = cause
	return &c
}

// EvaluationError is returned when a policy could not decide, for example
// because its rule store is unavailable. Callers must not proceed, but should
// report it differently from a denial.
type EvaluationError struct {
	Action Action
	User   string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %s for %s: %v", e.Action, e.User, e.Err)
}

// Is makes errors.Is(err, ErrEvaluationFailed) true for any evaluation error.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluationFailed
}

// Unwrap returns the engine error.
func (e *EvaluationError) Unwrap() error { return e.Err }

// IsAccessDenied reports whether err is, or wraps, a denial.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsEvaluationFailure reports whether err is, or wraps, an evaluation error.
func IsEvaluationFailure(err error) bool {
	return errors.Is(err, ErrEvaluationFailed)
}

// Deny returns a denial of action a on name. Use DenyRenameTable and
// DenySetCatalogSessionProperty for the checks with other arguments.
func Deny(a Action, identity Identity, name SchemaTableName, reason string) *DeniedError {
	return &DeniedError{Action: a, User: identity.User, Resource: name, Reason: reason}
}

// DenyCreateTable returns the denial of CheckCanCreateTable.
func DenyCreateTable(identity Identity, table SchemaTableName, reason string) *DeniedError {
	return Deny(ActionCreateTable, identity, table, reason)
}

// DenyDropTable returns the denial of CheckCanDropTable.
func DenyDropTable(identity Identity, table SchemaTableName, reason string) *DeniedError {
	return Deny(ActionDropTable, identity, table, reason)
}

// DenyRenameTable returns the denial of CheckCanRenameTable. The message
// names both the source and the destination.
func DenyRenameTable(identity Identity, table, newTable SchemaTableName, reason string) *DeniedError {
	e := Deny(ActionRenameTable, identity, table, reason)
	e.NewResource = newTable
	return e
}

// DenySelectTable returns the denial of CheckCanSelectFromTable.
func DenySelectTable(identity Identity, table SchemaTableName, reason string) *DeniedError {
	return Deny(ActionSelectFromTable, identity, table, reason)
}

// DenyInsertTable returns the denial of CheckCanInsertIntoTable.
func DenyInsertTable(identity Identity, table SchemaTableName, reason string) *DeniedError {
	return Deny(ActionInsertIntoTable, identity, table, reason)
}

// DenyDeleteTable returns the denial of CheckCanDeleteFromTable.
func DenyDeleteTable(identity Identity, table SchemaTableName, reason string) *DeniedError {
	return Deny(ActionDeleteFromTable, identity, table, reason)
}

// DenyCreateView returns the denial of CheckCanCreateView.
func DenyCreateView(identity Identity, view SchemaTableName, reason string) *DeniedError {
	return Deny(ActionCreateView, identity, view, reason)
}

// DenyDropView returns the denial of CheckCanDropView.
func DenyDropView(identity Identity, view SchemaTableName, reason string) *DeniedError {
	return Deny(ActionDropView, identity, view, reason)
}

// DenySelectView returns the denial of CheckCanSelectFromView.
func DenySelectView(identity Identity, view SchemaTableName, reason string) *DeniedError {
	return Deny(ActionSelectFromView, identity, view, reason)
}

// DenySetCatalogSessionProperty returns the denial of
// CheckCanSetCatalogSessionProperty. Resource is left zero.
func DenySetCatalogSessionProperty(identity Identity, property, reason string) *DeniedError {
	return &DeniedError{Action: ActionSetCatalogSessionProperty, User: identity.User, Property: property, Reason: reason}
}
