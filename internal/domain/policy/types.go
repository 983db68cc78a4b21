// Package policy contains domain types for rule-based catalog access policies.
package policy

import (
	"time"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
)

// Effect is the outcome a rule produces when it matches.
type Effect string

const (
	// EffectAllow authorizes the check.
	EffectAllow Effect = "allow"
	// EffectDeny denies the check.
	EffectDeny Effect = "deny"
)

// Valid reports whether e is allow or deny.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Rule grants or denies a set of actions on matching resources.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string
	// Name is a human-readable name, reported as the reason of a decision.
	Name string
	// Description is optional operator documentation.
	Description string
	// Priority determines evaluation order (higher first).
	Priority int
	// Actions are glob patterns over action tokens ("select_*", "*").
	Actions []string
	// Schema is a glob over the schema name. Empty matches any schema.
	Schema string
	// Table is a glob over the table or view name. Empty matches any name.
	Table string
	// Condition is a CEL expression that must be true for the rule to apply.
	// Empty means true.
	Condition string
	// Effect is applied when the rule matches.
	Effect Effect
	// CreatedAt is when the rule was created (UTC).
	CreatedAt time.Time
}

// Decision is the outcome of evaluating a Request.
type Decision struct {
	// Allowed is true if the request is authorized.
	Allowed bool
	// RuleID is the ID of the rule that produced the decision, empty for the
	// default effect.
	RuleID string
	// RuleName is the name of the matching rule.
	RuleName string
	// Reason explains the decision.
	Reason string
}

// Policy is a named collection of rules.
type Policy struct {
	ID          string
	Name        string
	Description string
	// Priority orders policies for display; rule priority drives evaluation.
	Priority int
	Rules    []Rule
	// Enabled indicates if this policy is active.
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Request is one authorization question put to a PolicyEngine.
type Request struct {
	// Catalog is the catalog the policy protects.
	Catalog string
	// User is the principal name.
	User string
	// Roles are the principal's roles.
	Roles []string
	// Action is the action being authorized.
	Action access.Action
	// Operation is the logical operation the action belongs to. It differs from
	// Action only for the sub-checks of a rename.
	Operation access.Action
	// Resource is the table or view. Zero for session property requests.
	Resource access.SchemaTableName
	// Property is the session property name.
	Property string
	// RequestTime is when the check was issued.
	RequestTime time.Time
}
