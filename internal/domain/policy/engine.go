package policy

import "context"

// PolicyEngine decides catalog access requests.
type PolicyEngine interface {
	// Evaluate returns the decision for req. An error means no decision could
	// be reached; it is never a denial.
	Evaluate(ctx context.Context, req Request) (Decision, error)
}

// PolicyStore persists and retrieves policies.
type PolicyStore interface {
	// GetAllPolicies returns all enabled policies with their rules.
	GetAllPolicies(ctx context.Context) ([]Policy, error)
	// GetPolicy returns a policy by ID.
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	// SavePolicy creates or updates a policy. An empty ID is assigned.
	SavePolicy(ctx context.Context, p *Policy) error
	// DeletePolicy removes a policy by ID.
	DeletePolicy(ctx context.Context, id string) error
	// SaveRule creates or updates a rule within a policy.
	SaveRule(ctx context.Context, policyID string, r *Rule) error
	// DeleteRule removes a rule by ID.
	DeleteRule(ctx context.Context, policyID, ruleID string) error
}
