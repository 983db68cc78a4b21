package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustName(t testing.TB, s string) access.SchemaTableName {
	t.Helper()
	n, err := access.ParseSchemaTableName(s)
	if err != nil {
		t.Fatalf("ParseSchemaTableName(%q): %v", s, err)
	}
	return n
}

// mockPolicyStore implements policy.PolicyStore for testing.
type mockPolicyStore struct {
	policies []policy.Policy
	err      error // returned by GetAllPolicies when set
	mu       sync.RWMutex
}

func newMockPolicyStore(policies ...policy.Policy) *mockPolicyStore {
	return &mockPolicyStore{policies: policies}
}

func (m *mockPolicyStore) GetAllPolicies(_ context.Context) ([]policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]policy.Policy{}, m.policies...), nil
}

func (m *mockPolicyStore) GetPolicy(_ context.Context, id string) (*policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.policies {
		if m.policies[i].ID == id {
			p := m.policies[i]
			return &p, nil
		}
	}
	return nil, policy.ErrPolicyNotFound
}

func (m *mockPolicyStore) SavePolicy(_ context.Context, p *policy.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = p.Name
	}
	for i := range m.policies {
		if m.policies[i].ID == p.ID {
			m.policies[i] = *p
			return nil
		}
	}
	m.policies = append(m.policies, *p)
	return nil
}

func (m *mockPolicyStore) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.policies {
		if m.policies[i].ID == id {
			m.policies = append(m.policies[:i], m.policies[i+1:]...)
			return nil
		}
	}
	return policy.ErrPolicyNotFound
}

func (m *mockPolicyStore) SaveRule(_ context.Context, policyID string, r *policy.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.policies {
		if m.policies[i].ID == policyID {
			m.policies[i].Rules = append(m.policies[i].Rules, *r)
			return nil
		}
	}
	return policy.ErrPolicyNotFound
}

func (m *mockPolicyStore) DeleteRule(_ context.Context, policyID, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.policies {
		if m.policies[i].ID != policyID {
			continue
		}
		for j := range m.policies[i].Rules {
			if m.policies[i].Rules[j].ID == ruleID {
				m.policies[i].Rules = append(m.policies[i].Rules[:j], m.policies[i].Rules[j+1:]...)
				return nil
			}
		}
		return policy.ErrRuleNotFound
	}
	return policy.ErrPolicyNotFound
}

func (m *mockPolicyStore) setPolicies(policies ...policy.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = policies
}

func (m *mockPolicyStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

var errStoreDown = errors.New("store unavailable")

// failingEngine is a PolicyEngine that can never decide.
type failingEngine struct{}

func (failingEngine) Evaluate(context.Context, policy.Request) (policy.Decision, error) {
	return policy.Decision{}, errStoreDown
}

// recordingEngine returns a fixed decision and records every request.
type recordingEngine struct {
	mu       sync.Mutex
	requests []policy.Request
	decide   func(policy.Request) policy.Decision
}

func (e *recordingEngine) Evaluate(_ context.Context, req policy.Request) (policy.Decision, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return e.decide(req), nil
}

// salesPolicy is the rule set used by the scenario tests:
//   - analysts may read the sales schema
//   - nobody may drop anything in sales
//   - bob may create *_archive tables in sales
//   - etl may write to staging
func salesPolicy() policy.Policy {
	return policy.Policy{
		ID:      "sales",
		Name:    "Sales catalog",
		Enabled: true,
		Rules: []policy.Rule{
			{
				ID:        "analysts-read-sales",
				Name:      "analysts-read-sales",
				Priority:  10,
				Actions:   []string{"select_from_table", "select_from_view"},
				Schema:    "sales",
				Condition: `has_role(roles, "analyst")`,
				Effect:    policy.EffectAllow,
			},
			{
				ID:       "no-drops-in-sales",
				Name:     "no-drops-in-sales",
				Priority: 100,
				Actions:  []string{"drop_*"},
				Schema:   "sales",
				Effect:   policy.EffectDeny,
			},
			{
				ID:        "bob-archives",
				Name:      "bob-archives",
				Priority:  20,
				Actions:   []string{"create_table"},
				Schema:    "sales",
				Table:     "*_archive",
				Condition: `user == "bob"`,
				Effect:    policy.EffectAllow,
			},
			{
				ID:        "etl-staging",
				Name:      "etl-staging",
				Priority:  10,
				Actions:   []string{"insert_into_table", "delete_from_table", "create_table", "drop_table"},
				Schema:    "staging",
				Condition: `user == "etl"`,
				Effect:    policy.EffectAllow,
			},
		},
	}
}

func newSalesService(t testing.TB, opts ...PolicyServiceOption) *PolicyService {
	t.Helper()
	svc, err := NewPolicyService(context.Background(), newMockPolicyStore(salesPolicy()), testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewPolicyService() error: %v", err)
	}
	return svc
}
