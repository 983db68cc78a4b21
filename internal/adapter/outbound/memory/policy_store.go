// Package memory provides an in-memory policy store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// MemoryPolicyStore implements policy.PolicyStore with an in-memory map.
// Thread-safe for concurrent access.
type MemoryPolicyStore struct {
	policies map[string]*policy.Policy // ID -> Policy
	order    []string                  // IDs in first-save order
	mu       sync.RWMutex
}

// NewPolicyStore creates a new in-memory policy store.
func NewPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		policies: make(map[string]*policy.Policy),
	}
}

// GetAllPolicies returns all enabled policies ordered by priority, then by
// the order they were first saved. Updates keep a policy's place.
func (s *MemoryPolicyStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	return s.list(true), nil
}

// All returns every policy, disabled ones included, in GetAllPolicies order.
func (s *MemoryPolicyStore) All() []policy.Policy {
	return s.list(false)
}

func (s *MemoryPolicyStore) list(enabledOnly bool) []policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []policy.Policy
	for _, id := range s.order {
		if p := s.policies[id]; p.Enabled || !enabledOnly {
			result = append(result, *p.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority > result[j].Priority
	})
	return result
}

// GetPolicy returns a policy by ID.
// Returns policy.ErrPolicyNotFound if policy doesn't exist.
func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrPolicyNotFound
	}
	return p.Clone(), nil
}

// SavePolicy creates or updates a policy. Missing policy and rule IDs are
// generated and written back to p.
func (s *MemoryPolicyStore) SavePolicy(ctx context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	for i := range p.Rules {
		if p.Rules[i].ID == "" {
			p.Rules[i].ID = uuid.New().String()
		}
		if p.Rules[i].CreatedAt.IsZero() {
			p.Rules[i].CreatedAt = now
		}
	}

	s.put(p)
	return nil
}

// AddPolicy adds a policy as-is (for testing/seeding).
func (s *MemoryPolicyStore) AddPolicy(p *policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(p)
}

// put stores a copy of p. Callers hold s.mu.
func (s *MemoryPolicyStore) put(p *policy.Policy) {
	if _, ok := s.policies[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.policies[p.ID] = p.Clone()
}

// DeletePolicy removes a policy by ID.
func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return policy.ErrPolicyNotFound
	}
	delete(s.policies, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SaveRule creates or updates a rule within a policy.
func (s *MemoryPolicyStore) SaveRule(ctx context.Context, policyID string, r *policy.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[policyID]
	if !ok {
		return policy.ErrPolicyNotFound
	}

	if r.ID != "" {
		for i, rule := range p.Rules {
			if rule.ID == r.ID {
				p.Rules[i] = r.Clone()
				p.UpdatedAt = time.Now().UTC()
				return nil
			}
		}
		return policy.ErrRuleNotFound
	}

	r.ID = uuid.New().String()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	p.Rules = append(p.Rules, r.Clone())
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteRule removes a rule by ID.
func (s *MemoryPolicyStore) DeleteRule(ctx context.Context, policyID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[policyID]
	if !ok {
		return policy.ErrPolicyNotFound
	}

	for i, rule := range p.Rules {
		if rule.ID == ruleID {
			p.Rules = append(p.Rules[:i], p.Rules[i+1:]...)
			return nil
		}
	}

	return policy.ErrRuleNotFound
}

// Compile-time interface verification.
var _ policy.PolicyStore = (*MemoryPolicyStore)(nil)
