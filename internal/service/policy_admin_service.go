package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// ErrDefaultPolicyDelete is returned when attempting to delete the default policy.
var ErrDefaultPolicyDelete = errors.New("cannot delete the default policy")

// PolicyAdminService provides CRUD operations on the policies of one catalog.
// Rules are validated before they reach the store, and PolicyService.Reload
// runs after every mutation so checks see the change immediately.
type PolicyAdminService struct {
	store         policy.PolicyStore
	policyService *PolicyService
	logger        *slog.Logger
	mu            sync.Mutex // serializes mutate-then-reload
}

// NewPolicyAdminService creates a new PolicyAdminService.
func NewPolicyAdminService(store policy.PolicyStore, policyService *PolicyService, logger *slog.Logger) *PolicyAdminService {
	return &PolicyAdminService{
		store:         store,
		policyService: policyService,
		logger:        logger,
	}
}

// List returns the enabled policies of the store.
func (s *PolicyAdminService) List(ctx context.Context) ([]policy.Policy, error) {
	return s.store.GetAllPolicies(ctx)
}

// Get returns a single policy by ID with its rules.
// Returns policy.ErrPolicyNotFound if the policy does not exist.
func (s *PolicyAdminService) Get(ctx context.Context, id string) (*policy.Policy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// Create stores a new, enabled policy under a fresh ID and reloads.
// Disable it afterwards with Update.
func (s *PolicyAdminService) Create(ctx context.Context, p *policy.Policy) (*policy.Policy, error) {
	if p.Name == "" {
		return nil, errors.New("policy name is required")
	}

	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.Enabled = true
	p.CreatedAt = now
	p.UpdatedAt = now
	stampRules(p.Rules, now)

	if err := s.save(ctx, []*policy.Policy{p}); err != nil {
		return nil, err
	}
	s.logger.Info("policy created", "id", p.ID, "name", p.Name, "rules", len(p.Rules))
	return s.store.GetPolicy(ctx, p.ID)
}

// Update replaces an existing policy. ID and CreatedAt are preserved.
// Returns policy.ErrPolicyNotFound if the policy does not exist.
func (s *PolicyAdminService) Update(ctx context.Context, id string, p *policy.Policy) (*policy.Policy, error) {
	existing, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get existing policy: %w", err)
	}
	if p.Name == "" {
		return nil, errors.New("policy name is required")
	}

	p.ID = id
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	stampRules(p.Rules, p.UpdatedAt)

	if err := s.save(ctx, []*policy.Policy{p}); err != nil {
		return nil, err
	}
	s.logger.Info("policy updated", "id", id, "name", p.Name)
	return s.store.GetPolicy(ctx, id)
}

// Import saves policies as given: those with an ID replace the stored copy,
// the others are added. Every rule is validated before anything is written,
// and the rules are reloaded once at the end.
func (s *PolicyAdminService) Import(ctx context.Context, policies []policy.Policy) error {
	batch := make([]*policy.Policy, 0, len(policies))
	for i := range policies {
		if policies[i].Name == "" {
			return fmt.Errorf("policy %d: name is required", i)
		}
		batch = append(batch, &policies[i])
	}
	if err := s.save(ctx, batch); err != nil {
		return err
	}
	s.logger.Info("policies imported", "count", len(policies))
	return nil
}

// Delete removes a policy by ID. The seeded default policy (DefaultPolicyID)
// cannot be deleted. Returns policy.ErrPolicyNotFound if the policy does not
// exist.
func (s *PolicyAdminService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetPolicy(ctx, id); err != nil {
		return fmt.Errorf("get policy: %w", err)
	}
	if id == DefaultPolicyID {
		return ErrDefaultPolicyDelete
	}

	if err := s.store.DeletePolicy(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if err := s.reload(ctx, "delete", id); err != nil {
		return err
	}
	s.logger.Info("policy deleted", "id", id)
	return nil
}

// save validates every rule of every policy, writes them and reloads.
func (s *PolicyAdminService) save(ctx context.Context, policies []*policy.Policy) error {
	// Invalid rules in the store would break every later reload.
	for _, p := range policies {
		if err := s.policyService.ValidateRules(p.Rules); err != nil {
			return fmt.Errorf("invalid policy %q: %w", p.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range policies {
		if err := s.store.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save policy %q: %w", p.Name, err)
		}
	}
	id := ""
	if len(policies) == 1 {
		id = policies[0].ID
	}
	return s.reload(ctx, "save", id)
}

func (s *PolicyAdminService) reload(ctx context.Context, op, id string) error {
	if err := s.policyService.Reload(ctx); err != nil {
		s.logger.Error("failed to reload policies", "op", op, "policy_id", id, "error", err)
		return fmt.Errorf("reload policies: %w", err)
	}
	return nil
}

func stampRules(rules []policy.Rule, now time.Time) {
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = uuid.New().String()
		}
		if rules[i].CreatedAt.IsZero() {
			rules[i].CreatedAt = now
		}
	}
}
