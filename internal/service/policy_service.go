// Package service contains the rule engine and the access-control services
// built on the catalog access contract.
package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	celeval "github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// defaultCacheSize is the decision cache capacity when WithCacheSize is not given.
const defaultCacheSize = 1000

// DefaultPolicyID is the fixed ID of the policy returned by DefaultPolicy.
var DefaultPolicyID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("catalog-guard:default-policy")).String()

// CompiledRule is a rule with its condition compiled and ready for evaluation.
type CompiledRule struct {
	ID       string
	Name     string
	Priority int
	Actions  []string // glob patterns over action tokens
	Schema   string
	Table    string
	Program  cel.Program
	Effect   policy.Effect
}

// RuleIndex maps action tokens to the rules that name them exactly. Rules
// with any wildcard action pattern live in Wildcard.
type RuleIndex struct {
	Exact    map[string][]CompiledRule
	Wildcard []CompiledRule
}

// CompiledRulesSnapshot is the immutable rule set stored in atomic.Value.
type CompiledRulesSnapshot struct {
	Rules []CompiledRule
	Index *RuleIndex
	// TimeDependent is set when some condition reads request_time, which makes
	// decisions uncacheable.
	TimeDependent bool
}

// PolicyService implements policy.PolicyEngine with CEL-based rule evaluation.
// Rules are compiled at load time and evaluated in priority order (highest
// first); the first matching rule decides. Reload swaps the compiled snapshot
// atomically so Evaluate never takes a lock on the rule set.
type PolicyService struct {
	store         policy.PolicyStore
	evaluator     *celeval.Evaluator
	snapshot      atomic.Value // *CompiledRulesSnapshot
	mu            sync.Mutex   // guards snapshot swaps against cache fills
	cache         *ResultCache
	inflight      singleflight.Group
	defaultEffect policy.Effect
	onReload      func()
	logger        *slog.Logger
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// WithDefaultEffect sets the effect applied when no rule matches. The default
// is deny.
func WithDefaultEffect(effect policy.Effect) PolicyServiceOption {
	return func(s *PolicyService) {
		s.defaultEffect = effect
	}
}

// WithReloadHook registers fn to run after every successful Reload.
func WithReloadHook(fn func()) PolicyServiceOption {
	return func(s *PolicyService) {
		s.onReload = fn
	}
}

// NewPolicyService creates a PolicyService that loads and compiles rules from
// the store. ctx bounds the initial load.
func NewPolicyService(ctx context.Context, store policy.PolicyStore, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &PolicyService{
		store:         store,
		evaluator:     evaluator,
		cache:         NewResultCache(defaultCacheSize),
		defaultEffect: policy.EffectDeny,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.defaultEffect.Valid() {
		return nil, fmt.Errorf("invalid default effect %q", s.defaultEffect)
	}

	policies, err := store.GetAllPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	snapshot, err := s.compileSnapshot(policies)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snapshot)

	logger.Info("policy service initialized",
		"rules_compiled", len(snapshot.Rules),
		"exact_patterns", len(snapshot.Index.Exact),
		"wildcard_patterns", len(snapshot.Index.Wildcard),
		"default_effect", s.defaultEffect,
		"cache_max_size", s.cache.maxSize,
	)
	return s, nil
}

// ValidateRules checks every rule's effect, action patterns, name globs and
// CEL condition. Call it before persisting rules so a bad rule cannot break
// the next Reload. Returns an error describing the first invalid rule.
func (s *PolicyService) ValidateRules(rules []policy.Rule) error {
	return validateRules(s.evaluator, rules)
}

// ValidateRuleSet validates rules without a PolicyService, for example when
// the CLI checks a rules file.
func ValidateRuleSet(rules []policy.Rule) error {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	return validateRules(evaluator, rules)
}

func validateRules(evaluator *celeval.Evaluator, rules []policy.Rule) error {
	for _, rule := range rules {
		if err := validateRuleShape(rule); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if rule.Condition == "" {
			continue
		}
		if err := evaluator.ValidateExpression(rule.Condition); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

func validateRuleShape(rule policy.Rule) error {
	if !rule.Effect.Valid() {
		return fmt.Errorf("invalid effect %q", rule.Effect)
	}
	if len(rule.Actions) == 0 {
		return errors.New("no actions")
	}
	for _, pattern := range rule.Actions {
		if pattern == "" {
			return errors.New("empty action pattern")
		}
		if !isGlob(pattern) {
			if _, err := access.ParseAction(pattern); err != nil {
				return err
			}
			continue
		}
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("action pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range []string{rule.Schema, rule.Table} {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("name pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// compileSnapshot compiles the rules of the enabled policies into a snapshot.
func (s *PolicyService) compileSnapshot(policies []policy.Policy) (*CompiledRulesSnapshot, error) {
	var rules []policy.Rule
	for _, p := range policies {
		if p.Enabled {
			rules = append(rules, p.Rules...)
		}
	}

	compiled, err := s.compileRules(rules)
	if err != nil {
		return nil, err
	}

	snapshot := &CompiledRulesSnapshot{
		Rules: compiled,
		Index: buildIndex(compiled),
	}
	for _, r := range rules {
		if strings.Contains(r.Condition, "request_time") {
			snapshot.TimeDependent = true
			break
		}
	}
	return snapshot, nil
}

// compileRules compiles CEL conditions and sorts rules by priority. Rules of
// equal priority keep store order.
func (s *PolicyService) compileRules(rules []policy.Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))

	for _, rule := range rules {
		if err := validateRuleShape(rule); err != nil {
			return nil, fmt.Errorf("invalid rule %s: %w", ruleIdentifier(rule), err)
		}
		prg, err := s.evaluator.Compile(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", ruleIdentifier(rule), err)
		}

		compiled = append(compiled, CompiledRule{
			ID:       ruleIdentifier(rule),
			Name:     rule.Name,
			Priority: rule.Priority,
			Actions:  rule.Actions,
			Schema:   rule.Schema,
			Table:    rule.Table,
			Program:  prg,
			Effect:   rule.Effect,
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return compiled, nil
}

// ruleIdentifier falls back to the name for rules that were never stored.
func ruleIdentifier(rule policy.Rule) string {
	if rule.ID != "" {
		return rule.ID
	}
	return rule.Name
}

// buildIndex creates a RuleIndex from priority-sorted rules.
func buildIndex(rules []CompiledRule) *RuleIndex {
	idx := &RuleIndex{
		Exact: make(map[string][]CompiledRule),
	}
	for _, rule := range rules {
		wildcard := false
		for _, pattern := range rule.Actions {
			if isGlob(pattern) {
				wildcard = true
				break
			}
		}
		if wildcard {
			idx.Wildcard = append(idx.Wildcard, rule)
			continue
		}
		for _, token := range rule.Actions {
			idx.Exact[token] = append(idx.Exact[token], rule)
		}
	}
	return idx
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// matchGlob reports whether name matches pattern. Empty and "*" match
// everything.
func matchGlob(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}

func (r *CompiledRule) matchesAction(token string) bool {
	for _, pattern := range r.Actions {
		if matchGlob(pattern, token) {
			return true
		}
	}
	return false
}

// loadSnapshot returns the current rules snapshot (lock-free).
func (s *PolicyService) loadSnapshot() *CompiledRulesSnapshot {
	return s.snapshot.Load().(*CompiledRulesSnapshot)
}

// candidateRules merges the exact bucket for token with the wildcard rules,
// keeping priority order.
func candidateRules(idx *RuleIndex, token string) []CompiledRule {
	exact := idx.Exact[token]

	if len(exact) == 0 {
		return idx.Wildcard
	}
	if len(idx.Wildcard) == 0 {
		return exact
	}

	merged := make([]CompiledRule, 0, len(exact)+len(idx.Wildcard))
	i, j := 0, 0
	for i < len(exact) && j < len(idx.Wildcard) {
		if exact[i].Priority >= idx.Wildcard[j].Priority {
			merged = append(merged, exact[i])
			i++
		} else {
			merged = append(merged, idx.Wildcard[j])
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	merged = append(merged, idx.Wildcard[j:]...)
	return merged
}

// computeCacheKey hashes every request field a rule can observe except
// request_time, which disables caching instead. Every field is length-prefixed
// so no two distinct requests share an encoding.
func computeCacheKey(req policy.Request) uint64 {
	h := xxhash.New()
	var prefix [binary.MaxVarintLen64]byte
	writeLen := func(n int) {
		_, _ = h.Write(prefix[:binary.PutUvarint(prefix[:], uint64(n))])
	}
	write := func(s string) {
		writeLen(len(s))
		_, _ = h.WriteString(s)
	}

	write(req.Catalog)
	write(req.User)

	sortedRoles := make([]string, len(req.Roles))
	copy(sortedRoles, req.Roles)
	sort.Strings(sortedRoles)
	writeLen(len(sortedRoles))
	for _, role := range sortedRoles {
		write(role)
	}

	write(req.Action.String())
	write(req.Operation.String())
	write(req.Resource.Schema)
	write(req.Resource.Table)
	write(req.Property)

	return h.Sum64()
}

// Evaluate decides req against the loaded rules. The first rule whose action
// pattern, schema and table globs and condition all match wins; otherwise the
// default effect applies. An error means a condition could not be evaluated
// and no decision was reached.
func (s *PolicyService) Evaluate(ctx context.Context, req policy.Request) (policy.Decision, error) {
	if !req.Action.Valid() {
		return policy.Decision{}, fmt.Errorf("unknown action %s", req.Action)
	}

	snapshot := s.loadSnapshot()
	if snapshot.TimeDependent {
		return s.evaluate(ctx, snapshot, req)
	}

	key := computeCacheKey(req)
	if decision, ok := s.cache.Get(key); ok {
		return decision, nil
	}

	v, err, _ := s.inflight.Do(strconv.FormatUint(key, 16), func() (any, error) {
		decision, err := s.evaluate(ctx, snapshot, req)
		if err != nil {
			return nil, err
		}
		// A Reload during evaluation clears the cache; do not refill it with a
		// decision from the old rule set.
		s.mu.Lock()
		if s.loadSnapshot() == snapshot {
			s.cache.Put(key, decision)
		}
		s.mu.Unlock()
		return decision, nil
	})
	if err != nil {
		return policy.Decision{}, err
	}
	return v.(policy.Decision), nil
}

func (s *PolicyService) evaluate(ctx context.Context, snapshot *CompiledRulesSnapshot, req policy.Request) (policy.Decision, error) {
	token := req.Action.String()

	for _, rule := range candidateRules(snapshot.Index, token) {
		if !rule.matchesAction(token) {
			continue
		}
		if !matchGlob(rule.Schema, req.Resource.Schema) || !matchGlob(rule.Table, req.Resource.Table) {
			continue
		}

		matched, err := s.evaluator.Evaluate(ctx, rule.Program, req)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("rule %s evaluation failed: %w", rule.ID, err)
		}
		if !matched {
			continue
		}

		return policy.Decision{
			Allowed:  rule.Effect == policy.EffectAllow,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Reason:   fmt.Sprintf("matched rule %s", rule.Name),
		}, nil
	}

	return policy.Decision{
		Allowed: s.defaultEffect == policy.EffectAllow,
		Reason:  fmt.Sprintf("no matching rule (default %s)", s.defaultEffect),
	}, nil
}

// Reload reloads and recompiles all policies from the store. It is safe to
// call concurrently with Evaluate. On error the previous rules stay active.
func (s *PolicyService) Reload(ctx context.Context) error {
	policies, err := s.store.GetAllPolicies(ctx)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	snapshot, err := s.compileSnapshot(policies)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	s.mu.Lock()
	s.snapshot.Store(snapshot)
	s.cache.Clear()
	s.mu.Unlock()

	if s.onReload != nil {
		s.onReload()
	}

	s.logger.Info("policy service reloaded",
		"policies", len(policies),
		"enabled_policies", countEnabled(policies),
		"rules_compiled", len(snapshot.Rules),
		"exact_patterns", len(snapshot.Index.Exact),
		"wildcard_patterns", len(snapshot.Index.Wildcard),
	)
	return nil
}

// countEnabled counts the number of enabled policies.
func countEnabled(policies []policy.Policy) int {
	count := 0
	for _, p := range policies {
		if p.Enabled {
			count++
		}
	}
	return count
}

// DefaultPolicy returns a role-based starter policy:
//   - admin may do anything
//   - reader may select and set session properties
//   - writer may insert and delete
//
// Everything else falls through to the default effect. The policy carries
// DefaultPolicyID; rule IDs are left empty so stores assign them.
func DefaultPolicy() *policy.Policy {
	return &policy.Policy{
		ID:      DefaultPolicyID,
		Name:    "Default catalog policy",
		Enabled: true,
		Rules: []policy.Rule{
			{
				Name:      "admin-all",
				Priority:  100,
				Actions:   []string{"*"},
				Condition: `has_role(roles, "admin")`,
				Effect:    policy.EffectAllow,
			},
			{
				Name:      "reader-select",
				Priority:  50,
				Actions:   []string{"select_from_*", "set_catalog_session_property"},
				Condition: `has_role(roles, "reader") || has_role(roles, "writer")`,
				Effect:    policy.EffectAllow,
			},
			{
				Name:      "writer-dml",
				Priority:  50,
				Actions:   []string{"insert_into_table", "delete_from_table"},
				Condition: `has_role(roles, "writer")`,
				Effect:    policy.EffectAllow,
			},
		},
	}
}

// SeedDefaultPolicy saves DefaultPolicy when GetAllPolicies returns nothing.
// Stores only return enabled policies there, so a store holding nothing but
// disabled policies is seeded too. A default policy that was seeded earlier
// and then disabled is left alone.
func SeedDefaultPolicy(ctx context.Context, store policy.PolicyStore, logger *slog.Logger) error {
	if _, err := store.GetPolicy(ctx, DefaultPolicyID); err == nil {
		logger.Debug("default policy exists, skipping seed")
		return nil
	} else if !errors.Is(err, policy.ErrPolicyNotFound) {
		return fmt.Errorf("check default policy: %w", err)
	}

	policies, err := store.GetAllPolicies(ctx)
	if err != nil {
		return fmt.Errorf("check existing policies: %w", err)
	}
	if len(policies) > 0 {
		logger.Debug("policies exist, skipping seed", "count", len(policies))
		return nil
	}

	p := DefaultPolicy()
	if err := store.SavePolicy(ctx, p); err != nil {
		return fmt.Errorf("save default policy: %w", err)
	}

	logger.Info("seeded default policy", "rules", len(p.Rules))
	return nil
}

// Compile-time interface verification.
var _ policy.PolicyEngine = (*PolicyService)(nil)
