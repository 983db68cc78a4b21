// Package config provides configuration types for catalog-guard.
//
// A configuration names the catalogs the gate protects and, for each one, the
// access control policy installed for it:
//
//   - allow-all, deny-all and read-only need nothing else
//   - rules evaluates prioritized rules kept in a policy store (memory, sqlite
//     or a YAML rules file)
package config

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// Policy modes a catalog can be configured with.
const (
	ModeAllowAll = "allow-all"
	ModeDenyAll  = "deny-all"
	ModeReadOnly = "read-only"
	ModeRules    = "rules"
)

// Policy stores backing the rules mode.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

// DefaultCatalog is the catalog configured when none is given.
const DefaultCatalog = "default"

// Config is the top-level configuration for catalog-guard.
type Config struct {
	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// CheckTimeout bounds every access check (e.g., "250ms"). "0" disables
	// the bound. Defaults to "1s".
	CheckTimeout string `yaml:"check_timeout" mapstructure:"check_timeout" validate:"omitempty,duration"`

	// Tracing configures OpenTelemetry spans for access checks.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Catalogs lists the protected catalogs. Names must be unique.
	Catalogs []CatalogConfig `yaml:"catalogs" mapstructure:"catalogs" validate:"required,min=1,dive"`

	// DevMode forces debug logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled writes spans to stderr. Default: false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// CatalogConfig configures the policy of one catalog.
type CatalogConfig struct {
	// Name is the catalog name as the engine reports it. Matched exactly.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Mode selects the policy. One of allow-all, deny-all, read-only, rules.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"required,policy_mode"`

	// Store selects the policy store for the rules mode.
	// One of memory, sqlite, file. Defaults to "memory".
	Store string `yaml:"store" mapstructure:"store" validate:"omitempty,oneof=memory sqlite file"`

	// SQLitePath is the database file for the sqlite store.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path" validate:"required_if=Store sqlite"`

	// RulesFile is the YAML rules file for the file store.
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file" validate:"required_if=Store file"`

	// DefaultEffect applies when no rule matches. Defaults to "deny".
	DefaultEffect string `yaml:"default_effect" mapstructure:"default_effect" validate:"omitempty,oneof=allow deny"`

	// CacheSize bounds the decision cache. Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`

	// SeedDefaultPolicy installs the built-in role policy when the store is empty.
	SeedDefaultPolicy bool `yaml:"seed_default_policy" mapstructure:"seed_default_policy"`

	// Policies are written to the store at startup, replacing earlier
	// copies with the same name.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`
}

// PolicyConfig defines a named set of rules.
type PolicyConfig struct {
	Name        string `yaml:"name" mapstructure:"name" validate:"required"`
	Description string `yaml:"description" mapstructure:"description"`
	Priority    int    `yaml:"priority" mapstructure:"priority"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`

	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"required,min=1,dive"`
}

// RuleConfig defines a single rule.
type RuleConfig struct {
	// Name is reported as the reason of decisions this rule makes.
	Name     string `yaml:"name" mapstructure:"name" validate:"required"`
	Priority int    `yaml:"priority" mapstructure:"priority"`

	// Actions are action tokens or globs ("select_*", "*").
	Actions []string `yaml:"actions" mapstructure:"actions" validate:"required,min=1,dive,required"`

	// Schema and Table are globs over the target. Empty matches anything.
	Schema string `yaml:"schema" mapstructure:"schema"`
	Table  string `yaml:"table" mapstructure:"table"`

	// Condition is an optional CEL expression.
	Condition string `yaml:"condition" mapstructure:"condition"`

	// Effect is "allow" or "deny".
	Effect string `yaml:"effect" mapstructure:"effect" validate:"required,oneof=allow deny"`
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DevMode {
		c.LogLevel = "debug"
	}
	// viper.IsSet separates an explicit "0" from an unset key.
	if c.CheckTimeout == "" && !viper.IsSet("check_timeout") {
		c.CheckTimeout = "1s"
	}

	// Zero-config: one rules catalog seeded with the role policy.
	if len(c.Catalogs) == 0 {
		c.Catalogs = []CatalogConfig{{
			Name:              DefaultCatalog,
			Mode:              ModeRules,
			SeedDefaultPolicy: true,
		}}
	}

	for i := range c.Catalogs {
		cat := &c.Catalogs[i]
		if cat.Mode != ModeRules {
			continue
		}
		if cat.Store == "" {
			cat.Store = StoreMemory
		}
		if cat.DefaultEffect == "" {
			cat.DefaultEffect = string(policy.EffectDeny)
		}
		if cat.CacheSize == 0 {
			cat.CacheSize = 1000
		}
	}
}

// CheckTimeoutDuration returns the parsed check timeout. Empty means none.
func (c *Config) CheckTimeoutDuration() time.Duration {
	if c.CheckTimeout == "" {
		return 0
	}
	// Validate has already rejected unparsable values.
	d, _ := time.ParseDuration(c.CheckTimeout)
	return d
}

// Catalog returns the configuration of the named catalog.
func (c *Config) Catalog(name string) (CatalogConfig, bool) {
	for _, cat := range c.Catalogs {
		if cat.Name == name {
			return cat, true
		}
	}
	return CatalogConfig{}, false
}

// ToPolicies converts the inline policies of a catalog into domain policies.
// IDs are derived from the catalog and policy names, so restarts replace
// rather than duplicate what an earlier run saved.
func (cat CatalogConfig) ToPolicies() []policy.Policy {
	policies := make([]policy.Policy, 0, len(cat.Policies))
	for _, pc := range cat.Policies {
		policyID := stableID(cat.Name, pc.Name)
		p := policy.Policy{
			ID:          policyID,
			Name:        pc.Name,
			Description: pc.Description,
			Priority:    pc.Priority,
			Enabled:     pc.Enabled == nil || *pc.Enabled,
		}
		for _, rc := range pc.Rules {
			p.Rules = append(p.Rules, policy.Rule{
				ID:        stableID(policyID, rc.Name),
				Name:      rc.Name,
				Priority:  rc.Priority,
				Actions:   append([]string(nil), rc.Actions...),
				Schema:    rc.Schema,
				Table:     rc.Table,
				Condition: rc.Condition,
				Effect:    policy.Effect(rc.Effect),
			})
		}
		policies = append(policies, p)
	}
	return policies
}

// stableID returns a UUIDv5 over the length-prefixed parts, so names
// containing any separator cannot collide.
func stableID(parts ...string) string {
	name := []byte("catalog-guard:")
	for _, p := range parts {
		name = strconv.AppendInt(name, int64(len(p)), 10)
		name = append(name, ':')
		name = append(name, p...)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, name).String()
}
