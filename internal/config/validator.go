package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
)

// RegisterCustomValidators registers catalog-guard validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("policy_mode", validatePolicyMode); err != nil {
		return fmt.Errorf("failed to register policy_mode validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

func validatePolicyMode(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ModeAllowAll, ModeDenyAll, ModeReadOnly, ModeRules:
		return true
	}
	return false
}

// validateDuration accepts non-negative Go durations.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateUniqueCatalogs(); err != nil {
		return err
	}
	for i, cat := range c.Catalogs {
		if err := cat.validateRulesMode(); err != nil {
			return fmt.Errorf("catalogs[%d] (%s): %w", i, cat.Name, err)
		}
	}
	return nil
}

func (c *Config) validateUniqueCatalogs() error {
	seen := make(map[string]struct{}, len(c.Catalogs))
	for i, cat := range c.Catalogs {
		if _, dup := seen[cat.Name]; dup {
			return fmt.Errorf("catalogs[%d]: duplicate catalog name: %s", i, cat.Name)
		}
		seen[cat.Name] = struct{}{}
	}
	return nil
}

// validateRulesMode checks settings that only make sense for the rules mode,
// and the action patterns of inline rules.
func (cat CatalogConfig) validateRulesMode() error {
	if cat.Mode != ModeRules {
		if len(cat.Policies) > 0 || cat.SeedDefaultPolicy {
			return fmt.Errorf("policies require mode %q", ModeRules)
		}
		return nil
	}
	if cat.Store == StoreFile && len(cat.Policies) > 0 {
		return errors.New("inline policies cannot be combined with the file store; put them in the rules file")
	}

	names := make(map[string]struct{}, len(cat.Policies))
	for i, p := range cat.Policies {
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("policies[%d]: duplicate policy name: %s", i, p.Name)
		}
		names[p.Name] = struct{}{}
		rules := make(map[string]struct{}, len(p.Rules))
		for j, r := range p.Rules {
			if _, dup := rules[r.Name]; dup {
				return fmt.Errorf("policies[%d].rules[%d]: duplicate rule name: %s", i, j, r.Name)
			}
			rules[r.Name] = struct{}{}
			for _, a := range r.Actions {
				if err := validateActionPattern(a); err != nil {
					return fmt.Errorf("policies[%d].rules[%d]: %w", i, j, err)
				}
			}
		}
	}
	return nil
}

func validateActionPattern(pattern string) error {
	if strings.ContainsAny(pattern, "*?[") {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid action pattern %q: %w", pattern, err)
		}
		return nil
	}
	if _, err := access.ParseAction(pattern); err != nil {
		return err
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.Replace(e.Param(), " ", " is ", 1))
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "policy_mode":
		return fmt.Sprintf("%s must be one of: allow-all deny-all read-only rules", field)
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration such as \"500ms\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
