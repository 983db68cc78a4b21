package file

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// documentVersion is the rules file format version written by Encode.
const documentVersion = "1"

// document is the on-disk shape of a rules file:
//
//	version: "1"
//	policies:
//	  - name: analysts
//	    rules:
//	      - name: analysts-read-sales
//	        actions: ["select_*"]
//	        schema: sales
//	        condition: has_role(roles, "analyst")
//	        effect: allow
type document struct {
	Version  string      `yaml:"version,omitempty"`
	Policies []policyDoc `yaml:"policies"`
}

type policyDoc struct {
	ID          string    `yaml:"id,omitempty"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Priority    int       `yaml:"priority,omitempty"`
	Enabled     *bool     `yaml:"enabled,omitempty"`
	Rules       []ruleDoc `yaml:"rules"`
	CreatedAt   time.Time `yaml:"created_at,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at,omitempty"`
}

type ruleDoc struct {
	ID          string    `yaml:"id,omitempty"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Priority    int       `yaml:"priority,omitempty"`
	Actions     []string  `yaml:"actions,flow"`
	Schema      string    `yaml:"schema,omitempty"`
	Table       string    `yaml:"table,omitempty"`
	Condition   string    `yaml:"condition,omitempty"`
	Effect      string    `yaml:"effect"`
	CreatedAt   time.Time `yaml:"created_at,omitempty"`
}

// Decode reads a rules file. Unknown keys are rejected. Policies without an
// explicit enabled flag are enabled.
func Decode(r io.Reader) ([]policy.Policy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rules file: %w", err)
	}
	if doc.Version != "" && doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported rules file version %q", doc.Version)
	}

	policies := make([]policy.Policy, 0, len(doc.Policies))
	for i, pd := range doc.Policies {
		if pd.Name == "" {
			return nil, fmt.Errorf("policy %d: name is required", i)
		}
		p := policy.Policy{
			ID:          pd.ID,
			Name:        pd.Name,
			Description: pd.Description,
			Priority:    pd.Priority,
			Enabled:     pd.Enabled == nil || *pd.Enabled,
			CreatedAt:   pd.CreatedAt,
			UpdatedAt:   pd.UpdatedAt,
		}
		for j, rd := range pd.Rules {
			effect := policy.Effect(rd.Effect)
			if !effect.Valid() {
				return nil, fmt.Errorf("policy %q rule %d: invalid effect %q", pd.Name, j, rd.Effect)
			}
			p.Rules = append(p.Rules, policy.Rule{
				ID:          rd.ID,
				Name:        rd.Name,
				Description: rd.Description,
				Priority:    rd.Priority,
				Actions:     rd.Actions,
				Schema:      rd.Schema,
				Table:       rd.Table,
				Condition:   rd.Condition,
				Effect:      effect,
				CreatedAt:   rd.CreatedAt,
			})
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// Encode writes policies as a rules file.
func Encode(w io.Writer, policies []policy.Policy) error {
	doc := document{Version: documentVersion, Policies: make([]policyDoc, 0, len(policies))}
	for _, p := range policies {
		pd := policyDoc{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Priority:    p.Priority,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
		}
		if !p.Enabled {
			disabled := false
			pd.Enabled = &disabled
		}
		for _, r := range p.Rules {
			pd.Rules = append(pd.Rules, ruleDoc{
				ID:          r.ID,
				Name:        r.Name,
				Description: r.Description,
				Priority:    r.Priority,
				Actions:     r.Actions,
				Schema:      r.Schema,
				Table:       r.Table,
				Condition:   r.Condition,
				Effect:      string(r.Effect),
				CreatedAt:   r.CreatedAt,
			})
		}
		doc.Policies = append(doc.Policies, pd)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode rules file: %w", err)
	}
	return enc.Close()
}
