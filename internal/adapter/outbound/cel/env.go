package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// NewPolicyEnvironment creates the CEL environment rule conditions compile
// against. Variables:
//   - user, roles: the acting identity
//   - catalog: the catalog the policy protects
//   - action, operation: action tokens (operation differs for rename sub-checks)
//   - schema, table: the resource name, empty for session property checks
//   - property: the session property name
//   - request_time: when the check was issued
//
// Functions: glob(pattern, s), has_role(roles, role).
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("user", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("catalog", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("schema", cel.StringType),
		cel.Variable("table", cel.StringType),
		cel.Variable("property", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		cel.Function("has_role",
			cel.Overload("has_role_list_string",
				[]*cel.Type{cel.ListType(cel.StringType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(rolesVal, roleVal ref.Val) ref.Val {
					role := roleVal.Value().(string)
					switch roles := rolesVal.Value().(type) {
					case []string:
						for _, r := range roles {
							if r == role {
								return types.Bool(true)
							}
						}
					case []ref.Val:
						for _, r := range roles {
							if s, ok := r.Value().(string); ok && s == role {
								return types.Bool(true)
							}
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation creates the CEL activation for req.
func BuildActivation(req policy.Request) map[string]any {
	roles := req.Roles
	if roles == nil {
		roles = []string{}
	}
	operation := req.Operation
	if !operation.Valid() {
		operation = req.Action
	}

	return map[string]any{
		"user":         req.User,
		"roles":        roles,
		"catalog":      req.Catalog,
		"action":       req.Action.String(),
		"operation":    operation.String(),
		"schema":       req.Resource.Schema,
		"table":        req.Resource.Table,
		"property":     req.Property,
		"request_time": req.RequestTime,
	}
}
