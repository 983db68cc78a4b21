package access

import "strings"

// Identity is the authenticated principal on whose behalf an operation runs.
// It is produced by the engine's authentication layer and passed by value into
// every check. Checks never modify it.
type Identity struct {
	// User is the principal name.
	User string
	// Roles are the roles granted to the principal, if the engine resolves any.
	// Rule-based policies can condition on them.
	Roles []string
}

// NewIdentity returns an Identity for user with a private copy of roles.
func NewIdentity(user string, roles ...string) Identity {
	id := Identity{User: user}
	if len(roles) > 0 {
		id.Roles = make([]string, len(roles))
		copy(id.Roles, roles)
	}
	return id
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i Identity) String() string {
	if len(i.Roles) == 0 {
		return i.User
	}
	return i.User + " [" + strings.Join(i.Roles, ",") + "]"
}
