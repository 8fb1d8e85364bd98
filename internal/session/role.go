package session

import (
	"fmt"
	"strings"
)

// Role is one of the two fixed participant roles.
type Role string

const (
	Primary   Role = "primary"
	Secondary Role = "secondary"
)

// Roles lists both roles in roster order.
var Roles = []Role{Primary, Secondary}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == Primary || r == Secondary
}

// Opposite returns the other role. It panics on an invalid role.
func (r Role) Opposite() Role {
	switch r {
	case Primary:
		return Secondary
	case Secondary:
		return Primary
	default:
		panic(fmt.Sprintf("session: invalid role %q", string(r)))
	}
}

// ParseRole accepts the role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case Primary, Secondary:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be %q or %q", s, Primary, Secondary)
	}
}

