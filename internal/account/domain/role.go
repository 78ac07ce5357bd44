package domain

import (
	"fmt"
	"strings"
)

// Role is closed; add a constant here and every switch over Role must handle it.
type Role string

const (
	RoleUser          Role = "user"
	RoleClientAdmin   Role = "client_admin"
	RoleBusinessAdmin Role = "business_admin"
)

var Roles = []Role{RoleUser, RoleClientAdmin, RoleBusinessAdmin}

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleClientAdmin:
		return RoleClientAdmin, nil
	case RoleBusinessAdmin:
		return RoleBusinessAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

func (r Role) IsAdmin() bool {
	switch r {
	case RoleClientAdmin, RoleBusinessAdmin:
		return true
	case RoleUser:
		return false
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }
