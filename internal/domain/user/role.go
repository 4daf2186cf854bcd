package user

import (
	"errors"
	"strings"
)

// Role is the tag a live connection carries once it announces itself.
// A fresh connection starts as RoleUnassigned.
type Role string

const (
	RoleUnassigned Role = ""
	RoleDriver     Role = "DRIVER"
	RoleMonitor    Role = "MONITOR"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole normalizes (uppercases+trims) and validates a role string.
// Accepts the spanish aliases used by the POS clients (chofer, monitor).
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DRIVER", "CHOFER":
		return RoleDriver, nil
	case "MONITOR", "ADMIN":
		return RoleMonitor, nil
	default:
		return RoleUnassigned, ErrInvalidRole
	}
}

// Valid reports whether role is an assigned role.
func (role Role) Valid() bool {
	switch role {
	case RoleDriver, RoleMonitor:
		return true
	default:
		return false
	}
}

func (role Role) String() string {
	if role == RoleUnassigned {
		return "UNASSIGNED"
	}
	return string(role)
}

func (role Role) IsDriver() bool  { return role == RoleDriver }
func (role Role) IsMonitor() bool { return role == RoleMonitor }
