package models

import "fmt"

// Role is a named permission bucket gating privileged operations.
type Role string

const (
	// RoleAdmin is the default-admin role. Admins administer every role,
	// including admin itself, and own the marketplace admin surface.
	RoleAdmin Role = "admin"

	// RoleMinter may mint parcels.
	RoleMinter Role = "minter"

	// RoleURIUpdater may rotate the metadata base URI.
	RoleURIUpdater Role = "uri-updater"
)

// ParseRole validates a raw role name.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleAdmin, RoleMinter, RoleURIUpdater:
		return Role(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}
