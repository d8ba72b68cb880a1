package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles a principal can hold, globally or per tenant.
type Role uint8

const (
	roleUnknown Role = iota
	RoleSuperAdmin
	RoleTenantAdmin
	RoleTenantManager
	RoleTenantSupport
	RoleCustomer
	RoleGuest
)

var roleNames = [...]string{
	roleUnknown:       "",
	RoleSuperAdmin:    "super_admin",
	RoleTenantAdmin:   "tenant_admin",
	RoleTenantManager: "tenant_manager",
	RoleTenantSupport: "tenant_support",
	RoleCustomer:      "customer",
	RoleGuest:         "guest",
}

// AllRoles lists every valid role in declaration order.
func AllRoles() []Role {
	return []Role{RoleSuperAdmin, RoleTenantAdmin, RoleTenantManager, RoleTenantSupport, RoleCustomer, RoleGuest}
}

// ParseRole maps the wire name of a role to its value.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for _, r := range AllRoles() {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return roleUnknown, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	return r > roleUnknown && int(r) < len(roleNames)
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
	return roleNames[r]
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("auth: cannot marshal invalid role %d", uint8(r))
	}
	return []byte(roleNames[r]), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoleSet is an allow-list of roles. The zero value allows nothing.
type RoleSet uint16

// Roles builds an allow-list from an explicit enumeration of roles.
func Roles(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		if r.Valid() {
			s |= 1 << r
		}
	}
	return s
}

// Has reports whether r is explicitly allowed.
func (s RoleSet) Has(r Role) bool {
	return r.Valid() && s&(1<<r) != 0
}

// Members returns the allowed roles in declaration order.
func (s RoleSet) Members() []Role {
	var out []Role
	for _, r := range AllRoles() {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RoleSet) String() string {
	members := s.Members()
	names := make([]string, len(members))
	for i, r := range members {
		names[i] = r.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
