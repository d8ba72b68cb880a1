package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resolver computes effective roles and enforces allow-list policies.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver returns a Resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// ResolveRole returns the tenant override for (p, tenantID) when one exists,
// otherwise p's global role.
func (r *Resolver) ResolveRole(ctx context.Context, p Principal, tenantID string) (Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return p.Role, nil
	}
	role, err := r.store.TenantRoles(ctx).Find(ctx, p.ID, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return p.Role, nil
		}
		return 0, fmt.Errorf("lookup tenant role: %w", err)
	}
	return role, nil
}

// Authorize allows p only when its resolved role is a member of allowed.
// There is no hierarchy: every permitted role must be enumerated.
func (r *Resolver) Authorize(ctx context.Context, p Principal, tenantID string, allowed RoleSet) (Role, error) {
	role, err := r.ResolveRole(ctx, p, tenantID)
	if err != nil {
		return 0, err
	}
	if !allowed.Has(role) {
		return role, ErrForbidden
	}
	return role, nil
}

// SetRole changes the global role of userID, or upserts its override for
// tenantID when one is given. It returns the updated principal view.
func (r *Resolver) SetRole(ctx context.Context, userID, tenantID string, role Role) (UserView, error) {
	if !role.Valid() {
		v := &ValidationError{}
		v.add("role", "role must be a valid role value")
		return UserView{}, v
	}
	users := r.store.Users(ctx)
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		user, err := users.UpdateRole(ctx, userID, role)
		if err != nil {
			return UserView{}, err
		}
		return user.View(), nil
	}
	user, err := users.Find(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	override := TenantRole{UserID: user.ID, TenantID: tenantID, Role: role, CreatedAt: r.now().UTC()}
	if err := r.store.TenantRoles(ctx).Upsert(ctx, override); err != nil {
		return UserView{}, fmt.Errorf("upsert tenant role: %w", err)
	}
	return user.View(), nil
}
