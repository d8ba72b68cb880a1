package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	TenantRoles(ctx context.Context) TenantRoleStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore is the credential store.
type UserStore interface {
	// Create fails with ErrDuplicateEmail when the email is taken.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByOAuth(ctx context.Context, provider, externalID string) (*User, error)
	// RecordLogin sets last_login_at to at only if it still equals prev.
	// It reports whether the update was applied.
	RecordLogin(ctx context.Context, id string, prev, at time.Time) (bool, error)
	UpdateRole(ctx context.Context, id string, role Role) (*User, error)
	LinkOAuth(ctx context.Context, id, provider, externalID string) error
}

// TenantRoleStore holds at most one override per (user, tenant).
type TenantRoleStore interface {
	Find(ctx context.Context, userID, tenantID string) (Role, error)
	Upsert(ctx context.Context, tr TenantRole) error
}

// RefreshTokenStore is the refresh token ledger, keyed by token digest.
type RefreshTokenStore interface {
	Insert(ctx context.Context, tok *RefreshToken) error
	FindByToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	FindByUserAndToken(ctx context.Context, userID, tokenHash string) (*RefreshToken, error)
	// Revoke marks the record revoked. It reports whether this call performed
	// the transition; revoking an already revoked record is not an error.
	Revoke(ctx context.Context, id string) (bool, error)
}
