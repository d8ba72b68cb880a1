package auth

import "time"

// User is a principal record in the credential store.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FirstName        string
	LastName         string
	Phone            string
	Role             Role
	Active           bool
	EmailVerified    bool
	OAuthProvider    string
	OAuthID          string
	TwoFactorEnabled bool
	TwoFactorSecret  string
	LastLoginAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// View returns the sanitized projection of u that may leave the auth boundary.
func (u *User) View() UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		OAuthProvider: u.OAuthProvider,
	}
}

// UserView never carries the password hash or the 2FA secret.
type UserView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Role          Role   `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
	OAuthProvider string `json:"oauthProvider"`
}

// TenantRole overrides a principal's global role inside one tenant.
type TenantRole struct {
	UserID    string
	TenantID  string
	Role      Role
	CreatedAt time.Time
}

// RefreshToken is a ledger record. TokenHash is the SHA-256 hex digest of the
// bearer value; the raw value is never stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// Valid reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Valid(now time.Time) bool {
	return !t.Revoked && !now.After(t.ExpiresAt)
}

// Principal is the authenticated identity attached to a request. Role is the
// snapshot carried by the access token.
type Principal struct {
	ID    string
	Email string
	Role  Role
}

// Session is the result of the token-issuance protocol.
type Session struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         UserView `json:"user"`
}
