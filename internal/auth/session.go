package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"inshop.app/internal/ids"
)

// SessionManager owns the credential lifecycle: register, login, refresh
// (rotation-on-use) and logout.
type SessionManager struct {
	store      Store
	issuer     *Issuer
	now        func() time.Time
	bcryptCost int
}

// SessionOption configures SessionManager behavior.
type SessionOption func(*SessionManager)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) SessionOption {
	return func(m *SessionManager) {
		if cost > 0 {
			m.bcryptCost = cost
		}
	}
}

// NewSessionManager wires the session lifecycle to its store and token issuer.
func NewSessionManager(store Store, issuer *Issuer, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:      store,
		issuer:     issuer,
		now:        time.Now,
		bcryptCost: DefaultBcryptCost,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register creates a customer principal and issues its first session.
func (m *SessionManager) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return Session{}, err
	}
	users := m.store.Users(ctx)
	if _, err := users.FindByEmail(ctx, in.Email); err == nil {
		return Session{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := HashPassword(in.Password, m.bcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := m.now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         RoleCustomer,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return Session{}, ErrDuplicateEmail
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	return m.issue(ctx, user)
}

// Login verifies credentials. Unknown email, password-less account and wrong
// password all fail with ErrInvalidCredentials; deactivation is only reported
// once the password has been verified.
func (m *SessionManager) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	v := &ValidationError{}
	requireField(v, "email", email)
	requireField(v, "password", password)
	if err := v.orNil(); err != nil {
		return Session{}, err
	}

	users := m.store.Users(ctx)
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnCompare(password)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("lookup email: %w", err)
	}
	if user.PasswordHash == "" {
		burnCompare(password)
		return Session{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !user.Active {
		return Session{}, ErrAccountDeactivated
	}
	if err := m.recordLogin(ctx, users, user); err != nil {
		return Session{}, err
	}
	return m.issue(ctx, user)
}

// recordLogin stamps last-login with a compare-and-swap on the previous value,
// re-reading once if a concurrent login won the race.
func (m *SessionManager) recordLogin(ctx context.Context, users UserStore, user *User) error {
	now := m.now().UTC()
	prev := user.LastLoginAt
	for attempt := 0; attempt < 2; attempt++ {
		applied, err := users.RecordLogin(ctx, user.ID, prev, now)
		if err != nil {
			return fmt.Errorf("record login: %w", err)
		}
		if applied {
			user.LastLoginAt = now
			return nil
		}
		fresh, err := users.Find(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("reload user: %w", err)
		}
		prev = fresh.LastLoginAt
	}
	// A concurrent login advanced the timestamp twice; its value stands.
	return nil
}

// Refresh exchanges a refresh token exactly once for a new session.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	v := &ValidationError{}
	requireField(v, "refreshToken", refreshToken)
	if err := v.orNil(); err != nil {
		return Session{}, err
	}

	ledger := m.store.RefreshTokens(ctx)
	record, err := ledger.FindByToken(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !record.Valid(m.now()) {
		return Session{}, ErrExpiredOrRevokedToken
	}
	revoked, err := ledger.Revoke(ctx, record.ID)
	if err != nil {
		return Session{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		// Another request consumed the token between lookup and revoke.
		return Session{}, ErrExpiredOrRevokedToken
	}

	user, err := m.store.Users(ctx).Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return Session{}, ErrAccountDeactivated
	}
	return m.issue(ctx, user)
}

// Logout revokes the refresh token if it belongs to userID. Unknown, expired
// and already revoked tokens are not errors.
func (m *SessionManager) Logout(ctx context.Context, userID, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if userID == "" || refreshToken == "" {
		return nil
	}
	ledger := m.store.RefreshTokens(ctx)
	record, err := ledger.FindByUserAndToken(ctx, userID, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	if _, err := ledger.Revoke(ctx, record.ID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Authenticate verifies an access token and confirms the principal still
// exists and is active. The returned role is the token's snapshot.
func (m *SessionManager) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := m.issuer.Verify(KindAccess, accessToken)
	if err != nil {
		return Principal{}, err
	}
	user, err := m.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, fmt.Errorf("%w: unknown principal", ErrTokenVerification)
		}
		return Principal{}, fmt.Errorf("load principal: %w", err)
	}
	if !user.Active {
		return Principal{}, fmt.Errorf("%w: principal deactivated", ErrTokenVerification)
	}
	return Principal{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// Profile returns the sanitized view of a principal.
func (m *SessionManager) Profile(ctx context.Context, userID string) (UserView, error) {
	user, err := m.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return user.View(), nil
}

// issue runs the token-issuance protocol shared by every successful flow.
func (m *SessionManager) issue(ctx context.Context, user *User) (Session, error) {
	p := Principal{ID: user.ID, Email: user.Email, Role: user.Role}
	access, _, err := m.issuer.Issue(p, KindAccess)
	if err != nil {
		return Session{}, err
	}
	refresh, _, err := m.issuer.Issue(p, KindRefresh)
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	record := &RefreshToken{
		ID:        ids.NewAt(now),
		UserID:    user.ID,
		TokenHash: HashToken(refresh),
		ExpiresAt: now.Add(m.issuer.TTL(KindRefresh)),
		CreatedAt: now,
	}
	if err := m.store.RefreshTokens(ctx).Insert(ctx, record); err != nil {
		return Session{}, fmt.Errorf("store refresh token: %w", err)
	}
	return Session{AccessToken: access, RefreshToken: refresh, User: user.View()}, nil
}

// HashToken returns the ledger key for a refresh token value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
