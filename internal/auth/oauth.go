package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OAuthAssertion is an identity already verified by an external provider.
type OAuthAssertion struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"externalId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

func (a OAuthAssertion) validate() error {
	v := &ValidationError{}
	requireField(v, "provider", a.Provider)
	requireField(v, "externalId", a.ExternalID)
	checkEmail(v, a.Email)
	return v.orNil()
}

// LoginWithOAuth exchanges an external identity assertion for local tokens.
// The principal is matched by provider identity, then by email (linking the
// account), and is created password-less when neither matches.
func (m *SessionManager) LoginWithOAuth(ctx context.Context, a OAuthAssertion) (Session, error) {
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
	a.ExternalID = strings.TrimSpace(a.ExternalID)
	a.Email = strings.TrimSpace(a.Email)
	if err := a.validate(); err != nil {
		return Session{}, err
	}

	users := m.store.Users(ctx)
	user, err := users.FindByOAuth(ctx, a.Provider, a.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		user, err = m.linkOrCreate(ctx, users, a)
		if err != nil {
			return Session{}, err
		}
	default:
		return Session{}, fmt.Errorf("lookup oauth identity: %w", err)
	}
	if !user.Active {
		return Session{}, ErrAccountDeactivated
	}
	if err := m.recordLogin(ctx, users, user); err != nil {
		return Session{}, err
	}
	return m.issue(ctx, user)
}

func (m *SessionManager) linkOrCreate(ctx context.Context, users UserStore, a OAuthAssertion) (*User, error) {
	user, err := users.FindByEmail(ctx, a.Email)
	if err == nil {
		if err := users.LinkOAuth(ctx, user.ID, a.Provider, a.ExternalID); err != nil {
			return nil, fmt.Errorf("link oauth identity: %w", err)
		}
		user.OAuthProvider, user.OAuthID, user.EmailVerified = a.Provider, a.ExternalID, true
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	now := m.now().UTC()
	user = &User{
		ID:            uuid.NewString(),
		Email:         a.Email,
		FirstName:     strings.TrimSpace(a.FirstName),
		LastName:      strings.TrimSpace(a.LastName),
		Role:          RoleCustomer,
		Active:        true,
		EmailVerified: true,
		OAuthProvider: a.Provider,
		OAuthID:       a.ExternalID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create oauth user: %w", err)
	}
	return user, nil
}
