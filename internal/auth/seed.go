package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AdminSeed describes the bootstrap super-admin account.
type AdminSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Cost      int
}

// EnsureSuperAdmin creates a verified, active super-admin unless the email is
// already registered. It reports whether a principal was created.
func EnsureSuperAdmin(ctx context.Context, users UserStore, seed AdminSeed) (bool, error) {
	in := RegisterInput{Email: seed.Email, Password: seed.Password, FirstName: seed.FirstName, LastName: seed.LastName}
	in.normalize()
	if err := in.Validate(); err != nil {
		return false, err
	}
	if _, err := users.FindByEmail(ctx, in.Email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("lookup email: %w", err)
	}
	hash, err := HashPassword(in.Password, seed.Cost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	admin := &User{
		ID:            uuid.NewString(),
		Email:         in.Email,
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Role:          RoleSuperAdmin,
		Active:        true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := users.Create(ctx, admin); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return false, nil
		}
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
