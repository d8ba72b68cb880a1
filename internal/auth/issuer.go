package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "inshop-auth"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenKind selects the secret and lifetime used for a token.
type TokenKind uint8

const (
	KindAccess TokenKind = iota + 1
	KindRefresh
)

func (k TokenKind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Claims is the signed claim bundle carried by access and refresh tokens.
// Role is a snapshot taken at issuance.
type Claims struct {
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens with one secret per kind.
type Issuer struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer) error

// WithAccessSecret sets the signing secret for access tokens.
func WithAccessSecret(secret string) IssuerOption {
	return func(i *Issuer) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: access secret is empty")
		}
		i.accessSecret = []byte(secret)
		return nil
	}
}

// WithRefreshSecret sets the signing secret for refresh tokens.
func WithRefreshSecret(secret string) IssuerOption {
	return func(i *Issuer) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: refresh secret is empty")
		}
		i.refreshSecret = []byte(secret)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
		return nil
	}
}

// WithIssuerClock overrides the time source.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer builds an Issuer. Both secrets are required and must differ.
func NewIssuer(opts ...IssuerOption) (*Issuer, error) {
	i := &Issuer{
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if len(i.accessSecret) == 0 || len(i.refreshSecret) == 0 {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if string(i.accessSecret) == string(i.refreshSecret) {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	return i, nil
}

// TTL returns the configured lifetime for kind.
func (i *Issuer) TTL(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return i.refreshTTL
	}
	return i.accessTTL
}

// Issue signs a token of the given kind for the principal and returns it
// together with its expiry.
func (i *Issuer) Issue(p Principal, kind TokenKind) (string, time.Time, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, errors.New("auth: principal id is required")
	}
	secret, err := i.secret(kind)
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now().UTC()
	exp := now.Add(i.TTL(kind))
	claims := Claims{
		Email:     p.Email,
		Role:      p.Role,
		TokenType: kind.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and required claims. Failures are
// *TokenError values carrying the reason.
func (i *Issuer) Verify(kind TokenKind, token string) (*Claims, error) {
	secret, err := i.secret(kind)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &TokenError{Reason: ReasonMalformed}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(i.issuer),
	)
	claims := &Claims{}
	_, err = parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if claims.TokenType != kind.String() || strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return nil, &TokenError{Reason: ReasonMalformed, Err: errors.New("unexpected claims")}
	}
	return claims, nil
}

func (i *Issuer) secret(kind TokenKind) ([]byte, error) {
	switch kind {
	case KindAccess:
		return i.accessSecret, nil
	case KindRefresh:
		return i.refreshSecret, nil
	default:
		return nil, fmt.Errorf("auth: unknown token kind %d", kind)
	}
}

func classifyJWTError(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &TokenError{Reason: ReasonMalformed, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &TokenError{Reason: ReasonInvalidSignature, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Reason: ReasonExpired, Err: err}
	default:
		return &TokenError{Reason: ReasonMalformed, Err: err}
	}
}
