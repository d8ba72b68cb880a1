package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"inshop.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// HeaderTenantID selects the tenant a request acts within.
	HeaderTenantID = "X-Tenant-ID"
)

// Authenticator turns a bearer access token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (auth.Principal, error)
}

// Authorizer checks a principal's resolved role against an allow-list.
type Authorizer interface {
	Authorize(ctx context.Context, p auth.Principal, tenantID string, allowed auth.RoleSet) (auth.Role, error)
}

// Authenticate rejects requests without a valid bearer access token before
// any handler logic runs, then attaches the principal and tenant to the context.
func Authenticate(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				writeUnauthorized(w, r, err.Error())
				return
			}
			principal, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenVerification) {
					writeUnauthorized(w, r, "invalid or expired token")
					return
				}
				writeAuthError(w, r, err)
				return
			}
			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			ctx = auth.ContextWithTenant(ctx, strings.TrimSpace(r.Header.Get(HeaderTenantID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles lets the request through only when the principal's role,
// resolved for the request tenant, is in allowed.
func RequireRoles(authz Authorizer, allowed auth.RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, r, "authentication required")
				return
			}
			if _, err := authz.Authorize(r.Context(), principal, auth.TenantFromContext(r.Context()), allowed); err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
