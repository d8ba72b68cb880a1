package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock *testClock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(
		WithAccessSecret("access-secret"),
		WithRefreshSecret("refresh-secret"),
		WithIssuerClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

func TestNewIssuerRequiresDistinctSecrets(t *testing.T) {
	if _, err := NewIssuer(WithAccessSecret("only-access")); err == nil {
		t.Fatalf("expected error when refresh secret is missing")
	}
	if _, err := NewIssuer(WithAccessSecret("same"), WithRefreshSecret("same")); err == nil {
		t.Fatalf("expected error when secrets are equal")
	}
	if _, err := NewIssuer(WithAccessSecret(" "), WithRefreshSecret("x")); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

func TestIssuerRoundTrip(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)
	p := Principal{ID: "user-1", Email: "ada@example.com", Role: RoleTenantManager}

	for _, kind := range []TokenKind{KindAccess, KindRefresh} {
		token, exp, err := issuer.Issue(p, kind)
		if err != nil {
			t.Fatalf("Issue(%s): %v", kind, err)
		}
		if want := clock.Now().Add(issuer.TTL(kind)); !exp.Equal(want) {
			t.Fatalf("%s expiry: want %v, got %v", kind, want, exp)
		}
		claims, err := issuer.Verify(kind, token)
		if err != nil {
			t.Fatalf("Verify(%s): %v", kind, err)
		}
		if claims.Subject != p.ID || claims.Email != p.Email || claims.Role != p.Role {
			t.Fatalf("unexpected claims: %+v", claims)
		}
		if claims.TokenType != kind.String() || claims.Issuer != "inshop-auth" {
			t.Fatalf("unexpected token type or issuer: %+v", claims)
		}
	}
}

func TestIssuerDefaultLifetimes(t *testing.T) {
	issuer := newTestIssuer(t, newTestClock())
	if got := issuer.TTL(KindAccess); got != 15*time.Minute {
		t.Fatalf("access ttl: %v", got)
	}
	if got := issuer.TTL(KindRefresh); got != 7*24*time.Hour {
		t.Fatalf("refresh ttl: %v", got)
	}
}

func TestIssuerTokensAreUnique(t *testing.T) {
	issuer := newTestIssuer(t, newTestClock())
	p := Principal{ID: "user-1", Email: "ada@example.com", Role: RoleCustomer}
	a, _, err := issuer.Issue(p, KindRefresh)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, _, err := issuer.Issue(p, KindRefresh)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if a == b {
		t.Fatalf("tokens issued in the same second must differ")
	}
}

func TestIssuerVerifyFailureReasons(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)
	p := Principal{ID: "user-1", Email: "ada@example.com", Role: RoleCustomer}
	access, _, err := issuer.Issue(p, KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	refresh, _, err := issuer.Issue(p, KindRefresh)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(access, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.MapClaims{
		"sub": "user-1", "role": "customer", "token_type": "access", "iss": "inshop-auth",
		"exp": clock.Now().Add(time.Hour).Unix(), "iat": clock.Now().Unix(),
	}).SignedString([]byte("access-secret"))
	if err != nil {
		t.Fatalf("sign hs384: %v", err)
	}

	wrongType, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:      RoleCustomer,
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "inshop-auth",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("access-secret"))
	if err != nil {
		t.Fatalf("sign wrong type: %v", err)
	}

	cases := []struct {
		name  string
		kind  TokenKind
		token string
		want  TokenReason
	}{
		{"garbage", KindAccess, "not-a-token", ReasonMalformed},
		{"empty", KindAccess, "", ReasonMalformed},
		{"tampered signature", KindAccess, tampered, ReasonInvalidSignature},
		{"refresh as access", KindAccess, refresh, ReasonInvalidSignature},
		{"access as refresh", KindRefresh, access, ReasonInvalidSignature},
		{"unexpected algorithm", KindAccess, hs384, ReasonInvalidSignature},
		{"token type mismatch", KindAccess, wrongType, ReasonMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := issuer.Verify(tc.kind, tc.token)
			var terr *TokenError
			if !errors.As(err, &terr) {
				t.Fatalf("expected *TokenError, got %v", err)
			}
			if terr.Reason != tc.want {
				t.Fatalf("expected reason %s, got %s (%v)", tc.want, terr.Reason, err)
			}
			if !errors.Is(err, ErrTokenVerification) {
				t.Fatalf("expected error to match ErrTokenVerification")
			}
		})
	}
}

func TestIssuerVerifyExpired(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)
	token, _, err := issuer.Issue(Principal{ID: "user-1", Role: RoleGuest}, KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock.Advance(15*time.Minute + time.Second)
	_, err = issuer.Verify(KindAccess, token)
	var terr *TokenError
	if !errors.As(err, &terr) || terr.Reason != ReasonExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}
