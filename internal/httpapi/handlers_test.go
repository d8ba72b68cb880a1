package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inshop.app/internal/auth"
	"inshop.app/internal/ratelimit"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	issuer, err := auth.NewIssuer(auth.WithAccessSecret("access-test"), auth.WithRefreshSecret("refresh-test"))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := auth.NewMemoryStore()
	sessions := auth.NewSessionManager(store, issuer, auth.WithBcryptCost(bcrypt.MinCost))
	api := New(sessions, auth.NewResolver(store), "test", opts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: store, t: t}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) register(email string) auth.Session {
	c.t.Helper()
	resp := c.post("/auth/register", map[string]any{"email": email, "password": "correct-horse", "firstName": "Ada"}, nil)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		c.t.Fatalf("register: unexpected status %d", resp.StatusCode)
	}
	return decode[auth.Session](c.t, resp)
}

func (c *apiClient) seedAdmin(email string) auth.Session {
	c.t.Helper()
	ctx := context.Background()
	if _, err := auth.EnsureSuperAdmin(ctx, c.store.Users(ctx), auth.AdminSeed{Email: email, Password: "admin-password", Cost: bcrypt.MinCost}); err != nil {
		c.t.Fatalf("EnsureSuperAdmin: %v", err)
	}
	resp := c.post("/auth/login", map[string]any{"email": email, "password": "admin-password"}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.t.Fatalf("admin login: unexpected status %d", resp.StatusCode)
	}
	return decode[auth.Session](c.t, resp)
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, code int) ErrorBody {
	t.Helper()
	if resp.StatusCode != code {
		resp.Body.Close()
		t.Fatalf("expected %d, got %d", code, resp.StatusCode)
	}
	body := decode[ErrorBody](t, resp)
	if body.StatusCode != code || body.Error != http.StatusText(code) || body.Message == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}
	return body
}

func TestRegisterLoginAndMe(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/auth/register", map[string]any{
		"email":     "ada@example.com",
		"password":  "correct-horse",
		"firstName": "Ada",
		"lastName":  "Lovelace",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	raw := decode[map[string]any](t, resp)
	if raw["accessToken"] == "" || raw["refreshToken"] == "" {
		t.Fatalf("missing tokens: %v", raw)
	}
	user, ok := raw["user"].(map[string]any)
	if !ok {
		t.Fatalf("missing user view: %v", raw)
	}
	if user["role"] != "customer" || user["email"] != "ada@example.com" {
		t.Fatalf("unexpected user view: %v", user)
	}
	for _, secret := range []string{"passwordHash", "password", "twoFactorSecret", "PasswordHash"} {
		if _, leaked := user[secret]; leaked {
			t.Fatalf("user view leaks %s", secret)
		}
	}

	resp = api.post("/auth/login", map[string]any{"email": "ada@example.com", "password": "correct-horse"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: unexpected status %d", resp.StatusCode)
	}
	session := decode[auth.Session](t, resp)

	resp = api.do(http.MethodGet, "/auth/me", nil, bearerHeader(session.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: unexpected status %d", resp.StatusCode)
	}
	me := decode[map[string]any](t, resp)
	for _, key := range []string{"id", "email", "firstName", "lastName", "role", "emailVerified", "oauthProvider"} {
		if _, ok := me[key]; !ok {
			t.Fatalf("me: missing %q in %v", key, me)
		}
	}
	if me["lastName"] != "Lovelace" {
		t.Fatalf("me: unexpected lastName %v", me["lastName"])
	}
}

func TestRegisterErrors(t *testing.T) {
	api := newTestAPI(t)
	api.register("dup@example.com")

	resp := api.post("/auth/register", map[string]any{"email": "dup@example.com", "password": "another-one"}, nil)
	expectError(t, resp, http.StatusConflict)

	resp = api.post("/auth/register", map[string]any{"email": "nope", "password": "short"}, nil)
	body := expectError(t, resp, http.StatusBadRequest)
	if len(body.Details) != 2 {
		t.Fatalf("expected field details for email and password, got %+v", body.Details)
	}

	resp = api.post("/auth/register", map[string]any{"email": "x@example.com", "password": "12345678", "admin": true}, nil)
	expectError(t, resp, http.StatusBadRequest)
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	api := newTestAPI(t)
	api.register("ada@example.com")

	wrong := expectError(t, api.post("/auth/login", map[string]any{"email": "ada@example.com", "password": "wrong-horse"}, nil), http.StatusUnauthorized)
	unknown := expectError(t, api.post("/auth/login", map[string]any{"email": "ghost@example.com", "password": "correct-horse"}, nil), http.StatusUnauthorized)
	if wrong.Message != unknown.Message {
		t.Fatalf("messages differ: %q vs %q", wrong.Message, unknown.Message)
	}
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	first := api.register("ada@example.com")

	resp := api.post("/auth/refresh", map[string]any{"refreshToken": first.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: unexpected status %d", resp.StatusCode)
	}
	second := decode[auth.Session](t, resp)
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}

	expectError(t, api.post("/auth/refresh", map[string]any{"refreshToken": first.RefreshToken}, nil), http.StatusUnauthorized)
	expectError(t, api.post("/auth/refresh", map[string]any{"refreshToken": "bogus"}, nil), http.StatusUnauthorized)
}

func TestLogoutIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	s := api.register("ada@example.com")

	for i := 0; i < 2; i++ {
		resp := api.post("/auth/logout", map[string]any{"refreshToken": s.RefreshToken}, bearerHeader(s.AccessToken))
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("logout %d: expected 204, got %d", i+1, resp.StatusCode)
		}
	}
	resp := api.post("/auth/logout", nil, bearerHeader(s.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout without body: expected 204, got %d", resp.StatusCode)
	}

	expectError(t, api.post("/auth/refresh", map[string]any{"refreshToken": s.RefreshToken}, nil), http.StatusUnauthorized)
	expectError(t, api.post("/auth/logout", map[string]any{"refreshToken": s.RefreshToken}, nil), http.StatusUnauthorized)
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	api := newTestAPI(t)
	s := api.register("ada@example.com")

	cases := map[string]map[string]string{
		"missing":       nil,
		"wrong scheme":  {"Authorization": "Basic abc"},
		"garbage":       bearerHeader("not-a-jwt"),
		"refresh token": bearerHeader(s.RefreshToken),
	}
	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			resp := api.do(http.MethodGet, "/auth/me", nil, headers)
			if resp.Header.Get("WWW-Authenticate") == "" {
				t.Fatalf("expected WWW-Authenticate header")
			}
			expectError(t, resp, http.StatusUnauthorized)
		})
	}
}

func TestUpdateRoleRequiresSuperAdmin(t *testing.T) {
	api := newTestAPI(t)
	customer := api.register("ada@example.com")
	target := api.register("bob@example.com")
	admin := api.seedAdmin("root@example.com")

	path := "/users/" + target.User.ID + "/role"
	expectError(t, api.do(http.MethodPatch, path, map[string]any{"role": "tenant_admin"}, bearerHeader(customer.AccessToken)), http.StatusForbidden)

	resp := api.do(http.MethodPatch, path, map[string]any{"role": "tenant_admin"}, bearerHeader(admin.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin update: unexpected status %d", resp.StatusCode)
	}
	view := decode[auth.UserView](t, resp)
	if view.ID != target.User.ID || view.Role != auth.RoleTenantAdmin {
		t.Fatalf("unexpected view: %+v", view)
	}

	expectError(t, api.do(http.MethodPatch, path, map[string]any{"role": "root"}, bearerHeader(admin.AccessToken)), http.StatusBadRequest)
	expectError(t, api.do(http.MethodPatch, "/users/missing/role", map[string]any{"role": "guest"}, bearerHeader(admin.AccessToken)), http.StatusNotFound)
}

func TestUpdateRoleHonoursTenantOverride(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	caller := api.register("ada@example.com")
	target := api.register("bob@example.com")
	if err := api.store.TenantRoles(ctx).Upsert(ctx, auth.TenantRole{UserID: caller.User.ID, TenantID: "shop-1", Role: auth.RoleSuperAdmin}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	path := "/users/" + target.User.ID + "/role"
	headers := bearerHeader(caller.AccessToken)
	headers[HeaderTenantID] = "shop-1"
	resp := api.do(http.MethodPatch, path, map[string]any{"role": "tenant_manager", "tenantId": "shop-1"}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected tenant super_admin to be allowed, got %d", resp.StatusCode)
	}
	role, err := api.store.TenantRoles(ctx).Find(ctx, target.User.ID, "shop-1")
	if err != nil || role != auth.RoleTenantManager {
		t.Fatalf("override not stored: role=%s err=%v", role, err)
	}

	// Authorized for shop-1 but targeting shop-2.
	resp = api.do(http.MethodPatch, path, map[string]any{"role": "guest", "tenantId": "shop-2"}, headers)
	expectError(t, resp, http.StatusForbidden)

	// No tenant context: global role is customer.
	resp = api.do(http.MethodPatch, path, map[string]any{"role": "guest"}, bearerHeader(caller.AccessToken))
	expectError(t, resp, http.StatusForbidden)
	if _, err := api.store.TenantRoles(ctx).Find(ctx, target.User.ID, "shop-2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("forbidden request must not write, got %v", err)
	}
}

func TestOAuthExchange(t *testing.T) {
	api := newTestAPI(t)
	resp := api.post("/auth/oauth/exchange", map[string]any{
		"provider": "google", "externalId": "g-1", "email": "g@example.com", "firstName": "G",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	s := decode[auth.Session](t, resp)
	if s.User.OAuthProvider != "google" || !s.User.EmailVerified {
		t.Fatalf("unexpected user: %+v", s.User)
	}
	expectError(t, api.post("/auth/login", map[string]any{"email": "g@example.com", "password": "whatever1"}, nil), http.StatusUnauthorized)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	limiter, err := ratelimit.NewFixedWindow(ratelimit.Config{Default: ratelimit.Policy{Window: time.Minute, MaxRequests: 2}})
	if err != nil {
		t.Fatalf("NewFixedWindow: %v", err)
	}
	api := newTestAPI(t, WithLimiter(limiter))

	for i := 0; i < 2; i++ {
		resp := api.post("/auth/login", map[string]any{"email": "a@example.com", "password": "12345678"}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	resp := api.post("/auth/login", map[string]any{"email": "a@example.com", "password": "12345678"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}

	health := api.do(http.MethodGet, "/healthz", nil, nil)
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health must not be limited, got %d", health.StatusCode)
	}
}

func TestRateLimitKeysOnForwardedClient(t *testing.T) {
	limiter, err := ratelimit.NewFixedWindow(ratelimit.Config{Default: ratelimit.Policy{Window: time.Minute, MaxRequests: 3}})
	if err != nil {
		t.Fatalf("NewFixedWindow: %v", err)
	}
	proxies, err := ratelimit.ParseProxies([]string{"127.0.0.1", "::1"})
	if err != nil {
		t.Fatalf("ParseProxies: %v", err)
	}
	api := newTestAPI(t, WithLimiter(limiter), WithTrustedProxies(proxies))
	login := map[string]any{"email": "a@example.com", "password": "12345678"}

	for i := 1; i <= 5; i++ {
		resp := api.post("/auth/login", login, map[string]string{
			"User-Agent":      "shared-agent",
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i),
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("client %d: expected 401, got %d", i, resp.StatusCode)
		}
	}

	same := map[string]string{"User-Agent": "shared-agent", "X-Forwarded-For": "198.51.100.1"}
	for i := 0; i < 2; i++ {
		resp := api.post("/auth/login", login, same)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("repeat %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	resp := api.post("/auth/login", login, same)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once one client exceeds its window, got %d", resp.StatusCode)
	}
}

func TestRootReadyAndNotFound(t *testing.T) {
	api := newTestAPI(t, WithReadiness(stubReadiness{err: errors.New("db down")}))

	resp := api.do(http.MethodGet, "/", nil, nil)
	if resp.Header.Get(HeaderResponseTime) == "" {
		t.Fatalf("expected %s header", HeaderResponseTime)
	}
	root := decode[map[string]any](t, resp)
	if root["status"] != "ok" {
		t.Fatalf("unexpected root body: %v", root)
	}

	resp = api.do(http.MethodGet, "/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from readyz, got %d", resp.StatusCode)
	}

	expectError(t, api.do(http.MethodGet, "/nope", nil, nil), http.StatusNotFound)
}

type stubReadiness struct {
	err error
}

func (s stubReadiness) Check(context.Context) error { return s.err }
