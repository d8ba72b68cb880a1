package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inshop.app/internal/ratelimit"
)

func TestLoadAuthDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")

	cfg, err := LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if cfg.HTTPAddr != ":3333" || cfg.GRPCAddr != ":3334" {
		t.Fatalf("unexpected addrs: %q %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.AccessTTL != 15*time.Minute || cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected ttls: %s %s", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if cfg.BcryptCost != 10 || cfg.PGDSN != "" {
		t.Fatalf("unexpected store settings: %+v", cfg)
	}
	if cfg.RateLimit.WindowMS != 60000 || cfg.RateLimit.MaxRequests != 100 || cfg.Log.Level != "info" {
		t.Fatalf("unexpected nested defaults: %+v %+v", cfg.RateLimit, cfg.Log)
	}
}

func TestLoadAuthRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")

	_, err := LoadAuth()
	if err == nil {
		t.Fatalf("expected error without secrets")
	}
	for _, want := range []string{"JWT_SECRET", "JWT_REFRESH_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}

	t.Setenv("JWT_SECRET", "same")
	t.Setenv("JWT_REFRESH_SECRET", "same")
	if _, err := LoadAuth(); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected distinct-secret error, got %v", err)
	}
}

func TestLoadAuthOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
	t.Setenv("JWT_EXPIRES_IN", "5m")
	t.Setenv("AUTH_BCRYPT_COST", "12")
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("RATE_LIMIT_STRATEGY", "token_bucket")

	cfg, err := LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if cfg.AccessTTL != 5*time.Minute || cfg.BcryptCost != 12 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://a.test" || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %q", cfg.CORSOrigins)
	}
	if _, err := cfg.RateLimit.Limiter(nil); err != nil {
		t.Fatalf("Limiter: %v", err)
	}
}

func TestLoadAuthTrustedProxies(t *testing.T) {
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")

	cfg, err := LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if got := cfg.Proxies(); len(got) != 2 || got[0].String() != "127.0.0.1/32" {
		t.Fatalf("unexpected default proxies: %v", got)
	}

	t.Setenv("AUTH_TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
	if _, err := LoadAuth(); err == nil || !strings.Contains(err.Error(), "AUTH_TRUSTED_PROXIES") {
		t.Fatalf("expected proxy error, got %v", err)
	}
}

func TestRateLimitGroupOverridesInheritDefault(t *testing.T) {
	rl := RateLimit{WindowMS: 60000, MaxRequests: 100, Strategy: "fixed_window"}
	l, err := rl.Limiter(map[string]ratelimit.Policy{"auth": {MaxRequests: 1}})
	if err != nil {
		t.Fatalf("Limiter: %v", err)
	}
	ctx := context.Background()
	if err := l.Admit(ctx, "fp", "auth"); err != nil {
		t.Fatalf("first auth request: %v", err)
	}
	var throttled *ratelimit.ThrottledError
	if err := l.Admit(ctx, "fp", "auth"); !errors.As(err, &throttled) {
		t.Fatalf("expected throttling, got %v", err)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > time.Minute {
		t.Fatalf("override must inherit the 60s window, retry after %s", throttled.RetryAfter)
	}
	for i := 0; i < 5; i++ {
		if err := l.Admit(ctx, "fp", "users"); err != nil {
			t.Fatalf("users group must keep the default ceiling: %v", err)
		}
	}
}

func TestAuthValidateAdminPair(t *testing.T) {
	cfg := Auth{
		AccessSecret: "a", RefreshSecret: "b", BcryptCost: 10,
		AdminEmail: "root@example.com",
		RateLimit:  RateLimit{WindowMS: 1000, MaxRequests: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for admin email without password")
	}
	cfg.AdminPassword = "changeme1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadGatewayDefaults(t *testing.T) {
	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("LoadGateway: %v", err)
	}
	if cfg.Addr != ":3000" || cfg.Prefix != "/api" || cfg.AuthURL != "http://localhost:3333" || cfg.AuthName != "Auth Service" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BackendTimeout != 15*time.Second || cfg.HealthTimeout != 3*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:4200" {
		t.Fatalf("unexpected origins: %q", cfg.CORSOrigins)
	}
}

func TestLoadGatewayRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("RATE_LIMIT_STRATEGY", "sliding_log")
	if _, err := LoadGateway(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("GATEWAY_PREFIX=/v1\nGATEWAY_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("GATEWAY_ADDR", ":4000")
	t.Setenv("GATEWAY_PREFIX", "")
	os.Unsetenv("GATEWAY_PREFIX")

	LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := LoadGateway()
	if err != nil {
		t.Fatalf("LoadGateway: %v", err)
	}
	if cfg.Prefix != "/v1" || cfg.Addr != ":4000" {
		t.Fatalf("unexpected values: prefix=%q addr=%q", cfg.Prefix, cfg.Addr)
	}
}
