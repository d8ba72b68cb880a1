// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"inshop.app/internal/ratelimit"
)

// Log controls the process logger.
type Log struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	Dev   bool   `env:"LOG_DEV"`
}

// RateLimit configures the per-client limiter.
type RateLimit struct {
	WindowMS    int    `env:"RATE_LIMIT_WINDOW_MS"    envDefault:"60000"`
	MaxRequests int    `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`
	Strategy    string `env:"RATE_LIMIT_STRATEGY"     envDefault:"fixed_window"`
	MaxClients  int    `env:"RATE_LIMIT_MAX_CLIENTS"  envDefault:"100000"`
}

// Limiter builds the configured limiter. groups overrides the policy of
// individual route groups; zero fields inherit the configured default.
func (c RateLimit) Limiter(groups map[string]ratelimit.Policy) (ratelimit.Limiter, error) {
	def := ratelimit.Policy{
		Window:      time.Duration(c.WindowMS) * time.Millisecond,
		MaxRequests: c.MaxRequests,
	}
	var overrides map[string]ratelimit.Policy
	if len(groups) > 0 {
		overrides = make(map[string]ratelimit.Policy, len(groups))
		for name, p := range groups {
			if p.Window <= 0 {
				p.Window = def.Window
			}
			if p.MaxRequests <= 0 {
				p.MaxRequests = def.MaxRequests
			}
			overrides[name] = p
		}
	}
	return ratelimit.New(c.Strategy, ratelimit.Config{
		Default:    def,
		Groups:     overrides,
		MaxClients: c.MaxClients,
	})
}

// Auth is the auth backend configuration.
type Auth struct {
	HTTPAddr       string        `env:"AUTH_HTTP_ADDR"         envDefault:":3333"`
	GRPCAddr       string        `env:"AUTH_GRPC_ADDR"         envDefault:":3334"`
	PGDSN          string        `env:"AUTH_PG_DSN"`
	AccessSecret   string        `env:"JWT_SECRET"`
	RefreshSecret  string        `env:"JWT_REFRESH_SECRET"`
	AccessTTL      time.Duration `env:"JWT_EXPIRES_IN"         envDefault:"15m"`
	RefreshTTL     time.Duration `env:"JWT_REFRESH_EXPIRES_IN" envDefault:"168h"`
	BcryptCost     int           `env:"AUTH_BCRYPT_COST"       envDefault:"10"`
	CORSOrigins    []string      `env:"CORS_ALLOWED_ORIGINS"   envSeparator:","`
	AdminEmail     string        `env:"AUTH_ADMIN_EMAIL"`
	AdminPassword  string        `env:"AUTH_ADMIN_PASSWORD"`
	ReadyInterval  time.Duration `env:"AUTH_READY_INTERVAL"    envDefault:"10s"`
	ShutdownPeriod time.Duration `env:"AUTH_SHUTDOWN_TIMEOUT"  envDefault:"10s"`
	// Peers allowed to report the client address in X-Forwarded-For. The
	// default covers a gateway on the same host.
	TrustedProxies []string      `env:"AUTH_TRUSTED_PROXIES"   envSeparator:"," envDefault:"127.0.0.1/32,::1/128"`

	Log       Log
	RateLimit RateLimit
}

// Gateway is the gateway configuration.
type Gateway struct {
	Addr           string        `env:"GATEWAY_ADDR"            envDefault:":3000"`
	Prefix         string        `env:"GATEWAY_PREFIX"          envDefault:"/api"`
	AuthURL        string        `env:"AUTH_SERVICE_URL"        envDefault:"http://localhost:3333"`
	AuthName       string        `env:"AUTH_SERVICE_NAME"       envDefault:"Auth Service"`
	RoutesFile     string        `env:"GATEWAY_ROUTES_FILE"`
	BackendTimeout time.Duration `env:"GATEWAY_BACKEND_TIMEOUT" envDefault:"15s"`
	HealthTimeout  time.Duration `env:"GATEWAY_HEALTH_TIMEOUT"  envDefault:"3s"`
	CORSOrigins    []string      `env:"CORS_ALLOWED_ORIGINS"    envSeparator:"," envDefault:"http://localhost:4200,http://localhost:4201"`
	ShutdownPeriod time.Duration `env:"GATEWAY_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	TrustedProxies []string      `env:"GATEWAY_TRUSTED_PROXIES"  envSeparator:","`

	Log       Log
	RateLimit RateLimit
}

// LoadDotEnv loads files (default ".env") into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// LoadAuth parses the auth backend configuration.
func LoadAuth() (Auth, error) {
	cfg, err := env.ParseAs[Auth]()
	if err != nil {
		return Auth{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return Auth{}, err
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c Auth) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AccessSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if strings.TrimSpace(c.RefreshSecret) == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET is required"))
	}
	if c.AccessSecret != "" && c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("AUTH_BCRYPT_COST %d out of range", c.BcryptCost))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("AUTH_ADMIN_EMAIL and AUTH_ADMIN_PASSWORD must be set together"))
	}
	errs = append(errs, c.RateLimit.validate())
	if _, err := ratelimit.ParseProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_TRUSTED_PROXIES: %w", err))
	}
	return errors.Join(errs...)
}

// Proxies returns the parsed AUTH_TRUSTED_PROXIES.
func (c Auth) Proxies() ratelimit.Proxies {
	p, _ := ratelimit.ParseProxies(c.TrustedProxies)
	return p
}

// LoadGateway parses the gateway configuration.
func LoadGateway() (Gateway, error) {
	cfg, err := env.ParseAs[Gateway]()
	if err != nil {
		return Gateway{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	if err := cfg.RateLimit.validate(); err != nil {
		return Gateway{}, err
	}
	if _, err := ratelimit.ParseProxies(cfg.TrustedProxies); err != nil {
		return Gateway{}, fmt.Errorf("GATEWAY_TRUSTED_PROXIES: %w", err)
	}
	return cfg, nil
}

// Proxies returns the parsed GATEWAY_TRUSTED_PROXIES.
func (c Gateway) Proxies() ratelimit.Proxies {
	p, _ := ratelimit.ParseProxies(c.TrustedProxies)
	return p
}

func (c RateLimit) validate() error {
	if c.WindowMS <= 0 || c.MaxRequests <= 0 {
		return errors.New("RATE_LIMIT_WINDOW_MS and RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	switch c.Strategy {
	case "", "fixed_window", "token_bucket":
		return nil
	default:
		return fmt.Errorf("unknown RATE_LIMIT_STRATEGY %q", c.Strategy)
	}
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
