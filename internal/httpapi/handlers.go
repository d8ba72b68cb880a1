package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"inshop.app/internal/auth"
	"inshop.app/internal/obs"
	"inshop.app/internal/ratelimit"
)

const serviceName = "auth-service"

// ReadyProbe checks readiness, e.g. a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP surface of the auth backend.
type API struct {
	sessions    *auth.SessionManager
	resolver    *auth.Resolver
	limiter     ratelimit.Limiter
	proxies     ratelimit.Proxies
	readyProbe  readinessChecker
	version     string
	corsOrigins []string
	maxBody     int64
}

// Option configures the API.
type Option func(*API)

// WithLimiter applies the limiter to every route that names a rate-limit group.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(a *API) { a.limiter = l }
}

// WithTrustedProxies attributes requests arriving from proxies to the client
// they forward for when keying the limiter.
func WithTrustedProxies(p ratelimit.Proxies) Option {
	return func(a *API) { a.proxies = p }
}

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithReadiness overrides the readiness check.
func WithReadiness(rc readinessChecker) Option {
	return func(a *API) {
		if rc != nil {
			a.readyProbe = rc
		}
	}
}

// New wires the session manager and role resolver into an HTTP API.
func New(sessions *auth.SessionManager, resolver *auth.Resolver, version string, opts ...Option) *API {
	a := &API{
		sessions:   sessions,
		resolver:   resolver,
		readyProbe: ReadyProbe{},
		version:    version,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Route is one endpoint together with its pipeline:
// rate limit (Group) -> token verification (Authenticated) -> role check (Roles) -> Handler.
type Route struct {
	Method        string
	Pattern       string
	Group         string
	Authenticated bool
	Roles         auth.RoleSet
	Handler       http.HandlerFunc
}

// Routes lists every endpoint served by the API.
func (a *API) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Pattern: "/", Handler: a.Root},
		{Method: http.MethodGet, Pattern: "/healthz", Handler: a.Healthz},
		{Method: http.MethodGet, Pattern: "/readyz", Handler: a.Ready},

		{Method: http.MethodPost, Pattern: "/auth/register", Group: "auth", Handler: a.handleRegister},
		{Method: http.MethodPost, Pattern: "/auth/login", Group: "auth", Handler: a.handleLogin},
		{Method: http.MethodPost, Pattern: "/auth/refresh", Group: "auth", Handler: a.handleRefresh},
		{Method: http.MethodPost, Pattern: "/auth/oauth/exchange", Group: "auth", Handler: a.handleOAuthExchange},
		{Method: http.MethodPost, Pattern: "/auth/logout", Group: "auth", Authenticated: true, Handler: a.handleLogout},
		{Method: http.MethodGet, Pattern: "/auth/me", Authenticated: true, Handler: a.handleMe},

		{Method: http.MethodPatch, Pattern: "/users/{id}/role", Group: "users", Authenticated: true,
			Roles: roleManagers, Handler: a.handleUpdateRole},
	}
}

func (a *API) pipeline(rt Route) http.Handler {
	var h http.Handler = rt.Handler
	if rt.Roles != 0 {
		h = RequireRoles(a.resolver, rt.Roles)(h)
	}
	if rt.Authenticated || rt.Roles != 0 {
		h = Authenticate(a.sessions)(h)
	}
	if rt.Group != "" && a.limiter != nil {
		h = ratelimit.Middleware(a.limiter, rt.Group, ratelimit.WithKey(a.proxies.Fingerprint))(h)
	}
	return h
}

// Handler returns the fully wrapped router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Logging, ResponseTime, SecurityHeaders, CORS(a.corsOrigins), obs.Instrument, MaxBodyBytes(a.maxBody))

	r.Method(http.MethodGet, "/metrics", obs.Handler())
	for _, rt := range a.Routes() {
		r.Method(rt.Method, rt.Pattern, a.pipeline(rt))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- Handlers ---

func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
