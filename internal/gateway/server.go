package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"inshop.app/internal/httpapi"
	"inshop.app/internal/obs"
	"inshop.app/internal/ratelimit"
)

const (
	serviceName = "API Gateway"
	// GlobalGroup is the rate-limit group for requests outside any route.
	GlobalGroup = "global"
)

// Gateway is the public HTTP surface: rate limiting, routing to backends and
// aggregated health.
type Gateway struct {
	table       *Table
	forwarder   *Forwarder
	health      *Aggregator
	limiter     ratelimit.Limiter
	proxies     ratelimit.Proxies
	prefix      string
	version     string
	corsOrigins []string

	routes map[string]http.Handler
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLimiter throttles every request through l before it is routed.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithTrustedProxies keys the limiter on the forwarded client address when a
// request arrives through one of p, e.g. a load balancer.
func WithTrustedProxies(p ratelimit.Proxies) Option {
	return func(g *Gateway) { g.proxies = p }
}

// WithPrefix sets the global path prefix, e.g. "/api".
func WithPrefix(p string) Option {
	return func(g *Gateway) { g.prefix = cleanPrefix(p) }
}

// WithCORSOrigins sets the browser origins allowed to call the gateway.
func WithCORSOrigins(origins []string) Option {
	return func(g *Gateway) { g.corsOrigins = origins }
}

// WithForwarder replaces the default forwarder.
func WithForwarder(f *Forwarder) Option {
	return func(g *Gateway) {
		if f != nil {
			g.forwarder = f
		}
	}
}

// WithAggregator replaces the default health aggregator.
func WithAggregator(a *Aggregator) Option {
	return func(g *Gateway) {
		if a != nil {
			g.health = a
		}
	}
}

// New builds a Gateway over table.
func New(table *Table, version string, opts ...Option) *Gateway {
	g := &Gateway{
		table:     table,
		forwarder: NewForwarder(DefaultBackendTimeout),
		health:    NewAggregator(table.Services, DefaultHealthTimeout, nil),
		prefix:    "/api",
		version:   version,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.routes = make(map[string]http.Handler, len(table.Routes))
	for _, rt := range table.Routes {
		g.routes[rt.Prefix] = g.throttle(rt.Group, http.HandlerFunc(g.forward))
	}
	return g
}

func (g *Gateway) throttle(group string, next http.Handler) http.Handler {
	if g.limiter == nil {
		return next
	}
	return ratelimit.Middleware(g.limiter, group, ratelimit.WithKey(g.proxies.Fingerprint))(next)
}

// Handler returns the fully wrapped router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httpapi.RequestID, httpapi.Logging, httpapi.ResponseTime, httpapi.CORS(g.corsOrigins), obs.Instrument)

	r.Method(http.MethodGet, "/metrics", obs.Handler())

	health := g.throttle(GlobalGroup, http.HandlerFunc(g.Health))
	services := g.throttle(GlobalGroup, http.HandlerFunc(g.ServicesHealth))
	r.Method(http.MethodGet, g.prefix+"/health", health)
	r.Method(http.MethodGet, g.prefix+"/health/services", services)
	if g.prefix != "" {
		r.Method(http.MethodGet, "/health", health)
		r.Method(http.MethodGet, "/health/services", services)
		r.Handle(g.prefix+"/*", http.HandlerFunc(g.route))
	}
	r.NotFound(g.route)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// route dispatches to the handler of the matching route table entry.
func (g *Gateway) route(w http.ResponseWriter, r *http.Request) {
	path, ok := StripPrefix(g.prefix, r.URL.EscapedPath())
	if ok {
		if rt, _, _, found := g.table.Resolve(path); found {
			g.routes[rt.Prefix].ServeHTTP(w, r)
			return
		}
	}
	g.throttle(GlobalGroup, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteError(w, r, http.StatusNotFound, "Cannot "+r.Method+" "+r.URL.Path)
	})).ServeHTTP(w, r)
}

// forward resolves on the escaped path so encoded separators inside a
// segment reach the backend unchanged.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request) {
	path, _ := StripPrefix(g.prefix, r.URL.EscapedPath())
	_, svc, target, ok := g.table.Resolve(path)
	if !ok {
		httpapi.WriteError(w, r, http.StatusNotFound, "Cannot "+r.Method+" "+r.URL.Path)
		return
	}
	g.forwarder.Forward(w, r, svc, target)
}

// Health reports gateway liveness.
func (g *Gateway) Health(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"service":   serviceName,
		"version":   g.version,
	})
}

// ServicesHealth reports the aggregated backend health. It answers 200 even
// when a backend is down; allServicesUp carries the verdict.
func (g *Gateway) ServicesHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, g.health.Check(r.Context()))
}
