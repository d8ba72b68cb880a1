package ratelimit

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"inshop.app/internal/audit"
	"inshop.app/internal/obs"
)

// Fingerprint keys r on the direct peer address and the User-Agent header.
func Fingerprint(r *http.Request) string {
	return Proxies(nil).Fingerprint(r)
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	key func(*http.Request) string
}

// WithKey replaces Fingerprint as the client key of each request.
func WithKey(fn func(*http.Request) string) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.key = fn
		}
	}
}

type rejection struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// WriteThrottled writes the fixed 429 body and a Retry-After header.
func WriteThrottled(w http.ResponseWriter, e *ThrottledError) {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejection{
		StatusCode: http.StatusTooManyRequests,
		Message:    Message,
		Error:      ErrorLabel,
	})
}

// Middleware admits requests for group before calling next. Throttled
// requests never reach next. Limiter failures other than throttling are
// logged and the request is let through.
func Middleware(l Limiter, group string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{key: Fingerprint}
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := l.Admit(r.Context(), o.key(r), group)
			var throttled *ThrottledError
			switch {
			case err == nil:
			case errors.As(err, &throttled):
				obs.IncThrottled(group)
				_ = audit.LogEvent(r.Context(), "gateway.throttled", map[string]any{
					"group":  group,
					"path":   r.URL.Path,
					"method": r.Method,
				})
				WriteThrottled(w, throttled)
				return
			default:
				obs.Logger().Warn("rate limiter failure", zap.String("group", group), zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}
