package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"inshop.app/internal/audit"
	"inshop.app/internal/obs"
)

const (
	// DefaultBackendTimeout bounds one forwarded call.
	DefaultBackendTimeout = 15 * time.Second

	defaultMaxBody = 10 << 20

	headerRequestID = "X-Request-ID"
	headerXFF       = "X-Forwarded-For"
)

// ErrBackendUnavailable means no response was received from the backend.
var ErrBackendUnavailable = errors.New("gateway: backend unavailable")

// connection-specific headers that the outbound transport regenerates.
var strippedRequestHeaders = []string{
	"Host", "Content-Length",
	"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade", "Te", "Trailer",
}

var strippedResponseHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade", "Trailer",
}

// UnavailableBody is the fixed body synthesized when a backend cannot be reached.
type UnavailableBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// Forwarder relays requests to backends. It makes exactly one attempt per
// request and never interprets backend status codes.
type Forwarder struct {
	client  *http.Client
	maxBody int64
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithTransport replaces the outbound round tripper.
func WithTransport(rt http.RoundTripper) ForwarderOption {
	return func(f *Forwarder) {
		if rt != nil {
			f.client.Transport = rt
		}
	}
}

// WithMaxBody caps the buffered request body.
func WithMaxBody(n int64) ForwarderOption {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// NewForwarder returns a Forwarder whose backend calls fail after timeout.
func NewForwarder(timeout time.Duration, opts ...ForwarderOption) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	f := &Forwarder{
		client: &http.Client{
			Timeout: timeout,
			// Redirects are relayed to the caller as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		maxBody: defaultMaxBody,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends r to svc at path (escaped form), keeping method, query, headers and body,
// and relays the backend's status, headers and body verbatim.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, svc Service, path string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, f.maxBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, UnavailableBody{
			StatusCode: http.StatusBadRequest, Message: "could not read request body", Error: http.StatusText(http.StatusBadRequest),
		})
		return
	}
	if int64(len(body)) > f.maxBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, UnavailableBody{
			StatusCode: http.StatusRequestEntityTooLarge, Message: "request body too large", Error: http.StatusText(http.StatusRequestEntityTooLarge),
		})
		return
	}

	start := time.Now()
	resp, err := f.roundTrip(r.Context(), r, svc, path, body)
	elapsed := time.Since(start)
	if err != nil {
		obs.ObserveUpstream(svc.Name, "unavailable", elapsed)
		obs.Logger().Warn("backend unavailable",
			zap.String("service", svc.Name),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		WriteUnavailable(w, svc.Name)
		return
	}
	defer resp.Body.Close()
	obs.ObserveUpstream(svc.Name, "ok", elapsed)

	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range strippedResponseHeaders {
		dst.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		obs.Logger().Warn("relay response body", zap.String("service", svc.Name), zap.Error(err))
	}
}

func (f *Forwarder) roundTrip(ctx context.Context, in *http.Request, svc Service, path string, body []byte) (*http.Response, error) {
	target, err := backendURL(svc.URL, path, in.URL.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrBackendUnavailable, err)
	}
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), rdr)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrBackendUnavailable, err)
	}
	out.Header = outboundHeaders(in)
	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return resp, nil
}

// backendURL appends the escaped path to base and sets the raw query. Escapes
// such as %2F, %3F and %23 survive into the outbound request line.
func backendURL(base, escapedPath, rawQuery string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	decoded, err := url.PathUnescape(escapedPath)
	if err != nil {
		return nil, err
	}
	rawBase := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + decoded
	u.RawPath = rawBase + escapedPath
	u.RawQuery = rawQuery
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// outboundHeaders copies every inbound header except the connection-specific
// ones, appends the client address to X-Forwarded-For and propagates the
// request id.
func outboundHeaders(in *http.Request) http.Header {
	h := in.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, name := range strippedRequestHeaders {
		h.Del(name)
	}
	if host, _, err := net.SplitHostPort(in.RemoteAddr); err == nil && host != "" {
		if prior := h.Get(headerXFF); prior != "" {
			host = prior + ", " + host
		}
		h.Set(headerXFF, host)
	}
	if rid := audit.RequestIDFromContext(in.Context()); rid != "" {
		h.Set(headerRequestID, rid)
	}
	return h
}

// WriteUnavailable synthesizes the 503 body for a backend named name.
func WriteUnavailable(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusServiceUnavailable, UnavailableBody{
		StatusCode: http.StatusServiceUnavailable,
		Message:    strings.TrimSpace(name) + " is unavailable",
		Error:      http.StatusText(http.StatusServiceUnavailable),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
