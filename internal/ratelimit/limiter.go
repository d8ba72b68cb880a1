package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 100
	DefaultMaxClients  = 100000

	// Message and ErrorLabel form the fixed 429 body.
	Message    = "Too many requests. Please try again later."
	ErrorLabel = "Rate Limit Exceeded"
)

// ErrThrottled matches every *ThrottledError.
var ErrThrottled = errors.New("ratelimit: too many requests")

// ThrottledError is the structured rejection returned by Admit.
type ThrottledError struct {
	Group      string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: group %q throttled, retry after %s", e.Group, e.RetryAfter)
}

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

// StatusCode is the HTTP status a rejection maps to.
func (e *ThrottledError) StatusCode() int { return 429 }

// Limiter is an admission gate keyed by (fingerprint, group). Implementations
// must be safe for concurrent use.
type Limiter interface {
	Admit(ctx context.Context, fingerprint, group string) error
}

// Policy is the window length and request ceiling for one route group.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultPolicy is 100 requests per 60 seconds.
func DefaultPolicy() Policy {
	return Policy{Window: DefaultWindow, MaxRequests: DefaultMaxRequests}
}

func (p Policy) normalize() Policy {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.MaxRequests <= 0 {
		p.MaxRequests = DefaultMaxRequests
	}
	return p
}

// Config selects the policy per route group. Groups without an override use Default.
type Config struct {
	Default    Policy
	Groups     map[string]Policy
	MaxClients int
}

func (c Config) policy(group string) Policy {
	if p, ok := c.Groups[group]; ok {
		return p.normalize()
	}
	return c.Default.normalize()
}

func (c Config) maxClients() int {
	if c.MaxClients <= 0 {
		return DefaultMaxClients
	}
	return c.MaxClients
}

// Option configures limiter behavior.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type key struct {
	fingerprint string
	group       string
}

// New returns the limiter for strategy: "fixed_window" (default) or "token_bucket".
func New(strategy string, cfg Config, opts ...Option) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", "fixed_window":
		return NewFixedWindow(cfg, opts...)
	case "token_bucket":
		return NewTokenBucket(cfg, opts...)
	default:
		return nil, fmt.Errorf("ratelimit: unknown strategy %q", strategy)
	}
}
