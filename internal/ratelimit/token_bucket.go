package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// TokenBucket refills MaxRequests tokens per Window with a burst of
// MaxRequests, smoothing traffic instead of resetting at window edges.
type TokenBucket struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets *lru.Cache[key, *rate.Limiter]
}

var _ Limiter = (*TokenBucket)(nil)

// NewTokenBucket builds a token-bucket limiter.
func NewTokenBucket(cfg Config, opts ...Option) (*TokenBucket, error) {
	cache, err := lru.New[key, *rate.Limiter](cfg.maxClients())
	if err != nil {
		return nil, fmt.Errorf("create bucket table: %w", err)
	}
	o := buildOptions(opts)
	return &TokenBucket{cfg: cfg, now: o.now, buckets: cache}, nil
}

func (l *TokenBucket) bucket(k key) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets.Get(k); ok {
		return b
	}
	pol := l.cfg.policy(k.group)
	every := rate.Every(pol.Window / time.Duration(pol.MaxRequests))
	b := rate.NewLimiter(every, pol.MaxRequests)
	l.buckets.Add(k, b)
	return b
}

// Admit takes one token or reports how long until one is available.
func (l *TokenBucket) Admit(_ context.Context, fingerprint, group string) error {
	b := l.bucket(key{fingerprint: fingerprint, group: group})
	now := l.now()
	r := b.ReserveN(now, 1)
	if !r.OK() {
		return &ThrottledError{Group: group, RetryAfter: l.cfg.policy(group).Window}
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return &ThrottledError{Group: group, RetryAfter: d}
	}
	return nil
}
