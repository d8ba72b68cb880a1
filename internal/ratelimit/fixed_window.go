package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type window struct {
	start time.Time
	count int
}

// FixedWindow counts requests per (fingerprint, group) in fixed windows.
// The counter table is bounded; the least recently seen clients are evicted
// first, which only ever resets their count.
type FixedWindow struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows *lru.Cache[key, *window]
}

var _ Limiter = (*FixedWindow)(nil)

// NewFixedWindow builds a fixed-window limiter.
func NewFixedWindow(cfg Config, opts ...Option) (*FixedWindow, error) {
	cache, err := lru.New[key, *window](cfg.maxClients())
	if err != nil {
		return nil, fmt.Errorf("create window table: %w", err)
	}
	o := buildOptions(opts)
	return &FixedWindow{cfg: cfg, now: o.now, windows: cache}, nil
}

// Admit increments the caller's counter and rejects once the ceiling for the
// current window has been reached.
func (l *FixedWindow) Admit(_ context.Context, fingerprint, group string) error {
	pol := l.cfg.policy(group)
	k := key{fingerprint: fingerprint, group: group}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows.Get(k)
	if !ok || now.Sub(w.start) >= pol.Window {
		w = &window{start: now}
		l.windows.Add(k, w)
	}
	if w.count >= pol.MaxRequests {
		return &ThrottledError{Group: group, RetryAfter: w.start.Add(pol.Window).Sub(now)}
	}
	w.count++
	return nil
}

// Len reports how many (fingerprint, group) windows are tracked.
func (l *FixedWindow) Len() int {
	return l.windows.Len()
}
