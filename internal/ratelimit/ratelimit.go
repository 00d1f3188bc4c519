// Package ratelimit implements the gateway's per-client fixed-window rate
// limit (spec.md §4.10): 60 requests/minute/client by default, shared across
// gateway replicas via internal/kv rather than per-process state.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh/mesh/internal/kv"
)

// Config controls the fixed window.
type Config struct {
	Limit  int           // requests allowed per window, default 60
	Window time.Duration // window size, default 1 minute
}

// DefaultConfig returns spec.md's default: 60 requests/minute.
func DefaultConfig() Config {
	return Config{Limit: 60, Window: time.Minute}
}

// Limiter implements a fixed-window counter per client key, backed by
// kv.Store.Incr: the first increment in a window sets the TTL, every
// subsequent increment in the same window reuses it, so the counter resets
// itself without a background sweep.
type Limiter struct {
	store  kv.Store
	cfg    Config
	prefix string
}

// New constructs a Limiter. A zero Config falls back to DefaultConfig.
func New(store kv.Store, cfg Config, keyPrefix string) *Limiter {
	if cfg.Limit == 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{store: store, cfg: cfg, prefix: keyPrefix}
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow increments the counter for clientKey and reports whether the request
// falls within the configured limit for the current window.
func (l *Limiter) Allow(ctx context.Context, clientKey string) (Result, error) {
	now := time.Now()
	windowStart := now.Truncate(l.cfg.Window)
	key := fmt.Sprintf("%s:%s:%d", l.prefix, clientKey, windowStart.Unix())

	count, err := l.store.Incr(ctx, key, l.cfg.Window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	remaining := l.cfg.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   int(count) <= l.cfg.Limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(l.cfg.Window),
	}, nil
}

// KeyForIP returns the rate limit key for a client IP address.
func KeyForIP(ip string) string {
	return "ip:" + ip
}

// KeyForAPIKey returns the rate limit key for an authenticated API key name.
func KeyForAPIKey(name string) string {
	return "apikey:" + name
}
