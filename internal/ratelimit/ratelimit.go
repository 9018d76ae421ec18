// Package ratelimit implements fixed-window request limiting over the
// key-value store, keyed by (caller, device). Windows rely on the store's
// atomic increment with a trailing expiry set on the first increment.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"tracecut/internal/config"
	"tracecut/internal/store"
)

// Result describes one limiter decision
type Result struct {
	Allowed bool
	// Remaining is the request budget left in the current window.
	Remaining int
	// RetryAfter is how long the caller should wait once limited.
	RetryAfter time.Duration
}

// Limiter counts requests per (scope, caller, device) in fixed windows
type Limiter struct {
	store  store.Store
	window time.Duration
	limit  int
}

// New creates a limiter with the configured window and budget
func New(st store.Store, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		store:  st,
		window: cfg.Window,
		limit:  cfg.Limit,
	}
}

// Allow counts one request against the (scope, caller, device) window.
// A store failure is returned to the caller; limiting must not silently
// drop nor silently pass on backend errors.
func (l *Limiter) Allow(ctx context.Context, scope, caller, deviceID string) (Result, error) {
	key := store.RateKey(scope, caller, deviceID)

	count, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit increment: %w", err)
	}

	if count > int64(l.limit) {
		retryAfter, err := l.store.TTL(ctx, key)
		if err != nil || retryAfter <= 0 {
			retryAfter = l.window
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Result{Allowed: true, Remaining: l.limit - int(count)}, nil
}
