// Package ratelimit throttles outbound provider traffic so a large
// configuration does not hammer the free NWP and geocoding endpoints.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

// MemoryRateLimiter provides an in-memory sliding-window rate limiter keyed
// by upstream service identifier.
type MemoryRateLimiter struct {
	mu      sync.RWMutex
	targets map[string]*targetInfo
	logger  *zap.Logger
}

// targetInfo tracks request timestamps for a single upstream service.
type targetInfo struct {
	requests []time.Time
	mu       sync.Mutex
}

// NewMemoryRateLimiter creates a new in-memory rate limiter.
//
// Parameters:
//   - logger: Zap logger for rate limiter operations
//
// Returns:
//   - ports.RateLimiter: In-memory rate limiter implementation
func NewMemoryRateLimiter(logger *zap.Logger) ports.RateLimiter {
	rl := &MemoryRateLimiter{
		targets: make(map[string]*targetInfo),
		logger:  logger,
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a call to the given upstream is allowed under the limit.
//
// Parameters:
//   - ctx: Context for cancellation
//   - identifier: Upstream service identifier
//   - limit: Maximum calls allowed in window
//   - window: Time window for rate limiting
//
// Returns:
//   - bool: true if the call is allowed, false if the budget is spent
//   - error: Context cancellation only
func (rl *MemoryRateLimiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	now := time.Now()

	rl.mu.RLock()

	target, exists := rl.targets[identifier]

	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()

		if target, exists = rl.targets[identifier]; !exists {
			target = &targetInfo{
				requests: make([]time.Time, 0, limit),
			}

			rl.targets[identifier] = target
		}

		rl.mu.Unlock()
	}

	target.mu.Lock()

	defer target.mu.Unlock()

	cutoff := now.Add(-window)
	valid := target.requests[:0]

	for _, req := range target.requests {
		if req.After(cutoff) {
			valid = append(valid, req)
		}
	}

	target.requests = valid

	if len(target.requests) >= limit {
		rl.logger.Debug("outbound rate limit reached", zap.String("target", identifier))

		return false, nil
	}

	target.requests = append(target.requests, now)

	return true, nil
}

// Reset clears the call history for a given upstream.
func (rl *MemoryRateLimiter) Reset(ctx context.Context, identifier string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if target, exists := rl.targets[identifier]; exists {
		target.mu.Lock()
		target.requests = target.requests[:0]
		target.mu.Unlock()
	}

	return nil
}

// Wait blocks until Allow grants a slot for the identifier or the context is
// canceled. Used by outbound clients that prefer pacing over failing.
func Wait(ctx context.Context, rl ports.RateLimiter, identifier string, limit int, window time.Duration) error {
	for {
		ok, err := rl.Allow(ctx, identifier, limit, window)

		if err != nil {
			return err
		}

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// cleanup periodically removes idle targets from memory.
// Runs every 5 minutes to prevent growth from one-off identifiers.
func (rl *MemoryRateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()

		for identifier, target := range rl.targets {
			target.mu.Lock()

			if len(target.requests) == 0 {
				delete(rl.targets, identifier)
			}

			target.mu.Unlock()
		}

		rl.mu.Unlock()
	}
}
