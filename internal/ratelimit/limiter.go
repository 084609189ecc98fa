// Package ratelimit implements per-retailer token buckets bounding request
// volume against each retailer's site.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shelfwatch/shelfwatch/internal/metrics"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// BucketConfig sets one retailer's request budget.
type BucketConfig struct {
	// RPS is the sustained refill rate in requests per second.
	RPS float64
	// Burst is the bucket capacity.
	Burst int
}

// Config holds the limiter registry configuration. Retailers without an
// explicit entry fall back to Default.
type Config struct {
	Default   BucketConfig
	Retailers map[string]BucketConfig
}

// Registry manages one token bucket per retailer code. It is constructed
// once at startup and shared by every executor; state is process-local and
// never persisted.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// New creates a Registry.
func New(cfg Config) *Registry {
	if cfg.Default.RPS <= 0 {
		cfg.Default.RPS = 1
	}
	if cfg.Default.Burst <= 0 {
		cfg.Default.Burst = 1
	}
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

// Acquire blocks until a token is available for the retailer or the timeout
// elapses. A timeout comes back as a transient rate_limit_timeout error so
// callers convert it into a retry instead of deadlocking the run.
func (r *Registry) Acquire(ctx context.Context, retailer string, timeout time.Duration) error {
	limiter := r.limiterFor(retailer)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := limiter.Wait(waitCtx)
	if waited := time.Since(start); err == nil && waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(retailer, waited)
	}
	if err != nil {
		// Distinguish caller cancellation from slot starvation.
		if ctx.Err() != nil {
			return tracker.NewError(tracker.ErrKindRateLimitTimeout, "rate limit wait canceled", ctx.Err())
		}
		return tracker.NewError(tracker.ErrKindRateLimitTimeout, "no slot for "+retailer+" within wait budget", err)
	}
	return nil
}

func (r *Registry) limiterFor(retailer string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[retailer]
	if !ok {
		bucket := r.cfg.Default
		if override, has := r.cfg.Retailers[retailer]; has {
			if override.RPS > 0 {
				bucket.RPS = override.RPS
			}
			if override.Burst > 0 {
				bucket.Burst = override.Burst
			}
		}
		limiter = rate.NewLimiter(rate.Limit(bucket.RPS), bucket.Burst)
		r.limiters[retailer] = limiter
	}
	return limiter
}
